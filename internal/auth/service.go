package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"inboxlens/backend/internal/auth/jwt"
	"inboxlens/backend/internal/domain"
)

// ErrInvalidCredentials 邮箱服务器拒绝了账号或密码
var ErrInvalidCredentials = errors.New("invalid credentials")

// CredentialVerifier 通过登录远端邮箱验证凭据
type CredentialVerifier interface {
	Verify(ctx context.Context, creds domain.Credentials) error
}

// TokenIssuer 签发与解析访问令牌
type TokenIssuer interface {
	Issue(creds domain.Credentials) (*jwt.Token, error)
	Credentials(token string) (domain.Credentials, error)
}

// Service 认证服务：服务端不保存账号，凭据加密后随令牌往返
type Service struct {
	verifier CredentialVerifier
	tokens   TokenIssuer
	logger   *zap.Logger
}

// NewService 创建认证服务
func NewService(verifier CredentialVerifier, tokens TokenIssuer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		verifier: verifier,
		tokens:   tokens,
		logger:   logger,
	}
}

// LoginResponse 登录响应
type LoginResponse struct {
	*jwt.Token
	Account string `json:"account"`
}

// Login 登录远端邮箱验证凭据，成功后签发令牌
func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (*LoginResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}

	creds := domain.Credentials{Account: req.Email, Secret: req.Password}
	if err := s.verifier.Verify(ctx, creds); err != nil {
		if domain.IsSessionKind(err, domain.SessionAuthFailed) {
			s.logger.Info("Mailbox login rejected", zap.String("account", creds.Account))
			return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		return nil, err
	}

	token, err := s.tokens.Issue(creds)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	s.logger.Info("Mailbox login succeeded", zap.String("account", creds.Account))
	return &LoginResponse{Token: token, Account: creds.Account}, nil
}

// Authenticate 解析令牌中的邮箱凭据
func (s *Service) Authenticate(token string) (domain.Credentials, error) {
	return s.tokens.Credentials(token)
}
