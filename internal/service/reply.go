package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"inboxlens/backend/internal/domain"
	"inboxlens/backend/internal/enrich"
)

// ReplyDrafter 起草回复，错误原样返回
type ReplyDrafter interface {
	DraftReply(ctx context.Context, req enrich.DraftRequest) (*domain.ReplyDraft, error)
}

// MailSender 发送外发邮件
type MailSender interface {
	Send(ctx context.Context, creds domain.Credentials, mail domain.OutgoingMail) error
}

// ContentChecker 发送前检查外发 HTML
type ContentChecker interface {
	CheckOutbound(html string) error
}

// ReplyService 起草与发送回复
type ReplyService struct {
	drafter ReplyDrafter
	sender  MailSender
	checker ContentChecker
	logger  *zap.Logger
}

// NewReplyService 创建回复服务
func NewReplyService(drafter ReplyDrafter, sender MailSender, logger *zap.Logger) *ReplyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplyService{
		drafter: drafter,
		sender:  sender,
		logger:  logger,
	}
}

// WithContentChecker 设置发送前的内容检查，nil 表示不检查
func (s *ReplyService) WithContentChecker(checker ContentChecker) *ReplyService {
	s.checker = checker
	return s
}

// Draft 校验请求后起草或修改回复
func (s *ReplyService) Draft(ctx context.Context, req domain.DraftReplyRequest) (*domain.ReplyDraft, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}

	draft, err := s.drafter.DraftReply(ctx, enrich.DraftRequest{
		Subject:          req.Subject,
		Body:             req.Body,
		Intent:           req.Intent,
		RefinementIntent: req.RefinementIntent,
		CurrentDraft:     req.CurrentDraft,
	})
	if err != nil {
		s.logger.Warn("Reply drafting failed", zap.Error(err))
		return nil, err
	}
	return draft, nil
}

// Send 校验请求后以登录账号的身份发送邮件
func (s *ReplyService) Send(ctx context.Context, creds domain.Credentials, req domain.SendReplyRequest) error {
	mail, err := req.Validate()
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}

	if s.checker != nil {
		if err := s.checker.CheckOutbound(mail.HTMLBody); err != nil {
			s.logger.Warn("Reply rejected by content check", zap.String("to", mail.To), zap.Error(err))
			return fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
		}
	}

	if err := s.sender.Send(ctx, creds, *mail); err != nil {
		return err
	}

	s.logger.Info("Reply sent", zap.String("to", mail.To))
	return nil
}
