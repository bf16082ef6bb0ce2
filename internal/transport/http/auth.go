package httptransport

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inboxlens/backend/internal/auth"
	"inboxlens/backend/internal/domain"
)

// LoginService 校验邮箱凭据并签发令牌
type LoginService interface {
	Login(ctx context.Context, req domain.LoginRequest) (*auth.LoginResponse, error)
}

// AuthHandler 处理认证相关的 HTTP 请求
type AuthHandler struct {
	authService LoginService
	log         *zap.Logger
}

// NewAuthHandler 创建新的认证处理器实例
func NewAuthHandler(authService LoginService, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		log:         log,
	}
}

// Login 登录远端邮箱，成功后返回访问令牌
//
// POST /v1/auth/login {email, password}
func (h *AuthHandler) Login(c *gin.Context) {
	var req domain.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	resp, err := h.authService.Login(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	Success(c, resp)
}
