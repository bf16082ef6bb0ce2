package httptransport

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inboxlens/backend/internal/auth"
	"inboxlens/backend/internal/domain"
	"inboxlens/backend/internal/smtp"
)

// 通用错误消息
const (
	MsgInvalidJSON        = "JSON格式错误"
	MsgInvalidBatchNumber = "batch 参数必须是非负整数"
	MsgAuthRequired       = "需要登录认证"
	MsgInvalidCredentials = "邮箱账号或密码错误"
	MsgSendThrottled      = "发信过于频繁，请稍后重试"
	MsgInternalError      = "服务器内部错误，请稍后重试"
)

// statusFor 把业务错误映射为 HTTP 状态码与提示信息
func statusFor(err error) (int, string) {
	var sessionErr *domain.SessionError
	var upstreamErr *domain.UpstreamError

	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, validationMessage(err)
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, MsgInvalidCredentials
	case errors.Is(err, domain.ErrProviderAuth):
		return http.StatusUnauthorized, domain.ErrProviderAuth.Error()
	case errors.Is(err, domain.ErrRetrievalTimeout):
		return http.StatusGatewayTimeout, domain.ErrRetrievalTimeout.Error()
	case errors.Is(err, smtp.ErrSendThrottled):
		return http.StatusTooManyRequests, MsgSendThrottled
	case errors.As(err, &sessionErr):
		return sessionStatus(sessionErr.Kind), sessionErr.Message()
	case errors.As(err, &upstreamErr):
		return http.StatusBadGateway, upstreamErr.Error()
	default:
		return http.StatusInternalServerError, MsgInternalError
	}
}

func sessionStatus(kind domain.SessionErrorKind) int {
	switch kind {
	case domain.SessionAuthFailed:
		return http.StatusUnauthorized
	case domain.SessionConnectTimeout, domain.SessionFetchTimeout, domain.SessionSendTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// validationMessage 去掉包装前缀，只保留具体的校验失败原因
func validationMessage(err error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, domain.ErrInvalidRequest.Error()+": "); ok {
		return rest
	}
	return msg
}

// respondError 记录并输出错误响应
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status, msg := statusFor(err)
	_ = c.Error(err)

	fields := []zap.Field{
		zap.Int("status", status),
		zap.String("path", c.FullPath()),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", fields...)
	} else {
		log.Info("Request rejected", fields...)
	}

	Error(c, status, msg)
}
