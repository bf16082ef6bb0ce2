package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inboxlens/backend/internal/auth/jwt"
	"inboxlens/backend/internal/domain"
)

// Authenticator 从访问令牌解出邮箱凭据
type Authenticator interface {
	Authenticate(token string) (domain.Credentials, error)
}

// JWTAuth JWT认证中间件
type JWTAuth struct {
	authenticator Authenticator
	log           *zap.Logger
}

// NewJWTAuth 创建JWT认证中间件
func NewJWTAuth(authenticator Authenticator, log *zap.Logger) *JWTAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &JWTAuth{
		authenticator: authenticator,
		log:           log,
	}
}

// RequireAuth 要求JWT认证，通过后把邮箱凭据放入上下文
func (ja *JWTAuth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			abortUnauthorized(c, "需要登录认证")
			return
		}

		creds, err := ja.authenticator.Authenticate(token)
		if err != nil {
			ja.log.Warn("Invalid token",
				zap.Error(err),
				zap.String("ip", c.ClientIP()),
			)
			if errors.Is(err, jwt.ErrExpiredToken) {
				abortUnauthorized(c, "登录已过期，请重新登录")
				return
			}
			abortUnauthorized(c, "无效的访问令牌")
			return
		}

		c.Set(ContextKeyAccount, creds.Account)
		c.Set(ContextKeyCredentials, creds)

		c.Next()
	}
}

// CredentialsFrom 取出认证中间件写入的邮箱凭据
func CredentialsFrom(c *gin.Context) (domain.Credentials, bool) {
	v, ok := c.Get(ContextKeyCredentials)
	if !ok {
		return domain.Credentials{}, false
	}
	creds, ok := v.(domain.Credentials)
	return creds, ok
}

// extractToken 从 Authorization 头提取 Bearer 令牌
func extractToken(c *gin.Context) string {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code": http.StatusUnauthorized,
		"msg":  msg,
	})
}
