package domain

import (
	"errors"
	"fmt"
)

// 业务错误定义
var (
	// ErrRetrievalTimeout 整个取回（含分析）超过时限
	ErrRetrievalTimeout = errors.New("request timed out")
	// ErrProviderAuth 分析服务拒绝了凭据
	ErrProviderAuth = errors.New("enrichment provider rejected credentials; check INBOXLENS_ENRICH_API_KEY")
	// ErrInvalidRequest 请求缺少必要字段
	ErrInvalidRequest = errors.New("invalid request")
)

// SessionErrorKind 会话错误分类
type SessionErrorKind string

const (
	SessionConnectTimeout    SessionErrorKind = "connect_timeout"
	SessionFetchTimeout      SessionErrorKind = "fetch_timeout"
	SessionAuthFailed        SessionErrorKind = "auth_failed"
	SessionConnectFailed     SessionErrorKind = "connect_failed"
	SessionHostNotFound      SessionErrorKind = "host_not_found"
	SessionRecipientRejected SessionErrorKind = "recipient_rejected"
	SessionSendTimeout       SessionErrorKind = "send_timeout"
	SessionProtocol          SessionErrorKind = "protocol"
)

var sessionMessages = map[SessionErrorKind]string{
	SessionConnectTimeout:    "connection timed out",
	SessionFetchTimeout:      "fetch timed out",
	SessionAuthFailed:        "authentication failed",
	SessionConnectFailed:     "connection failed",
	SessionHostNotFound:      "mail host not found",
	SessionRecipientRejected: "recipient rejected",
	SessionSendTimeout:       "send timed out",
	SessionProtocol:          "mail server error",
}

// SessionError 邮箱会话（收信或发信）错误，原样返回给调用方，不自动重试。
type SessionError struct {
	Kind SessionErrorKind
	Err  error
}

// NewSessionError 创建会话错误
func NewSessionError(kind SessionErrorKind, err error) *SessionError {
	return &SessionError{Kind: kind, Err: err}
}

// Message 返回面向用户的错误描述
func (e *SessionError) Message() string {
	if msg, ok := sessionMessages[e.Kind]; ok {
		return msg
	}
	return string(e.Kind)
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return e.Message()
	}
	return fmt.Sprintf("%s: %v", e.Message(), e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// IsSessionKind 判断错误链中是否包含指定分类的会话错误
func IsSessionKind(err error, kind SessionErrorKind) bool {
	var se *SessionError
	return errors.As(err, &se) && se.Kind == kind
}

// UpstreamError 分析服务返回了非成功状态
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error (%d): %s", e.Status, e.Body)
}
