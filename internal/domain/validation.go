package domain

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail    = errors.New("invalid email format")
	ErrEmailTooLong    = errors.New("email address too long")
	ErrPasswordMissing = errors.New("password is required")
	ErrSubjectInvalid  = errors.New("subject too long or contains control characters")
	ErrBodyTooLong     = errors.New("message body too long")
	ErrIntentMissing   = errors.New("intent or refinementIntent is required")
	ErrDraftMissing    = errors.New("currentDraft is required when refining a draft")
	ErrTooManyKnownIDs = errors.New("too many known ids")
)

// 验证常量
const (
	MaxEmailLength   = 254 // RFC 5321 地址最大长度
	MaxSubjectLength = 998 // RFC 5322 单行最大长度
	MaxBodyLength    = 100000
	MaxIntentLength  = 2000
	MaxKnownIDs      = 1000
)

// ValidateAddress 验证单个邮箱地址，返回规范化后的地址
func ValidateAddress(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrInvalidEmail
	}
	if len(email) > MaxEmailLength {
		return "", ErrEmailTooLong
	}

	addr, err := mail.ParseAddress(email)
	if err != nil {
		return "", ErrInvalidEmail
	}

	local, domain, ok := strings.Cut(addr.Address, "@")
	if !ok || local == "" || !strings.Contains(domain, ".") {
		return "", ErrInvalidEmail
	}
	return addr.Address, nil
}

// ValidateSubject 主题不能过长，也不能包含控制字符（含换行，防止头注入）
func ValidateSubject(subject string) bool {
	if len(subject) > MaxSubjectLength {
		return false
	}
	for _, r := range subject {
		if r < 32 || r == 127 {
			return false
		}
	}
	return true
}

// ValidateMessageBody 验证正文长度
func ValidateMessageBody(body string) bool {
	return len(body) <= MaxBodyLength
}

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate 验证登录请求并规范化邮箱
func (r *LoginRequest) Validate() error {
	addr, err := ValidateAddress(r.Email)
	if err != nil {
		return err
	}
	r.Email = addr
	if r.Password == "" {
		return ErrPasswordMissing
	}
	return nil
}

// RefreshRequest 增量刷新请求
type RefreshRequest struct {
	SinceDate *time.Time `json:"sinceDate,omitempty"`
	KnownIDs  []string   `json:"knownIds"`
}

// Validate 验证增量刷新请求
func (r *RefreshRequest) Validate() error {
	if len(r.KnownIDs) > MaxKnownIDs {
		return fmt.Errorf("%w (max %d)", ErrTooManyKnownIDs, MaxKnownIDs)
	}
	return nil
}

// DraftReplyRequest 起草回复请求
type DraftReplyRequest struct {
	Subject          string `json:"subject"`
	Body             string `json:"body"`
	Intent           string `json:"intent"`
	RefinementIntent string `json:"refinementIntent,omitempty"`
	CurrentDraft     string `json:"currentDraft,omitempty"`
}

// Validate 验证起草请求
func (r *DraftReplyRequest) Validate() error {
	intent := strings.TrimSpace(r.Intent)
	refinement := strings.TrimSpace(r.RefinementIntent)
	if intent == "" && refinement == "" {
		return ErrIntentMissing
	}
	if len(intent) > MaxIntentLength || len(refinement) > MaxIntentLength {
		return fmt.Errorf("intent too long (max %d)", MaxIntentLength)
	}
	if refinement != "" && strings.TrimSpace(r.CurrentDraft) == "" {
		return ErrDraftMissing
	}
	if !ValidateMessageBody(r.Body) || !ValidateMessageBody(r.CurrentDraft) {
		return ErrBodyTooLong
	}
	return nil
}

// SendReplyRequest 发送邮件请求
type SendReplyRequest struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"htmlBody"`
	ReplyTo  string `json:"replyTo,omitempty"`
}

// Validate 验证发送请求并转换为外发邮件
func (r *SendReplyRequest) Validate() (*OutgoingMail, error) {
	to, err := ValidateAddress(r.To)
	if err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}

	var replyTo string
	if strings.TrimSpace(r.ReplyTo) != "" {
		if replyTo, err = ValidateAddress(r.ReplyTo); err != nil {
			return nil, fmt.Errorf("replyTo: %w", err)
		}
	}

	if strings.TrimSpace(r.Subject) == "" || !ValidateSubject(r.Subject) {
		return nil, ErrSubjectInvalid
	}
	if !ValidateMessageBody(r.HTMLBody) {
		return nil, ErrBodyTooLong
	}

	return &OutgoingMail{
		To:       to,
		Subject:  r.Subject,
		HTMLBody: r.HTMLBody,
		ReplyTo:  replyTo,
	}, nil
}
