package httptransport

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inboxlens/backend/internal/domain"
	"inboxlens/backend/internal/middleware"
)

// ReplyComposer 起草并发送回复
type ReplyComposer interface {
	Draft(ctx context.Context, req domain.DraftReplyRequest) (*domain.ReplyDraft, error)
	Send(ctx context.Context, creds domain.Credentials, req domain.SendReplyRequest) error
}

// ReplyHandler 处理回复相关请求
type ReplyHandler struct {
	replies ReplyComposer
	log     *zap.Logger
}

// NewReplyHandler 创建回复处理器
func NewReplyHandler(replies ReplyComposer, log *zap.Logger) *ReplyHandler {
	return &ReplyHandler{
		replies: replies,
		log:     log,
	}
}

type sendResponse struct {
	Sent bool `json:"sent"`
}

// Draft 起草或改写回复
//
// POST /v1/replies/draft {subject, body, intent, refinementIntent?, currentDraft?}
func (h *ReplyHandler) Draft(c *gin.Context) {
	var req domain.DraftReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	draft, err := h.replies.Draft(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	Success(c, draft)
}

// Send 以登录账号身份发送回复
//
// POST /v1/replies/send {to, subject, htmlBody, replyTo?}
func (h *ReplyHandler) Send(c *gin.Context) {
	creds, ok := middleware.CredentialsFrom(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	var req domain.SendReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	if err := h.replies.Send(c.Request.Context(), creds, req); err != nil {
		respondError(c, h.log, err)
		return
	}

	h.log.Info("Reply sent",
		zap.String("account", creds.Account),
		zap.String("request_id", c.GetString(middleware.ContextKeyRequestID)),
	)
	Success(c, sendResponse{Sent: true})
}
