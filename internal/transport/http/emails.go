package httptransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inboxlens/backend/internal/domain"
	"inboxlens/backend/internal/middleware"
	"inboxlens/backend/internal/service"
)

// MailboxRetriever 渐进加载与增量刷新
type MailboxRetriever interface {
	ProgressivePage(ctx context.Context, creds domain.Credentials, batchNumber int) (*service.PageResult, error)
	DeltaRefresh(ctx context.Context, creds domain.Credentials, req service.DeltaRequest) (*service.DeltaResult, error)
}

// EmailHandler 处理邮件取回请求
type EmailHandler struct {
	retrieval MailboxRetriever
	log       *zap.Logger
}

// NewEmailHandler 创建邮件处理器
func NewEmailHandler(retrieval MailboxRetriever, log *zap.Logger) *EmailHandler {
	return &EmailHandler{
		retrieval: retrieval,
		log:       log,
	}
}

// Progressive 返回第 batch 页的分析结果
//
// GET /v1/emails/progressive?batch=N
func (h *EmailHandler) Progressive(c *gin.Context) {
	creds, ok := middleware.CredentialsFrom(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	batch, err := strconv.Atoi(c.DefaultQuery("batch", "0"))
	if err != nil || batch < 0 {
		BadRequest(c, MsgInvalidBatchNumber)
		return
	}

	page, err := h.retrieval.ProgressivePage(c.Request.Context(), creds, batch)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	Success(c, page)
}

// Refresh 返回比客户端已有邮件更新的邮件
//
// POST /v1/emails/refresh {sinceDate?, knownIds[]}
func (h *EmailHandler) Refresh(c *gin.Context) {
	creds, ok := middleware.CredentialsFrom(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	// 空请求体等同于 {}，即首次加载整个窗口
	var req domain.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(c, MsgInvalidJSON)
		return
	}
	if err := req.Validate(); err != nil {
		respondError(c, h.log, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err))
		return
	}

	result, err := h.retrieval.DeltaRefresh(c.Request.Context(), creds, service.DeltaRequest{
		Since:    req.SinceDate,
		KnownIDs: req.KnownIDs,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	Success(c, result)
}
