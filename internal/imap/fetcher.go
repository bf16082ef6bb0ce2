package imap

import (
	"context"
	"time"

	"go.uber.org/zap"

	"inboxlens/backend/internal/domain"
	"inboxlens/backend/internal/monitoring"
	"inboxlens/backend/internal/parser"
)

// DefaultWindow 默认取回窗口大小
const DefaultWindow = 40

// Fetcher 取回最近的邮件并解析为 domain.Message
type Fetcher struct {
	dialer  *Dialer
	logger  *zap.Logger
	metrics *monitoring.Metrics
	now     func() time.Time
}

// NewFetcher 创建取回器
func NewFetcher(dialer *Dialer, logger *zap.Logger, metrics *monitoring.Metrics) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		dialer:  dialer,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Verify 打开并立即拆除一个会话，用于校验凭据
func (f *Fetcher) Verify(ctx context.Context, creds domain.Credentials) error {
	session, err := f.dialer.Open(ctx, creds)
	if err != nil {
		return err
	}
	if err := session.Close(); err != nil {
		f.logger.Debug("IMAP logout after verify failed", zap.Error(err))
	}
	return nil
}

// FetchRecent 取回最新的 limit 封邮件（最新在前）。
//
// 每次调用都新建会话并在返回前拆除。选择、检索与拉取共享 FetchTimeout，
// 超时强制断开并返回 fetch_timeout。无法解析的邮件记录日志后丢弃。
func (f *Fetcher) FetchRecent(ctx context.Context, creds domain.Credentials, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = DefaultWindow
	}

	session, err := f.dialer.Open(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	start := time.Now()
	fetchCtx, cancel := context.WithTimeout(ctx, session.fetchTimeout)
	defer cancel()
	stopClose := context.AfterFunc(fetchCtx, session.forceClose)

	raws, err := f.fetchWindow(session, limit)
	if !stopClose() {
		return nil, f.dialer.fail(domain.NewSessionError(domain.SessionFetchTimeout, fetchCtx.Err()))
	}
	if err != nil {
		return nil, f.dialer.fail(domain.NewSessionError(domain.SessionProtocol, err))
	}
	f.metrics.RecordIMAPPhase("fetch", time.Since(start))

	messages := f.parseAll(raws)
	f.logger.Info("Fetched mailbox window",
		zap.Int("requested", limit),
		zap.Int("received", len(raws)),
		zap.Int("parsed", len(messages)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return messages, nil
}

func (f *Fetcher) fetchWindow(session *Session, limit int) ([]RawMessage, error) {
	total, err := session.SelectInbox()
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}

	seqNums, err := session.SearchAll()
	if err != nil {
		return nil, err
	}

	return session.FetchRaw(RecentWindow(seqNums, limit))
}

// parseAll 逐封解析，单封失败不影响其他邮件
func (f *Fetcher) parseAll(raws []RawMessage) []domain.Message {
	now := f.now()
	messages := make([]domain.Message, 0, len(raws))
	dropped := 0

	for _, raw := range raws {
		msg, err := parser.Parse(raw.Body, parser.Meta{
			SeqNum:       raw.SeqNum,
			MessageID:    raw.MessageID,
			InternalDate: raw.InternalDate,
			Now:          now,
		})
		if err != nil {
			dropped++
			f.logger.Warn("Dropping unparsable message",
				zap.Uint32("seq", raw.SeqNum),
				zap.Error(err),
			)
			continue
		}
		messages = append(messages, *msg)
	}

	f.metrics.RecordMessagesFetched(len(messages), dropped)
	return messages
}
