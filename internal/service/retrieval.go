package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"inboxlens/backend/internal/domain"
)

// 取回策略默认值
const (
	DefaultWindow           = 40
	DefaultPageSize         = 4
	DefaultRetrievalTimeout = 180 * time.Second
)

// MailboxFetcher 取回远端邮箱最近的邮件（最新在前）
type MailboxFetcher interface {
	FetchRecent(ctx context.Context, creds domain.Credentials, limit int) ([]domain.Message, error)
	Verify(ctx context.Context, creds domain.Credentials) error
}

// RetrievalOptions 取回策略
type RetrievalOptions struct {
	Window    int           // 取回窗口，默认 40
	PageSize  int           // 渐进加载每页数量，默认 4
	GroupSize int           // 每组并发分析数量，默认 2
	Timeout   time.Duration // 整个取回（含分析）的时限，默认 180s
}

// PageResult 渐进加载的一页
type PageResult struct {
	Emails        []domain.EnrichedMessage `json:"emails"`
	Count         int                      `json:"count"`
	BatchNumber   int                      `json:"batchNumber"`
	IsComplete    bool                     `json:"isComplete"`
	TotalFetched  int                      `json:"totalFetched"`
	TotalExpected int                      `json:"totalExpected"`
}

// DeltaRequest 增量刷新参数
type DeltaRequest struct {
	Since    *time.Time
	KnownIDs []string
}

// DeltaResult 增量刷新结果
type DeltaResult struct {
	Emails     []domain.EnrichedMessage `json:"emails"`
	Count      int                      `json:"count"`
	NewestDate *time.Time               `json:"newestDate"`
	Timestamp  time.Time                `json:"timestamp"`
}

// RetrievalService 组合邮箱取回与分批分析，对外提供渐进加载与增量刷新
type RetrievalService struct {
	fetcher MailboxFetcher
	batch   *BatchOrchestrator
	opts    RetrievalOptions
	logger  *zap.Logger
	now     func() time.Time
}

// NewRetrievalService 创建取回服务
func NewRetrievalService(fetcher MailboxFetcher, batch *BatchOrchestrator, opts RetrievalOptions, logger *zap.Logger) *RetrievalService {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.GroupSize <= 0 {
		opts.GroupSize = DefaultGroupSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRetrievalTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetrievalService{
		fetcher: fetcher,
		batch:   batch,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

// Verify 打开并拆除一个会话以校验凭据
func (s *RetrievalService) Verify(ctx context.Context, creds domain.Credentials) error {
	_, err := withDeadline(ctx, s.opts.Timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.fetcher.Verify(ctx, creds)
	})
	return err
}

// ProgressivePage 返回第 batchNumber 页（从 0 开始）的分析结果。
//
// 每次调用都会重新取回整个窗口，按时间升序排列后再切片，不在请求之间保留
// 会话或邮件，因此各页依次拼接即为整个窗口的升序序列。
// 切片为空时返回完成结果；否则 isComplete 表示已消费数量是否覆盖全部邮件。
func (s *RetrievalService) ProgressivePage(ctx context.Context, creds domain.Credentials, batchNumber int) (*PageResult, error) {
	if batchNumber < 0 {
		return nil, domain.ErrInvalidRequest
	}

	return withDeadline(ctx, s.opts.Timeout, func(ctx context.Context) (*PageResult, error) {
		msgs, err := s.fetcher.FetchRecent(ctx, creds, s.opts.Window)
		if err != nil {
			return nil, err
		}

		msgs = SortMessagesByDate(msgs)
		available := len(msgs)
		start := batchNumber * s.opts.PageSize
		if start >= available {
			return &PageResult{
				Emails:        []domain.EnrichedMessage{},
				Count:         0,
				BatchNumber:   batchNumber,
				IsComplete:    true,
				TotalFetched:  available,
				TotalExpected: available,
			}, nil
		}

		end := min(start+s.opts.PageSize, available)
		emails := s.batch.Enrich(ctx, msgs[start:end], s.opts.GroupSize)

		s.logger.Info("Served progressive page",
			zap.Int("batch", batchNumber),
			zap.Int("count", len(emails)),
			zap.Int("consumed", end),
			zap.Int("available", available),
		)

		return &PageResult{
			Emails:        emails,
			Count:         len(emails),
			BatchNumber:   batchNumber + 1,
			IsComplete:    end >= available,
			TotalFetched:  end,
			TotalExpected: available,
		}, nil
	})
}

// DeltaRefresh 返回调用方尚未见过的邮件。
//
// 新邮件集合的判定优先级：已知 ID 排除 > since 时间（严格大于）> 整个窗口。
// 只对新邮件做分析；NewestDate 为本次窗口中最新的时间，供下次作为 since。
func (s *RetrievalService) DeltaRefresh(ctx context.Context, creds domain.Credentials, req DeltaRequest) (*DeltaResult, error) {
	return withDeadline(ctx, s.opts.Timeout, func(ctx context.Context) (*DeltaResult, error) {
		msgs, err := s.fetcher.FetchRecent(ctx, creds, s.opts.Window)
		if err != nil {
			return nil, err
		}

		fresh := SelectNew(msgs, req)
		emails := s.batch.Enrich(ctx, fresh, s.opts.GroupSize)

		newest := NewestDate(msgs)
		if newest == nil {
			newest = req.Since
		}

		s.logger.Info("Served delta refresh",
			zap.Int("window", len(msgs)),
			zap.Int("new", len(emails)),
			zap.Int("known", len(req.KnownIDs)),
		)

		return &DeltaResult{
			Emails:     emails,
			Count:      len(emails),
			NewestDate: newest,
			Timestamp:  s.now(),
		}, nil
	})
}

// SelectNew 按已知 ID、since 时间或全部窗口挑选新邮件，保持原顺序
func SelectNew(msgs []domain.Message, req DeltaRequest) []domain.Message {
	switch {
	case len(req.KnownIDs) > 0:
		known := make(map[string]struct{}, len(req.KnownIDs))
		for _, id := range req.KnownIDs {
			known[id] = struct{}{}
		}
		fresh := make([]domain.Message, 0, len(msgs))
		for _, msg := range msgs {
			if _, ok := known[msg.ID]; !ok {
				fresh = append(fresh, msg)
			}
		}
		return fresh

	case req.Since != nil:
		fresh := make([]domain.Message, 0, len(msgs))
		for _, msg := range msgs {
			if msg.Date.After(*req.Since) {
				fresh = append(fresh, msg)
			}
		}
		return fresh

	default:
		return msgs
	}
}

// NewestDate 返回窗口中最新的时间，窗口为空时返回 nil
func NewestDate(msgs []domain.Message) *time.Time {
	var newest *time.Time
	for i := range msgs {
		if newest == nil || msgs[i].Date.After(*newest) {
			d := msgs[i].Date
			newest = &d
		}
	}
	return newest
}

// withDeadline 在 timeout 内执行 fn，超时返回 domain.ErrRetrievalTimeout。
//
// 调用方的取消不会传递进来；超时后 fn 在后台继续收尾（会话由 ctx 强制拆除，
// 已发出的分析调用完成后写入缓存），其结果被丢弃。
func withDeadline[T any](parent context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), timeout)

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer cancel()
		value, err := fn(ctx)
		done <- outcome{value: value, err: err}
	}()

	var zero T
	select {
	case out := <-done:
		if out.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, domain.ErrRetrievalTimeout
		}
		return out.value, out.err
	case <-ctx.Done():
		// fn 先写入 done 再 cancel，这里可能只是 fn 刚好结束
		select {
		case out := <-done:
			if out.err == nil || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return out.value, out.err
			}
		default:
		}
		return zero, domain.ErrRetrievalTimeout
	}
}
