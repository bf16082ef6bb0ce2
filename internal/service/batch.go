package service

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"inboxlens/backend/internal/cache"
	"inboxlens/backend/internal/domain"
	"inboxlens/backend/internal/monitoring"
)

// DefaultGroupSize 每组同时分析的邮件数
const DefaultGroupSize = 2

// Analyzer 文本分析服务，Analyze 不返回错误
type Analyzer interface {
	Analyze(ctx context.Context, subject, body string) domain.Analysis
}

// BatchOrchestrator 分组并发地为邮件生成分析结果。
//
// 组内并发，组与组之间是硬屏障：上一组全部结束后才开始下一组，
// 以此限制对分析服务的并发请求数。
type BatchOrchestrator struct {
	analyzer Analyzer
	memo     cache.Memo
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// NewBatchOrchestrator 创建分批编排器，memo 由调用方注入
func NewBatchOrchestrator(analyzer Analyzer, memo cache.Memo, logger *zap.Logger, metrics *monitoring.Metrics) *BatchOrchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchOrchestrator{
		analyzer: analyzer,
		memo:     memo,
		logger:   logger,
		metrics:  metrics,
	}
}

// Enrich 为 msgs 生成分析结果，返回按时间升序（稳定）排列的列表。
//
// ctx 结束后不再启动新的分组；已发出的分析调用使用脱离取消的上下文，
// 完成后照常写入缓存。
func (b *BatchOrchestrator) Enrich(ctx context.Context, msgs []domain.Message, groupSize int) []domain.EnrichedMessage {
	if groupSize <= 0 {
		groupSize = DefaultGroupSize
	}

	start := time.Now()
	results := make([]domain.EnrichedMessage, 0, len(msgs))
	detached := context.WithoutCancel(ctx)

	for offset := 0; offset < len(msgs); offset += groupSize {
		if ctx.Err() != nil {
			b.logger.Warn("Stopping enrichment before next group",
				zap.Int("done", len(results)),
				zap.Int("total", len(msgs)),
				zap.Error(ctx.Err()),
			)
			break
		}

		group := msgs[offset:min(offset+groupSize, len(msgs))]
		enriched := make([]domain.EnrichedMessage, len(group))

		var g errgroup.Group
		for i := range group {
			g.Go(func() error {
				enriched[i] = b.enrichOne(detached, group[i])
				return nil
			})
		}
		_ = g.Wait()

		results = append(results, enriched...)
	}

	SortByDate(results)

	b.logger.Debug("Enriched messages",
		zap.Int("count", len(results)),
		zap.Int("group_size", groupSize),
		zap.Duration("elapsed", time.Since(start)),
	)
	return results
}

// enrichOne 先查缓存；未命中时调用分析服务并写入缓存（降级结果同样缓存）
func (b *BatchOrchestrator) enrichOne(ctx context.Context, msg domain.Message) domain.EnrichedMessage {
	if analysis, ok := b.memo.Get(msg.ID); ok {
		b.metrics.RecordMemoLookup(true)
		return domain.NewEnrichedMessage(msg, analysis)
	}
	b.metrics.RecordMemoLookup(false)

	analysis := b.analyzer.Analyze(ctx, msg.Subject, msg.Body)
	b.memo.Put(msg.ID, analysis)

	// 并发写入同一 ID 时以第一次写入为准
	if stored, ok := b.memo.Get(msg.ID); ok {
		analysis = stored
	}
	if sized, ok := b.memo.(interface{ Len() int }); ok {
		b.metrics.UpdateMemoEntries(sized.Len())
	}
	return domain.NewEnrichedMessage(msg, analysis)
}

// SortByDate 按时间升序稳定排序
func SortByDate(msgs []domain.EnrichedMessage) {
	slices.SortStableFunc(msgs, func(a, b domain.EnrichedMessage) int {
		return a.Date.Compare(b.Date)
	})
}

// SortMessagesByDate 返回按时间升序稳定排序的副本，不修改入参
func SortMessagesByDate(msgs []domain.Message) []domain.Message {
	sorted := slices.Clone(msgs)
	slices.SortStableFunc(sorted, func(a, b domain.Message) int {
		return a.Date.Compare(b.Date)
	})
	return sorted
}
