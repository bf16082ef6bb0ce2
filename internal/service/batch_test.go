package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inboxlens/backend/internal/cache"
	"inboxlens/backend/internal/domain"
)

// MockAnalyzer 模拟文本分析服务
type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) Analyze(ctx context.Context, subject, body string) domain.Analysis {
	args := m.Called(ctx, subject, body)
	return args.Get(0).(domain.Analysis)
}

// countingAnalyzer 记录并发度与调用次数
type countingAnalyzer struct {
	delay    time.Duration
	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (a *countingAnalyzer) Analyze(ctx context.Context, subject, _ string) domain.Analysis {
	a.calls.Add(1)
	current := a.inFlight.Add(1)
	for {
		peak := a.peak.Load()
		if current <= peak || a.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	time.Sleep(a.delay)
	a.inFlight.Add(-1)
	return domain.Analysis{Category: domain.CategoryGeneral, Summary: "summary of " + subject, Events: []domain.Event{}}
}

func makeMessages(n int, base time.Time) []domain.Message {
	msgs := make([]domain.Message, n)
	for i := 0; i < n; i++ {
		// 最新在前，与取回顺序一致
		msgs[i] = domain.Message{
			ID:      fmt.Sprintf("msg-%02d", n-i),
			Sender:  "sender",
			Subject: fmt.Sprintf("subject %02d", n-i),
			Body:    "body",
			Date:    base.Add(time.Duration(n-i) * time.Minute),
		}
	}
	return msgs
}

func assertAscending(t *testing.T, emails []domain.EnrichedMessage) {
	t.Helper()
	for i := 1; i < len(emails); i++ {
		assert.False(t, emails[i].Date.Before(emails[i-1].Date), "emails must be sorted by date")
	}
}

func TestBatchOrchestrator_Enrich(t *testing.T) {
	base := time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)

	t.Run("结果按时间升序", func(t *testing.T) {
		analyzer := &countingAnalyzer{}
		b := NewBatchOrchestrator(analyzer, cache.NewAnalysisMemo(), zap.NewNop(), nil)

		emails := b.Enrich(context.Background(), makeMessages(5, base), 2)
		require.Len(t, emails, 5)
		assertAscending(t, emails)
		assert.Equal(t, "msg-01", emails[0].ID)
		require.NotNil(t, emails[0].Summary)
		assert.Equal(t, "summary of subject 01", *emails[0].Summary)
	})

	t.Run("相同时间保持输入顺序", func(t *testing.T) {
		b := NewBatchOrchestrator(&countingAnalyzer{}, cache.NewAnalysisMemo(), zap.NewNop(), nil)
		msgs := []domain.Message{
			{ID: "b", Subject: "b", Date: base},
			{ID: "a", Subject: "a", Date: base},
			{ID: "c", Subject: "c", Date: base.Add(-time.Hour)},
		}

		emails := b.Enrich(context.Background(), msgs, 2)
		require.Len(t, emails, 3)
		assert.Equal(t, []string{"c", "b", "a"}, []string{emails[0].ID, emails[1].ID, emails[2].ID})
	})

	t.Run("组内并发不超过组大小", func(t *testing.T) {
		analyzer := &countingAnalyzer{delay: 20 * time.Millisecond}
		b := NewBatchOrchestrator(analyzer, cache.NewAnalysisMemo(), zap.NewNop(), nil)

		emails := b.Enrich(context.Background(), makeMessages(7, base), 2)
		assert.Len(t, emails, 7)
		assert.EqualValues(t, 7, analyzer.calls.Load())
		assert.LessOrEqual(t, analyzer.peak.Load(), int32(2))
	})

	t.Run("缓存命中不调用分析服务", func(t *testing.T) {
		memo := cache.NewAnalysisMemo()
		cached := domain.Analysis{Category: domain.CategoryEventNotice, Summary: "cached", Events: []domain.Event{{Type: domain.EventTypeEvent, Text: "Fair"}}}
		msgs := makeMessages(3, base)
		for _, msg := range msgs {
			memo.Put(msg.ID, cached)
		}

		analyzer := new(MockAnalyzer)
		b := NewBatchOrchestrator(analyzer, memo, zap.NewNop(), nil)

		emails := b.Enrich(context.Background(), msgs, 2)
		require.Len(t, emails, 3)
		for _, email := range emails {
			require.NotNil(t, email.Category)
			assert.Equal(t, domain.CategoryEventNotice, *email.Category)
			assert.Equal(t, "cached", *email.Summary)
		}
		analyzer.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("降级结果也会缓存", func(t *testing.T) {
		memo := cache.NewAnalysisMemo()
		analyzer := new(MockAnalyzer)
		analyzer.On("Analyze", mock.Anything, "subject 01", "body").Return(domain.DefaultAnalysis()).Once()

		b := NewBatchOrchestrator(analyzer, memo, zap.NewNop(), nil)
		msgs := makeMessages(1, base)

		first := b.Enrich(context.Background(), msgs, 2)
		second := b.Enrich(context.Background(), msgs, 2)

		require.Len(t, first, 1)
		require.Len(t, second, 1)
		assert.Equal(t, domain.UnableToAnalyzeSummary, *second[0].Summary)
		analyzer.AssertNumberOfCalls(t, "Analyze", 1)
	})

	t.Run("空输入", func(t *testing.T) {
		b := NewBatchOrchestrator(new(MockAnalyzer), cache.NewAnalysisMemo(), zap.NewNop(), nil)
		assert.Empty(t, b.Enrich(context.Background(), nil, 2))
	})

	t.Run("上下文结束后不再启动新分组", func(t *testing.T) {
		analyzer := &countingAnalyzer{}
		b := NewBatchOrchestrator(analyzer, cache.NewAnalysisMemo(), zap.NewNop(), nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		emails := b.Enrich(ctx, makeMessages(4, base), 2)
		assert.Empty(t, emails)
		assert.EqualValues(t, 0, analyzer.calls.Load())
	})
}

// blockingAnalyzer 在收到信号前阻塞，用于验证分析调用不随请求取消
type blockingAnalyzer struct {
	release chan struct{}
	started sync.WaitGroup
	ctxErr  atomic.Value
}

func (a *blockingAnalyzer) Analyze(ctx context.Context, subject, _ string) domain.Analysis {
	a.started.Done()
	<-a.release
	if err := ctx.Err(); err != nil {
		a.ctxErr.Store(err)
	}
	return domain.Analysis{Category: domain.CategoryAcademicNotice, Summary: subject, Events: []domain.Event{}}
}

func TestBatchOrchestrator_DetachedCalls(t *testing.T) {
	analyzer := &blockingAnalyzer{release: make(chan struct{})}
	analyzer.started.Add(1)
	memo := cache.NewAnalysisMemo()
	b := NewBatchOrchestrator(analyzer, memo, zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	msgs := makeMessages(1, time.Now())

	done := make(chan []domain.EnrichedMessage, 1)
	go func() { done <- b.Enrich(ctx, msgs, 2) }()

	analyzer.started.Wait()
	cancel()
	close(analyzer.release)

	emails := <-done
	require.Len(t, emails, 1)
	assert.Nil(t, analyzer.ctxErr.Load())

	stored, ok := memo.Get(msgs[0].ID)
	require.True(t, ok)
	assert.Equal(t, domain.CategoryAcademicNotice, stored.Category)
}
