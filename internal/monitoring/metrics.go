package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
//
// 所有 Record/Update 方法对 nil 接收者安全，未启用监控的组件可以直接传 nil。
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 收信指标
	IMAPSessionDuration *prometheus.HistogramVec
	IMAPSessionErrors   *prometheus.CounterVec
	MessagesFetched     prometheus.Counter
	MessagesDropped     prometheus.Counter

	// 分析指标
	EnrichRequests *prometheus.CounterVec
	EnrichDuration *prometheus.HistogramVec
	MemoHits       prometheus.Counter
	MemoMisses     prometheus.Counter
	MemoEntries    prometheus.Gauge

	// 发信指标
	MailsSent    prometheus.Counter
	SendFailures *prometheus.CounterVec

	// 系统指标
	SystemUptime prometheus.Gauge
	MemoryUsage  prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitHits   *prometheus.CounterVec
	RateLimitBlocks *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics 创建监控指标并注册到 reg；reg 为 nil 时使用默认注册表
func NewMetrics(reg prometheus.Registerer) *Metrics {
	gatherer := prometheus.DefaultGatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inboxlens_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inboxlens_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inboxlens_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inboxlens_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "endpoint"},
		),

		IMAPSessionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inboxlens_imap_session_duration_seconds",
				Help:    "Duration of IMAP session phases in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"phase"},
		),

		IMAPSessionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inboxlens_imap_session_errors_total",
				Help: "Total number of IMAP session errors by kind",
			},
			[]string{"kind"},
		),

		MessagesFetched: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "inboxlens_messages_fetched_total",
				Help: "Total number of messages fetched and parsed",
			},
		),

		MessagesDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "inboxlens_messages_dropped_total",
				Help: "Total number of messages dropped because they could not be parsed",
			},
		),

		EnrichRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inboxlens_enrich_requests_total",
				Help: "Total number of enrichment provider calls",
			},
			[]string{"operation", "outcome"},
		),

		EnrichDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inboxlens_enrich_duration_seconds",
				Help:    "Enrichment provider call duration in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
			},
			[]string{"operation"},
		),

		MemoHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "inboxlens_memo_hits_total",
				Help: "Total number of analysis memo hits",
			},
		),

		MemoMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "inboxlens_memo_misses_total",
				Help: "Total number of analysis memo misses",
			},
		),

		MemoEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "inboxlens_memo_entries",
				Help: "Number of analyses held in the memo",
			},
		),

		MailsSent: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "inboxlens_mails_sent_total",
				Help: "Total number of outbound mails sent",
			},
		),

		SendFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inboxlens_send_failures_total",
				Help: "Total number of outbound send failures by kind",
			},
			[]string{"kind"},
		),

		SystemUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "inboxlens_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "inboxlens_memory_usage_bytes",
				Help: "Memory usage in bytes",
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inboxlens_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "inboxlens_panics_total",
				Help: "Total number of panics",
			},
		),

		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inboxlens_rate_limit_hits_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
			[]string{"type"},
		),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inboxlens_rate_limit_blocks_total",
				Help: "Total number of rate limited requests",
			},
			[]string{"type"},
		),

		gatherer: gatherer,
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordIMAPPhase 记录一次会话阶段（connect/fetch）的耗时
func (m *Metrics) RecordIMAPPhase(phase string, duration time.Duration) {
	if m == nil {
		return
	}
	m.IMAPSessionDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordIMAPError 记录会话错误
func (m *Metrics) RecordIMAPError(kind string) {
	if m == nil {
		return
	}
	m.IMAPSessionErrors.WithLabelValues(kind).Inc()
}

// RecordMessagesFetched 记录成功解析的邮件数和被丢弃的邮件数
func (m *Metrics) RecordMessagesFetched(parsed, dropped int) {
	if m == nil {
		return
	}
	m.MessagesFetched.Add(float64(parsed))
	m.MessagesDropped.Add(float64(dropped))
}

// RecordEnrichCall 记录一次分析服务调用
func (m *Metrics) RecordEnrichCall(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.EnrichRequests.WithLabelValues(operation, outcome).Inc()
	m.EnrichDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordMemoLookup 记录缓存命中情况
func (m *Metrics) RecordMemoLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.MemoHits.Inc()
		return
	}
	m.MemoMisses.Inc()
}

// UpdateMemoEntries 更新缓存条目数
func (m *Metrics) UpdateMemoEntries(count int) {
	if m == nil {
		return
	}
	m.MemoEntries.Set(float64(count))
}

// RecordMailSent 记录发信成功
func (m *Metrics) RecordMailSent() {
	if m == nil {
		return
	}
	m.MailsSent.Inc()
}

// RecordSendFailure 记录发信失败
func (m *Metrics) RecordSendFailure(kind string) {
	if m == nil {
		return
	}
	m.SendFailures.WithLabelValues(kind).Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// RecordRateLimitHit 记录限流检查
func (m *Metrics) RecordRateLimitHit(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(limitType).Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(limitType).Inc()
}

// UpdateSystemUptime 更新系统运行时间
func (m *Metrics) UpdateSystemUptime(uptime time.Duration) {
	if m == nil {
		return
	}
	m.SystemUptime.Set(uptime.Seconds())
}

// UpdateMemoryUsage 更新内存使用量
func (m *Metrics) UpdateMemoryUsage(bytes uint64) {
	if m == nil {
		return
	}
	m.MemoryUsage.Set(float64(bytes))
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
