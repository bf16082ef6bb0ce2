package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

// AlertLevel 告警级别
type AlertLevel string

const (
	AlertLevelInfo     AlertLevel = "info"
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
)

// Alert 告警
type Alert struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Level     AlertLevel `json:"level"`
	Component string     `json:"component"`
	Timestamp time.Time  `json:"timestamp"`
}

// AlertRule 告警规则
type AlertRule struct {
	ID        string
	Name      string
	Condition func() bool
	Level     AlertLevel
	Component string
	Message   string
	Cooldown  time.Duration
}

// AlertReceiver 告警接收器接口
type AlertReceiver interface {
	SendAlert(alert *Alert) error
}

// AlertManager 定期评估规则并把触发的告警分发给接收器
type AlertManager struct {
	rules         []AlertRule
	lastTriggered map[string]time.Time
	receivers     []AlertReceiver
	history       []Alert
	logger        *zap.Logger
	now           func() time.Time
	mu            sync.Mutex
}

// maxAlertHistory 保留的最近告警数量
const maxAlertHistory = 100

// NewAlertManager 创建告警管理器
func NewAlertManager(logger *zap.Logger) *AlertManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertManager{
		lastTriggered: make(map[string]time.Time),
		logger:        logger,
		now:           time.Now,
	}
}

// AddReceiver 添加告警接收器
func (am *AlertManager) AddReceiver(receiver AlertReceiver) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.receivers = append(am.receivers, receiver)
}

// AddRule 添加告警规则
func (am *AlertManager) AddRule(rule AlertRule) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.rules = append(am.rules, rule)
}

// CheckRules 检查告警规则，冷却期内的规则跳过
func (am *AlertManager) CheckRules() {
	am.mu.Lock()
	rules := make([]AlertRule, len(am.rules))
	copy(rules, am.rules)
	am.mu.Unlock()

	for _, rule := range rules {
		now := am.now()

		am.mu.Lock()
		last, seen := am.lastTriggered[rule.ID]
		am.mu.Unlock()
		if seen && now.Sub(last) < rule.Cooldown {
			continue
		}

		if !rule.Condition() {
			continue
		}

		am.trigger(&Alert{
			ID:        fmt.Sprintf("%s_%d", rule.ID, now.Unix()),
			Title:     rule.Name,
			Message:   rule.Message,
			Level:     rule.Level,
			Component: rule.Component,
			Timestamp: now,
		})

		am.mu.Lock()
		am.lastTriggered[rule.ID] = now
		am.mu.Unlock()
	}
}

func (am *AlertManager) trigger(alert *Alert) {
	am.mu.Lock()
	am.history = append(am.history, *alert)
	if len(am.history) > maxAlertHistory {
		am.history = am.history[len(am.history)-maxAlertHistory:]
	}
	receivers := make([]AlertReceiver, len(am.receivers))
	copy(receivers, am.receivers)
	am.mu.Unlock()

	for _, receiver := range receivers {
		if err := receiver.SendAlert(alert); err != nil {
			am.logger.Error("Failed to send alert",
				zap.String("alert_id", alert.ID),
				zap.Error(err),
			)
		}
	}
}

// Alerts 返回最近触发的告警
func (am *AlertManager) Alerts() []Alert {
	am.mu.Lock()
	defer am.mu.Unlock()

	out := make([]Alert, len(am.history))
	copy(out, am.history)
	return out
}

// StartMonitoring 按间隔检查规则，直到 ctx 结束
func (am *AlertManager) StartMonitoring(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			am.CheckRules()
		}
	}
}

// ========== 内置告警规则 ==========

// HighMemoryUsageRule 高内存使用告警规则
func HighMemoryUsageRule(thresholdMB float64) AlertRule {
	return AlertRule{
		ID:   "high_memory_usage",
		Name: "High Memory Usage",
		Condition: func() bool {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			return float64(m.Alloc)/1024/1024 > thresholdMB
		},
		Level:     AlertLevelWarning,
		Component: "memory",
		Message:   fmt.Sprintf("Memory usage exceeds %.0f MB", thresholdMB),
		Cooldown:  5 * time.Minute,
	}
}

// ProviderAuthRule 分析服务出现鉴权失败时告警，通常意味着 API key 失效
func ProviderAuthRule(m *Metrics) AlertRule {
	growth := counterGrowth(func() prometheus.Counter {
		return m.EnrichRequests.WithLabelValues("analyze", "unauthorized")
	}, func() prometheus.Counter {
		return m.EnrichRequests.WithLabelValues("draft", "unauthorized")
	})

	return AlertRule{
		ID:        "enrich_provider_auth",
		Name:      "Enrichment Provider Rejected Credentials",
		Condition: func() bool { return growth() > 0 },
		Level:     AlertLevelCritical,
		Component: "enrich",
		Message:   "Enrichment provider returned 401/403; check INBOXLENS_ENRICH_API_KEY",
		Cooldown:  15 * time.Minute,
	}
}

// MailboxErrorSurgeRule 两次检查之间收信会话错误数超过阈值时告警
func MailboxErrorSurgeRule(m *Metrics, threshold float64) AlertRule {
	kinds := []string{"connect_timeout", "fetch_timeout", "connect_failed", "host_not_found", "protocol"}
	counters := make([]func() prometheus.Counter, 0, len(kinds))
	for _, kind := range kinds {
		counters = append(counters, func() prometheus.Counter {
			return m.IMAPSessionErrors.WithLabelValues(kind)
		})
	}
	growth := counterGrowth(counters...)

	return AlertRule{
		ID:        "imap_error_surge",
		Name:      "Mailbox Session Error Surge",
		Condition: func() bool { return growth() > threshold },
		Level:     AlertLevelWarning,
		Component: "imap",
		Message:   fmt.Sprintf("More than %.0f mailbox session errors since last check", threshold),
		Cooldown:  5 * time.Minute,
	}
}

// counterGrowth 返回一个函数，每次调用给出计数器总和自上次调用以来的增量
func counterGrowth(counters ...func() prometheus.Counter) func() float64 {
	var mu sync.Mutex
	last := sumCounters(counters)

	return func() float64 {
		mu.Lock()
		defer mu.Unlock()

		current := sumCounters(counters)
		delta := current - last
		last = current
		return delta
	}
}

func sumCounters(counters []func() prometheus.Counter) float64 {
	total := 0.0
	for _, get := range counters {
		var metric dto.Metric
		if err := get().Write(&metric); err != nil {
			continue
		}
		total += metric.GetCounter().GetValue()
	}
	return total
}

// ========== 告警接收器实现 ==========

// LogAlertReceiver 日志告警接收器
type LogAlertReceiver struct {
	logger *zap.Logger
}

// NewLogAlertReceiver 创建日志告警接收器
func NewLogAlertReceiver(logger *zap.Logger) *LogAlertReceiver {
	return &LogAlertReceiver{logger: logger}
}

// SendAlert 发送告警到日志
func (lar *LogAlertReceiver) SendAlert(alert *Alert) error {
	fields := []zap.Field{
		zap.String("alert_id", alert.ID),
		zap.String("title", alert.Title),
		zap.String("message", alert.Message),
		zap.String("component", alert.Component),
		zap.Time("timestamp", alert.Timestamp),
	}

	switch alert.Level {
	case AlertLevelCritical:
		lar.logger.Error("CRITICAL ALERT", fields...)
	case AlertLevelWarning:
		lar.logger.Warn("WARNING ALERT", fields...)
	default:
		lar.logger.Info("INFO ALERT", fields...)
	}
	return nil
}
