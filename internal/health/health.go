// Package health 提供存活与就绪检查。
// 就绪检查确认远端收发信服务器可以建立 TCP 连接，配置了 Redis 时同时检查 Redis。
package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

const (
	// dialTimeout 单个依赖的拨号超时
	dialTimeout = 3 * time.Second
	// maxGoroutines 存活检查的 goroutine 上限
	maxGoroutines = 10000
)

// Pinger 可探测连通性的依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies 就绪检查依赖
type Dependencies struct {
	IMAPAddress string
	SMTPAddress string
	Redis       Pinger // 可为 nil
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	checks map[string]healthcheck.Check
	logger *zap.Logger
	now    func() time.Time
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(deps Dependencies, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		checks: make(map[string]healthcheck.Check),
		logger: logger,
		now:    time.Now,
	}

	hc.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(maxGoroutines))

	if deps.IMAPAddress != "" {
		hc.addReadiness("imap", healthcheck.TCPDialCheck(deps.IMAPAddress, dialTimeout))
	}
	if deps.SMTPAddress != "" {
		hc.addReadiness("smtp", healthcheck.TCPDialCheck(deps.SMTPAddress, dialTimeout))
	}
	if deps.Redis != nil {
		hc.addReadiness("redis", PingCheck(deps.Redis, dialTimeout))
	}

	return hc
}

func (hc *HealthChecker) addReadiness(name string, check healthcheck.Check) {
	hc.checks[name] = check
	hc.health.AddReadinessCheck(name, check)
}

// LiveHandler 存活检查处理器
func (hc *HealthChecker) LiveHandler() http.HandlerFunc {
	return hc.health.LiveEndpoint
}

// ReadyHandler 就绪检查处理器
func (hc *HealthChecker) ReadyHandler() http.HandlerFunc {
	return hc.health.ReadyEndpoint
}

// CheckHealth 执行全部就绪检查并返回每项结果
func (hc *HealthChecker) CheckHealth() (map[string]string, bool) {
	results := make(map[string]string, len(hc.checks)+1)
	healthy := true

	for name, check := range hc.checks {
		if err := check(); err != nil {
			hc.logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
			results[name] = fmt.Sprintf("ERROR: %v", err)
			healthy = false
			continue
		}
		results[name] = "OK"
	}

	results["timestamp"] = hc.now().Format(time.RFC3339)
	return results, healthy
}

// PingCheck 带超时的连通性检查
func PingCheck(p Pinger, timeout time.Duration) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return p.Ping(ctx)
	}
}
