package middleware

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inboxlens/backend/internal/monitoring"
)

// unmatchedRoute 未匹配路由统一记为一个标签值，避免指标基数膨胀
const unmatchedRoute = "unmatched"

// MonitoringMiddleware 监控中间件
type MonitoringMiddleware struct {
	metrics   *monitoring.Metrics
	logger    *zap.Logger
	startedAt time.Time
}

// NewMonitoringMiddleware 创建监控中间件
func NewMonitoringMiddleware(metrics *monitoring.Metrics, logger *zap.Logger) *MonitoringMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MonitoringMiddleware{
		metrics:   metrics,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// HTTPMetrics HTTP 指标中间件
func (mm *MonitoringMiddleware) HTTPMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestSize := c.Request.ContentLength
		if requestSize < 0 {
			requestSize = 0
		}

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		status := c.Writer.Status()

		mm.metrics.RecordHTTPRequest(
			c.Request.Method,
			route,
			strconv.Itoa(status),
			time.Since(start),
			requestSize,
			int64(max(c.Writer.Size(), 0)),
		)

		switch {
		case status == http.StatusTooManyRequests:
			mm.metrics.RecordRateLimitBlock("http")
		case status >= http.StatusInternalServerError:
			mm.metrics.RecordError("http_error", "http")
		}
	}
}

// PanicRecovery Panic 恢复中间件，进程在任何单个请求失败后继续服务
func (mm *MonitoringMiddleware) PanicRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				mm.metrics.RecordPanic()

				mm.logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", c.GetString(ContextKeyRequestID)),
					zap.Stack("stack"),
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code": http.StatusInternalServerError,
					"msg":  "服务器内部错误，请稍后重试",
				})
			}
		}()

		c.Next()
	}
}

// SystemMetrics 每次请求后刷新运行时长与内存指标
func (mm *MonitoringMiddleware) SystemMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		mm.updateSystemMetrics()
	}
}

func (mm *MonitoringMiddleware) updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	mm.metrics.UpdateMemoryUsage(m.Alloc)
	mm.metrics.UpdateSystemUptime(time.Since(mm.startedAt))
}
