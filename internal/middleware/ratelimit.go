package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"inboxlens/backend/internal/monitoring"
)

// WindowCounter 跨实例共享的固定窗口计数器
type WindowCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// rateWindow 共享限流的窗口长度
const rateWindow = time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 按客户端 IP 限流。
// 配置了共享计数器时使用固定窗口计数，计数器不可用时退回进程内令牌桶。
type RateLimiter struct {
	perMinute int
	burst     int
	counter   WindowCounter
	metrics   *monitoring.Metrics
	log       *zap.Logger
	now       func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

// NewRateLimiter 创建限流器，counter 可为 nil
func NewRateLimiter(perMinute, burst int, counter WindowCounter, metrics *monitoring.Metrics, log *zap.Logger) *RateLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &RateLimiter{
		perMinute: perMinute,
		burst:     max(burst, 1),
		counter:   counter,
		metrics:   metrics,
		log:       log,
		now:       time.Now,
		visitors:  make(map[string]*visitor),
	}
}

// Handler 限流中间件，perMinute 为 0 时不限流
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.perMinute <= 0 {
			c.Next()
			return
		}

		key := c.ClientIP()
		if !rl.allow(c, key) {
			rl.metrics.RecordRateLimitHit("ip")
			c.Header("Retry-After", strconv.Itoa(int(rateWindow.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": http.StatusTooManyRequests,
				"msg":  "请求过于频繁，请稍后重试",
			})
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) allow(c *gin.Context, key string) bool {
	if rl.counter != nil {
		allowed, err := rl.allowShared(c, key)
		if err == nil {
			return allowed
		}
		rl.log.Warn("Shared rate limit unavailable, falling back to local limiter", zap.Error(err))
	}
	return rl.allowLocal(key)
}

func (rl *RateLimiter) allowShared(c *gin.Context, key string) (bool, error) {
	window := rl.now().Truncate(rateWindow).Unix()
	count, err := rl.counter.IncrWindow(c.Request.Context(), "ratelimit:"+key+":"+strconv.FormatInt(window, 10), rateWindow)
	if err != nil {
		return false, err
	}

	c.Header("X-RateLimit-Limit", strconv.Itoa(rl.perMinute))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(max(int64(rl.perMinute)-count, 0), 10))
	return count <= int64(rl.perMinute), nil
}

func (rl *RateLimiter) allowLocal(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Every(rateWindow/time.Duration(rl.perMinute)), rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = rl.now()
	return v.limiter.AllowN(v.lastSeen, 1)
}

// Cleanup 删除长时间未访问的客户端
func (rl *RateLimiter) Cleanup(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-idle)
	removed := 0
	for key, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, key)
			removed++
		}
	}
	return removed
}

// RunCleanup 定期清理空闲客户端，直到 ctx 结束
func (rl *RateLimiter) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := rl.Cleanup(3 * interval); n > 0 {
				rl.log.Debug("Evicted idle rate limit visitors", zap.Int("count", n))
			}
		}
	}
}
