package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inboxlens/backend/internal/auth/jwt"
	"inboxlens/backend/internal/domain"
	"inboxlens/backend/internal/monitoring"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubAuthenticator struct {
	creds domain.Credentials
	err   error
}

func (s stubAuthenticator) Authenticate(token string) (domain.Credentials, error) {
	if token != "good" {
		if s.err != nil {
			return domain.Credentials{}, s.err
		}
		return domain.Credentials{}, jwt.ErrInvalidToken
	}
	return s.creds, nil
}

func perform(r http.Handler, method, path string, header http.Header, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth_RequireAuth(t *testing.T) {
	creds := domain.Credentials{Account: "me@uni.example.edu", Secret: "pw"}

	newRouter := func(a Authenticator) *gin.Engine {
		r := gin.New()
		r.GET("/p", NewJWTAuth(a, zap.NewNop()).RequireAuth(), func(c *gin.Context) {
			got, ok := CredentialsFrom(c)
			require.True(t, ok)
			c.String(http.StatusOK, got.Account+"|"+c.GetString(ContextKeyAccount))
		})
		return r
	}

	t.Run("有效令牌", func(t *testing.T) {
		w := perform(newRouter(stubAuthenticator{creds: creds}), http.MethodGet, "/p",
			http.Header{"Authorization": {"Bearer good"}}, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "me@uni.example.edu|me@uni.example.edu", w.Body.String())
	})

	t.Run("小写 bearer 也接受", func(t *testing.T) {
		w := perform(newRouter(stubAuthenticator{creds: creds}), http.MethodGet, "/p",
			http.Header{"Authorization": {"bearer good"}}, "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("缺少令牌", func(t *testing.T) {
		w := perform(newRouter(stubAuthenticator{}), http.MethodGet, "/p", nil, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "需要登录认证")
	})

	t.Run("令牌过期", func(t *testing.T) {
		w := perform(newRouter(stubAuthenticator{err: jwt.ErrExpiredToken}), http.MethodGet, "/p",
			http.Header{"Authorization": {"Bearer stale"}}, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "登录已过期")
	})

	t.Run("令牌无效", func(t *testing.T) {
		w := perform(newRouter(stubAuthenticator{}), http.MethodGet, "/p",
			http.Header{"Authorization": {"Bearer forged"}}, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "无效的访问令牌")
	})
}

type fakeCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (f *fakeCounter) IncrWindow(_ context.Context, key string, _ time.Duration) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = make(map[string]int64)
	}
	f.counts[key]++
	return f.counts[key], nil
}

func rateLimitedRouter(rl *RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(rl.Handler())
	r.GET("/p", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestRateLimiter(t *testing.T) {
	t.Run("进程内令牌桶", func(t *testing.T) {
		metrics := monitoring.NewMetrics(prometheus.NewRegistry())
		r := rateLimitedRouter(NewRateLimiter(60, 2, nil, metrics, zap.NewNop()))

		assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/p", nil, "").Code)
		assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/p", nil, "").Code)
		w := perform(r, http.MethodGet, "/p", nil, "")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "60", w.Header().Get("Retry-After"))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RateLimitHits.WithLabelValues("ip")))
	})

	t.Run("共享计数器", func(t *testing.T) {
		counter := &fakeCounter{}
		r := rateLimitedRouter(NewRateLimiter(2, 100, counter, nil, zap.NewNop()))

		w := perform(r, http.MethodGet, "/p", nil, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/p", nil, "").Code)
		assert.Equal(t, http.StatusTooManyRequests, perform(r, http.MethodGet, "/p", nil, "").Code)
	})

	t.Run("共享计数器故障时退回本地", func(t *testing.T) {
		counter := &fakeCounter{err: errors.New("connection refused")}
		r := rateLimitedRouter(NewRateLimiter(60, 1, counter, nil, zap.NewNop()))

		assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/p", nil, "").Code)
		assert.Equal(t, http.StatusTooManyRequests, perform(r, http.MethodGet, "/p", nil, "").Code)
	})

	t.Run("未配置时不限流", func(t *testing.T) {
		r := rateLimitedRouter(NewRateLimiter(0, 1, nil, nil, zap.NewNop()))
		for range 5 {
			assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/p", nil, "").Code)
		}
	})
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(60, 1, nil, nil, zap.NewNop())
	now := time.Date(2024, 9, 2, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.allowLocal("10.0.0.1")
	now = now.Add(10 * time.Minute)
	rl.allowLocal("10.0.0.2")

	assert.Equal(t, 1, rl.Cleanup(5*time.Minute))
	assert.Len(t, rl.visitors, 1)
	assert.Contains(t, rl.visitors, "10.0.0.2")
}

func TestBodySizeLimit(t *testing.T) {
	r := gin.New()
	r.POST("/p", BodySizeLimit(8), func(c *gin.Context) {
		var body struct{ A string }
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		c.Status(http.StatusOK)
	})

	t.Run("未超限", func(t *testing.T) {
		w := perform(r, http.MethodPost, "/p", http.Header{"Content-Type": {"application/json"}}, `{"A":1}`)
		assert.NotEqual(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Equal(t, "8", w.Header().Get("X-Max-Body-Size"))
	})

	t.Run("声明长度超限", func(t *testing.T) {
		w := perform(r, http.MethodPost, "/p", http.Header{"Content-Type": {"application/json"}}, `{"A":"0123456789"}`)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/p", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextKeyRequestID)) })

	t.Run("生成新 ID", func(t *testing.T) {
		w := perform(r, http.MethodGet, "/p", nil, "")
		id := w.Header().Get(HeaderRequestID)
		assert.Len(t, id, 36)
		assert.Equal(t, id, w.Body.String())
	})

	t.Run("沿用合法 ID", func(t *testing.T) {
		const id = "6f1c2b8e-3a4d-4e5f-9a0b-1c2d3e4f5a6b"
		w := perform(r, http.MethodGet, "/p", http.Header{HeaderRequestID: {id}}, "")
		assert.Equal(t, id, w.Header().Get(HeaderRequestID))
	})

	t.Run("非法 ID 被替换", func(t *testing.T) {
		w := perform(r, http.MethodGet, "/p", http.Header{HeaderRequestID: {"<script>"}}, "")
		assert.NotEqual(t, "<script>", w.Header().Get(HeaderRequestID))
	})
}

func TestPanicRecovery(t *testing.T) {
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	mm := NewMonitoringMiddleware(metrics, zap.NewNop())

	r := gin.New()
	r.Use(mm.PanicRecovery(), mm.HTTPMetrics())
	r.GET("/boom", func(*gin.Context) { panic("boom") })
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := perform(r, http.MethodGet, "/boom", nil, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PanicsTotal))

	// 进程继续服务
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/ok", nil, "").Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/ok", "200")))
}

func TestValidateContentType(t *testing.T) {
	r := gin.New()
	r.Use(ValidateContentType("application/json"))
	r.GET("/p", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/p", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/p", nil, "").Code)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodPost, "/p", http.Header{"Content-Type": {"application/json; charset=utf-8"}}, "{}").Code)
	assert.Equal(t, http.StatusUnsupportedMediaType, perform(r, http.MethodPost, "/p", http.Header{"Content-Type": {"text/plain"}}, "x").Code)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodPost, "/p", nil, "").Code, "empty body carries no type")
}
