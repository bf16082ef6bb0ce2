package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inboxlens/backend/internal/config"
	"inboxlens/backend/internal/health"
	"inboxlens/backend/internal/middleware"
	"inboxlens/backend/internal/monitoring"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config        *config.Config
	AuthService   LoginService
	Authenticator middleware.Authenticator
	Retrieval     MailboxRetriever
	Replies       ReplyComposer
	RateLimiter   *middleware.RateLimiter // 可为 nil
	Health        *health.HealthChecker   // 可为 nil
	Metrics       *monitoring.Metrics     // 可为 nil
	Logger        *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()

	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, log)
	router.Use(monitor.PanicRecovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	if deps.Metrics != nil {
		router.Use(monitor.HTTPMetrics(), monitor.SystemMetrics())
	}

	router.Use(gincors.New(corsConfig(deps.Config.CORS.AllowedOrigins)))

	authHandler := NewAuthHandler(deps.AuthService, log)
	emailHandler := NewEmailHandler(deps.Retrieval, log)
	replyHandler := NewReplyHandler(deps.Replies, log)
	jwtAuth := middleware.NewJWTAuth(deps.Authenticator, log)

	registerHealthRoutes(router, deps.Health)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	// V1 API
	v1 := router.Group("/v1")
	v1.Use(middleware.ValidateContentType("application/json"))
	if deps.RateLimiter != nil {
		v1.Use(deps.RateLimiter.Handler())
	}
	{
		authRoutes := v1.Group("/auth", middleware.BodySizeLimit(middleware.DefaultBodyLimit))
		{
			authRoutes.POST("/login", authHandler.Login)
		}

		emailRoutes := v1.Group("/emails", jwtAuth.RequireAuth(), middleware.BodySizeLimit(middleware.DefaultBodyLimit))
		{
			emailRoutes.GET("/progressive", emailHandler.Progressive)
			emailRoutes.POST("/refresh", emailHandler.Refresh)
		}

		replyRoutes := v1.Group("/replies", jwtAuth.RequireAuth(), middleware.BodySizeLimit(middleware.ReplyBodyLimit))
		{
			replyRoutes.POST("/draft", replyHandler.Draft)
			replyRoutes.POST("/send", replyHandler.Send)
		}
	}

	return router
}

// corsConfig 允许所有来源时不携带凭证
func corsConfig(origins []string) gincors.Config {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cfg := gincors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderRequestID},
		ExposeHeaders:    []string{"Content-Length", middleware.HeaderRequestID, "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowOrigins = nil
			cfg.AllowAllOrigins = true
			cfg.AllowCredentials = false
			break
		}
	}
	return cfg
}

func registerHealthRoutes(router *gin.Engine, hc *health.HealthChecker) {
	if hc == nil {
		router.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
		return
	}

	router.GET("/health", func(c *gin.Context) {
		results, healthy := hc.CheckHealth()
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": statusText(healthy), "checks": results})
	})
	router.GET("/health/live", gin.WrapF(hc.LiveHandler()))
	router.GET("/health/ready", gin.WrapF(hc.ReadyHandler()))
}

func statusText(healthy bool) string {
	if healthy {
		return "ok"
	}
	return "degraded"
}
