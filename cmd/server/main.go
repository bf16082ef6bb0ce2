package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"inboxlens/backend/internal/auth"
	jwtpkg "inboxlens/backend/internal/auth/jwt"
	"inboxlens/backend/internal/cache"
	"inboxlens/backend/internal/config"
	"inboxlens/backend/internal/enrich"
	"inboxlens/backend/internal/health"
	"inboxlens/backend/internal/imap"
	"inboxlens/backend/internal/logger"
	"inboxlens/backend/internal/middleware"
	"inboxlens/backend/internal/monitoring"
	"inboxlens/backend/internal/security"
	"inboxlens/backend/internal/service"
	"inboxlens/backend/internal/smtp"
	"inboxlens/backend/internal/storage/redis"
	httptransport "inboxlens/backend/internal/transport/http"
)

// main 启动 HTTP API 服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting inboxlens server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.String("imap_host", cfg.IMAP.Host),
		zap.Int("window", cfg.IMAP.MaxMessages),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("Server error", zap.Error(err))
	}
	log.Info("Server exited cleanly")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	metrics := monitoring.NewMetrics(nil)

	// 可选的 Redis，用于跨实例共享限流计数
	var counter middleware.WindowCounter
	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		client, err := redis.New(ctx, cfg.Redis, log)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		redisClient = client
		counter = client
	}

	tokens, err := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiry)
	if err != nil {
		return err
	}
	log.Info("JWT configuration",
		zap.String("issuer", cfg.JWT.Issuer),
		zap.Duration("expiry", cfg.JWT.Expiry),
	)

	// 收信
	dialer := imap.NewDialer(imap.Options{
		Host:               cfg.IMAP.Host,
		Port:               cfg.IMAP.Port,
		InsecureSkipVerify: cfg.IMAP.InsecureSkipVerify,
		ConnectTimeout:     cfg.IMAP.ConnectTimeout,
		FetchTimeout:       cfg.IMAP.FetchTimeout,
	}, log.Named("imap"), metrics)
	fetcher := imap.NewFetcher(dialer, log.Named("imap"), metrics)

	// 分析
	enricher := enrich.NewClient(enrich.Options{
		BaseURL:           cfg.Enrich.BaseURL,
		APIKey:            cfg.Enrich.APIKey,
		Model:             cfg.Enrich.Model,
		Timeout:           cfg.Enrich.Timeout,
		AnalysisBodyLimit: cfg.Enrich.AnalysisBodyLimit,
		ReplyBodyLimit:    cfg.Enrich.ReplyBodyLimit,
		SubjectLimit:      cfg.Enrich.SubjectLimit,
	}, log.Named("enrich"), metrics)
	memo := cache.NewAnalysisMemo()
	batch := service.NewBatchOrchestrator(enricher, memo, log.Named("batch"), metrics)

	retrieval := service.NewRetrievalService(fetcher, batch, service.RetrievalOptions{
		Window:    cfg.IMAP.MaxMessages,
		PageSize:  cfg.Batch.PageSize,
		GroupSize: cfg.Batch.GroupSize,
		Timeout:   cfg.IMAP.RetrievalTimeout,
	}, log.Named("retrieval"))

	// 发信
	sender := smtp.NewSender(smtp.Options{
		Host:               cfg.SMTP.Host,
		Port:               cfg.SMTP.Port,
		Timeout:            cfg.SMTP.Timeout,
		InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
	}, log.Named("smtp"), metrics)
	replies := service.NewReplyService(enricher, sender, log.Named("reply")).
		WithContentChecker(security.NewContentFilter())

	authService := auth.NewService(retrieval, tokens, log.Named("auth"))

	healthDeps := health.Dependencies{
		IMAPAddress: dialer.Address(),
		SMTPAddress: sender.Address(),
	}
	if redisClient != nil {
		healthDeps.Redis = redisClient
	}
	healthChecker := health.NewHealthChecker(healthDeps, log.Named("health"))

	alerts := monitoring.NewAlertManager(log.Named("alert"))
	alerts.AddReceiver(monitoring.NewLogAlertReceiver(log.Named("alert")))
	alerts.AddRule(monitoring.HighMemoryUsageRule(512))
	alerts.AddRule(monitoring.ProviderAuthRule(metrics))
	alerts.AddRule(monitoring.MailboxErrorSurgeRule(metrics, 20))

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst, counter, metrics, log.Named("ratelimit"))

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:        cfg,
		AuthService:   authService,
		Authenticator: authService,
		Retrieval:     retrieval,
		Replies:       replies,
		RateLimiter:   rateLimiter,
		Health:        healthChecker,
		Metrics:       metrics,
		Logger:        log,
	})

	httpAddr := cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// 一次取回最长可达 RetrievalTimeout，写超时必须覆盖它
		WriteTimeout: cfg.IMAP.RetrievalTimeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("Starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		rateLimiter.RunCleanup(groupCtx, 5*time.Minute)
		return nil
	})

	group.Go(func() error {
		alerts.StartMonitoring(groupCtx, time.Minute)
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("Shutdown signal received, gracefully shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		log.Info("HTTP server stopped", zap.Int("memo_entries", memo.Len()))
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
