package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空只输出到控制台
}

// IMAPConfig 定义远端收件服务器与取回策略
type IMAPConfig struct {
	Host               string
	Port               int           // 默认 993（隐式 TLS）
	InsecureSkipVerify bool          // 跳过证书校验，仅用于测试环境
	ConnectTimeout     time.Duration // 建立会话超时，默认 30s
	FetchTimeout       time.Duration // 拉取邮件超时，默认 45s
	RetrievalTimeout   time.Duration // 整个取回（含分析）超时，默认 180s
	MaxMessages        int           // 取回窗口大小，默认 40
}

// SMTPConfig 定义外发邮件服务器
type SMTPConfig struct {
	Host               string
	Port               int           // 默认 465（隐式 TLS）
	InsecureSkipVerify bool          // 跳过证书校验，仅用于测试环境
	Timeout            time.Duration // 默认 30s
}

// EnrichConfig 定义文本分析服务配置
type EnrichConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	Timeout           time.Duration
	AnalysisBodyLimit int // 分析时正文截断长度，默认 4000
	ReplyBodyLimit    int // 起草回复时正文截断长度，默认 2000
	SubjectLimit      int // 主题截断长度，默认 200
}

// BatchConfig 定义分批分析策略
type BatchConfig struct {
	GroupSize int // 同时分析的邮件数，默认 2
	PageSize  int // 渐进加载每页邮件数，默认 4
}

// JWTConfig 定义 JWT 认证相关配置
type JWTConfig struct {
	Secret string        // JWT 签名密钥，必须至少 32 字符
	Issuer string        // JWT 签发者标识，默认 "inboxlens"
	Expiry time.Duration // 访问令牌有效期，默认 12 小时
}

// RedisConfig 定义 Redis 配置，地址为空时不启用
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// RateLimitConfig 定义请求限流配置
type RateLimitConfig struct {
	PerMinute int // 每个客户端每分钟允许的请求数，0 表示不限流
	Burst     int
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server    ServerConfig
	CORS      CORSConfig
	Log       LogConfig
	IMAP      IMAPConfig
	SMTP      SMTPConfig
	Enrich    EnrichConfig
	Batch     BatchConfig
	JWT       JWTConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
}

const defaultJWTSecret = "change-me-in-production"

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: INBOXLENS_
// 例如: INBOXLENS_IMAP_HOST, INBOXLENS_JWT_SECRET
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("inboxlens")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("imap.host", "mail.example.edu")
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.insecure_skip_verify", false)
	v.SetDefault("imap.connect_timeout", "30s")
	v.SetDefault("imap.fetch_timeout", "45s")
	v.SetDefault("imap.retrieval_timeout", "180s")
	v.SetDefault("imap.max_messages", 40)
	v.SetDefault("smtp.host", "mail.example.edu")
	v.SetDefault("smtp.port", 465)
	v.SetDefault("smtp.insecure_skip_verify", false)
	v.SetDefault("smtp.timeout", "30s")
	v.SetDefault("enrich.base_url", "https://api.openai.com/v1")
	v.SetDefault("enrich.api_key", "")
	v.SetDefault("enrich.model", "gpt-4o-mini")
	v.SetDefault("enrich.timeout", "60s")
	v.SetDefault("enrich.analysis_body_limit", 4000)
	v.SetDefault("enrich.reply_body_limit", 2000)
	v.SetDefault("enrich.subject_limit", 200)
	v.SetDefault("batch.group_size", 2)
	v.SetDefault("batch.page_size", 4)
	v.SetDefault("jwt.secret", defaultJWTSecret)
	v.SetDefault("jwt.issuer", "inboxlens")
	v.SetDefault("jwt.expiry", "12h")
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("ratelimit.per_minute", 60)
	v.SetDefault("ratelimit.burst", 20)

	connectTimeout, err := parseDuration(v, "imap.connect_timeout")
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := parseDuration(v, "imap.fetch_timeout")
	if err != nil {
		return nil, err
	}
	retrievalTimeout, err := parseDuration(v, "imap.retrieval_timeout")
	if err != nil {
		return nil, err
	}
	smtpTimeout, err := parseDuration(v, "smtp.timeout")
	if err != nil {
		return nil, err
	}
	enrichTimeout, err := parseDuration(v, "enrich.timeout")
	if err != nil {
		return nil, err
	}

	jwtExpiry, err := time.ParseDuration(v.GetString("jwt.expiry"))
	if err != nil {
		jwtExpiry = 12 * time.Hour
	}

	imapHost := strings.TrimSpace(v.GetString("imap.host"))
	if imapHost == "" {
		return nil, fmt.Errorf("imap.host must not be empty")
	}

	imapPort := v.GetInt("imap.port")
	if imapPort <= 0 || imapPort > 65535 {
		return nil, fmt.Errorf("imap.port must be between 1 and 65535")
	}

	maxMessages := v.GetInt("imap.max_messages")
	if maxMessages <= 0 {
		maxMessages = 40
	}

	groupSize := v.GetInt("batch.group_size")
	if groupSize <= 0 {
		groupSize = 2
	}
	pageSize := v.GetInt("batch.page_size")
	if pageSize <= 0 {
		pageSize = 4
	}

	corsOrigins := parseList(v.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	jwtSecret := v.GetString("jwt.secret")

	// 安全检查：禁止使用默认的 JWT secret
	if jwtSecret == defaultJWTSecret {
		return nil, fmt.Errorf("SECURITY ERROR: JWT secret cannot be the default value. Please set INBOXLENS_JWT_SECRET environment variable")
	}

	// JWT secret 必须至少 32 字符（同时用于派生凭据加密密钥）
	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("SECURITY ERROR: JWT secret must be at least 32 characters long")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       strings.ToLower(v.GetString("log.level")),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
		IMAP: IMAPConfig{
			Host:               imapHost,
			Port:               imapPort,
			InsecureSkipVerify: v.GetBool("imap.insecure_skip_verify"),
			ConnectTimeout:     connectTimeout,
			FetchTimeout:       fetchTimeout,
			RetrievalTimeout:   retrievalTimeout,
			MaxMessages:        maxMessages,
		},
		SMTP: SMTPConfig{
			Host:               v.GetString("smtp.host"),
			Port:               v.GetInt("smtp.port"),
			InsecureSkipVerify: v.GetBool("smtp.insecure_skip_verify"),
			Timeout:            smtpTimeout,
		},
		Enrich: EnrichConfig{
			BaseURL:           strings.TrimRight(v.GetString("enrich.base_url"), "/"),
			APIKey:            v.GetString("enrich.api_key"),
			Model:             v.GetString("enrich.model"),
			Timeout:           enrichTimeout,
			AnalysisBodyLimit: positiveOr(v.GetInt("enrich.analysis_body_limit"), 4000),
			ReplyBodyLimit:    positiveOr(v.GetInt("enrich.reply_body_limit"), 2000),
			SubjectLimit:      positiveOr(v.GetInt("enrich.subject_limit"), 200),
		},
		Batch: BatchConfig{
			GroupSize: groupSize,
			PageSize:  pageSize,
		},
		JWT: JWTConfig{
			Secret: jwtSecret,
			Issuer: v.GetString("jwt.issuer"),
			Expiry: jwtExpiry,
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		RateLimit: RateLimitConfig{
			PerMinute: v.GetInt("ratelimit.per_minute"),
			Burst:     positiveOr(v.GetInt("ratelimit.burst"), 1),
		},
	}

	return cfg, nil
}

// parseDuration 解析时长配置，必须为正数
func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func positiveOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env
//
// 文件不存在时静默跳过；已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
