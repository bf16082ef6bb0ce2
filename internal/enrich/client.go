// Package enrich 调用兼容 OpenAI chat completions 协议的文本分析服务，
// 为邮件生成分类、摘要与事件，并起草回复。
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"inboxlens/backend/internal/domain"
	"inboxlens/backend/internal/monitoring"
)

const (
	// TruncationMarker 截断后追加的可见标记
	TruncationMarker = "...[truncated]"

	errorBodyLimit = 200
	maxResponse    = 1 << 20
)

// Options 分析服务参数
type Options struct {
	BaseURL           string
	APIKey            string
	Model             string
	Timeout           time.Duration
	AnalysisBodyLimit int
	ReplyBodyLimit    int
	SubjectLimit      int
}

// Client 分析服务客户端，可并发使用
type Client struct {
	opts       Options
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *monitoring.Metrics
}

// NewClient 创建分析服务客户端
func NewClient(opts Options, logger *zap.Logger, metrics *monitoring.Metrics) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.AnalysisBodyLimit <= 0 {
		opts.AnalysisBodyLimit = 4000
	}
	if opts.ReplyBodyLimit <= 0 {
		opts.ReplyBodyLimit = 2000
	}
	if opts.SubjectLimit <= 0 {
		opts.SubjectLimit = 200
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     logger,
		metrics:    metrics,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// complete 发送单条用户消息并返回第一条回复内容
func (c *Client) complete(ctx context.Context, operation, prompt string) (string, error) {
	start := time.Now()
	content, err := c.doComplete(ctx, prompt)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		var upstream *domain.UpstreamError
		switch {
		case errors.Is(err, domain.ErrProviderAuth):
			outcome = "unauthorized"
		case errors.As(err, &upstream):
			outcome = "upstream_error"
		}
	}
	c.metrics.RecordEnrichCall(operation, outcome, time.Since(start))

	return content, err
}

func (c *Client) doComplete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.opts.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", domain.ErrProviderAuth
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", &domain.UpstreamError{
			Status: resp.StatusCode,
			Body:   truncateRunes(string(body), errorBodyLimit),
		}
	}

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("completion response has no choices")
	}

	return decoded.Choices[0].Message.Content, nil
}

// Truncate 超过 limit 个字符时截断并追加 TruncationMarker
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + TruncationMarker
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
