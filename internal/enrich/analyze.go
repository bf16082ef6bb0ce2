package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"inboxlens/backend/internal/domain"
)

var (
	jsonFence  = regexp.MustCompile("(?s)```json\\s*(.*?)```")
	bareFence  = regexp.MustCompile("(?s)```\\s*(.*?)```")
	objectSpan = regexp.MustCompile(`(?s)\{.*\}`)
)

var errNoJSON = errors.New("no JSON object in completion")

// Analyze 为一封邮件生成分类、摘要与事件。
//
// 该方法从不返回错误：主题与正文均为空时直接返回默认结果且不调用服务；
// 调用失败或回复无法解析时同样返回 domain.DefaultAnalysis()。
func (c *Client) Analyze(ctx context.Context, subject, body string) domain.Analysis {
	if strings.TrimSpace(subject) == "" && strings.TrimSpace(body) == "" {
		return domain.DefaultAnalysis()
	}

	prompt := analysisPrompt(
		Truncate(subject, c.opts.SubjectLimit),
		Truncate(body, c.opts.AnalysisBodyLimit),
	)

	content, err := c.complete(ctx, "analyze", prompt)
	if err != nil {
		level := c.logger.Warn
		if errors.Is(err, domain.ErrProviderAuth) {
			level = c.logger.Error
		}
		level("Email analysis failed, using default result", zap.Error(err))
		return domain.DefaultAnalysis()
	}

	analysis, err := ParseAnalysis(content)
	if err != nil {
		c.logger.Warn("Unparsable analysis response, using default result",
			zap.Error(err),
			zap.String("content", truncateRunes(content, errorBodyLimit)),
		)
		return domain.DefaultAnalysis()
	}
	return analysis
}

type rawEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type rawAnalysis struct {
	Category string     `json:"category"`
	Summary  *string    `json:"summary"`
	Events   []rawEvent `json:"events"`
}

// ParseAnalysis 从回复中提取 JSON 并校验字段。
//
// 分类不在封闭集合内时归为 general，缺少摘要时使用占位文本，
// 缺少事件时返回空列表，未知事件类型归为 event。
func ParseAnalysis(content string) (domain.Analysis, error) {
	payload, ok := ExtractJSON(content)
	if !ok {
		return domain.Analysis{}, errNoJSON
	}

	var raw rawAnalysis
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return domain.Analysis{}, err
	}

	analysis := domain.Analysis{
		Category: domain.Category(strings.ToLower(strings.TrimSpace(raw.Category))),
		Summary:  domain.MissingSummary,
		Events:   make([]domain.Event, 0, len(raw.Events)),
	}
	if !analysis.Category.IsValid() {
		analysis.Category = domain.DefaultCategory
	}
	if raw.Summary != nil && strings.TrimSpace(*raw.Summary) != "" {
		analysis.Summary = strings.TrimSpace(*raw.Summary)
	}

	for _, ev := range raw.Events {
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			continue
		}
		eventType := domain.EventType(strings.ToLower(strings.TrimSpace(ev.Type)))
		if !eventType.IsValid() {
			eventType = domain.EventTypeEvent
		}
		analysis.Events = append(analysis.Events, domain.Event{Type: eventType, Text: text})
	}

	return analysis, nil
}

// ExtractJSON 依次尝试 ```json 代码块、普通代码块与第一个 {...} 片段
func ExtractJSON(content string) (string, bool) {
	for _, fence := range []*regexp.Regexp{jsonFence, bareFence} {
		if m := fence.FindStringSubmatch(content); m != nil {
			if inner := strings.TrimSpace(m[1]); inner != "" {
				return inner, true
			}
		}
	}

	if span := objectSpan.FindString(content); span != "" {
		return span, true
	}
	return "", false
}
