package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"inboxlens/backend/internal/domain"
)

// DraftRequest 起草或修改回复的请求
type DraftRequest struct {
	Subject          string
	Body             string
	Intent           string
	RefinementIntent string // 非空时在 CurrentDraft 基础上修改
	CurrentDraft     string
}

// IsRefinement 判断是否为修改已有草稿
func (r DraftRequest) IsRefinement() bool {
	return strings.TrimSpace(r.RefinementIntent) != "" && strings.TrimSpace(r.CurrentDraft) != ""
}

// DraftReply 起草回复。与 Analyze 不同，服务错误会原样返回给调用方。
func (c *Client) DraftReply(ctx context.Context, req DraftRequest) (*domain.ReplyDraft, error) {
	subject := Truncate(req.Subject, c.opts.SubjectLimit)
	body := Truncate(req.Body, c.opts.ReplyBodyLimit)

	var prompt string
	if req.IsRefinement() {
		prompt = refinementPrompt(subject, body, req.CurrentDraft, req.RefinementIntent)
	} else {
		prompt = replyPrompt(subject, body, req.Intent)
	}

	content, err := c.complete(ctx, "draft", prompt)
	if err != nil {
		return nil, err
	}

	return parseDraft(content, req.Subject)
}

// parseDraft 解析回复草稿；没有 JSON 时把整段内容作为正文
func parseDraft(content, originalSubject string) (*domain.ReplyDraft, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("empty draft from enrichment provider")
	}

	draft := &domain.ReplyDraft{}
	if payload, ok := ExtractJSON(content); ok {
		if err := json.Unmarshal([]byte(payload), draft); err != nil {
			return nil, fmt.Errorf("decode draft: %w", err)
		}
	} else {
		draft.Body = content
	}

	draft.Subject = strings.TrimSpace(draft.Subject)
	draft.Body = strings.TrimSpace(draft.Body)
	if draft.Body == "" {
		return nil, errors.New("draft has no body")
	}
	if draft.Subject == "" {
		draft.Subject = ReplySubject(originalSubject)
	}
	return draft, nil
}

// ReplySubject 在原主题前加 "Re: "，已有前缀时保持不变
func ReplySubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}
