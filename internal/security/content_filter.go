package security

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrUnsafeContent 外发内容包含可执行的脚本或嵌入对象
var ErrUnsafeContent = errors.New("reply contains active content")

// ContentFilter 外发 HTML 内容过滤器
//
// 回复正文大多由模型生成后经用户修改，发送前拒绝带有脚本、事件处理器
// 或嵌入对象的 HTML，避免以用户账号的名义发出可执行内容。
type ContentFilter struct {
	activePatterns []*regexp.Regexp
}

// NewContentFilter 创建内容过滤器
func NewContentFilter() *ContentFilter {
	return &ContentFilter{
		activePatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?is)<script[^>]*>`),
			regexp.MustCompile(`(?i)javascript\s*:`),
			regexp.MustCompile(`(?i)vbscript\s*:`),
			regexp.MustCompile(`(?i)\son[a-z]+\s*=`),
			regexp.MustCompile(`(?i)<iframe[^>]*>`),
			regexp.MustCompile(`(?i)<object[^>]*>`),
			regexp.MustCompile(`(?i)<embed[^>]*>`),
			regexp.MustCompile(`(?i)<meta[^>]*http-equiv\s*=\s*["']?refresh`),
		},
	}
}

// CheckOutbound 检查外发 HTML，命中任一规则时返回 ErrUnsafeContent
func (cf *ContentFilter) CheckOutbound(html string) error {
	for _, pattern := range cf.activePatterns {
		if loc := pattern.FindStringIndex(html); loc != nil {
			return fmt.Errorf("%w near offset %d", ErrUnsafeContent, loc[0])
		}
	}
	return nil
}
