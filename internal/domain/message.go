package domain

import "time"

// Message 表示从远端邮箱取回并规范化后的一封邮件。
//
// ID 在同一封邮件的多次取回之间保持稳定，用于增量刷新去重与分析结果缓存。
// 解析完成后不再修改。
type Message struct {
	ID      string    `json:"id"`
	Sender  string    `json:"sender"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Date    time.Time `json:"date"`
}

// Category 邮件分类（封闭集合）
type Category string

const (
	CategoryAcademicNotice Category = "academic-notice"
	CategoryDeadlineNotice Category = "deadline-notice"
	CategoryEventNotice    Category = "event-notice"
	CategoryGeneral        Category = "general"

	// DefaultCategory 无法识别或分析失败时使用的分类
	DefaultCategory = CategoryGeneral
)

// IsValid 判断分类是否属于封闭集合
func (c Category) IsValid() bool {
	switch c {
	case CategoryAcademicNotice, CategoryDeadlineNotice, CategoryEventNotice, CategoryGeneral:
		return true
	}
	return false
}

// EventType 提取事件的子类型
type EventType string

const (
	EventTypeExam     EventType = "exam"
	EventTypeDeadline EventType = "deadline"
	EventTypeEvent    EventType = "event"
)

// IsValid 判断事件子类型是否合法
func (t EventType) IsValid() bool {
	return t == EventTypeExam || t == EventTypeDeadline || t == EventTypeEvent
}

// Event 从邮件中提取出的结构化事件
type Event struct {
	Type EventType `json:"type"`
	Text string    `json:"text"`
}

// Analysis 一次文本分析的结果，也是分析缓存中保存的条目。
type Analysis struct {
	Category Category `json:"category"`
	Summary  string   `json:"summary"`
	Events   []Event  `json:"events"`
}

// 分析降级结果使用的固定文案
const (
	UnableToAnalyzeSummary = "Unable to analyze this email."
	MissingSummary         = "No summary available."
)

// DefaultAnalysis 返回降级分析结果（默认分类、固定摘要、空事件列表）
func DefaultAnalysis() Analysis {
	return Analysis{
		Category: DefaultCategory,
		Summary:  UnableToAnalyzeSummary,
		Events:   []Event{},
	}
}

// EnrichedMessage 附带分析结果的邮件，创建后不再修改。
type EnrichedMessage struct {
	Message
	Category *Category `json:"category,omitempty"`
	Summary  *string   `json:"summary,omitempty"`
	Events   []Event   `json:"events,omitempty"`
}

// NewEnrichedMessage 组合邮件与分析结果
func NewEnrichedMessage(msg Message, analysis Analysis) EnrichedMessage {
	category := analysis.Category
	summary := analysis.Summary
	events := make([]Event, len(analysis.Events))
	copy(events, analysis.Events)

	return EnrichedMessage{
		Message:  msg,
		Category: &category,
		Summary:  &summary,
		Events:   events,
	}
}

// ReplyDraft 回复草稿
type ReplyDraft struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Credentials 访问远端邮箱所需的账号与凭据
type Credentials struct {
	Account string
	Secret  string
}

// OutgoingMail 外发邮件
type OutgoingMail struct {
	To       string
	Subject  string
	HTMLBody string
	ReplyTo  string
}
