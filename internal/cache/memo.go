package cache

import (
	"sync"
	"sync/atomic"

	"inboxlens/backend/internal/domain"
)

// Memo 分析结果缓存接口，按邮件标识存取
type Memo interface {
	Get(id string) (domain.Analysis, bool)
	Put(id string, analysis domain.Analysis)
}

// AnalysisMemo 进程内分析结果缓存
//
// 特点：
// - 使用 sync.Map 实现无锁读取
// - 写入一次后不再覆盖（邮件内容在投递后不会变化）
// - 不过期，随进程重启清空
type AnalysisMemo struct {
	data sync.Map
	size atomic.Int64
}

// NewAnalysisMemo 创建分析结果缓存
func NewAnalysisMemo() *AnalysisMemo {
	return &AnalysisMemo{}
}

// Get 获取缓存的分析结果
func (m *AnalysisMemo) Get(id string) (domain.Analysis, bool) {
	val, ok := m.data.Load(id)
	if !ok {
		return domain.Analysis{}, false
	}
	return cloneAnalysis(val.(domain.Analysis)), true
}

// Put 写入分析结果，已存在的条目保持不变
func (m *AnalysisMemo) Put(id string, analysis domain.Analysis) {
	if _, loaded := m.data.LoadOrStore(id, cloneAnalysis(analysis)); !loaded {
		m.size.Add(1)
	}
}

// Len 返回缓存条目数
func (m *AnalysisMemo) Len() int {
	return int(m.size.Load())
}

// cloneAnalysis 复制事件切片，避免调用方修改缓存内容
func cloneAnalysis(a domain.Analysis) domain.Analysis {
	events := make([]domain.Event, len(a.Events))
	copy(events, a.Events)
	a.Events = events
	return a
}
