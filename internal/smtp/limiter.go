package smtp

import (
	"sync"

	"golang.org/x/time/rate"
)

// ConnectionLimiter 外发会话限流器：限制并发会话数与新建会话速率
type ConnectionLimiter struct {
	maxConns int
	current  int
	mu       sync.Mutex
	rate     *rate.Limiter
}

// NewConnectionLimiter 创建连接限流器
//
// 参数:
//   - maxConns: 最大并发会话数
//   - maxRate: 每秒最大新建会话数
func NewConnectionLimiter(maxConns, maxRate int) *ConnectionLimiter {
	if maxConns <= 0 {
		maxConns = 1
	}
	if maxRate <= 0 {
		maxRate = 1
	}
	return &ConnectionLimiter{
		maxConns: maxConns,
		rate:     rate.NewLimiter(rate.Limit(maxRate), maxRate),
	}
}

// Acquire 获取会话许可，失败时不阻塞
func (l *ConnectionLimiter) Acquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current >= l.maxConns {
		return false
	}
	if !l.rate.Allow() {
		return false
	}

	l.current++
	return true
}

// Release 释放会话许可
func (l *ConnectionLimiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current > 0 {
		l.current--
	}
}

// Current 当前会话数
func (l *ConnectionLimiter) Current() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}
