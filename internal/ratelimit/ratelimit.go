package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	count     int
	expiresAt time.Time
}

// Limiter 固定窗口计数限流器，按 (device, client-address) 键限流。
// 仅进程内有效；多实例部署需要替换为共享计数器。
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewLimiter 创建限流器实例（状态随进程重启清零）
func NewLimiter() *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow reports whether one more request under key fits inside the current
// window. A fresh or expired bucket restarts the window with count=1.
func (l *Limiter) Allow(key string, limit int, window time.Duration) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || b.expiresAt.Before(now) {
		l.buckets[key] = &bucket{count: 1, expiresAt: now.Add(window)}
		return true
	}

	if b.count >= limit {
		return false
	}

	b.count++
	return true
}

// Prune 清理过期桶，避免长驻进程内存增长
func (l *Limiter) Prune() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if b.expiresAt.Before(now) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}
