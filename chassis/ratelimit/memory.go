package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count       int
	windowStart time.Time
}

// MemLimiter - in-process fixed windows for tests and the local
// harness. Same semantics as PGLimiter minus durability.
type MemLimiter struct {
	mu      sync.Mutex
	windows map[string]*window

	// Now is injectable so tests can roll windows without sleeping.
	Now func() time.Time
}

// NewMemLimiter - ...
func NewMemLimiter() *MemLimiter {
	return &MemLimiter{
		windows: map[string]*window{},
		Now:     time.Now,
	}
}

// CheckAndConsume - ...
func (l *MemLimiter) CheckAndConsume(ctx context.Context, resource string, maxExecutions, windowSeconds int) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.Now()
	size := time.Duration(windowSeconds) * time.Second
	win, ok := l.windows[resource]
	if !ok || !now.Before(win.windowStart.Add(size)) {
		l.windows[resource] = &window{count: 1, windowStart: now}
		return Decision{Allowed: true, Remaining: maxExecutions - 1, ResetAt: now.Add(size)}
	}
	if win.count >= maxExecutions {
		return Decision{Allowed: false, Remaining: 0, ResetAt: win.windowStart.Add(size)}
	}
	win.count++
	return Decision{
		Allowed:   true,
		Remaining: maxExecutions - win.count,
		ResetAt:   win.windowStart.Add(size),
	}
}
