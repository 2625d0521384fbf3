package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/webpods-org/webpods/core"
)

type slidingEntry struct {
	timestamp int64 // epoch millis
	count     int
}

// MemorySlidingWindow is the in-process limiter. Each (identifier, action)
// key holds a list of (timestamp, count) entries trimmed to the window.
type MemorySlidingWindow struct {
	mutex   sync.Mutex
	buckets map[string][]slidingEntry
	limits  Limits
	done    chan struct{}
	once    sync.Once
	now     func() time.Time
}

// NewMemorySlidingWindow creates an in-memory sliding window limiter.
func NewMemorySlidingWindow(limits Limits) *MemorySlidingWindow {
	l := &MemorySlidingWindow{
		buckets: make(map[string][]slidingEntry),
		limits:  limits.normalized(),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go l.cleanupLoop()
	return l
}

func bucketKey(identifier string, action core.Action) string {
	return identifier + "\x00" + string(action)
}

// CheckAndIncrement counts the call and reports whether it is allowed.
func (l *MemorySlidingWindow) CheckAndIncrement(ctx context.Context, identifier string, action core.Action) (Result, error) {
	limit := l.limits.limitFor(action)
	now := l.now().UnixMilli()
	windowStart := now - l.limits.WindowMS

	l.mutex.Lock()
	defer l.mutex.Unlock()

	key := bucketKey(identifier, action)
	entries := l.buckets[key]
	trimmed := entries[:0]
	used := 0
	for _, e := range entries {
		if e.timestamp > windowStart {
			trimmed = append(trimmed, e)
			used += e.count
		}
	}

	resetAt := now + l.limits.WindowMS
	if len(trimmed) > 0 {
		resetAt = trimmed[0].timestamp + l.limits.WindowMS
	}

	if used >= limit {
		l.buckets[key] = trimmed
		return Result{Allowed: false, Remaining: 0, Limit: limit, ResetAt: resetAt}, nil
	}

	if n := len(trimmed); n > 0 && trimmed[n-1].timestamp == now {
		trimmed[n-1].count++
	} else {
		trimmed = append(trimmed, slidingEntry{timestamp: now, count: 1})
	}
	l.buckets[key] = trimmed
	return Result{Allowed: true, Remaining: limit - used - 1, Limit: limit, ResetAt: resetAt}, nil
}

func (l *MemorySlidingWindow) cleanupLoop() {
	ticker := time.NewTicker(time.Duration(l.limits.CleanupIntervalMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func (l *MemorySlidingWindow) cleanup() {
	windowStart := l.now().UnixMilli() - l.limits.WindowMS
	l.mutex.Lock()
	defer l.mutex.Unlock()
	for key, entries := range l.buckets {
		trimmed := entries[:0]
		for _, e := range entries {
			if e.timestamp > windowStart {
				trimmed = append(trimmed, e)
			}
		}
		if len(trimmed) == 0 {
			delete(l.buckets, key)
		} else {
			l.buckets[key] = trimmed
		}
	}
}

// Shutdown stops the background cleanup.
func (l *MemorySlidingWindow) Shutdown() {
	l.once.Do(func() { close(l.done) })
}
