package tools

import (
	"context"
	"sync"
	"time"
)

type toolUserContextKey struct{}

// WithToolUser tags ctx with the user a function call runs for.
func WithToolUser(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, toolUserContextKey{}, userID)
}

func ToolUserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(toolUserContextKey{}).(string)
	return userID, ok && userID != ""
}

// toolRateLimiter is a sliding window limiter keyed by caller.
type toolRateLimiter struct {
	limit  int
	window time.Duration
	mu     sync.Mutex
	hits   map[string][]time.Time
	now    func() time.Time
}

func newToolRateLimiter(limit int, window time.Duration) *toolRateLimiter {
	return &toolRateLimiter{limit: limit, window: window, hits: make(map[string][]time.Time), now: time.Now}
}

func (l *toolRateLimiter) Allow(key string) bool {
	if l.limit <= 0 {
		return true
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	queue := l.hits[key]
	cutoff := now.Add(-l.window)
	idx := 0
	for _, t := range queue {
		if t.After(cutoff) {
			break
		}
		idx++
	}
	queue = queue[idx:]
	if len(queue) >= l.limit {
		l.hits[key] = queue
		return false
	}
	l.hits[key] = append(queue, now)
	return true
}
