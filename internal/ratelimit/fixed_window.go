package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count     int
	expiresAt time.Time
}

// FixedWindow counts requests per key in non-overlapping windows. A window
// starts on the first request after the previous one expired.
type FixedWindow struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

func NewFixedWindow(limit int, d time.Duration) *FixedWindow {
	return &FixedWindow{
		limit:   limit,
		window:  d,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

func (l *FixedWindow) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		l.windows[key] = &window{count: 1, expiresAt: now.Add(l.window)}
		return true, nil
	}
	if w.count >= l.limit {
		return false, nil
	}
	w.count++
	return true, nil
}

// Sweep drops expired windows. Expired entries are otherwise only replaced
// when their key shows up again.
func (l *FixedWindow) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		if !now.Before(w.expiresAt) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (l *FixedWindow) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
