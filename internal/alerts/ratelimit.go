package alerts

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MinInterval allows at most one event per interval. Zero or negative
// interval disables limiting.
type MinInterval struct {
	limiter *rate.Limiter
	now     func() time.Time
}

func NewMinInterval(interval time.Duration) *MinInterval {
	if interval <= 0 {
		return &MinInterval{now: time.Now}
	}
	return &MinInterval{
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		now:     time.Now,
	}
}

// Allow consumes the slot if available.
func (m *MinInterval) Allow() bool {
	if m.limiter == nil {
		return true
	}
	return m.limiter.AllowN(m.now(), 1)
}

// SlidingWindow caps events per key within a trailing window.
type SlidingWindow struct {
	window time.Duration
	max    int
	now    func() time.Time

	mu   sync.Mutex
	sent map[string][]time.Time
}

func NewSlidingWindow(window time.Duration, max int) *SlidingWindow {
	return &SlidingWindow{
		window: window,
		max:    max,
		now:    time.Now,
		sent:   make(map[string][]time.Time),
	}
}

// Allow records and permits the event unless the key already saw max
// events inside the window. Stale entries are pruned lazily on access.
func (w *SlidingWindow) Allow(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-w.window)

	kept := w.sent[key][:0]
	for _, t := range w.sent[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= w.max {
		w.sent[key] = kept
		return false
	}
	w.sent[key] = append(kept, now)
	return true
}
