// Package throttle bounds how often a class of updates may reach the store.
//
// The limiter is lossy: an update arriving inside the window is dropped, not
// queued. Callers merge every update into their own state before asking, so
// the next allowed update always carries the latest value.
package throttle

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Class names a stream of updates throttled independently of the others.
type Class string

const (
	ClassStatus Class = "status"
)

// Throttle admits at most one update per class per window.
type Throttle struct {
	window time.Duration

	mu       sync.Mutex
	limiters map[Class]*rate.Limiter
	dropped  map[Class]int64
}

// New creates a Throttle. A non-positive window admits everything.
func New(window time.Duration) *Throttle {
	return &Throttle{
		window:   window,
		limiters: make(map[Class]*rate.Limiter),
		dropped:  make(map[Class]int64),
	}
}

// Allow reports whether an update of the given class arriving at now may pass.
func (t *Throttle) Allow(class Class, now time.Time) bool {
	if t.window <= 0 {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	lim, ok := t.limiters[class]
	if !ok {
		lim = rate.NewLimiter(rate.Every(t.window), 1)
		t.limiters[class] = lim
	}

	if lim.AllowN(now, 1) {
		return true
	}
	t.dropped[class]++
	return false
}

// Dropped returns how many updates of the class were rejected.
func (t *Throttle) Dropped(class Class) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped[class]
}

// Window returns the configured minimum interval.
func (t *Throttle) Window() time.Duration {
	return t.window
}
