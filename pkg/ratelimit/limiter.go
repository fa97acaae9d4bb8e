package ratelimit

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

// Window implements a sliding-window log: it keeps the arrival times of
// the last max admitted requests and admits a new one while fewer than
// max of them fall inside the interval.
type Window struct {
	max      int
	interval time.Duration
	clock    clock.Clock
	hits     []time.Time // oldest first
	lastSeen time.Time
	mu       sync.Mutex
}

// NewWindow creates a window admitting max requests per interval
func NewWindow(max int, interval time.Duration, clk clock.Clock) *Window {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Window{
		max:      max,
		interval: interval,
		clock:    clk,
		hits:     make([]time.Time, 0, max),
		lastSeen: clk.Now(),
	}
}

// Allow records a request and reports whether it is admitted.
// Rejected requests are not recorded.
func (w *Window) Allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	w.lastSeen = now
	w.evict(now)
	if len(w.hits) >= w.max {
		return false
	}
	w.hits = append(w.hits, now)
	return true
}

// evict drops arrivals older than the interval
func (w *Window) evict(now time.Time) {
	cutoff := now.Add(-w.interval)
	n := 0
	for n < len(w.hits) && !w.hits[n].After(cutoff) {
		n++
	}
	if n > 0 {
		w.hits = append(w.hits[:0], w.hits[n:]...)
	}
}

// Count returns the number of requests inside the current window
func (w *Window) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(w.clock.Now())
	return len(w.hits)
}

// Reset forgets every recorded request
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hits = w.hits[:0]
}

func (w *Window) idleSince() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeen
}

// RateLimiter manages one window per key
type RateLimiter struct {
	windows  map[string]*Window
	max      int
	interval time.Duration
	clock    clock.Clock
	mu       sync.RWMutex
	ttl      time.Duration // Time to keep idle windows in memory
	done     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter
// max: requests admitted per interval for each key
// ttl: time to keep idle windows in memory (0 = forever)
func NewRateLimiter(max int, interval, ttl time.Duration, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.WallClock
	}
	rl := &RateLimiter{
		windows:  make(map[string]*Window),
		max:      max,
		interval: interval,
		clock:    clk,
		ttl:      ttl,
		done:     make(chan struct{}),
	}

	if ttl > 0 {
		go rl.cleanup()
	}
	return rl
}

// Allow checks if a request for the given key should be allowed
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	w, exists := rl.windows[key]
	if !exists {
		w = NewWindow(rl.max, rl.interval, rl.clock)
		rl.windows[key] = w
	}
	rl.mu.Unlock()

	return w.Allow()
}

// Reset clears the window of a specific key
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if w, exists := rl.windows[key]; exists {
		w.Reset()
	}
}

// Remove removes a specific key from the rate limiter
func (rl *RateLimiter) Remove(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.windows, key)
}

// Stop ends the cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

func (rl *RateLimiter) cleanup() {
	for {
		select {
		case <-rl.done:
			return
		case <-rl.clock.After(rl.ttl):
			rl.Sweep()
		}
	}
}

// Sweep removes windows idle for longer than the ttl
func (rl *RateLimiter) Sweep() int {
	if rl.ttl <= 0 {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.clock.Now()
	removed := 0
	for key, w := range rl.windows {
		if now.Sub(w.idleSince()) > rl.ttl {
			delete(rl.windows, key)
			removed++
		}
	}
	return removed
}

// Stats returns statistics about the rate limiter
type Stats struct {
	ActiveWindows int
	MaxReqs       int
	Interval      time.Duration
}

// GetStats returns current statistics
func (rl *RateLimiter) GetStats() Stats {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return Stats{
		ActiveWindows: len(rl.windows),
		MaxReqs:       rl.max,
		Interval:      rl.interval,
	}
}
