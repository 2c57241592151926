package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/tripsitter/internal/identity"
)

// Throttle is an in-memory sliding-window limiter for request bursts. It
// guards expensive endpoints per client IP and is independent of the daily
// trip quotas.
type Throttle struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
	done     chan struct{}
	stopOnce sync.Once
}

// NewThrottle creates a throttle and starts its background eviction goroutine.
// Call Stop to release it.
func NewThrottle(limit int, window time.Duration) *Throttle {
	t := &Throttle{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	go t.evictLoop()
	return t
}

// Allow records a request for key and reports whether it is within the limit.
// When denied, it also returns how long until the oldest request leaves the window.
func (t *Throttle) Allow(key string) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	recent := t.fresh(t.requests[key], now)

	if len(recent) >= t.limit {
		t.requests[key] = recent
		return false, recent[0].Add(t.window).Sub(now)
	}

	t.requests[key] = append(recent, now)
	return true, 0
}

func (t *Throttle) fresh(times []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-t.window)
	var recent []time.Time
	for _, ts := range times {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	return recent
}

// evictLoop periodically removes idle keys so the map does not grow without bound.
func (t *Throttle) evictLoop() {
	ticker := time.NewTicker(t.window)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.evict()
		}
	}
}

func (t *Throttle) evict() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for key, times := range t.requests {
		if recent := t.fresh(times, now); len(recent) == 0 {
			delete(t.requests, key)
		} else {
			t.requests[key] = recent
		}
	}
}

// Stop ends the eviction goroutine.
func (t *Throttle) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
}

// Handler rejects requests over the limit with 429, keyed by client IP.
func (t *Throttle) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := t.Allow(identity.IPFromRequest(r))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":"too many requests","reason":"throttled"}`)
			return
		}
		next.ServeHTTP(w, r)
	})
}
