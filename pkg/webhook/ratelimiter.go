package webhook

import (
	"sync"
	"time"
)

const slidingWindow = time.Minute

// RateLimiter applies a per-IP sliding window limit.
type RateLimiter struct {
	mu        sync.Mutex
	requests  map[string][]time.Time
	perMinute int
	done      chan struct{}
	stopOnce  sync.Once
}

// NewRateLimiter creates a limiter allowing perMinute requests per IP
// and starts a background sweep of idle entries.
func NewRateLimiter(perMinute int) *RateLimiter {
	rl := &RateLimiter{
		requests:  make(map[string][]time.Time),
		perMinute: perMinute,
		done:      make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// Allow records and admits a request from ip, or rejects it when the
// window is full.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	recent := pruneOlderThan(rl.requests[ip], now.Add(-slidingWindow))
	if len(recent) >= rl.perMinute {
		rl.requests[ip] = recent
		return false
	}
	rl.requests[ip] = append(recent, now)
	return true
}

// RetryAfter reports how many seconds until the oldest request in the
// window expires, rounded up.
func (rl *RateLimiter) RetryAfter(ip string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	recent := rl.requests[ip]
	if len(recent) == 0 {
		return 0
	}
	remaining := slidingWindow - time.Since(recent[0])
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Second - 1) / time.Second)
}

// Stop ends the background sweep.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-slidingWindow)
			rl.mu.Lock()
			for ip, times := range rl.requests {
				recent := pruneOlderThan(times, cutoff)
				if len(recent) == 0 {
					delete(rl.requests, ip)
				} else {
					rl.requests[ip] = recent
				}
			}
			rl.mu.Unlock()
		case <-rl.done:
			return
		}
	}
}

func pruneOlderThan(times []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(times) && times[idx].Before(cutoff) {
		idx++
	}
	return times[idx:]
}
