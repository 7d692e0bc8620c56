package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"taskgate/pkg/logging"
)

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	// MaxAttempts is the maximum number of requests per client IP within
	// the window. Default: 20.
	MaxAttempts int

	// Window is the sliding window length. Default: 1 minute.
	Window time.Duration

	// GlobalRate and GlobalBurst bound the combined request rate of all
	// clients. A zero GlobalRate disables the global guard.
	GlobalRate  float64
	GlobalBurst int
}

// DefaultRateLimiterConfig returns the default rate limiter configuration.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		MaxAttempts: 20,
		Window:      time.Minute,
		GlobalRate:  50,
		GlobalBurst: 100,
	}
}

// RateLimiter limits requests per client IP with a sliding window, behind
// an optional global token bucket.
type RateLimiter struct {
	mu sync.Mutex

	maxAttempts int
	window      time.Duration
	global      *rate.Limiter
	now         func() time.Time

	attempts map[string][]time.Time // client IP -> request timestamps
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	defaults := DefaultRateLimiterConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.Window <= 0 {
		config.Window = defaults.Window
	}

	rl := &RateLimiter{
		maxAttempts: config.MaxAttempts,
		window:      config.Window,
		now:         time.Now,
		attempts:    make(map[string][]time.Time),
	}
	if config.GlobalRate > 0 {
		burst := config.GlobalBurst
		if burst <= 0 {
			burst = int(config.GlobalRate)
		}
		rl.global = rate.NewLimiter(rate.Limit(config.GlobalRate), max(burst, 1))
	}
	return rl
}

// Allow records a request from key and reports whether it is within the
// limits. Rejected requests are not recorded.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	recent := rl.recent(key, now)

	if len(recent) >= rl.maxAttempts {
		logging.Warn("Server", "Rate limit exceeded for %s (%d requests in %v)", key, len(recent), rl.window)
		rl.attempts[key] = recent
		return false
	}
	if rl.global != nil && !rl.global.AllowN(now, 1) {
		logging.Warn("Server", "Global rate limit exceeded")
		rl.attempts[key] = recent
		return false
	}

	rl.attempts[key] = append(recent, now)
	return true
}

// Remaining returns how many more requests key may make in the current
// window.
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return max(rl.maxAttempts-len(rl.recent(key, rl.now())), 0)
}

// Cleanup removes stale entries. It is called periodically by the server.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key := range rl.attempts {
		if recent := rl.recent(key, now); len(recent) == 0 {
			delete(rl.attempts, key)
		} else {
			rl.attempts[key] = recent
		}
	}
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.attempts)
}

// recent returns key's timestamps inside the window ending at now. The
// caller must hold rl.mu.
func (rl *RateLimiter) recent(key string, now time.Time) []time.Time {
	windowStart := now.Add(-rl.window)
	var recent []time.Time
	for _, t := range rl.attempts[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}
	return recent
}
