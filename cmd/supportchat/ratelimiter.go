package main

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	apperrors "supportchat/internal/errors"
	"supportchat/internal/httputil"
	"supportchat/internal/metrics"
	"supportchat/internal/tracing"
)

// RateLimiter allows at most limit requests per key in a sliding window
type RateLimiter struct {
	limit       int
	window      time.Duration
	mu          sync.RWMutex
	requests    map[string][]time.Time
	lastCleanup time.Time
	now         func() time.Time
}

// NewRateLimiter creates a limiter. A limit below 1 denies everything.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:       limit,
		window:      window,
		requests:    make(map[string][]time.Time),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Allow records a request for key and reports whether it is within the limit
func (rl *RateLimiter) Allow(key string) bool {
	if rl.limit < 1 {
		return false
	}

	now := rl.now()
	cutoff := now.Add(-rl.window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastCleanup) > rl.window {
		rl.cleanupLocked(cutoff)
		rl.lastCleanup = now
	}

	recent := rl.requests[key][:0]
	for _, t := range rl.requests[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= rl.limit {
		rl.requests[key] = recent
		return false
	}
	rl.requests[key] = append(recent, now)
	return true
}

// cleanupLocked drops keys with no request inside the window
func (rl *RateLimiter) cleanupLocked(cutoff time.Time) {
	for key, times := range rl.requests {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(rl.requests, key)
		}
	}
}

// Middleware rejects requests over the limit with 429, keyed by client IP
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(httputil.GetClientIP(r)) {
			metrics.IncrementCounter("http_rate_limited_total", nil, "Requests rejected by the rate limiter")
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			err := apperrors.New(apperrors.ErrCodeValidationFailed, "rate limit exceeded").
				WithUserMessage("Too many requests. Please slow down.")
			_ = httputil.WriteJSON(w, http.StatusTooManyRequests,
				apperrors.ToHTTPResponse(err, tracing.GetRequestID(r.Context()), ""))
			return
		}
		next.ServeHTTP(w, r)
	})
}
