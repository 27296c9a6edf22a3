package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter caps requests per client IP over a fixed window. The stream
// endpoint sits behind it so a reconnect loop cannot exhaust upgrade slots.
type RateLimiter struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*clientWindow
	swept   time.Time
}

type clientWindow struct {
	count int
	since time.Time
}

// NewRateLimiter allows max requests per window for each client IP.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		max:     max,
		window:  window,
		windows: make(map[string]*clientWindow),
		swept:   time.Now(),
	}
}

// allow records one request and reports whether it fits in the window.
// Expired entries are swept opportunistically; no background goroutine.
func (rl *RateLimiter) allow(ip string, now time.Time) (ok bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.swept) > 10*rl.window {
		for k, w := range rl.windows {
			if now.Sub(w.since) > rl.window {
				delete(rl.windows, k)
			}
		}
		rl.swept = now
	}

	w, exists := rl.windows[ip]
	if !exists || now.Sub(w.since) >= rl.window {
		rl.windows[ip] = &clientWindow{count: 1, since: now}
		return true, 0
	}
	if w.count < rl.max {
		w.count++
		return true, 0
	}
	return false, rl.window - now.Sub(w.since)
}

// clientIP resolves the caller address, preferring the first hop in
// X-Forwarded-For when a proxy sits in front.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware rejects over-limit requests with 429 and a Retry-After.
func RateLimitMiddleware(rl *RateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, retry := rl.allow(clientIP(r), time.Now())
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
