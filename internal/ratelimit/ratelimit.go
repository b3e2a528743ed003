// Package ratelimit throttles analysis and proxy traffic per client IP
// with a sliding window counter.
package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// Config holds limiter settings.
type Config struct {
	MaxRequests     int           // max requests per window per client
	Window          time.Duration // sliding window size
	CleanupInterval time.Duration // how often to purge expired windows
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRequests:     60,
		Window:          1 * time.Minute,
		CleanupInterval: 5 * time.Minute,
	}
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter is a sliding window rate limiter keyed by client IP.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	windows map[string]*window
	stop    chan struct{}
}

// New creates a Limiter and starts background cleanup.
func New(cfg Config) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		windows: make(map[string]*window),
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow reports whether a request from key fits in its current window.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.windows[key]

	if !ok || now.After(w.resetAt) {
		l.windows[key] = &window{
			count:   1,
			resetAt: now.Add(l.cfg.Window),
		}
		return true
	}

	if w.count >= l.cfg.MaxRequests {
		return false
	}

	w.count++
	return true
}

// RetryAfter returns seconds until the window resets for a key.
func (l *Limiter) RetryAfter(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		return 0
	}

	remaining := time.Until(w.resetAt)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Seconds()) + 1
}

// Middleware rate-limits by client IP and answers 429 with a
// Retry-After header when the window is exhausted.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)

		if !l.Allow(key) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", l.RetryAfter(key)))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"detail":"rate limit exceeded, retry later"}`)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Close stops the background cleanup goroutine.
func (l *Limiter) Close() {
	close(l.stop)
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			now := time.Now()
			for key, w := range l.windows {
				if now.After(w.resetAt) {
					delete(l.windows, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

func clientIP(r *http.Request) string {
	// X-Forwarded-For wins when the proxy sits behind a load balancer.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
