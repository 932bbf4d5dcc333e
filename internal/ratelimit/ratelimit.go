// Package ratelimit provides fixed-window rate limiting for the commerce API.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Config configures rate limiting
type Config struct {
	// Window is the fixed window length
	Window time.Duration
	// Quota is the max requests per key per window
	Quota int
	// CleanupInterval is how often to clean old entries
	CleanupInterval time.Duration
}

// DefaultConfig returns the payment-link creation limits.
func DefaultConfig() Config {
	return Config{
		Window:          60 * time.Second,
		Quota:           10,
		CleanupInterval: time.Minute,
	}
}

// Limiter tracks fixed-window counters by key. Counters are process-local:
// each instance enforces its own window, which is an approximation rather
// than a strict global limit.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	windows map[string]*window
	stop    chan struct{}
	now     func() time.Time // injectable for tests
}

type window struct {
	count   int
	resetAt time.Time
}

// New creates a new rate limiter
func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.Quota <= 0 {
		cfg.Quota = 10
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	l := &Limiter{
		cfg:     cfg,
		windows: make(map[string]*window),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go l.cleanup()
	return l
}

// cleanup removes stale entries periodically
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			now := l.now()
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

// Stop stops the cleanup goroutine
func (l *Limiter) Stop() {
	close(l.stop)
}

// Allow checks if a request should be allowed. The first request for a key
// opens a window; requests beyond the quota are rejected until the window
// resets.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, exists := l.windows[key]

	if !exists || now.After(w.resetAt) {
		l.windows[key] = &window{count: 1, resetAt: now.Add(l.cfg.Window)}
		return true
	}

	if w.count >= l.cfg.Quota {
		return false
	}
	w.count++
	return true
}

// RetryAfter returns seconds until the key's window resets (minimum 1).
func (l *Limiter) RetryAfter(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.windows[key]
	if !exists {
		return 1
	}
	secs := int(w.resetAt.Sub(l.now()).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Middleware returns a Gin middleware that rate limits by client IP.
// Rejected requests receive 429 before any handler work runs.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()

		if !l.Allow(key) {
			c.Header("Retry-After", strconv.Itoa(l.RetryAfter(key)))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"details": "Too many requests. Please slow down.",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
