// Package ratelimit throttles API clients with per-IP token buckets.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/fraudwatch/internal/metrics"
)

// Config configures one limiter scope.
type Config struct {
	// Scope labels the limiter in metrics, e.g. "api" or "admin".
	Scope string
	// Limit is the number of requests allowed per Window.
	Limit  int
	Window time.Duration
	// BurstSize caps the bucket. Zero means Limit.
	BurstSize int
	// CleanupInterval is how often idle clients are forgotten.
	CleanupInterval time.Duration
}

// APIConfig allows 100 requests per 15 minutes per client.
func APIConfig() Config {
	return Config{Scope: "api", Limit: 100, Window: 15 * time.Minute, CleanupInterval: time.Minute}
}

// AdminConfig allows 50 requests per 15 minutes per client.
func AdminConfig() Config {
	return Config{Scope: "admin", Limit: 50, Window: 15 * time.Minute, CleanupInterval: time.Minute}
}

// PerMinute allows rpm requests per minute.
func PerMinute(scope string, rpm int) Config {
	return Config{Scope: scope, Limit: rpm, Window: time.Minute, CleanupInterval: time.Minute}
}

// Limiter tracks token buckets by key.
type Limiter struct {
	cfg     Config
	rate    float64 // tokens per second
	burst   float64
	mu      sync.Mutex
	clients map[string]*clientState
	stop    chan struct{}
	once    sync.Once
	now     func() time.Time
}

type clientState struct {
	tokens    float64
	lastCheck time.Time
}

// New creates a limiter and starts its cleanup loop. Call Stop to end it.
func New(cfg Config) *Limiter {
	if cfg.Limit <= 0 {
		cfg.Limit = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = cfg.Limit
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	l := &Limiter{
		cfg:     cfg,
		rate:    float64(cfg.Limit) / cfg.Window.Seconds(),
		burst:   float64(cfg.BurstSize),
		clients: make(map[string]*clientState),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go l.cleanup()
	return l
}

// cleanup forgets clients whose bucket has refilled completely.
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := l.now().Add(-time.Duration(l.burst / l.rate * float64(time.Second)))
			for key, state := range l.clients {
				if state.lastCheck.Before(cutoff) {
					delete(l.clients, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Stop ends the cleanup loop. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Allow takes a token for key.
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.take(key)
	return ok
}

// take reports whether a token was available and how many remain.
func (l *Limiter) take(key string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	state, exists := l.clients[key]
	if !exists {
		state = &clientState{tokens: l.burst, lastCheck: now}
		l.clients[key] = state
	}

	elapsed := now.Sub(state.lastCheck).Seconds()
	state.tokens = math.Min(l.burst, state.tokens+elapsed*l.rate)
	state.lastCheck = now

	if state.tokens >= 1 {
		state.tokens--
		return true, int(state.tokens)
	}
	return false, 0
}

// retryAfter is the wait in whole seconds until one token is available.
func (l *Limiter) retryAfter() int {
	return int(math.Ceil(1 / l.rate))
}

// Middleware rate limits by client IP and sets RateLimit-* headers.
func (l *Limiter) Middleware() gin.HandlerFunc {
	limit := strconv.Itoa(l.cfg.Limit)
	return func(c *gin.Context) {
		ok, remaining := l.take(l.cfg.Scope + ":" + c.ClientIP())
		c.Header("RateLimit-Limit", limit)
		c.Header("RateLimit-Remaining", strconv.Itoa(remaining))

		if !ok {
			metrics.RateLimitedTotal.WithLabelValues(l.cfg.Scope).Inc()
			c.Header("Retry-After", strconv.Itoa(l.retryAfter()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many requests from this IP, please try again later.",
			})
			return
		}

		c.Next()
	}
}
