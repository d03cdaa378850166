package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/adreach/settlement_service/internal/domain/entities"
)

const (
	defaultCleanupInterval = 5 * time.Minute
	defaultCleanupTTL      = 10 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ChainQueryLimiter throttles endpoints that reach a chain node on the
// caller's behalf. Authenticated callers are keyed by user ID, anonymous ones
// by client IP. Idle entries are evicted after cleanupTTL.
type ChainQueryLimiter struct {
	limiters   map[string]*limiterEntry
	mu         sync.Mutex
	rate       rate.Limit
	burst      int
	cleanupTTL time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewChainQueryLimiter allows requestsPerMinute per caller; values below 1
// are clamped to 1.
func NewChainQueryLimiter(requestsPerMinute int) *ChainQueryLimiter {
	return NewChainQueryLimiterWithTTL(requestsPerMinute, defaultCleanupTTL)
}

// NewChainQueryLimiterWithTTL is NewChainQueryLimiter with a custom idle TTL.
func NewChainQueryLimiterWithTTL(requestsPerMinute int, cleanupTTL time.Duration) *ChainQueryLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 1
	}
	if cleanupTTL <= 0 {
		cleanupTTL = defaultCleanupTTL
	}

	l := &ChainQueryLimiter{
		limiters:   make(map[string]*limiterEntry),
		rate:       rate.Every(time.Minute / time.Duration(requestsPerMinute)),
		burst:      requestsPerMinute,
		cleanupTTL: cleanupTTL,
		stopCh:     make(chan struct{}),
	}
	go l.cleanupLoop(defaultCleanupInterval)
	return l
}

func (l *ChainQueryLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

func (l *ChainQueryLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > l.cleanupTTL {
			delete(l.limiters, key)
		}
	}
}

// Stop ends the cleanup goroutine. Safe to call more than once.
func (l *ChainQueryLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Close satisfies io.Closer so the limiter can join shutdown.
func (l *ChainQueryLimiter) Close() error {
	l.Stop()
	return nil
}

func (l *ChainQueryLimiter) getLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if entry, ok := l.limiters[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}

	limiter := rate.NewLimiter(l.rate, l.burst)
	l.limiters[key] = &limiterEntry{limiter: limiter, lastSeen: now}
	return limiter
}

// Size reports the number of tracked callers.
func (l *ChainQueryLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// callerKey prefers the authenticated user so callers behind a shared NAT do
// not starve each other. c.ClientIP honours the engine's trusted proxies.
func callerKey(c *gin.Context) string {
	if v, ok := c.Get(ContextUserID); ok {
		if id, ok := v.(uuid.UUID); ok && id != uuid.Nil {
			return "user:" + id.String()
		}
	}
	return "ip:" + c.ClientIP()
}

// Limit returns the gin middleware.
func (l *ChainQueryLimiter) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.getLimiter(callerKey(c)).Allow() {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, entities.ErrorResponse{
				Code:    "RATE_LIMIT_EXCEEDED",
				Message: "Too many chain queries. Please try again later.",
				Details: map[string]interface{}{"request_id": c.GetString("request_id")},
			})
			return
		}
		c.Next()
	}
}
