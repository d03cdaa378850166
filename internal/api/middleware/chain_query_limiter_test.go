package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func newLimitedRouter(limiter *ChainQueryLimiter, userID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	if userID != uuid.Nil {
		router.Use(func(c *gin.Context) {
			c.Set(ContextUserID, userID)
			c.Next()
		})
	}
	router.Use(limiter.Limit())
	router.POST("/verify", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

func postFrom(router *gin.Engine, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/verify", nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestChainQueryLimiter_AllowsWithinLimit(t *testing.T) {
	limiter := NewChainQueryLimiter(5)
	defer limiter.Stop()
	router := newLimitedRouter(limiter, uuid.Nil)

	for i := 0; i < 5; i++ {
		w := postFrom(router, "192.168.1.1:12345")
		assert.Equal(t, http.StatusOK, w.Code, "request %d should be allowed", i+1)
	}
}

func TestChainQueryLimiter_BlocksExcessRequests(t *testing.T) {
	limiter := NewChainQueryLimiter(3)
	defer limiter.Stop()
	router := newLimitedRouter(limiter, uuid.Nil)

	for i := 0; i < 3; i++ {
		postFrom(router, "192.168.1.1:12345")
	}

	w := postFrom(router, "192.168.1.1:12345")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")
}

func TestChainQueryLimiter_SeparateLimitsPerIP(t *testing.T) {
	limiter := NewChainQueryLimiter(2)
	defer limiter.Stop()
	router := newLimitedRouter(limiter, uuid.Nil)

	for i := 0; i < 2; i++ {
		postFrom(router, "192.168.1.1:12345")
	}

	w := postFrom(router, "192.168.1.2:12345")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChainQueryLimiter_KeysAuthenticatedCallersByUser(t *testing.T) {
	limiter := NewChainQueryLimiter(1)
	defer limiter.Stop()
	userID := uuid.New()
	router := newLimitedRouter(limiter, userID)

	assert.Equal(t, http.StatusOK, postFrom(router, "10.0.0.1:1000").Code)
	// a new address does not reset the user's budget
	assert.Equal(t, http.StatusTooManyRequests, postFrom(router, "10.0.0.2:1000").Code)
	assert.Equal(t, 1, limiter.Size())
}

func TestChainQueryLimiter_ClampsNonPositiveRate(t *testing.T) {
	limiter := NewChainQueryLimiter(0)
	defer limiter.Stop()
	assert.Equal(t, 1, limiter.burst)

	negative := NewChainQueryLimiter(-5)
	defer negative.Stop()
	assert.Equal(t, 1, negative.burst)
}

func TestChainQueryLimiter_TTLCleanup(t *testing.T) {
	limiter := NewChainQueryLimiterWithTTL(10, 50*time.Millisecond)
	defer limiter.Stop()
	router := newLimitedRouter(limiter, uuid.Nil)

	assert.Equal(t, http.StatusOK, postFrom(router, "192.168.1.100:12345").Code)
	assert.Equal(t, 1, limiter.Size())

	time.Sleep(100 * time.Millisecond)
	limiter.cleanup()

	assert.Equal(t, 0, limiter.Size())
}

func TestChainQueryLimiter_StopIsIdempotent(t *testing.T) {
	limiter := NewChainQueryLimiter(10)
	limiter.Stop()
	assert.NoError(t, limiter.Close())
}
