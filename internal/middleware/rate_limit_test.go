package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// RATE LIMITER CORE TESTS
// =============================================================================

func TestRateLimiter_AllowsRequestsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(time.Hour)
	key := "test:within-limit"
	limit := 10

	for i := 0; i < limit; i++ {
		allowed := rl.Allow(key, limit)
		assert.True(t, allowed, "request %d should be allowed", i+1)
	}
}

func TestRateLimiter_BlocksRequestsOverLimit(t *testing.T) {
	rl := NewRateLimiter(time.Hour)
	key := "test:over-limit"
	limit := 5

	for i := 0; i < limit; i++ {
		rl.Allow(key, limit)
	}

	allowed := rl.Allow(key, limit)
	assert.False(t, allowed, "request over limit should be blocked")
}

func TestRateLimiter_RefillsOverWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(time.Hour)
	rl.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		rl.Allow("k", 4)
	}
	assert.False(t, rl.Allow("k", 4))

	// A third of the window returns one token and a fraction.
	now = now.Add(20 * time.Minute)
	assert.True(t, rl.Allow("k", 4))
	assert.False(t, rl.Allow("k", 4))
}

func TestRateLimiter_DifferentKeysHaveSeparateLimits(t *testing.T) {
	rl := NewRateLimiter(time.Hour)
	limit := 3

	for i := 0; i < limit; i++ {
		rl.Allow("key1", limit)
	}

	assert.False(t, rl.Allow("key1", limit), "key1 should be blocked")
	assert.True(t, rl.Allow("key2", limit), "key2 should be allowed")
}

func TestRateLimiter_RemainingReturnsCorrectCount(t *testing.T) {
	rl := NewRateLimiter(time.Hour)
	key := "test:remaining"
	limit := 10

	for i := 0; i < 3; i++ {
		rl.Allow(key, limit)
	}

	assert.Equal(t, 7, rl.Remaining(key), "should have 7 tokens remaining")
}

func TestRateLimiter_RemainingReturnsZeroForUnknownKey(t *testing.T) {
	rl := NewRateLimiter(0)
	assert.Equal(t, 0, rl.Remaining("unknown:key"), "unknown key should return 0 remaining")
}

func TestRateLimiter_PruneDropsIdleBuckets(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(time.Minute)
	rl.now = func() time.Time { return now }

	rl.Allow("old", 5)
	now = now.Add(2 * time.Minute)
	rl.Allow("fresh", 5)

	assert.Equal(t, 1, rl.Prune())
	assert.Equal(t, 0, rl.Remaining("old"))
	assert.Equal(t, 4, rl.Remaining("fresh"))
}

// =============================================================================
// MIDDLEWARE INTEGRATION TESTS
// =============================================================================

func newLimitedRouter(rl *RateLimiter, limit int, pre ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(pre...)
	router.Use(RateLimitByClient(rl, limit))
	router.POST("/transfers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
	return router
}

func post(router *gin.Engine, remoteAddr string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(http.MethodPost, "/transfers", nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimitByClient_AddsHeaders(t *testing.T) {
	router := newLimitedRouter(NewRateLimiter(time.Hour), 10)

	w := post(router, "192.168.1.100:12345")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimitByClient_BlocksAfterLimitExceeded(t *testing.T) {
	router := newLimitedRouter(NewRateLimiter(time.Hour), 5)

	for i := 0; i < 5; i++ {
		w := post(router, "10.0.0.1:12345")
		assert.Equal(t, http.StatusOK, w.Code, "request %d should succeed", i+1)
	}

	w := post(router, "10.0.0.1:12345")
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "should return 429 when rate limited")
	assert.Equal(t, "721", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "core:rate_limited")
}

func TestRateLimitByClient_DifferentIPsHaveSeparateLimits(t *testing.T) {
	router := newLimitedRouter(NewRateLimiter(time.Hour), 2)

	for i := 0; i < 2; i++ {
		post(router, "10.0.0.1:12345")
	}

	assert.Equal(t, http.StatusTooManyRequests, post(router, "10.0.0.1:12345").Code, "IP1 should be rate limited")
	assert.Equal(t, http.StatusOK, post(router, "10.0.0.2:12345").Code, "IP2 should not be rate limited")
}

func TestRateLimitByClient_KeysShareNothingWithIPs(t *testing.T) {
	setKey := func(c *gin.Context) {
		if c.GetHeader("X-Test-Key") != "" {
			c.Set(ContextAPIKeyName, c.GetHeader("X-Test-Key"))
		}
		c.Next()
	}
	router := newLimitedRouter(NewRateLimiter(time.Hour), 1, setKey)

	assert.Equal(t, http.StatusOK, post(router, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, post(router, "10.0.0.1:1").Code)

	req, _ := http.NewRequest(http.MethodPost, "/transfers", nil)
	req.RemoteAddr = "10.0.0.1:1"
	req.Header.Set("X-Test-Key", "helpdesk-bot")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, "keyed client has its own bucket")
}
