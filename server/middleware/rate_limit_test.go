package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(1, 2)

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	// Keys are limited independently.
	assert.True(t, rl.Allow("b"))
}

func TestRateLimiterEvictsIdleKeys(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(0.001, 1)
	rl.now = func() time.Time { return now }
	rl.lastSweep = now

	require.True(t, rl.Allow("a"))
	require.False(t, rl.Allow("a"))

	now = now.Add(DefaultIdleTTL / 2)
	require.True(t, rl.Allow("b"))
	assert.Len(t, rl.limits, 2)

	// "a" has been idle a full TTL, "b" only half of one.
	now = now.Add(DefaultIdleTTL / 2)
	assert.True(t, rl.Allow("c"))
	assert.Len(t, rl.limits, 2)
	assert.NotContains(t, rl.limits, "a")
	assert.Contains(t, rl.limits, "b")

	// An evicted key starts over with a fresh burst.
	assert.True(t, rl.Allow("a"))
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	assert.Equal(t, 20, rl.burst)
	assert.EqualValues(t, 10, rl.rps)
}

func TestRateLimiterMiddleware(t *testing.T) {
	e := echo.New()
	e.Use(NewRateLimiter(0.001, 1).Middleware())
	e.GET("/", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	request := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, request("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, request("10.0.0.1"))
	assert.Equal(t, http.StatusOK, request("10.0.0.2"))
}
