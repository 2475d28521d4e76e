package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_PerClient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(60, 2, time.Minute)

	router := gin.New()
	router.Use(rl.Middleware())
	router.POST("/login", func(c *gin.Context) { c.Status(http.StatusOK) })

	hit := func(ip string) int {
		req, _ := http.NewRequest("POST", "/login", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, hit("10.0.0.1"))
	assert.Equal(t, http.StatusOK, hit("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, hit("10.0.0.1"))
	assert.Equal(t, http.StatusOK, hit("10.0.0.2"))
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := NewRateLimiter(60, 1, time.Minute)
	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return current }

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	current = current.Add(2 * time.Minute)
	rl.sweep()
	assert.Empty(t, rl.visitors)
	assert.True(t, rl.Allow("a"))
}

func TestRateLimiter_CleanupNonPositiveInterval(t *testing.T) {
	rl := NewRateLimiter(60, 1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, interval := range []time.Duration{0, -time.Second} {
		assert.NotPanics(t, func() { rl.Cleanup(ctx, interval) })
	}
}
