package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newLimitedRouter(t *testing.T, maxAttempts int) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	limiter := NewRateLimiter(client, zap.NewNop(), maxAttempts, time.Minute)

	router := gin.New()
	router.POST("/auth/login", limiter.Limit("login"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router, mr
}

func doLogin(router *gin.Engine) int {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	router.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimiterAllowsUnderBudget(t *testing.T) {
	router, _ := newLimitedRouter(t, 3)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, doLogin(router))
	}
}

func TestRateLimiterBlocksOverBudget(t *testing.T) {
	router, _ := newLimitedRouter(t, 2)

	assert.Equal(t, http.StatusOK, doLogin(router))
	assert.Equal(t, http.StatusOK, doLogin(router))
	assert.Equal(t, http.StatusTooManyRequests, doLogin(router))
}

func TestRateLimiterResetsAfterWindow(t *testing.T) {
	router, mr := newLimitedRouter(t, 1)

	assert.Equal(t, http.StatusOK, doLogin(router))
	assert.Equal(t, http.StatusTooManyRequests, doLogin(router))

	mr.FastForward(2 * time.Minute)

	assert.Equal(t, http.StatusOK, doLogin(router))
}

func TestRateLimiterDisabledWithoutRedis(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewRateLimiter(nil, zap.NewNop(), 1, time.Minute)

	router := gin.New()
	router.POST("/auth/login", limiter.Limit("login"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}
