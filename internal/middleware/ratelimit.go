package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/auth-api/pkg/errors"
	"github.com/noah-isme/auth-api/pkg/response"
)

// RateLimiter throttles credential-guessing and refresh replay by
// counting attempts per client IP in a fixed redis window. The auth
// core itself stays limiter-free; this sits in front of the login and
// refresh routes.
type RateLimiter struct {
	client      *redis.Client
	logger      *zap.Logger
	maxAttempts int
	window      time.Duration
}

// NewRateLimiter constructs a limiter. A nil client disables limiting.
func NewRateLimiter(client *redis.Client, logger *zap.Logger, maxAttempts int, window time.Duration) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{client: client, logger: logger, maxAttempts: maxAttempts, window: window}
}

// Limit returns middleware enforcing the attempt budget under the given
// scope key. Redis outages fail open: availability of login outranks
// the throttle.
func (l *RateLimiter) Limit(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil || l.client == nil {
			c.Next()
			return
		}

		allowed, err := l.allow(c.Request.Context(), scope, c.ClientIP())
		if err != nil {
			l.logger.Warn("rate limiter unavailable", zap.String("scope", scope), zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			response.Error(c, appErrors.ErrRateLimited)
			c.Abort()
			return
		}

		c.Next()
	}
}

func (l *RateLimiter) allow(ctx context.Context, scope, ip string) (bool, error) {
	key := fmt.Sprintf("rl:%s:%s", scope, ip)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return false, err
		}
	}

	return count <= int64(l.maxAttempts), nil
}
