package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RateLimiter throttles write endpoints with a fixed-window counter in
// Redis, so the limit holds across instances. It fails open: if Redis is
// unreachable the request proceeds, since rate limiting is protection, not
// an availability dependency.
type RateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	log    *log.Logger
}

// NewRateLimiter allows limit requests per window per client.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration, logger *log.Logger) *RateLimiter {
	if limit <= 0 {
		limit = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RateLimiter{client: client, limit: limit, window: window, log: logger}
}

// Middleware returns the echo middleware enforcing the limit, keyed by the
// caller's IP.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			allowed, err := rl.Allow(c.Request().Context(), c.RealIP())
			if err != nil {
				rl.log.WithError(err).Warn("rate limiter unavailable, allowing request")
				return next(c)
			}
			if !allowed {
				return c.String(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

// Allow records one request for key and reports whether it is within the
// current window's budget.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if rl.client == nil {
		return true, nil
	}
	windowStart := time.Now().UnixNano() / int64(rl.window)
	redisKey := fmt.Sprintf("rl:%s:%d", key, windowStart)

	var incr *redis.IntCmd
	_, err := rl.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, rl.window)
		return nil
	})
	if err != nil {
		return true, err
	}
	return incr.Val() <= int64(rl.limit), nil
}
