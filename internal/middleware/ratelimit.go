package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/lensfusion/internal/cache"
	"github.com/charlesng35/lensfusion/pkg/errors"
	"github.com/charlesng35/lensfusion/pkg/logger"
	"github.com/charlesng35/lensfusion/pkg/response"
)

// RateLimitConfig describes a fixed-window limit.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	// KeyFunc identifies the caller. Defaults to the authenticated user, then
	// the client IP.
	KeyFunc func(*gin.Context) string
}

// RateLimit limits requests per caller and route using counters in store, so
// the limit holds across instances sharing a Redis or SQL cache. Store
// failures let the request through.
func RateLimit(store cache.Store, cfg RateLimitConfig) gin.HandlerFunc {
	keyFn := cfg.KeyFunc
	if keyFn == nil {
		keyFn = callerKey
	}

	return func(c *gin.Context) {
		if store == nil || cfg.Requests <= 0 || cfg.Window <= 0 {
			c.Next()
			return
		}

		key := "ratelimit:" + keyFn(c) + "|" + c.Request.Method + " " + c.FullPath()
		count, ttl, err := store.IncrementWithTTL(c.Request.Context(), key, cfg.Window)
		if err != nil {
			logger.WithModule("ratelimit").Warn("rate limit store failed", zap.Error(err))
			c.Next()
			return
		}

		remaining := int64(cfg.Requests) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.Requests))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(ttl.Round(time.Second).Seconds())))

		if count > int64(cfg.Requests) {
			c.Header("Retry-After", strconv.Itoa(max(1, int(ttl.Round(time.Second).Seconds()))))
			response.Error(c, errors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}

func callerKey(c *gin.Context) string {
	if userID := c.GetString(CtxUserIDKey); userID != "" {
		return "user:" + userID
	}
	return "ip:" + c.ClientIP()
}
