package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/charlesng35/tenantauth/pkg/errors"
	"github.com/charlesng35/tenantauth/pkg/logger"
	"github.com/charlesng35/tenantauth/pkg/response"
)

// RateLimitOptions configures the anonymous and per-user request budgets.
type RateLimitOptions struct {
	AnonymousLimit int
	UserLimit      int
	Window         time.Duration
}

// RateLimit throttles requests within a fixed window. Authenticated requests
// are counted per user against UserLimit; anonymous ones per client IP
// against AnonymousLimit. A limit of zero disables that scope. Store
// failures let the request through.
func RateLimit(store RateStore, opts RateLimitOptions) gin.HandlerFunc {
	window := opts.Window
	if window <= 0 {
		window = time.Minute
	}
	log := logger.WithModule("ratelimit")

	return func(c *gin.Context) {
		if store == nil {
			c.Next()
			return
		}

		limit := opts.AnonymousLimit
		key := "throttle:anon:" + c.ClientIP()
		if userID := c.GetString(CtxUserIDKey); userID != "" {
			limit = opts.UserLimit
			key = "throttle:user:" + userID
		}
		if limit <= 0 {
			c.Next()
			return
		}

		count, ttl, err := store.Increment(c.Request.Context(), key, window)
		if err != nil {
			log.Warn("rate store unavailable", zap.Error(err))
			c.Next()
			return
		}

		remaining := limit - count
		if remaining < 0 {
			remaining = 0
		}
		resetIn := int((ttl + time.Second - 1) / time.Second)

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(resetIn))

		if count > limit {
			c.Header("Retry-After", strconv.Itoa(resetIn))
			response.Error(c, apperrors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}
