package ratelimit

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/image-moderation/internal/apperror"
	"github.com/example/image-moderation/internal/auth"
)

// Middleware rejects callers over their limit with 429. Callers are keyed by
// authenticated subject when present, else by client IP. Limiter errors fail open.
func Middleware(limiter Limiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if subject, ok := auth.GetUserID(c.Request.Context()); ok {
			key = "sub:" + subject
		}

		allowed, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Warn("rate limiter unavailable, allowing request", zap.Error(err), zap.String("key", key))
			c.Next()
			return
		}
		if !allowed {
			kind := apperror.RateLimited
			c.AbortWithStatusJSON(kind.Status(), gin.H{"error": string(kind), "message": kind.Message()})
			return
		}
		c.Next()
	}
}
