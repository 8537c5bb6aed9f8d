package server

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agrovault/notify/internal/logging"
)

// clientKey identifies the caller for rate limiting. API-key callers
// get per-key budgets; anonymous ones fall back to the client IP.
func clientKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	return c.ClientIP()
}

// rateLimit gates the route group with the named policy. A rejected
// request gets 429 with Retry-After; limiter backend errors fail open
// so a dead counter store never takes the API down with it.
func (s *Server) rateLimit(policy string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		decision, err := s.limiter.Check(c.Request.Context(), clientKey(c), policy)
		if err != nil {
			logging.FromContext(c.Request.Context()).Warn("rate limit check failed",
				slog.String("code", "RL_CHECK_ERR"),
				slog.String("policy", policy),
				slog.Any("error", err),
			)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}
		c.Next()
	}
}
