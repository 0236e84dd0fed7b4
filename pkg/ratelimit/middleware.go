package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"devpulse/internal/constants"
	"devpulse/pkg/metrics"
)

// Middleware limits each (provider, client IP) pair separately so a
// misbehaving integration cannot starve other providers behind the same
// egress address.
func Middleware(b *Buckets) gin.HandlerFunc {
	limit := strconv.FormatFloat(b.Settings().RPS, 'f', -1, 64)

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if clientIP == "" {
			clientIP = c.RemoteIP()
		}

		ok, remaining, wait := b.Take(c.Param("provider") + "|" + clientIP)
		c.Header("X-RateLimit-Limit", limit)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !ok {
			metrics.RateLimitRequestsTotal.WithLabelValues("limited").Inc()
			c.Header(constants.HeaderRetryAfter, retryAfterSeconds(wait))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"error_code": "RATE_LIMIT_EXCEEDED",
			})
			return
		}

		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()
		c.Next()
	}
}

func retryAfterSeconds(wait time.Duration) string {
	return strconv.Itoa(int(math.Max(1, math.Ceil(wait.Seconds()))))
}
