package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	limiterCacheSize = 10000
	limiterIdleTTL   = 5 * time.Minute
)

// RateLimit applies a token bucket per client IP. Idle buckets age out of an
// expirable LRU.
func RateLimit(perSecond float64, burst int) gin.HandlerFunc {
	if burst <= 0 {
		burst = 1
	}
	buckets := expirable.NewLRU[string, *rate.Limiter](limiterCacheSize, nil, limiterIdleTTL)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}

		lim, ok := buckets.Get(ip)
		if !ok {
			lim = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
		buckets.Add(ip, lim)

		if !lim.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many attempts, try again shortly",
				"code":  "rate_limited",
			})
			return
		}
		c.Next()
	}
}
