package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"civicvoice/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// Allower 令牌桶接口，由 ratelimit.Limiter 实现。
type Allower interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
	Scope() string
}

// RateLimit 按客户端 IP 限流。Redis 不可用时放行。
func RateLimit(limiter Allower, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		allowed, wait, err := limiter.Allow(ctx, c.ClientIP())
		cancel()
		if err != nil {
			if logger != nil {
				logger.Warn("rate limit check failed", slog.String("error", err.Error()))
			}
			c.Next()
			return
		}
		if !allowed {
			metrics.RateLimitedTotal.WithLabelValues(limiter.Scope()).Inc()
			TooManyRequests(c, wait)
			c.Abort()
			return
		}
		c.Next()
	}
}

// TooManyRequests 写出 429 与 Retry-After（秒，向上取整且至少 1）。
func TooManyRequests(c *gin.Context, wait time.Duration) {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	c.Header("Retry-After", strconv.Itoa(secs))
	c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests", "retry_after": secs})
}
