package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"gateway/internal/gateway"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*visitor
	rate     rate.Limit
	burst    int
	idle     time.Duration
	logger   *zap.Logger
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(rps float64, burst int, logger *zap.Logger) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		limiters: make(map[string]*visitor),
		rate:     rate.Limit(rps),
		burst:    burst,
		idle:     10 * time.Minute,
		logger:   logger,
	}
}

func (rl *RateLimiter) limiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.limiters[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Cleanup drops buckets not used within the idle window.
func (rl *RateLimiter) Cleanup(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key, v := range rl.limiters {
		if now.Sub(v.lastSeen) > rl.idle {
			delete(rl.limiters, key)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				rl.Cleanup(now)
			}
		}
	}()
}

func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if rl.limiter(key, time.Now()).Allow() {
			c.Next()
			return
		}
		rl.logger.Warn("rate limit exceeded",
			zap.String("request_id", GetRequestID(c)),
			zap.String("ip", key),
			zap.String("path", c.Request.URL.Path),
		)
		gerr := gateway.Normalize(gateway.StatusError{Status: http.StatusTooManyRequests, Msg: "too many requests"})
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(gerr.HTTPStatus, gerr.Body(c.Request.URL.Path, GetRequestID(c), time.Now()))
	}
}
