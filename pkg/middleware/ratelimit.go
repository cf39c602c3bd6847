package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sirosfoundation/go-server-mongo/pkg/config"
)

// RateLimiter applies a token bucket per client identifier
type RateLimiter struct {
	config config.RateLimitConfig
	logger *zap.Logger

	mu       sync.Mutex
	limiters map[string]*clientLimiter

	cleanupInterval time.Duration
	lastCleanup     time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter from configuration
func NewRateLimiter(cfg config.RateLimitConfig, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		config:          cfg,
		logger:          logger.Named("ratelimit"),
		limiters:        make(map[string]*clientLimiter),
		cleanupInterval: 10 * time.Minute,
		lastCleanup:     time.Now(),
	}
}

// Allow reports whether a request from identifier may proceed
func (r *RateLimiter) Allow(identifier string) bool {
	if !r.config.Enabled {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Cleanup old limiters periodically
	if time.Since(r.lastCleanup) > r.cleanupInterval {
		cutoff := time.Now().Add(-30 * time.Minute)
		for key, l := range r.limiters {
			if l.lastSeen.Before(cutoff) {
				delete(r.limiters, key)
			}
		}
		r.lastCleanup = time.Now()
	}

	l, ok := r.limiters[identifier]
	if !ok {
		l = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(r.config.RequestsPerSecond), r.config.Burst)}
		r.limiters[identifier] = l
	}
	l.lastSeen = time.Now()
	return l.limiter.Allow()
}

// RateLimitMiddleware rejects requests over the per-client budget with 429
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			rl.logger.Warn("Rate limit exceeded", zap.String("client_ip", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many requests. Please try again later.",
			})
			return
		}
		c.Next()
	}
}
