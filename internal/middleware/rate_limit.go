package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"
	"go.uber.org/zap"

	"github.com/Artifique/Agrilend-Backend/internal/auth"
	"github.com/Artifique/Agrilend-Backend/internal/config"
)

// sanitizeKey removes control characters and limits key length
func sanitizeKey(key string) string {
	key = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, key)

	const maxLength = 250
	if len(key) > maxLength {
		key = key[:maxLength]
	}
	return key
}

// RateLimiter throttles requests per authenticated caller, falling back to the client IP
type RateLimiter struct {
	cfg    config.RateLimitConfig
	store  limiter.Store
	logger *zap.Logger
}

// NewRateLimiter creates an in-memory token bucket limiter
func NewRateLimiter(cfg config.RateLimitConfig, logger *zap.Logger) (*RateLimiter, error) {
	if cfg.MaxRequests <= 0 || cfg.Window <= 0 {
		return nil, fmt.Errorf("rate limit window and max requests must be positive")
	}

	store, err := memorystore.New(&memorystore.Config{
		Tokens:   uint64(cfg.MaxRequests),
		Interval: cfg.Window,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit store: %w", err)
	}

	return &RateLimiter{cfg: cfg, store: store, logger: logger}, nil
}

// Limit returns a handler that spends one token per request under the given scope
func (r *RateLimiter) Limit(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := sanitizeKey(fmt.Sprintf("rl:%s:%s", scope, callerKey(c)))

		limit, remaining, reset, ok, err := r.store.Take(c.Request.Context(), key)
		if err != nil {
			r.logger.Error("Rate limit store failed", zap.String("scope", scope), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatUint(limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatUint(remaining, 10))
		if !ok {
			retryAfter := time.Until(time.Unix(0, int64(reset)))
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			r.logger.Warn("Rate limit exceeded", zap.String("scope", scope), zap.String("caller", callerKey(c)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded", "code": "rate_limited"})
			return
		}

		c.Next()
	}
}

func callerKey(c *gin.Context) string {
	if userID, _, ok := auth.Caller(c); ok {
		return "user:" + userID.String()
	}
	return "ip:" + c.ClientIP()
}

// Close stops the store's background sweeper
func (r *RateLimiter) Close(ctx context.Context) error {
	return r.store.Close(ctx)
}
