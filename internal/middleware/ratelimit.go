package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "pulsechat-backend/pkg/errors"
	"pulsechat-backend/pkg/logger"
	"pulsechat-backend/pkg/metrics"
	"pulsechat-backend/pkg/response"
)

// FixedWindowLimiter counts requests per key in fixed windows. State is
// per process.
type FixedWindowLimiter struct {
	mu          sync.Mutex
	windows     map[string]*window
	maxRequests int
	window      time.Duration
	now         func() time.Time
}

type window struct {
	count int
	start time.Time
}

// NewFixedWindowLimiter creates a limiter allowing maxRequests per window
func NewFixedWindowLimiter(maxRequests int, windowSize time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		windows:     make(map[string]*window),
		maxRequests: maxRequests,
		window:      windowSize,
		now:         time.Now,
	}
}

// Check counts one request for key. A denied request reports the whole
// seconds until the key's window resets, rounded up.
func (l *FixedWindowLimiter) Check(key string) (allowed bool, retryAfterSeconds int) {
	allowed, _, retryAfterSeconds = l.check(key)
	return allowed, retryAfterSeconds
}

func (l *FixedWindowLimiter) check(key string) (allowed bool, remaining, retryAfterSeconds int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		l.windows[key] = &window{count: 1, start: now}
		return true, l.maxRequests - 1, 0
	}

	if w.count < l.maxRequests {
		w.count++
		return true, l.maxRequests - w.count, 0
	}

	wait := w.start.Add(l.window).Sub(now)
	retryAfterSeconds = int((wait + time.Second - 1) / time.Second)
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	return false, 0, retryAfterSeconds
}

// Sweep drops windows that have already expired
func (l *FixedWindowLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// StartCleanup sweeps expired windows every interval until ctx is done
func (l *FixedWindowLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}()
}

// KeyFunc derives the limiter key for a request
type KeyFunc func(c *gin.Context) (string, error)

// UserOrIPKey keys by the authenticated user when the auth middleware ran,
// otherwise by client IP.
func UserOrIPKey(userPrefix, ipPrefix string) KeyFunc {
	return func(c *gin.Context) (string, error) {
		if userID, exists := c.Get("user_id"); exists {
			return fmt.Sprintf("%s%v", userPrefix, userID), nil
		}
		clientIP := c.ClientIP()
		if clientIP == "" {
			return "", fmt.Errorf("unable to determine client IP")
		}
		return ipPrefix + clientIP, nil
	}
}

// RateLimiter is a gin middleware around a FixedWindowLimiter
type RateLimiter struct {
	name       string
	limiter    *FixedWindowLimiter
	key        KeyFunc
	writesOnly bool
	metrics    *metrics.Metrics
}

// RateLimiterOption configures a RateLimiter
type RateLimiterOption func(*RateLimiter)

// WritesOnly skips GET, HEAD and OPTIONS requests
func WritesOnly() RateLimiterOption {
	return func(rl *RateLimiter) { rl.writesOnly = true }
}

// WithRateLimitMetrics counts blocked requests
func WithRateLimitMetrics(m *metrics.Metrics) RateLimiterOption {
	return func(rl *RateLimiter) { rl.metrics = m }
}

// NewRateLimiter creates a named rate limiting middleware
func NewRateLimiter(name string, limiter *FixedWindowLimiter, key KeyFunc, opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		name:    name,
		limiter: limiter,
		key:     key,
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Middleware returns the Gin handler
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.writesOnly && isReadMethod(c.Request.Method) {
			c.Next()
			return
		}

		key, err := rl.deriveKey(c)
		if err != nil {
			// Fail-open: rate limiting must not block delivery
			logger.Warn("Rate limit key derivation failed, allowing request",
				zap.String("limiter", rl.name),
				zap.Error(err))
			c.Next()
			return
		}

		allowed, remaining, retryAfter := rl.limiter.check(key)
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.limiter.maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			rl.metrics.RecordRateLimitBlocked(rl.name)
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			response.AbortWithError(c, apperrors.RateLimitExceededError(retryAfter))
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) deriveKey(c *gin.Context) (key string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("key function panicked: %v", r)
		}
	}()
	return rl.key(c)
}

func isReadMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}
