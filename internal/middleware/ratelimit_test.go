package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time { return c.t }

func newTestLimiter(max int, window time.Duration) (*FixedWindowLimiter, *stepClock) {
	clock := &stepClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewFixedWindowLimiter(max, window)
	l.now = clock.now
	return l, clock
}

func TestFixedWindowLimiter_Window(t *testing.T) {
	l, clock := newTestLimiter(3, 10*time.Second)

	for i := 0; i < 3; i++ {
		allowed, retry := l.Check("u:1")
		assert.True(t, allowed, "request %d", i+1)
		assert.Zero(t, retry)
	}

	clock.t = clock.t.Add(2500 * time.Millisecond)
	allowed, retry := l.Check("u:1")
	assert.False(t, allowed)
	assert.Equal(t, 8, retry) // ceil(7.5)

	// other keys are independent
	allowed, _ = l.Check("u:2")
	assert.True(t, allowed)

	clock.t = clock.t.Add(7500 * time.Millisecond)
	allowed, _ = l.Check("u:1")
	assert.True(t, allowed, "a new window starts once windowMs has elapsed")
}

func TestFixedWindowLimiter_RetryAfterAtLeastOneSecond(t *testing.T) {
	l, clock := newTestLimiter(1, time.Second)

	l.Check("k")
	clock.t = clock.t.Add(999 * time.Millisecond)
	allowed, retry := l.Check("k")
	assert.False(t, allowed)
	assert.Equal(t, 1, retry)
}

func TestFixedWindowLimiter_Sweep(t *testing.T) {
	l, clock := newTestLimiter(1, time.Minute)

	l.Check("a")
	clock.t = clock.t.Add(30 * time.Second)
	l.Check("b")
	clock.t = clock.t.Add(30 * time.Second)

	assert.Equal(t, 1, l.Sweep())
	assert.Len(t, l.windows, 1)
}

func TestFixedWindowLimiter_StartCleanupStopsWithContext(t *testing.T) {
	l := NewFixedWindowLimiter(1, time.Millisecond)
	l.Check("a")

	ctx, cancel := context.WithCancel(context.Background())
	l.StartCleanup(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.windows) == 0
	}, time.Second, 5*time.Millisecond)
	cancel()
}

func newLimitedRouter(rl *RateLimiter, setUser bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if setUser {
		r.Use(func(c *gin.Context) {
			c.Set("user_id", "alice")
			c.Next()
		})
	}
	r.Use(rl.Middleware())
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.GET("/items", ok)
	r.POST("/items", ok)
	return r
}

func TestRateLimiter_DeniesWith429AndRetryAfter(t *testing.T) {
	l, _ := newTestLimiter(2, time.Minute)
	router := newLimitedRouter(NewRateLimiter("global", l, UserOrIPKey("u:", "ip:")), true)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/items", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/items", nil))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", body.Error.Code)
	assert.Equal(t, "Too many requests, slow down", body.Error.Message)

	_, counted := l.windows["u:alice"]
	assert.True(t, counted)
}

func TestRateLimiter_WritesOnlySkipsReads(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)
	router := newLimitedRouter(NewRateLimiter("global", l, UserOrIPKey("u:", "ip:"), WritesOnly()), false)

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/items", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/items", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/items", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimiter_FallsBackToIPKey(t *testing.T) {
	l, _ := newTestLimiter(5, time.Minute)
	router := newLimitedRouter(NewRateLimiter("message", l, UserOrIPKey("msg:", "msgip:")), false)

	req := httptest.NewRequest(http.MethodPost, "/items", nil)
	req.RemoteAddr = "10.1.2.3:4567"
	router.ServeHTTP(httptest.NewRecorder(), req)

	_, counted := l.windows["msgip:10.1.2.3"]
	assert.True(t, counted)
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)
	keys := map[string]KeyFunc{
		"error": func(c *gin.Context) (string, error) { return "", assert.AnError },
		"panic": func(c *gin.Context) (string, error) { panic("boom") },
	}

	for name, key := range keys {
		t.Run(name, func(t *testing.T) {
			router := newLimitedRouter(NewRateLimiter("global", l, key), false)
			for i := 0; i < 3; i++ {
				w := httptest.NewRecorder()
				router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/items", nil))
				assert.Equal(t, http.StatusOK, w.Code)
			}
		})
	}
	assert.Empty(t, l.windows)
}

func TestFixedWindowLimiter_OneSecondWindowOfTwo(t *testing.T) {
	l, clock := newTestLimiter(2, time.Second)

	first, _ := l.Check("k")
	clock.t = clock.t.Add(300 * time.Millisecond)
	second, _ := l.Check("k")
	clock.t = clock.t.Add(300 * time.Millisecond)
	third, retry := l.Check("k")

	assert.True(t, first)
	assert.True(t, second)
	assert.False(t, third)
	assert.Positive(t, retry)

	clock.t = clock.t.Add(400 * time.Millisecond)
	fourth, _ := l.Check("k")
	assert.True(t, fourth)
}
