package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"devpulse/internal/config"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBuckets(rps float64, burst int) (*Buckets, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	b := NewBuckets(Settings{RPS: rps, Burst: burst, CleanupInterval: time.Minute, MaxAge: time.Minute})
	b.now = clock.now
	return b, clock
}

func TestMiddleware_PerProviderBuckets(t *testing.T) {
	gin.SetMode(gin.TestMode)
	b, _ := newTestBuckets(0.5, 2)

	r := gin.New()
	r.POST("/webhooks/:provider", Middleware(b), func(c *gin.Context) { c.Status(http.StatusOK) })

	post := func(provider string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhooks/"+provider, nil)
		req.RemoteAddr = "10.0.0.1:5000"
		r.ServeHTTP(w, req)
		return w
	}

	first := post("github")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "0.5", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, http.StatusOK, post("github").Code)

	limited := post("github")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "2", limited.Header().Get("Retry-After"))
	assert.Equal(t, "0", limited.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, post("gitlab").Code)
}

func TestBuckets_RefillAfterWait(t *testing.T) {
	b, clock := newTestBuckets(1, 1)

	ok, _, _ := b.Take("github|10.0.0.1")
	assert.True(t, ok)

	ok, _, wait := b.Take("github|10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	// A refused request does not spend the token it waited for.
	clock.advance(wait)
	ok, _, _ = b.Take("github|10.0.0.1")
	assert.True(t, ok)
}

func TestBuckets_SweepDropsIdle(t *testing.T) {
	b, clock := newTestBuckets(1, 1)

	b.Take("github|10.0.0.1")
	clock.advance(30 * time.Second)
	b.Take("gitlab|10.0.0.1")
	assert.Equal(t, 2, b.Sweep())

	clock.advance(45 * time.Second)
	assert.Equal(t, 1, b.Sweep())

	clock.advance(time.Minute)
	assert.Equal(t, 0, b.Sweep())
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, "1", retryAfterSeconds(0))
	assert.Equal(t, "1", retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, "3", retryAfterSeconds(2100*time.Millisecond))
}

func TestFromConfig(t *testing.T) {
	got := FromConfig(config.RateLimitConfig{RPS: 5, Burst: 10, CleanupInterval: 30, MaxAge: 120})
	assert.Equal(t, Settings{RPS: 5, Burst: 10, CleanupInterval: 30 * time.Second, MaxAge: 2 * time.Minute}, got)

	assert.Equal(t, DefaultSettings(), FromConfig(config.RateLimitConfig{}))
}
