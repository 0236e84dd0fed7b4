package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"devpulse/internal/config"
)

type Settings struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		RPS:             50.0,
		Burst:           100,
		CleanupInterval: time.Minute,
		MaxAge:          5 * time.Minute,
	}
}

// FromConfig converts the rate_limit section, whose intervals are in seconds.
func FromConfig(cfg config.RateLimitConfig) Settings {
	out := DefaultSettings()
	if cfg.RPS > 0 {
		out.RPS = cfg.RPS
	}
	if cfg.Burst > 0 {
		out.Burst = cfg.Burst
	}
	if cfg.CleanupInterval > 0 {
		out.CleanupInterval = time.Duration(cfg.CleanupInterval) * time.Second
	}
	if cfg.MaxAge > 0 {
		out.MaxAge = time.Duration(cfg.MaxAge) * time.Second
	}
	return out
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Buckets keeps one token bucket per key. Buckets idle for longer than
// MaxAge are dropped by Sweep.
type Buckets struct {
	settings Settings
	now      func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

func NewBuckets(s Settings) *Buckets {
	return &Buckets{
		settings: s,
		now:      time.Now,
		buckets:  make(map[string]*bucket),
	}
}

func (b *Buckets) Settings() Settings {
	return b.settings
}

// Take spends one token from key's bucket. When the bucket is empty nothing
// is spent and wait is the time until a token is available.
func (b *Buckets) Take(key string) (ok bool, remaining int, wait time.Duration) {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	bk, exists := b.buckets[key]
	if !exists {
		bk = &bucket{limiter: rate.NewLimiter(rate.Limit(b.settings.RPS), b.settings.Burst)}
		b.buckets[key] = bk
	}
	bk.lastSeen = now

	r := bk.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0, b.settings.MaxAge
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, 0, delay
	}
	return true, int(math.Max(0, bk.limiter.TokensAt(now))), 0
}

// Sweep drops idle buckets and returns how many remain.
func (b *Buckets) Sweep() int {
	cutoff := b.now().Add(-b.settings.MaxAge)

	b.mu.Lock()
	defer b.mu.Unlock()
	for key, bk := range b.buckets {
		if bk.lastSeen.Before(cutoff) {
			delete(b.buckets, key)
		}
	}
	return len(b.buckets)
}

// Run sweeps every CleanupInterval until ctx is done.
func (b *Buckets) Run(ctx context.Context) {
	ticker := time.NewTicker(b.settings.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Sweep()
		}
	}
}
