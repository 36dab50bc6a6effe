package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/healthlock/healthlock/internal/platform/apperr"
)

// RateLimitConfig allows Limit requests per Window for each client IP. The
// bucket starts full, so a client may spend the whole window's allowance at
// once and then refills continuously.
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

// AuthRateLimitConfig guards sign-in and sign-up: 30 requests per 15 minutes.
func AuthRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{Limit: 30, Window: 15 * time.Minute}
}

// RecordRateLimitConfig guards token-gated record fetches: 60 per minute.
func RecordRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{Limit: 60, Window: time.Minute}
}

func (c RateLimitConfig) refillRate() float64 {
	if c.Window <= 0 {
		return 0
	}
	return float64(c.Limit) / c.Window.Seconds()
}

type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(rate float64, burst int, now time.Time) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: now,
	}
}

// take refills the bucket and consumes one token. It returns whether the
// request is allowed, the whole tokens left, and the seconds until the next
// token when denied.
func (b *tokenBucket) take(now time.Time) (bool, int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.maxTokens {
			b.tokens = b.maxTokens
		}
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens), 0
	}
	if b.refillRate <= 0 {
		return false, 0, 1
	}
	return false, 0, int((1-b.tokens)/b.refillRate) + 1
}

func (b *tokenBucket) idleSince(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Sub(b.lastRefill)
}

type rateLimiterStore struct {
	buckets map[string]*tokenBucket
	mu      sync.RWMutex
	config  RateLimitConfig
	now     func() time.Time
	sweeps  int
}

func newRateLimiterStore(cfg RateLimitConfig, now func() time.Time) *rateLimiterStore {
	return &rateLimiterStore{
		buckets: make(map[string]*tokenBucket),
		config:  cfg,
		now:     now,
	}
}

func (s *rateLimiterStore) getBucket(key string) *tokenBucket {
	s.mu.RLock()
	bucket, ok := s.buckets[key]
	s.mu.RUnlock()
	if ok {
		return bucket
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket, ok := s.buckets[key]; ok {
		return bucket
	}

	// Drop full-refilled buckets every so often so the map tracks active
	// clients only.
	s.sweeps++
	if s.sweeps%1024 == 0 {
		now := s.now()
		for k, b := range s.buckets {
			if b.idleSince(now) > s.config.Window {
				delete(s.buckets, k)
			}
		}
	}

	bucket = newTokenBucket(s.config.refillRate(), s.config.Limit, s.now())
	s.buckets[key] = bucket
	return bucket
}

// RateLimit returns a per-IP rate limiting middleware.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	return rateLimit(cfg, time.Now)
}

func rateLimit(cfg RateLimitConfig, now func() time.Time) echo.MiddlewareFunc {
	store := newRateLimiterStore(cfg, now)
	limit := strconv.Itoa(cfg.Limit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			bucket := store.getBucket(c.RealIP())
			allowed, remaining, retryAfter := bucket.take(now())

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !allowed {
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				return apperr.New(apperr.KindRateLimited, "Too many requests, please try again later")
			}
			return next(c)
		}
	}
}
