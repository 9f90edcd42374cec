package web

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const idleClientTTL = 10 * time.Minute

// RateLimiter keeps one token bucket per client IP. Buckets of idle clients expire.
type RateLimiter struct {
	perMinute int
	burst     int
	exempt    map[string]struct{}
	onReject  func(reason string)

	mu      sync.Mutex
	clients *cache.Cache
}

func NewRateLimiter(perMinute, burst int, exemptPaths ...string) *RateLimiter {
	exempt := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		exempt[path] = struct{}{}
	}

	return &RateLimiter{
		perMinute: perMinute,
		burst:     burst,
		exempt:    exempt,
		onReject:  func(string) {},
		clients:   cache.New(idleClientTTL, idleClientTTL),
	}
}

// OnReject registers a callback invoked for every refused request.
func (rl *RateLimiter) OnReject(fn func(reason string)) *RateLimiter {
	rl.onReject = fn

	return rl
}

func (rl *RateLimiter) limiter(client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if cached, ok := rl.clients.Get(client); ok {
		limiter, _ := cached.(*rate.Limiter)
		rl.clients.SetDefault(client, limiter)

		return limiter
	}

	limiter := rate.NewLimiter(rate.Limit(float64(rl.perMinute)/60), rl.burst)
	rl.clients.SetDefault(client, limiter)

	return limiter
}

func (rl *RateLimiter) Handler() fiber.Handler {
	retryAfter := strconv.Itoa(int(math.Ceil(60 / float64(rl.perMinute))))

	return func(c fiber.Ctx) error {
		if _, ok := rl.exempt[c.Path()]; ok {
			return c.Next()
		}

		limiter := rl.limiter(c.IP())
		allowed := limiter.Allow()

		c.Set("X-RateLimit-Limit", strconv.Itoa(rl.perMinute))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(max(0, int(limiter.Tokens()))))

		if !allowed {
			rl.onReject("rate_limit")
			c.Set(fiber.HeaderRetryAfter, retryAfter)

			return tooManyRequests(c, "Rate limit exceeded, retry later")
		}

		return c.Next()
	}
}
