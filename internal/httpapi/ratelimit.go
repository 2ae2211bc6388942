package httpapi

import (
	"net/http"
	"sync"
	"time"

	"voicedesk/internal/auth"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

// RateLimiter keeps one token bucket per tenant (or client IP before the
// tenant is known). Idle buckets expire from the cache.
type RateLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets *gocache.Cache
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: gocache.New(limiterIdleTTL, 2*limiterIdleTTL),
	}
}

func limiterKey(c *gin.Context) string {
	if tid, err := auth.TenantID(c.Request.Context()); err == nil {
		return "tenant:" + tid
	}
	return "ip:" + c.ClientIP()
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if v, ok := rl.buckets.Get(key); ok {
		lim := v.(*rate.Limiter)
		// touch so active keys do not expire
		rl.buckets.SetDefault(key, lim)
		return lim
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.buckets.SetDefault(key, lim)
	return lim
}

// Handler rejects with 429 once the caller's bucket is empty.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.limiter(limiterKey(c)).Allow() {
			c.Next()
			return
		}
		c.Header("Retry-After", "1")
		abort(c, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded")
	}
}
