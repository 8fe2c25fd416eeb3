package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	maxLimiterKeys = 10000
	limiterIdleTTL = 10 * time.Minute
)

// limiterSet hands out one token bucket per key. Buckets idle for limiterIdleTTL
// are evicted, which resets their budget.
type limiterSet struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, *rate.Limiter]
	limit rate.Limit
	burst int
}

func newLimiterSet(limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		cache: expirable.NewLRU[string, *rate.Limiter](maxLimiterKeys, nil, limiterIdleTTL),
		limit: limit,
		burst: burst,
	}
}

func (s *limiterSet) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.cache.Get(key)
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
	}
	// re-adding refreshes the idle deadline
	s.cache.Add(key, l)
	return l
}

// RateLimitConfig defines configuration for the rate limiting middleware
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
	RejectStatus      int // defaults to 429
}

// KeyFunc picks the bucket a request is charged to
type KeyFunc func(c *gin.Context) string

// WebhookKey charges inbound webhooks per source and company route.
// Unrouted deliveries of one source share a bucket.
func WebhookKey(c *gin.Context) string {
	key := c.Param("source")
	if company := c.Param("company_id"); company != "" {
		key += ":" + company
	}
	if key == "" {
		return "__global__"
	}
	return key
}

// ClientIPKey charges requests per client address
func ClientIPKey(c *gin.Context) string {
	return c.ClientIP()
}

// NewRateLimitingMiddleware creates a Gin middleware enforcing per-key limits.
// Rejected requests get cfg.RejectStatus with Retry-After set to the bucket's
// refill delay.
func NewRateLimitingMiddleware(cfg RateLimitConfig, keyOf KeyFunc) gin.HandlerFunc {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 600
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(cfg.RequestsPerMinute/10, 1)
	}
	if cfg.RejectStatus == 0 {
		cfg.RejectStatus = http.StatusTooManyRequests
	}
	if keyOf == nil {
		keyOf = WebhookKey
	}

	limiters := newLimiterSet(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), cfg.Burst)

	return func(c *gin.Context) {
		now := time.Now()
		r := limiters.get(keyOf(c)).ReserveN(now, 1)
		if delay := r.DelayFrom(now); delay > 0 {
			r.CancelAt(now)
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(delay)))
			c.AbortWithStatusJSON(cfg.RejectStatus, gin.H{
				"error":  "rate limit exceeded",
				"detail": "Too many requests. Try again later.",
			})
			return
		}

		c.Next()
	}
}

func retryAfterSeconds(delay time.Duration) int {
	return max(int(math.Ceil(delay.Seconds())), 1)
}
