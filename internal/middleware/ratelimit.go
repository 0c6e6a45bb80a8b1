package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// InMemoryRateLimiter is a sliding-window limiter keyed by an arbitrary
// string, usually the client IP.
type InMemoryRateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

func NewInMemoryRateLimiter(limit int, window time.Duration) *InMemoryRateLimiter {
	r := &InMemoryRateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go r.cleanup(time.Minute)
	return r
}

// Allow records a request for key. When the key is over its limit it returns
// false and how long until the oldest request leaves the window.
func (r *InMemoryRateLimiter) Allow(key string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	valid := prune(r.requests[key], now.Add(-r.window))
	if len(valid) >= r.limit {
		r.requests[key] = valid
		return false, valid[0].Add(r.window).Sub(now)
	}
	r.requests[key] = append(valid, now)
	return true, 0
}

func (r *InMemoryRateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *InMemoryRateLimiter) cleanup(every time.Duration) {
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-tick.C:
			r.sweep()
		}
	}
}

func (r *InMemoryRateLimiter) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.window)
	for k, times := range r.requests {
		if valid := prune(times, cutoff); len(valid) == 0 {
			delete(r.requests, k)
		} else {
			r.requests[k] = valid
		}
	}
}

func prune(times []time.Time, cutoff time.Time) []time.Time {
	var valid []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	return valid
}

// RateLimit returns a middleware that limits by client IP.
func RateLimit(limiter *InMemoryRateLimiter) gin.HandlerFunc {
	return RateLimitBy(limiter, ClientIPKey, nil)
}

func ClientIPKey(c *gin.Context) string {
	return c.ClientIP()
}

// RateLimitBy limits requests sharing key(c). A request over the limit is
// answered by onLimited, or a 429 JSON body when onLimited is nil, and the
// chain is aborted.
func RateLimitBy(limiter *InMemoryRateLimiter, key func(*gin.Context) string, onLimited gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, retryAfter := limiter.Allow(key(c))
		if ok {
			c.Next()
			return
		}
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
		if onLimited == nil {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded", "code": "RATE_LIMITED"})
			return
		}
		onLimited(c)
		c.Abort()
	}
}
