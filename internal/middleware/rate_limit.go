package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/internal/utils"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client IP
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*visitor
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
	logger   *logrus.Logger
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows requestsPerMinute per IP with the given burst
func NewRateLimiter(requestsPerMinute, burst int, logger *logrus.Logger) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*visitor),
		limit:    rate.Limit(float64(requestsPerMinute) / 60),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
		logger:   logger,
	}
}

func (r *RateLimiter) get(ip string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	v, ok := r.limiters[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.limiters[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Cleanup drops buckets for clients idle longer than the TTL
func (r *RateLimiter) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.idleTTL)
	removed := 0
	for ip, v := range r.limiters {
		if v.lastSeen.Before(cutoff) {
			delete(r.limiters, ip)
			removed++
		}
	}
	return removed
}

// RateLimitMiddleware answers 429 with Retry-After once an IP exhausts its bucket
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := utils.GetRealIP(c)
		reservation := limiter.get(ip).ReserveN(limiter.now(), 1)
		if !reservation.OK() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"ok": false, "code": "RATE_LIMITED", "error": "too many requests"})
			return
		}
		if delay := reservation.DelayFrom(limiter.now()); delay > 0 {
			reservation.CancelAt(limiter.now())
			retryAfter := int(math.Ceil(delay.Seconds()))
			limiter.logger.WithFields(logrus.Fields{
				"ip":          ip,
				"path":        c.Request.URL.Path,
				"retry_after": retryAfter,
			}).Warn("Rate limit exceeded")
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"ok":          false,
				"code":        "RATE_LIMITED",
				"error":       "too many requests",
				"retry_after": retryAfter,
			})
			return
		}
		c.Next()
	}
}
