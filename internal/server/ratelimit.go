// file: internal/server/ratelimit.go
// version: 1.1.0
// guid: 9c0d1e2f-3a4b-5c6d-7e8f-9a0b1c2d3e4f

package server

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/sahelmfi/sfd-gateway/internal/metrics"
)

// sfdLimiter throttles per tenant so one noisy SFD cannot starve the
// daemon for the others. Requests without an X-SFD-ID header share a
// single default bucket.
type sfdLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newSfdLimiter(perSecond float64, burst int) *sfdLimiter {
	return &sfdLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (l *sfdLimiter) get(sfdID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[sfdID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[sfdID] = lim
	}
	return lim
}

func (l *sfdLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.limit <= 0 {
			c.Next()
			return
		}
		sfdID := c.GetHeader("X-SFD-ID")
		if !l.get(sfdID).Allow() {
			metrics.IncRateLimited(sfdID)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
