package handler

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxTrackedClients = 10000

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	logger   *zap.Logger
}

// NewRateLimiter returns nil when perSecond is not positive; a nil limiter passes everything.
func NewRateLimiter(perSecond float64, burst int, logger *zap.Logger) *RateLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(perSecond) + 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		logger:   logger,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[key]
	if !exists {
		if len(rl.limiters) >= maxTrackedClients {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		if !rl.getLimiter(key).Allow() {
			rl.logger.Warn("rate limit exceeded", zap.String("client", key), zap.String("path", r.URL.Path))
			w.Header().Set("Retry-After", retryAfter(rl.rate))
			writeError(w, rl.logger, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// retryAfter is the wait for one token, in whole seconds.
func retryAfter(l rate.Limit) string {
	if l >= 1 {
		return "1"
	}
	return strconv.Itoa(int(math.Ceil(1 / float64(l))))
}
