package auth

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/time/rate"
)

const TextCodeRateLimited = "RATE_LIMITED"

// ErrRateLimited is written when a client exceeds the sign in rate.
var ErrRateLimited = goerrors.New("too many requests, try again later", goerrors.CategoryRateLimit).
	WithCode(http.StatusTooManyRequests).
	WithTextCode(TextCodeRateLimited)

// RateLimiterConfig configures per client limits on credential endpoints.
type RateLimiterConfig struct {
	Rate            rate.Limit
	Burst           int
	CleanupInterval time.Duration
}

// DefaultRateLimiterConfig allows 10 attempts per minute per client.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Rate:            rate.Limit(10.0 / 60.0),
		Burst:           10,
		CleanupInterval: 5 * time.Minute,
	}
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter keeps one token bucket per client ip.
type RateLimiter struct {
	config RateLimiterConfig
	logger Logger

	mu      sync.Mutex
	clients map[string]*clientLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter starts a limiter. Stop releases its cleanup goroutine.
func NewRateLimiter(config RateLimiterConfig, logger Logger) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		logger:  normalizeLogger(logger),
		clients: make(map[string]*clientLimiter),
		stopCh:  make(chan struct{}),
	}
	if config.CleanupInterval > 0 {
		go rl.cleanupLoop()
	}
	return rl
}

// Stop ends the cleanup loop.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Allow consumes one token for key.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, ok := rl.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.config.Rate, rl.config.Burst)}
		rl.clients[key] = cl
	}
	cl.lastAccess = time.Now()
	return cl.limiter.Allow()
}

// Middleware rejects clients over the limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RequestMetaFromRequest(r).IP
		if !rl.Allow(ip) {
			rl.logger.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
			retryAfter := 1
			if rl.config.Rate > 0 {
				retryAfter = int(math.Max(1, math.Ceil(1.0/float64(rl.config.Rate))))
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			WriteError(w, ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, cl := range rl.clients {
		if now.Sub(cl.lastAccess) > ttl {
			delete(rl.clients, key)
		}
	}
}
