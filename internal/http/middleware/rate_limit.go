package middleware

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/diagnosis/wanderlust/internal/http/response"
	"github.com/diagnosis/wanderlust/pkg/logger"
)

// Limiter decides whether another attempt under key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter counts attempts per key in fixed windows shared by every replica.
type RedisLimiter struct {
	client   *redis.Client
	requests int
	window   time.Duration
}

func NewRedisLimiter(client *redis.Client, requests int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, requests: requests, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	// Hash the key for privacy
	hashed := fmt.Sprintf("ratelimit:%x", sha256.Sum256([]byte(key)))

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, hashed)
	pipe.ExpireNX(ctx, hashed, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, err
	}
	return incr.Val() <= int64(l.requests), nil
}

// idleAfter is how long an untouched bucket is kept. A bucket idle this long has
// refilled, so dropping it loses nothing.
const idleAfter = 10 * time.Minute

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// LocalLimiter is a per-key token bucket held in process memory.
type LocalLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*bucket
	every     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewLocalLimiter(requests int, window time.Duration) *LocalLimiter {
	if requests <= 0 {
		requests = 1
	}
	return &LocalLimiter{
		limiters: make(map[string]*bucket),
		every:    rate.Every(window / time.Duration(requests)),
		burst:    requests,
		idle:     max(idleAfter, window),
		now:      time.Now,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		l.sweepLocked(now)
	}
	b, ok := l.limiters[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.every, l.burst)}
		l.limiters[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1), nil
}

func (l *LocalLimiter) sweepLocked(now time.Time) {
	for k, b := range l.limiters {
		if now.Sub(b.seen) >= l.idle {
			delete(l.limiters, k)
		}
	}
	l.lastSweep = now
}

// Len reports how many keys are being tracked.
func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// RateLimit rejects requests over the limit with 429. Limiter failures let the
// request through.
func RateLimit(l Limiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := l.Allow(r.Context(), keyFunc(r))
			if err != nil {
				logger.ErrorContext(r.Context(), "rate limit check failed", "error", err)
			} else if !allowed {
				response.RateLimit(w, "Too many attempts. Try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP keys on the connecting socket. Forwarding headers are not consulted;
// behind a trusted proxy mount chi's RealIP first so RemoteAddr already holds the
// client address.
func ClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
