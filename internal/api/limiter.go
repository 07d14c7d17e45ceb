package api

import (
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"predictapi/internal/config"

	"golang.org/x/time/rate"
)

// rateLimiter keeps one token bucket per client host. Buckets unused for
// longer than the idle TTL are swept out, at most once per TTL.
type rateLimiter struct {
	limiters  sync.Map // client key -> *clientLimiter
	cfg       config.RateLimitConfig
	now       func() time.Time
	lastSweep atomic.Int64
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

func newRateLimiter(cfg config.RateLimitConfig) *rateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = config.DefaultRateLimitBurst
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = config.DefaultRateLimitIdleTTL
	}
	l := &rateLimiter{
		cfg: cfg,
		now: time.Now,
	}
	l.lastSweep.Store(l.now().UnixNano())
	return l
}

func (l *rateLimiter) enabled() bool {
	return l.cfg.RPS > 0
}

func (l *rateLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.enabled() {
			next.ServeHTTP(w, r)
			return
		}
		now := l.now()
		l.sweep(now)
		if !l.getLimiter(clientKey(r), now).AllowN(now, 1) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *rateLimiter) getLimiter(key string, now time.Time) *rate.Limiter {
	if v, ok := l.limiters.Load(key); ok {
		if cl, ok := v.(*clientLimiter); ok {
			cl.lastSeen.Store(now.UnixNano())
			return cl.limiter
		}
	}

	cl := &clientLimiter{limiter: rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst)}
	cl.lastSeen.Store(now.UnixNano())
	actual, loaded := l.limiters.LoadOrStore(key, cl)
	if loaded {
		if actualCl, ok := actual.(*clientLimiter); ok {
			actualCl.lastSeen.Store(now.UnixNano())
			return actualCl.limiter
		}
	}
	return cl.limiter
}

// sweep drops buckets idle for longer than the TTL. Only the caller that wins
// the lastSweep swap walks the map.
func (l *rateLimiter) sweep(now time.Time) {
	last := l.lastSweep.Load()
	if now.UnixNano()-last < int64(l.cfg.IdleTTL) {
		return
	}
	if !l.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}

	cutoff := now.Add(-l.cfg.IdleTTL).UnixNano()
	l.limiters.Range(func(key, value any) bool {
		if cl, ok := value.(*clientLimiter); ok && cl.lastSeen.Load() < cutoff {
			l.limiters.CompareAndDelete(key, value)
		}
		return true
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
