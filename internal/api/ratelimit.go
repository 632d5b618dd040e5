package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// Per-client request budget: a sustained rate with room for bursts.
	limiterRate  = rate.Limit(50)
	limiterBurst = 100

	// Idle limiter entries older than this are dropped on the next sweep.
	limiterTTL = 10 * time.Minute
)

// ipLimiter hands out one token bucket per client IP.
type ipLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter() *ipLimiter {
	return &ipLimiter{clients: make(map[string]*client)}
}

// allow reports whether a request from ip fits its budget, creating the
// bucket on first sight and sweeping idle entries opportunistically.
func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	c, ok := l.clients[ip]
	if !ok {
		if len(l.clients) > 1000 {
			l.sweepLocked(now)
		}
		c = &client{limiter: rate.NewLimiter(limiterRate, limiterBurst)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter.Allow()
}

func (l *ipLimiter) sweepLocked(now time.Time) {
	for ip, c := range l.clients {
		if now.Sub(c.lastSeen) > limiterTTL {
			delete(l.clients, ip)
		}
	}
}

// rateLimitMiddleware rejects requests exceeding the per-IP budget with 429.
func rateLimitMiddleware(l *ipLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(clientIP(r)) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
