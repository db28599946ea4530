package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/networktap/networktap/internal/logger"
	"github.com/networktap/networktap/pkg/auth"
	"github.com/networktap/networktap/pkg/metrics"
)

type ctxKey int

const principalKey ctxKey = iota

// PrincipalFrom returns the authenticated principal stored by the auth
// middleware.
func PrincipalFrom(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey).(auth.Principal)
	return p, ok
}

// basicAuth authenticates every request through the gate and stashes
// the principal in the context.
func basicAuth(gate *auth.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := gate.AuthenticateRequest(r)
			if err != nil {
				Fail(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), principalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireAdmin gates mutating endpoints on the admin role.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok || !p.Admin() {
			Fail(w, r, Errf(KindForbidden, "admin role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Rate limit for mutating endpoints, per client IP.
const (
	mutateRate  = 5
	mutateBurst = 10
)

// ipLimiter hands out one token bucket per client IP and forgets idle
// clients after a while.
type ipLimiter struct {
	mu      sync.Mutex
	clients map[string]*ipClient
}

type ipClient struct {
	limiter *rate.Limiter
	seen    time.Time
}

func newIPLimiter() *ipLimiter {
	return &ipLimiter{clients: make(map[string]*ipClient)}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[ip]
	if !ok {
		if len(l.clients) > 1024 {
			l.evictIdle()
		}
		c = &ipClient{limiter: rate.NewLimiter(mutateRate, mutateBurst)}
		l.clients[ip] = c
	}
	c.seen = time.Now()
	return c.limiter.Allow()
}

// evictIdle drops clients not seen for ten minutes. Called with mu held.
func (l *ipLimiter) evictIdle() {
	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, c := range l.clients {
		if c.seen.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
}

// rateLimit throttles mutating requests per client IP. RealIP runs
// earlier in the chain, so RemoteAddr is the client address.
func rateLimit(l *ipLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			if !l.allow(ip) {
				Fail(w, r, Errf(KindThrottled, "too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger logs request start at debug and completion at info, and
// feeds the HTTP request counter.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		metrics.HTTPRequests.WithLabelValues(r.Method, strconv.Itoa(ww.Status())).Inc()
		logger.Info("request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
