package gateway

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/telemetry"
)

// traceMiddleware ensures every request carries a trace ID, echoing an
// inbound one and minting otherwise. The ID is returned on the response so
// clients can correlate, and rides the context so downstream callers
// propagate it on outbound calls.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(core.TraceIDHeader)
		if traceID == "" {
			traceID = core.NewTraceID()
		}
		w.Header().Set(core.TraceIDHeader, traceID)
		ctx := core.WithTraceID(r.Context(), traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// traceFrom reads the request's trace ID, minting as a last resort.
func traceFrom(r *http.Request) string {
	if id := core.TraceIDFromContext(r.Context()); id != "" {
		return id
	}
	if id := r.Header.Get(core.TraceIDHeader); id != "" {
		return id
	}
	return core.NewTraceID()
}

// cors applies the configured origin allow-list. A literal "*" allows any
// origin; an empty list disables cross-origin access.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+core.TraceIDHeader)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// rateLimiter is a fixed-window per-client limiter. Windows reset every
// minute; stale clients are pruned on rollover.
type rateLimiter struct {
	mu          sync.Mutex
	perMinute   int
	windowStart time.Time
	counts      map[string]int
}

func newRateLimiter(perMinute int) *rateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &rateLimiter{
		perMinute:   perMinute,
		windowStart: time.Now(),
		counts:      make(map[string]int),
	}
}

// allow reports whether the client may proceed in the current window.
func (l *rateLimiter) allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if now.Sub(l.windowStart) >= time.Minute {
		l.windowStart = now
		l.counts = make(map[string]int)
	}
	l.counts[client]++
	return l.counts[client] <= l.perMinute
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			client = r.RemoteAddr
		}
		if !s.limiter.allow(client) {
			telemetry.Counter(telemetry.MetricRateLimited)
			traceID := traceFrom(r)
			s.writeError(w, traceID, core.NewPipelineError("gateway.rate_limit",
				core.CodeRateLimitExceeded, traceID, errRateLimited))
			return
		}
		next.ServeHTTP(w, r)
	})
}

var errRateLimited = errors.New("request rate over the per-minute limit")
