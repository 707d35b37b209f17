package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long a client's bucket is kept after its last
// request. A bucket idle that long has refilled anyway.
const limiterIdleTTL = 10 * time.Minute

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter manages per-IP rate limiters using token bucket algorithm
type IPRateLimiter struct {
	limiters  map[string]*ipLimiter
	mu        sync.Mutex
	rate      rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewIPRateLimiter(requestsPerMinute int) *IPRateLimiter {
	return &IPRateLimiter{
		limiters:  make(map[string]*ipLimiter),
		rate:      rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:     requestsPerMinute,
		ttl:       limiterIdleTTL,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// GetLimiter returns the rate limiter for a given IP. Limiters idle for
// longer than the TTL are dropped at most once per TTL.
func (ipl *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	ipl.mu.Lock()
	defer ipl.mu.Unlock()

	now := ipl.now()
	if now.Sub(ipl.lastSweep) >= ipl.ttl {
		for key, l := range ipl.limiters {
			if now.Sub(l.lastSeen) >= ipl.ttl {
				delete(ipl.limiters, key)
			}
		}
		ipl.lastSweep = now
	}

	l, exists := ipl.limiters[ip]
	if !exists {
		l = &ipLimiter{limiter: rate.NewLimiter(ipl.rate, ipl.burst)}
		ipl.limiters[ip] = l
	}
	l.lastSeen = now

	return l.limiter
}

func RateLimitMiddleware(limiter *IPRateLimiter, trusted []*net.IPNet) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := limiter.GetLimiter(getClientIP(r, trusted))

			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", int(l.Tokens())))

			if !l.Allow() {
				writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many requests"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the client IP from the request. Forwarding headers
// are only read when the peer is a trusted proxy; X-Forwarded-For is then
// walked from the right, skipping further trusted hops.
func getClientIP(r *http.Request, trusted []*net.IPNet) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}

	if !isTrusted(peer, trusted) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if i == 0 || !isTrusted(hop, trusted) {
				return hop
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	return peer
}

func isTrusted(addr string, trusted []*net.IPNet) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}

	for _, n := range trusted {
		if n.Contains(ip) {
			return true
		}
	}

	return false
}

// BodySizeLimitMiddleware limits the request body size for POST/PUT/PATCH requests
func BodySizeLimitMiddleware(maxBytes int64) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// decodeJSONBody decodes the body into dst and writes the error response
// itself when it fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "payload too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}

	return true
}

type contextKey string

const RequestIDContextKey contextKey = "requestID"

// RequestIDMiddleware generates a UUID for each request and adds it to context and response header
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), RequestIDContextKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDContextKey).(string); ok {
		return id
	}
	return ""
}

// metricsMiddleware records request metrics and an access log line. It is
// installed on the router so the matched route template is known.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}

		elapsed := time.Since(start)
		s.metrics.RecordHTTPRequest(r.Method, path, wrapped.statusCode, elapsed)

		s.Log().Debug().
			Str("request_id", GetRequestID(r.Context())).
			Str("method", r.Method).
			Str("path", path).
			Int("status", wrapped.statusCode).
			Dur("elapsed", elapsed).
			Msg("request served")
	})
}

// statusResponseWriter wraps http.ResponseWriter to capture status code
type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
