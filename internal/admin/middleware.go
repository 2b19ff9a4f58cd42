package admin

import (
	"context"
	"crypto/subtle"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/chronos/internal/metrics"
	"github.com/goodtune/chronos/internal/permission"
	"github.com/gorilla/mux"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// ContextKeyContractor is the context key for the calling contractor.
const ContextKeyContractor contextKey = "contractor"

// HeaderContractor names the contractor a request acts for.
const HeaderContractor = "X-Chronos-Contractor"

// ContractorMiddleware resolves the contractor of a request. A bearer token
// equal to the console token acts as the console and bypasses permission
// checks; otherwise the contractor header names the caller.
func ContractorMiddleware(consoleToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var contractor permission.Contractor

			if auth := r.Header.Get("Authorization"); auth != "" {
				token, ok := strings.CutPrefix(auth, "Bearer ")
				if !ok || consoleToken == "" ||
					subtle.ConstantTimeCompare([]byte(token), []byte(consoleToken)) != 1 {
					WriteError(w, http.StatusUnauthorized, "Invalid console token")
					return
				}
				contractor = permission.Console
			} else {
				contractor = permission.Contractor{ID: strings.TrimSpace(r.Header.Get(HeaderContractor))}
			}

			ctx := context.WithValue(r.Context(), ContextKeyContractor, contractor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ContractorFromContext returns the contractor resolved for a request.
func ContractorFromContext(ctx context.Context) (permission.Contractor, bool) {
	contractor, ok := ctx.Value(ContextKeyContractor).(permission.Contractor)
	return contractor, ok && (contractor.ID != "" || contractor.Bypass)
}

// LoggingMiddleware logs every request and counts it by route template.
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			metrics.AdminRequestsTotal.WithLabelValues(route, strconv.Itoa(wrapped.statusCode)).Inc()

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Int("status", wrapped.statusCode).
				Dur("duration", time.Since(start)).
				Msg("Admin request")
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// RateLimiter hands out one token bucket per client address. Idle buckets
// age out of the cache.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	buckets *expirable.LRU[string, *rate.Limiter]
}

// NewRateLimiter creates a limiter allowing perSecond requests with the
// given burst per client.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		buckets: expirable.NewLRU[string, *rate.Limiter](1024, nil, 10*time.Minute),
	}
}

// Allow reports whether a request from identifier may proceed.
func (rl *RateLimiter) Allow(identifier string) bool {
	limiter, ok := rl.buckets.Get(identifier)
	if !ok {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.buckets.Add(identifier, limiter)
	}
	return limiter.Allow()
}

// retryAfter returns the seconds until one token is back.
func (rl *RateLimiter) retryAfter() int {
	seconds := int(math.Ceil(1.0 / float64(rl.limit)))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// RateLimitMiddleware rejects clients that exceed their request rate.
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := r.RemoteAddr
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				identifier = host
			}

			if !limiter.Allow(identifier) {
				w.Header().Set("Retry-After", strconv.Itoa(limiter.retryAfter()))
				WriteError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
