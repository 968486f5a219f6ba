package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
	"github.com/jellydator/ttlcache/v3"
	"github.com/tendant/simple-assets/pkg/simpleassets"
	"golang.org/x/time/rate"
)

// TokenVerifier checks bearer tokens
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*simpleassets.Claims, error)
}

type contextKey string

const claimsKey contextKey = "claims"

// ClaimsFromContext returns the verified claims stored by Guard.Authenticate
func ClaimsFromContext(ctx context.Context) (*simpleassets.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*simpleassets.Claims)
	return claims, ok && claims != nil
}

// Guard authenticates bearer tokens and enforces roles
type Guard struct {
	verifier TokenVerifier
	logger   *slog.Logger
}

func NewGuard(verifier TokenVerifier, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{verifier: verifier, logger: logger}
}

// Authenticate rejects requests without a valid bearer token and stores the
// claims of valid ones in the request context
func (g *Guard) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := jwtauth.TokenFromHeader(r)
		claims, err := g.verifier.VerifyToken(r.Context(), token)
		if err != nil {
			g.logger.DebugContext(r.Context(), "token rejected", "path", r.URL.Path, "error", err)
			writeError(w, r, g.logger, simpleassets.ErrUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Require returns 403 unless the authenticated caller holds role. It must be
// mounted after Authenticate.
func (g *Guard) Require(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, r, g.logger, simpleassets.ErrUnauthorized)
				return
			}
			if !claims.HasRole(role) {
				g.logger.InfoContext(r.Context(), "role required", "subject", claims.Subject, "role", role, "path", r.URL.Path)
				writeError(w, r, g.logger, simpleassets.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter throttles requests per client address with a token bucket
type RateLimiter struct {
	mu        sync.Mutex
	clients   *ttlcache.Cache[string, *rate.Limiter]
	limit     rate.Limit
	burst     int
	perMinute int
}

// NewRateLimiter allows perMinute requests per client with the given burst.
// Idle clients are forgotten after ten minutes.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		clients: ttlcache.New[string, *rate.Limiter](
			ttlcache.WithTTL[string, *rate.Limiter](10*time.Minute),
			ttlcache.WithCapacity[string, *rate.Limiter](10000),
		),
		limit:     rate.Every(time.Minute / time.Duration(perMinute)),
		burst:     burst,
		perMinute: perMinute,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if item := rl.clients.Get(key); item != nil {
		return item.Value()
	}
	limiter := rate.NewLimiter(rl.limit, rl.burst)
	rl.clients.Set(key, limiter, ttlcache.DefaultTTL)
	return limiter
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.limiter(clientKey(r)).Allow() {
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Minute/time.Second)/rl.perMinute+1))
			render.Status(r, http.StatusTooManyRequests)
			render.JSON(w, r, ErrorResponse{Error: ErrorBody{
				Code:      "rate_limit_exceeded",
				Message:   "Too many requests.",
				RequestID: middleware.GetReqID(r.Context()),
			}})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequestLogger logs every request with its status, size and duration
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// Recoverer turns panics into a 500 response
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.ErrorContext(r.Context(), "panic", "panic", rec, "stack", string(debug.Stack()))
				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, ErrorResponse{Error: ErrorBody{
					Code:      "internal_error",
					Message:   "An internal server error occurred.",
					RequestID: middleware.GetReqID(r.Context()),
				}})
			}()
			next.ServeHTTP(w, r)
		})
	}
}
