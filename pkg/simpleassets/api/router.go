package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/tendant/simple-assets/pkg/simpleassets"
)

// Options configures the HTTP surface
type Options struct {
	Logger             *slog.Logger
	MaxUploadMemory    int64
	LoginRatePerMinute int
	LoginRateBurst     int
	CORSAllowedOrigins []string
}

// Mount registers every API route on r
func Mount(r chi.Router, service simpleassets.Service, opts Options) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origins := opts.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	guard := NewGuard(service, logger)
	limiter := NewRateLimiter(opts.LoginRatePerMinute, opts.LoginRateBurst)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(RequestLogger(logger))
		r.Use(Recoverer(logger))
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"Content-Disposition", "X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))

		r.Mount("/auth", NewAuthHandler(service, limiter, logger).Routes())
		r.Mount("/assets", NewAssetsHandler(service, guard, opts.MaxUploadMemory, logger).Routes())
		r.Mount("/feedback", NewFeedbackHandler(service, guard, logger).Routes())
		r.Mount("/services", NewServicesHandler(service, guard, logger).Routes())
	})
}

// NewRouter returns a router serving the API at its root
func NewRouter(service simpleassets.Service, opts Options) chi.Router {
	r := chi.NewRouter()
	Mount(r, service, opts)
	return r
}
