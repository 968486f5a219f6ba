package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/simple-assets/pkg/simpleassets"
	"github.com/tendant/simple-assets/pkg/simpleassets/api"
	"github.com/tendant/simple-assets/pkg/simpleassets/config"
)

func main() {
	// Load configuration; refuse to start on anything invalid
	cfg, err := config.Load()
	if err != nil {
		var cfgErr *simpleassets.ConfigurationError
		if errors.As(err, &cfgErr) {
			slog.Error("Invalid configuration", "field", cfgErr.Field, "reason", cfgErr.Reason)
		} else {
			slog.Error("Failed to read configuration", "err", err)
		}
		os.Exit(1)
	}

	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, cleanup, err := cfg.BuildService(ctx, logger)
	if err != nil {
		logger.Error("Failed to build service", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	r := chi.NewRouter()
	r.Use(middleware.RealIP)

	app.RoutesHealthz(r)
	app.RoutesHealthzReady(r)

	api.Mount(r, svc, api.Options{
		Logger:             logger,
		MaxUploadMemory:    cfg.MaxUploadMemory,
		LoginRatePerMinute: cfg.LoginRatePerMinute,
		LoginRateBurst:     cfg.LoginRateBurst,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	go collectOrphans(ctx, svc, cfg.OrphanUploadAge, logger)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Port, "environment", cfg.Environment, "storage", cfg.StorageURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "err", err)
	}
	logger.Info("Server exiting")
}

// collectOrphans periodically removes chunks left behind by interrupted uploads
func collectOrphans(ctx context.Context, svc simpleassets.Service, age time.Duration, logger *slog.Logger) {
	if age <= 0 {
		return
	}
	interval := age / 4
	if interval < time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.CollectOrphans(ctx, age)
			if err != nil {
				logger.Error("Orphan collection failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Info("Collected orphaned uploads", "count", n)
			}
		}
	}
}
