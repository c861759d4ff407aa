// Package server wires the gateway routes and runs the HTTP listener.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/ows-codec/internal/core/config"
	"github.com/mohammed-shakir/ows-codec/internal/core/health"
	middleware "github.com/mohammed-shakir/ows-codec/internal/core/middleware"
	"github.com/mohammed-shakir/ows-codec/internal/core/router"
)

// Options carries what the routes need beyond the handler dependencies.
type Options struct {
	Deps    router.Deps
	Metrics http.Handler
	Checks  []health.Checker
}

// NewHandler builds the route table. It is split from Run for tests.
func NewHandler(logger *slog.Logger, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(opts.Checks...))
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	d := opts.Deps
	r.Post("/transaction", router.HandleTransaction(logger, d))
	r.Get("/featureinfo", router.HandleFeatureInfo(logger, d))
	r.Post("/featureinfo/decode", router.HandleDecode(logger, d))
	r.Get("/tile/{layer}/{z}/{x}/{y}", router.HandleTile(logger, d))
	r.Get("/features", router.HandleFeatures(logger, d))
	return r
}

// Run serves handler on cfg.Addr until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, handler http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
