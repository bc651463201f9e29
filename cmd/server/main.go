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

	"github.com/dontdude/goscribe/internal/app"
	"github.com/dontdude/goscribe/internal/config"
	"github.com/dontdude/goscribe/internal/log"
	"github.com/dontdude/goscribe/internal/platform/web"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 2. Initialize logger
	if err := log.Setup(cfg.LogFormat, cfg.LogLevel); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Startup checks, engine states, converter and event bus (fail fast)
	core, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := core.Close(); err != nil {
			slog.Error("Failed to release resources", "error", err)
		}
	}()

	// 4. Start event broadcaster (background goroutine)
	hub := web.NewHub()
	go func() {
		if err := hub.Run(ctx, core.Bus); err != nil {
			slog.Error("Event broadcaster stopped", "error", err)
		}
	}()

	// 5. Setup rate limiter
	limiter := web.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	go limiter.Run(ctx)

	// 6. Routes and middleware: Logging → CORS → mux
	srv := web.NewServer(web.Config{
		MaxUploadBytes: cfg.MaxUploadBytes,
		States:         core.Pool.Size(),
	}, core.Dispatcher, core.Spool, core.Bus, hub, limiter)

	// Batches run as long as the engine needs, only headers and idle connections are time bound.
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// 7. Graceful shutdown: in-flight batches finish before the engine states are released
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		slog.Info("Shutting down server")
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
		}
	}()

	slog.Info("API Server starting", "address", cfg.Addr(), "states", core.Pool.Size())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-shutdownDone
	slog.Info("Server stopped")
	return nil
}
