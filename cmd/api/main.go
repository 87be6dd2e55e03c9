package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kr1s57/feedvalidator/internal/app"
	"github.com/kr1s57/feedvalidator/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	withScheduler := flag.Bool("scheduler", false,
		"also run scheduled validation batches in this process; quota is coordinated per process only, "+
			"so when a cmd/validator daemon owns the schedule leave this off and set OPS_DISABLE_MANUAL_RUNS=true")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	// Setup logger
	logger := config.SetupLogger(cfg)
	logger.Info("Starting feed validator API",
		"env", cfg.App.Env,
		"port", cfg.App.Port,
		"store", cfg.Store.Driver,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize application", "error", err)
		return 1
	}
	defer a.Close()

	if *withScheduler {
		c, err := a.StartScheduler(ctx)
		if err != nil {
			logger.Error("Failed to start scheduler", "error", err)
			return 1
		}
		defer func() { <-c.Stop().Done() }()
	}

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.App.Host, cfg.App.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      a.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server stopped")
	return 0
}
