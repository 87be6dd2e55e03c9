// Command validator runs validation batches against the raw feed store,
// either once or on the configured cron schedule.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kr1s57/feedvalidator/internal/app"
	"github.com/kr1s57/feedvalidator/internal/config"
	"github.com/kr1s57/feedvalidator/internal/usecase/validation"
)

func main() {
	os.Exit(run())
}

func run() int {
	once := flag.Bool("once", false, "run a single batch and exit")
	size := flag.Int("size", 0, "batch size override for -once")
	force := flag.Bool("force", false, "ignore the re-check cooldown for -once")
	importPath := flag.String("import-whitelist", "", "import a whitelist file and exit")
	list := flag.String("list", "", "whitelist name for -import-whitelist (cisco or tranco)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}
	logger := config.SetupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize application", "error", err)
		return 1
	}
	defer a.Close()

	switch {
	case *importPath != "":
		return importWhitelist(ctx, a, logger, *importPath, *list)
	case *once:
		if err := a.RunOnce(ctx, validation.BatchOptions{Size: *size, Force: *force}); err != nil {
			logger.Error("Validation batch failed", "error", err)
			return 1
		}
		return 0
	}

	c, err := a.StartScheduler(ctx)
	if err != nil {
		logger.Error("Failed to start scheduler", "error", err)
		return 1
	}
	logger.Info("Validator running", "schedule", cfg.Validation.Schedule)

	<-ctx.Done()
	logger.Info("Shutting down validator...")
	<-c.Stop().Done()
	logger.Info("Validator stopped")
	return 0
}

func importWhitelist(ctx context.Context, a *app.App, logger *slog.Logger, path, list string) int {
	f, err := os.Open(path)
	if err != nil {
		logger.Error("Failed to open whitelist file", "path", path, "error", err)
		return 1
	}
	defer f.Close()

	n, err := a.Whitelist.Import(ctx, list, f)
	if err != nil {
		logger.Error("Whitelist import failed", "list", list, "error", err)
		return 1
	}
	logger.Info("Whitelist imported", "list", list, "entries", n)
	return 0
}
