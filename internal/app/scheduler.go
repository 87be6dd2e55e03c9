package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kr1s57/feedvalidator/internal/usecase/validation"
)

const (
	whitelistReloadSchedule = "@every 1h"
	cacheCleanupInterval    = 10 * time.Minute
)

// cronLogger routes cron's own messages through slog
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("[SCHEDULER] "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("[SCHEDULER] "+msg, append(keysAndValues, "error", err)...)
}

// StartScheduler runs validation batches on cfg.Validation.Schedule and
// reloads the whitelist hourly until ctx is done. Overlapping runs are skipped.
func (a *App) StartScheduler(ctx context.Context) (*cron.Cron, error) {
	logger := cronLogger{logger: a.logger}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))

	if _, err := c.AddFunc(a.Config.Validation.Schedule, func() {
		a.RunOnce(ctx, validation.BatchOptions{})
	}); err != nil {
		return nil, err
	}

	if _, err := c.AddFunc(whitelistReloadSchedule, func() {
		if err := a.Whitelist.Reload(ctx); err != nil {
			a.logger.Warn("[WHITELIST] Scheduled reload failed", "error", err)
		}
	}); err != nil {
		return nil, err
	}

	go a.Cache.RunCleanup(ctx, cacheCleanupInterval)

	c.Start()
	a.logger.Info("[SCHEDULER] Started",
		"validation_schedule", a.Config.Validation.Schedule,
		"whitelist_schedule", whitelistReloadSchedule)

	return c, nil
}

// RunOnce runs one validation batch, treating an in-progress batch as a skip
func (a *App) RunOnce(ctx context.Context, opts validation.BatchOptions) error {
	_, err := a.Validation.RunValidationBatch(ctx, opts)
	if errors.Is(err, validation.ErrBatchInProgress) {
		a.logger.Info("[SCHEDULER] Batch already running, skipped")
		return nil
	}
	return err
}
