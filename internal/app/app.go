// Package app wires configuration, persistence and services together.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kr1s57/feedvalidator/internal/adapter/controller/http/handlers"
	"github.com/kr1s57/feedvalidator/internal/adapter/controller/ws"
	"github.com/kr1s57/feedvalidator/internal/adapter/external/threatintel"
	"github.com/kr1s57/feedvalidator/internal/adapter/repository/clickhouse"
	"github.com/kr1s57/feedvalidator/internal/adapter/repository/memory"
	"github.com/kr1s57/feedvalidator/internal/config"
	"github.com/kr1s57/feedvalidator/internal/usecase/ratelimit"
	"github.com/kr1s57/feedvalidator/internal/usecase/validation"
	"github.com/kr1s57/feedvalidator/internal/usecase/whitelist"
)

// Store is every persistence contract the services need
type Store interface {
	validation.Store
	ratelimit.Repository
	whitelist.Repository
	threatintel.CheckStore
	handlers.IndicatorReader
	handlers.Pinger
}

// App holds the wired services of one process
type App struct {
	Config     *config.Config
	Policy     *config.Policy
	Store      Store
	Quota      *ratelimit.Service
	Whitelist  *whitelist.Service
	Cache      *threatintel.CheckCache
	Validation *validation.Service
	Hub        *ws.Hub

	logger  *slog.Logger
	closers []func() error
}

// New builds the application from cfg
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	policy, err := config.LoadPolicy(cfg.Validation.PolicyPath)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Policy: policy, logger: logger}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	return a.wire(ctx, store), nil
}

// NewWithStore builds the application over an existing store
func NewWithStore(ctx context.Context, cfg *config.Config, policy *config.Policy, store Store, logger *slog.Logger) *App {
	a := &App{Config: cfg, Policy: policy, logger: logger}
	return a.wire(ctx, store)
}

func (a *App) wire(ctx context.Context, store Store) *App {
	if a.logger == nil {
		a.logger = slog.Default()
	}
	cfg, policy, logger := a.Config, a.Policy, a.logger
	a.Store = store

	enabled := policy.Enabled()
	a.Quota = ratelimit.NewService(store, enabled, logger)

	a.Whitelist = whitelist.NewService(store, logger)
	if err := a.Whitelist.Reload(ctx); err != nil {
		logger.Warn("[WHITELIST] Initial load failed, starting with an empty snapshot", "error", err)
	}

	a.Cache = threatintel.NewCheckCache(store, logger)
	adapters := threatintel.BuildAdapters(threatintel.NewClients(cfg.ThreatIntel), enabled, a.Quota, a.Cache, logger)

	validators := make([]validation.Validator, len(adapters))
	for i, ad := range adapters {
		validators[i] = ad
	}

	a.Validation = validation.NewService(store, a.Whitelist, validators, validationConfig(cfg, policy), logger)

	a.Hub = ws.NewHub(cfg.Ops.CORSOrigins, logger)
	a.Validation.SetNotifier(a.Hub)
	go a.Hub.Run(ctx)
	return a
}

func validationConfig(cfg *config.Config, policy *config.Policy) validation.Config {
	vc := validation.DefaultConfig()
	v := cfg.Validation
	if v.BatchSize > 0 {
		vc.BatchSize = v.BatchSize
	}
	if v.FetchMultiplier > 0 {
		vc.FetchMultiplier = v.FetchMultiplier
	}
	if v.Workers > 0 {
		vc.Workers = v.Workers
	}
	if v.BatchBudget > 0 {
		vc.BatchBudget = v.BatchBudget
	}
	if v.RecheckCooldown > 0 {
		vc.RecheckCooldown = v.RecheckCooldown
	}
	vc.Thresholds = policy.Consensus
	vc.Weights = policy.Weights()
	return vc
}

func (a *App) openStore(ctx context.Context) (Store, error) {
	switch a.Config.Store.Driver {
	case "memory":
		a.logger.Warn("[APP] Using in-memory store, state is lost on exit")
		return memory.NewStore(), nil
	case "clickhouse", "":
		conn, err := clickhouse.NewConnection(ctx, &a.Config.ClickHouse, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn.Close)

		if err := clickhouse.EnsureSchema(ctx, conn); err != nil {
			conn.Close()
			return nil, err
		}
		return clickhouse.NewStore(conn), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", a.Config.Store.Driver)
	}
}

// Close releases the store connection
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
