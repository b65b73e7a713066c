package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/logger"
	"github.com/warp/leave-engine/metrics"
	"github.com/warp/leave-engine/notify"
	"github.com/warp/leave-engine/store/memory"
	"github.com/warp/leave-engine/store/sqlite"
	"go.uber.org/zap"
)

// app holds the wired engine for one command invocation.
type app struct {
	cfg     *config.Config
	store   leave.Store
	ledger  *generic.Ledger
	service *leave.Service
	year    *leave.YearInitializer
	close   func() error
}

func newApp(cfg *config.Config) (*app, error) {
	log := logger.L()

	store, closeFn, err := openStore(cfg.Database)
	if err != nil {
		return nil, err
	}

	recorder := metrics.Recorder{}
	policies := leave.NewPolicyService(store)

	ledger := generic.NewLedger(store, policies.Allocation)
	ledger.MaxAttempts = cfg.Ledger.MaxCASAttempts
	ledger.Observer = recorder
	ledger.Log = log.Named("ledger")

	svc := leave.NewService(store, ledger, notify.NewLogNotifier(log.Named("notify")), leave.Options{
		ElevatedMayWaiveNotice: cfg.Workflow.ElevatedMayWaiveNotice,
		AllowOnBehalf:          cfg.Workflow.AllowOnBehalf,
	})
	svc.Observer = recorder
	svc.Log = log.Named("leave")

	year := leave.NewYearInitializer(store, ledger)
	year.Concurrency = cfg.Ledger.InitConcurrency
	year.Observer = recorder
	year.Log = log.Named("yearstart")

	return &app{
		cfg:     cfg,
		store:   store,
		ledger:  ledger,
		service: svc,
		year:    year,
		close:   closeFn,
	}, nil
}

func openStore(cfg config.DatabaseConfig) (leave.Store, func() error, error) {
	if cfg.InMemory() {
		logger.L().Info("using in-memory store")
		return memory.New(), func() error { return nil }, nil
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := sqlite.New(cfg.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	logger.L().Info("using sqlite store", zap.String("path", cfg.Path))
	return store, store.Close, nil
}

// ensurePolicies seeds the default policies into an empty store.
func (a *app) ensurePolicies(ctx context.Context) error {
	existing, err := a.store.ListPolicies(ctx)
	if err != nil {
		return fmt.Errorf("list policies: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	if err := a.service.Policies.Seed(ctx, leave.DefaultPolicies()...); err != nil {
		return fmt.Errorf("seed default policies: %w", err)
	}
	logger.L().Info("seeded default policies", zap.Int("count", len(leave.DefaultPolicies())))
	return nil
}
