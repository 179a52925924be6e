package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caelum-ai/kaizen/internal/console"
	"github.com/caelum-ai/kaizen/internal/control"
	"github.com/caelum-ai/kaizen/internal/inventory"
	"github.com/caelum-ai/kaizen/internal/optimizer"
	"github.com/caelum-ai/kaizen/internal/storage"
	"github.com/caelum-ai/kaizen/internal/types"
)

// backend is the console surface plus run lookup for --wait
type backend interface {
	console.Backend
	Run(runID string) (*types.CycleRun, error)
}

// buildApplier assembles the configured apply chain: scripted commands
// when the config maps any, recommend-only logging otherwise, rate
// limited either way when a rate is set.
func buildApplier() inventory.Applier {
	var applier inventory.Applier
	if len(cfg.Cycle.ApplyCommands) > 0 {
		applier = inventory.NewScriptedApplier(cfg.Cycle.ApplyCommands, logger)
	} else {
		applier = inventory.NewLogApplier(logger)
	}
	if cfg.Cycle.ApplyRatePerMinute > 0 {
		applier = inventory.NewRateLimitedApplier(applier,
			float64(cfg.Cycle.ApplyRatePerMinute), cfg.Cycle.ApplyConcurrency)
	}
	return applier
}

// isSQLiteFile reports whether the storage config names an on-disk
// sqlite database
func isSQLiteFile(scfg *storage.Config) bool {
	return (scfg.Backend == "" || scfg.Backend == "sqlite") &&
		!strings.Contains(scfg.Path, ":memory:")
}

// resolveStorageConfig adapts the configured backend to what is on
// disk: when the configured sqlite file does not exist yet but the
// working directory holds a .kaizen database under another name, that
// database is adopted so its history is not orphaned.
func resolveStorageConfig() *storage.Config {
	scfg := cfg.ToStorage()
	if isSQLiteFile(scfg) {
		if _, err := os.Stat(scfg.Path); errors.Is(err, os.ErrNotExist) {
			if found, derr := storage.DiscoverDatabase(); derr == nil {
				scfg.Path = found
			}
		}
	}
	return scfg
}

func openStorage(ctx context.Context) (storage.Storage, error) {
	return storage.NewStorage(ctx, resolveStorageConfig())
}

// resolveBackend connects to the daemon when one answers on the control
// socket and falls back to direct storage access otherwise. The cleanup
// must be called once the backend is no longer needed.
func resolveBackend(ctx context.Context) (backend, bool, func(), error) {
	client := control.NewClient(cfg.Control.Socket)
	if err := client.Ping(); err == nil {
		return client, true, func() {}, nil
	}

	store, err := openStorage(ctx)
	if err != nil {
		return nil, false, nil, fmt.Errorf("no daemon on %s and storage open failed: %w", cfg.Control.Socket, err)
	}

	opt, err := optimizer.New(cfg.ToOptimizer(), optimizer.Deps{
		Storage:  store,
		Provider: inventory.NewFileProvider(cfg.Inventory.Path),
		Applier:  buildApplier(),
		Logger:   logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, false, nil, err
	}

	cleanup := func() {
		opt.Stop()
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to close storage: %v\n", err)
		}
	}
	return &localBackend{ctx: ctx, opt: opt}, false, cleanup, nil
}

// localBackend answers commands from an in-process optimizer. Matching
// the control client, error-status results come back as errors.
type localBackend struct {
	ctx context.Context
	opt *optimizer.Optimizer
}

func (b *localBackend) Status() (*optimizer.StatusResult, error) {
	result := b.opt.GetOptimizationStatus(b.ctx)
	if result.Status == "error" {
		return nil, fmt.Errorf("%s", result.Message)
	}
	return result, nil
}

func (b *localBackend) Principles() (*optimizer.PrinciplesResult, error) {
	result := b.opt.GetCurrentPrinciples(b.ctx)
	if result.Status == "error" {
		return nil, fmt.Errorf("%s", result.Message)
	}
	return result, nil
}

func (b *localBackend) Insights() (*optimizer.InsightsResult, error) {
	result := b.opt.GetSystemInsights(b.ctx)
	if result.Status == "error" {
		return nil, fmt.Errorf("%s", result.Message)
	}
	return result, nil
}

func (b *localBackend) Trigger() (*optimizer.TriggerResult, error) {
	result := b.opt.TriggerOptimizationCycle(b.ctx)
	if result.Status == "error" {
		return nil, fmt.Errorf("%s", result.Message)
	}
	return result, nil
}

func (b *localBackend) Alerts() (*control.AlertsData, error) {
	alerts := b.opt.ActiveAlerts()
	return &control.AlertsData{Alerts: alerts, Count: len(alerts)}, nil
}

func (b *localBackend) Run(runID string) (*types.CycleRun, error) {
	return b.opt.GetRun(b.ctx, runID)
}

func (b *localBackend) AddEvidence(event *types.EvidenceEvent) error {
	return b.opt.Evidence().Record(b.ctx, event)
}
