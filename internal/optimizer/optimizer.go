// Package optimizer wires the self-optimization subsystems into one
// explicit context object: storage, evidence, principles, monitoring,
// the cycle engine, and insight synthesis behind a single lifecycle and
// a synchronous query surface. Queries report failures in the result's
// status and message fields; they do not raise.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/caelum-ai/kaizen/internal/engine"
	"github.com/caelum-ai/kaizen/internal/evidence"
	"github.com/caelum-ai/kaizen/internal/insights"
	"github.com/caelum-ai/kaizen/internal/inventory"
	"github.com/caelum-ai/kaizen/internal/monitor"
	"github.com/caelum-ai/kaizen/internal/observer"
	"github.com/caelum-ai/kaizen/internal/principles"
	"github.com/caelum-ai/kaizen/internal/storage"
	"github.com/caelum-ai/kaizen/internal/types"
)

// statusRunWindow is how many recent runs feed the status success rate
const statusRunWindow = 5

// Config aggregates the subsystem configurations. Nil sections use that
// subsystem's defaults.
type Config struct {
	Monitor    *monitor.Config
	Principles *principles.Config
	Engine     *engine.Config
	Observer   *observer.Config
	Insights   *insights.Config

	// SeedPrinciples installs the built-in starting principles on Start.
	// Seeding an already-initialized registry changes nothing.
	SeedPrinciples bool

	// TriggerOnAlert wires severe monitor alerts to immediate cycles
	TriggerOnAlert bool
}

// DefaultConfig returns the standard optimizer configuration
func DefaultConfig() *Config {
	return &Config{
		Monitor:        monitor.DefaultConfig(),
		Principles:     principles.DefaultConfig(),
		Engine:         engine.DefaultConfig(),
		Observer:       observer.DefaultConfig(),
		Insights:       insights.DefaultConfig(),
		SeedPrinciples: true,
		TriggerOnAlert: true,
	}
}

// Deps are the externally-owned collaborators. Storage is required and
// stays open across Stop; the caller closes it.
type Deps struct {
	Storage  storage.Storage
	Provider inventory.Provider
	Applier  inventory.Applier
	Logger   *zap.Logger
}

// Optimizer owns the self-optimization subsystems and their lifecycle
type Optimizer struct {
	cfg      *Config
	store    storage.Storage
	evidence *evidence.Store
	registry *principles.Registry
	monitor  *monitor.Monitor
	observer *observer.Observer
	engine   *engine.Engine
	synth    *insights.Synthesizer
	logger   *zap.Logger

	mu      sync.Mutex
	started bool
	stopped bool
}

// New builds the subsystem graph. The applier defaults to the log-only
// recommend mode so a bare setup never mutates anything external.
func New(cfg *Config, deps Deps) (*Optimizer, error) {
	if deps.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	applier := deps.Applier
	if applier == nil {
		applier = inventory.NewLogApplier(logger)
	}

	ev := evidence.NewStore(deps.Storage)
	registry := principles.NewRegistry(deps.Storage, ev, cfg.Principles)
	mon := monitor.New(ev, cfg.Monitor, logger.Named("monitor"))
	obs := observer.New(ev, cfg.Observer, logger.Named("observer"))

	// Monitor construction normalizes its config, so the analyzer sees
	// the same observation window the monitor samples over
	analyzer := observer.NewAnalyzer(ev, deps.Provider, mon.Window(), logger.Named("observer"))

	eng, err := engine.New(cfg.Engine, engine.Deps{
		Storage:  deps.Storage,
		Evidence: ev,
		Registry: registry,
		Monitor:  mon,
		Analyzer: analyzer,
		Applier:  applier,
		Logger:   logger.Named("engine"),
	})
	if err != nil {
		return nil, err
	}

	return &Optimizer{
		cfg:      cfg,
		store:    deps.Storage,
		evidence: ev,
		registry: registry,
		monitor:  mon,
		observer: obs,
		engine:   eng,
		synth:    insights.New(deps.Storage, registry, cfg.Insights, logger.Named("insights")),
		logger:   logger,
	}, nil
}

// Start seeds the registry, wires alert kicks, and starts the monitor
// and the cycle scheduler. A stopped optimizer cannot be restarted.
func (o *Optimizer) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return fmt.Errorf("optimizer is already started")
	}
	if o.stopped {
		o.mu.Unlock()
		return fmt.Errorf("optimizer is stopped")
	}
	o.started = true
	o.mu.Unlock()

	if err := o.startAll(ctx); err != nil {
		o.mu.Lock()
		o.started = false
		o.mu.Unlock()
		return err
	}

	o.logger.Info("self-optimization started")
	return nil
}

func (o *Optimizer) startAll(ctx context.Context) error {
	if o.cfg.SeedPrinciples {
		installed, err := o.registry.Seed(ctx)
		if err != nil {
			return fmt.Errorf("failed to seed principles: %w", err)
		}
		if installed > 0 {
			o.logger.Info("seeded built-in principles", zap.Int("installed", installed))
		}
	}

	// Callbacks must be registered before the monitor starts sampling
	if o.cfg.TriggerOnAlert {
		o.monitor.OnAlert(o.engine.KickOnAlert)
	}
	if err := o.monitor.Start(); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}
	if err := o.engine.Start(); err != nil {
		o.monitor.Stop()
		return fmt.Errorf("failed to start engine: %w", err)
	}
	return nil
}

// Stop halts the scheduler and the monitor. Runs triggered without
// Start are shut down too. Persisted state survives; the storage handle
// stays open for the caller.
func (o *Optimizer) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	wasStarted := o.started
	o.mu.Unlock()

	o.engine.Stop()
	o.monitor.Stop()
	if wasStarted {
		o.logger.Info("self-optimization stopped")
	}
}

// Active reports whether the optimizer is between Start and Stop
func (o *Optimizer) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.started && !o.stopped
}

// ApplyThresholds hot-swaps the monitor's escalation ladders. Used by
// configuration reload; takes effect on the next check.
func (o *Optimizer) ApplyThresholds(t monitor.Thresholds) {
	o.monitor.ApplyThresholds(t)
}

// ActiveAlerts returns the monitor's uncleared alerts
func (o *Optimizer) ActiveAlerts() []*types.Alert {
	return o.monitor.ActiveAlerts()
}

// Evidence exposes the ingestion door external collaborators push
// observations through
func (o *Optimizer) Evidence() *evidence.Store {
	return o.evidence
}

// Observer exposes the task-level instrumentation API
func (o *Optimizer) Observer() *observer.Observer {
	return o.observer
}

// PerformanceStatus summarizes observed task performance and monitoring
type PerformanceStatus struct {
	SuccessRate      float64            `json:"success_rate"`
	MonitoringStatus types.MonitorState `json:"monitoring_status"`
	ActiveAlerts     int                `json:"active_alerts"`
}

// CycleStatus summarizes cycle history and the in-flight run
type CycleStatus struct {
	TotalCompleted    int              `json:"total_completed"`
	RecentSuccessRate float64          `json:"recent_success_rate"`
	Cycling           bool             `json:"cycling"`
	Phase             types.CyclePhase `json:"phase"`
	LastRunID         string           `json:"last_run_id,omitempty"`
	LastRunAt         *time.Time       `json:"last_run_at,omitempty"`
}

// PrincipleStatus summarizes the rule base
type PrincipleStatus struct {
	TotalLearned        int     `json:"total_learned"`
	AvgEvidenceStrength float64 `json:"avg_evidence_strength"`
}

// StatusResult is the full answer to a status query
type StatusResult struct {
	Status             string            `json:"status"`
	Message            string            `json:"message,omitempty"`
	SystemActive       bool              `json:"system_active"`
	CurrentPerformance PerformanceStatus `json:"current_performance"`
	OptimizationCycles CycleStatus       `json:"optimization_cycles"`
	Principles         PrincipleStatus   `json:"principles"`
}

// GetOptimizationStatus reports the live condition of the whole system
func (o *Optimizer) GetOptimizationStatus(ctx context.Context) *StatusResult {
	result := &StatusResult{Status: "ok", SystemActive: o.Active()}

	analysis := o.observer.Analyze()
	var attempts, successes int
	for _, stats := range analysis.TaskTypes {
		attempts += stats.Attempts
		successes += stats.Successes
	}
	if attempts > 0 {
		result.CurrentPerformance.SuccessRate = float64(successes) / float64(attempts)
	}
	result.CurrentPerformance.MonitoringStatus = o.monitor.State()
	result.CurrentPerformance.ActiveAlerts = len(o.monitor.ActiveAlerts())

	es := o.engine.Status()
	result.OptimizationCycles.Cycling = es.Cycling
	result.OptimizationCycles.Phase = es.Phase

	runs, err := o.store.ListCycleRuns(ctx, 0)
	if err != nil {
		result.Status = "error"
		result.Message = fmt.Sprintf("cycle history unavailable: %v", err)
	} else if len(runs) > 0 {
		for _, run := range runs {
			if run.Status == types.RunCompleted {
				result.OptimizationCycles.TotalCompleted++
			}
		}
		recent := runs
		if len(recent) > statusRunWindow {
			recent = recent[:statusRunWindow]
		}
		completed := 0
		for _, run := range recent {
			if run.Status == types.RunCompleted {
				completed++
			}
		}
		result.OptimizationCycles.RecentSuccessRate = float64(completed) / float64(len(recent))
		result.OptimizationCycles.LastRunID = runs[0].RunID
		startedAt := runs[0].StartedAt
		result.OptimizationCycles.LastRunAt = &startedAt
	}

	active, err := o.registry.Active(ctx)
	if err != nil {
		result.Status = "error"
		result.Message = fmt.Sprintf("principles unavailable: %v", err)
		return result
	}
	result.Principles.TotalLearned = len(active)
	result.Principles.AvgEvidenceStrength = avgStrength(active)
	return result
}

// PrinciplesResult is the full answer to a principles query
type PrinciplesResult struct {
	Status              string             `json:"status"`
	Message             string             `json:"message,omitempty"`
	Principles          []*types.Principle `json:"principles"`
	TotalCount          int                `json:"total_count"`
	AvgEvidenceStrength float64            `json:"avg_evidence_strength"`
}

// GetCurrentPrinciples returns the principles currently in force,
// strongest first, with their average evidence strength.
func (o *Optimizer) GetCurrentPrinciples(ctx context.Context) *PrinciplesResult {
	active, err := o.registry.Active(ctx)
	if err != nil {
		return &PrinciplesResult{
			Status:  "error",
			Message: fmt.Sprintf("principles unavailable: %v", err),
		}
	}
	return &PrinciplesResult{
		Status:              "ok",
		Principles:          active,
		TotalCount:          len(active),
		AvgEvidenceStrength: avgStrength(active),
	}
}

// InsightsResult is the full answer to an insights query
type InsightsResult struct {
	Status   string           `json:"status"`
	Message  string           `json:"message,omitempty"`
	Insights *insights.Report `json:"insights,omitempty"`
}

// GetSystemInsights synthesizes learnings from accumulated history
func (o *Optimizer) GetSystemInsights(ctx context.Context) *InsightsResult {
	report, err := o.synth.Synthesize(ctx)
	if err != nil {
		return &InsightsResult{
			Status:  "error",
			Message: fmt.Sprintf("insight synthesis failed: %v", err),
		}
	}
	return &InsightsResult{Status: "ok", Insights: report}
}

// TriggerResult is the answer to an on-demand cycle request
type TriggerResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	RunID   string `json:"run_id,omitempty"`
}

// TriggerOptimizationCycle starts a cycle now. While a run is active the
// request reports busy and nothing is queued.
func (o *Optimizer) TriggerOptimizationCycle(ctx context.Context) *TriggerResult {
	runID, err := o.engine.TriggerCycle(ctx)
	switch {
	case errors.Is(err, types.ErrBusy):
		return &TriggerResult{
			Status:  "busy",
			Message: "an optimization cycle is already running",
		}
	case err != nil:
		return &TriggerResult{Status: "error", Message: err.Error()}
	default:
		return &TriggerResult{
			Status:  "started",
			Message: "optimization cycle started",
			RunID:   runID,
		}
	}
}

// GetRun loads one cycle run record
func (o *Optimizer) GetRun(ctx context.Context, runID string) (*types.CycleRun, error) {
	return o.store.GetCycleRun(ctx, runID)
}

// WaitForRun blocks until the run finishes or the context expires,
// polling the stored record. Used by callers that asked to wait.
func (o *Optimizer) WaitForRun(ctx context.Context, runID string, poll time.Duration) (*types.CycleRun, error) {
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		run, err := o.store.GetCycleRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.FinishedAt != nil {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
	}
}

func avgStrength(principles []*types.Principle) float64 {
	if len(principles) == 0 {
		return 0
	}
	var sum float64
	for _, p := range principles {
		sum += p.EvidenceStrength
	}
	return sum / float64(len(principles))
}
