// Package engine runs the optimization cycle: a five-phase state
// machine (observing, monitoring, suggesting, implementing, evaluating)
// executed on a schedule or on demand. One run is active at a time;
// triggers during a run are rejected, never queued.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caelum-ai/kaizen/internal/evidence"
	"github.com/caelum-ai/kaizen/internal/inventory"
	"github.com/caelum-ai/kaizen/internal/monitor"
	"github.com/caelum-ai/kaizen/internal/observer"
	"github.com/caelum-ai/kaizen/internal/principles"
	"github.com/caelum-ai/kaizen/internal/storage"
	"github.com/caelum-ai/kaizen/internal/types"
)

// Config holds engine configuration
type Config struct {
	// CycleInterval is the scheduled cadence between automatic runs
	// Default: 1 hour
	CycleInterval time.Duration

	// SettleDelay is how long the evaluating phase waits after changes
	// before re-sampling affected subjects
	// Default: 30 seconds
	SettleDelay time.Duration

	// NoiseThreshold is the relative metric movement treated as noise
	// when judging improvement
	// Default: 0.05 (5%)
	NoiseThreshold float64

	// MaxSuggestionsPerCycle caps how many suggestions the implementing
	// phase applies in one run
	// Default: 3
	MaxSuggestionsPerCycle int

	// MaxSuggestions caps how many ranked suggestions the suggesting
	// phase keeps
	// Default: 10
	MaxSuggestions int

	// PerSuggestionTimeout bounds each configuration-apply call
	// Default: 30 seconds
	PerSuggestionTimeout time.Duration

	// MaxConcurrentApplies bounds parallel apply calls
	// Default: 2
	MaxConcurrentApplies int

	// PatternMinImplemented is the minimum implemented suggestions in a
	// run before its outcome counts as a pattern observation
	// Default: 3
	PatternMinImplemented int

	// PatternSuccessThreshold is the run success rate required to record
	// a pattern observation
	// Default: 0.8
	PatternSuccessThreshold float64

	// AlertTriggerSeverity is the minimum alert severity that kicks off
	// an immediate run between scheduled ones
	// Default: high
	AlertTriggerSeverity types.AlertSeverity
}

// DefaultConfig returns default engine configuration
func DefaultConfig() *Config {
	return &Config{
		CycleInterval:           time.Hour,
		SettleDelay:             30 * time.Second,
		NoiseThreshold:          0.05,
		MaxSuggestionsPerCycle:  3,
		MaxSuggestions:          10,
		PerSuggestionTimeout:    30 * time.Second,
		MaxConcurrentApplies:    2,
		PatternMinImplemented:   3,
		PatternSuccessThreshold: 0.8,
		AlertTriggerSeverity:    types.SeverityHigh,
	}
}

// Deps are the collaborators the engine orchestrates
type Deps struct {
	Storage  storage.Storage
	Evidence *evidence.Store
	Registry *principles.Registry
	Monitor  *monitor.Monitor
	Analyzer *observer.Analyzer
	Applier  inventory.Applier
	Logger   *zap.Logger
}

// Engine drives the optimization cycle state machine
type Engine struct {
	cfg      *Config
	store    storage.Storage
	evidence *evidence.Store
	registry *principles.Registry
	monitor  *monitor.Monitor
	analyzer *observer.Analyzer
	applier  inventory.Applier
	logger   *zap.Logger

	mu            sync.Mutex
	cycling       bool
	phase         types.CyclePhase
	currentRunID  string
	runCancel     context.CancelFunc
	lastRun       *types.CycleRun
	metricsBefore map[string]map[string]float64

	running bool // scheduler loop
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	kickCh  chan string
	runWG   sync.WaitGroup
}

// New creates an engine. All deps except Logger are required.
func New(cfg *Config, deps Deps) (*Engine, error) {
	if deps.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if deps.Evidence == nil {
		return nil, fmt.Errorf("evidence store is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("principle registry is required")
	}
	if deps.Monitor == nil {
		return nil, fmt.Errorf("monitor is required")
	}
	if deps.Analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}
	if deps.Applier == nil {
		return nil, fmt.Errorf("applier is required")
	}

	if cfg == nil {
		cfg = DefaultConfig()
	}
	defaults := DefaultConfig()
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = defaults.CycleInterval
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaults.SettleDelay
	}
	if cfg.NoiseThreshold <= 0 {
		cfg.NoiseThreshold = defaults.NoiseThreshold
	}
	if cfg.MaxSuggestionsPerCycle <= 0 {
		cfg.MaxSuggestionsPerCycle = defaults.MaxSuggestionsPerCycle
	}
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = defaults.MaxSuggestions
	}
	if cfg.PerSuggestionTimeout <= 0 {
		cfg.PerSuggestionTimeout = defaults.PerSuggestionTimeout
	}
	if cfg.MaxConcurrentApplies <= 0 {
		cfg.MaxConcurrentApplies = defaults.MaxConcurrentApplies
	}
	if cfg.PatternMinImplemented <= 0 {
		cfg.PatternMinImplemented = defaults.PatternMinImplemented
	}
	if cfg.PatternSuccessThreshold <= 0 {
		cfg.PatternSuccessThreshold = defaults.PatternSuccessThreshold
	}
	if !cfg.AlertTriggerSeverity.IsValid() {
		cfg.AlertTriggerSeverity = defaults.AlertTriggerSeverity
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		cfg:      cfg,
		store:    deps.Storage,
		evidence: deps.Evidence,
		registry: deps.Registry,
		monitor:  deps.Monitor,
		analyzer: deps.Analyzer,
		applier:  deps.Applier,
		logger:   logger,
		phase:    types.PhaseIdle,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		kickCh:   make(chan string, 1),
	}, nil
}

// Start begins the cycle scheduler
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("engine is already running")
	}
	if e.stopped {
		return fmt.Errorf("engine is stopped")
	}
	e.running = true

	go e.scheduleLoop()
	e.logger.Info("cycle scheduler started", zap.Duration("interval", e.cfg.CycleInterval))
	return nil
}

// Stop halts the scheduler, cancels any in-flight run, and waits for it
// to finish. The engine cannot be restarted after Stop.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	wasRunning := e.running
	cancel := e.runCancel
	e.mu.Unlock()

	if wasRunning {
		close(e.stopCh)
		<-e.doneCh
	}
	if cancel != nil {
		cancel()
	}
	e.runWG.Wait()

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	e.logger.Info("cycle scheduler stopped")
}

func (e *Engine) scheduleLoop() {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.triggerScheduled("interval")
		case reason := <-e.kickCh:
			e.triggerScheduled(reason)
		}
	}
}

func (e *Engine) triggerScheduled(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	runID, err := e.TriggerCycle(ctx)
	switch {
	case errors.Is(err, types.ErrBusy):
		// Scheduled triggers are dropped, not queued
		e.logger.Debug("scheduled cycle skipped, run already active", zap.String("reason", reason))
	case err != nil:
		e.logger.Warn("scheduled cycle failed to start", zap.String("reason", reason), zap.Error(err))
	default:
		e.logger.Info("cycle triggered", zap.String("run_id", runID), zap.String("reason", reason))
	}
}

// KickOnAlert requests an immediate run when a severe alert fires. Meant
// to be registered as a monitor alert callback; low-severity alerts and
// kicks during an active run are dropped.
func (e *Engine) KickOnAlert(alert *types.Alert) {
	if alert == nil || alert.Severity.Rank() < e.cfg.AlertTriggerSeverity.Rank() {
		return
	}
	select {
	case e.kickCh <- "alert:" + alert.Subject:
	default:
	}
}

// TriggerCycle starts a run if none is active. It returns the new run's
// ID immediately; phases execute in the background. A trigger while a
// run is active fails fast with ErrBusy.
func (e *Engine) TriggerCycle(ctx context.Context) (string, error) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return "", fmt.Errorf("engine is stopped")
	}
	if e.cycling {
		e.mu.Unlock()
		return "", types.ErrBusy
	}

	run := &types.CycleRun{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Status:    types.RunRunning,
	}
	e.cycling = true
	e.currentRunID = run.RunID
	e.mu.Unlock()

	// The run record exists before any phase executes so a crash leaves
	// a visible, inspectable run
	if err := e.store.SaveCycleRun(ctx, run); err != nil {
		e.mu.Lock()
		e.cycling = false
		e.currentRunID = ""
		e.mu.Unlock()
		return "", &types.StorageError{Op: "save_cycle_run", Err: err}
	}

	// Re-check under the lock: Stop may have won the race since the
	// save, and its wait must cover every spawned run
	e.mu.Lock()
	if e.stopped {
		e.cycling = false
		e.currentRunID = ""
		e.mu.Unlock()
		now := time.Now().UTC()
		run.FinishedAt = &now
		run.Status = types.RunFailed
		run.FailureReason = "engine stopped"
		e.saveRun(run)
		return "", fmt.Errorf("engine is stopped")
	}
	e.runWG.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.runWG.Done()
		e.executeRun(run)
	}()
	return run.RunID, nil
}

// Cancel requests cooperative cancellation of the active run. The run
// stops at the next phase boundary, keeping results already committed,
// and is marked failed with reason "cancelled". No-op when idle.
func (e *Engine) Cancel() {
	e.mu.Lock()
	cancel := e.runCancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// executeRun walks the phase state machine for one run
func (e *Engine) executeRun(run *types.CycleRun) {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.mu.Lock()
	e.runCancel = cancel
	e.mu.Unlock()

	e.logger.Info("optimization cycle started", zap.String("run_id", run.RunID))

	var failure error
	for phase := types.PhaseIdle.Next(); phase != types.PhaseIdle; phase = phase.Next() {
		if runCtx.Err() != nil {
			failure = types.ErrCancelled
			break
		}

		e.setPhase(phase)
		if err := e.runPhase(runCtx, phase, run); err != nil {
			failure = err
			break
		}
		// Commit phase results as they land so a later crash or cancel
		// cannot lose completed work
		e.saveRun(run)
	}

	now := time.Now().UTC()
	run.FinishedAt = &now
	if failure != nil {
		run.Status = types.RunFailed
		if errors.Is(failure, types.ErrCancelled) {
			run.FailureReason = "cancelled"
		} else {
			run.FailureReason = failure.Error()
		}
		e.logger.Warn("optimization cycle failed",
			zap.String("run_id", run.RunID),
			zap.String("reason", run.FailureReason))
	} else {
		run.Status = types.RunCompleted
		e.logger.Info("optimization cycle completed",
			zap.String("run_id", run.RunID),
			zap.Duration("elapsed", now.Sub(run.StartedAt)),
			zap.Strings("principles_learned", run.PrinciplesLearned))
	}
	e.saveRun(run)

	e.mu.Lock()
	e.cycling = false
	e.phase = types.PhaseIdle
	e.currentRunID = ""
	e.runCancel = nil
	e.lastRun = run
	e.mu.Unlock()
}

func (e *Engine) runPhase(ctx context.Context, phase types.CyclePhase, run *types.CycleRun) error {
	switch phase {
	case types.PhaseObserving:
		result, err := e.observe(ctx)
		run.PhaseResults.Observation = result
		return err
	case types.PhaseMonitoring:
		run.PhaseResults.Monitoring = e.monitorPhase(ctx)
		return nil
	case types.PhaseSuggesting:
		run.PhaseResults.Suggestion = e.suggest(ctx, run)
		return nil
	case types.PhaseImplementing:
		run.PhaseResults.Implementation = e.implement(ctx, run)
		return nil
	case types.PhaseEvaluating:
		result, err := e.evaluate(ctx, run)
		run.PhaseResults.Evaluation = result
		return err
	default:
		return fmt.Errorf("unexpected phase %s", phase)
	}
}

// observe surveys subjects and their recent evidence. A storage failure
// here is fatal to the run: every later phase depends on this picture.
func (e *Engine) observe(ctx context.Context) (*types.ObservationResult, error) {
	result, err := e.analyzer.Observe(ctx)
	if err != nil {
		if ctx.Err() != nil {
			err = types.ErrCancelled
		}
		return &types.ObservationResult{
			Error:       err.Error(),
			CompletedAt: time.Now().UTC(),
		}, err
	}
	return result, nil
}

// monitorPhase refreshes the monitor and snapshots its alerts and
// health. Monitor degradation is recorded in the result, not fatal.
func (e *Engine) monitorPhase(ctx context.Context) *types.MonitoringResult {
	if err := e.monitor.RunCheck(ctx); err != nil {
		e.logger.Warn("monitor check failed during cycle", zap.Error(err))
	}
	result := e.monitor.Snapshot()

	// The pre-change readings evaluation compares against
	metrics := e.monitor.Metrics()
	e.mu.Lock()
	e.metricsBefore = metrics
	e.mu.Unlock()
	return result
}

func (e *Engine) saveRun(run *types.CycleRun) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.store.SaveCycleRun(ctx, run); err != nil {
		e.logger.Error("failed to save cycle run",
			zap.String("run_id", run.RunID),
			zap.Error(err))
	}
}

func (e *Engine) setPhase(phase types.CyclePhase) {
	e.mu.Lock()
	e.phase = phase
	e.mu.Unlock()
	e.logger.Debug("cycle phase", zap.String("phase", string(phase)))
}

// Status is a point-in-time view of the engine
type Status struct {
	Cycling       bool             `json:"cycling"`
	Phase         types.CyclePhase `json:"phase"`
	CurrentRunID  string           `json:"current_run_id,omitempty"`
	SchedulerOn   bool             `json:"scheduler_on"`
	CycleInterval time.Duration    `json:"cycle_interval"`
	LastRun       *types.CycleRun  `json:"last_run,omitempty"`
}

// Status reports the engine's current state
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Status{
		Cycling:       e.cycling,
		Phase:         e.phase,
		CurrentRunID:  e.currentRunID,
		SchedulerOn:   e.running && !e.stopped,
		CycleInterval: e.cfg.CycleInterval,
	}
	if e.lastRun != nil {
		copied := *e.lastRun
		s.LastRun = &copied
	}
	return s
}

// Cycling reports whether a run is active
func (e *Engine) Cycling() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cycling
}

// sleepCtx waits for d unless the context is cancelled first
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
