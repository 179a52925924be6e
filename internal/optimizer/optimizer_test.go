package optimizer

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/caelum-ai/kaizen/internal/engine"
	"github.com/caelum-ai/kaizen/internal/evidence"
	"github.com/caelum-ai/kaizen/internal/storage/sqlite"
	"github.com/caelum-ai/kaizen/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestOptimizer(t *testing.T, cfg *Config, applier *gatedApplier) *Optimizer {
	t.Helper()

	backend, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to open storage: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	if cfg == nil {
		cfg = DefaultConfig()
		cfg.Engine = nil
	}
	if cfg.Engine == nil {
		// Keep full-cycle tests from sitting out the settle delay
		cfg.Engine = &engine.Config{SettleDelay: time.Millisecond}
	}

	deps := Deps{Storage: backend}
	if applier != nil {
		deps.Applier = applier
	}
	o, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("Failed to build optimizer: %v", err)
	}
	t.Cleanup(o.Stop)
	return o
}

// gatedApplier blocks each apply until released, so tests can observe a
// run mid-implementation
type gatedApplier struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func newGatedApplier() *gatedApplier {
	return &gatedApplier{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (a *gatedApplier) Apply(ctx context.Context, s *types.Suggestion) error {
	a.once.Do(func() { close(a.started) })
	select {
	case <-a.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func seedFailingTool(t *testing.T, ev *evidence.Store, tool string, invocations, failures int) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	for i := 0; i < invocations; i++ {
		e := evidence.NewToolInvocationEvent(tool, 0.5)
		e.Timestamp = now.Add(-time.Duration(i) * 10 * time.Millisecond)
		if err := ev.Record(ctx, e); err != nil {
			t.Fatalf("Failed to record invocation: %v", err)
		}
	}
	for i := 0; i < failures; i++ {
		e := evidence.NewErrorEvent(tool)
		e.Timestamp = now.Add(-time.Duration(i) * 10 * time.Millisecond)
		if err := ev.Record(ctx, e); err != nil {
			t.Fatalf("Failed to record error: %v", err)
		}
	}
}

func TestNewRequiresStorage(t *testing.T) {
	_, err := New(nil, Deps{})
	if err == nil || !strings.Contains(err.Error(), "storage is required") {
		t.Fatalf("Expected storage requirement error, got %v", err)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	ctx := context.Background()
	o := newTestOptimizer(t, nil, nil)

	if o.Active() {
		t.Error("Optimizer should not be active before Start")
	}
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !o.Active() {
		t.Error("Optimizer should be active after Start")
	}
	if err := o.Start(ctx); err == nil {
		t.Error("Second Start should fail")
	}

	o.Stop()
	if o.Active() {
		t.Error("Optimizer should not be active after Stop")
	}
	o.Stop() // no-op

	if err := o.Start(ctx); err == nil {
		t.Error("Start after Stop should fail")
	}

	// Storage stays open for the caller after Stop
	if _, err := o.Evidence().Aggregate(ctx, "any", types.MetricToolInvocation, time.Now().Add(-time.Hour), time.Now()); err != nil {
		t.Errorf("Storage should remain usable after Stop: %v", err)
	}
}

func TestStatusReflectsSeededSystem(t *testing.T) {
	ctx := context.Background()
	o := newTestOptimizer(t, nil, nil)

	status := o.GetOptimizationStatus(ctx)
	if status.SystemActive {
		t.Error("Fresh optimizer should report inactive")
	}
	if status.CurrentPerformance.MonitoringStatus != types.MonitorStopped {
		t.Errorf("Expected stopped monitor, got %s", status.CurrentPerformance.MonitoringStatus)
	}
	if status.Principles.TotalLearned != 0 {
		t.Errorf("Expected no principles before Start, got %d", status.Principles.TotalLearned)
	}

	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status = o.GetOptimizationStatus(ctx)
	if status.Status != "ok" {
		t.Fatalf("Expected ok status, got %s (%s)", status.Status, status.Message)
	}
	if !status.SystemActive {
		t.Error("Started optimizer should report active")
	}
	if status.CurrentPerformance.MonitoringStatus != types.MonitorActive {
		t.Errorf("Expected active monitor, got %s", status.CurrentPerformance.MonitoringStatus)
	}
	if status.OptimizationCycles.TotalCompleted != 0 {
		t.Errorf("Expected no completed cycles, got %d", status.OptimizationCycles.TotalCompleted)
	}
	if status.OptimizationCycles.Phase != types.PhaseIdle {
		t.Errorf("Expected idle phase, got %s", status.OptimizationCycles.Phase)
	}
	if status.Principles.TotalLearned != 5 {
		t.Errorf("Expected 5 seeded principles, got %d", status.Principles.TotalLearned)
	}
	if math.Abs(status.Principles.AvgEvidenceStrength-0.90) > 1e-9 {
		t.Errorf("Expected seed avg strength 0.90, got %f", status.Principles.AvgEvidenceStrength)
	}
}

func TestStatusCountsObservedTasks(t *testing.T) {
	ctx := context.Background()
	o := newTestOptimizer(t, nil, nil)

	obs := o.Observer()
	obs.StartTask("t1", "analysis")
	if err := obs.EndTask(ctx, "t1", true); err != nil {
		t.Fatalf("EndTask failed: %v", err)
	}
	obs.StartTask("t2", "analysis")
	if err := obs.EndTask(ctx, "t2", false); err != nil {
		t.Fatalf("EndTask failed: %v", err)
	}

	status := o.GetOptimizationStatus(ctx)
	if got := status.CurrentPerformance.SuccessRate; math.Abs(got-0.5) > 1e-9 {
		t.Errorf("Expected success rate 0.5 from one of two tasks, got %f", got)
	}
}

func TestTriggerReportsBusyWhileRunActive(t *testing.T) {
	ctx := context.Background()
	applier := newGatedApplier()
	o := newTestOptimizer(t, nil, applier)

	seedFailingTool(t, o.Evidence(), "flaky-tool", 10, 10)

	first := o.TriggerOptimizationCycle(ctx)
	if first.Status != "started" {
		t.Fatalf("Expected started, got %s (%s)", first.Status, first.Message)
	}
	if first.RunID == "" {
		t.Fatal("Started trigger should carry a run ID")
	}

	select {
	case <-applier.started:
	case <-time.After(5 * time.Second):
		t.Fatal("Run never reached the applier")
	}

	second := o.TriggerOptimizationCycle(ctx)
	if second.Status != "busy" {
		t.Errorf("Expected busy, got %s (%s)", second.Status, second.Message)
	}
	if second.RunID != "" {
		t.Errorf("Busy trigger should not carry a run ID, got %s", second.RunID)
	}

	close(applier.release)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	run, err := o.WaitForRun(waitCtx, first.RunID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForRun failed: %v", err)
	}
	if run.Status != types.RunCompleted {
		t.Errorf("Expected completed run, got %s (%s)", run.Status, run.FailureReason)
	}

	status := o.GetOptimizationStatus(ctx)
	if status.OptimizationCycles.TotalCompleted != 1 {
		t.Errorf("Expected 1 completed cycle, got %d", status.OptimizationCycles.TotalCompleted)
	}
	if status.OptimizationCycles.LastRunID != first.RunID {
		t.Errorf("Expected last run %s, got %s", first.RunID, status.OptimizationCycles.LastRunID)
	}
	if status.OptimizationCycles.RecentSuccessRate != 1.0 {
		t.Errorf("Expected recent success rate 1.0, got %f", status.OptimizationCycles.RecentSuccessRate)
	}
}

func TestPrinciplesQueryIsRepeatable(t *testing.T) {
	ctx := context.Background()
	o := newTestOptimizer(t, nil, nil)
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	first := o.GetCurrentPrinciples(ctx)
	if first.Status != "ok" {
		t.Fatalf("Expected ok, got %s (%s)", first.Status, first.Message)
	}
	if first.TotalCount != 5 {
		t.Fatalf("Expected 5 principles, got %d", first.TotalCount)
	}

	second := o.GetCurrentPrinciples(ctx)
	if second.AvgEvidenceStrength != first.AvgEvidenceStrength {
		t.Errorf("Average strength changed between reads: %f vs %f",
			first.AvgEvidenceStrength, second.AvgEvidenceStrength)
	}
	if len(second.Principles) != len(first.Principles) {
		t.Fatalf("Principle count changed between reads: %d vs %d",
			len(first.Principles), len(second.Principles))
	}
	for i := range first.Principles {
		if first.Principles[i].ID != second.Principles[i].ID {
			t.Errorf("Principle order changed at %d: %s vs %s",
				i, first.Principles[i].ID, second.Principles[i].ID)
		}
	}

	// Strongest-first ordering with seed priors intact
	if first.Principles[0].ID != "workflow_centric_approach" {
		t.Errorf("Expected workflow_centric_approach first, got %s", first.Principles[0].ID)
	}
	for i := 1; i < len(first.Principles); i++ {
		if first.Principles[i].EvidenceStrength > first.Principles[i-1].EvidenceStrength {
			t.Errorf("Principles not ordered strongest-first at %d", i)
		}
	}
}

func TestFreshSystemInsightsAreEmpty(t *testing.T) {
	ctx := context.Background()
	o := newTestOptimizer(t, nil, nil)

	result := o.GetSystemInsights(ctx)
	if result.Status != "ok" {
		t.Fatalf("Expected ok, got %s (%s)", result.Status, result.Message)
	}
	report := result.Insights
	if report == nil {
		t.Fatal("Expected a report even on a fresh system")
	}
	if len(report.KeyLearnings) != 0 || len(report.SuccessPatterns) != 0 || len(report.Effectiveness) != 0 {
		t.Errorf("Fresh system should yield an empty report, got %d learnings, %d patterns, %d scores",
			len(report.KeyLearnings), len(report.SuccessPatterns), len(report.Effectiveness))
	}
	if report.Trend != "stable" {
		t.Errorf("Expected stable trend on fresh system, got %s", report.Trend)
	}
}

func TestQueriesReportErrorsInsteadOfFailing(t *testing.T) {
	ctx := context.Background()

	backend, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to open storage: %v", err)
	}
	o, err := New(&Config{Engine: &engine.Config{SettleDelay: time.Millisecond}}, Deps{Storage: backend})
	if err != nil {
		t.Fatalf("Failed to build optimizer: %v", err)
	}
	t.Cleanup(o.Stop)

	if err := backend.Close(); err != nil {
		t.Fatalf("Failed to close storage: %v", err)
	}

	if status := o.GetOptimizationStatus(ctx); status.Status != "error" || status.Message == "" {
		t.Errorf("Status query should report the storage failure, got %s (%q)", status.Status, status.Message)
	}
	if result := o.GetCurrentPrinciples(ctx); result.Status != "error" || result.Message == "" {
		t.Errorf("Principles query should report the storage failure, got %s (%q)", result.Status, result.Message)
	}
	if result := o.GetSystemInsights(ctx); result.Status != "error" || result.Message == "" {
		t.Errorf("Insights query should report the storage failure, got %s (%q)", result.Status, result.Message)
	}
	if result := o.TriggerOptimizationCycle(ctx); result.Status != "error" || result.Message == "" {
		t.Errorf("Trigger should report the storage failure, got %s (%q)", result.Status, result.Message)
	}
}
