package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/caelum-ai/kaizen/internal/evidence"
	"github.com/caelum-ai/kaizen/internal/inventory"
	"github.com/caelum-ai/kaizen/internal/monitor"
	"github.com/caelum-ai/kaizen/internal/observer"
	"github.com/caelum-ai/kaizen/internal/principles"
	"github.com/caelum-ai/kaizen/internal/storage"
	"github.com/caelum-ai/kaizen/internal/storage/sqlite"
	"github.com/caelum-ai/kaizen/internal/types"
)

type testDeps struct {
	engine   *Engine
	store    storage.Storage
	evidence *evidence.Store
	registry *principles.Registry
	monitor  *monitor.Monitor
}

func newTestEngine(t *testing.T, cfg *Config, applier inventory.Applier) *testDeps {
	t.Helper()
	backend, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })

	ev := evidence.NewStore(backend)
	registry := principles.NewRegistry(backend, ev, nil)
	mon := monitor.New(ev, nil, zap.NewNop())
	analyzer := observer.NewAnalyzer(ev, nil, time.Hour, zap.NewNop())
	if applier == nil {
		applier = &recordingApplier{}
	}
	if cfg == nil {
		cfg = &Config{SettleDelay: time.Millisecond}
	}

	e, err := New(cfg, Deps{
		Storage:  backend,
		Evidence: ev,
		Registry: registry,
		Monitor:  mon,
		Analyzer: analyzer,
		Applier:  applier,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	t.Cleanup(e.Stop)

	return &testDeps{
		engine:   e,
		store:    backend,
		evidence: ev,
		registry: registry,
		monitor:  mon,
	}
}

// recordingApplier accepts every apply and remembers the targets
type recordingApplier struct {
	mu      sync.Mutex
	applied []string
	refuse  map[string]bool
}

func (a *recordingApplier) Apply(ctx context.Context, s *types.Suggestion) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.refuse[s.Target] {
		return errors.New("change rejected by target")
	}
	a.applied = append(a.applied, s.Target)
	return nil
}

func (a *recordingApplier) targets() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.applied...)
}

// blockingApplier signals when the first apply starts, then holds every
// call until released or cancelled
type blockingApplier struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingApplier() *blockingApplier {
	return &blockingApplier{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (a *blockingApplier) Apply(ctx context.Context, s *types.Suggestion) error {
	a.once.Do(func() { close(a.started) })
	select {
	case <-a.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// seedFailingTool records invocations and errors spaced 10ms apart so
// they land inside every window the tests use
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

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for e.Cycling() {
		if time.Now().After(deadline) {
			t.Fatal("Cycle did not finish in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEmptyCycleCompletesAllPhases(t *testing.T) {
	d := newTestEngine(t, nil, nil)
	ctx := context.Background()

	runID, err := d.engine.TriggerCycle(ctx)
	if err != nil {
		t.Fatalf("TriggerCycle failed: %v", err)
	}
	waitIdle(t, d.engine)

	run, err := d.store.GetCycleRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetCycleRun failed: %v", err)
	}
	if run.Status != types.RunCompleted {
		t.Fatalf("Expected completed run, got %s (%s)", run.Status, run.FailureReason)
	}
	if run.FinishedAt == nil {
		t.Error("Expected FinishedAt to be set")
	}

	pr := run.PhaseResults
	if pr.Observation == nil || pr.Monitoring == nil || pr.Suggestion == nil ||
		pr.Implementation == nil || pr.Evaluation == nil {
		t.Fatalf("Expected all five phase results, got %+v", pr)
	}
	if pr.Observation.SubjectsAnalyzed != 0 {
		t.Errorf("Expected 0 subjects, got %d", pr.Observation.SubjectsAnalyzed)
	}
	if len(pr.Suggestion.Suggestions) != 0 {
		t.Errorf("Expected no suggestions, got %d", len(pr.Suggestion.Suggestions))
	}
	if pr.Implementation.TotalSuggestions != 0 || pr.Implementation.Implemented != 0 {
		t.Errorf("Expected empty implementation tally, got %+v", pr.Implementation)
	}
	if len(run.PrinciplesLearned) != 0 {
		t.Errorf("Expected no principles learned, got %v", run.PrinciplesLearned)
	}
}

func TestTriggerWhileBusyFailsFast(t *testing.T) {
	applier := newBlockingApplier()
	d := newTestEngine(t, &Config{SettleDelay: time.Millisecond}, applier)
	ctx := context.Background()

	seedFailingTool(t, d.evidence, "flaky_tool", 10, 3)

	first, err := d.engine.TriggerCycle(ctx)
	if err != nil {
		t.Fatalf("First trigger failed: %v", err)
	}

	<-applier.started
	_, err = d.engine.TriggerCycle(ctx)
	if !errors.Is(err, types.ErrBusy) {
		t.Fatalf("Expected ErrBusy, got %v", err)
	}

	close(applier.release)
	waitIdle(t, d.engine)

	// The rejected trigger must not have produced a second run
	runs, err := d.store.ListCycleRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListCycleRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected exactly 1 run, got %d", len(runs))
	}
	if runs[0].RunID != first {
		t.Errorf("Expected run %s, got %s", first, runs[0].RunID)
	}
	if runs[0].Status != types.RunCompleted {
		t.Errorf("Expected completed run, got %s", runs[0].Status)
	}
}

func TestFailingToolScenario(t *testing.T) {
	applier := &recordingApplier{}
	d := newTestEngine(t, &Config{SettleDelay: time.Millisecond}, applier)
	ctx := context.Background()

	if _, err := d.registry.Seed(ctx); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	// Every call fails: error rate 1.0
	seedFailingTool(t, d.evidence, "tool-x", 10, 10)

	runID, err := d.engine.TriggerCycle(ctx)
	if err != nil {
		t.Fatalf("TriggerCycle failed: %v", err)
	}
	waitIdle(t, d.engine)

	run, err := d.store.GetCycleRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetCycleRun failed: %v", err)
	}
	if run.Status != types.RunCompleted {
		t.Fatalf("Expected completed run, got %s (%s)", run.Status, run.FailureReason)
	}

	mon := run.PhaseResults.Monitoring
	if mon.ActiveAlerts < 1 {
		t.Errorf("Expected at least one active alert, got %d", mon.ActiveAlerts)
	}
	var alerted bool
	for _, alert := range mon.Alerts {
		if alert.Subject == "tool-x" {
			alerted = true
		}
	}
	if !alerted {
		t.Error("Expected an alert for tool-x")
	}

	var sugg *types.Suggestion
	for i, s := range run.PhaseResults.Suggestion.Suggestions {
		if s.Target == "tool-x" && s.Category == CategoryReliability {
			sugg = &run.PhaseResults.Suggestion.Suggestions[i]
		}
	}
	if sugg == nil {
		t.Fatalf("Expected a reliability suggestion for tool-x, got %+v",
			run.PhaseResults.Suggestion.Suggestions)
	}
	// Base priority 9 plus the active-alert bump
	if sugg.Priority != 10 {
		t.Errorf("Expected alert-boosted priority 10, got %d", sugg.Priority)
	}
	if len(sugg.SupportingPrincipleIDs) != 1 || sugg.SupportingPrincipleIDs[0] != "external_llm_compatibility" {
		t.Errorf("Expected the error-rate principle attached, got %v", sugg.SupportingPrincipleIDs)
	}

	impl := run.PhaseResults.Implementation
	if impl.Implemented < 1 {
		t.Fatalf("Expected at least one implemented suggestion, got %+v", impl)
	}
	var appliedToolX bool
	for _, target := range applier.targets() {
		if target == "tool-x" {
			appliedToolX = true
		}
	}
	if !appliedToolX {
		t.Error("Expected the applier to receive the tool-x change")
	}

	// Nothing recovered after the change, so evaluation measures no
	// improvement and weakens the principle that backed it
	eval := run.PhaseResults.Evaluation
	if eval.SuccessRate != 0 {
		t.Errorf("Expected success rate 0, got %g", eval.SuccessRate)
	}
	if eval.Regressed < 1 {
		t.Errorf("Expected a regressed outcome, got %+v", eval)
	}
	var evalOutcome *types.EvalOutcome
	for i, o := range eval.Outcomes {
		if o.Target == "tool-x" {
			evalOutcome = &eval.Outcomes[i]
		}
	}
	if evalOutcome == nil {
		t.Fatal("Expected an evaluation outcome for tool-x")
	}
	if !evalOutcome.Resampled {
		t.Error("Expected the error rate to be re-sampled")
	}
	if evalOutcome.Before != 1.0 || evalOutcome.After != 1.0 {
		t.Errorf("Expected error rate 1.0 before and after, got %g and %g",
			evalOutcome.Before, evalOutcome.After)
	}
	var weakened bool
	for _, pid := range eval.Weakened {
		if pid == "external_llm_compatibility" {
			weakened = true
		}
	}
	if !weakened {
		t.Errorf("Expected external_llm_compatibility weakened, got %v", eval.Weakened)
	}

	p, err := d.registry.Get(ctx, "external_llm_compatibility")
	if err != nil {
		t.Fatalf("Get principle failed: %v", err)
	}
	if p.EvidenceStrength >= 0.95 {
		t.Errorf("Expected strength below the 0.95 prior after weakening, got %g", p.EvidenceStrength)
	}
}

func TestImplementCapAndTally(t *testing.T) {
	applier := &recordingApplier{}
	d := newTestEngine(t, &Config{MaxSuggestionsPerCycle: 3, SettleDelay: time.Millisecond}, applier)

	run := &types.CycleRun{RunID: "run-cap"}
	run.PhaseResults.Suggestion = &types.SuggestionResult{}
	for i := 0; i < 5; i++ {
		run.PhaseResults.Suggestion.Suggestions = append(run.PhaseResults.Suggestion.Suggestions,
			types.Suggestion{
				ID:                fmt.Sprintf("s%d", i),
				Target:            fmt.Sprintf("tool-%d", i),
				Category:          CategoryReliability,
				ChangeDescription: "tighten retries",
				Priority:          5,
				Confidence:        0.5,
			})
	}

	result := d.engine.implement(context.Background(), run)
	if result.TotalSuggestions != 5 {
		t.Errorf("Expected total 5, got %d", result.TotalSuggestions)
	}
	if result.Implemented != 3 {
		t.Errorf("Expected implemented 3, got %d", result.Implemented)
	}
	if result.Skipped != 2 {
		t.Errorf("Expected skipped 2, got %d", result.Skipped)
	}
	if result.Failed != 0 {
		t.Errorf("Expected no failures, got %d", result.Failed)
	}
	if len(applier.targets()) != 3 {
		t.Errorf("Expected 3 applier calls, got %d", len(applier.targets()))
	}
}

func TestImplementPartialFailure(t *testing.T) {
	applier := &recordingApplier{refuse: map[string]bool{"tool-1": true}}
	d := newTestEngine(t, &Config{MaxSuggestionsPerCycle: 5, SettleDelay: time.Millisecond}, applier)

	run := &types.CycleRun{RunID: "run-partial"}
	run.PhaseResults.Suggestion = &types.SuggestionResult{}
	for i := 0; i < 3; i++ {
		run.PhaseResults.Suggestion.Suggestions = append(run.PhaseResults.Suggestion.Suggestions,
			types.Suggestion{
				ID:                fmt.Sprintf("s%d", i),
				Target:            fmt.Sprintf("tool-%d", i),
				Category:          CategoryReliability,
				ChangeDescription: "tighten retries",
				Priority:          5,
				Confidence:        0.5,
			})
	}

	result := d.engine.implement(context.Background(), run)
	if result.Implemented != 2 || result.Failed != 1 {
		t.Fatalf("Expected 2 implemented and 1 failed, got %+v", result)
	}
	var failed *types.SuggestionOutcome
	for i, o := range result.Outcomes {
		if !o.Applied {
			failed = &result.Outcomes[i]
		}
	}
	if failed == nil {
		t.Fatal("Expected a failed outcome")
	}
	if failed.Target != "tool-1" {
		t.Errorf("Expected tool-1 to fail, got %s", failed.Target)
	}
	if !strings.Contains(failed.Error, "apply to tool-1 failed") {
		t.Errorf("Expected an external call error, got %q", failed.Error)
	}
	if result.CompletedAt.IsZero() {
		t.Error("Partial failure must still complete the phase")
	}
}

// panickyApplier panics on a chosen target and accepts the rest
type panickyApplier struct {
	panicOn string
}

func (a *panickyApplier) Apply(ctx context.Context, s *types.Suggestion) error {
	if s.Target == a.panicOn {
		panic("applier exploded")
	}
	return nil
}

func TestPanickingApplierFailsOnlyItsSuggestion(t *testing.T) {
	d := newTestEngine(t, &Config{MaxSuggestionsPerCycle: 5, SettleDelay: time.Millisecond},
		&panickyApplier{panicOn: "tool-1"})

	run := &types.CycleRun{RunID: "run-panic"}
	run.PhaseResults.Suggestion = &types.SuggestionResult{}
	for i := 0; i < 3; i++ {
		run.PhaseResults.Suggestion.Suggestions = append(run.PhaseResults.Suggestion.Suggestions,
			types.Suggestion{
				ID:                fmt.Sprintf("s%d", i),
				Target:            fmt.Sprintf("tool-%d", i),
				Category:          CategoryReliability,
				ChangeDescription: "tighten retries",
				Priority:          5,
				Confidence:        0.5,
			})
	}

	result := d.engine.implement(context.Background(), run)
	if result.Implemented != 2 || result.Failed != 1 {
		t.Fatalf("Expected the panic contained to one suggestion, got %+v", result)
	}
	for _, o := range result.Outcomes {
		if o.Target == "tool-1" {
			if o.Applied {
				t.Error("Panicking apply must not count as applied")
			}
			if !strings.Contains(o.Error, "applier panic") {
				t.Errorf("Expected the panic surfaced in the outcome, got %q", o.Error)
			}
		}
	}
}

// stuckApplier never returns until the context expires
type stuckApplier struct{}

func (stuckApplier) Apply(ctx context.Context, s *types.Suggestion) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestStuckApplyHitsPerSuggestionTimeout(t *testing.T) {
	d := newTestEngine(t, &Config{
		PerSuggestionTimeout: 50 * time.Millisecond,
		SettleDelay:          time.Millisecond,
	}, stuckApplier{})

	run := &types.CycleRun{RunID: "run-stuck"}
	run.PhaseResults.Suggestion = &types.SuggestionResult{
		Suggestions: []types.Suggestion{{
			ID:                "s0",
			Target:            "slow-tool",
			Category:          CategoryPerformance,
			ChangeDescription: "do less",
			Priority:          5,
			Confidence:        0.5,
		}},
	}

	start := time.Now()
	result := d.engine.implement(context.Background(), run)
	elapsed := time.Since(start)

	if result.Implemented != 0 || result.Failed != 1 {
		t.Fatalf("Expected the stuck apply to fail, got %+v", result)
	}
	if !strings.Contains(result.Outcomes[0].Error, "apply to slow-tool failed") {
		t.Errorf("Expected an external call error, got %q", result.Outcomes[0].Error)
	}
	if elapsed < 50*time.Millisecond {
		t.Errorf("Apply returned before the timeout: %v", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Stuck apply stalled the phase: %v", elapsed)
	}
}

func TestCancelMarksRunCancelled(t *testing.T) {
	applier := newBlockingApplier()
	d := newTestEngine(t, &Config{SettleDelay: time.Millisecond}, applier)
	ctx := context.Background()

	seedFailingTool(t, d.evidence, "flaky_tool", 10, 3)

	runID, err := d.engine.TriggerCycle(ctx)
	if err != nil {
		t.Fatalf("TriggerCycle failed: %v", err)
	}

	// Cancel while the apply is in flight; the release channel never
	// opens, so only cancellation can finish the call
	<-applier.started
	d.engine.Cancel()
	waitIdle(t, d.engine)

	run, err := d.store.GetCycleRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetCycleRun failed: %v", err)
	}
	if run.Status != types.RunFailed {
		t.Fatalf("Expected failed run, got %s", run.Status)
	}
	if run.FailureReason != "cancelled" {
		t.Errorf("Expected reason cancelled, got %q", run.FailureReason)
	}

	// Phases committed before the cancel survive it
	pr := run.PhaseResults
	if pr.Observation == nil || pr.Monitoring == nil || pr.Suggestion == nil {
		t.Error("Expected earlier phase results to remain committed")
	}
	if pr.Implementation == nil {
		t.Fatal("Expected the implementation tally to be committed")
	}
	if pr.Implementation.Failed < 1 {
		t.Errorf("Expected the interrupted apply recorded as failed, got %+v", pr.Implementation)
	}
	if pr.Evaluation != nil {
		t.Error("Evaluation must not run after a cancel at the phase boundary")
	}
}

func TestPatternMintingRequiresIndependentRuns(t *testing.T) {
	d := newTestEngine(t, &Config{SettleDelay: time.Millisecond}, nil)
	ctx := context.Background()

	makeRun := func(id string) *types.CycleRun {
		run := &types.CycleRun{RunID: id}
		sugg := &types.SuggestionResult{}
		impl := &types.ImplementationResult{}
		for i := 0; i < 3; i++ {
			sid := fmt.Sprintf("%s-s%d", id, i)
			sugg.Suggestions = append(sugg.Suggestions, types.Suggestion{
				ID:                sid,
				Target:            fmt.Sprintf("tool-%d", i),
				Category:          CategoryReliability,
				ChangeDescription: "tighten retries",
				Priority:          5,
				Confidence:        0.5,
				Metric:            monitor.KeyErrorRate,
				Direction:         types.LowerIsBetter,
			})
			impl.Outcomes = append(impl.Outcomes, types.SuggestionOutcome{
				SuggestionID: sid,
				Target:       fmt.Sprintf("tool-%d", i),
				Applied:      true,
			})
			impl.Implemented++
		}
		impl.TotalSuggestions = 3
		run.PhaseResults.Suggestion = sugg
		run.PhaseResults.Implementation = impl
		return run
	}

	// Two corroborating runs record the pattern but must not mint
	for i := 1; i <= 2; i++ {
		run := makeRun(fmt.Sprintf("run-%d", i))
		result, err := d.engine.evaluate(ctx, run)
		if err != nil {
			t.Fatalf("evaluate failed: %v", err)
		}
		if result.SuccessRate != 1.0 {
			t.Fatalf("Expected success rate 1.0, got %g", result.SuccessRate)
		}
		if !result.PatternRecorded {
			t.Fatal("Expected the pattern observation recorded")
		}
		if len(result.PrinciplesMinted) != 0 {
			t.Fatalf("Minted too early on run %d: %v", i, result.PrinciplesMinted)
		}
		if len(run.PrinciplesLearned) != 0 {
			t.Fatalf("PrinciplesLearned set too early: %v", run.PrinciplesLearned)
		}
	}

	// The third independent run crosses the corroboration floor
	run := makeRun("run-3")
	result, err := d.engine.evaluate(ctx, run)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(result.PrinciplesMinted) != 1 {
		t.Fatalf("Expected one minted principle, got %v", result.PrinciplesMinted)
	}
	minted := result.PrinciplesMinted[0]
	if minted != "reliability_optimization" {
		t.Errorf("Expected reliability_optimization, got %s", minted)
	}
	if len(run.PrinciplesLearned) != 1 || run.PrinciplesLearned[0] != minted {
		t.Errorf("Expected the run to record the learned principle, got %v", run.PrinciplesLearned)
	}

	p, err := d.registry.Get(ctx, minted)
	if err != nil {
		t.Fatalf("Get minted principle failed: %v", err)
	}
	if p.Category != types.CategoryOpenEnded {
		t.Errorf("Expected open_ended category, got %s", p.Category)
	}
	if p.EvidenceStrength <= 0 || p.EvidenceStrength > 1 {
		t.Errorf("Minted strength out of range: %g", p.EvidenceStrength)
	}

	// A fourth run does not mint the same principle twice
	run = makeRun("run-4")
	result, err = d.engine.evaluate(ctx, run)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(result.PrinciplesMinted) != 0 {
		t.Errorf("Expected no duplicate mint, got %v", result.PrinciplesMinted)
	}
}

func TestAlertKickTriggersRun(t *testing.T) {
	d := newTestEngine(t, &Config{CycleInterval: time.Hour, SettleDelay: time.Millisecond}, nil)
	ctx := context.Background()

	if err := d.engine.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := d.engine.Start(); err == nil {
		t.Fatal("Second Start must fail")
	}

	// Below the severity floor: dropped
	d.engine.KickOnAlert(&types.Alert{Subject: "tool-x", Severity: types.SeverityLow})
	time.Sleep(50 * time.Millisecond)
	runs, err := d.store.ListCycleRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListCycleRuns failed: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("Low severity alert must not trigger a run, got %d", len(runs))
	}

	d.engine.KickOnAlert(&types.Alert{Subject: "tool-x", Severity: types.SeverityCritical})
	deadline := time.Now().Add(2 * time.Second)
	for {
		runs, err = d.store.ListCycleRuns(ctx, 10)
		if err != nil {
			t.Fatalf("ListCycleRuns failed: %v", err)
		}
		if len(runs) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Critical alert did not trigger a run")
		}
		time.Sleep(10 * time.Millisecond)
	}

	d.engine.Stop()
	if _, err := d.engine.TriggerCycle(ctx); err == nil {
		t.Fatal("Trigger after Stop must fail")
	}
}

func TestStatusTracksRunLifecycle(t *testing.T) {
	d := newTestEngine(t, &Config{SettleDelay: time.Millisecond}, nil)
	ctx := context.Background()

	s := d.engine.Status()
	if s.Cycling || s.Phase != types.PhaseIdle {
		t.Fatalf("Expected idle engine, got %+v", s)
	}

	runID, err := d.engine.TriggerCycle(ctx)
	if err != nil {
		t.Fatalf("TriggerCycle failed: %v", err)
	}

	// The trigger saves the record before handing back, so it is
	// visible even while the run is still going
	run, err := d.store.GetCycleRun(ctx, runID)
	if err != nil {
		t.Fatalf("Run record missing: %v", err)
	}
	if run.RunID != runID {
		t.Errorf("Expected run %s, got %s", runID, run.RunID)
	}

	waitIdle(t, d.engine)
	s = d.engine.Status()
	if s.Cycling || s.Phase != types.PhaseIdle {
		t.Errorf("Expected idle after completion, got %+v", s)
	}
	if s.LastRun == nil || s.LastRun.RunID != runID {
		t.Fatalf("Expected last run %s, got %+v", runID, s.LastRun)
	}
	if s.LastRun.Status != types.RunCompleted {
		t.Errorf("Expected completed last run, got %s", s.LastRun.Status)
	}
}

func TestBlockedRunReportsImplementingPhase(t *testing.T) {
	applier := newBlockingApplier()
	d := newTestEngine(t, &Config{SettleDelay: time.Millisecond}, applier)
	ctx := context.Background()

	seedFailingTool(t, d.evidence, "flaky_tool", 10, 3)

	runID, err := d.engine.TriggerCycle(ctx)
	if err != nil {
		t.Fatalf("TriggerCycle failed: %v", err)
	}

	<-applier.started
	s := d.engine.Status()
	if !s.Cycling {
		t.Error("Expected a cycling engine mid-apply")
	}
	if s.Phase != types.PhaseImplementing {
		t.Errorf("Expected implementing phase, got %s", s.Phase)
	}
	if s.CurrentRunID != runID {
		t.Errorf("Expected current run %s, got %s", runID, s.CurrentRunID)
	}

	// The mid-run record carries every committed phase result
	run, err := d.store.GetCycleRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetCycleRun failed: %v", err)
	}
	if run.Status != types.RunRunning {
		t.Errorf("Expected running status, got %s", run.Status)
	}
	if run.FinishedAt != nil {
		t.Error("Expected no FinishedAt mid-run")
	}
	pr := run.PhaseResults
	if pr.Observation == nil || pr.Monitoring == nil || pr.Suggestion == nil {
		t.Error("Expected observation, monitoring, and suggestion results committed mid-run")
	}

	close(applier.release)
	waitIdle(t, d.engine)
}

func TestNewValidatesDeps(t *testing.T) {
	if _, err := New(nil, Deps{}); err == nil || !strings.Contains(err.Error(), "storage is required") {
		t.Errorf("Expected storage requirement, got %v", err)
	}

	backend, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer backend.Close()

	if _, err := New(nil, Deps{Storage: backend}); err == nil || !strings.Contains(err.Error(), "evidence store is required") {
		t.Errorf("Expected evidence requirement, got %v", err)
	}
}
