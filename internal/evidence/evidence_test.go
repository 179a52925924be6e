package evidence

import (
	"context"
	"testing"
	"time"

	"github.com/caelum-ai/kaizen/internal/storage/sqlite"
	"github.com/caelum-ai/kaizen/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	backend, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	return NewStore(backend)
}

func TestRecordFillsDefaults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	event := NewToolInvocationEvent("search_tool", 1.2)
	event.ID = ""
	event.Timestamp = time.Time{}

	if err := store.Record(ctx, event); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if event.ID == "" {
		t.Error("Record should assign an ID")
	}
	if event.Timestamp.IsZero() {
		t.Error("Record should assign a timestamp")
	}

	got, err := store.Query(ctx, types.EventFilter{Subject: "search_tool"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(got))
	}
}

func TestRecordRejectsInvalid(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		event *types.EvidenceEvent
	}{
		{
			name:  "missing subject",
			event: &types.EvidenceEvent{Metric: types.MetricError, Polarity: types.PolarityNeutral},
		},
		{
			name:  "missing metric",
			event: &types.EvidenceEvent{Subject: "tool", Polarity: types.PolarityNeutral},
		},
		{
			name:  "bad polarity",
			event: &types.EvidenceEvent{Subject: "tool", Metric: "m", Polarity: "sideways"},
		},
		{
			name:  "supporting without principle",
			event: &types.EvidenceEvent{Subject: "tool", Metric: "m", Polarity: types.PolaritySupporting},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Record(ctx, tt.event)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !types.IsValidation(err) {
				t.Errorf("Expected ValidationError, got %T: %v", err, err)
			}
		})
	}
}

func TestConstructors(t *testing.T) {
	outcome := NewTaskOutcomeEvent("deploy", true)
	if outcome.Value != 1.0 {
		t.Errorf("Success should record value 1, got %g", outcome.Value)
	}
	if outcome.Metric != types.MetricTaskSuccess {
		t.Errorf("Unexpected metric: %s", outcome.Metric)
	}

	failed := NewTaskOutcomeEvent("deploy", false)
	if failed.Value != 0.0 {
		t.Errorf("Failure should record value 0, got %g", failed.Value)
	}

	supporting := NewSupportingEvent("p1", "deploy", types.MetricOutcome, 0.15, "run-1")
	if supporting.Polarity != types.PolaritySupporting {
		t.Errorf("Unexpected polarity: %s", supporting.Polarity)
	}
	if supporting.PrincipleID != "p1" || supporting.RunID != "run-1" {
		t.Errorf("Attribution fields not set: %+v", supporting)
	}
	if err := supporting.Validate(); err != nil {
		t.Errorf("Constructor produced invalid event: %v", err)
	}

	contradicting := NewContradictingEvent("p1", "deploy", types.MetricOutcome, -0.1, "run-1")
	if contradicting.Polarity != types.PolarityContradicting {
		t.Errorf("Unexpected polarity: %s", contradicting.Polarity)
	}
}

func TestAggregateAndRunCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	events := []*types.EvidenceEvent{
		NewPatternEvent("fast_search_flow", 0.9, "run-1"),
		NewPatternEvent("fast_search_flow", 0.8, "run-2"),
		NewPatternEvent("fast_search_flow", 0.95, "run-3"),
	}
	if err := store.RecordBatch(ctx, events); err != nil {
		t.Fatalf("RecordBatch failed: %v", err)
	}

	agg, err := store.Aggregate(ctx, "fast_search_flow", types.MetricPatternSuccess, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if agg.Count != 3 {
		t.Errorf("Expected 3 events, got %d", agg.Count)
	}

	count, err := store.RunCount(ctx, "fast_search_flow", types.MetricPatternSuccess)
	if err != nil {
		t.Fatalf("RunCount failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 distinct runs, got %d", count)
	}

	subjects, err := store.Subjects(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Subjects failed: %v", err)
	}
	if len(subjects) != 1 || subjects[0] != "fast_search_flow" {
		t.Errorf("Unexpected subjects: %v", subjects)
	}
}
