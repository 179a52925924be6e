package principles

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caelum-ai/kaizen/internal/evidence"
	"github.com/caelum-ai/kaizen/internal/storage/sqlite"
	"github.com/caelum-ai/kaizen/internal/types"
)

func newTestRegistry(t *testing.T, cfg *Config) (*Registry, *evidence.Store) {
	t.Helper()
	backend, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	ev := evidence.NewStore(backend)
	if cfg == nil {
		cfg = DefaultConfig()
		cfg.EvidenceHalfLife = 0 // deterministic masses
	}
	return NewRegistry(backend, ev, cfg), ev
}

func TestSeed(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	installed, err := reg.Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, installed)

	active, err := reg.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 5)

	// Strongest first, with strength equal to prior before any evidence
	assert.Equal(t, "workflow_centric_approach", active[0].ID)
	assert.Equal(t, 1.0, active[0].EvidenceStrength)
	assert.Equal(t, 1.0, active[0].Prior)

	// Seeding again installs nothing
	installed, err = reg.Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, installed)
}

func TestUpsertIgnoresCallerStrength(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	p := &types.Principle{
		ID:               "test_principle",
		Title:            "Test principle",
		Category:         types.CategoryOpenEnded,
		Conditions:       []string{"error_rate > 0.1"},
		Prior:            0.9,
		EvidenceStrength: 0.1, // must be overwritten by the recompute
	}
	require.NoError(t, reg.Upsert(ctx, p))

	got, err := reg.Get(ctx, "test_principle")
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.EvidenceStrength, "strength must come from the recompute, not the caller")
}

func TestReinforceAndWeaken(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	p := &types.Principle{
		ID:         "adaptive_routing",
		Title:      "Adaptive routing",
		Category:   types.CategoryAdaptation,
		Conditions: []string{"avg_response_time > 60"},
		Prior:      0.8,
	}
	require.NoError(t, reg.Upsert(ctx, p))

	// One supporting event with prior weight k=3:
	// (0.8*3 + 1) / (3 + 1) = 0.85
	got, err := reg.Reinforce(ctx, "adaptive_routing", "router", types.MetricOutcome, 0.12, "run-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.85, got.EvidenceStrength, 1e-9)
	assert.Equal(t, 1.0, got.Supporting)

	// One contradicting event on top:
	// (0.8*3 + 1) / (3 + 1 + 1) = 0.68
	got, err = reg.Weaken(ctx, "adaptive_routing", "router", types.MetricOutcome, -0.05, "run-2")
	require.NoError(t, err)
	assert.InDelta(t, 0.68, got.EvidenceStrength, 1e-9)
	assert.Equal(t, 1.0, got.Contradicting)

	// Idempotent reads: recomputing without new evidence changes nothing
	again, err := reg.Recompute(ctx, "adaptive_routing")
	require.NoError(t, err)
	assert.Equal(t, got.EvidenceStrength, again.EvidenceStrength)
}

func TestRetirementIsSoftAndReversible(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EvidenceHalfLife = 0
	cfg.RetirementFloor = 0.3
	reg, _ := newTestRegistry(t, cfg)
	ctx := context.Background()

	p := &types.Principle{
		ID:         "fragile_rule",
		Title:      "Fragile rule",
		Category:   types.CategoryOpenEnded,
		Conditions: []string{"error_rate > 0.1"},
		Prior:      0.5,
	}
	require.NoError(t, reg.Upsert(ctx, p))

	// Pile on contradicting evidence until strength crosses the floor:
	// after 5: (0.5*3) / (3 + 5) = 0.1875 < 0.3
	for i := 0; i < 5; i++ {
		_, err := reg.Weaken(ctx, "fragile_rule", "router", types.MetricOutcome, -0.1, "run-x")
		require.NoError(t, err)
	}

	got, err := reg.Get(ctx, "fragile_rule")
	require.NoError(t, err)
	assert.True(t, got.Retired)
	assert.Less(t, got.EvidenceStrength, 0.3)

	// Retired principles stay out of the active list but are never deleted
	active, err := reg.Active(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	all, err := reg.List(ctx, types.PrincipleFilter{IncludeRetired: true})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// Fresh supporting evidence can bring it back:
	// (1.5 + 8) / (3 + 8 + 5) = 0.59 > 0.3
	for i := 0; i < 8; i++ {
		_, err := reg.Reinforce(ctx, "fragile_rule", "router", types.MetricOutcome, 0.1, "run-y")
		require.NoError(t, err)
	}
	got, err = reg.Get(ctx, "fragile_rule")
	require.NoError(t, err)
	assert.False(t, got.Retired)
}

func TestEvidenceAging(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EvidenceHalfLife = 720 * time.Hour
	reg, ev := newTestRegistry(t, cfg)
	ctx := context.Background()

	p := &types.Principle{
		ID:         "aging_rule",
		Title:      "Aging rule",
		Category:   types.CategoryOpenEnded,
		Conditions: []string{"error_rate > 0.1"},
		Prior:      0.8,
	}
	require.NoError(t, reg.Upsert(ctx, p))

	// A supporting event exactly one half-life old carries mass 0.5:
	// (0.8*3 + 0.5) / (3 + 0.5) = 0.8286
	old := evidence.NewSupportingEvent("aging_rule", "router", types.MetricOutcome, 0.1, "run-old")
	old.Timestamp = time.Now().UTC().Add(-720 * time.Hour)
	require.NoError(t, ev.Record(ctx, old))

	got, err := reg.Recompute(ctx, "aging_rule")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got.Supporting, 0.01)
	assert.InDelta(t, 0.8286, got.EvidenceStrength, 0.01)
}

func TestEffectiveness(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	p := &types.Principle{
		ID:         "scored_rule",
		Title:      "Scored rule",
		Category:   types.CategoryOpenEnded,
		Conditions: []string{"error_rate > 0.1"},
		Prior:      0.9,
	}
	require.NoError(t, reg.Upsert(ctx, p))

	// No outcome history: score is the strength alone
	eff, err := reg.Effectiveness(ctx, "scored_rule")
	require.NoError(t, err)
	assert.Equal(t, 0.9, eff.Score)
	assert.Equal(t, 0, eff.Outcomes)
	assert.Equal(t, types.RecommendationKeep, eff.Recommendation)

	// 1 win, 1 loss: win rate 0.5
	_, err = reg.Reinforce(ctx, "scored_rule", "router", types.MetricOutcome, 0.1, "run-1")
	require.NoError(t, err)
	_, err = reg.Weaken(ctx, "scored_rule", "router", types.MetricOutcome, -0.1, "run-2")
	require.NoError(t, err)

	eff, err = reg.Effectiveness(ctx, "scored_rule")
	require.NoError(t, err)
	assert.Equal(t, 2, eff.Outcomes)
	assert.InDelta(t, 0.5, eff.WinRate, 1e-9)
	// strength = (0.9*3 + 1)/(3+2) = 0.74; score = 0.6*0.74 + 0.4*0.5 = 0.644
	assert.InDelta(t, 0.644, eff.Score, 1e-9)
	assert.Equal(t, types.RecommendationRevise, eff.Recommendation)
}

func TestMintFromPattern(t *testing.T) {
	reg, ev := newTestRegistry(t, nil)
	ctx := context.Background()

	record := func(rate float64, runID string) {
		t.Helper()
		require.NoError(t, ev.Record(ctx, evidence.NewPatternEvent("batched_lookups", rate, runID)))
	}

	// Two corroborating runs is not enough
	record(0.9, "run-1")
	record(0.95, "run-2")
	p, err := reg.MintFromPattern(ctx, "batched_lookups")
	require.NoError(t, err)
	assert.Nil(t, p)

	// Third independent run crosses the bar
	record(0.85, "run-3")
	p, err = reg.MintFromPattern(ctx, "batched_lookups")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "batched_lookups", p.ID)
	assert.Equal(t, types.CategoryOpenEnded, p.Category)
	assert.Equal(t, 0.75, p.Prior)
	assert.Equal(t, 0.75, p.EvidenceStrength)

	// Already minted: second attempt is a no-op
	p, err = reg.MintFromPattern(ctx, "batched_lookups")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestMintRequiresHighSuccessRate(t *testing.T) {
	reg, ev := newTestRegistry(t, nil)
	ctx := context.Background()

	for i, rate := range []float64{0.5, 0.6, 0.4} {
		e := evidence.NewPatternEvent("mediocre_flow", rate, "run-"+string(rune('a'+i)))
		require.NoError(t, ev.Record(ctx, e))
	}

	p, err := reg.MintFromPattern(ctx, "mediocre_flow")
	require.NoError(t, err)
	assert.Nil(t, p, "low success patterns must not mint")
}

func TestParseCondition(t *testing.T) {
	tests := []struct {
		input     string
		wantKey   string
		wantOp    string
		wantValue float64
		wantErr   bool
	}{
		{"error_rate > 0.05", "error_rate", ">", 0.05, false},
		{"task_success_rate < 0.95", "task_success_rate", "<", 0.95, false},
		{"unique_tools >= 15", "unique_tools", ">=", 15, false},
		{"avg_response_time <= 120", "avg_response_time", "<=", 120, false},
		{"not a predicate at all", "", "", 0, true},
		{"error_rate ~ 0.05", "", "", 0, true},
		{"error_rate > high", "", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			c, err := ParseCondition(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, types.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, c.Key)
			assert.Equal(t, tt.wantOp, c.Op)
			assert.Equal(t, tt.wantValue, c.Threshold)
		})
	}
}

func TestMatches(t *testing.T) {
	p := &types.Principle{
		ID: "p",
		Conditions: []string{
			"error_rate > 0.05",
			"avg_response_time > 120",
		},
	}

	// Any firing condition is a match
	assert.True(t, Matches(p, map[string]float64{"error_rate": 0.1}))
	assert.True(t, Matches(p, map[string]float64{"avg_response_time": 200}))
	assert.False(t, Matches(p, map[string]float64{"error_rate": 0.01, "avg_response_time": 30}))

	// Absent metrics never fire
	assert.False(t, Matches(p, map[string]float64{}))

	// Unparseable conditions are skipped, not fatal
	broken := &types.Principle{ID: "b", Conditions: []string{"gibberish", "error_rate > 0.05"}}
	assert.True(t, Matches(broken, map[string]float64{"error_rate": 0.2}))
}
