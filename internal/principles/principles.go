// Package principles maintains the evidence-weighted rule base. A
// principle's strength is a pure function of its prior and the evidence
// events that reference it; no caller may set strength directly.
package principles

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/caelum-ai/kaizen/internal/evidence"
	"github.com/caelum-ai/kaizen/internal/storage"
	"github.com/caelum-ai/kaizen/internal/types"
)

// Config holds tuning knobs for strength computation and lifecycle
type Config struct {
	// PriorWeight is how many events' worth of mass the prior carries.
	// Higher values make young principles slower to move.
	PriorWeight float64

	// EvidenceHalfLife ages evidence: an event this old counts half.
	// Zero disables age weighting entirely.
	EvidenceHalfLife time.Duration

	// RetirementFloor retires a principle when strength falls below it
	RetirementFloor float64

	// MintPrior is the prior assigned to pattern-minted principles
	MintPrior float64

	// MintMinRuns is how many independent cycle runs must corroborate a
	// pattern before it can become a principle
	MintMinRuns int

	// MintMinSuccessRate is the mean pattern success rate required to mint
	MintMinSuccessRate float64

	// KeepThreshold and ReviseThreshold split effectiveness scores into
	// keep / revise / retire recommendations
	KeepThreshold   float64
	ReviseThreshold float64
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		PriorWeight:        3.0,
		EvidenceHalfLife:   720 * time.Hour,
		RetirementFloor:    0.2,
		MintPrior:          0.75,
		MintMinRuns:        3,
		MintMinSuccessRate: 0.8,
		KeepThreshold:      0.8,
		ReviseThreshold:    0.6,
	}
}

// Registry is the read/write surface for principles. All strength
// mutations funnel through recompute so the evidence invariant holds.
type Registry struct {
	storage  storage.Storage
	evidence *evidence.Store
	cfg      *Config
}

// NewRegistry creates a principle registry
func NewRegistry(store storage.Storage, ev *evidence.Store, cfg *Config) *Registry {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.PriorWeight <= 0 {
		cfg.PriorWeight = 3.0
	}
	if cfg.MintMinRuns <= 0 {
		cfg.MintMinRuns = 3
	}
	return &Registry{storage: store, evidence: ev, cfg: cfg}
}

// Get retrieves a principle by ID
func (r *Registry) Get(ctx context.Context, id string) (*types.Principle, error) {
	return r.storage.GetPrinciple(ctx, id)
}

// List retrieves principles matching the filter, strongest first
func (r *Registry) List(ctx context.Context, filter types.PrincipleFilter) ([]*types.Principle, error) {
	return r.storage.ListPrinciples(ctx, filter)
}

// Active returns the non-retired principles ordered by strength
func (r *Registry) Active(ctx context.Context) ([]*types.Principle, error) {
	return r.storage.ListPrinciples(ctx, types.PrincipleFilter{})
}

// Upsert validates and saves a principle, recomputing its strength from
// the evidence log. Caller-supplied EvidenceStrength is ignored.
func (r *Registry) Upsert(ctx context.Context, p *types.Principle) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.LastReinforcedAt.IsZero() {
		p.LastReinforcedAt = now
	}

	// Strength starts from the recompute, never from the caller
	if err := r.recompute(ctx, p, now); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	if err := r.storage.SavePrinciple(ctx, p); err != nil {
		return &types.StorageError{Op: "save_principle", Err: err}
	}
	return nil
}

// Reinforce appends a supporting evidence event for the principle and
// recomputes its strength. Value carries the observed improvement.
func (r *Registry) Reinforce(ctx context.Context, id, subject, metric string, value float64, runID string) (*types.Principle, error) {
	event := evidence.NewSupportingEvent(id, subject, metric, value, runID)
	return r.applyOutcome(ctx, id, event)
}

// Weaken appends a contradicting evidence event for the principle and
// recomputes its strength.
func (r *Registry) Weaken(ctx context.Context, id, subject, metric string, value float64, runID string) (*types.Principle, error) {
	event := evidence.NewContradictingEvent(id, subject, metric, value, runID)
	return r.applyOutcome(ctx, id, event)
}

func (r *Registry) applyOutcome(ctx context.Context, id string, event *types.EvidenceEvent) (*types.Principle, error) {
	p, err := r.storage.GetPrinciple(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := r.evidence.Record(ctx, event); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := r.recompute(ctx, p, now); err != nil {
		return nil, err
	}
	p.LastReinforcedAt = now

	if err := r.storage.SavePrinciple(ctx, p); err != nil {
		return nil, &types.StorageError{Op: "save_principle", Err: err}
	}
	return p, nil
}

// Recompute re-derives one principle's strength from the evidence log
// and persists the result.
func (r *Registry) Recompute(ctx context.Context, id string) (*types.Principle, error) {
	p, err := r.storage.GetPrinciple(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := r.recompute(ctx, p, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := r.storage.SavePrinciple(ctx, p); err != nil {
		return nil, &types.StorageError{Op: "save_principle", Err: err}
	}
	return p, nil
}

// RecomputeAll sweeps every principle, including retired ones, applying
// evidence aging. Runs once per cycle during evaluation.
func (r *Registry) RecomputeAll(ctx context.Context) (int, error) {
	all, err := r.storage.ListPrinciples(ctx, types.PrincipleFilter{IncludeRetired: true})
	if err != nil {
		return 0, &types.StorageError{Op: "list_principles", Err: err}
	}

	now := time.Now().UTC()
	updated := 0
	for _, p := range all {
		if err := r.recompute(ctx, p, now); err != nil {
			return updated, err
		}
		if err := r.storage.SavePrinciple(ctx, p); err != nil {
			return updated, &types.StorageError{Op: "save_principle", Err: err}
		}
		updated++
	}
	return updated, nil
}

// recompute derives strength from the prior and the age-weighted
// evidence masses, then applies the retirement floor. Retirement is
// soft: the row stays, and recovering strength reactivates it.
func (r *Registry) recompute(ctx context.Context, p *types.Principle, now time.Time) error {
	events, err := r.evidence.Query(ctx, types.EventFilter{PrincipleID: p.ID})
	if err != nil {
		return err
	}

	var supporting, contradicting float64
	for _, e := range events {
		w := r.ageWeight(now.Sub(e.Timestamp))
		switch e.Polarity {
		case types.PolaritySupporting:
			supporting += w
		case types.PolarityContradicting:
			contradicting += w
		}
	}

	k := r.cfg.PriorWeight
	p.Supporting = supporting
	p.Contradicting = contradicting
	p.EvidenceStrength = (p.Prior*k + supporting) / (k + supporting + contradicting)
	p.Retired = p.EvidenceStrength < r.cfg.RetirementFloor

	return nil
}

// ageWeight discounts an event by its age: half the weight per half-life
func (r *Registry) ageWeight(age time.Duration) float64 {
	if r.cfg.EvidenceHalfLife <= 0 || age <= 0 {
		return 1.0
	}
	return math.Pow(0.5, age.Hours()/r.cfg.EvidenceHalfLife.Hours())
}

// Effectiveness summarizes how well a principle's guidance has worked
type Effectiveness struct {
	PrincipleID    string               `json:"principle_id"`
	Title          string               `json:"title"`
	Strength       float64              `json:"strength"`
	Outcomes       int                  `json:"outcomes"`
	WinRate        float64              `json:"win_rate"`
	Score          float64              `json:"score"`
	Recommendation types.Recommendation `json:"recommendation"`
}

// Effectiveness scores one principle from its strength and the win rate
// of decisions it backed. Without outcome history the score is the
// strength alone.
func (r *Registry) Effectiveness(ctx context.Context, id string) (*Effectiveness, error) {
	p, err := r.storage.GetPrinciple(ctx, id)
	if err != nil {
		return nil, err
	}

	outcomes, err := r.evidence.Query(ctx, types.EventFilter{
		PrincipleID: id,
		Metric:      types.MetricOutcome,
	})
	if err != nil {
		return nil, err
	}

	eff := &Effectiveness{
		PrincipleID: p.ID,
		Title:       p.Title,
		Strength:    p.EvidenceStrength,
		Outcomes:    len(outcomes),
	}

	if len(outcomes) == 0 {
		eff.Score = p.EvidenceStrength
	} else {
		wins := 0
		for _, e := range outcomes {
			if e.Polarity == types.PolaritySupporting {
				wins++
			}
		}
		eff.WinRate = float64(wins) / float64(len(outcomes))
		eff.Score = 0.6*p.EvidenceStrength + 0.4*eff.WinRate
	}

	switch {
	case eff.Score >= r.cfg.KeepThreshold:
		eff.Recommendation = types.RecommendationKeep
	case eff.Score >= r.cfg.ReviseThreshold:
		eff.Recommendation = types.RecommendationRevise
	default:
		eff.Recommendation = types.RecommendationRetire
	}

	return eff, nil
}

// MintFromPattern promotes a recurring success pattern into a new
// principle. It requires corroboration from enough independent cycle
// runs and a high enough mean success rate; otherwise it returns nil
// without minting. An existing principle with the same ID blocks the
// mint (the pattern already graduated).
func (r *Registry) MintFromPattern(ctx context.Context, patternKey string) (*types.Principle, error) {
	if _, err := r.storage.GetPrinciple(ctx, patternKey); err == nil {
		return nil, nil
	}

	runs, err := r.evidence.RunCount(ctx, patternKey, types.MetricPatternSuccess)
	if err != nil {
		return nil, err
	}
	if runs < r.cfg.MintMinRuns {
		return nil, nil
	}

	agg, err := r.evidence.Aggregate(ctx, patternKey, types.MetricPatternSuccess, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	if agg.Count == 0 || agg.Mean < r.cfg.MintMinSuccessRate {
		return nil, nil
	}

	now := time.Now().UTC()
	p := &types.Principle{
		ID:          patternKey,
		Title:       fmt.Sprintf("Learned pattern: %s", patternKey),
		Description: fmt.Sprintf("Minted from %d corroborating cycle runs with mean success rate %.2f", runs, agg.Mean),
		Category:    types.CategoryOpenEnded,
		Conditions:  []string{fmt.Sprintf("pattern_success_rate >= %.2f", r.cfg.MintMinSuccessRate)},
		Actions:     []string{fmt.Sprintf("prefer the %s pattern when applicable", patternKey)},
		Prior:       r.cfg.MintPrior,
		CreatedAt:   now,
	}

	if err := r.Upsert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
