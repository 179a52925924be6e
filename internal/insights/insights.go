// Package insights derives human-readable learnings, success patterns,
// and per-principle effectiveness from accumulated optimization history.
// A Synthesizer only reads: it is safe to query at any time, including
// mid-cycle, and a fresh system yields an empty report rather than an
// error.
package insights

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/caelum-ai/kaizen/internal/principles"
	"github.com/caelum-ai/kaizen/internal/storage"
	"github.com/caelum-ai/kaizen/internal/types"
)

// Config controls how much history the synthesizer reads and where the
// reporting cutoffs sit.
type Config struct {
	// MaxLearnings caps how many principle-backed learnings appear
	// Default: 5
	MaxLearnings int

	// MinApplications is how often a suggestion category must have been
	// applied before it can count as a recurring pattern
	// Default: 2
	MinApplications int

	// PatternSuccessFloor is the minimum historical success rate for a
	// category to be reported as a success pattern
	// Default: 0.8
	PatternSuccessFloor float64

	// RunWindow is how many recent evaluated runs feed the success rate
	// and each half of the trend comparison
	// Default: 5
	RunWindow int

	// TrendBand is the success-rate change that separates improving or
	// declining from stable
	// Default: 0.05
	TrendBand float64

	// HistoryLimit bounds how many cycle runs are scanned
	// Default: 50
	HistoryLimit int
}

// DefaultConfig returns default synthesizer configuration
func DefaultConfig() *Config {
	return &Config{
		MaxLearnings:        5,
		MinApplications:     2,
		PatternSuccessFloor: 0.8,
		RunWindow:           5,
		TrendBand:           0.05,
		HistoryLimit:        50,
	}
}

// Learning is one statement the system has earned from evidence
type Learning struct {
	PrincipleID string  `json:"principle_id,omitempty"`
	Statement   string  `json:"statement"`
	Strength    float64 `json:"strength,omitempty"`
}

// SuccessPattern is a suggestion category that keeps paying off
type SuccessPattern struct {
	Category     string  `json:"category"`
	Applications int     `json:"applications"`
	Improved     int     `json:"improved"`
	SuccessRate  float64 `json:"success_rate"`
}

// Report is the full insight synthesis over stored history
type Report struct {
	KeyLearnings        []Learning                  `json:"key_learnings"`
	SuccessPatterns     []SuccessPattern            `json:"success_patterns"`
	Effectiveness       []*principles.Effectiveness `json:"principle_effectiveness"`
	AreasForImprovement []string                    `json:"areas_for_improvement"`
	RecentSuccessRate   float64                     `json:"recent_success_rate"`
	RunsConsidered      int                         `json:"runs_considered"`
	Trend               string                      `json:"optimization_trend"`
	GeneratedAt         time.Time                   `json:"generated_at"`
}

// Synthesizer reads principles and cycle history and produces reports
type Synthesizer struct {
	store    storage.Storage
	registry *principles.Registry
	cfg      *Config
	logger   *zap.Logger
}

// New creates a synthesizer over the given storage and registry
func New(store storage.Storage, registry *principles.Registry, cfg *Config, logger *zap.Logger) *Synthesizer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	defaults := DefaultConfig()
	if cfg.MaxLearnings <= 0 {
		cfg.MaxLearnings = defaults.MaxLearnings
	}
	if cfg.MinApplications <= 0 {
		cfg.MinApplications = defaults.MinApplications
	}
	if cfg.PatternSuccessFloor <= 0 {
		cfg.PatternSuccessFloor = defaults.PatternSuccessFloor
	}
	if cfg.RunWindow <= 0 {
		cfg.RunWindow = defaults.RunWindow
	}
	if cfg.TrendBand <= 0 {
		cfg.TrendBand = defaults.TrendBand
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaults.HistoryLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		store:    store,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
	}
}

// Synthesize builds a report from everything learned so far. Collections
// are empty, never nil, so an empty system reads as an empty report.
func (s *Synthesizer) Synthesize(ctx context.Context) (*Report, error) {
	report := &Report{
		KeyLearnings:        []Learning{},
		SuccessPatterns:     []SuccessPattern{},
		Effectiveness:       []*principles.Effectiveness{},
		AreasForImprovement: []string{},
		Trend:               "stable",
		GeneratedAt:         time.Now().UTC(),
	}

	active, err := s.registry.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load principles: %w", err)
	}

	runs, err := s.store.ListCycleRuns(ctx, s.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load cycle history: %w", err)
	}

	s.synthesizeRuns(report, runs)
	if err := s.synthesizePrinciples(ctx, report, active); err != nil {
		return nil, err
	}

	s.logger.Debug("insights synthesized",
		zap.Int("learnings", len(report.KeyLearnings)),
		zap.Int("patterns", len(report.SuccessPatterns)),
		zap.Int("runs_considered", report.RunsConsidered),
		zap.String("trend", report.Trend))
	return report, nil
}

// synthesizeRuns fills the history-derived sections: recent success
// rate, trend, and recurring suggestion patterns.
func (s *Synthesizer) synthesizeRuns(report *Report, runs []*types.CycleRun) {
	evaluated := make([]*types.CycleRun, 0, len(runs))
	for _, run := range runs {
		if run.Status != types.RunCompleted {
			continue
		}
		eval := run.PhaseResults.Evaluation
		if eval == nil || len(eval.Outcomes) == 0 {
			continue
		}
		evaluated = append(evaluated, run)
	}

	// Runs arrive newest first; the two windows are the recent batch and
	// the batch just before it
	recent := window(evaluated, 0, s.cfg.RunWindow)
	earlier := window(evaluated, s.cfg.RunWindow, s.cfg.RunWindow)

	report.RunsConsidered = len(recent)
	if len(recent) > 0 {
		report.RecentSuccessRate = meanSuccessRate(recent)
	}
	if len(recent) > 0 && len(earlier) > 0 {
		delta := report.RecentSuccessRate - meanSuccessRate(earlier)
		switch {
		case delta > s.cfg.TrendBand:
			report.Trend = "improving"
		case delta < -s.cfg.TrendBand:
			report.Trend = "declining"
		}
	}

	type categoryStats struct {
		applications int
		improved     int
	}
	stats := make(map[string]*categoryStats)
	for _, run := range evaluated {
		categories := categoriesByID(run)
		for _, outcome := range run.PhaseResults.Evaluation.Outcomes {
			category, ok := categories[outcome.SuggestionID]
			if !ok {
				continue
			}
			cs := stats[category]
			if cs == nil {
				cs = &categoryStats{}
				stats[category] = cs
			}
			cs.applications++
			if outcome.Improved {
				cs.improved++
			}
		}
	}

	for category, cs := range stats {
		if cs.applications < s.cfg.MinApplications {
			continue
		}
		rate := float64(cs.improved) / float64(cs.applications)
		if rate < s.cfg.PatternSuccessFloor {
			continue
		}
		report.SuccessPatterns = append(report.SuccessPatterns, SuccessPattern{
			Category:     category,
			Applications: cs.applications,
			Improved:     cs.improved,
			SuccessRate:  rate,
		})
	}
	sort.Slice(report.SuccessPatterns, func(i, j int) bool {
		a, b := report.SuccessPatterns[i], report.SuccessPatterns[j]
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		if a.Applications != b.Applications {
			return a.Applications > b.Applications
		}
		return a.Category < b.Category
	})

	if report.RunsConsidered > 0 && report.RecentSuccessRate > 0.8 {
		report.KeyLearnings = append(report.KeyLearnings, Learning{
			Statement: "High optimization success rate indicates effective principle application",
		})
	}
	if report.RunsConsidered > 0 && report.RecentSuccessRate < 0.5 {
		report.AreasForImprovement = append(report.AreasForImprovement,
			fmt.Sprintf("Fewer than half of recently applied changes improved their metric (%.0f%%)",
				report.RecentSuccessRate*100))
	}
	if report.Trend == "declining" {
		report.AreasForImprovement = append(report.AreasForImprovement,
			"Optimization outcomes are declining across recent cycles")
	}
}

// synthesizePrinciples fills the principle-backed sections: learnings
// from the strongest principles and effectiveness for every active one.
func (s *Synthesizer) synthesizePrinciples(ctx context.Context, report *Report, active []*types.Principle) error {
	for i, p := range active {
		eff, err := s.registry.Effectiveness(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("failed to score principle %s: %w", p.ID, err)
		}
		report.Effectiveness = append(report.Effectiveness, eff)

		// Active comes back strongest first, so the learnings are the
		// head of the list
		if i < s.cfg.MaxLearnings {
			statement := fmt.Sprintf("%s (evidence strength %.2f)", p.Title, p.EvidenceStrength)
			if i == 0 {
				statement = fmt.Sprintf("%s shows the strongest evidence (%.2f)", p.Title, p.EvidenceStrength)
			}
			report.KeyLearnings = append(report.KeyLearnings, Learning{
				PrincipleID: p.ID,
				Statement:   statement,
				Strength:    p.EvidenceStrength,
			})
		}

		if eff.Recommendation == types.RecommendationRetire {
			report.AreasForImprovement = append(report.AreasForImprovement,
				fmt.Sprintf("Principle %q is not earning its keep (score %.2f)", p.Title, eff.Score))
		}
	}
	return nil
}

func window(runs []*types.CycleRun, offset, size int) []*types.CycleRun {
	if offset >= len(runs) {
		return nil
	}
	end := offset + size
	if end > len(runs) {
		end = len(runs)
	}
	return runs[offset:end]
}

func meanSuccessRate(runs []*types.CycleRun) float64 {
	var sum float64
	for _, run := range runs {
		sum += run.PhaseResults.Evaluation.SuccessRate
	}
	return sum / float64(len(runs))
}

// categoriesByID maps the run's suggestion IDs to their categories so
// evaluation outcomes can be attributed
func categoriesByID(run *types.CycleRun) map[string]string {
	sugg := run.PhaseResults.Suggestion
	if sugg == nil {
		return nil
	}
	out := make(map[string]string, len(sugg.Suggestions))
	for _, s := range sugg.Suggestions {
		out[s.ID] = s.Category
	}
	return out
}
