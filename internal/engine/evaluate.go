package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/caelum-ai/kaizen/internal/evidence"
	"github.com/caelum-ai/kaizen/internal/types"
)

// evaluate judges the run's implemented suggestions by re-sampling the
// monitor's derived metrics after a settling delay and comparing against
// the pre-change readings. Outcomes feed back into the principle
// registry; a consistently successful run records a pattern observation
// that may mint a new principle once enough independent runs corroborate
// it. Only cancellation is fatal; everything else is recorded.
func (e *Engine) evaluate(ctx context.Context, run *types.CycleRun) (*types.EvaluationResult, error) {
	result := &types.EvaluationResult{}
	impl := run.PhaseResults.Implementation
	sugg := run.PhaseResults.Suggestion

	byID := make(map[string]*types.Suggestion)
	if sugg != nil {
		for i := range sugg.Suggestions {
			byID[sugg.Suggestions[i].ID] = &sugg.Suggestions[i]
		}
	}

	var applied []types.SuggestionOutcome
	if impl != nil {
		for _, outcome := range impl.Outcomes {
			if outcome.Applied {
				applied = append(applied, outcome)
			}
		}
	}

	if len(applied) > 0 {
		if err := sleepCtx(ctx, e.cfg.SettleDelay); err != nil {
			result.Error = "cancelled"
			result.CompletedAt = time.Now().UTC()
			return result, types.ErrCancelled
		}
		if err := e.monitor.RunCheck(ctx); err != nil {
			e.logger.Warn("post-change monitor check failed", zap.Error(err))
			e.recordError(result, err)
		}
	}

	e.mu.Lock()
	before := e.metricsBefore
	e.mu.Unlock()
	after := e.monitor.Metrics()

	reinforced := make(map[string]bool)
	weakened := make(map[string]bool)

	for _, outcome := range applied {
		s := byID[outcome.SuggestionID]
		if s == nil {
			continue
		}

		eval := types.EvalOutcome{
			SuggestionID: s.ID,
			Target:       s.Target,
			Metric:       s.Metric,
			PrincipleIDs: s.SupportingPrincipleIDs,
		}
		beforeVal, okBefore := lookup(before, s.Target, s.Metric)
		afterVal, okAfter := lookup(after, s.Target, s.Metric)
		if okBefore && okAfter {
			eval.Resampled = true
			eval.Before = beforeVal
			eval.After = afterVal
			eval.Improved = s.Direction.Improved(beforeVal, afterVal, e.cfg.NoiseThreshold)
			if !eval.Improved {
				result.Regressed++
			}
		} else {
			// No fresh reading for this target: the clean apply stands
			// in, flagged so readers can discount it
			eval.Improved = true
		}
		if eval.Improved {
			result.Improved++
		}

		delta := eval.After - eval.Before
		for _, pid := range s.SupportingPrincipleIDs {
			var err error
			if eval.Improved {
				_, err = e.registry.Reinforce(ctx, pid, s.Target, s.Metric, delta, run.RunID)
				if err == nil {
					reinforced[pid] = true
				}
			} else {
				_, err = e.registry.Weaken(ctx, pid, s.Target, s.Metric, delta, run.RunID)
				if err == nil {
					weakened[pid] = true
				}
			}
			if err != nil {
				e.logger.Warn("principle feedback failed",
					zap.String("principle_id", pid),
					zap.Error(err))
				e.recordError(result, err)
			}
		}
		result.Outcomes = append(result.Outcomes, eval)
	}

	if len(applied) > 0 {
		result.SuccessRate = float64(result.Improved) / float64(len(applied))
	}
	for pid := range reinforced {
		result.Reinforced = append(result.Reinforced, pid)
	}
	for pid := range weakened {
		result.Weakened = append(result.Weakened, pid)
	}

	e.recordPattern(ctx, run, result, applied, byID)

	// Decay sweep: stale evidence loses weight even in quiet cycles
	if _, err := e.registry.RecomputeAll(ctx); err != nil {
		e.logger.Warn("principle decay sweep failed", zap.Error(err))
		e.recordError(result, err)
	}

	result.CompletedAt = time.Now().UTC()
	if ctx.Err() != nil {
		return result, types.ErrCancelled
	}

	e.logger.Info("evaluating phase complete",
		zap.Float64("success_rate", result.SuccessRate),
		zap.Int("improved", result.Improved),
		zap.Int("regressed", result.Regressed),
		zap.Bool("pattern_recorded", result.PatternRecorded))
	return result, nil
}

// recordPattern notes a strongly successful run as one pattern
// observation and asks the registry to mint a principle from it. Minting
// only happens once enough independent runs corroborate the same
// pattern; until then the observations accumulate.
func (e *Engine) recordPattern(ctx context.Context, run *types.CycleRun, result *types.EvaluationResult, applied []types.SuggestionOutcome, byID map[string]*types.Suggestion) {
	if len(applied) < e.cfg.PatternMinImplemented || result.SuccessRate < e.cfg.PatternSuccessThreshold {
		return
	}

	improvedByID := make(map[string]bool, len(result.Outcomes))
	for _, eval := range result.Outcomes {
		improvedByID[eval.SuggestionID] = eval.Improved
	}

	counts := make(map[string]int)
	for _, outcome := range applied {
		if !improvedByID[outcome.SuggestionID] {
			continue
		}
		if s := byID[outcome.SuggestionID]; s != nil {
			counts[s.Category]++
		}
	}
	dominant := ""
	for category, n := range counts {
		if dominant == "" || n > counts[dominant] || (n == counts[dominant] && category < dominant) {
			dominant = category
		}
	}
	if dominant == "" {
		return
	}

	patternKey := dominant + "_optimization"
	if err := e.evidence.Record(ctx, evidence.NewPatternEvent(patternKey, result.SuccessRate, run.RunID)); err != nil {
		e.logger.Warn("failed to record pattern observation", zap.Error(err))
		e.recordError(result, err)
		return
	}
	result.PatternRecorded = true

	minted, err := e.registry.MintFromPattern(ctx, patternKey)
	if err != nil {
		e.logger.Warn("pattern minting failed", zap.String("pattern", patternKey), zap.Error(err))
		e.recordError(result, err)
		return
	}
	if minted != nil {
		result.PrinciplesMinted = append(result.PrinciplesMinted, minted.ID)
		run.PrinciplesLearned = append(run.PrinciplesLearned, minted.ID)
		e.logger.Info("new principle minted from pattern",
			zap.String("principle_id", minted.ID),
			zap.String("title", minted.Title))
	}
}

func (e *Engine) recordError(result *types.EvaluationResult, err error) {
	if result.Error == "" {
		result.Error = err.Error()
	}
}

func lookup(metrics map[string]map[string]float64, subject, key string) (float64, bool) {
	values, ok := metrics[subject]
	if !ok {
		return 0, false
	}
	v, ok := values[key]
	return v, ok
}
