package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/caelum-ai/kaizen/internal/types"
)

// implement applies the top-ranked suggestions through the configured
// applier, at most MaxSuggestionsPerCycle of them, with bounded
// concurrency and a per-call timeout. The phase always completes with a
// full tally; individual failures are recorded, never propagated.
func (e *Engine) implement(ctx context.Context, run *types.CycleRun) *types.ImplementationResult {
	result := &types.ImplementationResult{}
	sugg := run.PhaseResults.Suggestion
	if sugg == nil || len(sugg.Suggestions) == 0 {
		result.CompletedAt = time.Now().UTC()
		return result
	}

	result.TotalSuggestions = len(sugg.Suggestions)
	batch := sugg.Suggestions
	if len(batch) > e.cfg.MaxSuggestionsPerCycle {
		batch = batch[:e.cfg.MaxSuggestionsPerCycle]
		result.Skipped = result.TotalSuggestions - len(batch)
	}

	sem := semaphore.NewWeighted(int64(e.cfg.MaxConcurrentApplies))
	outcomes := make([]types.SuggestionOutcome, len(batch))
	done := make(chan int, len(batch))

	for i := range batch {
		go func(i int) {
			defer func() { done <- i }()
			outcomes[i] = e.applyOne(ctx, sem, &batch[i])
		}(i)
	}
	for range batch {
		<-done
	}

	for _, outcome := range outcomes {
		result.Outcomes = append(result.Outcomes, outcome)
		if outcome.Applied {
			result.Implemented++
		} else {
			result.Failed++
		}
	}
	result.CompletedAt = time.Now().UTC()

	e.logger.Info("implementing phase complete",
		zap.Int("implemented", result.Implemented),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Int("total_suggestions", result.TotalSuggestions))
	return result
}

// applyOne runs a single configuration apply under the concurrency
// bound and per-suggestion timeout. A stuck external call burns its
// own slot and deadline, never the whole cycle.
func (e *Engine) applyOne(ctx context.Context, sem *semaphore.Weighted, s *types.Suggestion) types.SuggestionOutcome {
	outcome := types.SuggestionOutcome{
		SuggestionID: s.ID,
		Target:       s.Target,
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		outcome.Error = (&types.ExternalCallError{Target: s.Target, Err: err}).Error()
		return outcome
	}
	defer sem.Release(1)

	applyCtx, cancel := context.WithTimeout(ctx, e.cfg.PerSuggestionTimeout)
	defer cancel()

	start := time.Now()
	err := e.callApplier(applyCtx, s)
	outcome.Duration = time.Since(start)

	if err != nil {
		var callErr *types.ExternalCallError
		if !errors.As(err, &callErr) && !types.IsValidation(err) {
			err = &types.ExternalCallError{Target: s.Target, Err: err}
		}
		outcome.Error = err.Error()
		e.logger.Warn("suggestion apply failed",
			zap.String("target", s.Target),
			zap.String("category", s.Category),
			zap.Duration("elapsed", outcome.Duration),
			zap.Error(err))
		return outcome
	}

	outcome.Applied = true
	outcome.Effect = s.ExpectedEffect
	e.logger.Info("suggestion applied",
		zap.String("target", s.Target),
		zap.String("category", s.Category),
		zap.String("change", s.ChangeDescription))
	return outcome
}

// callApplier shields the run from applier implementations that panic;
// the panic becomes that suggestion's failure
func (e *Engine) callApplier(ctx context.Context, s *types.Suggestion) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("applier panic: %v", r)
		}
	}()
	return e.applier.Apply(ctx, s)
}
