package observer

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/caelum-ai/kaizen/internal/evidence"
	"github.com/caelum-ai/kaizen/internal/inventory"
	"github.com/caelum-ai/kaizen/internal/types"
)

// Analyzer produces the observing phase's view of the ecosystem from
// stored evidence and the tool inventory
type Analyzer struct {
	evidence *evidence.Store
	provider inventory.Provider
	window   time.Duration
	logger   *zap.Logger
}

// NewAnalyzer creates an analyzer. provider may be nil when no tool
// inventory is configured.
func NewAnalyzer(ev *evidence.Store, provider inventory.Provider, window time.Duration, logger *zap.Logger) *Analyzer {
	if window <= 0 {
		window = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		evidence: ev,
		provider: provider,
		window:   window,
		logger:   logger,
	}
}

// Observe surveys every known subject over the lookback window. Subjects
// without recent evidence are still reported, with HasData false; only
// storage and inventory failures abort the survey.
func (a *Analyzer) Observe(ctx context.Context) (*types.ObservationResult, error) {
	since := time.Now().UTC().Add(-a.window)

	evidenceSubjects, err := a.evidence.Subjects(ctx, since)
	if err != nil {
		return nil, err
	}

	var tools []*inventory.Tool
	if a.provider != nil {
		tools, err = a.provider.Tools(ctx)
		if err != nil {
			return nil, err
		}
	}

	kinds := make(map[string]string)
	for _, tool := range tools {
		kinds[tool.Name] = "tool"
		if tool.Workflow != "" {
			kinds[tool.Workflow] = "workflow"
		}
	}

	names := make(map[string]bool)
	for _, s := range evidenceSubjects {
		names[s] = true
	}
	for name := range kinds {
		names[name] = true
	}

	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	result := &types.ObservationResult{
		Subjects: make([]types.SubjectSummary, 0, len(ordered)),
	}
	for _, subject := range ordered {
		summary, err := a.summarize(ctx, subject, since)
		if err != nil {
			return nil, err
		}
		summary.Kind = kinds[subject]
		if summary.Kind == "" && summary.Invocations == 0 && summary.EventCount > 0 {
			summary.Kind = "workflow"
		}
		result.Subjects = append(result.Subjects, summary)
		if summary.HasData {
			result.SubjectsWithData++
		}
	}
	result.SubjectsAnalyzed = len(result.Subjects)
	result.VersionSkews = inventory.VersionSkews(tools)
	result.CompletedAt = time.Now().UTC()

	a.logger.Debug("observation complete",
		zap.Int("subjects", result.SubjectsAnalyzed),
		zap.Int("with_data", result.SubjectsWithData),
		zap.Int("version_skews", len(result.VersionSkews)))
	return result, nil
}

func (a *Analyzer) summarize(ctx context.Context, subject string, since time.Time) (types.SubjectSummary, error) {
	summary := types.SubjectSummary{Subject: subject}

	events, err := a.evidence.Query(ctx, types.EventFilter{Subject: subject, After: since})
	if err != nil {
		return summary, err
	}
	summary.EventCount = len(events)
	summary.HasData = len(events) > 0
	if !summary.HasData {
		return summary, nil
	}

	invocations, err := a.evidence.Aggregate(ctx, subject, types.MetricToolInvocation, since, time.Time{})
	if err != nil {
		return summary, err
	}
	failures, err := a.evidence.Aggregate(ctx, subject, types.MetricError, since, time.Time{})
	if err != nil {
		return summary, err
	}

	summary.Invocations = invocations.Count
	summary.Failures = failures.Count
	summary.MeanLatency = invocations.Mean
	if invocations.Count > 0 {
		summary.ErrorRate = float64(failures.Count) / float64(invocations.Count)
	}
	return summary, nil
}
