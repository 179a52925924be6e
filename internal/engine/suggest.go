package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caelum-ai/kaizen/internal/monitor"
	"github.com/caelum-ai/kaizen/internal/principles"
	"github.com/caelum-ai/kaizen/internal/types"
)

// CatalogTarget is the pseudo-subject for suggestions about the tool
// ecosystem as a whole rather than one tool or workflow
const CatalogTarget = "tool_catalog"

// Suggestion categories. Insights group historical outcomes by these.
const (
	CategoryConsolidation = "consolidation"
	CategoryFocus         = "focus"
	CategoryWorkflow      = "workflow"
	CategoryReliability   = "reliability"
	CategoryPerformance   = "performance"
	CategoryEfficiency    = "efficiency"
	CategoryCompat        = "compatibility"
)

// Rule thresholds for the suggesting phase
const (
	sprawlToolCount    = 15   // unique active tools before consolidation is suggested
	focusShareFloor    = 0.70 // top-5 share below this suggests focusing the toolchain
	successRateFloor   = 0.8
	errorRateCeiling   = 0.05
	responseCeilingSec = 90.0
	efficiencyFloor    = 1.5
)

// suggest ranks candidate changes from the observation summary, the
// monitor's derived metrics, active alerts, and matching principles.
// Registry failures degrade to rule-only suggestions, recorded in the
// result rather than failing the phase.
func (e *Engine) suggest(ctx context.Context, run *types.CycleRun) *types.SuggestionResult {
	result := &types.SuggestionResult{}
	obs := run.PhaseResults.Observation
	mon := run.PhaseResults.Monitoring
	metrics := e.monitor.Metrics()

	catalog := catalogMetrics(obs)
	var suggestions []types.Suggestion

	// Catalog-level rules
	result.RulesEvaluated++
	if catalog["unique_tools"] > sprawlToolCount {
		suggestions = append(suggestions, types.Suggestion{
			Target:            CatalogTarget,
			Category:          CategoryConsolidation,
			ChangeDescription: fmt.Sprintf("consolidate %.0f active tools into workflow-oriented groups", catalog["unique_tools"]),
			ExpectedEffect:    "fewer context switches and simpler tool selection",
			Priority:          7,
			Confidence:        0.8,
			Metric:            monitor.KeyContextSwitchRate,
			Direction:         types.LowerIsBetter,
		})
	}
	result.RulesEvaluated++
	if share, ok := catalog["top_tool_share"]; ok && share < focusShareFloor && catalog["unique_tools"] > 5 {
		suggestions = append(suggestions, types.Suggestion{
			Target:            CatalogTarget,
			Category:          CategoryFocus,
			ChangeDescription: fmt.Sprintf("promote the five busiest tools into a default toolchain (currently %.0f%% of calls)", share*100),
			ExpectedEffect:    "higher throughput from a stable core toolchain",
			Priority:          6,
			Confidence:        0.7,
			Metric:            monitor.KeyToolEfficiency,
			Direction:         types.HigherIsBetter,
		})
	}
	result.RulesEvaluated++
	if obs != nil {
		for _, skew := range obs.VersionSkews {
			suggestions = append(suggestions, types.Suggestion{
				Target:            skew.Tool,
				Category:          CategoryCompat,
				ChangeDescription: fmt.Sprintf("align %s versions across machines (seen: %s)", skew.Tool, strings.Join(skew.Versions, ", ")),
				ExpectedEffect:    "fewer version-dependent failures",
				Priority:          5,
				Confidence:        0.65,
				Metric:            monitor.KeyErrorRate,
				Direction:         types.LowerIsBetter,
			})
		}
	}

	// Per-subject rules over the monitor's derived metrics. Presence of
	// a key already implies the sample floor was met.
	subjects := make([]string, 0, len(metrics))
	for subject := range metrics {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)

	for _, subject := range subjects {
		values := metrics[subject]

		result.RulesEvaluated++
		if rate, ok := values[monitor.KeyTaskSuccessRate]; ok && rate < successRateFloor {
			suggestions = append(suggestions, types.Suggestion{
				Target:            subject,
				Category:          CategoryWorkflow,
				ChangeDescription: fmt.Sprintf("add retry and validation steps to the %s workflow (success rate %.0f%%)", subject, rate*100),
				ExpectedEffect:    "higher task success rate",
				Priority:          8,
				Confidence:        0.85,
				Metric:            monitor.KeyTaskSuccessRate,
				Direction:         types.HigherIsBetter,
			})
		}
		result.RulesEvaluated++
		if rate, ok := values[monitor.KeyErrorRate]; ok && rate > errorRateCeiling {
			suggestions = append(suggestions, types.Suggestion{
				Target:            subject,
				Category:          CategoryReliability,
				ChangeDescription: fmt.Sprintf("add error handling or a fallback path for %s (error rate %.1f%%)", subject, rate*100),
				ExpectedEffect:    "lower error rate",
				Priority:          9,
				Confidence:        0.9,
				Metric:            monitor.KeyErrorRate,
				Direction:         types.LowerIsBetter,
			})
		}
		result.RulesEvaluated++
		if secs, ok := values[monitor.KeyAvgResponseTime]; ok && secs > responseCeilingSec {
			suggestions = append(suggestions, types.Suggestion{
				Target:            subject,
				Category:          CategoryPerformance,
				ChangeDescription: fmt.Sprintf("cache or parallelize %s calls (average response %.0fs)", subject, secs),
				ExpectedEffect:    "lower response time",
				Priority:          6,
				Confidence:        0.7,
				Metric:            monitor.KeyAvgResponseTime,
				Direction:         types.LowerIsBetter,
			})
		}
		result.RulesEvaluated++
		if eff, ok := values[monitor.KeyToolEfficiency]; ok && eff < efficiencyFloor {
			suggestions = append(suggestions, types.Suggestion{
				Target:            subject,
				Category:          CategoryEfficiency,
				ChangeDescription: fmt.Sprintf("streamline %s tool sequences (%.1f tool calls per minute)", subject, eff),
				ExpectedEffect:    "more progress per tool call",
				Priority:          5,
				Confidence:        0.6,
				Metric:            monitor.KeyToolEfficiency,
				Direction:         types.HigherIsBetter,
			})
		}
	}

	// Attach supporting principles and apply alert pressure
	active, err := e.registry.Active(ctx)
	if err != nil {
		result.Error = err.Error()
		e.logger.Warn("principle lookup failed during suggesting, ranking on rules alone", zap.Error(err))
	}

	alerted := make(map[string]bool)
	if mon != nil {
		for _, alert := range mon.Alerts {
			alerted[alert.Subject] = true
		}
	}

	for i := range suggestions {
		s := &suggestions[i]
		s.ID = uuid.New().String()

		situational := metrics[s.Target]
		if s.Target == CatalogTarget {
			situational = catalog
		}
		var strongest float64
		for _, p := range active {
			if principles.Matches(p, situational) {
				s.SupportingPrincipleIDs = append(s.SupportingPrincipleIDs, p.ID)
				if p.EvidenceStrength > strongest {
					strongest = p.EvidenceStrength
				}
			}
		}
		if strongest > 0 {
			s.Confidence = math.Min(0.99, s.Confidence+0.15*strongest)
		}
		if alerted[s.Target] && s.Priority < 10 {
			s.Priority++
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		wi, wj := suggestions[i].Weight(), suggestions[j].Weight()
		if wi != wj {
			return wi > wj
		}
		return suggestions[i].Priority > suggestions[j].Priority
	})
	if len(suggestions) > e.cfg.MaxSuggestions {
		suggestions = suggestions[:e.cfg.MaxSuggestions]
	}

	for _, s := range suggestions {
		if err := s.Validate(); err != nil {
			e.logger.Warn("dropping malformed suggestion", zap.Error(err))
			continue
		}
		result.Suggestions = append(result.Suggestions, s)
	}
	result.CompletedAt = time.Now().UTC()

	e.logger.Info("suggesting phase complete",
		zap.Int("rules_evaluated", result.RulesEvaluated),
		zap.Int("suggestions", len(result.Suggestions)))
	return result
}

// catalogMetrics derives ecosystem-level values from the observation
// summary, keyed to match principle condition vocabulary
func catalogMetrics(obs *types.ObservationResult) map[string]float64 {
	out := make(map[string]float64)
	if obs == nil {
		return out
	}

	var activeTools int
	var total int
	counts := make([]int, 0, len(obs.Subjects))
	for _, s := range obs.Subjects {
		if s.Invocations > 0 {
			activeTools++
			total += s.Invocations
			counts = append(counts, s.Invocations)
		}
	}
	out["unique_tools"] = float64(activeTools)
	if total > 0 {
		sort.Sort(sort.Reverse(sort.IntSlice(counts)))
		top := 0
		for i, c := range counts {
			if i == 5 {
				break
			}
			top += c
		}
		out["top_tool_share"] = float64(top) / float64(total)
	}
	return out
}
