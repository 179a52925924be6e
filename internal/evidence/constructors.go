package evidence

import (
	"time"

	"github.com/google/uuid"

	"github.com/caelum-ai/kaizen/internal/types"
)

// NewToolInvocationEvent records one tool call with its latency in seconds.
func NewToolInvocationEvent(tool string, latencySeconds float64) *types.EvidenceEvent {
	return &types.EvidenceEvent{
		ID:        uuid.New().String(),
		Subject:   tool,
		Metric:    types.MetricToolInvocation,
		Value:     latencySeconds,
		Timestamp: time.Now().UTC(),
		Polarity:  types.PolarityNeutral,
	}
}

// NewErrorEvent records one failed call for a tool.
func NewErrorEvent(tool string) *types.EvidenceEvent {
	return &types.EvidenceEvent{
		ID:        uuid.New().String(),
		Subject:   tool,
		Metric:    types.MetricError,
		Value:     1,
		Timestamp: time.Now().UTC(),
		Polarity:  types.PolarityNeutral,
	}
}

// NewTaskOutcomeEvent records one task completion. Value is 1 for
// success, 0 for failure, so a mean over the series is a success rate.
func NewTaskOutcomeEvent(taskType string, success bool) *types.EvidenceEvent {
	value := 0.0
	if success {
		value = 1.0
	}
	return &types.EvidenceEvent{
		ID:        uuid.New().String(),
		Subject:   taskType,
		Metric:    types.MetricTaskSuccess,
		Value:     value,
		Timestamp: time.Now().UTC(),
		Polarity:  types.PolarityNeutral,
	}
}

// NewTaskDurationEvent records how long a task took, in seconds.
func NewTaskDurationEvent(taskType string, seconds float64) *types.EvidenceEvent {
	return &types.EvidenceEvent{
		ID:        uuid.New().String(),
		Subject:   taskType,
		Metric:    types.MetricTaskDuration,
		Value:     seconds,
		Timestamp: time.Now().UTC(),
		Polarity:  types.PolarityNeutral,
	}
}

// NewContextSwitchEvent records how many context switches a task needed.
func NewContextSwitchEvent(taskType string, switches float64) *types.EvidenceEvent {
	return &types.EvidenceEvent{
		ID:        uuid.New().String(),
		Subject:   taskType,
		Metric:    types.MetricContextSwitch,
		Value:     switches,
		Timestamp: time.Now().UTC(),
		Polarity:  types.PolarityNeutral,
	}
}

// NewToolRateEvent records tool calls per minute for a task.
func NewToolRateEvent(taskType string, toolsPerMinute float64) *types.EvidenceEvent {
	return &types.EvidenceEvent{
		ID:        uuid.New().String(),
		Subject:   taskType,
		Metric:    types.MetricToolsPerMinute,
		Value:     toolsPerMinute,
		Timestamp: time.Now().UTC(),
		Polarity:  types.PolarityNeutral,
	}
}

// NewSupportingEvent records an observation that backs a principle.
// Value carries the observed metric delta where one exists.
func NewSupportingEvent(principleID, subject, metric string, value float64, runID string) *types.EvidenceEvent {
	return &types.EvidenceEvent{
		ID:          uuid.New().String(),
		Subject:     subject,
		Metric:      metric,
		Value:       value,
		Timestamp:   time.Now().UTC(),
		PrincipleID: principleID,
		RunID:       runID,
		Polarity:    types.PolaritySupporting,
	}
}

// NewContradictingEvent records an observation that cuts against a principle.
func NewContradictingEvent(principleID, subject, metric string, value float64, runID string) *types.EvidenceEvent {
	return &types.EvidenceEvent{
		ID:          uuid.New().String(),
		Subject:     subject,
		Metric:      metric,
		Value:       value,
		Timestamp:   time.Now().UTC(),
		PrincipleID: principleID,
		RunID:       runID,
		Polarity:    types.PolarityContradicting,
	}
}

// NewPatternEvent records a recurring success pattern observed during a
// cycle run. Enough of these across independent runs mint a principle.
func NewPatternEvent(patternKey string, successRate float64, runID string) *types.EvidenceEvent {
	return &types.EvidenceEvent{
		ID:        uuid.New().String(),
		Subject:   patternKey,
		Metric:    types.MetricPatternSuccess,
		Value:     successRate,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		Polarity:  types.PolarityNeutral,
	}
}
