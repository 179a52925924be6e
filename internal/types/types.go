package types

import (
	"fmt"
	"strings"
	"time"
)

// Principle is a learned, evidence-weighted rule guiding optimization
// decisions. Strength is always recomputed from the evidence events that
// reference the principle; nothing outside that recompute may set it.
type Principle struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	Description      string            `json:"description,omitempty"`
	Category         PrincipleCategory `json:"category"`
	Conditions       []string          `json:"conditions"`
	Actions          []string          `json:"actions,omitempty"`
	EvidenceStrength float64           `json:"evidence_strength"`
	Prior            float64           `json:"prior"`
	Supporting       float64           `json:"supporting"`    // age-weighted supporting evidence mass
	Contradicting    float64           `json:"contradicting"` // age-weighted contradicting evidence mass
	Retired          bool              `json:"retired"`
	CreatedAt        time.Time         `json:"created_at"`
	LastReinforcedAt time.Time         `json:"last_reinforced_at"`
}

// Validate checks if the principle has valid field values
func (p *Principle) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return &ValidationError{Field: "id", Reason: "id is required"}
	}
	if strings.ContainsAny(p.ID, " \t\n") {
		return &ValidationError{Field: "id", Reason: "id must not contain whitespace"}
	}
	if strings.TrimSpace(p.Title) == "" {
		return &ValidationError{Field: "title", Reason: "title is required"}
	}
	if len(p.Title) > 200 {
		return &ValidationError{Field: "title", Reason: fmt.Sprintf("title must be 200 characters or less (got %d)", len(p.Title))}
	}
	if !p.Category.IsValid() {
		return &ValidationError{Field: "category", Reason: fmt.Sprintf("invalid category: %s", p.Category)}
	}
	if p.Prior < 0 || p.Prior > 1 {
		return &ValidationError{Field: "prior", Reason: fmt.Sprintf("prior must be in [0,1] (got %g)", p.Prior)}
	}
	if p.EvidenceStrength < 0 || p.EvidenceStrength > 1 {
		return &ValidationError{Field: "evidence_strength", Reason: fmt.Sprintf("evidence_strength must be in [0,1] (got %g)", p.EvidenceStrength)}
	}
	for i, cond := range p.Conditions {
		if strings.TrimSpace(cond) == "" {
			return &ValidationError{Field: "conditions", Reason: fmt.Sprintf("condition %d is empty", i)}
		}
	}
	return nil
}

// PrincipleCategory classifies what aspect of the system a principle governs
type PrincipleCategory string

const (
	CategoryOrganization   PrincipleCategory = "organization"
	CategoryCompatibility  PrincipleCategory = "compatibility"
	CategoryDecisionMaking PrincipleCategory = "decision_making"
	CategoryAdaptation     PrincipleCategory = "adaptation"
	CategoryHierarchy      PrincipleCategory = "hierarchy"
	CategoryOpenEnded      PrincipleCategory = "open_ended"
)

// IsValid checks if the category value is valid
func (c PrincipleCategory) IsValid() bool {
	switch c {
	case CategoryOrganization, CategoryCompatibility, CategoryDecisionMaking,
		CategoryAdaptation, CategoryHierarchy, CategoryOpenEnded:
		return true
	}
	return false
}

// Recommendation is the categorical verdict on a principle's effectiveness
type Recommendation string

const (
	RecommendationKeep   Recommendation = "keep"
	RecommendationRevise Recommendation = "revise"
	RecommendationRetire Recommendation = "retire"
)

// EvidenceEvent is one immutable observation about a tool or workflow.
// Events are append-only: once recorded they are never updated or deleted.
type EvidenceEvent struct {
	ID          string           `json:"id"`
	Subject     string           `json:"subject"`
	Metric      string           `json:"metric"`
	Value       float64          `json:"value"`
	Timestamp   time.Time        `json:"timestamp"`
	PrincipleID string           `json:"principle_id,omitempty"` // principle this event supports or contradicts
	RunID       string           `json:"run_id,omitempty"`       // cycle run that produced the event
	Polarity    EvidencePolarity `json:"polarity"`
}

// Validate checks if the event has valid field values
func (e *EvidenceEvent) Validate() error {
	if strings.TrimSpace(e.Subject) == "" {
		return &ValidationError{Field: "subject", Reason: "subject is required"}
	}
	if strings.TrimSpace(e.Metric) == "" {
		return &ValidationError{Field: "metric", Reason: "metric is required"}
	}
	if !e.Polarity.IsValid() {
		return &ValidationError{Field: "polarity", Reason: fmt.Sprintf("invalid polarity: %s", e.Polarity)}
	}
	if e.PrincipleID == "" && e.Polarity != PolarityNeutral {
		return &ValidationError{Field: "polarity", Reason: "supporting/contradicting events must reference a principle"}
	}
	return nil
}

// EvidencePolarity describes how an event counts toward the principle it references
type EvidencePolarity string

const (
	PolaritySupporting    EvidencePolarity = "supporting"
	PolarityContradicting EvidencePolarity = "contradicting"
	PolarityNeutral       EvidencePolarity = "neutral"
)

// IsValid checks if the polarity value is valid
func (p EvidencePolarity) IsValid() bool {
	switch p {
	case PolaritySupporting, PolarityContradicting, PolarityNeutral:
		return true
	}
	return false
}

// Common evidence metrics. Collaborators may push any metric name; these
// are the ones the monitor and cycle phases interpret.
const (
	MetricToolInvocation = "tool_invocation"       // value = call latency in seconds, one event per call
	MetricError          = "error"                 // value = 1, one event per failure
	MetricTaskSuccess    = "task_success"          // value = 1 success / 0 failure, subject = task type
	MetricTaskDuration   = "task_duration_seconds" // value = wall time, subject = task type
	MetricContextSwitch  = "context_switch"        // value = switches during the task, subject = task type
	MetricToolsPerMinute = "tools_per_minute"      // value = tool calls / task minutes, subject = task type
	MetricPatternSuccess = "pattern_success"       // value = run success rate, subject = pattern key
	MetricOutcome        = "principle_outcome"     // value = metric delta, reinforcement feedback
)

// EventFilter selects evidence events. Zero fields match everything.
type EventFilter struct {
	Subject     string
	Metric      string
	PrincipleID string
	RunID       string
	After       time.Time
	Before      time.Time
	Limit       int
}

// EventAggregate summarizes a set of evidence events
type EventAggregate struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Sum   float64 `json:"sum"`
}

// PrincipleFilter selects principles from the registry
type PrincipleFilter struct {
	MinStrength    float64
	Category       PrincipleCategory // empty matches all categories
	IncludeRetired bool
}

// CycleRun is one execution of the five-phase optimization loop
type CycleRun struct {
	RunID             string       `json:"run_id"`
	StartedAt         time.Time    `json:"started_at"`
	FinishedAt        *time.Time   `json:"finished_at,omitempty"`
	Status            RunStatus    `json:"status"`
	FailureReason     string       `json:"failure_reason,omitempty"`
	PhaseResults      PhaseResults `json:"phase_results"`
	PrinciplesLearned []string     `json:"principles_learned,omitempty"`
}

// RunStatus represents the state of a cycle run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// IsValid checks if the run status value is valid
func (s RunStatus) IsValid() bool {
	switch s {
	case RunRunning, RunCompleted, RunFailed:
		return true
	}
	return false
}

// CyclePhase identifies a state of the optimization cycle state machine
type CyclePhase string

const (
	PhaseIdle         CyclePhase = "idle"
	PhaseObserving    CyclePhase = "observing"
	PhaseMonitoring   CyclePhase = "monitoring"
	PhaseSuggesting   CyclePhase = "suggesting"
	PhaseImplementing CyclePhase = "implementing"
	PhaseEvaluating   CyclePhase = "evaluating"
)

// IsValid checks if the phase value is valid
func (p CyclePhase) IsValid() bool {
	switch p {
	case PhaseIdle, PhaseObserving, PhaseMonitoring, PhaseSuggesting,
		PhaseImplementing, PhaseEvaluating:
		return true
	}
	return false
}

// Next returns the phase that follows p on the success path. The final
// evaluating phase returns to idle.
func (p CyclePhase) Next() CyclePhase {
	switch p {
	case PhaseIdle:
		return PhaseObserving
	case PhaseObserving:
		return PhaseMonitoring
	case PhaseMonitoring:
		return PhaseSuggesting
	case PhaseSuggesting:
		return PhaseImplementing
	case PhaseImplementing:
		return PhaseEvaluating
	default:
		return PhaseIdle
	}
}

// Alert is raised by the performance monitor when a threshold is breached.
// Active alerts are unique per (subject, condition); re-raising refreshes
// RaisedAt instead of duplicating.
type Alert struct {
	ID               string        `json:"id"`
	Subject          string        `json:"subject"`
	Severity         AlertSeverity `json:"severity"`
	Condition        string        `json:"condition"`
	Message          string        `json:"message"`
	SuggestedActions []string      `json:"suggested_actions,omitempty"`
	RaisedAt         time.Time     `json:"raised_at"`
	ClearedAt        *time.Time    `json:"cleared_at,omitempty"`
}

// Active reports whether the alert has not been cleared
func (a *Alert) Active() bool {
	return a.ClearedAt == nil
}

// AlertSeverity ranks how urgent an alert is
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// IsValid checks if the severity value is valid
func (s AlertSeverity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank returns an ordering value for severity comparisons (higher is worse)
func (s AlertSeverity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// MetricDirection says which way a metric improves
type MetricDirection string

const (
	HigherIsBetter MetricDirection = "higher_better"
	LowerIsBetter  MetricDirection = "lower_better"
)

// Improved reports whether moving from before to after is an improvement
// beyond the noise threshold (a relative fraction, e.g. 0.05 for 5%).
func (d MetricDirection) Improved(before, after, noise float64) bool {
	if before == 0 {
		if d == HigherIsBetter {
			return after > 0
		}
		return false
	}
	delta := (after - before) / before
	if d == HigherIsBetter {
		return delta > noise
	}
	return delta < -noise
}

// Suggestion is a proposed configuration change produced by the suggesting
// phase. Suggestions live only inside the cycle run that produced them.
type Suggestion struct {
	ID                     string          `json:"id"`
	Target                 string          `json:"target"`
	Category               string          `json:"category"`
	ChangeDescription      string          `json:"change_description"`
	ExpectedEffect         string          `json:"expected_effect"`
	SupportingPrincipleIDs []string        `json:"supporting_principle_ids,omitempty"`
	Priority               int             `json:"priority"`   // 1..10
	Confidence             float64         `json:"confidence"` // [0,1]
	Metric                 string          `json:"metric"`     // metric expected to move
	Direction              MetricDirection `json:"direction"`
}

// Validate checks if the suggestion has valid field values
func (s *Suggestion) Validate() error {
	if strings.TrimSpace(s.Target) == "" {
		return &ValidationError{Field: "target", Reason: "target is required"}
	}
	if strings.TrimSpace(s.ChangeDescription) == "" {
		return &ValidationError{Field: "change_description", Reason: "change_description is required"}
	}
	if s.Priority < 1 || s.Priority > 10 {
		return &ValidationError{Field: "priority", Reason: fmt.Sprintf("priority must be between 1 and 10 (got %d)", s.Priority)}
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return &ValidationError{Field: "confidence", Reason: fmt.Sprintf("confidence must be in [0,1] (got %g)", s.Confidence)}
	}
	return nil
}

// Weight is the ranking key for suggestions
func (s *Suggestion) Weight() float64 {
	return float64(s.Priority) * s.Confidence
}

// HealthState describes one subject's monitored health
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
	HealthUnknown   HealthState = "unknown"
)

// MonitorState describes the monitor's overall condition
type MonitorState string

const (
	MonitorActive   MonitorState = "active"
	MonitorDegraded MonitorState = "degraded"
	MonitorStopped  MonitorState = "stopped"
)
