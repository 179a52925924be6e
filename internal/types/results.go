package types

import "time"

// PhaseResults collects the structured output of each cycle phase. A nil
// field means the phase has not run (or was not reached before failure).
type PhaseResults struct {
	Observation    *ObservationResult    `json:"observation,omitempty"`
	Monitoring     *MonitoringResult     `json:"monitoring,omitempty"`
	Suggestion     *SuggestionResult     `json:"suggestion,omitempty"`
	Implementation *ImplementationResult `json:"implementation,omitempty"`
	Evaluation     *EvaluationResult     `json:"evaluation,omitempty"`
}

// SubjectSummary is one subject's recent evidence activity. HasData is
// false when the subject was enumerated but had no evidence in the
// lookback window (analyzed-with-no-data, not an error).
type SubjectSummary struct {
	Subject     string  `json:"subject"`
	Kind        string  `json:"kind,omitempty"` // tool, workflow, or empty when only seen in evidence
	HasData     bool    `json:"has_data"`
	Invocations int     `json:"invocations"`
	Failures    int     `json:"failures"`
	ErrorRate   float64 `json:"error_rate"`
	MeanLatency float64 `json:"mean_latency"` // seconds
	EventCount  int     `json:"event_count"`
}

// VersionSkew notes a tool advertised at multiple versions across machines
type VersionSkew struct {
	Tool     string   `json:"tool"`
	Versions []string `json:"versions"`
}

// ObservationResult is the output of the observing phase
type ObservationResult struct {
	Subjects         []SubjectSummary `json:"subjects"`
	SubjectsAnalyzed int              `json:"subjects_analyzed"`
	SubjectsWithData int              `json:"subjects_with_data"`
	VersionSkews     []VersionSkew    `json:"version_skews,omitempty"`
	Error            string           `json:"error,omitempty"`
	CompletedAt      time.Time        `json:"completed_at"`
}

// MonitoringResult is the output of the monitoring phase: a snapshot of
// the performance monitor at the time the phase ran.
type MonitoringResult struct {
	State        MonitorState           `json:"state"`
	ActiveAlerts int                    `json:"active_alerts"`
	Alerts       []*Alert               `json:"alerts,omitempty"`
	Health       map[string]HealthState `json:"health,omitempty"`
	Error        string                 `json:"error,omitempty"`
	CompletedAt  time.Time              `json:"completed_at"`
}

// SuggestionResult is the output of the suggesting phase
type SuggestionResult struct {
	Suggestions    []Suggestion `json:"suggestions"`
	RulesEvaluated int          `json:"rules_evaluated"`
	Error          string       `json:"error,omitempty"`
	CompletedAt    time.Time    `json:"completed_at"`
}

// SuggestionOutcome records one suggestion's fate during implementation
type SuggestionOutcome struct {
	SuggestionID string        `json:"suggestion_id"`
	Target       string        `json:"target"`
	Applied      bool          `json:"applied"`
	Effect       string        `json:"effect,omitempty"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
}

// ImplementationResult is the output of the implementing phase. The phase
// always completes with a full tally; individual failures never abort it.
type ImplementationResult struct {
	TotalSuggestions int                 `json:"total_suggestions"`
	Implemented      int                 `json:"implemented"`
	Failed           int                 `json:"failed"`
	Skipped          int                 `json:"skipped"` // beyond the per-cycle cap
	Outcomes         []SuggestionOutcome `json:"outcomes,omitempty"`
	CompletedAt      time.Time           `json:"completed_at"`
}

// EvalOutcome records whether one implemented suggestion's target metric
// actually moved after the settling delay.
type EvalOutcome struct {
	SuggestionID string   `json:"suggestion_id"`
	Target       string   `json:"target"`
	Metric       string   `json:"metric"`
	Before       float64  `json:"before"`
	After        float64  `json:"after"`
	Improved     bool     `json:"improved"`
	Resampled    bool     `json:"resampled"` // false when no fresh evidence existed and apply success stood in
	PrincipleIDs []string `json:"principle_ids,omitempty"`
}

// EvaluationResult is the output of the evaluating phase
type EvaluationResult struct {
	SuccessRate      float64       `json:"success_rate"`
	Improved         int           `json:"improved"`
	Regressed        int           `json:"regressed"`
	Outcomes         []EvalOutcome `json:"outcomes,omitempty"`
	Reinforced       []string      `json:"reinforced,omitempty"`
	Weakened         []string      `json:"weakened,omitempty"`
	PatternRecorded  bool          `json:"pattern_recorded"`
	PrinciplesMinted []string      `json:"principles_minted,omitempty"`
	Error            string        `json:"error,omitempty"`
	CompletedAt      time.Time     `json:"completed_at"`
}
