package types

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validPrinciple() *Principle {
	return &Principle{
		ID:               "dynamic_adaptation",
		Title:            "Adapt behavior from observed patterns",
		Category:         CategoryAdaptation,
		Conditions:       []string{"error_rate > 0.05"},
		EvidenceStrength: 0.8,
		Prior:            0.8,
		CreatedAt:        time.Now(),
		LastReinforcedAt: time.Now(),
	}
}

func TestPrincipleValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Principle)
		wantErr string
	}{
		{"valid", func(p *Principle) {}, ""},
		{"missing id", func(p *Principle) { p.ID = "" }, "id is required"},
		{"id with whitespace", func(p *Principle) { p.ID = "two words" }, "whitespace"},
		{"missing title", func(p *Principle) { p.Title = "  " }, "title is required"},
		{"title too long", func(p *Principle) { p.Title = strings.Repeat("x", 201) }, "200 characters"},
		{"bad category", func(p *Principle) { p.Category = "vibes" }, "invalid category"},
		{"prior out of range", func(p *Principle) { p.Prior = 1.5 }, "prior must be in [0,1]"},
		{"strength out of range", func(p *Principle) { p.EvidenceStrength = -0.1 }, "evidence_strength must be in [0,1]"},
		{"empty condition", func(p *Principle) { p.Conditions = []string{"error_rate > 0.05", " "} }, "condition 1 is empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPrinciple()
			tt.mutate(p)
			err := p.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want substring %q", err.Error(), tt.wantErr)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected ValidationError, got %T", err)
			}
		})
	}
}

func TestEvidenceEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   EvidenceEvent
		wantErr bool
	}{
		{
			name:  "neutral event without principle",
			event: EvidenceEvent{Subject: "tool-x", Metric: MetricError, Value: 1, Polarity: PolarityNeutral},
		},
		{
			name:  "supporting event with principle",
			event: EvidenceEvent{Subject: "tool-x", Metric: MetricOutcome, PrincipleID: "p1", Polarity: PolaritySupporting},
		},
		{
			name:    "missing subject",
			event:   EvidenceEvent{Metric: MetricError, Polarity: PolarityNeutral},
			wantErr: true,
		},
		{
			name:    "missing metric",
			event:   EvidenceEvent{Subject: "tool-x", Polarity: PolarityNeutral},
			wantErr: true,
		},
		{
			name:    "bad polarity",
			event:   EvidenceEvent{Subject: "tool-x", Metric: MetricError, Polarity: "sideways"},
			wantErr: true,
		},
		{
			name:    "supporting without principle",
			event:   EvidenceEvent{Subject: "tool-x", Metric: MetricOutcome, Polarity: PolaritySupporting},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnumIsValid(t *testing.T) {
	categories := []PrincipleCategory{
		CategoryOrganization, CategoryCompatibility, CategoryDecisionMaking,
		CategoryAdaptation, CategoryHierarchy, CategoryOpenEnded,
	}
	for _, c := range categories {
		if !c.IsValid() {
			t.Errorf("category %s should be valid", c)
		}
	}
	if PrincipleCategory("architecture").IsValid() {
		t.Error("unknown category should be invalid")
	}

	phases := []CyclePhase{
		PhaseIdle, PhaseObserving, PhaseMonitoring,
		PhaseSuggesting, PhaseImplementing, PhaseEvaluating,
	}
	for _, p := range phases {
		if !p.IsValid() {
			t.Errorf("phase %s should be valid", p)
		}
	}
	if CyclePhase("reflecting").IsValid() {
		t.Error("unknown phase should be invalid")
	}

	if !RunRunning.IsValid() || !RunCompleted.IsValid() || !RunFailed.IsValid() {
		t.Error("run statuses should be valid")
	}
	if RunStatus("paused").IsValid() {
		t.Error("unknown run status should be invalid")
	}
}

func TestCyclePhaseNext(t *testing.T) {
	order := []CyclePhase{
		PhaseIdle, PhaseObserving, PhaseMonitoring,
		PhaseSuggesting, PhaseImplementing, PhaseEvaluating, PhaseIdle,
	}
	for i := 0; i < len(order)-1; i++ {
		if got := order[i].Next(); got != order[i+1] {
			t.Errorf("%s.Next() = %s, want %s", order[i], got, order[i+1])
		}
	}
}

func TestSeverityRank(t *testing.T) {
	if SeverityCritical.Rank() <= SeverityHigh.Rank() {
		t.Error("critical should outrank high")
	}
	if SeverityHigh.Rank() <= SeverityMedium.Rank() {
		t.Error("high should outrank medium")
	}
	if SeverityMedium.Rank() <= SeverityLow.Rank() {
		t.Error("medium should outrank low")
	}
	if AlertSeverity("unknown").Rank() != 0 {
		t.Error("unknown severity should rank 0")
	}
}

func TestMetricDirectionImproved(t *testing.T) {
	tests := []struct {
		name     string
		dir      MetricDirection
		before   float64
		after    float64
		noise    float64
		improved bool
	}{
		{"latency dropped", LowerIsBetter, 100, 80, 0.05, true},
		{"latency within noise", LowerIsBetter, 100, 97, 0.05, false},
		{"latency rose", LowerIsBetter, 100, 120, 0.05, false},
		{"success rose", HigherIsBetter, 0.5, 0.6, 0.05, true},
		{"success within noise", HigherIsBetter, 0.5, 0.51, 0.05, false},
		{"success fell", HigherIsBetter, 0.5, 0.4, 0.05, false},
		{"zero baseline higher better", HigherIsBetter, 0, 0.3, 0.05, true},
		{"zero baseline lower better", LowerIsBetter, 0, 0, 0.05, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dir.Improved(tt.before, tt.after, tt.noise); got != tt.improved {
				t.Errorf("Improved(%g, %g, %g) = %v, want %v", tt.before, tt.after, tt.noise, got, tt.improved)
			}
		})
	}
}

func TestSuggestionValidateAndWeight(t *testing.T) {
	s := &Suggestion{
		ID:                "s1",
		Target:            "tool-x",
		Category:          "error_handling",
		ChangeDescription: "add retries around flaky calls",
		Priority:          9,
		Confidence:        0.9,
		Metric:            "error_rate",
		Direction:         LowerIsBetter,
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
	if got := s.Weight(); got != 8.1 {
		t.Errorf("Weight() = %g, want 8.1", got)
	}

	s.Priority = 11
	if err := s.Validate(); err == nil {
		t.Error("priority 11 should be rejected")
	}
	s.Priority = 9
	s.Target = ""
	if err := s.Validate(); err == nil {
		t.Error("empty target should be rejected")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	wrapped := &StorageError{Op: "append", Err: errors.New("disk full")}
	if !IsStorage(wrapped) {
		t.Error("IsStorage should match StorageError")
	}
	if IsStorage(errors.New("plain")) {
		t.Error("IsStorage should not match plain errors")
	}

	ext := &ExternalCallError{Target: "dev-workflow", Err: errors.New("timeout")}
	if !strings.Contains(ext.Error(), "dev-workflow") {
		t.Errorf("ExternalCallError message missing target: %s", ext.Error())
	}
	if errors.Unwrap(ext) == nil {
		t.Error("ExternalCallError should unwrap")
	}

	ve := &ValidationError{Field: "priority", Reason: "out of range"}
	if !IsValidation(ve) {
		t.Error("IsValidation should match ValidationError")
	}
	if ve.Error() != "priority: out of range" {
		t.Errorf("unexpected message: %s", ve.Error())
	}
}

func TestAlertActive(t *testing.T) {
	a := &Alert{Subject: "tool-x", Condition: "error_rate>0.20", Severity: SeverityCritical, RaisedAt: time.Now()}
	if !a.Active() {
		t.Error("alert without cleared_at should be active")
	}
	now := time.Now()
	a.ClearedAt = &now
	if a.Active() {
		t.Error("cleared alert should not be active")
	}
}
