package monitor

import "time"

// Threshold is an escalation ladder for one derived metric. Crossing
// Low raises a low-severity alert; each further step escalates.
type Threshold struct {
	Low      float64 `yaml:"low"`
	Medium   float64 `yaml:"medium"`
	High     float64 `yaml:"high"`
	Critical float64 `yaml:"critical"`
}

// Thresholds collects the escalation ladders the monitor evaluates.
// Rate and latency ladders breach upward; success and efficiency
// ladders breach downward.
type Thresholds struct {
	TaskSuccessRate   Threshold `yaml:"task_success_rate"`
	AvgResponseTime   Threshold `yaml:"avg_response_time"`
	ErrorRate         Threshold `yaml:"error_rate"`
	ToolEfficiency    Threshold `yaml:"tool_efficiency"`
	ContextSwitchRate Threshold `yaml:"context_switch_rate"`
}

// DefaultThresholds returns the standard escalation ladders
func DefaultThresholds() Thresholds {
	return Thresholds{
		TaskSuccessRate:   Threshold{Low: 0.95, Medium: 0.90, High: 0.80, Critical: 0.70},
		AvgResponseTime:   Threshold{Low: 60, Medium: 120, High: 180, Critical: 300},
		ErrorRate:         Threshold{Low: 0.05, Medium: 0.10, High: 0.15, Critical: 0.20},
		ToolEfficiency:    Threshold{Low: 2.0, Medium: 1.5, High: 1.0, Critical: 0.5},
		ContextSwitchRate: Threshold{Low: 2, Medium: 3, High: 4, Critical: 5},
	}
}

// Config holds monitor configuration
type Config struct {
	// Interval between background checks
	Interval time.Duration

	// CheckTimeout bounds a single check pass
	CheckTimeout time.Duration

	// Window is how far back evidence counts toward current health
	Window time.Duration

	// MinSamples is the fewest events a series needs before its health
	// is judged; below it the subject reports unknown
	MinSamples int

	// AlertTTL expires active alerts that have not re-raised
	AlertTTL time.Duration

	// ClearedHistory caps how many cleared alerts are kept
	ClearedHistory int

	// TrendTolerance is the relative change below which a trend reads
	// stable rather than improving or declining
	TrendTolerance float64

	Thresholds Thresholds
}

// DefaultConfig returns default monitor configuration
func DefaultConfig() *Config {
	return &Config{
		Interval:       30 * time.Second,
		CheckTimeout:   10 * time.Second,
		Window:         1 * time.Hour,
		MinSamples:     5,
		AlertTTL:       24 * time.Hour,
		ClearedHistory: 50,
		TrendTolerance: 0.05,
		Thresholds:     DefaultThresholds(),
	}
}
