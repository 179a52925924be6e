// Package monitor watches the evidence stream for threshold breaches.
// It runs independently of the optimization cycle: the cycle's
// monitoring phase reads the monitor's state, it does not drive it.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/caelum-ai/kaizen/internal/evidence"
	"github.com/caelum-ai/kaizen/internal/types"
)

// Derived metric keys, matching the keys principle conditions use
const (
	KeyTaskSuccessRate   = "task_success_rate"
	KeyAvgResponseTime   = "avg_response_time"
	KeyErrorRate         = "error_rate"
	KeyToolEfficiency    = "tool_efficiency"
	KeyContextSwitchRate = "context_switch_rate"
	KeyMeanLatency       = "mean_latency"
)

// Monitor periodically derives per-subject metrics from evidence and
// raises alerts when escalation ladders are crossed
type Monitor struct {
	cfg      *Config
	evidence *evidence.Store
	logger   *zap.Logger

	mu        sync.RWMutex
	active    map[string]*types.Alert // keyed subject + "|" + condition
	cleared   []*types.Alert
	health    map[string]types.HealthState
	metrics   map[string]map[string]float64 // per-subject derived values
	state     types.MonitorState
	lastCheck time.Time
	lastErr   error
	onAlert   func(*types.Alert)
	running   bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a monitor. Call Start to begin background checks, or
// drive RunCheck directly for synchronous use.
func New(ev *evidence.Store, cfg *Config, logger *zap.Logger) *Monitor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 10 * time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = 1 * time.Hour
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 5
	}
	if cfg.ClearedHistory <= 0 {
		cfg.ClearedHistory = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Monitor{
		cfg:      cfg,
		evidence: ev,
		logger:   logger,
		active:   make(map[string]*types.Alert),
		health:   make(map[string]types.HealthState),
		metrics:  make(map[string]map[string]float64),
		state:    types.MonitorStopped,
	}
}

// OnAlert registers a callback invoked when a new alert is raised or an
// existing one escalates in severity. Must be called before Start.
func (m *Monitor) OnAlert(fn func(*types.Alert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAlert = fn
}

// Start launches the background check loop
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("monitor already running")
	}

	m.running = true
	m.state = types.MonitorActive
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go m.loop()

	m.logger.Info("performance monitor started",
		zap.Duration("interval", m.cfg.Interval),
		zap.Duration("window", m.cfg.Window))
	return nil
}

// Stop halts the background loop and waits for it to exit
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.state = types.MonitorStopped
	close(m.stopCh)
	doneCh := m.doneCh
	m.mu.Unlock()

	<-doneCh
	m.logger.Info("performance monitor stopped")
}

func (m *Monitor) loop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CheckTimeout)
			if err := m.RunCheck(ctx); err != nil {
				m.logger.Warn("monitor check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// RunCheck performs one full evaluation pass: derive metrics for every
// recently active subject, walk the escalation ladders, reconcile
// alerts, and rebuild the health map. A check that cannot read evidence
// marks the monitor degraded but keeps prior alert state.
func (m *Monitor) RunCheck(ctx context.Context) error {
	now := time.Now().UTC()
	since := now.Add(-m.cfg.Window)

	subjects, err := m.evidence.Subjects(ctx, since)
	if err != nil {
		m.mu.Lock()
		if m.running {
			m.state = types.MonitorDegraded
		}
		m.lastErr = err
		m.mu.Unlock()
		return err
	}

	health := make(map[string]types.HealthState, len(subjects))
	metrics := make(map[string]map[string]float64, len(subjects))
	var breaches []breach
	for _, subject := range subjects {
		derived, samples, err := m.derive(ctx, subject, since)
		if err != nil {
			m.mu.Lock()
			if m.running {
				m.state = types.MonitorDegraded
			}
			m.lastErr = err
			m.mu.Unlock()
			return err
		}
		metrics[subject] = derived

		if samples < m.cfg.MinSamples {
			health[subject] = types.HealthUnknown
			continue
		}

		subjectBreaches := m.evaluate(subject, derived)
		breaches = append(breaches, subjectBreaches...)
		health[subject] = healthFor(subjectBreaches)
	}

	m.reconcile(now, breaches, metrics)

	m.mu.Lock()
	m.health = health
	m.metrics = metrics
	m.lastCheck = now
	m.lastErr = nil
	if m.running {
		m.state = types.MonitorActive
	}
	m.mu.Unlock()

	return nil
}

// derive computes the per-subject metric values the ladders understand.
// The returned sample count is the series volume backing the values.
func (m *Monitor) derive(ctx context.Context, subject string, since time.Time) (map[string]float64, int, error) {
	derived := make(map[string]float64)
	samples := 0

	// Task-style series: mean is the derived value directly
	taskSeries := map[string]string{
		types.MetricTaskSuccess:    KeyTaskSuccessRate,
		types.MetricTaskDuration:   KeyAvgResponseTime,
		types.MetricContextSwitch:  KeyContextSwitchRate,
		types.MetricToolsPerMinute: KeyToolEfficiency,
	}
	for metric, key := range taskSeries {
		agg, err := m.evidence.Aggregate(ctx, subject, metric, since, time.Time{})
		if err != nil {
			return nil, 0, err
		}
		if agg.Count > 0 {
			derived[key] = agg.Mean
			samples += agg.Count
		}
	}

	// Tool-style series: error rate needs the invocation count
	invocations, err := m.evidence.Aggregate(ctx, subject, types.MetricToolInvocation, since, time.Time{})
	if err != nil {
		return nil, 0, err
	}
	if invocations.Count > 0 {
		derived[KeyMeanLatency] = invocations.Mean
		samples += invocations.Count

		errorsAgg, err := m.evidence.Aggregate(ctx, subject, types.MetricError, since, time.Time{})
		if err != nil {
			return nil, 0, err
		}
		derived[KeyErrorRate] = float64(errorsAgg.Count) / float64(invocations.Count)
	}

	return derived, samples, nil
}

// Metrics returns the derived values from the last check, per subject
func (m *Monitor) Metrics() map[string]map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]map[string]float64, len(m.metrics))
	for subject, values := range m.metrics {
		copied := make(map[string]float64, len(values))
		for k, v := range values {
			copied[k] = v
		}
		out[subject] = copied
	}
	return out
}

// Health returns the per-subject health from the last check
func (m *Monitor) Health() map[string]types.HealthState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]types.HealthState, len(m.health))
	for k, v := range m.health {
		out[k] = v
	}
	return out
}

// State reports the monitor's own condition
func (m *Monitor) State() types.MonitorState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Window reports the observation window checks sample over
func (m *Monitor) Window() time.Duration {
	return m.cfg.Window
}

// Snapshot captures the monitor's current view for a cycle's monitoring
// phase
func (m *Monitor) Snapshot() *types.MonitoringResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := &types.MonitoringResult{
		State:       m.state,
		Health:      make(map[string]types.HealthState, len(m.health)),
		CompletedAt: time.Now().UTC(),
	}
	for k, v := range m.health {
		result.Health[k] = v
	}
	for _, alert := range m.active {
		copied := *alert
		result.Alerts = append(result.Alerts, &copied)
	}
	result.ActiveAlerts = len(result.Alerts)
	if m.lastErr != nil {
		result.Error = m.lastErr.Error()
	}
	return result
}

// Status returns a human-oriented status snapshot
func (m *Monitor) Status() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := map[string]interface{}{
		"state":          string(m.state),
		"active_alerts":  len(m.active),
		"cleared_alerts": len(m.cleared),
		"subjects":       len(m.health),
		"check_interval": m.cfg.Interval.String(),
		"window":         m.cfg.Window.String(),
	}
	if !m.lastCheck.IsZero() {
		status["last_check"] = m.lastCheck.Format(time.RFC3339)
	}
	if m.lastErr != nil {
		status["last_error"] = m.lastErr.Error()
	}
	return status
}

// ApplyThresholds swaps the escalation ladders. Takes effect on the
// next check; active alerts reconcile against the new ladders then.
func (m *Monitor) ApplyThresholds(t Thresholds) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Thresholds = t
	m.logger.Info("monitor thresholds updated")
}

// Trend classifies a metric's movement as improving, declining, or
// stable by comparing the last half of the window against the first.
func (m *Monitor) Trend(ctx context.Context, subject, metric string, direction types.MetricDirection) (string, error) {
	now := time.Now().UTC()
	mid := now.Add(-m.cfg.Window / 2)
	start := now.Add(-m.cfg.Window)

	earlier, err := m.evidence.Aggregate(ctx, subject, metric, start, mid)
	if err != nil {
		return "", err
	}
	recent, err := m.evidence.Aggregate(ctx, subject, metric, mid, time.Time{})
	if err != nil {
		return "", err
	}

	if earlier.Count == 0 || recent.Count == 0 {
		return "stable", nil
	}

	if direction.Improved(earlier.Mean, recent.Mean, m.cfg.TrendTolerance) {
		return "improving", nil
	}
	// The opposite direction beyond tolerance is a decline
	opposite := types.LowerIsBetter
	if direction == types.LowerIsBetter {
		opposite = types.HigherIsBetter
	}
	if opposite.Improved(earlier.Mean, recent.Mean, m.cfg.TrendTolerance) {
		return "declining", nil
	}
	return "stable", nil
}

// healthFor maps a subject's breaches to a health state
func healthFor(breaches []breach) types.HealthState {
	worst := 0
	for _, b := range breaches {
		if r := b.severity.Rank(); r > worst {
			worst = r
		}
	}
	switch {
	case worst >= types.SeverityHigh.Rank():
		return types.HealthUnhealthy
	case worst >= types.SeverityLow.Rank():
		return types.HealthDegraded
	default:
		return types.HealthHealthy
	}
}
