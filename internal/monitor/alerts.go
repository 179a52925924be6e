package monitor

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caelum-ai/kaizen/internal/types"
)

// breach is one ladder crossing found during a check
type breach struct {
	subject   string
	condition string
	severity  types.AlertSeverity
	value     float64
	actions   []string
}

// evaluate walks every ladder against a subject's derived metrics
func (m *Monitor) evaluate(subject string, derived map[string]float64) []breach {
	m.mu.RLock()
	t := m.cfg.Thresholds
	m.mu.RUnlock()

	var breaches []breach

	add := func(key string, ladder Threshold, below bool, actions []string) {
		value, ok := derived[key]
		if !ok {
			return
		}
		severity, crossed := ladder.grade(value, below)
		if !crossed {
			return
		}
		op := ">"
		if below {
			op = "<"
		}
		breaches = append(breaches, breach{
			subject:   subject,
			condition: fmt.Sprintf("%s %s %g", key, op, ladder.Low),
			severity:  severity,
			value:     value,
			actions:   actions,
		})
	}

	add(KeyTaskSuccessRate, t.TaskSuccessRate, true, []string{
		"review recent task failures for a common cause",
		"reinforce principles that previously lifted success rate",
	})
	add(KeyAvgResponseTime, t.AvgResponseTime, false, []string{
		"profile slow tools in this workflow",
		"consider caching or batching repeated calls",
	})
	add(KeyErrorRate, t.ErrorRate, false, []string{
		"inspect the failing tool's recent errors",
		"route around the failing tool until it recovers",
	})
	add(KeyToolEfficiency, t.ToolEfficiency, true, []string{
		"simplify the tool sequence for this task type",
		"consolidate redundant lookups",
	})
	add(KeyContextSwitchRate, t.ContextSwitchRate, false, []string{
		"group related tools to cut context switches",
	})

	return breaches
}

// grade returns the deepest rung a value crosses. For "below" ladders
// the value breaches by falling under a rung; otherwise by exceeding it.
func (t Threshold) grade(value float64, below bool) (types.AlertSeverity, bool) {
	crossed := func(rung float64) bool {
		if below {
			return value < rung
		}
		return value > rung
	}

	switch {
	case crossed(t.Critical):
		return types.SeverityCritical, true
	case crossed(t.High):
		return types.SeverityHigh, true
	case crossed(t.Medium):
		return types.SeverityMedium, true
	case crossed(t.Low):
		return types.SeverityLow, true
	default:
		return "", false
	}
}

// reconcile applies one check's breaches to the alert set: new breaches
// raise alerts, repeat breaches refresh them, recovered conditions
// clear, and stale alerts expire. metrics is the fresh derive pass,
// used to tell recovery apart from a subject that merely went quiet.
func (m *Monitor) reconcile(now time.Time, breaches []breach, metrics map[string]map[string]float64) {
	m.mu.Lock()

	seen := make(map[string]bool, len(breaches))
	var notify []*types.Alert

	for _, b := range breaches {
		key := b.subject + "|" + b.condition
		seen[key] = true

		if existing, ok := m.active[key]; ok {
			// Same condition still breached: refresh instead of duplicating
			escalated := b.severity.Rank() > existing.Severity.Rank()
			existing.Severity = b.severity
			existing.Message = b.message()
			existing.RaisedAt = now
			if escalated {
				copied := *existing
				notify = append(notify, &copied)
				m.logger.Warn("alert escalated",
					zap.String("subject", b.subject),
					zap.String("condition", b.condition),
					zap.String("severity", string(b.severity)))
			}
			continue
		}

		alert := &types.Alert{
			ID:               uuid.New().String(),
			Subject:          b.subject,
			Severity:         b.severity,
			Condition:        b.condition,
			Message:          b.message(),
			SuggestedActions: b.actions,
			RaisedAt:         now,
		}
		m.active[key] = alert
		copied := *alert
		notify = append(notify, &copied)
		m.logger.Warn("alert raised",
			zap.String("subject", b.subject),
			zap.String("condition", b.condition),
			zap.String("severity", string(b.severity)))
	}

	for key, alert := range m.active {
		recovered := !seen[key] && len(metrics[alert.Subject]) > 0
		expired := now.Sub(alert.RaisedAt) > m.cfg.AlertTTL
		if recovered || expired {
			cleared := now
			alert.ClearedAt = &cleared
			m.pushCleared(alert)
			delete(m.active, key)
			m.logger.Info("alert cleared",
				zap.String("subject", alert.Subject),
				zap.String("condition", alert.Condition),
				zap.Bool("expired", expired))
		}
	}

	onAlert := m.onAlert
	m.mu.Unlock()

	// Callbacks run outside the lock; subscribers may call back in
	if onAlert != nil {
		for _, alert := range notify {
			onAlert(alert)
		}
	}
}

func (b breach) message() string {
	return fmt.Sprintf("%s breached %s (value %.3g)", b.subject, b.condition, b.value)
}

// pushCleared appends to the bounded cleared-alert history
func (m *Monitor) pushCleared(alert *types.Alert) {
	m.cleared = append(m.cleared, alert)
	if len(m.cleared) > m.cfg.ClearedHistory {
		m.cleared = m.cleared[len(m.cleared)-m.cfg.ClearedHistory:]
	}
}

// ActiveAlerts returns the currently active alerts
func (m *Monitor) ActiveAlerts() []*types.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.Alert, 0, len(m.active))
	for _, alert := range m.active {
		copied := *alert
		out = append(out, &copied)
	}
	return out
}

// ClearedAlerts returns the recent cleared-alert history, oldest first
func (m *Monitor) ClearedAlerts() []*types.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.Alert, len(m.cleared))
	for i, alert := range m.cleared {
		copied := *alert
		out[i] = &copied
	}
	return out
}
