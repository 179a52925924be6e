package principles

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/caelum-ai/kaizen/internal/types"
)

// Condition is one parsed trigger predicate, e.g. "error_rate > 0.05".
// The key names a derived metric; the comparison runs against whatever
// value the observation phase computed for it.
type Condition struct {
	Key       string
	Op        string
	Threshold float64
}

// ParseCondition parses a "<key> <op> <number>" predicate
func ParseCondition(s string) (*Condition, error) {
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return nil, &types.ValidationError{
			Field:  "condition",
			Reason: fmt.Sprintf("expected '<key> <op> <number>', got %q", s),
		}
	}

	op := fields[1]
	switch op {
	case ">", "<", ">=", "<=", "==":
	default:
		return nil, &types.ValidationError{
			Field:  "condition",
			Reason: fmt.Sprintf("unsupported operator %q in %q", op, s),
		}
	}

	threshold, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return nil, &types.ValidationError{
			Field:  "condition",
			Reason: fmt.Sprintf("threshold %q is not a number in %q", fields[2], s),
		}
	}

	return &Condition{Key: fields[0], Op: op, Threshold: threshold}, nil
}

// Holds evaluates the condition against observed metrics. The second
// return is false when the metric is absent, which never triggers.
func (c *Condition) Holds(metrics map[string]float64) (bool, bool) {
	value, ok := metrics[c.Key]
	if !ok {
		return false, false
	}

	switch c.Op {
	case ">":
		return value > c.Threshold, true
	case "<":
		return value < c.Threshold, true
	case ">=":
		return value >= c.Threshold, true
	case "<=":
		return value <= c.Threshold, true
	case "==":
		return value == c.Threshold, true
	}
	return false, false
}

// Matches reports whether any of the principle's conditions fire for
// the observed metrics. A principle speaks to a situation when at least
// one of its triggers does; unparseable conditions are skipped rather
// than failing the whole principle.
func Matches(p *types.Principle, metrics map[string]float64) bool {
	for _, raw := range p.Conditions {
		c, err := ParseCondition(raw)
		if err != nil {
			continue
		}
		if holds, ok := c.Holds(metrics); ok && holds {
			return true
		}
	}
	return false
}
