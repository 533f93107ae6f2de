package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Condition is a parsed "field op value" health expression for metrics
// probes, e.g. "up == 1" or "queue_size < 1000". The field names a metric
// family in the scraped exposition; its values are summed before comparison.
type Condition struct {
	Field     string
	Op        string
	Threshold float64
}

// ParseCondition parses expr. Validation calls it so a malformed condition
// rejects the config file as a whole; the metrics probe calls it again at
// construction, where it can no longer fail.
func ParseCondition(expr string) (Condition, error) {
	parts := strings.Fields(expr)
	if len(parts) != 3 {
		return Condition{}, fmt.Errorf("condition %q must have the form \"field op value\"", expr)
	}

	switch parts[1] {
	case "==", "!=", ">", "<", ">=", "<=":
	default:
		return Condition{}, fmt.Errorf("condition %q: unknown operator %q", expr, parts[1])
	}

	threshold, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return Condition{}, fmt.Errorf("condition %q: value is not numeric: %w", expr, err)
	}

	return Condition{Field: parts[0], Op: parts[1], Threshold: threshold}, nil
}

// Holds reports whether v satisfies the condition.
func (c Condition) Holds(v float64) bool {
	switch c.Op {
	case "==":
		return v == c.Threshold
	case "!=":
		return v != c.Threshold
	case ">":
		return v > c.Threshold
	case "<":
		return v < c.Threshold
	case ">=":
		return v >= c.Threshold
	case "<=":
		return v <= c.Threshold
	default:
		return false
	}
}
