package risk

import "strings"

// Severity is the classification label attached to a composite score.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// AllSeverities returns the labels in descending order.
func AllSeverities() []Severity {
	return []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}
}

// String returns the label text.
func (s Severity) String() string {
	return string(s)
}

// Priority returns the numeric rank of the label. Higher is worse.
func (s Severity) Priority() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// IsAtLeast returns true if this label ranks at least as high as the other.
func (s Severity) IsAtLeast(other Severity) bool {
	return s.Priority() >= other.Priority()
}

// ParseSeverity normalizes a config string to a Severity. Unknown strings
// mean SeverityInfo.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical
	case "high":
		return SeverityHigh
	case "medium", "moderate":
		return SeverityMedium
	case "low":
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Threshold is one rung of a classification ladder: scores at or above Min
// classify as Severity.
type Threshold struct {
	Min      float64  `json:"min"`
	Severity Severity `json:"severity"`
}

// Ladder is a descending set of thresholds. Classification walks top-down
// and the first rung met wins; scores below every rung are SeverityInfo.
type Ladder []Threshold

// Classify maps a composite score to its severity label. Comparison is >=
// at every rung, so each real value maps to exactly one label.
func (l Ladder) Classify(value float64) Severity {
	for _, t := range l {
		if value >= t.Min {
			return t.Severity
		}
	}
	return SeverityInfo
}

// Validate checks that the ladder is non-empty with strictly decreasing
// minimums, so rungs neither overlap nor leave gaps.
func (l Ladder) Validate() error {
	if len(l) == 0 {
		return errLadderEmpty
	}
	for i := 1; i < len(l); i++ {
		if l[i].Min >= l[i-1].Min {
			return errLadderOrder
		}
	}
	return nil
}
