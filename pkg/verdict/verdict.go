// Package verdict normalizes heterogeneous analyzer output into a small
// fixed set of verdict levels and derives the case-level verdict.
//
// Analyzers report taxonomy strings in their own vocabularies. Everything
// downstream (risk calculation, reporting) operates only on the normalized
// Level, never on raw strings.
package verdict

import (
	"sort"
	"strings"

	"github.com/soclabs/caserisk/pkg/logging"
)

// Level represents a normalized verdict level for an observable or a case.
type Level string

const (
	// Malicious - confirmed bad. Highest severity.
	Malicious Level = "malicious"

	// Suspicious - likely bad, needs confirmation.
	Suspicious Level = "suspicious"

	// Info - noteworthy but not a threat signal.
	Info Level = "info"

	// Safe - confirmed benign.
	Safe Level = "safe"

	// Unknown - no verdicts present (analysis pending or no analyzers ran).
	// Distinct from Safe: absence of data is not absence of risk.
	Unknown Level = "unknown"
)

// AllLevels returns all verdict levels in order of severity (highest first).
func AllLevels() []Level {
	return []Level{Malicious, Suspicious, Info, Safe, Unknown}
}

// String returns the string representation of the level.
func (l Level) String() string {
	return string(l)
}

// ParseLevel parses a level name. The boolean is false for strings that
// name no level; callers decide whether that is an error or a mapping gap.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "malicious":
		return Malicious, true
	case "suspicious":
		return Suspicious, true
	case "info":
		return Info, true
	case "safe":
		return Safe, true
	case "unknown":
		return Unknown, true
	default:
		return Unknown, false
	}
}

// Priority returns the numeric severity of the level. Higher is worse.
// Unknown sits below Safe: it only ever means "no data yet".
func (l Level) Priority() int {
	switch l {
	case Malicious:
		return 4
	case Suspicious:
		return 3
	case Info:
		return 2
	case Safe:
		return 1
	default:
		return 0
	}
}

// IsHigherThan returns true if this level is more severe than the other.
func (l Level) IsHigherThan(other Level) bool {
	return l.Priority() > other.Priority()
}

// IsAtLeast returns true if this level is at least as severe as the other.
func (l Level) IsAtLeast(other Level) bool {
	return l.Priority() >= other.Priority()
}

// Compare returns:
//
//	-1 if a < b (a is less severe)
//	 0 if a == b
//	+1 if a > b (a is more severe)
func Compare(a, b Level) int {
	pa, pb := a.Priority(), b.Priority()
	switch {
	case pa < pb:
		return -1
	case pa > pb:
		return 1
	default:
		return 0
	}
}

// Max returns the more severe of two levels.
func Max(a, b Level) Level {
	if a.IsHigherThan(b) {
		return a
	}
	return b
}

// RawVerdict is one analyzer's judgment as delivered by the analyzer engine,
// before normalization.
type RawVerdict struct {
	// Analyzer is the source analyzer name (e.g. "VirusTotal_GetReport").
	Analyzer string `json:"analyzer"`

	// Level is the analyzer-specific taxonomy string.
	Level string `json:"level"`
}

// Verdict is a normalized analyzer judgment.
type Verdict struct {
	// Analyzer is the source analyzer name.
	Analyzer string `json:"analyzer"`

	// Raw is the taxonomy string as reported.
	Raw string `json:"raw"`

	// Level is the normalized verdict level.
	Level Level `json:"level"`
}

// Counts tallies verdicts by normalized level.
type Counts struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Info       int `json:"info"`
	Safe       int `json:"safe"`
	Total      int `json:"total"`
}

// Increment increases the count for the given level.
func (c *Counts) Increment(level Level) {
	c.Total++
	switch level {
	case Malicious:
		c.Malicious++
	case Suspicious:
		c.Suspicious++
	case Info:
		c.Info++
	case Safe:
		c.Safe++
	}
}

// Summary is the case-level result of verdict extraction.
type Summary struct {
	// Level is the worst normalized level across all verdicts,
	// or Unknown when no verdicts are present.
	Level Level `json:"level"`

	// Counts tallies verdicts by level.
	Counts Counts `json:"counts"`

	// MaliciousAnalyzers lists the distinct analyzers that reported
	// Malicious, sorted. Drives the consensus boost and the report.
	MaliciousAnalyzers []string `json:"malicious_analyzers,omitempty"`
}

// Pending reports whether the case has no verdicts yet.
func (s Summary) Pending() bool {
	return s.Level == Unknown
}

// =============================================================================
// Extractor
// =============================================================================

// Extractor maps raw analyzer taxonomy strings to normalized levels and
// derives the case-level verdict ("worst-case wins").
type Extractor struct {
	// analyzer name (lowercased) -> raw level (lowercased) -> Level
	overrides map[string]map[string]Level

	log logging.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMapping adds a per-analyzer taxonomy mapping override.
func WithMapping(analyzer string, mapping map[string]Level) Option {
	return func(e *Extractor) {
		key := strings.ToLower(strings.TrimSpace(analyzer))
		m := make(map[string]Level, len(mapping))
		for raw, level := range mapping {
			m[strings.ToLower(strings.TrimSpace(raw))] = level
		}
		e.overrides[key] = m
	}
}

// WithLogger sets the logger used for mapping-gap calibration messages.
func WithLogger(log logging.Logger) Option {
	return func(e *Extractor) {
		if log != nil {
			e.log = log
		}
	}
}

// NewExtractor creates an Extractor with the default taxonomy mapping plus
// any configured per-analyzer overrides.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		overrides: make(map[string]map[string]Level),
		log:       &logging.NopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Normalize maps one raw verdict to a normalized Verdict. Unrecognized
// taxonomy strings map to Info, never to Malicious: a mapping gap must not
// inflate risk. Each gap is logged once per call for calibration.
func (e *Extractor) Normalize(rv RawVerdict) Verdict {
	raw := strings.ToLower(strings.TrimSpace(rv.Level))

	if m, ok := e.overrides[strings.ToLower(strings.TrimSpace(rv.Analyzer))]; ok {
		if level, ok := m[raw]; ok {
			return Verdict{Analyzer: rv.Analyzer, Raw: rv.Level, Level: level}
		}
	}

	if level, ok := defaultMapping[raw]; ok {
		return Verdict{Analyzer: rv.Analyzer, Raw: rv.Level, Level: level}
	}

	e.log.Warn("verdict: unmapped taxonomy level %q from analyzer %q, treating as info", rv.Level, rv.Analyzer)
	return Verdict{Analyzer: rv.Analyzer, Raw: rv.Level, Level: Info}
}

// NormalizeAll maps a batch of raw verdicts.
func (e *Extractor) NormalizeAll(rvs []RawVerdict) []Verdict {
	if len(rvs) == 0 {
		return nil
	}
	out := make([]Verdict, len(rvs))
	for i, rv := range rvs {
		out[i] = e.Normalize(rv)
	}
	return out
}

// Extract derives the case-level summary from all normalized verdicts across
// a case's observables. With no verdicts the level is Unknown.
func (e *Extractor) Extract(verdicts []Verdict) Summary {
	if len(verdicts) == 0 {
		return Summary{Level: Unknown}
	}

	sum := Summary{Level: Safe}
	malicious := make(map[string]struct{})

	for _, v := range verdicts {
		sum.Level = Max(sum.Level, v.Level)
		sum.Counts.Increment(v.Level)
		if v.Level == Malicious {
			malicious[v.Analyzer] = struct{}{}
		}
	}

	if len(malicious) > 0 {
		sum.MaliciousAnalyzers = make([]string, 0, len(malicious))
		for name := range malicious {
			sum.MaliciousAnalyzers = append(sum.MaliciousAnalyzers, name)
		}
		sort.Strings(sum.MaliciousAnalyzers)
	}

	return sum
}

// defaultMapping covers the canonical taxonomy plus the synonyms common
// analyzers use. Everything else is a mapping gap.
var defaultMapping = map[string]Level{
	"safe":          Safe,
	"clean":         Safe,
	"benign":        Safe,
	"harmless":      Safe,
	"info":          Info,
	"informational": Info,
	"none":          Info,
	"neutral":       Info,
	"suspicious":    Suspicious,
	"warning":       Suspicious,
	"anomalous":     Suspicious,
	"malicious":     Malicious,
}
