package verdict

import (
	"reflect"
	"testing"
)

func TestLevel_Priority(t *testing.T) {
	tests := []struct {
		level    Level
		expected int
	}{
		{Malicious, 4},
		{Suspicious, 3},
		{Info, 2},
		{Safe, 1},
		{Unknown, 0},
		{Level("invalid"), 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			if got := tt.level.Priority(); got != tt.expected {
				t.Errorf("Level.Priority() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLevel_Ordering(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Level
		expected bool
	}{
		{"Malicious > Suspicious", Malicious, Suspicious, true},
		{"Suspicious > Info", Suspicious, Info, true},
		{"Info > Safe", Info, Safe, true},
		{"Safe > Unknown", Safe, Unknown, true},
		{"Same level", Suspicious, Suspicious, false},
		{"Safe not > Malicious", Safe, Malicious, false},
		{"Unknown not > Safe", Unknown, Safe, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.IsHigherThan(tt.b); got != tt.expected {
				t.Errorf("IsHigherThan() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	if Compare(Safe, Malicious) != -1 {
		t.Error("Compare(Safe, Malicious) should be -1")
	}
	if Compare(Malicious, Safe) != 1 {
		t.Error("Compare(Malicious, Safe) should be 1")
	}
	if Compare(Info, Info) != 0 {
		t.Error("Compare(Info, Info) should be 0")
	}
}

func TestMax(t *testing.T) {
	if got := Max(Safe, Suspicious); got != Suspicious {
		t.Errorf("Max(Safe, Suspicious) = %v, want Suspicious", got)
	}
	if got := Max(Malicious, Info); got != Malicious {
		t.Errorf("Max(Malicious, Info) = %v, want Malicious", got)
	}
}

func TestExtractor_Normalize(t *testing.T) {
	e := NewExtractor()

	tests := []struct {
		name     string
		raw      RawVerdict
		expected Level
	}{
		{"canonical malicious", RawVerdict{Analyzer: "VirusTotal_GetReport", Level: "malicious"}, Malicious},
		{"canonical suspicious", RawVerdict{Analyzer: "OTXQuery", Level: "suspicious"}, Suspicious},
		{"canonical safe", RawVerdict{Analyzer: "OTXQuery", Level: "safe"}, Safe},
		{"canonical info", RawVerdict{Analyzer: "OTXQuery", Level: "info"}, Info},
		{"mixed case", RawVerdict{Analyzer: "OTXQuery", Level: "MALICIOUS"}, Malicious},
		{"whitespace", RawVerdict{Analyzer: "OTXQuery", Level: "  suspicious  "}, Suspicious},
		{"synonym clean", RawVerdict{Analyzer: "Shodan", Level: "clean"}, Safe},
		{"synonym benign", RawVerdict{Analyzer: "Shodan", Level: "benign"}, Safe},
		{"synonym warning", RawVerdict{Analyzer: "Shodan", Level: "warning"}, Suspicious},
		{"unmapped falls to info, never malicious", RawVerdict{Analyzer: "CustomAnalyzer", Level: "severity-9000"}, Info},
		{"empty string falls to info", RawVerdict{Analyzer: "CustomAnalyzer", Level: ""}, Info},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Normalize(tt.raw)
			if got.Level != tt.expected {
				t.Errorf("Normalize(%q) = %v, want %v", tt.raw.Level, got.Level, tt.expected)
			}
			if got.Raw != tt.raw.Level {
				t.Errorf("Normalize should preserve raw string, got %q", got.Raw)
			}
			if got.Analyzer != tt.raw.Analyzer {
				t.Errorf("Normalize should preserve analyzer name, got %q", got.Analyzer)
			}
		})
	}
}

func TestExtractor_NormalizeWithOverride(t *testing.T) {
	e := NewExtractor(
		WithMapping("Yeti", map[string]Level{
			"hit":    Malicious,
			"no-hit": Safe,
		}),
	)

	// The override applies to its analyzer, matched case-insensitively.
	if got := e.Normalize(RawVerdict{Analyzer: "yeti", Level: "HIT"}); got.Level != Malicious {
		t.Errorf("override mapping: got %v, want Malicious", got.Level)
	}
	if got := e.Normalize(RawVerdict{Analyzer: "Yeti", Level: "no-hit"}); got.Level != Safe {
		t.Errorf("override mapping: got %v, want Safe", got.Level)
	}

	// Other analyzers keep the default table.
	if got := e.Normalize(RawVerdict{Analyzer: "OTXQuery", Level: "hit"}); got.Level != Info {
		t.Errorf("non-override analyzer: got %v, want Info", got.Level)
	}

	// An analyzer with an override still falls back to the default table
	// for strings its override does not mention.
	if got := e.Normalize(RawVerdict{Analyzer: "Yeti", Level: "malicious"}); got.Level != Malicious {
		t.Errorf("override fallback: got %v, want Malicious", got.Level)
	}
}

func TestExtractor_Extract(t *testing.T) {
	e := NewExtractor()

	tests := []struct {
		name          string
		verdicts      []Verdict
		wantLevel     Level
		wantMalicious []string
	}{
		{
			name:      "no verdicts means unknown, not safe",
			verdicts:  nil,
			wantLevel: Unknown,
		},
		{
			name: "worst wins",
			verdicts: []Verdict{
				{Analyzer: "A", Level: Safe},
				{Analyzer: "B", Level: Suspicious},
				{Analyzer: "C", Level: Info},
			},
			wantLevel: Suspicious,
		},
		{
			name: "all safe stays safe",
			verdicts: []Verdict{
				{Analyzer: "A", Level: Safe},
				{Analyzer: "B", Level: Safe},
			},
			wantLevel: Safe,
		},
		{
			name: "distinct malicious analyzers collected and sorted",
			verdicts: []Verdict{
				{Analyzer: "Zulu", Level: Malicious},
				{Analyzer: "Alpha", Level: Malicious},
				{Analyzer: "Zulu", Level: Malicious},
				{Analyzer: "Beta", Level: Safe},
			},
			wantLevel:     Malicious,
			wantMalicious: []string{"Alpha", "Zulu"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum := e.Extract(tt.verdicts)
			if sum.Level != tt.wantLevel {
				t.Errorf("Extract().Level = %v, want %v", sum.Level, tt.wantLevel)
			}
			if !reflect.DeepEqual(sum.MaliciousAnalyzers, tt.wantMalicious) {
				t.Errorf("Extract().MaliciousAnalyzers = %v, want %v", sum.MaliciousAnalyzers, tt.wantMalicious)
			}
		})
	}
}

func TestExtractor_ExtractCounts(t *testing.T) {
	e := NewExtractor()

	sum := e.Extract([]Verdict{
		{Analyzer: "A", Level: Malicious},
		{Analyzer: "B", Level: Suspicious},
		{Analyzer: "C", Level: Suspicious},
		{Analyzer: "D", Level: Info},
		{Analyzer: "E", Level: Safe},
	})

	if sum.Counts.Malicious != 1 || sum.Counts.Suspicious != 2 || sum.Counts.Info != 1 || sum.Counts.Safe != 1 {
		t.Errorf("Counts = %+v, want 1/2/1/1", sum.Counts)
	}
	if sum.Counts.Total != 5 {
		t.Errorf("Counts.Total = %d, want 5", sum.Counts.Total)
	}
}

func TestSummary_Pending(t *testing.T) {
	e := NewExtractor()

	if !e.Extract(nil).Pending() {
		t.Error("empty extraction should be pending")
	}
	if e.Extract([]Verdict{{Analyzer: "A", Level: Safe}}).Pending() {
		t.Error("extraction with verdicts should not be pending")
	}
}
