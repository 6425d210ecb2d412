package risk

import (
	"testing"

	"github.com/soclabs/caserisk/pkg/verdict"
)

func TestDefaultTablesValid(t *testing.T) {
	tables := DefaultTables()
	if err := tables.Validate(); err != nil {
		t.Fatalf("DefaultTables().Validate() = %v, want nil", err)
	}
}

func TestDefaultTablesValues(t *testing.T) {
	tables := DefaultTables()

	if got := tables.VerdictWeights[verdict.Suspicious]; got != 0.8 {
		t.Errorf("suspicious weight = %v, want 0.8", got)
	}
	if got := tables.VerdictWeights[verdict.Malicious]; got != 1.0 {
		t.Errorf("malicious weight = %v, want 1.0", got)
	}
	if got := tables.AssetValues["server"]; got != 50_000 {
		t.Errorf("server value = %v, want 50000", got)
	}
	if got := tables.SensitivityMultipliers["confidential"]; got != 10 {
		t.Errorf("confidential multiplier = %v, want 10", got)
	}
	if got := tables.ExposureWeights["ssn"]; got != 85 {
		t.Errorf("ssn weight = %v, want 85", got)
	}
}

func TestTablesValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Tables)
		wantErr bool
	}{
		{
			name:    "defaults pass",
			mutate:  func(*Tables) {},
			wantErr: false,
		},
		{
			name: "missing verdict weight",
			mutate: func(tb *Tables) {
				delete(tb.VerdictWeights, verdict.Unknown)
			},
			wantErr: true,
		},
		{
			name: "negative verdict weight",
			mutate: func(tb *Tables) {
				tb.VerdictWeights[verdict.Safe] = -0.1
			},
			wantErr: true,
		},
		{
			name: "non-monotone verdict weights",
			mutate: func(tb *Tables) {
				tb.VerdictWeights[verdict.Safe] = 0.5
				tb.VerdictWeights[verdict.Info] = 0.2
			},
			wantErr: true,
		},
		{
			name: "unknown outweighs safe",
			mutate: func(tb *Tables) {
				tb.VerdictWeights[verdict.Unknown] = 0.2
				tb.VerdictWeights[verdict.Safe] = 0.1
			},
			wantErr: true,
		},
		{
			name: "empty asset values",
			mutate: func(tb *Tables) {
				tb.AssetValues = nil
			},
			wantErr: true,
		},
		{
			name: "negative exposure weight",
			mutate: func(tb *Tables) {
				tb.ExposureWeights["ssn"] = -85
			},
			wantErr: true,
		},
		{
			name: "empty business ladder",
			mutate: func(tb *Tables) {
				tb.BusinessLadder = nil
			},
			wantErr: true,
		},
		{
			name: "consumer ladder out of order",
			mutate: func(tb *Tables) {
				tb.ConsumerLadder = Ladder{
					{Min: 60, Severity: SeverityHigh},
					{Min: 80, Severity: SeverityCritical},
				}
			},
			wantErr: true,
		},
		{
			name: "negative boost threshold",
			mutate: func(tb *Tables) {
				tb.BoostThreshold = -1
			},
			wantErr: true,
		},
		{
			name: "boost factor below one",
			mutate: func(tb *Tables) {
				tb.BoostFactor = 0.5
			},
			wantErr: true,
		},
		{
			name: "boost disabled ignores factor",
			mutate: func(tb *Tables) {
				tb.BoostThreshold = 0
				tb.BoostFactor = 0
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tables := DefaultTables()
			tt.mutate(&tables)
			err := tables.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLadderClassifyBusiness(t *testing.T) {
	ladder := DefaultTables().BusinessLadder

	tests := []struct {
		name  string
		value float64
		want  Severity
	}{
		{"far above critical", 10_000_000, SeverityCritical},
		{"critical boundary", 500_000, SeverityCritical},
		{"just below critical", 499_999.99, SeverityHigh},
		{"high boundary", 100_000, SeverityHigh},
		{"just below high", 99_999, SeverityMedium},
		{"medium boundary", 10_000, SeverityMedium},
		{"just below medium", 9_999, SeverityLow},
		{"low boundary", 1_000, SeverityLow},
		{"just below low", 999, SeverityInfo},
		{"zero", 0, SeverityInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ladder.Classify(tt.value); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestLadderClassifyConsumer(t *testing.T) {
	ladder := DefaultTables().ConsumerLadder

	tests := []struct {
		name  string
		value float64
		want  Severity
	}{
		{"maximum", 100, SeverityCritical},
		{"critical boundary", 80, SeverityCritical},
		{"just below critical", 79.9, SeverityHigh},
		{"high boundary", 60, SeverityHigh},
		{"medium boundary", 35, SeverityMedium},
		{"low boundary", 15, SeverityLow},
		{"just below low", 14.9, SeverityInfo},
		{"zero", 0, SeverityInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ladder.Classify(tt.value); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestLadderValidate(t *testing.T) {
	tests := []struct {
		name    string
		ladder  Ladder
		wantErr bool
	}{
		{"valid", Ladder{{Min: 100, Severity: SeverityHigh}, {Min: 10, Severity: SeverityLow}}, false},
		{"single rung", Ladder{{Min: 50, Severity: SeverityMedium}}, false},
		{"empty", Ladder{}, true},
		{"nil", nil, true},
		{"equal mins", Ladder{{Min: 50, Severity: SeverityHigh}, {Min: 50, Severity: SeverityLow}}, true},
		{"ascending", Ladder{{Min: 10, Severity: SeverityLow}, {Min: 100, Severity: SeverityHigh}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ladder.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSeverityPriority(t *testing.T) {
	all := AllSeverities()
	for i := 1; i < len(all); i++ {
		if all[i-1].Priority() <= all[i].Priority() {
			t.Errorf("priority of %v (%d) not above %v (%d)",
				all[i-1], all[i-1].Priority(), all[i], all[i].Priority())
		}
	}

	if !SeverityHigh.IsAtLeast(SeverityMedium) {
		t.Error("high should rank at least medium")
	}
	if !SeverityHigh.IsAtLeast(SeverityHigh) {
		t.Error("high should rank at least high")
	}
	if SeverityLow.IsAtLeast(SeverityCritical) {
		t.Error("low should not rank at least critical")
	}
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Severity
	}{
		{"critical", "critical", SeverityCritical},
		{"mixed case", "HIGH", SeverityHigh},
		{"moderate alias", "moderate", SeverityMedium},
		{"whitespace", "  low  ", SeverityLow},
		{"unknown string", "catastrophic", SeverityInfo},
		{"empty", "", SeverityInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseSeverity(tt.input); got != tt.want {
				t.Errorf("ParseSeverity(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
