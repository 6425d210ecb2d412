package risk

import (
	"fmt"

	"github.com/soclabs/caserisk/pkg/errors"
	"github.com/soclabs/caserisk/pkg/verdict"
)

// Default boost parameters: two independent analyzers agreeing on malicious
// is treated as stronger evidence than one.
const (
	DefaultBoostThreshold = 2
	DefaultBoostFactor    = 1.25
)

var (
	errLadderEmpty = errors.New("classification ladder is empty")
	errLadderOrder = errors.New("classification ladder thresholds must be strictly decreasing")
)

// Tables is the immutable coefficient set the calculator runs on. It is
// built once at startup and passed in explicitly so scoring stays a pure
// function of (inputs, tables).
type Tables struct {
	// VerdictWeights maps each verdict level to its likelihood weight.
	// Weights are monotone in severity; the unknown weight never exceeds
	// the safe weight.
	VerdictWeights map[verdict.Level]float64

	// AssetValues maps asset type -> dollar value (business profile).
	AssetValues map[string]float64

	// SensitivityMultipliers maps sensitivity level -> impact multiplier
	// (business profile).
	SensitivityMultipliers map[string]float64

	// ExposureWeights maps exposure type -> severity weight on a 0..100
	// scale (consumer profile).
	ExposureWeights map[string]float64

	// BusinessLadder classifies ALE dollar values.
	BusinessLadder Ladder

	// ConsumerLadder classifies recovery difficulty on the 0..100 scale.
	ConsumerLadder Ladder

	// BoostThreshold is the number of distinct analyzers reporting
	// malicious needed to apply the consensus boost. Zero disables it.
	BoostThreshold int

	// BoostFactor multiplies likelihood when the boost applies. The
	// boosted likelihood is capped at 1.0.
	BoostFactor float64
}

// DefaultTables returns the documented default coefficient set.
func DefaultTables() Tables {
	return Tables{
		VerdictWeights: map[verdict.Level]float64{
			verdict.Unknown:    0.05,
			verdict.Safe:       0.1,
			verdict.Info:       0.2,
			verdict.Suspicious: 0.8,
			verdict.Malicious:  1.0,
		},
		AssetValues: map[string]float64{
			"workstation":             5_000,
			"server":                  50_000,
			"database":                500_000,
			"critical_infrastructure": 2_000_000,
		},
		SensitivityMultipliers: map[string]float64{
			"public":       1,
			"internal":     2,
			"confidential": 10,
			"restricted":   20,
		},
		ExposureWeights: map[string]float64{
			"email_only":      15,
			"phone":           25,
			"credit_card":     40,
			"bank_account":    60,
			"drivers_license": 70,
			"medical_records": 80,
			"ssn":             85,
			"ssn_and_dl":      95,
		},
		BusinessLadder: Ladder{
			{Min: 500_000, Severity: SeverityCritical},
			{Min: 100_000, Severity: SeverityHigh},
			{Min: 10_000, Severity: SeverityMedium},
			{Min: 1_000, Severity: SeverityLow},
		},
		ConsumerLadder: Ladder{
			{Min: 80, Severity: SeverityCritical},
			{Min: 60, Severity: SeverityHigh},
			{Min: 35, Severity: SeverityMedium},
			{Min: 15, Severity: SeverityLow},
		},
		BoostThreshold: DefaultBoostThreshold,
		BoostFactor:    DefaultBoostFactor,
	}
}

// Validate checks the invariants the calculator relies on. It is called
// once at startup; the calculator itself never re-checks.
func (t Tables) Validate() error {
	for _, level := range verdict.AllLevels() {
		w, ok := t.VerdictWeights[level]
		if !ok {
			return errors.E(errors.KindInvalidInput, "risk.Tables",
				fmt.Sprintf("verdict level %q has no configured weight", level))
		}
		if w < 0 {
			return errors.E(errors.KindInvalidInput, "risk.Tables",
				fmt.Sprintf("verdict weight for %q is negative", level))
		}
	}

	// Monotone in severity: safe <= info <= suspicious <= malicious.
	order := []verdict.Level{verdict.Safe, verdict.Info, verdict.Suspicious, verdict.Malicious}
	for i := 1; i < len(order); i++ {
		if t.VerdictWeights[order[i-1]] > t.VerdictWeights[order[i]] {
			return errors.E(errors.KindInvalidInput, "risk.Tables",
				fmt.Sprintf("verdict weights not monotone: %q outweighs %q", order[i-1], order[i]))
		}
	}

	// Pending analysis never scores worse than confirmed benign.
	if t.VerdictWeights[verdict.Unknown] > t.VerdictWeights[verdict.Safe] {
		return errors.E(errors.KindInvalidInput, "risk.Tables",
			"unknown verdict weight exceeds safe weight")
	}

	for name, m := range map[string]map[string]float64{
		"asset values":            t.AssetValues,
		"sensitivity multipliers": t.SensitivityMultipliers,
		"exposure weights":        t.ExposureWeights,
	} {
		if len(m) == 0 {
			return errors.E(errors.KindInvalidInput, "risk.Tables",
				fmt.Sprintf("%s table is empty", name))
		}
		for key, v := range m {
			if v < 0 {
				return errors.E(errors.KindInvalidInput, "risk.Tables",
					fmt.Sprintf("%s entry %q is negative", name, key))
			}
		}
	}

	if err := t.BusinessLadder.Validate(); err != nil {
		return errors.E(errors.KindInvalidInput, "risk.Tables", "business ladder", err)
	}
	if err := t.ConsumerLadder.Validate(); err != nil {
		return errors.E(errors.KindInvalidInput, "risk.Tables", "consumer ladder", err)
	}

	if t.BoostThreshold < 0 {
		return errors.E(errors.KindInvalidInput, "risk.Tables", "boost threshold is negative")
	}
	if t.BoostThreshold > 0 && t.BoostFactor < 1 {
		return errors.E(errors.KindInvalidInput, "risk.Tables", "boost factor below 1 would shrink likelihood")
	}

	return nil
}
