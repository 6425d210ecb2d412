// Package risk turns a resolved profile and a verdict summary into a
// composite risk score with a severity label. Scoring is a pure function
// of its inputs and the coefficient tables; the calculator holds no
// per-case state and is safe for concurrent use.
package risk

import (
	"fmt"
	"time"

	"github.com/soclabs/caserisk/pkg/errors"
	"github.com/soclabs/caserisk/pkg/profile"
	"github.com/soclabs/caserisk/pkg/verdict"
)

// Unit identifies what a composite score measures.
type Unit string

const (
	// UnitUSD means the composite is an annualized loss expectancy in
	// dollars (business profile).
	UnitUSD Unit = "usd"

	// UnitIndex means the composite is a recovery difficulty index on a
	// 0..100 scale (consumer profile).
	UnitIndex Unit = "index"
)

// Score is the outcome of one scoring run. It carries the inputs and every
// intermediate factor so reports can show the full calculation.
type Score struct {
	Profile profile.Profile `json:"profile"`
	Summary verdict.Summary `json:"summary"`

	// BaseWeight is the verdict weight before any consensus boost.
	BaseWeight float64 `json:"base_weight"`

	// Likelihood is the effective weight used in the composite, after the
	// consensus boost and the 1.0 cap.
	Likelihood   float64 `json:"likelihood"`
	BoostApplied bool    `json:"boost_applied"`

	// Business factors; zero for consumer profiles.
	AssetValue            float64 `json:"asset_value,omitempty"`
	SensitivityMultiplier float64 `json:"sensitivity_multiplier,omitempty"`

	// Consumer factor; zero for business profiles.
	ExposureWeight float64 `json:"exposure_weight,omitempty"`

	Composite float64   `json:"composite"`
	Unit      Unit      `json:"unit"`
	Severity  Severity  `json:"severity"`
	ScoredAt  time.Time `json:"scored_at"`
}

// Calculator scores cases against a fixed coefficient set.
type Calculator struct {
	tables Tables
	now    func() time.Time
}

// CalculatorOption configures a Calculator.
type CalculatorOption func(*Calculator)

// WithClock overrides the timestamp source. Used in tests.
func WithClock(now func() time.Time) CalculatorOption {
	return func(c *Calculator) {
		c.now = now
	}
}

// NewCalculator validates the tables and returns a calculator bound to
// them. Invalid tables fail here, never mid-score.
func NewCalculator(tables Tables, opts ...CalculatorOption) (*Calculator, error) {
	if err := tables.Validate(); err != nil {
		return nil, err
	}
	c := &Calculator{
		tables: tables,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Tables returns the coefficient set the calculator was built with.
func (c *Calculator) Tables() Tables {
	return c.tables
}

// Score computes the composite risk score for a resolved profile and
// verdict summary. Business profiles yield a dollar loss expectancy,
// consumer profiles a 0..100 recovery difficulty index. The profile must
// have been resolved against the same tables; an attribute missing from
// the tables is reported as a resolution error.
func (c *Calculator) Score(p profile.Profile, sum verdict.Summary) (Score, error) {
	const op = "risk.Score"

	base := c.tables.VerdictWeights[sum.Level]
	likelihood, boosted := c.boost(base, sum)

	s := Score{
		Profile:      p,
		Summary:      sum,
		BaseWeight:   base,
		Likelihood:   likelihood,
		BoostApplied: boosted,
		ScoredAt:     c.now().UTC(),
	}

	switch p.Kind {
	case profile.Business:
		assetValue, ok := c.tables.AssetValues[p.AssetType]
		if !ok {
			return Score{}, errors.E(errors.KindResolution, op,
				fmt.Sprintf("asset type %q has no configured value", p.AssetType))
		}
		multiplier, ok := c.tables.SensitivityMultipliers[p.Sensitivity]
		if !ok {
			return Score{}, errors.E(errors.KindResolution, op,
				fmt.Sprintf("sensitivity %q has no configured multiplier", p.Sensitivity))
		}
		s.AssetValue = assetValue
		s.SensitivityMultiplier = multiplier
		s.Composite = likelihood * assetValue * multiplier
		s.Unit = UnitUSD
		s.Severity = c.tables.BusinessLadder.Classify(s.Composite)

	case profile.Consumer:
		weight, ok := c.tables.ExposureWeights[p.ExposureType]
		if !ok {
			return Score{}, errors.E(errors.KindResolution, op,
				fmt.Sprintf("exposure type %q has no configured weight", p.ExposureType))
		}
		s.ExposureWeight = weight
		s.Composite = likelihood * weight
		s.Unit = UnitIndex
		s.Severity = c.tables.ConsumerLadder.Classify(s.Composite)

	default:
		return Score{}, errors.E(errors.KindInvalidInput, op,
			fmt.Sprintf("unsupported profile kind %q", p.Kind))
	}

	return s, nil
}

// boost applies the analyzer consensus boost: when enough distinct
// analyzers independently report malicious, the likelihood is raised by
// the configured factor, capped at 1.0.
func (c *Calculator) boost(base float64, sum verdict.Summary) (float64, bool) {
	if c.tables.BoostThreshold <= 0 {
		return base, false
	}
	if len(sum.MaliciousAnalyzers) < c.tables.BoostThreshold {
		return base, false
	}
	boosted := base * c.tables.BoostFactor
	if boosted > 1.0 {
		boosted = 1.0
	}
	return boosted, true
}
