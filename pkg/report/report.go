// Package report renders scoring outcomes into the payload posted back to
// the case store. Rendering is deterministic: the same case and score
// always produce byte-identical output, including the report id, so
// at-least-once posting after a crash re-sends an identical report.
package report

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/soclabs/caserisk/pkg/cases"
	"github.com/soclabs/caserisk/pkg/profile"
	"github.com/soclabs/caserisk/pkg/risk"
	"github.com/soclabs/caserisk/pkg/verdict"
)

// reportNamespace is the fixed UUID namespace for report ids. Report ids
// are v5 UUIDs over (case id, fingerprint), so re-rendering the same case
// state yields the same id.
var reportNamespace = uuid.MustParse("8a2b7f63-4c11-4a09-9d3a-5a290f7b3e61")

// ID derives the deterministic report id for a case content version.
func ID(caseID, fingerprint string) string {
	return uuid.NewSHA1(reportNamespace, []byte(caseID+"|"+fingerprint)).String()
}

// Payload is the structured report posted to the case store and archived
// with the scoring record.
type Payload struct {
	ReportID string `json:"report_id"`
	CaseID   string `json:"case_id"`

	CaseTitle    string `json:"case_title"`
	CaseSeverity string `json:"case_severity"`
	TLP          string `json:"tlp"`

	Severity     risk.Severity `json:"severity"`
	Composite    float64       `json:"composite"`
	Unit         risk.Unit     `json:"unit"`
	Likelihood   float64       `json:"likelihood"`
	BoostApplied bool          `json:"boost_applied,omitempty"`

	// Pending marks reports produced before any analyzer verdict arrived.
	Pending bool `json:"pending,omitempty"`

	Profile profile.Profile `json:"profile"`
	Verdict verdict.Summary `json:"verdict"`

	Actions []string `json:"actions"`

	Observables []ObservableRow `json:"observables,omitempty"`

	// GeneratedAt records when the score was computed. It stays out of
	// the rendered body so re-posts for one fingerprint stay identical;
	// the case store timestamps the log entry itself.
	GeneratedAt time.Time `json:"generated_at"`

	// Markdown is the rendered body for the case store's task log.
	Markdown string `json:"markdown"`
}

// ObservableRow is one line of the report's observable breakdown.
type ObservableRow struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	TLP      string `json:"tlp"`
	Verdicts string `json:"verdicts"`
}

// Renderer turns scores into report payloads.
type Renderer struct {
	actions  Actions
	tmplText string
	tmpl     *template.Template
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithActions overrides the recommended-actions table.
func WithActions(a Actions) RendererOption {
	return func(r *Renderer) {
		r.actions = a
	}
}

// WithTemplate overrides the markdown body template. The template receives
// the Payload and may use the "upper" and "composite" helpers.
func WithTemplate(text string) RendererOption {
	return func(r *Renderer) {
		r.tmplText = text
	}
}

// NewRenderer builds a renderer. Template parse errors surface here, not
// at render time.
func NewRenderer(opts ...RendererOption) (*Renderer, error) {
	r := &Renderer{
		actions:  DefaultActions(),
		tmplText: markdownTemplate,
	}
	for _, opt := range opts {
		opt(r)
	}

	funcMap := template.FuncMap{
		"upper":     func(v any) string { return strings.ToUpper(fmt.Sprint(v)) },
		"composite": formatComposite,
	}

	tmpl, err := template.New("report").Funcs(funcMap).Parse(r.tmplText)
	if err != nil {
		return nil, fmt.Errorf("parse report template: %w", err)
	}
	r.tmpl = tmpl

	return r, nil
}

// Render produces the report payload for one scored case. The observable
// slice feeds the breakdown table; rows are sorted so rendering stays
// independent of fetch order.
func (r *Renderer) Render(c cases.Case, observables []cases.Observable, score risk.Score) (*Payload, error) {
	p := &Payload{
		ReportID:     ID(c.ID, c.Fingerprint),
		CaseID:       c.ID,
		CaseTitle:    c.Title,
		CaseSeverity: cases.SeverityName(c.Severity),
		TLP:          c.TLP.String(),
		Severity:     score.Severity,
		Composite:    score.Composite,
		Unit:         score.Unit,
		Likelihood:   score.Likelihood,
		BoostApplied: score.BoostApplied,
		Pending:      score.Summary.Level == verdict.Unknown,
		Profile:      score.Profile,
		Verdict:      score.Summary,
		Actions:      r.actions.For(score.Profile.Kind, score.Severity),
		Observables:  observableRows(observables),
		GeneratedAt:  score.ScoredAt,
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, p); err != nil {
		return nil, fmt.Errorf("execute report template for case %s: %w", c.ID, err)
	}
	p.Markdown = buf.String()

	return p, nil
}

// observableRows flattens observables into report rows, one per
// observable, with per-analyzer verdicts joined into a single cell.
func observableRows(observables []cases.Observable) []ObservableRow {
	if len(observables) == 0 {
		return nil
	}

	rows := make([]ObservableRow, len(observables))
	for i, o := range observables {
		verdicts := make([]string, len(o.Verdicts))
		for j, v := range o.Verdicts {
			verdicts[j] = fmt.Sprintf("%s: %s", v.Analyzer, v.Level)
		}
		sort.Strings(verdicts)

		cell := strings.Join(verdicts, ", ")
		if cell == "" {
			cell = "none yet"
		}

		rows[i] = ObservableRow{
			Type:     string(o.Type),
			Value:    o.Value,
			TLP:      o.TLP.String(),
			Verdicts: cell,
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Type != rows[j].Type {
			return rows[i].Type < rows[j].Type
		}
		return rows[i].Value < rows[j].Value
	})
	return rows
}

// formatComposite renders the numeric score with its unit for humans.
func formatComposite(u risk.Unit, v float64) string {
	switch u {
	case risk.UnitUSD:
		return fmt.Sprintf("estimated annual loss $%.0f", v)
	case risk.UnitIndex:
		return fmt.Sprintf("recovery difficulty %.0f/100", v)
	default:
		return fmt.Sprintf("%.2f", v)
	}
}
