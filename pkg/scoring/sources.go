package scoring

import (
	"context"

	"github.com/soclabs/caserisk/pkg/cases"
	"github.com/soclabs/caserisk/pkg/report"
	"github.com/soclabs/caserisk/pkg/verdict"
)

// Filter narrows a case listing on the collaborator side.
type Filter struct {
	// Status filters by case status. Empty means open cases.
	Status string

	// Tags requires every listed case to carry each of these tags.
	// The fingerprint record, not a tag, decides whether a listed case
	// is actually re-scored.
	Tags []string

	// Limit caps the number of returned summaries. 0 means the source's
	// default page size.
	Limit int
}

// CaseSource is the case store the pipeline reads cases from and posts
// reports back to.
type CaseSource interface {
	// ListOpenCases returns the candidate cases for a polling pass.
	ListOpenCases(ctx context.Context, f Filter) ([]cases.CaseSummary, error)

	// GetCase fetches one case with its current content fingerprint.
	GetCase(ctx context.Context, id string) (cases.Case, error)

	// GetObservables fetches the observables attached to a case.
	GetObservables(ctx context.Context, id string) ([]cases.Observable, error)

	// PostReport publishes a rendered report back onto the case.
	PostReport(ctx context.Context, id string, p *report.Payload) error
}

// AnalyzerSource is the analyzer engine verdicts are gathered from.
type AnalyzerSource interface {
	// GetVerdicts returns the raw analyzer judgments recorded against one
	// observable. An observable no analyzer has run on yields an empty
	// slice, not an error.
	GetVerdicts(ctx context.Context, obs cases.Observable) ([]verdict.RawVerdict, error)
}
