package sources

import (
	"context"
	"net/url"

	"github.com/soclabs/caserisk/pkg/cases"
	"github.com/soclabs/caserisk/pkg/scoring"
	"github.com/soclabs/caserisk/pkg/verdict"
)

// jobSuccess is the terminal status of a finished analyzer job.
const jobSuccess = "Success"

// AnalyzerClient is the analyzer engine client. It speaks the
// Cortex-style REST dialect: job searches by observable, job reports
// with taxonomy summaries.
type AnalyzerClient struct {
	*Client
}

var _ scoring.AnalyzerSource = (*AnalyzerClient)(nil)

// NewAnalyzerClient creates an analyzer engine client.
func NewAnalyzerClient(cfg Config, opts ...Option) (*AnalyzerClient, error) {
	c, err := newClient("analyzer", cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &AnalyzerClient{Client: c}, nil
}

// =============================================================================
// Wire Documents
// =============================================================================

// jobDoc mirrors the engine's job document: one analyzer run against one
// observable.
type jobDoc struct {
	ID       string `json:"id"`
	Analyzer string `json:"analyzerName"`
	Worker   string `json:"workerName"`
	Status   string `json:"status"`
}

// name returns the analyzer name from whichever field the engine
// populated. Newer engines send workerName, older ones analyzerName.
func (j jobDoc) name() string {
	if j.Analyzer != "" {
		return j.Analyzer
	}
	return j.Worker
}

// jobReport mirrors the engine's job report envelope.
type jobReport struct {
	Report struct {
		Summary struct {
			Taxonomies []taxonomy `json:"taxonomies"`
		} `json:"summary"`
	} `json:"report"`
}

// taxonomy is one classification entry in a job's summary.
type taxonomy struct {
	Level     string `json:"level"`
	Namespace string `json:"namespace,omitempty"`
	Predicate string `json:"predicate,omitempty"`
}

// =============================================================================
// AnalyzerSource Implementation
// =============================================================================

// GetVerdicts returns the raw verdicts recorded against one observable,
// one per taxonomy entry of every finished job. Jobs still running or
// failed contribute nothing. An observable no analyzer has run on yields
// an empty result, not an error.
func (a *AnalyzerClient) GetVerdicts(ctx context.Context, obs cases.Observable) ([]verdict.RawVerdict, error) {
	query := andQuery(
		fieldEquals("data", obs.Value),
		fieldEquals("dataType", string(obs.Type)),
	)

	var jobs []jobDoc
	if err := a.postJSON(ctx, "/api/job/_search?range=all", query, &jobs); err != nil {
		return nil, err
	}

	var out []verdict.RawVerdict
	for _, job := range jobs {
		if job.Status != jobSuccess {
			a.log.Debug("analyzer: skipping job %s from %s (status %s)", job.ID, job.name(), job.Status)
			continue
		}

		var rep jobReport
		if err := a.getJSON(ctx, "/api/job/"+url.PathEscape(job.ID)+"/report", &rep); err != nil {
			return nil, err
		}
		for _, tax := range rep.Report.Summary.Taxonomies {
			out = append(out, verdict.RawVerdict{Analyzer: job.name(), Level: tax.Level})
		}
	}
	return out, nil
}
