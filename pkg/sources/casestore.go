package sources

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/soclabs/caserisk/pkg/cases"
	"github.com/soclabs/caserisk/pkg/errors"
	"github.com/soclabs/caserisk/pkg/fingerprint"
	"github.com/soclabs/caserisk/pkg/report"
	"github.com/soclabs/caserisk/pkg/scoring"
)

const (
	// riskTaskTitle is the case task reports are logged under. One task
	// per case collects every report revision.
	riskTaskTitle = "Risk Assessment"

	// scoredTag marks a case that has at least one posted report.
	scoredTag = "risk:scored"
)

// CaseStore is the case store client. It speaks the TheHive-style REST
// dialect: /api/case documents, per-case artifact listings, and task
// logs for report posting.
type CaseStore struct {
	*Client
}

var _ scoring.CaseSource = (*CaseStore)(nil)

// NewCaseStore creates a case store client.
func NewCaseStore(cfg Config, opts ...Option) (*CaseStore, error) {
	c, err := newClient("casestore", cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &CaseStore{Client: c}, nil
}

// =============================================================================
// Wire Documents
// =============================================================================

// caseDoc mirrors the store's case document.
type caseDoc struct {
	ID       string   `json:"_id"`
	Title    string   `json:"title"`
	Severity int      `json:"severity"`
	TLP      int      `json:"tlp"`
	Tags     []string `json:"tags"`
	Status   string   `json:"status,omitempty"`

	// UpdatedAt is the store's revision stamp in epoch milliseconds.
	// 0 means the store never updated the case (or doesn't stamp).
	UpdatedAt int64 `json:"_updatedAt,omitempty"`
}

// artifactDoc mirrors the store's observable document.
type artifactDoc struct {
	ID       string   `json:"_id"`
	DataType string   `json:"dataType"`
	Data     string   `json:"data"`
	TLP      int      `json:"tlp"`
	Tags     []string `json:"tags,omitempty"`
}

// taskDoc mirrors the store's task document.
type taskDoc struct {
	ID          string `json:"_id,omitempty"`
	Title       string `json:"title"`
	Group       string `json:"group,omitempty"`
	Description string `json:"description,omitempty"`
}

// taskLogDoc is the body of a task log entry.
type taskLogDoc struct {
	Message string `json:"message"`
}

// =============================================================================
// CaseSource Implementation
// =============================================================================

// ListOpenCases returns the candidate cases for a polling pass.
func (s *CaseStore) ListOpenCases(ctx context.Context, f scoring.Filter) ([]cases.CaseSummary, error) {
	status := f.Status
	if status == "" {
		status = "Open"
	}
	terms := []interface{}{fieldEquals("status", status)}
	for _, tag := range f.Tags {
		terms = append(terms, fieldEquals("tags", tag))
	}

	path := "/api/case/_search"
	if f.Limit > 0 {
		path += fmt.Sprintf("?range=0-%d", f.Limit)
	}

	var docs []caseDoc
	if err := s.postJSON(ctx, path, andQuery(terms...), &docs); err != nil {
		return nil, err
	}

	out := make([]cases.CaseSummary, len(docs))
	for i, d := range docs {
		out[i] = cases.CaseSummary{ID: d.ID, Title: d.Title, Severity: d.Severity}
	}
	return out, nil
}

// GetCase fetches one case and derives its content fingerprint.
func (s *CaseStore) GetCase(ctx context.Context, id string) (cases.Case, error) {
	var doc caseDoc
	if err := s.getJSON(ctx, "/api/case/"+url.PathEscape(id), &doc); err != nil {
		return cases.Case{}, err
	}
	if doc.ID == "" {
		doc.ID = id
	}

	fp, err := s.fingerprintFor(ctx, doc)
	if err != nil {
		return cases.Case{}, err
	}

	return cases.Case{
		ID:          doc.ID,
		Title:       doc.Title,
		Severity:    doc.Severity,
		TLP:         cases.TLP(doc.TLP),
		Tags:        doc.Tags,
		Fingerprint: fp,
	}, nil
}

// fingerprintFor derives the case's content fingerprint. The store's
// revision stamp is preferred; a store that doesn't maintain one falls
// back to hashing the scoring-relevant content, at the cost of an extra
// observable fetch.
func (s *CaseStore) fingerprintFor(ctx context.Context, doc caseDoc) (string, error) {
	if doc.UpdatedAt > 0 {
		return fingerprint.FromRevision(doc.ID, time.UnixMilli(doc.UpdatedAt)), nil
	}

	observables, err := s.GetObservables(ctx, doc.ID)
	if err != nil {
		return "", err
	}

	// The scored marker is bookkeeping, not content. Hashing it would
	// change the fingerprint the moment a report lands.
	tags := make([]string, 0, len(doc.Tags))
	for _, t := range doc.Tags {
		if t != scoredTag {
			tags = append(tags, t)
		}
	}

	in := fingerprint.Input{
		CaseID:      doc.ID,
		Title:       doc.Title,
		Tags:        tags,
		Observables: make([]fingerprint.Observable, len(observables)),
	}
	for i, o := range observables {
		in.Observables[i] = fingerprint.Observable{Type: string(o.Type), Value: o.Value}
	}
	return fingerprint.Generate(in), nil
}

// GetObservables fetches the observables attached to a case.
func (s *CaseStore) GetObservables(ctx context.Context, id string) ([]cases.Observable, error) {
	var docs []artifactDoc
	if err := s.getJSON(ctx, "/api/case/"+url.PathEscape(id)+"/artifact", &docs); err != nil {
		return nil, err
	}

	out := make([]cases.Observable, len(docs))
	for i, d := range docs {
		out[i] = cases.Observable{
			ID:    d.ID,
			Type:  cases.ParseObservableType(d.DataType),
			Value: d.Data,
			TLP:   cases.TLP(d.TLP),
			Tags:  d.Tags,
		}
	}
	return out, nil
}

// PostReport logs the rendered report under the case's risk task and
// marks the case scored.
func (s *CaseStore) PostReport(ctx context.Context, id string, p *report.Payload) error {
	if p == nil {
		return errors.E(errors.KindInvalidInput, "casestore.PostReport", "nil payload")
	}

	taskID, err := s.findOrCreateRiskTask(ctx, id)
	if err != nil {
		return err
	}

	entry := taskLogDoc{Message: p.Markdown}
	if err := s.postJSON(ctx, "/api/case/task/"+url.PathEscape(taskID)+"/log", entry, nil); err != nil {
		return err
	}

	return s.ensureScoredTag(ctx, id)
}

// findOrCreateRiskTask returns the id of the case's risk task, creating
// it on first use.
func (s *CaseStore) findOrCreateRiskTask(ctx context.Context, id string) (string, error) {
	var tasks []taskDoc
	searchPath := "/api/case/" + url.PathEscape(id) + "/task/_search"
	if err := s.postJSON(ctx, searchPath, andQuery(fieldEquals("title", riskTaskTitle)), &tasks); err != nil {
		return "", err
	}
	if len(tasks) > 0 {
		return tasks[0].ID, nil
	}

	var created taskDoc
	body := taskDoc{Title: riskTaskTitle, Group: "risk", Description: "Automated risk scoring"}
	if err := s.postJSON(ctx, "/api/case/"+url.PathEscape(id)+"/task", body, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("casestore: create task: response carried no id")
	}

	s.log.Debug("casestore: created risk task %s on case %s", created.ID, id)
	return created.ID, nil
}

// ensureScoredTag marks the case as scored. The add is idempotent: once
// the tag is present nothing is sent, so the store's revision stamp is
// bumped at most once per case lifetime.
func (s *CaseStore) ensureScoredTag(ctx context.Context, id string) error {
	var doc caseDoc
	if err := s.getJSON(ctx, "/api/case/"+url.PathEscape(id), &doc); err != nil {
		return err
	}
	for _, t := range doc.Tags {
		if t == scoredTag {
			return nil
		}
	}

	body := map[string]interface{}{"tags": append(doc.Tags, scoredTag)}
	return s.patchJSON(ctx, "/api/case/"+url.PathEscape(id), body)
}
