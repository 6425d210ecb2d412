// Package scoring drives the per-case pipeline: fetch case, gather
// verdicts, resolve the profile, calculate, render, post, record. The
// orchestrator owns the idempotency contract: a report is posted at most
// once per case fingerprint, and the scoring record is updated only after
// a confirmed post.
package scoring

import (
	"context"
	"sync"

	"github.com/soclabs/caserisk/pkg/cases"
	"github.com/soclabs/caserisk/pkg/errors"
	"github.com/soclabs/caserisk/pkg/logging"
	"github.com/soclabs/caserisk/pkg/metrics"
	"github.com/soclabs/caserisk/pkg/profile"
	"github.com/soclabs/caserisk/pkg/record"
	"github.com/soclabs/caserisk/pkg/report"
	"github.com/soclabs/caserisk/pkg/risk"
	"github.com/soclabs/caserisk/pkg/verdict"
)

// Disposition says what a scoring pass did with a case.
type Disposition string

const (
	// DispositionScored: the case was scored and a report was posted.
	DispositionScored Disposition = "scored"

	// DispositionCached: the fingerprint was unchanged; the recorded
	// score was returned without recomputation or re-posting.
	DispositionCached Disposition = "cached"

	// DispositionSkipped: the case could not be scored this pass. Err
	// carries the reason. Nothing was posted, nothing was recorded.
	DispositionSkipped Disposition = "skipped"
)

// Outcome is the result of one ScoreCase call.
type Outcome struct {
	CaseID      string
	Disposition Disposition
	Score       risk.Score

	// ReportID is set when a report exists for this fingerprint (posted
	// this pass or found in the record).
	ReportID string

	// Err is the skip reason for DispositionSkipped, nil otherwise.
	Err error
}

// Skipped reports whether the case was skipped this pass.
func (o Outcome) Skipped() bool {
	return o.Disposition == DispositionSkipped
}

// Hook observes scoring outcomes. Used to wire the audit trail and the
// escalation notifier without the orchestrator knowing either.
type Hook func(ctx context.Context, c cases.Case, o Outcome)

// Orchestrator composes the scoring pipeline per case.
type Orchestrator struct {
	caseSource CaseSource
	analyzers  AnalyzerSource
	records    record.Store

	extractor  *verdict.Extractor
	resolver   *profile.Resolver
	calculator *risk.Calculator
	renderer   *report.Renderer

	overrides profile.Overrides
	hooks     []Hook

	log     logging.Logger
	metrics metrics.Collector

	// locks serializes scoring per case id. Different cases proceed in
	// parallel; two calls for one case never interleave, so two stale
	// fingerprint reads can't race to post duplicate reports.
	locks sync.Map // case id -> *sync.Mutex
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(log logging.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) OrchestratorOption {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithOverrides forces profile/exposure tags before resolution. Used by
// the single-shot score command.
func WithOverrides(ov profile.Overrides) OrchestratorOption {
	return func(o *Orchestrator) {
		o.overrides = ov
	}
}

// WithHook registers an outcome observer. Hooks run after the record
// update, in registration order, and must not block for long.
func WithHook(h Hook) OrchestratorOption {
	return func(o *Orchestrator) {
		if h != nil {
			o.hooks = append(o.hooks, h)
		}
	}
}

// NewOrchestrator wires the pipeline components together.
func NewOrchestrator(
	caseSource CaseSource,
	analyzers AnalyzerSource,
	records record.Store,
	extractor *verdict.Extractor,
	resolver *profile.Resolver,
	calculator *risk.Calculator,
	renderer *report.Renderer,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		caseSource: caseSource,
		analyzers:  analyzers,
		records:    records,
		extractor:  extractor,
		resolver:   resolver,
		calculator: calculator,
		renderer:   renderer,
		log:        &logging.NopLogger{},
		metrics:    &metrics.NopCollector{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ScoreCase runs one scoring pass for a case.
//
// The pass order is an invariant, not an optimization: fetch case, fetch
// observables, calculate, post report, re-read the case, update record.
// The record update comes only after a confirmed post, so a crash
// mid-pass leads to a safe retry; the deterministic report id makes the
// retried post identical.
//
// Per-case failures come back inside the Outcome as a skip, with the
// error also returned, so the caller can log without unwrapping. A
// skipped case never aborts a polling pass.
func (o *Orchestrator) ScoreCase(ctx context.Context, caseID string) (Outcome, error) {
	unlock := o.lock(caseID)
	defer unlock()

	timer := metrics.NewTimer(o.metrics, metrics.ScoreDuration.Name)
	out, c, err := o.scoreLocked(ctx, caseID)
	timer.ObserveDuration()

	o.metrics.CounterInc(metrics.CasesTotal.Name, "disposition", string(out.Disposition))
	for _, h := range o.hooks {
		h(ctx, c, out)
	}
	return out, err
}

func (o *Orchestrator) scoreLocked(ctx context.Context, caseID string) (Outcome, cases.Case, error) {
	c, err := o.caseSource.GetCase(ctx, caseID)
	if err != nil {
		return o.skip(caseID, "fetch case", err), cases.Case{}, err
	}

	prior, err := o.records.Get(ctx, caseID)
	if err != nil {
		return o.skip(caseID, "read record", err), c, err
	}
	if prior != nil && prior.Fingerprint == c.Fingerprint {
		o.log.Debug("scoring: case %s unchanged (fingerprint %.12s), serving recorded score", caseID, c.Fingerprint)
		reportID := prior.ReportID
		if reportID == "" {
			reportID = report.ID(caseID, prior.Fingerprint)
		}
		return Outcome{
			CaseID:      caseID,
			Disposition: DispositionCached,
			Score:       prior.Score,
			ReportID:    reportID,
		}, c, nil
	}

	prev := ""
	if prior != nil {
		prev = prior.Fingerprint
	}

	observables, err := o.caseSource.GetObservables(ctx, caseID)
	if err != nil {
		return o.skip(caseID, "fetch observables", err), c, err
	}

	observables, sum, err := o.gatherVerdicts(ctx, observables)
	if err != nil {
		return o.skip(caseID, "gather verdicts", err), c, err
	}

	p, err := o.resolver.Resolve(profile.ParseTags(profile.ApplyOverrides(c.Tags, o.overrides)))
	if err != nil {
		o.log.Warn("scoring: case %s needs triage: %v (tags: %v)",
			caseID, err, profile.ParseTags(c.Tags).Flat())
		return o.skip(caseID, "resolve profile", err), c, err
	}

	score, err := o.calculator.Score(p, sum)
	if err != nil {
		return o.skip(caseID, "calculate", err), c, err
	}

	payload, err := o.renderer.Render(c, observables, score)
	if err != nil {
		return o.skip(caseID, "render report", err), c, err
	}

	if err := o.caseSource.PostReport(ctx, caseID, payload); err != nil {
		return o.skip(caseID, "post report", err), c, err
	}
	o.metrics.CounterInc(metrics.ReportsPostedTotal.Name,
		"profile", string(p.Kind), "severity", string(score.Severity))

	// Posting touches the case itself: the first report tags it scored,
	// which bumps the store's revision stamp and with it the fingerprint.
	// The record must hold the post-post fingerprint, or the next pass
	// would see the case as changed and post a second report for content
	// that never moved.
	finalFingerprint := c.Fingerprint
	if refreshed, err := o.caseSource.GetCase(ctx, caseID); err != nil {
		o.log.Warn("scoring: case %s re-read after post failed, keeping pre-post fingerprint: %v", caseID, err)
	} else {
		finalFingerprint = refreshed.Fingerprint
	}

	rec := &record.Record{
		CaseID:      caseID,
		Fingerprint: finalFingerprint,
		Score:       score,
		ReportID:    payload.ReportID,
		Report:      []byte(payload.Markdown),
		ScoredAt:    score.ScoredAt,
	}
	if err := o.records.Put(ctx, rec, prev); err != nil {
		// The report is out but the record write lost a race or failed.
		// The next pass re-reads and, at worst, re-posts the identical
		// report for this fingerprint.
		o.log.Error("scoring: case %s scored and posted but record update failed: %v", caseID, err)
		return o.skip(caseID, "update record", err), c, err
	}

	o.log.Info("scoring: case %s scored %s (%s %.0f, verdict %s)",
		caseID, score.Severity, score.Unit, score.Composite, sum.Level)

	return Outcome{
		CaseID:      caseID,
		Disposition: DispositionScored,
		Score:       score,
		ReportID:    payload.ReportID,
	}, c, nil
}

// gatherVerdicts fetches raw verdicts per observable, normalizes them,
// and attaches them so the report's breakdown table can show per-analyzer
// detail. The returned summary is the case-level verdict.
func (o *Orchestrator) gatherVerdicts(ctx context.Context, observables []cases.Observable) ([]cases.Observable, verdict.Summary, error) {
	var all []verdict.Verdict
	for i, obs := range observables {
		raw, err := o.analyzers.GetVerdicts(ctx, obs)
		if err != nil {
			return nil, verdict.Summary{}, err
		}
		normalized := o.extractor.NormalizeAll(raw)
		observables[i].Verdicts = normalized
		all = append(all, normalized...)
	}
	return observables, o.extractor.Extract(all), nil
}

func (o *Orchestrator) skip(caseID, step string, err error) Outcome {
	o.log.Warn("scoring: case %s skipped at %s: %v (kind=%s)", caseID, step, err, errors.GetKind(err))
	return Outcome{
		CaseID:      caseID,
		Disposition: DispositionSkipped,
		Err:         err,
	}
}

// lock acquires the per-case mutex and returns its release func.
func (o *Orchestrator) lock(caseID string) func() {
	v, _ := o.locks.LoadOrStore(caseID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Records exposes the record store for the health surface.
func (o *Orchestrator) Records() record.Store {
	return o.records
}
