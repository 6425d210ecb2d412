package scoring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/soclabs/caserisk/pkg/cases"
	"github.com/soclabs/caserisk/pkg/errors"
	"github.com/soclabs/caserisk/pkg/metrics"
	"github.com/soclabs/caserisk/pkg/profile"
	"github.com/soclabs/caserisk/pkg/record"
	"github.com/soclabs/caserisk/pkg/report"
	"github.com/soclabs/caserisk/pkg/risk"
	"github.com/soclabs/caserisk/pkg/verdict"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeCaseSource struct {
	mu sync.Mutex

	cases       map[string]cases.Case
	observables map[string][]cases.Observable

	getCaseErr error
	postErr    error

	// postBump, when set, replaces the case fingerprint on every post,
	// the way a store's revision stamp moves when the report tags the
	// case scored.
	postBump string

	postCalls []string // case ids, in order
	posted    []*report.Payload
}

func (f *fakeCaseSource) ListOpenCases(_ context.Context, _ Filter) ([]cases.CaseSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []cases.CaseSummary
	for _, c := range f.cases {
		out = append(out, cases.CaseSummary{ID: c.ID, Title: c.Title, Severity: c.Severity})
	}
	return out, nil
}

func (f *fakeCaseSource) GetCase(_ context.Context, id string) (cases.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getCaseErr != nil {
		return cases.Case{}, f.getCaseErr
	}
	c, ok := f.cases[id]
	if !ok {
		return cases.Case{}, errors.E(errors.KindNotFound, "fake.GetCase", "no such case")
	}
	return c, nil
}

func (f *fakeCaseSource) GetObservables(_ context.Context, id string) ([]cases.Observable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obs := f.observables[id]
	out := make([]cases.Observable, len(obs))
	copy(out, obs)
	return out, nil
}

func (f *fakeCaseSource) PostReport(_ context.Context, id string, p *report.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return f.postErr
	}
	f.postCalls = append(f.postCalls, id)
	f.posted = append(f.posted, p)
	if f.postBump != "" {
		c := f.cases[id]
		c.Fingerprint = f.postBump
		f.cases[id] = c
	}
	return nil
}

func (f *fakeCaseSource) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.postCalls)
}

type fakeAnalyzerSource struct {
	verdicts map[string][]verdict.RawVerdict // observable id -> raw verdicts
	err      error
}

func (f *fakeAnalyzerSource) GetVerdicts(_ context.Context, obs cases.Observable) ([]verdict.RawVerdict, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.verdicts[obs.ID], nil
}

// =============================================================================
// Harness
// =============================================================================

func testTables() risk.Tables {
	return risk.DefaultTables()
}

func newTestOrchestrator(t *testing.T, cs *fakeCaseSource, as *fakeAnalyzerSource, opts ...OrchestratorOption) (*Orchestrator, *record.MemoryStore) {
	t.Helper()

	tables := testTables()
	calc, err := risk.NewCalculator(tables, risk.WithClock(func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}))
	if err != nil {
		t.Fatalf("NewCalculator() error = %v", err)
	}

	resolver := profile.NewResolver(profile.Config{
		AssetValues:            tables.AssetValues,
		SensitivityMultipliers: tables.SensitivityMultipliers,
		ExposureWeights:        tables.ExposureWeights,
		DefaultAssetType:       "workstation",
		DefaultSensitivity:     "internal",
	})

	renderer, err := report.NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}

	records := record.NewMemoryStore()
	o := NewOrchestrator(cs, as, records, verdict.NewExtractor(), resolver, calc, renderer, opts...)
	return o, records
}

func businessCase(id, fp string) cases.Case {
	return cases.Case{
		ID:          id,
		Title:       "Compromised host",
		Severity:    3,
		Tags:        []string{"asset:server", "sensitivity:confidential"},
		Fingerprint: fp,
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestScoreCase_ScoresAndPosts(t *testing.T) {
	cs := &fakeCaseSource{
		cases: map[string]cases.Case{"~1": businessCase("~1", "fp-1")},
		observables: map[string][]cases.Observable{
			"~1": {{ID: "o1", Type: cases.TypeIP, Value: "203.0.113.7"}},
		},
	}
	as := &fakeAnalyzerSource{verdicts: map[string][]verdict.RawVerdict{
		"o1": {{Analyzer: "VirusTotal", Level: "malicious"}},
	}}
	o, records := newTestOrchestrator(t, cs, as)

	out, err := o.ScoreCase(context.Background(), "~1")
	if err != nil {
		t.Fatalf("ScoreCase() error = %v", err)
	}
	if out.Disposition != DispositionScored {
		t.Fatalf("Disposition = %s, want scored", out.Disposition)
	}

	// Malicious (1.0) * server (50000) * confidential (10) = 500000 -> critical.
	if out.Score.Composite != 500000 {
		t.Errorf("Composite = %v, want 500000", out.Score.Composite)
	}
	if out.Score.Severity != risk.SeverityCritical {
		t.Errorf("Severity = %s, want critical", out.Score.Severity)
	}
	if cs.postCount() != 1 {
		t.Errorf("PostReport calls = %d, want 1", cs.postCount())
	}

	rec, err := records.Get(context.Background(), "~1")
	if err != nil || rec == nil {
		t.Fatalf("record missing after score: rec=%v err=%v", rec, err)
	}
	if rec.Fingerprint != "fp-1" {
		t.Errorf("recorded fingerprint = %q, want fp-1", rec.Fingerprint)
	}
}

func TestScoreCase_UnchangedFingerprintServesCache(t *testing.T) {
	cs := &fakeCaseSource{
		cases: map[string]cases.Case{"~1": businessCase("~1", "fp-1")},
		observables: map[string][]cases.Observable{
			"~1": {{ID: "o1", Type: cases.TypeIP, Value: "203.0.113.7"}},
		},
	}
	as := &fakeAnalyzerSource{verdicts: map[string][]verdict.RawVerdict{
		"o1": {{Analyzer: "VirusTotal", Level: "malicious"}},
	}}
	o, _ := newTestOrchestrator(t, cs, as)

	first, err := o.ScoreCase(context.Background(), "~1")
	if err != nil {
		t.Fatalf("first ScoreCase() error = %v", err)
	}

	second, err := o.ScoreCase(context.Background(), "~1")
	if err != nil {
		t.Fatalf("second ScoreCase() error = %v", err)
	}
	if second.Disposition != DispositionCached {
		t.Errorf("second Disposition = %s, want cached", second.Disposition)
	}
	if second.Score.Composite != first.Score.Composite || second.Score.Severity != first.Score.Severity {
		t.Errorf("cached score = %v/%s, want %v/%s",
			second.Score.Composite, second.Score.Severity, first.Score.Composite, first.Score.Severity)
	}
	if second.ReportID != first.ReportID {
		t.Errorf("cached ReportID = %q, want %q", second.ReportID, first.ReportID)
	}
	if cs.postCount() != 1 {
		t.Errorf("PostReport calls = %d, want exactly 1 (no re-post on unchanged fingerprint)", cs.postCount())
	}
}

func TestScoreCase_FingerprintChangeRescores(t *testing.T) {
	cs := &fakeCaseSource{
		cases: map[string]cases.Case{"~1": businessCase("~1", "fp-1")},
		observables: map[string][]cases.Observable{
			"~1": {{ID: "o1", Type: cases.TypeIP, Value: "203.0.113.7"}},
		},
	}
	as := &fakeAnalyzerSource{verdicts: map[string][]verdict.RawVerdict{
		"o1": {{Analyzer: "VirusTotal", Level: "suspicious"}},
	}}
	o, records := newTestOrchestrator(t, cs, as)

	if _, err := o.ScoreCase(context.Background(), "~1"); err != nil {
		t.Fatalf("first ScoreCase() error = %v", err)
	}

	// The case changed server-side: new fingerprint, worse verdict.
	cs.mu.Lock()
	cs.cases["~1"] = businessCase("~1", "fp-2")
	cs.mu.Unlock()
	as.verdicts["o1"] = []verdict.RawVerdict{{Analyzer: "VirusTotal", Level: "malicious"}}

	out, err := o.ScoreCase(context.Background(), "~1")
	if err != nil {
		t.Fatalf("second ScoreCase() error = %v", err)
	}
	if out.Disposition != DispositionScored {
		t.Errorf("Disposition = %s, want scored after fingerprint change", out.Disposition)
	}
	if cs.postCount() != 2 {
		t.Errorf("PostReport calls = %d, want 2", cs.postCount())
	}

	rec, _ := records.Get(context.Background(), "~1")
	if rec.Fingerprint != "fp-2" {
		t.Errorf("recorded fingerprint = %q, want fp-2", rec.Fingerprint)
	}
}

func TestScoreCase_PostBumpedFingerprintStaysCached(t *testing.T) {
	cs := &fakeCaseSource{
		cases: map[string]cases.Case{"~1": businessCase("~1", "fp-1")},
		observables: map[string][]cases.Observable{
			"~1": {{ID: "o1", Type: cases.TypeIP, Value: "203.0.113.7"}},
		},
		postBump: "fp-1-stamped",
	}
	as := &fakeAnalyzerSource{verdicts: map[string][]verdict.RawVerdict{
		"o1": {{Analyzer: "VirusTotal", Level: "malicious"}},
	}}
	o, records := newTestOrchestrator(t, cs, as)

	first, err := o.ScoreCase(context.Background(), "~1")
	if err != nil {
		t.Fatalf("first ScoreCase() error = %v", err)
	}
	if first.Disposition != DispositionScored {
		t.Fatalf("first Disposition = %s, want scored", first.Disposition)
	}

	rec, _ := records.Get(context.Background(), "~1")
	if rec.Fingerprint != "fp-1-stamped" {
		t.Errorf("recorded fingerprint = %q, want the post-post value fp-1-stamped", rec.Fingerprint)
	}

	// The content never changed; only posting moved the fingerprint. The
	// next pass must serve the record, not post a second report.
	second, err := o.ScoreCase(context.Background(), "~1")
	if err != nil {
		t.Fatalf("second ScoreCase() error = %v", err)
	}
	if second.Disposition != DispositionCached {
		t.Errorf("second Disposition = %s, want cached", second.Disposition)
	}
	if second.ReportID != first.ReportID {
		t.Errorf("cached ReportID = %q, want the posted id %q", second.ReportID, first.ReportID)
	}
	if cs.postCount() != 1 {
		t.Errorf("PostReport calls = %d, want exactly 1", cs.postCount())
	}
}

func TestScoreCase_ResolutionErrorSkips(t *testing.T) {
	c := cases.Case{
		ID:          "~1",
		Title:       "Leaked PII",
		Tags:        []string{"profile:consumer"}, // no exposure tag
		Fingerprint: "fp-1",
	}
	cs := &fakeCaseSource{
		cases:       map[string]cases.Case{"~1": c},
		observables: map[string][]cases.Observable{"~1": {{ID: "o1", Type: cases.TypeEmail, Value: "a@b.example"}}},
	}
	as := &fakeAnalyzerSource{}
	o, records := newTestOrchestrator(t, cs, as)

	out, err := o.ScoreCase(context.Background(), "~1")
	if err == nil {
		t.Fatal("ScoreCase() error = nil, want resolution error")
	}
	if !errors.IsResolution(err) {
		t.Errorf("error kind = %s, want resolution", errors.GetKind(err))
	}
	if !out.Skipped() {
		t.Errorf("Disposition = %s, want skipped", out.Disposition)
	}
	if cs.postCount() != 0 {
		t.Errorf("PostReport calls = %d, want 0 on resolution error", cs.postCount())
	}
	if rec, _ := records.Get(context.Background(), "~1"); rec != nil {
		t.Error("record written for a skipped case")
	}
}

func TestScoreCase_PostFailureLeavesRecordUntouched(t *testing.T) {
	cs := &fakeCaseSource{
		cases:       map[string]cases.Case{"~1": businessCase("~1", "fp-1")},
		observables: map[string][]cases.Observable{"~1": {{ID: "o1", Type: cases.TypeIP, Value: "203.0.113.7"}}},
		postErr:     errors.E(errors.KindServer, "fake.PostReport", "boom"),
	}
	as := &fakeAnalyzerSource{verdicts: map[string][]verdict.RawVerdict{
		"o1": {{Analyzer: "VirusTotal", Level: "malicious"}},
	}}
	o, records := newTestOrchestrator(t, cs, as)

	out, err := o.ScoreCase(context.Background(), "~1")
	if err == nil {
		t.Fatal("ScoreCase() error = nil, want post failure")
	}
	if !out.Skipped() {
		t.Errorf("Disposition = %s, want skipped", out.Disposition)
	}
	if rec, _ := records.Get(context.Background(), "~1"); rec != nil {
		t.Error("record written despite failed post; retry would be unsafe")
	}

	// Collaborator recovers: the retry posts and records.
	cs.mu.Lock()
	cs.postErr = nil
	cs.mu.Unlock()

	out, err = o.ScoreCase(context.Background(), "~1")
	if err != nil {
		t.Fatalf("retry ScoreCase() error = %v", err)
	}
	if out.Disposition != DispositionScored {
		t.Errorf("retry Disposition = %s, want scored", out.Disposition)
	}
	if rec, _ := records.Get(context.Background(), "~1"); rec == nil {
		t.Error("record missing after successful retry")
	}
}

func TestScoreCase_NoVerdictsScoresUnknown(t *testing.T) {
	cs := &fakeCaseSource{
		cases:       map[string]cases.Case{"~1": businessCase("~1", "fp-1")},
		observables: map[string][]cases.Observable{"~1": {{ID: "o1", Type: cases.TypeDomain, Value: "phish.example"}}},
	}
	as := &fakeAnalyzerSource{} // no verdicts recorded anywhere
	o, _ := newTestOrchestrator(t, cs, as)

	out, err := o.ScoreCase(context.Background(), "~1")
	if err != nil {
		t.Fatalf("ScoreCase() error = %v", err)
	}
	if out.Score.Summary.Level != verdict.Unknown {
		t.Errorf("verdict level = %s, want unknown", out.Score.Summary.Level)
	}
	// Unknown weight 0.05 * 50000 * 10 = 25000.
	if out.Score.Composite != 25000 {
		t.Errorf("Composite = %v, want 25000", out.Score.Composite)
	}

	cs.mu.Lock()
	posted := cs.posted[0]
	cs.mu.Unlock()
	if !posted.Pending {
		t.Error("payload.Pending = false, want true when no verdicts exist")
	}
}

func TestScoreCase_OverridesForceConsumer(t *testing.T) {
	c := businessCase("~1", "fp-1") // tagged as business
	cs := &fakeCaseSource{
		cases:       map[string]cases.Case{"~1": c},
		observables: map[string][]cases.Observable{"~1": {{ID: "o1", Type: cases.TypeEmail, Value: "a@b.example"}}},
	}
	as := &fakeAnalyzerSource{verdicts: map[string][]verdict.RawVerdict{
		"o1": {{Analyzer: "HybridAnalysis", Level: "suspicious"}},
	}}
	o, _ := newTestOrchestrator(t, cs, as,
		WithOverrides(profile.Overrides{Profile: "consumer", Exposure: "ssn"}))

	out, err := o.ScoreCase(context.Background(), "~1")
	if err != nil {
		t.Fatalf("ScoreCase() error = %v", err)
	}
	if out.Score.Profile.Kind != profile.Consumer {
		t.Errorf("profile kind = %s, want consumer (overridden)", out.Score.Profile.Kind)
	}
	// Suspicious (0.8) * ssn (85) = 68 -> high.
	if out.Score.Composite != 68 {
		t.Errorf("Composite = %v, want 68", out.Score.Composite)
	}
	if out.Score.Severity != risk.SeverityHigh {
		t.Errorf("Severity = %s, want high", out.Score.Severity)
	}
}

func TestScoreCase_HooksObserveOutcomes(t *testing.T) {
	cs := &fakeCaseSource{
		cases:       map[string]cases.Case{"~1": businessCase("~1", "fp-1")},
		observables: map[string][]cases.Observable{"~1": {{ID: "o1", Type: cases.TypeIP, Value: "203.0.113.7"}}},
	}
	as := &fakeAnalyzerSource{verdicts: map[string][]verdict.RawVerdict{
		"o1": {{Analyzer: "VirusTotal", Level: "safe"}},
	}}

	var mu sync.Mutex
	var seen []Outcome
	o, _ := newTestOrchestrator(t, cs, as, WithHook(func(_ context.Context, _ cases.Case, out Outcome) {
		mu.Lock()
		seen = append(seen, out)
		mu.Unlock()
	}))

	if _, err := o.ScoreCase(context.Background(), "~1"); err != nil {
		t.Fatalf("ScoreCase() error = %v", err)
	}
	if _, err := o.ScoreCase(context.Background(), "~1"); err != nil {
		t.Fatalf("second ScoreCase() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("hook calls = %d, want 2", len(seen))
	}
	if seen[0].Disposition != DispositionScored || seen[1].Disposition != DispositionCached {
		t.Errorf("hook dispositions = %s, %s; want scored, cached", seen[0].Disposition, seen[1].Disposition)
	}
}

func TestScoreCase_MetricsCountDispositions(t *testing.T) {
	cs := &fakeCaseSource{
		cases:       map[string]cases.Case{"~1": businessCase("~1", "fp-1")},
		observables: map[string][]cases.Observable{"~1": {{ID: "o1", Type: cases.TypeIP, Value: "203.0.113.7"}}},
	}
	as := &fakeAnalyzerSource{verdicts: map[string][]verdict.RawVerdict{
		"o1": {{Analyzer: "VirusTotal", Level: "malicious"}},
	}}

	mem := metrics.NewInMemoryCollector()
	o, _ := newTestOrchestrator(t, cs, as, WithMetrics(mem))

	o.ScoreCase(context.Background(), "~1")
	o.ScoreCase(context.Background(), "~1")

	if got := mem.GetCounter(metrics.CasesTotal.Name, "disposition", "scored"); got != 1 {
		t.Errorf("scored counter = %v, want 1", got)
	}
	if got := mem.GetCounter(metrics.CasesTotal.Name, "disposition", "cached"); got != 1 {
		t.Errorf("cached counter = %v, want 1", got)
	}
	if got := mem.GetCounter(metrics.ReportsPostedTotal.Name, "profile", "business", "severity", "critical"); got != 1 {
		t.Errorf("posted counter = %v, want 1", got)
	}
}

func TestScoreCase_SingleFlightPerCase(t *testing.T) {
	cs := &fakeCaseSource{
		cases:       map[string]cases.Case{"~1": businessCase("~1", "fp-1")},
		observables: map[string][]cases.Observable{"~1": {{ID: "o1", Type: cases.TypeIP, Value: "203.0.113.7"}}},
	}
	as := &fakeAnalyzerSource{verdicts: map[string][]verdict.RawVerdict{
		"o1": {{Analyzer: "VirusTotal", Level: "malicious"}},
	}}
	o, _ := newTestOrchestrator(t, cs, as)

	// Race many concurrent calls for one case id. With the per-case lock,
	// exactly one scores and the rest are served from the record.
	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.ScoreCase(context.Background(), "~1")
		}()
	}
	wg.Wait()

	if cs.postCount() != 1 {
		t.Errorf("PostReport calls = %d, want exactly 1 under concurrency", cs.postCount())
	}
}
