// Package escalate files tracker issues for cases whose score crosses
// a severity threshold. GitHub and GitLab are supported as targets; the
// escalator plugs into the scoring pipeline as a hook.
package escalate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/soclabs/caserisk/pkg/cases"
	"github.com/soclabs/caserisk/pkg/errors"
	"github.com/soclabs/caserisk/pkg/logging"
	"github.com/soclabs/caserisk/pkg/metrics"
	"github.com/soclabs/caserisk/pkg/risk"
	"github.com/soclabs/caserisk/pkg/scoring"
)

// ===== Notifier Interface =====

// Notifier files an escalation issue for a scored case and returns the
// issue URL.
type Notifier interface {
	// Name identifies the notifier in logs, metrics, and the audit trail.
	Name() string

	// Notify files the issue. Implementations must be safe for
	// concurrent use; the watcher scores cases in parallel.
	Notify(ctx context.Context, c cases.Case, score risk.Score, reportID string) (string, error)
}

// Recorder receives the outcome of each escalation attempt. The audit
// logger implements this.
type Recorder interface {
	Escalated(caseID, notifier, issueURL string, err error)
}

// ===== Escalator =====

// Escalator watches scoring outcomes and escalates the ones at or
// above a minimum severity.
type Escalator struct {
	notifier Notifier
	min      risk.Severity
	log      logging.Logger
	metrics  metrics.Collector
	recorder Recorder
}

// Option configures an Escalator.
type Option func(*Escalator)

// WithLogger sets the logger.
func WithLogger(log logging.Logger) Option {
	return func(e *Escalator) {
		if log != nil {
			e.log = log
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(e *Escalator) {
		if c != nil {
			e.metrics = c
		}
	}
}

// WithRecorder wires an audit recorder for escalation outcomes.
func WithRecorder(r Recorder) Option {
	return func(e *Escalator) {
		e.recorder = r
	}
}

// New creates an Escalator that files issues via notifier for cases
// scored at min severity or above.
func New(notifier Notifier, min risk.Severity, opts ...Option) *Escalator {
	e := &Escalator{
		notifier: notifier,
		min:      min,
		log:      &logging.NopLogger{},
		metrics:  &metrics.NopCollector{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Hook adapts the escalator to the scoring pipeline. Only freshly
// scored outcomes escalate; cached and skipped ones never re-file.
func (e *Escalator) Hook() scoring.Hook {
	return func(ctx context.Context, c cases.Case, out scoring.Outcome) {
		if out.Disposition != scoring.DispositionScored {
			return
		}
		if !out.Score.Severity.IsAtLeast(e.min) {
			return
		}
		e.escalate(ctx, c, out)
	}
}

func (e *Escalator) escalate(ctx context.Context, c cases.Case, out scoring.Outcome) {
	issueURL, err := e.notifier.Notify(ctx, c, out.Score, out.ReportID)

	status := "ok"
	if err != nil {
		status = "error"
		e.log.Error("escalation for case %s via %s failed: %v", c.ID, e.notifier.Name(), err)
	} else {
		e.log.Info("escalated case %s (%s) via %s: %s",
			c.ID, out.Score.Severity, e.notifier.Name(), issueURL)
	}
	e.metrics.CounterInc(metrics.EscalationsTotal.Name,
		"notifier", e.notifier.Name(), "status", status)
	if e.recorder != nil {
		e.recorder.Escalated(c.ID, e.notifier.Name(), issueURL, err)
	}
}

// ===== Issue Content =====

// issueTitle renders the tracker issue title.
func issueTitle(c cases.Case, score risk.Score) string {
	title := c.Title
	if title == "" {
		title = c.ID
	}
	return fmt.Sprintf("[caserisk] %s: %s", score.Severity, title)
}

// issueBody renders the tracker issue body in markdown.
func issueBody(c cases.Case, score risk.Score, reportID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Case `%s` scored **%s** (%s).\n\n", c.ID, score.Severity, score.Profile)
	fmt.Fprintf(&b, "| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Verdict | %s |\n", score.Summary.Level)
	fmt.Fprintf(&b, "| Score | %s |\n", formatComposite(score))
	if len(score.Summary.MaliciousAnalyzers) > 0 {
		fmt.Fprintf(&b, "| Malicious analyzers | %s |\n",
			strings.Join(score.Summary.MaliciousAnalyzers, ", "))
	}
	fmt.Fprintf(&b, "| Report | `%s` |\n", reportID)
	fmt.Fprintf(&b, "| Scored at | %s |\n", score.ScoredAt.UTC().Format(time.RFC3339))
	return b.String()
}

func formatComposite(score risk.Score) string {
	switch score.Unit {
	case risk.UnitUSD:
		return fmt.Sprintf("estimated annual loss $%.0f", score.Composite)
	case risk.UnitIndex:
		return fmt.Sprintf("recovery difficulty %.0f/100", score.Composite)
	default:
		return fmt.Sprintf("%.2f", score.Composite)
	}
}

// ===== Constructors From Config =====

// Config selects and parameterizes a notifier.
type Config struct {
	// Notifier is "github" or "gitlab". Empty means escalation is off.
	Notifier string

	// MinSeverity is the lowest severity that escalates.
	MinSeverity string

	// Labels are applied to every filed issue.
	Labels []string

	GitHub GitHubConfig
	GitLab GitLabConfig
}

// NewFromConfig builds an Escalator from configuration, or returns
// (nil, nil) when escalation is disabled.
func NewFromConfig(cfg Config, opts ...Option) (*Escalator, error) {
	const op = "escalate.NewFromConfig"

	var notifier Notifier
	var err error
	switch strings.ToLower(strings.TrimSpace(cfg.Notifier)) {
	case "":
		return nil, nil
	case "github":
		gh := cfg.GitHub
		gh.Labels = append(gh.Labels, cfg.Labels...)
		notifier, err = NewGitHubNotifier(gh)
	case "gitlab":
		gl := cfg.GitLab
		gl.Labels = append(gl.Labels, cfg.Labels...)
		notifier, err = NewGitLabNotifier(gl)
	default:
		return nil, errors.E(errors.KindInvalidInput, op,
			fmt.Sprintf("unknown notifier %q", cfg.Notifier))
	}
	if err != nil {
		return nil, errors.Wrap(err, op)
	}

	return New(notifier, risk.ParseSeverity(cfg.MinSeverity), opts...), nil
}
