// Package watch runs the polling loop that keeps case scores current.
//
// On a fixed interval the watcher lists open cases from the case
// management collaborator and hands each one to the scoring
// orchestrator. Unchanged cases are served from their scoring record,
// so a pass over a quiet queue is cheap. Individual case failures
// never stop a pass, and a pass in progress finishes (or is abandoned
// after a timeout) on shutdown without corrupting any record.
package watch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soclabs/caserisk/pkg/cases"
	"github.com/soclabs/caserisk/pkg/errors"
	"github.com/soclabs/caserisk/pkg/logging"
	"github.com/soclabs/caserisk/pkg/metrics"
	"github.com/soclabs/caserisk/pkg/scoring"
)

// DefaultInterval is the pause between polling passes.
const DefaultInterval = 30 * time.Second

// DefaultConcurrency scores one case at a time. The orchestrator's
// per-case locks make higher values safe for distinct case ids.
const DefaultConcurrency = 1

// Lister enumerates the cases a pass should consider.
type Lister interface {
	ListOpenCases(ctx context.Context, f scoring.Filter) ([]cases.CaseSummary, error)
}

// Scorer scores a single case. Implemented by scoring.Orchestrator.
type Scorer interface {
	ScoreCase(ctx context.Context, caseID string) (scoring.Outcome, error)
}

// Config configures the Watcher.
type Config struct {
	// Interval is the pause between passes. Defaults to DefaultInterval.
	Interval time.Duration

	// Concurrency is the number of cases scored in parallel within one
	// pass. Defaults to DefaultConcurrency.
	Concurrency int

	// Filter narrows the case listing (status, tags, page size).
	Filter scoring.Filter
}

// Watcher drives repeated scoring passes until stopped.
type Watcher struct {
	lister  Lister
	scorer  Scorer
	config  Config
	log     logging.Logger
	metrics metrics.Collector

	running  int32 // atomic
	stopCh   chan struct{}
	inFlight sync.WaitGroup
	mu       sync.Mutex
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(log logging.Logger) Option {
	return func(w *Watcher) {
		if log != nil {
			w.log = log
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(w *Watcher) {
		if m != nil {
			w.metrics = m
		}
	}
}

// NewWatcher creates a Watcher. Zero config fields take defaults.
func NewWatcher(lister Lister, scorer Scorer, config Config, opts ...Option) *Watcher {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}

	w := &Watcher{
		lister:  lister,
		scorer:  scorer,
		config:  config,
		log:     &logging.NopLogger{},
		metrics: &metrics.NopCollector{},
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the polling loop. The first pass runs immediately;
// subsequent passes run every Interval. Returns an error if the
// watcher is already running.
func (w *Watcher) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&w.running, 0, 1) {
		return errors.E(errors.KindInvalidInput, "watch.Start", "watcher already running")
	}

	w.mu.Lock()
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	w.metrics.GaugeSet(metrics.WatchUp.Name, 1)
	w.log.Info("watch: starting (interval=%v, concurrency=%d)", w.config.Interval, w.config.Concurrency)

	w.inFlight.Add(1)
	go w.loop(ctx)

	return nil
}

// Stop halts the loop and waits up to timeout for in-flight work.
// Safe to call when not running.
func (w *Watcher) Stop(timeout time.Duration) error {
	if !atomic.CompareAndSwapInt32(&w.running, 1, 0) {
		return nil
	}

	w.mu.Lock()
	close(w.stopCh)
	w.mu.Unlock()

	w.log.Info("watch: stopping, waiting for in-flight scoring...")

	done := make(chan struct{})
	go func() {
		w.inFlight.Wait()
		close(done)
	}()

	defer w.metrics.GaugeSet(metrics.WatchUp.Name, 0)

	select {
	case <-done:
		w.log.Info("watch: stopped")
		return nil
	case <-time.After(timeout):
		return errors.E(errors.KindTimeout, "watch.Stop", "timed out waiting for in-flight scoring")
	}
}

// Running reports whether the polling loop is active.
func (w *Watcher) Running() bool {
	return atomic.LoadInt32(&w.running) == 1
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.inFlight.Done()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.pass(ctx)
		}
	}
}

// pass lists candidate cases and scores each one. A case failure is
// logged and counted, never fatal to the pass.
func (w *Watcher) pass(ctx context.Context) {
	timer := metrics.NewTimer(w.metrics, metrics.WatchPassDuration.Name)
	defer timer.ObserveDuration()

	summaries, err := w.lister.ListOpenCases(ctx, w.config.Filter)
	if err != nil {
		w.log.Error("watch: listing open cases failed: %v", err)
		w.metrics.CounterInc(metrics.WatchPassesTotal.Name, "status", "error")
		return
	}
	w.metrics.GaugeSet(metrics.WatchOpenCases.Name, float64(len(summaries)))

	if len(summaries) == 0 {
		w.metrics.CounterInc(metrics.WatchPassesTotal.Name, "status", "ok")
		return
	}

	w.log.Debug("watch: pass over %d open cases", len(summaries))

	var scored, cached, skipped int64
	sem := make(chan struct{}, w.config.Concurrency)
	var wg sync.WaitGroup

	for _, s := range summaries {
		if w.stopped(ctx) {
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		w.inFlight.Add(1)
		w.metrics.GaugeInc(metrics.WatchInFlight.Name)

		go func(caseID string) {
			defer func() {
				w.metrics.GaugeDec(metrics.WatchInFlight.Name)
				w.inFlight.Done()
				wg.Done()
				<-sem
			}()

			out, err := w.scorer.ScoreCase(ctx, caseID)
			switch {
			case err != nil:
				atomic.AddInt64(&skipped, 1)
			case out.Disposition == scoring.DispositionCached:
				atomic.AddInt64(&cached, 1)
			default:
				atomic.AddInt64(&scored, 1)
			}
		}(s.ID)
	}
	wg.Wait()

	w.log.Info("watch: pass complete (scored=%d, cached=%d, skipped=%d)",
		atomic.LoadInt64(&scored), atomic.LoadInt64(&cached), atomic.LoadInt64(&skipped))
	w.metrics.CounterInc(metrics.WatchPassesTotal.Name, "status", "ok")
}

func (w *Watcher) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	w.mu.Lock()
	stopCh := w.stopCh
	w.mu.Unlock()
	select {
	case <-stopCh:
		return true
	default:
		return atomic.LoadInt32(&w.running) == 0
	}
}
