// Package audit writes a structured JSONL trail of scoring outcomes.
//
// Every event answers, after the fact, why a case carries the score it
// does: what was scored, what was skipped and for which reason, which
// reports were posted and which escalated. The trail is append-only
// and survives process restarts.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soclabs/caserisk/pkg/cases"
	"github.com/soclabs/caserisk/pkg/risk"
	"github.com/soclabs/caserisk/pkg/scoring"
)

// EventType represents the type of audit event.
type EventType string

const (
	// Lifecycle events
	EventWatchStarted EventType = "watch_started"
	EventWatchStopped EventType = "watch_stopped"

	// Scoring events
	EventCaseScored  EventType = "case_scored"
	EventCaseCached  EventType = "case_cached"
	EventCaseSkipped EventType = "case_skipped"

	// Report events
	EventReportPosted EventType = "report_posted"
	EventEscalated    EventType = "escalated"
)

// Severity represents event severity level.
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARN"
	SeverityError   Severity = "ERROR"
)

// Event represents one audit trail entry.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"type"`
	Severity  Severity       `json:"severity"`
	CaseID    string         `json:"case_id,omitempty"`
	ReportID  string         `json:"report_id,omitempty"`
	Message   string         `json:"message"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// LoggerConfig configures the audit logger.
type LoggerConfig struct {
	// LogFile is the path to the audit log file.
	LogFile string

	// BufferSize is the number of events to buffer before flushing.
	// Default: 256
	BufferSize int

	// FlushInterval is how often to flush buffered events.
	// Default: 5 seconds
	FlushInterval time.Duration

	// Verbose also prints events to stdout.
	Verbose bool
}

// Logger is the audit trail writer.
type Logger struct {
	config *LoggerConfig
	file   *os.File
	mu     sync.Mutex

	buffer   []Event
	bufferMu sync.Mutex

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewLogger creates an audit logger appending to the configured file.
func NewLogger(config *LoggerConfig) (*Logger, error) {
	if config == nil || config.LogFile == "" {
		return nil, fmt.Errorf("audit: log file path is required")
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}

	dir := filepath.Dir(config.LogFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}

	// 0640: owner read/write, group read
	file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("open audit log file: %w", err)
	}

	return &Logger{
		config: config,
		file:   file,
		buffer: make([]Event, 0, config.BufferSize),
		stopCh: make(chan struct{}),
	}, nil
}

// Start begins background flushing.
func (l *Logger) Start() {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.mu.Unlock()

	l.wg.Add(1)
	go l.flushLoop()
}

// Stop stops the logger, flushes remaining events and closes the file.
func (l *Logger) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	close(l.stopCh)
	l.mu.Unlock()

	l.wg.Wait()

	l.Flush()
	return l.file.Close()
}

// Log records an audit event. The event id and timestamp are assigned
// here so callers never fabricate them.
func (l *Logger) Log(event Event) {
	event.ID = uuid.NewString()
	event.Timestamp = time.Now().UTC()

	l.bufferMu.Lock()
	l.buffer = append(l.buffer, event)
	shouldFlush := len(l.buffer) >= l.config.BufferSize
	l.bufferMu.Unlock()

	if l.config.Verbose {
		l.printEvent(event)
	}

	if shouldFlush {
		go l.Flush()
	}
}

// ===== Convenience methods =====

// CaseScored records a fresh scoring with its outcome.
func (l *Logger) CaseScored(caseID, reportID string, score risk.Score) {
	l.Log(Event{
		Type:     EventCaseScored,
		Severity: SeverityInfo,
		CaseID:   caseID,
		ReportID: reportID,
		Message:  fmt.Sprintf("case scored %s", score.Severity),
		Details: map[string]any{
			"profile":   string(score.Profile.Kind),
			"verdict":   string(score.Summary.Level),
			"composite": score.Composite,
			"unit":      string(score.Unit),
			"severity":  string(score.Severity),
		},
	})
}

// CaseCached records an unchanged case served from its record.
func (l *Logger) CaseCached(caseID, reportID string) {
	l.Log(Event{
		Type:     EventCaseCached,
		Severity: SeverityInfo,
		CaseID:   caseID,
		ReportID: reportID,
		Message:  "fingerprint unchanged, recorded score served",
	})
}

// CaseSkipped records a case that could not be scored this pass.
func (l *Logger) CaseSkipped(caseID string, err error) {
	event := Event{
		Type:     EventCaseSkipped,
		Severity: SeverityWarning,
		CaseID:   caseID,
		Message:  "case skipped",
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// ReportPosted records a confirmed report post.
func (l *Logger) ReportPosted(caseID, reportID string) {
	l.Log(Event{
		Type:     EventReportPosted,
		Severity: SeverityInfo,
		CaseID:   caseID,
		ReportID: reportID,
		Message:  "risk report posted to case store",
	})
}

// Escalated records an issue tracker escalation.
func (l *Logger) Escalated(caseID, notifier, issueURL string, err error) {
	event := Event{
		Type:     EventEscalated,
		Severity: SeverityInfo,
		CaseID:   caseID,
		Message:  fmt.Sprintf("case escalated via %s", notifier),
		Details:  map[string]any{"notifier": notifier, "issue_url": issueURL},
	}
	if err != nil {
		event.Severity = SeverityError
		event.Error = err.Error()
		event.Message = fmt.Sprintf("escalation via %s failed", notifier)
	}
	l.Log(event)
}

// WatchStarted records a polling loop start.
func (l *Logger) WatchStarted(interval time.Duration, concurrency int) {
	l.Log(Event{
		Type:     EventWatchStarted,
		Severity: SeverityInfo,
		Message:  "polling loop started",
		Details:  map[string]any{"interval": interval.String(), "concurrency": concurrency},
	})
}

// WatchStopped records a polling loop stop.
func (l *Logger) WatchStopped() {
	l.Log(Event{
		Type:     EventWatchStopped,
		Severity: SeverityInfo,
		Message:  "polling loop stopped",
	})
}

// Hook adapts the logger to a scoring hook, so every orchestrator
// outcome lands in the trail.
func (l *Logger) Hook() scoring.Hook {
	return func(_ context.Context, _ cases.Case, out scoring.Outcome) {
		switch out.Disposition {
		case scoring.DispositionScored:
			l.CaseScored(out.CaseID, out.ReportID, out.Score)
			l.ReportPosted(out.CaseID, out.ReportID)
		case scoring.DispositionCached:
			l.CaseCached(out.CaseID, out.ReportID)
		default:
			l.CaseSkipped(out.CaseID, out.Err)
		}
	}
}

// Flush writes buffered events to disk.
func (l *Logger) Flush() {
	l.bufferMu.Lock()
	if len(l.buffer) == 0 {
		l.bufferMu.Unlock()
		return
	}
	events := l.buffer
	l.buffer = make([]Event, 0, l.config.BufferSize)
	l.bufferMu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = l.file.Write(data)
		_, _ = l.file.Write([]byte("\n"))
	}

	_ = l.file.Sync()
}

// flushLoop periodically flushes buffered events.
func (l *Logger) flushLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.Flush()
		}
	}
}

// printEvent prints an event to console in human-readable format.
func (l *Logger) printEvent(event Event) {
	timestamp := event.Timestamp.Format("2006-01-02 15:04:05")
	fmt.Printf("[%s] [%s] %s: %s\n", timestamp, event.Severity, event.Type, event.Message)
	if event.Error != "" {
		fmt.Printf("  Error: %s\n", event.Error)
	}
}
