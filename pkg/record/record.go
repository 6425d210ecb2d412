// Package record persists per-case scoring state. A record is written
// only after a report was successfully posted, so its presence means the
// case store has seen the matching report. Records are never deleted by
// this system; closed cases simply stop being polled.
package record

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/soclabs/caserisk/pkg/errors"
	"github.com/soclabs/caserisk/pkg/risk"
)

// ErrFingerprintConflict is returned by Put when the stored fingerprint no
// longer matches the one the caller read before scoring. It means another
// writer got there first; the caller should re-read instead of retrying
// the write.
var ErrFingerprintConflict = errors.New("record: fingerprint changed since read")

// Record is the idempotency state for one case: the fingerprint that was
// scored last, the resulting score, and the report that was posted.
type Record struct {
	CaseID      string     `json:"case_id"`
	Fingerprint string     `json:"fingerprint"`
	Score       risk.Score `json:"score"`

	// ReportID is the id of the report posted for this score. Kept so
	// cached passes return the id that actually reached the case store,
	// not one re-derived from a later fingerprint.
	ReportID string `json:"report_id,omitempty"`

	// Report is the rendered report payload archived for audit.
	Report []byte `json:"report,omitempty"`

	ScoredAt  time.Time `json:"scored_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the scoring record repository.
//
// Put carries compare-and-set semantics: prev must be the fingerprint the
// caller read for this case before scoring, or empty when no record
// existed. A mismatch fails with ErrFingerprintConflict and leaves the
// stored record untouched; partial writes never happen.
type Store interface {
	// Get returns the record for a case, or nil when none exists.
	Get(ctx context.Context, caseID string) (*Record, error)

	// Put stores rec, guarded by the fingerprint read earlier.
	Put(ctx context.Context, rec *Record, prev string) error

	// Count returns the number of recorded cases.
	Count(ctx context.Context) (int64, error)

	// Close releases the store's resources.
	Close() error
}

// =============================================================================
// In-Memory Store
// =============================================================================

// MemoryStore keeps records in a map. Used for single-shot scoring runs
// and tests; state does not survive a restart, so every case re-scores
// once after one.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

// Get returns a copy of the record for a case, or nil when none exists.
func (s *MemoryStore) Get(_ context.Context, caseID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[caseID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// Put stores rec if the fingerprint on file still matches prev.
func (s *MemoryStore) Put(_ context.Context, rec *Record, prev string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[rec.CaseID]
	switch {
	case !ok && prev != "":
		// The record the caller read is gone; treat as a fresh write.
	case ok && current.Fingerprint != prev:
		return ErrFingerprintConflict
	}

	cp := *rec
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	s.records[rec.CaseID] = &cp
	return nil
}

// Count returns the number of recorded cases.
func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

// All returns every record sorted by case id. Test helper.
func (s *MemoryStore) All() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CaseID < out[j].CaseID })
	return out
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
