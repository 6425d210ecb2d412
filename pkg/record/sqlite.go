package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/soclabs/caserisk/pkg/compress"
	"github.com/soclabs/caserisk/pkg/logging"
	"github.com/soclabs/caserisk/pkg/risk"
)

// SQLiteStore persists scoring records in a local SQLite database so
// idempotency survives restarts. Report payloads are compressed before
// they hit disk.
type SQLiteStore struct {
	db         *sql.DB
	mu         sync.RWMutex
	compressor *compress.Compressor
	log        logging.Logger
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithCompressor overrides the report payload compressor.
func WithCompressor(c *compress.Compressor) SQLiteOption {
	return func(s *SQLiteStore) {
		s.compressor = c
	}
}

// WithLogger sets the store logger.
func WithLogger(log logging.Logger) SQLiteOption {
	return func(s *SQLiteStore) {
		s.log = log
	}
}

// NewSQLiteStore opens (or creates) the record database at path.
func NewSQLiteStore(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open record database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &SQLiteStore{
		db:         db,
		compressor: compress.New(compress.AlgorithmZSTD, compress.LevelDefault),
		log:        &logging.NopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init record schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scoring_records (
		case_id TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		score TEXT NOT NULL,
		report_id TEXT NOT NULL DEFAULT '',
		report BLOB,
		report_algo TEXT NOT NULL DEFAULT 'none',
		report_size INTEGER NOT NULL DEFAULT 0,
		scored_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_updated_at ON scoring_records(updated_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Get returns the record for a case, or nil when none exists.
func (s *SQLiteStore) Get(ctx context.Context, caseID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		rec       Record
		scoreJSON string
		report    []byte
		algo      string
		size      int
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT case_id, fingerprint, score, report_id, report, report_algo, report_size, scored_at, updated_at
		FROM scoring_records WHERE case_id = ?
	`, caseID).Scan(
		&rec.CaseID, &rec.Fingerprint, &scoreJSON, &rec.ReportID, &report, &algo, &size,
		&rec.ScoredAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query record: %w", err)
	}

	var score risk.Score
	if err := json.Unmarshal([]byte(scoreJSON), &score); err != nil {
		return nil, fmt.Errorf("decode stored score for case %s: %w", caseID, err)
	}
	rec.Score = score

	if len(report) > 0 {
		dec, err := compress.ForAlgorithm(compress.Algorithm(algo))
		if err != nil {
			return nil, fmt.Errorf("stored report for case %s: %w", caseID, err)
		}
		body, err := dec.Decompress(report)
		if err != nil {
			return nil, fmt.Errorf("decompress stored report for case %s: %w", caseID, err)
		}
		rec.Report = body
	}

	return &rec, nil
}

// Put stores rec, guarded by the fingerprint read earlier. The write is a
// single upsert; the record on disk is always either the old row or the
// complete new one.
func (s *SQLiteStore) Put(ctx context.Context, rec *Record, prev string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	scoreJSON, err := json.Marshal(rec.Score)
	if err != nil {
		return fmt.Errorf("encode score: %w", err)
	}

	report := rec.Report
	algo := compress.AlgorithmNone
	if len(rec.Report) >= compress.DefaultMinSize {
		compressed, err := s.compressor.Compress(rec.Report)
		if err != nil {
			return fmt.Errorf("compress report: %w", err)
		}
		s.log.Debug("record: compressed report for case %s (%d -> %d bytes, ratio %.2f)",
			rec.CaseID, len(rec.Report), len(compressed), compress.Ratio(rec.Report, compressed))
		report = compressed
		algo = s.compressor.Algorithm()
	}

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO scoring_records (
			case_id, fingerprint, score, report_id, report, report_algo, report_size,
			scored_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(case_id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			score = excluded.score,
			report_id = excluded.report_id,
			report = excluded.report,
			report_algo = excluded.report_algo,
			report_size = excluded.report_size,
			scored_at = excluded.scored_at,
			updated_at = excluded.updated_at
		WHERE scoring_records.fingerprint = ?
	`,
		rec.CaseID, rec.Fingerprint, string(scoreJSON), rec.ReportID, report, string(algo),
		len(rec.Report), rec.ScoredAt, updatedAt, prev,
	)
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if affected == 0 {
		return ErrFingerprintConflict
	}

	return nil
}

// Count returns the number of recorded cases.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scoring_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
