// Package journal persists an audit trail of gate activity in SQLite.
// Writes are best effort by contract: the proposal flow never lets a journal
// failure change a decision, so errors here cost observability only.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"warden/internal/logging"
	"warden/internal/proposal"
	"warden/internal/reduction"
)

const schema = `
CREATE TABLE IF NOT EXISTS proposal_history (
  id              INTEGER PRIMARY KEY AUTOINCREMENT,
  task_id         TEXT NOT NULL,
  tag             TEXT NOT NULL,
  at              INTEGER NOT NULL,
  candidate_name  TEXT NOT NULL DEFAULT '',
  candidate_digest TEXT NOT NULL DEFAULT '',
  detail          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_proposal_history_task ON proposal_history(task_id, at);

CREATE TABLE IF NOT EXISTS reductions (
  id              INTEGER PRIMARY KEY AUTOINCREMENT,
  envelope_id     TEXT NOT NULL,
  request_hash    TEXT NOT NULL,
  output_hash     TEXT NOT NULL,
  processed       INTEGER NOT NULL,
  executable      INTEGER NOT NULL,
  fallback_reason TEXT NOT NULL DEFAULT '',
  block_reason    TEXT NOT NULL DEFAULT '',
  duration_ms     INTEGER NOT NULL,
  at              INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reductions_envelope ON reductions(envelope_id);
`

// Store is a SQLite-backed audit journal.
type Store struct {
	db *sql.DB

	// now is injectable for tests.
	now func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the journal database, creating the schema if needed.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	logging.Journal("journal opened at %s", path)
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the journal handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendProposal records one proposal history entry.
func (s *Store) AppendProposal(ctx context.Context, e proposal.Entry) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("journal is not configured")
	}
	at := e.At
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO proposal_history (task_id, tag, at, candidate_name, candidate_digest, detail)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.TaskID,
		string(e.Tag),
		toMillis(at),
		e.CandidateName,
		e.CandidateDigest,
		e.Detail,
	)
	if err != nil {
		return fmt.Errorf("append proposal entry: %w", err)
	}
	return nil
}

// AppendReduction records one reduction round trip, processed or fallback.
func (s *Store) AppendReduction(ctx context.Context, o reduction.Outcome) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("journal is not configured")
	}
	executable := 0
	if o.Executable() {
		executable = 1
	}
	processed := 0
	blockReason := ""
	if res, ok := o.Result(); ok {
		processed = 1
		blockReason = res.BlockReason
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO reductions (envelope_id, request_hash, output_hash, processed, executable, fallback_reason, block_reason, duration_ms, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.Envelope().ID,
		o.RequestHash(),
		o.OutputHash(),
		processed,
		executable,
		string(o.FallbackReason()),
		blockReason,
		o.Duration().Milliseconds(),
		toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("append reduction: %w", err)
	}
	return nil
}

// ProposalRecord is one persisted proposal history row.
type ProposalRecord struct {
	TaskID          string
	Tag             string
	At              time.Time
	CandidateName   string
	CandidateDigest string
	Detail          string
}

// RecentProposals returns the newest entries for a task, newest first.
func (s *Store) RecentProposals(ctx context.Context, taskID string, limit int) ([]ProposalRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("journal is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT task_id, tag, at, candidate_name, candidate_digest, detail
		   FROM proposal_history
		  WHERE task_id = ?
		  ORDER BY at DESC, id DESC
		  LIMIT ?`,
		taskID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query proposals: %w", err)
	}
	defer rows.Close()

	var out []ProposalRecord
	for rows.Next() {
		var r ProposalRecord
		var at int64
		if err := rows.Scan(&r.TaskID, &r.Tag, &at, &r.CandidateName, &r.CandidateDigest, &r.Detail); err != nil {
			return nil, fmt.Errorf("scan proposal row: %w", err)
		}
		r.At = fromMillis(at)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query proposals: %w", err)
	}
	return out, nil
}

// ReductionCounts aggregates persisted reduction outcomes.
type ReductionCounts struct {
	Total     int
	Processed int
	Fallback  int
}

// CountReductions returns aggregate reduction counts for health reporting.
func (s *Store) CountReductions(ctx context.Context) (ReductionCounts, error) {
	if s == nil || s.db == nil {
		return ReductionCounts{}, fmt.Errorf("journal is not configured")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*), COALESCE(SUM(processed), 0) FROM reductions`,
	)
	var c ReductionCounts
	if err := row.Scan(&c.Total, &c.Processed); err != nil {
		return ReductionCounts{}, fmt.Errorf("count reductions: %w", err)
	}
	c.Fallback = c.Total - c.Processed
	return c, nil
}

var _ proposal.Journal = (*Store)(nil)
