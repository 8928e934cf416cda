package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/applyflow/dbopen"
	"github.com/hazyhaar/applyflow/page"
)

// Schema creates the journal tables. Rows are inserted, never updated.
const Schema = `
CREATE TABLE IF NOT EXISTS error_records (
	id             TEXT PRIMARY KEY,
	job_id         TEXT NOT NULL,
	context_id     TEXT NOT NULL DEFAULT '',
	url            TEXT NOT NULL DEFAULT '',
	selector       TEXT NOT NULL DEFAULT '',
	field_label    TEXT NOT NULL DEFAULT '',
	kind           TEXT NOT NULL,
	detail         TEXT NOT NULL DEFAULT '',
	dom_snapshot   TEXT NOT NULL DEFAULT '',
	screenshot_ref TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_error_records_job ON error_records(job_id);
CREATE INDEX IF NOT EXISTS idx_error_records_kind ON error_records(kind, created_at);

CREATE TABLE IF NOT EXISTS navigation_events (
	id              TEXT PRIMARY KEY,
	job_id          TEXT NOT NULL,
	from_context_id TEXT NOT NULL DEFAULT '',
	to_context_id   TEXT NOT NULL DEFAULT '',
	trigger_kind    TEXT NOT NULL,
	outcome         TEXT NOT NULL,
	detail          TEXT NOT NULL DEFAULT '',
	from_url        TEXT NOT NULL DEFAULT '',
	to_url          TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_navigation_events_job ON navigation_events(job_id, created_at);

CREATE TABLE IF NOT EXISTS fill_records (
	id           TEXT PRIMARY KEY,
	job_id       TEXT NOT NULL,
	context_id   TEXT NOT NULL DEFAULT '',
	url          TEXT NOT NULL DEFAULT '',
	selector     TEXT NOT NULL,
	field_label  TEXT NOT NULL DEFAULT '',
	semantic_key TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL,
	confidence   REAL NOT NULL,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fill_records_job ON fill_records(job_id);
`

// SQLite persists records to the journal tables. The caller owns db; Close
// is a no-op.
type SQLite struct {
	db *sql.DB
}

// NewSQLite wraps db, creating the tables if needed.
func NewSQLite(ctx context.Context, db *sql.DB) (*SQLite, error) {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("journal: schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) WriteError(ctx context.Context, r ErrorRecord) error {
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO error_records
			(id, job_id, context_id, url, selector, field_label, kind, detail, dom_snapshot, screenshot_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.JobID, r.ContextID, r.URL, r.Selector, r.FieldLabel, string(r.Kind),
		r.Detail, r.DOMSnapshot, r.ScreenshotRef, r.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("journal: insert error record: %w", err)
	}
	return nil
}

func (s *SQLite) WriteNavigation(ctx context.Context, e page.NavigationEvent) error {
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO navigation_events
			(id, job_id, from_context_id, to_context_id, trigger_kind, outcome, detail, from_url, to_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.JobID, e.FromContextID, e.ToContextID, string(e.Trigger), string(e.Outcome),
		e.Detail, e.FromURL, e.ToURL, e.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("journal: insert navigation event: %w", err)
	}
	return nil
}

func (s *SQLite) WriteFill(ctx context.Context, r FillRecord) error {
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO fill_records
			(id, job_id, context_id, url, selector, field_label, semantic_key, source, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.JobID, r.ContextID, r.URL, r.Selector, r.FieldLabel, r.SemanticKey,
		r.Source, r.Confidence, r.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("journal: insert fill record: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error { return nil }

// ErrorFilter narrows Errors. Zero values match everything.
type ErrorFilter struct {
	JobID string
	Kind  FailureKind
	Since time.Time
	Limit int
}

// Errors lists error records, newest first.
func (s *SQLite) Errors(ctx context.Context, f ErrorFilter) ([]ErrorRecord, error) {
	q := `SELECT id, job_id, context_id, url, selector, field_label, kind, detail, dom_snapshot, screenshot_ref, created_at
		FROM error_records WHERE 1=1`
	var args []any
	if f.JobID != "" {
		q += ` AND job_id = ?`
		args = append(args, f.JobID)
	}
	if f.Kind != "" {
		q += ` AND kind = ?`
		args = append(args, string(f.Kind))
	}
	if !f.Since.IsZero() {
		q += ` AND created_at >= ?`
		args = append(args, f.Since.UnixMilli())
	}
	q += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query errors: %w", err)
	}
	defer rows.Close()

	var out []ErrorRecord
	for rows.Next() {
		var r ErrorRecord
		var kind string
		var ts int64
		if err := rows.Scan(&r.ID, &r.JobID, &r.ContextID, &r.URL, &r.Selector, &r.FieldLabel,
			&kind, &r.Detail, &r.DOMSnapshot, &r.ScreenshotRef, &ts); err != nil {
			return nil, fmt.Errorf("journal: scan error record: %w", err)
		}
		r.Kind = FailureKind(kind)
		r.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Navigation lists the events of one job in order.
func (s *SQLite) Navigation(ctx context.Context, jobID string) ([]page.NavigationEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, from_context_id, to_context_id, trigger_kind, outcome, detail, from_url, to_url, created_at
		FROM navigation_events WHERE job_id = ? ORDER BY created_at, rowid`, jobID)
	if err != nil {
		return nil, fmt.Errorf("journal: query navigation: %w", err)
	}
	defer rows.Close()

	var out []page.NavigationEvent
	for rows.Next() {
		var e page.NavigationEvent
		var trig, outcome string
		var ts int64
		if err := rows.Scan(&e.ID, &e.JobID, &e.FromContextID, &e.ToContextID, &trig, &outcome,
			&e.Detail, &e.FromURL, &e.ToURL, &ts); err != nil {
			return nil, fmt.Errorf("journal: scan navigation: %w", err)
		}
		e.Trigger = page.Trigger(trig)
		e.Outcome = page.Outcome(outcome)
		e.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Errors: make(map[FailureKind]int)}
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM error_records GROUP BY kind`)
	if err != nil {
		return st, fmt.Errorf("journal: stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return st, fmt.Errorf("journal: stats: %w", err)
		}
		st.Errors[FailureKind(kind)] = n
	}
	if err := rows.Err(); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM navigation_events`).Scan(&st.Navigation); err != nil {
		return st, fmt.Errorf("journal: stats: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fill_records`).Scan(&st.Fills); err != nil {
		return st, fmt.Errorf("journal: stats: %w", err)
	}
	return st, nil
}
