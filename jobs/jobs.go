// Package jobs is the job record source: the queue of application URLs the
// runner works through and the status each one ends in.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/applyflow/dbopen"
	"github.com/hazyhaar/applyflow/idgen"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusParked    Status = "parked"
	StatusBlocked   Status = "blocked"
	StatusReady     Status = "ready"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
	StatusSubmitted Status = "submitted"
)

// ErrNotFound is returned for an unknown job ID.
var ErrNotFound = errors.New("jobs: not found")

// Job is one application to work on.
type Job struct {
	ID        string    `json:"id" yaml:"id"`
	URL       string    `json:"url" yaml:"url"`
	Company   string    `json:"company,omitempty" yaml:"company"`
	Title     string    `json:"title,omitempty" yaml:"title"`
	Status    Status    `json:"status" yaml:"-"`
	Note      string    `json:"note,omitempty" yaml:"-"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Source is what the runner needs from a job store.
type Source interface {
	FetchPending(ctx context.Context, status Status) ([]Job, error)
	UpdateStatus(ctx context.Context, id string, status Status, note string) error
}

// Schema creates the jobs table.
const Schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id          TEXT PRIMARY KEY,
    url         TEXT NOT NULL,
    company     TEXT NOT NULL DEFAULT '',
    title       TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'pending',
    note        TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at);
`

// Store is the SQLite-backed Source.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates the table if needed.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("jobs: schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Enqueue adds a pending job. An empty ID gets a generated one.
func (s *Store) Enqueue(ctx context.Context, j Job) (Job, error) {
	j.URL = strings.TrimSpace(j.URL)
	if j.URL == "" {
		return j, fmt.Errorf("jobs: enqueue: url is required")
	}
	if j.ID == "" {
		j.ID = idgen.Job()
	}
	now := s.now().UTC()
	j.Status = StatusPending
	j.CreatedAt, j.UpdatedAt = now, now
	if _, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO jobs (id, url, company, title, status, note, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		j.ID, j.URL, j.Company, j.Title, string(j.Status), "", now.UnixMilli(), now.UnixMilli()); err != nil {
		return j, fmt.Errorf("jobs: enqueue: %w", err)
	}
	return j, nil
}

// FetchPending returns jobs in status, oldest first.
func (s *Store) FetchPending(ctx context.Context, status Status) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, company, title, status, note, created_at, updated_at
		FROM jobs WHERE status = ? ORDER BY created_at, id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("jobs: fetch: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jobs: fetch: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Get returns one job.
func (s *Store) Get(ctx context.Context, id string) (Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `
		SELECT id, url, company, title, status, note, created_at, updated_at
		FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("jobs: get %s: %w", id, err)
	}
	return j, nil
}

// UpdateStatus sets a job's status and note.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status, note string) error {
	res, err := dbopen.Exec(ctx, s.db, `
		UPDATE jobs SET status = ?, note = ?, updated_at = ? WHERE id = ?`,
		string(status), note, s.now().UTC().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("jobs: update %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("jobs: update %s: %w", id, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (Job, error) {
	var j Job
	var status string
	var created, updated int64
	if err := sc.Scan(&j.ID, &j.URL, &j.Company, &j.Title, &status, &j.Note, &created, &updated); err != nil {
		return Job{}, err
	}
	j.Status = Status(status)
	j.CreatedAt = time.UnixMilli(created).UTC()
	j.UpdatedAt = time.UnixMilli(updated).UTC()
	return j, nil
}
