package profiles

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hazyhaar/applyflow/dbopen"
)

// Schema contains the DDL for the profile registry.
const Schema = `
CREATE TABLE IF NOT EXISTS profiles (
    id               TEXT PRIMARY KEY,
    site             TEXT NOT NULL UNIQUE,
    url_patterns     TEXT NOT NULL DEFAULT '[]',
    frame_patterns   TEXT NOT NULL DEFAULT '[]',
    apply_vocabulary TEXT NOT NULL DEFAULT '[]',
    synonyms         TEXT NOT NULL DEFAULT '{}',
    trust_level      TEXT NOT NULL DEFAULT 'community',
    success_rate     REAL NOT NULL DEFAULT 1.0,
    total_uses       INTEGER NOT NULL DEFAULT 0,
    total_failures   INTEGER NOT NULL DEFAULT 0,
    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_profiles_success ON profiles(success_rate DESC);

-- Failure reports feed the offline review of stale profiles.
CREATE TABLE IF NOT EXISTS failure_reports (
    id          TEXT PRIMARY KEY,
    profile_id  TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
    job_id      TEXT NOT NULL DEFAULT '',
    kind        TEXT NOT NULL DEFAULT '',
    selector    TEXT NOT NULL DEFAULT '',
    message     TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_failure_reports_profile ON failure_reports(profile_id);
CREATE INDEX IF NOT EXISTS idx_failure_reports_time ON failure_reports(created_at DESC);
`

const profileColumns = `id, site, url_patterns, frame_patterns, apply_vocabulary, synonyms,
	trust_level, success_rate, total_uses, total_failures, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	p := &Profile{}
	var urls, frames, vocab, syn string
	if err := row.Scan(&p.ID, &p.Site, &urls, &frames, &vocab, &syn,
		&p.TrustLevel, &p.SuccessRate, &p.TotalUses, &p.TotalFailures, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		raw string
		dst any
	}{{urls, &p.URLPatterns}, {frames, &p.FramePatterns}, {vocab, &p.ApplyVocabulary}, {syn, &p.Synonyms}} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("profiles: decode %s: %w", p.Site, err)
		}
	}
	return p, nil
}

func (r *Registry) insert(ctx context.Context, p *Profile) error {
	urls, _ := json.Marshal(nonNil(p.URLPatterns))
	frames, _ := json.Marshal(nonNil(p.FramePatterns))
	vocab, _ := json.Marshal(nonNil(p.ApplyVocabulary))
	syn, _ := json.Marshal(p.Synonyms)
	if p.Synonyms == nil {
		syn = []byte("{}")
	}
	now := r.now().UnixMilli()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := dbopen.Exec(ctx, r.db, `
		INSERT INTO profiles (`+profileColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(site) DO UPDATE SET
			url_patterns = excluded.url_patterns,
			frame_patterns = excluded.frame_patterns,
			apply_vocabulary = excluded.apply_vocabulary,
			synonyms = excluded.synonyms,
			trust_level = excluded.trust_level,
			updated_at = excluded.updated_at`,
		p.ID, p.Site, string(urls), string(frames), string(vocab), string(syn),
		p.TrustLevel, p.SuccessRate, p.TotalUses, p.TotalFailures, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *Registry) get(ctx context.Context, query string, arg any) (*Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE `+query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (r *Registry) list(ctx context.Context, limit int) ([]*Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM profiles ORDER BY success_rate DESC, site`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// recordOutcome moves success_rate with an exponential moving average,
// alpha 0.05.
func (r *Registry) recordOutcome(ctx context.Context, id string, ok bool) error {
	now := r.now().UnixMilli()
	q := `UPDATE profiles SET
			success_rate = MIN(1.0, success_rate * 0.95 + 0.05),
			total_uses = total_uses + 1,
			updated_at = ?
		WHERE id = ?`
	if !ok {
		q = `UPDATE profiles SET
			success_rate = MAX(0.0, success_rate * 0.95),
			total_failures = total_failures + 1,
			updated_at = ?
		WHERE id = ?`
	}
	_, err := dbopen.Exec(ctx, r.db, q, now, id)
	return err
}

func (r *Registry) count(ctx context.Context, table string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n)
	return n, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
