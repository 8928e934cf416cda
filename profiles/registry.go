// Package profiles is the registry of applicant-tracking site profiles.
//
// A profile tells the navigator which iframes hold a site's form, adds site
// wording to the CTA vocabulary and adds site field names to the mapper's
// synonym table. Built-in profiles are seeded on first open; operators add
// or override profiles with ImportYAML or over MCP. Pipelines report
// outcomes back so stale profiles surface in Stats.
//
// Usage:
//
//	reg, err := profiles.New(ctx, db, profiles.Config{Logger: logger})
//	p, err := reg.Match(ctx, "https://boards.greenhouse.io/acme/jobs/1")
//	go reg.Watch(ctx)
package profiles

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/applyflow/dbopen"
	"github.com/hazyhaar/applyflow/idgen"
	"github.com/hazyhaar/applyflow/page"
)

var (
	newProfileID = idgen.Prefixed("prf_", idgen.Short(12))
	newReportID  = idgen.Prefixed("rpt_", idgen.Default)
)

// Config configures a Registry.
type Config struct {
	// CacheSize bounds the host → profile cache. Default: 512.
	CacheSize int
	// DegradedThreshold is the success rate below which Stats lists a
	// profile as degraded. Default: 0.5.
	DegradedThreshold float64
	// SkipBuiltins leaves an empty registry empty.
	SkipBuiltins bool
	// WatchInterval is the PRAGMA data_version poll period. Default: 1s.
	WatchInterval time.Duration
	Logger        *zap.Logger
}

func (c *Config) defaults() {
	if c.CacheSize <= 0 {
		c.CacheSize = 512
	}
	if c.DegradedThreshold == 0 {
		c.DegradedThreshold = 0.5
	}
	if c.WatchInterval <= 0 {
		c.WatchInterval = time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

type cached struct {
	p *Profile // nil when no profile matches the host
}

// Registry stores profiles in SQLite and caches lookups by host.
type Registry struct {
	db    *sql.DB
	cfg   Config
	cache *lru.Cache[string, cached]
	now   func() time.Time
}

// New opens a registry on db, creating the tables and seeding the built-in
// profiles when the table is empty.
func New(ctx context.Context, db *sql.DB, cfg Config) (*Registry, error) {
	cfg.defaults()
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("profiles: schema: %w", err)
	}
	cache, err := lru.New[string, cached](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("profiles: cache: %w", err)
	}
	r := &Registry{db: db, cfg: cfg, cache: cache, now: time.Now}

	if !cfg.SkipBuiltins {
		n, err := r.count(ctx, "profiles")
		if err != nil {
			return nil, fmt.Errorf("profiles: count: %w", err)
		}
		if n == 0 {
			for _, p := range Builtin() {
				if err := r.insert(ctx, p); err != nil {
					return nil, fmt.Errorf("profiles: seed %s: %w", p.Site, err)
				}
			}
			cfg.Logger.Info("profiles: seeded builtins", zap.Int("count", len(builtins)))
		}
	}
	return r, nil
}

// Match returns the most specific profile for rawURL, or nil. Ties go to
// the profile with the higher success rate.
func (r *Registry) Match(ctx context.Context, rawURL string) (*Profile, error) {
	key := page.DomainOf(rawURL)
	if c, ok := r.cache.Get(key + "|" + firstSegment(rawURL)); ok {
		if c.p == nil {
			return nil, nil
		}
		return c.p.clone(), nil
	}

	all, err := r.list(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("profiles: match: %w", err)
	}
	var best *Profile
	bestSpec := 0
	for _, p := range all {
		s := p.specificity(rawURL)
		if s > bestSpec || (s == bestSpec && s > 0 && p.SuccessRate > best.SuccessRate) {
			best, bestSpec = p, s
		}
	}
	r.cache.Add(key+"|"+firstSegment(rawURL), cached{p: best})
	if best == nil {
		return nil, nil
	}
	r.cfg.Logger.Debug("profiles: matched", zap.String("site", best.Site), zap.String("host", key))
	return best.clone(), nil
}

// firstSegment is part of the cache key because path-scoped patterns
// (linkedin.com/jobs) split one host across profiles.
func firstSegment(rawURL string) string {
	_, rest, ok := strings.Cut(rawURL, "://")
	if !ok {
		return ""
	}
	_, p, _ := strings.Cut(rest, "/")
	seg, _, _ := strings.Cut(p, "/")
	seg, _, _ = strings.Cut(seg, "?")
	return strings.ToLower(seg)
}

// FramePatterns returns every frame pattern across profiles, deduplicated.
func (r *Registry) FramePatterns(ctx context.Context) ([]string, error) {
	all, err := r.list(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("profiles: frame patterns: %w", err)
	}
	var out []string
	for _, p := range all {
		out = append(out, p.FramePatterns...)
	}
	sort.Strings(out)
	return slices.Compact(out), nil
}

// Publish inserts p or replaces the profile with the same site. Counters
// of an existing profile are kept.
func (r *Registry) Publish(ctx context.Context, p *Profile) (*Profile, error) {
	p.Site = strings.ToLower(strings.TrimSpace(p.Site))
	if p.Site == "" {
		return nil, fmt.Errorf("profiles: publish: site is required")
	}
	if len(p.URLPatterns) == 0 {
		return nil, fmt.Errorf("profiles: publish %s: at least one url pattern is required", p.Site)
	}
	existing, err := r.get(ctx, "site = ?", p.Site)
	if err != nil {
		return nil, fmt.Errorf("profiles: publish: %w", err)
	}
	if existing != nil {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	} else if p.ID == "" {
		p.ID = newProfileID()
	}
	if p.TrustLevel == "" {
		p.TrustLevel = TrustCommunity
	}
	if existing == nil && p.SuccessRate == 0 {
		p.SuccessRate = 1
	}
	if err := r.insert(ctx, p); err != nil {
		return nil, fmt.Errorf("profiles: publish %s: %w", p.Site, err)
	}
	r.cache.Purge()
	r.cfg.Logger.Info("profiles: published", zap.String("site", p.Site), zap.String("id", p.ID))
	return r.Get(ctx, p.ID)
}

// Get returns a profile by ID, or nil.
func (r *Registry) Get(ctx context.Context, id string) (*Profile, error) {
	p, err := r.get(ctx, "id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("profiles: get %s: %w", id, err)
	}
	return p, nil
}

// List returns profiles ordered by success rate.
func (r *Registry) List(ctx context.Context, limit int) ([]*Profile, error) {
	out, err := r.list(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("profiles: list: %w", err)
	}
	return out, nil
}

// FailureReport is one profile-attributable failure.
type FailureReport struct {
	ID        string `json:"id"`
	ProfileID string `json:"profile_id"`
	JobID     string `json:"job_id,omitempty"`
	Kind      string `json:"kind"`
	Selector  string `json:"selector,omitempty"`
	Message   string `json:"message,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// ReportFailure stores rep and lowers the profile's success rate.
func (r *Registry) ReportFailure(ctx context.Context, rep FailureReport) (FailureReport, error) {
	if rep.ID == "" {
		rep.ID = newReportID()
	}
	rep.CreatedAt = r.now().UnixMilli()
	if _, err := dbopen.Exec(ctx, r.db, `
		INSERT INTO failure_reports (id, profile_id, job_id, kind, selector, message, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		rep.ID, rep.ProfileID, rep.JobID, rep.Kind, rep.Selector, rep.Message, rep.CreatedAt); err != nil {
		return rep, fmt.Errorf("profiles: report failure: %w", err)
	}
	if err := r.recordOutcome(ctx, rep.ProfileID, false); err != nil {
		return rep, fmt.Errorf("profiles: report failure: %w", err)
	}
	r.cache.Purge()
	r.cfg.Logger.Info("profiles: failure reported",
		zap.String("profile_id", rep.ProfileID), zap.String("kind", rep.Kind))
	return rep, nil
}

// RecordSuccess raises the profile's success rate.
func (r *Registry) RecordSuccess(ctx context.Context, profileID string) error {
	if err := r.recordOutcome(ctx, profileID, true); err != nil {
		return fmt.Errorf("profiles: record success: %w", err)
	}
	r.cache.Purge()
	return nil
}

// Reports lists the most recent failure reports for a profile.
func (r *Registry) Reports(ctx context.Context, profileID string, limit int) ([]FailureReport, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, profile_id, job_id, kind, selector, message, created_at
		FROM failure_reports WHERE profile_id = ?
		ORDER BY created_at DESC LIMIT ?`, profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("profiles: reports: %w", err)
	}
	defer rows.Close()
	var out []FailureReport
	for rows.Next() {
		var f FailureReport
		if err := rows.Scan(&f.ID, &f.ProfileID, &f.JobID, &f.Kind, &f.Selector, &f.Message, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("profiles: reports: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Stats holds registry statistics.
type Stats struct {
	Profiles int      `json:"profiles"`
	Reports  int      `json:"reports"`
	Degraded []string `json:"degraded,omitempty"`
}

// Stats counts profiles and reports and lists degraded sites.
func (r *Registry) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	var err error
	if st.Profiles, err = r.count(ctx, "profiles"); err != nil {
		return nil, fmt.Errorf("profiles: stats: %w", err)
	}
	if st.Reports, err = r.count(ctx, "failure_reports"); err != nil {
		return nil, fmt.Errorf("profiles: stats: %w", err)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT site FROM profiles WHERE success_rate < ? ORDER BY success_rate`, r.cfg.DegradedThreshold)
	if err != nil {
		return nil, fmt.Errorf("profiles: stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var site string
		if err := rows.Scan(&site); err != nil {
			return nil, fmt.Errorf("profiles: stats: %w", err)
		}
		st.Degraded = append(st.Degraded, site)
	}
	return &st, rows.Err()
}

type importFile struct {
	Profiles []*Profile `yaml:"profiles"`
}

// ImportYAML publishes every profile in a YAML document of the form
// "profiles: [...]" and returns how many were published.
func (r *Registry) ImportYAML(ctx context.Context, rd io.Reader) (int, error) {
	var f importFile
	if err := yaml.NewDecoder(rd).Decode(&f); err != nil {
		return 0, fmt.Errorf("profiles: import: %w", err)
	}
	for i, p := range f.Profiles {
		if _, err := r.Publish(ctx, p); err != nil {
			return i, err
		}
	}
	return len(f.Profiles), nil
}
