package profiles

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/applyflow/candidate"
	"github.com/hazyhaar/applyflow/dbopen"
)

func testRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	db := dbopen.OpenMemory(t)
	r, err := New(context.Background(), db, cfg)
	require.NoError(t, err)
	return r
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern, url string
		want         bool
	}{
		{"*.greenhouse.io", "https://boards.greenhouse.io/acme/jobs/123", true},
		{"*.greenhouse.io", "https://greenhouse.io/", true},
		{"*.greenhouse.io", "https://greenhouse.io.evil.com/", false},
		{"*.myworkdayjobs.com", "https://acme.wd5.myworkdayjobs.com/en-US/careers/job/1", true},
		{"linkedin.com/jobs", "https://www.linkedin.com/jobs/view/42", true},
		{"linkedin.com/jobs", "https://www.linkedin.com/in/jane", false},
		{"indeed.*", "https://indeed.co.uk/viewjob?jk=1", true},
		{"boards.greenhouse.io/embed", "https://boards.greenhouse.io/embed/job_app?token=1", true},
		{"boards.greenhouse.io/embed", "https://boards.greenhouse.io/acme", false},
		{"", "https://example.com", false},
		{"example.com", "not a url", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchPattern(tt.pattern, tt.url))
		})
	}
}

func TestDetectSite(t *testing.T) {
	tests := map[string]string{
		"https://boards.greenhouse.io/company/jobs/123":       "greenhouse",
		"https://company.wd5.myworkdayjobs.com/job/123":       "workday",
		"https://jobs.lever.co/company/123":                   "lever",
		"https://ats.rippling.com/acme/jobs/9":                "rippling",
		"https://www.linkedin.com/jobs/view/1":                "linkedin",
		"https://uk.indeed.com/viewjob?jk=abc":                "indeed",
		"https://wellfound.com/jobs/1":                        "wellfound",
		"https://careers.example.com/positions/backend-2026": "",
	}
	for u, want := range tests {
		assert.Equal(t, want, DetectSite(u), u)
	}
}

func TestNew_SeedsBuiltinsOnce(t *testing.T) {
	ctx := context.Background()
	db := dbopen.OpenMemory(t)
	r, err := New(ctx, db, Config{})
	require.NoError(t, err)

	st, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(builtins), st.Profiles)

	_, err = New(ctx, db, Config{})
	require.NoError(t, err)
	st, err = r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(builtins), st.Profiles)
}

func TestMatch(t *testing.T) {
	ctx := context.Background()
	r := testRegistry(t, Config{})

	p, err := r.Match(ctx, "https://boards.greenhouse.io/acme/jobs/1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "greenhouse", p.Site)
	assert.Contains(t, p.Synonyms[candidate.Pronouns], "pronouns")
	assert.True(t, p.MatchesFrame("https://boards.greenhouse.io/embed/job_app?for=acme"))

	// Cached copies are not shared with callers.
	p.Site = "mutated"
	again, err := r.Match(ctx, "https://boards.greenhouse.io/acme/jobs/1")
	require.NoError(t, err)
	assert.Equal(t, "greenhouse", again.Site)

	none, err := r.Match(ctx, "https://careers.example.com/jobs/1")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestMatch_PathScopedPatternsShareHost(t *testing.T) {
	ctx := context.Background()
	r := testRegistry(t, Config{})

	p, err := r.Match(ctx, "https://www.linkedin.com/jobs/view/9")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "linkedin", p.Site)

	p, err = r.Match(ctx, "https://www.linkedin.com/in/jane")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestPublish_OverridesAndPurgesCache(t *testing.T) {
	ctx := context.Background()
	r := testRegistry(t, Config{SkipBuiltins: true})

	none, err := r.Match(ctx, "https://careers.acme.com/jobs/1")
	require.NoError(t, err)
	assert.Nil(t, none)

	p, err := r.Publish(ctx, &Profile{
		Site:          "Acme",
		URLPatterns:   []string{"careers.acme.com"},
		FramePatterns: []string{"apply.acme-ats.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "acme", p.Site)
	assert.Equal(t, TrustCommunity, p.TrustLevel)
	assert.Equal(t, 1.0, p.SuccessRate)

	got, err := r.Match(ctx, "https://careers.acme.com/jobs/1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, p.ID, got.ID)

	// Republishing keeps the ID.
	p2, err := r.Publish(ctx, &Profile{Site: "acme", URLPatterns: []string{"careers.acme.com", "jobs.acme.com"}})
	require.NoError(t, err)
	assert.Equal(t, p.ID, p2.ID)
	assert.Len(t, p2.URLPatterns, 2)

	_, err = r.Publish(ctx, &Profile{Site: "nopattern"})
	assert.Error(t, err)
}

func TestReportFailure_Degrades(t *testing.T) {
	ctx := context.Background()
	r := testRegistry(t, Config{DegradedThreshold: 0.9})

	for range 3 {
		_, err := r.ReportFailure(ctx, FailureReport{ProfileID: "prf_lever", Kind: "selector-missing", Selector: "#resume"})
		require.NoError(t, err)
	}
	p, err := r.Get(ctx, "prf_lever")
	require.NoError(t, err)
	assert.InDelta(t, 0.857375, p.SuccessRate, 1e-6)
	assert.Equal(t, 3, p.TotalFailures)

	st, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Reports)
	assert.Equal(t, []string{"lever"}, st.Degraded)

	reps, err := r.Reports(ctx, "prf_lever", 0)
	require.NoError(t, err)
	assert.Len(t, reps, 3)

	require.NoError(t, r.RecordSuccess(ctx, "prf_lever"))
	p, err = r.Get(ctx, "prf_lever")
	require.NoError(t, err)
	assert.Greater(t, p.SuccessRate, 0.857375)
}

func TestImportYAML(t *testing.T) {
	ctx := context.Background()
	r := testRegistry(t, Config{SkipBuiltins: true})

	n, err := r.ImportYAML(ctx, strings.NewReader(`
profiles:
  - site: smartrecruiters
    url_patterns: ["jobs.smartrecruiters.com"]
    frame_patterns: ["jobs.smartrecruiters.com/oneclick-ui"]
    apply_vocabulary: ["i'm interested"]
    synonyms:
      linkedin_url: ["linkedin profile url"]
`))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	frames, err := r.FramePatterns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"jobs.smartrecruiters.com/oneclick-ui"}, frames)

	_, err = r.ImportYAML(ctx, strings.NewReader("profiles: {"))
	assert.Error(t, err)
}

func TestWatch_PurgesOnExternalWrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	path := dir + "/profiles.db"
	db, err := dbopen.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	r, err := New(ctx, db, Config{SkipBuiltins: true, WatchInterval: 20 * time.Millisecond})
	require.NoError(t, err)

	changed := make(chan struct{}, 1)
	go r.Watch(ctx, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	// A second handle plays the operator importing from another process.
	other, err := dbopen.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { other.Close() })
	time.Sleep(60 * time.Millisecond)
	r2, err := New(ctx, other, Config{SkipBuiltins: true})
	require.NoError(t, err)
	_, err = r2.Publish(ctx, &Profile{Site: "acme", URLPatterns: []string{"careers.acme.com"}})
	require.NoError(t, err)

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not observe the external write")
	}
	p, err := r.Match(ctx, "https://careers.acme.com/1")
	require.NoError(t, err)
	require.NotNil(t, p)
}

func mcpSession(t *testing.T) *mcp.ClientSession {
	t.Helper()
	r := testRegistry(t, Config{})
	impl := &mcp.Implementation{Name: "profiles-test", Version: "0.1.0"}

	srv := mcp.NewServer(impl, nil)
	r.RegisterMCP(srv)
	serverT, clientT := mcp.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.Run(ctx, serverT) }()

	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, s *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	res, err := s.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text, res.IsError
}

func TestMCP_MatchAndReport(t *testing.T) {
	s := mcpSession(t)

	text, isErr := callTool(t, s, "applyflow_profiles_match", map[string]any{"url": "https://jobs.lever.co/acme/1/apply"})
	require.False(t, isErr, text)
	var m matchResponse
	require.NoError(t, json.Unmarshal([]byte(text), &m))
	require.True(t, m.Matched)
	assert.Equal(t, "lever", m.Profile.Site)

	text, isErr = callTool(t, s, "applyflow_profiles_report_failure", map[string]any{
		"profile_id": m.Profile.ID, "kind": "selector-ambiguous", "selector": "input[name=\"urls\"]",
	})
	require.False(t, isErr, text)

	text, isErr = callTool(t, s, "applyflow_profiles_stats", map[string]any{})
	require.False(t, isErr, text)
	var st Stats
	require.NoError(t, json.Unmarshal([]byte(text), &st))
	assert.Equal(t, 1, st.Reports)

	_, isErr = callTool(t, s, "applyflow_profiles_report_failure", map[string]any{"profile_id": "prf_nope", "kind": "x"})
	assert.True(t, isErr)
}

func TestMCP_Publish(t *testing.T) {
	s := mcpSession(t)
	text, isErr := callTool(t, s, "applyflow_profiles_publish", map[string]any{
		"site":         "teamtailor",
		"url_patterns": []string{"*.teamtailor.com"},
	})
	require.False(t, isErr, text)
	var p Profile
	require.NoError(t, json.Unmarshal([]byte(text), &p))
	assert.Equal(t, "teamtailor", p.Site)
	assert.Equal(t, TrustCommunity, p.TrustLevel)
}
