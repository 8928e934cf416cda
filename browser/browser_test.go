package browser

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/applyflow/page"
)

func TestShouldBlock(t *testing.T) {
	set := map[string]bool{"images": true, "fonts": true, "document": true}
	tests := []struct {
		typ  string
		want bool
	}{
		{"Image", true},
		{"Font", true},
		{"Stylesheet", false},
		{"Media", false},
		{"Document", false},
		{"Script", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, shouldBlock(set, tt.typ), tt.typ)
	}
}

func TestSnapshotReply(t *testing.T) {
	raw := `{
		"url": "https://boards.greenhouse.io/acme/jobs/42",
		"title": "Backend Engineer",
		"main_text": "About the role",
		"form_count": 1,
		"input_count": 7,
		"password_count": 0,
		"captcha_widgets": 0,
		"loading": false,
		"candidates": [{"text": "Apply", "tag": "button", "selector": "[data-af-cta=\"0\"]", "prominence": 0.8, "isolated": true, "order": 0}],
		"frames": [{"ref": "2", "url": "https://boards.greenhouse.io/embed/job_app?for=acme"}],
		"fingerprint": "x|1|7"
	}`
	var r snapshotReply
	require.NoError(t, json.Unmarshal([]byte(raw), &r))
	snap := r.snapshot()

	assert.Equal(t, "https://boards.greenhouse.io/acme/jobs/42", snap.URL)
	assert.Equal(t, 7, snap.Signals.InputCount)
	assert.Equal(t, page.URLTokens(snap.URL), snap.Signals.URLTokens)
	require.Len(t, snap.Candidates, 1)
	assert.Equal(t, `[data-af-cta="0"]`, snap.Candidates[0].Selector)
	require.Len(t, snap.Frames, 1)
	assert.Equal(t, "2", snap.Frames[0].Ref)
	assert.Equal(t, "x|1|7", snap.Fingerprint)
}

func TestScreenshotPath(t *testing.T) {
	got := screenshotPath("/var/shots", "job_1", "selector-missing #email", 3)
	assert.Equal(t, filepath.Join("/var/shots", "job_1", "003-selector-missing__email.png"), got)

	// Job IDs never escape the screenshot directory.
	got = screenshotPath("/var/shots", "../../etc", "x", 1)
	assert.Equal(t, filepath.Join("/var/shots", "etc", "001-x.png"), got)
}
