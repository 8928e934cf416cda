package classify_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/applyflow/classify"
	"github.com/hazyhaar/applyflow/page"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		signals page.Signals
		want    page.Classification
		minConf float64
	}{
		{
			name:    "loading",
			signals: page.Signals{Title: "Acme", Loading: true},
			want:    page.Unknown,
		},
		{
			name:    "empty",
			signals: page.Signals{},
			want:    page.Unknown,
		},
		{
			name: "captcha widget wins over form",
			signals: page.Signals{
				Title: "Apply", FormCount: 1, InputCount: 8, CaptchaWidgets: 1,
			},
			want:    page.CaptchaPage,
			minConf: 0.9,
		},
		{
			name:    "captcha text",
			signals: page.Signals{Title: "Just a moment", MainText: "Checking your browser before accessing"},
			want:    page.CaptchaPage,
			minConf: 0.7,
		},
		{
			name: "login wall",
			signals: page.Signals{
				Title: "Sign in to continue", FormCount: 1, InputCount: 1, PasswordCount: 1,
				URLTokens: []string{"acme", "com", "login"},
			},
			want:    page.LoginPage,
			minConf: 0.9,
		},
		{
			name: "login beats job text",
			signals: page.Signals{
				Title: "Senior Engineer", MainText: "Responsibilities qualifications. Sign in to apply.",
				FormCount: 1, InputCount: 1, PasswordCount: 1,
			},
			want:    page.LoginPage,
			minConf: 0.8,
		},
		{
			name: "application form",
			signals: page.Signals{
				Title: "Apply: Backend Engineer", MainText: "First name Last name Email Phone Resume/CV upload",
				FormCount: 1, InputCount: 9, URLTokens: []string{"jobs", "123", "apply"},
			},
			want:    page.FormPage,
			minConf: 0.6,
		},
		{
			name: "job detail",
			signals: page.Signals{
				Title:     "Backend Engineer at Acme",
				MainText:  "About the role. Responsibilities: build things. Qualifications: Go. Benefits. Apply now",
				URLTokens: []string{"acme", "careers", "jobs", "42"},
			},
			want:    page.JobDetail,
			minConf: 0.6,
		},
		{
			name:    "redirect interstitial",
			signals: page.Signals{Title: "Redirecting", MainText: "You are being redirected to our careers site"},
			want:    page.ExternalRedirect,
			minConf: 0.7,
		},
		{
			name:    "readable but ambiguous",
			signals: page.Signals{Title: "Acme Corp", MainText: "Welcome to Acme"},
			want:    page.Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify.Classify(tt.signals)
			assert.Equal(t, tt.want, got.Class, "reasons: %v", got.Reasons)
			assert.GreaterOrEqual(t, got.Confidence, tt.minConf)
			assert.LessOrEqual(t, got.Confidence, 1.0)
		})
	}
}

func TestClassify_InsufficientIsZeroConfidence(t *testing.T) {
	got := classify.Classify(page.Signals{Title: "x", Loading: true})
	assert.Equal(t, page.Unknown, got.Class)
	assert.Zero(t, got.Confidence)
}

func TestClassify_ProfileLoginMarkers(t *testing.T) {
	c := classify.New(classify.Config{LoginMarkers: []string{"Workday Account"}})
	got := c.Classify(page.Signals{
		Title: "Workday account required", InputCount: 2,
		URLTokens: []string{"myworkdayjobs", "signin"},
	})
	assert.Equal(t, page.LoginPage, got.Class)
}

const jobHTML = `<!doctype html><html><head><title>Engineer - Acme</title>
<script>var x = "captcha";</script></head>
<body><nav>Home Careers</nav>
<main><h1>Backend Engineer</h1>
<h2>Responsibilities</h2><p>Build services.</p>
<h2>Qualifications</h2><ul><li>Go</li></ul>
<a href="/jobs/42/apply" class="btn">Apply now</a></main></body></html>`

const formHTML = `<html><head><title>Apply</title></head><body>
<form id="application">
 <label for="fn">First name</label><input id="fn" name="first_name">
 <label for="ln">Last name</label><input id="ln" name="last_name">
 <label for="em">Email</label><input id="em" type="email" name="email">
 <input type="hidden" name="token" value="x">
 <select name="country"><option>France</option></select>
 <textarea name="cover"></textarea>
 <input type="file" name="resume">
 <input type="submit" value="Submit application">
</form></body></html>`

func TestSignalsFromHTML_Job(t *testing.T) {
	s, err := classify.SignalsFromHTML(jobHTML, "https://acme.test/careers/jobs/42")
	require.NoError(t, err)
	assert.Equal(t, "Engineer - Acme", s.Title)
	assert.Zero(t, s.FormCount)
	assert.Zero(t, s.CaptchaWidgets)
	assert.Contains(t, s.MainText, "Responsibilities")
	assert.NotContains(t, s.MainText, "Home Careers")
	assert.NotContains(t, s.MainText, "captcha")

	assert.Equal(t, page.JobDetail, classify.Classify(s).Class)
}

func TestSignalsFromHTML_Form(t *testing.T) {
	s, err := classify.SignalsFromHTML(formHTML, "https://acme.test/jobs/42/apply")
	require.NoError(t, err)
	assert.Equal(t, 1, s.FormCount)
	assert.Equal(t, 6, s.InputCount)
	assert.Equal(t, page.FormPage, classify.Classify(s).Class)
}

func TestSignalsFromHTML_Captcha(t *testing.T) {
	s, err := classify.SignalsFromHTML(`<html><body><div class="g-recaptcha"></div></body></html>`, "https://x.test")
	require.NoError(t, err)
	assert.Equal(t, 1, s.CaptchaWidgets)
	assert.Equal(t, page.CaptchaPage, classify.Classify(s).Class)
}
