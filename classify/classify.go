// Package classify assigns a page type to a set of readable page signals.
//
// Classification is a pure function of the signals passed in: it never talks
// to a browser. Captcha and login detection run first and short-circuit.
// Signals that are too thin to judge (loading document, empty body) yield
// page.Unknown with confidence 0 so the caller retries after a bounded wait.
package classify

import (
	"strings"

	"github.com/hazyhaar/applyflow/page"
)

// Result is the classifier verdict.
type Result struct {
	Class      page.Classification
	Confidence float64
	// Reasons lists the markers that fired, for logs and ErrorRecords.
	Reasons []string
}

// Config holds classifier vocabularies. Zero value uses the built-ins.
type Config struct {
	// Extra markers merged into the built-in lists (per-site profiles add
	// their own login wording, for instance).
	CaptchaMarkers []string
	LoginMarkers   []string
	JobMarkers     []string
	FormMarkers    []string
	// MainTextCap bounds how much main text is scanned. Default: 5000.
	MainTextCap int
	// MinFormInputs is the number of fillable controls that makes a page a
	// form page. Default: 3.
	MinFormInputs int
}

func (c *Config) defaults() {
	if c.MainTextCap <= 0 {
		c.MainTextCap = 5000
	}
	if c.MinFormInputs <= 0 {
		c.MinFormInputs = 3
	}
}

var (
	captchaMarkers = []string{
		"captcha", "recaptcha", "hcaptcha", "verify you are human",
		"are you a robot", "i'm not a robot", "cf-challenge",
		"checking your browser",
	}
	loginMarkers = []string{
		"sign in", "log in", "login", "signin", "forgot password",
		"create an account to continue", "connexion", "se connecter", "anmelden",
	}
	loginURLTokens = []string{"login", "signin", "sign", "auth", "sso", "oauth", "authorize"}
	jobMarkers     = []string{
		"responsibilities", "qualifications", "requirements", "about the role",
		"about the job", "what you'll do", "job description", "apply now",
		"apply for this job", "benefits", "postuler", "bewerben",
	}
	jobURLTokens = []string{"job", "jobs", "careers", "career", "position", "positions", "posting", "opening", "vacancy"}
	formMarkers  = []string{
		"first name", "last name", "email", "phone", "resume", "cv", "cover letter",
		"upload", "submit application", "linkedin profile",
	}
	formURLTokens   = []string{"apply", "application", "candidate"}
	redirectMarkers = []string{"you are being redirected", "redirecting", "you are now leaving", "continue to external site"}
)

// Classifier classifies page signals.
type Classifier struct {
	cfg     Config
	captcha []string
	login   []string
	job     []string
	form    []string
}

// New creates a Classifier.
func New(cfg Config) *Classifier {
	cfg.defaults()
	return &Classifier{
		cfg:     cfg,
		captcha: merge(captchaMarkers, cfg.CaptchaMarkers),
		login:   merge(loginMarkers, cfg.LoginMarkers),
		job:     merge(jobMarkers, cfg.JobMarkers),
		form:    merge(formMarkers, cfg.FormMarkers),
	}
}

// Classify is New(Config{}).Classify(s).
func Classify(s page.Signals) Result {
	return New(Config{}).Classify(s)
}

// Classify returns the page type for s.
func (c *Classifier) Classify(s page.Signals) Result {
	if s.Loading || s.Empty() {
		return Result{Class: page.Unknown}
	}

	text := s.MainText
	if len(text) > c.cfg.MainTextCap {
		text = text[:c.cfg.MainTextCap]
	}
	text = strings.ToLower(s.Title + "\n" + text)

	// Captcha first, then login.
	if s.CaptchaWidgets > 0 {
		return Result{Class: page.CaptchaPage, Confidence: 0.95, Reasons: []string{"captcha widget"}}
	}
	if hits := matches(text, c.captcha); len(hits) > 0 {
		conf := 0.7
		if s.FormCount == 0 && s.InputCount <= 1 {
			conf = 0.85
		}
		return Result{Class: page.CaptchaPage, Confidence: conf, Reasons: hits}
	}

	if r, ok := c.detectLogin(s, text); ok {
		return r
	}

	if hits := matches(text, redirectMarkers); len(hits) > 0 && s.InputCount == 0 {
		return Result{Class: page.ExternalRedirect, Confidence: 0.7, Reasons: hits}
	}

	formScore, formReasons := c.formScore(s, text)
	jobScore, jobReasons := c.jobScore(s, text)

	switch {
	case formScore >= 0.5 && formScore >= jobScore:
		return Result{Class: page.FormPage, Confidence: round(formScore), Reasons: formReasons}
	case jobScore >= 0.4:
		return Result{Class: page.JobDetail, Confidence: round(jobScore), Reasons: jobReasons}
	case formScore >= 0.5:
		return Result{Class: page.FormPage, Confidence: round(formScore), Reasons: formReasons}
	}

	// Something readable, nothing decisive.
	best := max(formScore, jobScore)
	return Result{Class: page.Unknown, Confidence: round(best), Reasons: append(formReasons, jobReasons...)}
}

func (c *Classifier) detectLogin(s page.Signals, text string) (Result, bool) {
	hits := matches(text, c.login)
	urlHits := tokenHits(s.URLTokens, loginURLTokens)

	// A password box with few other inputs is a login wall; an application
	// form that also creates an account has many more controls.
	if s.PasswordCount > 0 && s.InputCount <= s.PasswordCount+3 {
		reasons := append([]string{"password field"}, hits...)
		conf := 0.8
		if len(hits) > 0 || len(urlHits) > 0 {
			conf = 0.95
		}
		return Result{Class: page.LoginPage, Confidence: conf, Reasons: reasons}, true
	}
	if len(urlHits) > 0 && len(hits) > 0 && s.InputCount <= 3 {
		return Result{Class: page.LoginPage, Confidence: 0.75, Reasons: append(hits, urlHits...)}, true
	}
	return Result{}, false
}

func (c *Classifier) formScore(s page.Signals, text string) (float64, []string) {
	var score float64
	var reasons []string
	inputs := s.InputCount
	if inputs >= c.cfg.MinFormInputs {
		score += 0.4
		reasons = append(reasons, "fillable inputs")
		if s.FormCount > 0 {
			score += 0.2
			reasons = append(reasons, "form container")
		}
	} else if s.FormCount > 0 && inputs > 0 {
		score += 0.2
		reasons = append(reasons, "small form")
	}
	if hits := matches(text, c.form); len(hits) > 0 {
		score += min(0.3, 0.1*float64(len(hits)))
		reasons = append(reasons, hits...)
	}
	if hits := tokenHits(s.URLTokens, formURLTokens); len(hits) > 0 {
		score += 0.1
		reasons = append(reasons, hits...)
	}
	if inputs == 0 {
		score = min(score, 0.3)
	}
	return min(score, 1), reasons
}

func (c *Classifier) jobScore(s page.Signals, text string) (float64, []string) {
	var score float64
	var reasons []string
	if hits := matches(text, c.job); len(hits) > 0 {
		score += min(0.6, 0.15*float64(len(hits)))
		reasons = append(reasons, hits...)
	}
	if hits := tokenHits(s.URLTokens, jobURLTokens); len(hits) > 0 {
		score += 0.2
		reasons = append(reasons, hits...)
	}
	if len(s.MainText) > 800 {
		score += 0.1
		reasons = append(reasons, "long description")
	}
	return min(score, 1), reasons
}

func matches(text string, markers []string) []string {
	var hits []string
	for _, m := range markers {
		if strings.Contains(text, m) {
			hits = append(hits, m)
		}
	}
	return hits
}

func tokenHits(tokens, want []string) []string {
	var hits []string
	for _, t := range tokens {
		for _, w := range want {
			if t == w {
				hits = append(hits, "url:"+t)
			}
		}
	}
	return hits
}

func merge(base, extra []string) []string {
	out := make([]string, 0, len(base)+len(extra))
	out = append(out, base...)
	for _, e := range extra {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			out = append(out, e)
		}
	}
	return out
}

func round(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}
