// Package page holds the records that describe where a job pipeline is:
// PageContext snapshots, the per-job context Arena and the NavigationEvent
// log entries emitted on every transition.
package page

import (
	"net/url"
	"strings"
	"time"
)

// Classification is the page type assigned by the classifier.
type Classification string

const (
	Unknown          Classification = "unknown"
	JobDetail        Classification = "job_detail"
	FormPage         Classification = "form_page"
	LoginPage        Classification = "login_page"
	ExternalRedirect Classification = "external_redirect"
	CaptchaPage      Classification = "captcha_page"
)

// Valid reports whether c is one of the known classifications.
func (c Classification) Valid() bool {
	switch c {
	case Unknown, JobDetail, FormPage, LoginPage, ExternalRedirect, CaptchaPage:
		return true
	}
	return false
}

// Signals are the readable facts a classifier works from.
type Signals struct {
	Title     string   `json:"title"`
	MainText  string   `json:"main_text"`
	FormCount int      `json:"form_count"`
	URLTokens []string `json:"url_tokens"`
	// InputCount counts visible fillable controls outside <form> tags;
	// SPA forms frequently skip the element.
	InputCount int `json:"input_count"`
	// PasswordCount counts visible password inputs.
	PasswordCount int `json:"password_count"`
	// CaptchaWidgets counts recaptcha/hcaptcha iframes and captcha containers.
	CaptchaWidgets int `json:"captcha_widgets"`
	// Loading is true while document.readyState != "complete".
	Loading bool `json:"loading"`
}

// Empty reports whether the signals carry nothing to classify.
func (s Signals) Empty() bool {
	return s.Title == "" && strings.TrimSpace(s.MainText) == "" &&
		s.FormCount == 0 && s.InputCount == 0 && s.PasswordCount == 0 &&
		s.CaptchaWidgets == 0
}

// SurfaceKind is the kind of browsing surface a context attends.
type SurfaceKind string

const (
	SurfaceTop   SurfaceKind = "top"
	SurfaceTab   SurfaceKind = "tab"
	SurfaceFrame SurfaceKind = "frame"
)

// Context is one attended browsing surface at one moment. Contexts are never
// mutated after they enter an Arena; a navigation appends a successor.
type Context struct {
	ID         string         `json:"context_id"`
	JobID      string         `json:"job_id"`
	URL        string         `json:"url"`
	Domain     string         `json:"domain"`
	FrameChain []string       `json:"frame_chain,omitempty"`
	Surface    SurfaceKind    `json:"surface"`
	SurfaceRef string         `json:"surface_ref,omitempty"`
	Class      Classification `json:"classification"`
	Confidence float64        `json:"classification_confidence"`
	Timestamp  time.Time      `json:"timestamp"`
}

// InFrame reports whether the context is scoped to an embedded frame.
func (c Context) InFrame() bool { return len(c.FrameChain) > 0 }

// DomainOf returns the lower-cased host of rawURL without a leading "www.".
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// URLTokens splits a URL's host and path into lower-case tokens.
func URLTokens(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	split := func(r rune) bool {
		return r == '/' || r == '.' || r == '-' || r == '_' || r == '?' || r == '=' || r == '&'
	}
	var out []string
	for _, part := range []string{u.Hostname(), u.Path, u.RawQuery} {
		for _, tok := range strings.FieldsFunc(strings.ToLower(part), split) {
			out = append(out, tok)
		}
	}
	return out
}
