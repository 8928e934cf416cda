package journal

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// domPolicy keeps form structure and the attributes selectors are built
// from. Scripts, event handlers, styles and value attributes (candidate
// data) are dropped.
var domPolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"form", "fieldset", "legend", "label", "input", "select", "option", "optgroup",
		"textarea", "button", "div", "span", "p", "section", "article", "main",
		"ul", "ol", "li", "h1", "h2", "h3", "h4", "h5", "h6", "strong", "em", "small", "iframe",
	)
	p.AllowAttrs(
		"id", "class", "name", "type", "for", "role", "placeholder", "required",
		"disabled", "checked", "selected", "multiple", "autocomplete", "title",
		"aria-label", "aria-labelledby", "aria-required", "aria-invalid", "aria-describedby",
		"data-action", "data-test", "data-testid", "data-qa",
	).Globally()
	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("src").OnElements("iframe")
	p.AllowElements("a")
	p.AllowRelativeURLs(true)
	return p
}()

// SanitizeDOM strips a DOM fragment down to structure and caps it at max
// bytes.
func SanitizeDOM(fragment string, max int) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return ""
	}
	out := domPolicy.Sanitize(fragment)
	if max > 0 && len(out) > max {
		cut := max
		for cut > 0 && out[cut]&0xC0 == 0x80 {
			cut--
		}
		out = out[:cut] + "<!-- truncated -->"
	}
	return out
}
