package profiles

import (
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/hazyhaar/applyflow/candidate"
	"github.com/hazyhaar/applyflow/page"
)

// Trust levels.
const (
	TrustBuiltin   = "builtin"
	TrustCommunity = "community"
)

// Profile is what applyflow knows about one applicant-tracking site: how to
// recognise it, which embedded frames carry its form, and which extra words
// it uses for buttons and fields.
type Profile struct {
	ID   string `json:"id" yaml:"id"`
	Site string `json:"site" yaml:"site"`
	// URLPatterns are host globs with an optional path prefix, e.g.
	// "*.myworkdayjobs.com" or "linkedin.com/jobs".
	URLPatterns []string `json:"url_patterns" yaml:"url_patterns"`
	// FramePatterns select the iframes the navigator descends into.
	FramePatterns   []string            `json:"frame_patterns,omitempty" yaml:"frame_patterns"`
	ApplyVocabulary []string            `json:"apply_vocabulary,omitempty" yaml:"apply_vocabulary"`
	Synonyms        map[string][]string `json:"synonyms,omitempty" yaml:"synonyms"`
	TrustLevel      string              `json:"trust_level" yaml:"trust_level"`
	SuccessRate     float64             `json:"success_rate" yaml:"-"`
	TotalUses       int                 `json:"total_uses" yaml:"-"`
	TotalFailures   int                 `json:"total_failures" yaml:"-"`
	CreatedAt       int64               `json:"created_at" yaml:"-"`
	UpdatedAt       int64               `json:"updated_at" yaml:"-"`
}

// Matches reports whether rawURL belongs to the profile's site.
func (p *Profile) Matches(rawURL string) bool {
	return matchAny(p.URLPatterns, rawURL) != ""
}

// MatchesFrame reports whether a frame URL is one of the profile's form
// frames.
func (p *Profile) MatchesFrame(frameURL string) bool {
	return matchAny(p.FramePatterns, frameURL) != ""
}

// specificity ranks the best pattern matching rawURL; longer patterns are
// more specific. Zero means no match.
func (p *Profile) specificity(rawURL string) int {
	return len(matchAny(p.URLPatterns, rawURL))
}

func (p *Profile) clone() *Profile {
	c := *p
	c.URLPatterns = slices.Clone(p.URLPatterns)
	c.FramePatterns = slices.Clone(p.FramePatterns)
	c.ApplyVocabulary = slices.Clone(p.ApplyVocabulary)
	if p.Synonyms != nil {
		c.Synonyms = make(map[string][]string, len(p.Synonyms))
		for k, v := range p.Synonyms {
			c.Synonyms[k] = slices.Clone(v)
		}
	}
	return &c
}

func matchAny(patterns []string, rawURL string) string {
	best := ""
	for _, pat := range patterns {
		if MatchPattern(pat, rawURL) && len(pat) > len(best) {
			best = pat
		}
	}
	return best
}

// MatchPattern matches rawURL against "hostglob[/pathprefix]". The host glob
// uses path.Match syntax against the host without "www."; a leading "*."
// also matches the bare domain.
func MatchPattern(pattern, rawURL string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	host := page.DomainOf(rawURL)

	hostPat, pathPat, _ := strings.Cut(pattern, "/")
	if !matchHost(hostPat, host) {
		return false
	}
	if pathPat == "" {
		return true
	}
	pathPat = "/" + strings.TrimSuffix(pathPat, "*")
	return strings.HasPrefix(strings.ToLower(u.EscapedPath()), pathPat)
}

func matchHost(pat, host string) bool {
	if ok, _ := path.Match(pat, host); ok {
		return true
	}
	if rest, ok := strings.CutPrefix(pat, "*."); ok {
		if ok, _ := path.Match(rest, host); ok {
			return true
		}
	}
	return false
}

// DetectSite names the built-in site rawURL belongs to, or "" when none
// does.
func DetectSite(rawURL string) string {
	best, bestSpec := "", 0
	for _, p := range builtins {
		if s := p.specificity(rawURL); s > bestSpec {
			best, bestSpec = p.Site, s
		}
	}
	return best
}

// Builtin returns copies of the built-in site profiles.
func Builtin() []*Profile {
	out := make([]*Profile, len(builtins))
	for i, p := range builtins {
		out[i] = p.clone()
	}
	return out
}

var builtins = []*Profile{
	{
		ID:            "prf_greenhouse",
		Site:          "greenhouse",
		URLPatterns:   []string{"*.greenhouse.io"},
		FramePatterns: []string{"boards.greenhouse.io/embed", "job-boards.greenhouse.io/embed", "*.greenhouse.io/embed"},
		Synonyms: map[string][]string{
			candidate.Pronouns:           {"pronouns", "gender pronouns"},
			candidate.HowDidYouHear:      {"how did you hear"},
			candidate.WorkAuthorization:  {"authorized to work"},
			candidate.RequireSponsorship: {"require sponsorship"},
			candidate.SalaryExpectation:  {"expected salary", "compensation"},
			candidate.StartDate:          {"when can you start"},
			candidate.City:               {"where are you located"},
		},
	},
	{
		ID:            "prf_lever",
		Site:          "lever",
		URLPatterns:   []string{"*.lever.co"},
		FramePatterns: []string{"jobs.lever.co"},
		Synonyms: map[string][]string{
			candidate.CurrentCompany: {"current company", "current employer"},
			candidate.Website:        {"urls", "other website"},
			candidate.AdditionalInfo: {"additional information", "comments"},
		},
	},
	{
		ID:          "prf_workday",
		Site:        "workday",
		URLPatterns: []string{"*.myworkdayjobs.com", "*.workday.com"},
		ApplyVocabulary: []string{
			"apply manually", "autofill with resume", "use my last application",
		},
		Synonyms: map[string][]string{
			candidate.LegalName:      {"legal name", "full legal name"},
			candidate.PreferredName:  {"preferred name"},
			candidate.Country:        {"country/region"},
			candidate.State:          {"state/province"},
			candidate.ZipCode:        {"postal code"},
			candidate.PhoneType:      {"phone type", "phone device type"},
			candidate.EducationLevel: {"education level", "highest degree"},
			candidate.Major:          {"field of study"},
			candidate.GPA:            {"grade point average", "overall result"},
		},
	},
	{
		ID:            "prf_rippling",
		Site:          "rippling",
		URLPatterns:   []string{"ats.rippling.com", "jobs.rippling.com", "rippling.com/jobs"},
		FramePatterns: []string{"ats.rippling.com"},
	},
	{
		ID:            "prf_ashby",
		Site:          "ashby",
		URLPatterns:   []string{"jobs.ashbyhq.com"},
		FramePatterns: []string{"jobs.ashbyhq.com"},
	},
	{
		ID:            "prf_workable",
		Site:          "workable",
		URLPatterns:   []string{"apply.workable.com"},
		FramePatterns: []string{"apply.workable.com"},
	},
	{
		ID:              "prf_linkedin",
		Site:            "linkedin",
		URLPatterns:     []string{"linkedin.com/jobs"},
		ApplyVocabulary: []string{"easy apply"},
	},
	{
		ID:              "prf_indeed",
		Site:            "indeed",
		URLPatterns:     []string{"indeed.*", "*.indeed.*"},
		ApplyVocabulary: []string{"apply now", "apply on company site"},
	},
	{
		ID:          "prf_glassdoor",
		Site:        "glassdoor",
		URLPatterns: []string{"glassdoor.*"},
	},
	{
		ID:          "prf_wellfound",
		Site:        "wellfound",
		URLPatterns: []string{"wellfound.com", "angel.co", "angellist.com"},
	},
}

func init() {
	for _, p := range builtins {
		p.TrustLevel = TrustBuiltin
		p.SuccessRate = 1
	}
}
