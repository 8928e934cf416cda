package mapper

import (
	"sort"
	"strings"
	"unicode"

	"github.com/hazyhaar/applyflow/candidate"
	"github.com/hazyhaar/applyflow/fields"
)

// Synonyms is the built-in fallback table: semantic key to the phrases a
// form may use for it.
var Synonyms = map[string][]string{
	candidate.FirstName:          {"first name", "firstname", "fname", "given name", "forename", "prenom", "prénom"},
	candidate.LastName:           {"last name", "lastname", "lname", "surname", "family name", "nom de famille"},
	candidate.FullName:           {"full name", "fullname", "your name", "name", "nom complet"},
	candidate.PreferredName:      {"preferred name", "preferred first name", "nickname"},
	candidate.LegalName:          {"legal name", "full legal name"},
	candidate.Email:              {"email", "e-mail", "email address", "courriel"},
	candidate.Phone:              {"phone", "telephone", "mobile", "cell", "phone number", "téléphone"},
	candidate.Address:            {"address", "street", "address line 1", "street address"},
	candidate.City:               {"city", "town", "ville"},
	candidate.State:              {"state", "province", "region"},
	candidate.ZipCode:            {"zip", "zip code", "zipcode", "postal code", "postcode"},
	candidate.Country:            {"country", "pays"},
	candidate.CurrentCompany:     {"current company", "company", "employer", "current employer", "organization"},
	candidate.CurrentTitle:       {"current title", "job title", "title", "current role", "current position"},
	candidate.YearsOfExperience:  {"years of experience", "experience years", "yoe", "years experience"},
	candidate.SalaryExpectation:  {"salary", "salary expectation", "expected salary", "compensation", "desired pay"},
	candidate.School:             {"school", "university", "college", "institution"},
	candidate.Degree:             {"degree"},
	candidate.Major:              {"major", "field of study", "discipline"},
	candidate.GraduationYear:     {"graduation year", "grad year", "year of graduation"},
	candidate.Resume:             {"resume", "cv", "résumé", "curriculum vitae"},
	candidate.CoverLetter:        {"cover letter", "motivation letter", "coverletter"},
	candidate.Portfolio:          {"portfolio"},
	candidate.LinkedInURL:        {"linkedin", "linkedin profile", "linkedin url"},
	candidate.GitHubURL:          {"github", "github profile"},
	candidate.Website:            {"website", "personal website", "personal site", "url"},
	candidate.Referral:           {"referral", "referred by", "who referred you"},
	candidate.HowDidYouHear:      {"how did you hear", "where did you hear", "how did you find"},
	candidate.WhyInterested:      {"why are you interested", "why do you want", "why interested", "why this role"},
	candidate.Availability:       {"availability", "notice period", "when can you start"},
	candidate.WorkAuthorization:  {"work authorization", "authorized to work", "legally authorized", "right to work", "eligible to work"},
	candidate.RequireSponsorship: {"sponsorship", "visa sponsorship", "require sponsorship"},
}

// matcher is the deterministic rule-based field matcher.
type matcher struct {
	phrases []phrase
}

type phrase struct {
	key     string
	compact string
	tokens  []string
}

func newMatcher(tables ...map[string][]string) *matcher {
	all := map[string][]string{}
	for k, v := range Synonyms {
		all[k] = append(all[k], v...)
	}
	for _, t := range tables {
		for k, v := range t {
			all[k] = append(all[k], v...)
		}
	}
	m := &matcher{}
	for k, list := range all {
		for _, p := range list {
			toks := tokenize(p)
			if len(toks) == 0 {
				continue
			}
			m.phrases = append(m.phrases, phrase{key: k, compact: strings.Join(toks, ""), tokens: toks})
		}
	}
	// Longest phrase first so "first name" beats "name"; key breaks ties.
	sort.Slice(m.phrases, func(i, j int) bool {
		a, b := m.phrases[i], m.phrases[j]
		if len(a.compact) != len(b.compact) {
			return len(a.compact) > len(b.compact)
		}
		if a.key != b.key {
			return a.key < b.key
		}
		return a.compact < b.compact
	})
	return m
}

// match returns the semantic key and candidate value for d. Label, name,
// aria-label, placeholder and the selector ID are tried first; nearby text
// only when they say nothing useful.
func (m *matcher) match(d fields.Descriptor, surface *candidate.Surface) (string, string, bool) {
	primary := []string{d.Label, d.Name, d.AriaLabel, d.Placeholder, selectorID(d.Selector)}
	if key, val, ok := m.matchTexts(d, primary, surface); ok {
		return key, val, true
	}
	return m.matchTexts(d, []string{d.NearbyText}, surface)
}

func (m *matcher) matchTexts(d fields.Descriptor, texts []string, surface *candidate.Surface) (string, string, bool) {
	var toks []string
	var compacts []string
	for _, t := range texts {
		tt := tokenize(t)
		if len(tt) == 0 {
			continue
		}
		toks = append(toks, tt...)
		compacts = append(compacts, strings.Join(tt, ""))
	}
	if len(toks) == 0 {
		return "", "", false
	}
	tokSet := map[string]bool{}
	for _, t := range toks {
		tokSet[t] = true
	}

	for _, p := range m.phrases {
		if !allowed(d.ControlType, p.key) {
			continue
		}
		if !p.hit(tokSet, compacts) {
			continue
		}
		if val, ok := surface.Get(p.key); ok {
			return p.key, val, true
		}
	}
	return "", "", false
}

// hit: single short words must match a whole token ("state" must not match
// "statement"); longer phrases may match inside a compacted text
// ("qualifications" inside "basic_qualifications").
func (p phrase) hit(tokSet map[string]bool, compacts []string) bool {
	if len(p.tokens) == 1 && len(p.compact) < 6 {
		return tokSet[p.compact]
	}
	for _, c := range compacts {
		if strings.Contains(c, p.compact) {
			return true
		}
	}
	return false
}

// allowed keeps file inputs to documents and documents to file inputs.
func allowed(ct fields.ControlType, key string) bool {
	if ct == fields.File {
		return key == candidate.Resume
	}
	if key == candidate.Resume {
		return false
	}
	return ct != fields.Checkbox
}

func tokenize(s string) []string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("é", "e", "è", "e", "ê", "e", "à", "a", "ç", "c").Replace(s)
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func selectorID(sel string) string {
	if strings.HasPrefix(sel, "#") && !strings.ContainsAny(sel, " >[:.") {
		return sel[1:]
	}
	return ""
}
