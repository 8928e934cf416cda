package fill

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var truthy = map[string]bool{"yes": true, "true": true, "y": true, "oui": true, "ja": true, "si": true, "1": true}
var falsy = map[string]bool{"no": true, "false": true, "n": true, "non": true, "nein": true, "0": true}

// MatchOption picks the option that best fits value: normalised equality,
// then yes/no equivalence, then state and country abbreviations, then
// containment (shortest option wins), then token overlap of at least one
// half. ok is false when nothing fits.
func MatchOption(value string, options []string) (string, bool) {
	v := normalize(value)
	if v == "" || len(options) == 0 {
		return "", false
	}
	for _, o := range options {
		if normalize(o) == v {
			return o, true
		}
	}

	if truthy[v] || falsy[v] {
		for _, o := range options {
			n := normalize(o)
			first := strings.SplitN(n, " ", 2)[0]
			if truthy[v] && truthy[first] || falsy[v] && falsy[first] {
				return o, true
			}
		}
	}

	if alts := aliases[v]; len(alts) > 0 {
		// Exact names first so "United States" beats "United States Minor
		// Outlying Islands".
		for _, prefix := range []bool{false, true} {
			for _, o := range options {
				n := normalize(o)
				for _, a := range alts {
					if n == a || prefix && strings.HasPrefix(n, a+" ") {
						return o, true
					}
				}
			}
		}
	}

	best, bestLen := "", 0
	for _, o := range options {
		n := normalize(o)
		if n == "" {
			continue
		}
		if strings.Contains(n, v) || strings.Contains(v, n) {
			if best == "" || len(n) < bestLen {
				best, bestLen = o, len(n)
			}
		}
	}
	if best != "" {
		return best, true
	}

	vt := strings.Fields(v)
	bestScore := 0.0
	for _, o := range options {
		s := overlap(vt, strings.Fields(normalize(o)))
		if s > bestScore {
			best, bestScore = o, s
		}
	}
	if bestScore >= 0.5 {
		return best, true
	}
	return "", false
}

// overlap is the Jaccard index of two token lists.
func overlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	inter := 0
	union := len(set)
	seen := make(map[string]bool, len(b))
	for _, t := range b {
		if seen[t] {
			continue
		}
		seen[t] = true
		if set[t] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

// normalize lowercases, strips accents and collapses punctuation to spaces.
func normalize(s string) string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(fold, s); err == nil {
		s = out
	}
	s = strings.ToLower(s)
	f := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(f, " ")
}

// aliasGroups lists names that denote the same place. Codes come first.
var aliasGroups = [][]string{
	{"al", "alabama"}, {"ak", "alaska"}, {"az", "arizona"}, {"ar", "arkansas"},
	{"ca", "california"}, {"co", "colorado"}, {"ct", "connecticut"}, {"de", "delaware"},
	{"dc", "district of columbia", "washington dc"}, {"fl", "florida"}, {"ga", "georgia"},
	{"hi", "hawaii"}, {"id", "idaho"}, {"il", "illinois"}, {"in", "indiana"}, {"ia", "iowa"},
	{"ks", "kansas"}, {"ky", "kentucky"}, {"la", "louisiana"}, {"me", "maine"},
	{"md", "maryland"}, {"ma", "massachusetts"}, {"mi", "michigan"}, {"mn", "minnesota"},
	{"ms", "mississippi"}, {"mo", "missouri"}, {"mt", "montana"}, {"ne", "nebraska"},
	{"nv", "nevada"}, {"nh", "new hampshire"}, {"nj", "new jersey"}, {"nm", "new mexico"},
	{"ny", "new york"}, {"nc", "north carolina"}, {"nd", "north dakota"}, {"oh", "ohio"},
	{"ok", "oklahoma"}, {"or", "oregon"}, {"pa", "pennsylvania"}, {"ri", "rhode island"},
	{"sc", "south carolina"}, {"sd", "south dakota"}, {"tn", "tennessee"}, {"tx", "texas"},
	{"ut", "utah"}, {"vt", "vermont"}, {"va", "virginia"}, {"wa", "washington"},
	{"wv", "west virginia"}, {"wi", "wisconsin"}, {"wy", "wyoming"}, {"pr", "puerto rico"},

	{"ab", "alberta"}, {"bc", "british columbia"}, {"mb", "manitoba"}, {"nb", "new brunswick"},
	{"nl", "newfoundland and labrador"}, {"ns", "nova scotia"}, {"on", "ontario"},
	{"pe", "prince edward island"}, {"qc", "quebec"}, {"sk", "saskatchewan"},

	{"us", "usa", "united states", "united states of america", "america"},
	{"uk", "gb", "united kingdom", "great britain", "britain", "england"},
	{"can", "canada"},
	{"cn", "prc", "china", "people s republic of china"},
	{"de", "deu", "germany", "deutschland"},
	{"fr", "fra", "france"},
	{"in", "ind", "india"},
	{"nl", "nld", "netherlands", "the netherlands", "holland"},
	{"ie", "irl", "ireland"},
	{"au", "aus", "australia"},
	{"nz", "new zealand"},
	{"mx", "mex", "mexico"},
	{"br", "bra", "brazil"},
	{"es", "esp", "spain"},
	{"it", "ita", "italy"},
	{"jp", "jpn", "japan"},
	{"sg", "sgp", "singapore"},
	{"ch", "che", "switzerland"},
	{"se", "swe", "sweden"},
	{"uae", "ae", "united arab emirates"},
}

// aliases maps a normalised name to every other name of its groups. Codes
// shared by a state and a country (de, in, nl) map to both.
var aliases = func() map[string][]string {
	m := map[string][]string{}
	for _, g := range aliasGroups {
		for _, a := range g {
			for _, b := range g {
				if a != b {
					m[a] = append(m[a], b)
				}
			}
		}
	}
	return m
}()
