// Package cta ranks the interactive candidates of a page and decides which
// one, if any, is reliable enough to click to advance towards the
// application form.
//
// Ordering is the model-assigned rank when one is present, then the
// deterministic tiers: apply-vocabulary text, apply-intent aria-label or
// data-action, /apply or /candidate URL hints, and finally the single
// visually dominant button.
package cta

import (
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Tier is the deterministic priority class of a candidate. Lower wins.
type Tier int

const (
	TierText       Tier = 1
	TierAttribute  Tier = 2
	TierURL        Tier = 3
	TierProminence Tier = 4
	TierNone       Tier = 5
)

// Candidate is one clickable element. Candidates are recomputed on every
// classification pass and never persisted.
type Candidate struct {
	Text       string  `json:"text"`
	AriaLabel  string  `json:"aria_label,omitempty"`
	DataAction string  `json:"data_action,omitempty"`
	Href       string  `json:"href,omitempty"`
	Tag        string  `json:"tag"`
	Selector   string  `json:"selector"`
	Prominence float64 `json:"prominence"` // 0..1, area and contrast relative to the page
	Isolated   bool    `json:"isolated"`   // no other button within its container
	// Order is the DOM position, the final tie-break.
	Order int `json:"order"`

	// ModelRank is 1 for the model's top pick; 0 when unranked.
	ModelRank       int     `json:"model_rank,omitempty"`
	ModelConfidence float64 `json:"model_confidence,omitempty"`

	// Filled by Rank.
	Tier       Tier    `json:"tier"`
	Rank       int     `json:"rank"`
	Confidence float64 `json:"confidence"`
}

// URLHint returns the href when it carries an application path.
func (c Candidate) URLHint() string {
	h := strings.ToLower(c.Href)
	for _, p := range urlHints {
		if strings.Contains(h, p) {
			return c.Href
		}
	}
	return ""
}

// Decision is the resolver verdict for one pass.
type Decision struct {
	Ranked   []Candidate
	Chosen   *Candidate
	Escalate bool
	Reason   string
}

// Config configures a Resolver.
type Config struct {
	// MinConfidence is the click threshold. Default: 0.6.
	MinConfidence float64
	// ApplyVocabulary adds site or locale apply phrases.
	ApplyVocabulary []string
	// Exclude adds words that disqualify a candidate outright.
	Exclude []string
	Logger  *zap.Logger
}

func (c *Config) defaults() {
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.6
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

var (
	// Exact phrases (after normalisation) that mean "apply".
	applyExact = []string{
		"apply", "apply now", "apply for this job", "apply for this position",
		"apply to this job", "easy apply", "start application", "start your application",
		"submit application", "i'm interested", "postuler", "postuler maintenant",
		"je postule", "bewerben", "jetzt bewerben", "solicitar", "aplicar",
		"candidatar", "candidatarse", "candidatura", "candidati", "inscreva-se",
		"apply with linkedin", "apply on company site", "continue to application",
	}
	// Tokens whose presence in text or attributes signals apply intent.
	applyTokens = []string{
		"apply", "application", "postul", "bewerb", "solicit", "candidat", "aplicar",
	}
	excludeWords = []string{"cookie", "privacy", "terms", "login", "log in", "sign in", "register"}
	urlHints     = []string{"/apply", "/candidate", "apply?", "application"}
)

// Resolver ranks candidates.
type Resolver struct {
	cfg     Config
	exact   map[string]bool
	tokens  []string
	exclude []string
}

// NewResolver creates a Resolver.
func NewResolver(cfg Config) *Resolver {
	cfg.defaults()
	r := &Resolver{cfg: cfg, exact: map[string]bool{}, tokens: applyTokens, exclude: excludeWords}
	for _, p := range applyExact {
		r.exact[p] = true
	}
	for _, p := range cfg.ApplyVocabulary {
		p = normalize(p)
		if p == "" {
			continue
		}
		r.exact[p] = true
		r.tokens = append(r.tokens, p)
	}
	for _, w := range cfg.Exclude {
		if w = normalize(w); w != "" {
			r.exclude = append(r.exclude, w)
		}
	}
	return r
}

// MinConfidence returns the configured click threshold.
func (r *Resolver) MinConfidence() float64 { return r.cfg.MinConfidence }

// Rank filters excluded candidates, scores the rest and returns them best
// first with Rank set from 1.
func (r *Resolver) Rank(cands []Candidate) []Candidate {
	var kept []Candidate
	for _, c := range cands {
		if r.excluded(c) {
			continue
		}
		kept = append(kept, c)
	}
	dominant := dominantIndex(kept)
	for i := range kept {
		kept[i].Tier, kept[i].Confidence = r.score(kept[i], i == dominant)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		ar, br := modelKey(a.ModelRank), modelKey(b.ModelRank)
		if ar != br {
			return ar < br
		}
		if a.Tier != b.Tier {
			return a.Tier < b.Tier
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Prominence != b.Prominence {
			return a.Prominence > b.Prominence
		}
		return a.Order < b.Order
	})
	for i := range kept {
		kept[i].Rank = i + 1
	}
	return kept
}

// Resolve ranks cands and picks the top candidate when its confidence
// reaches the threshold. Otherwise the decision escalates and nothing is
// chosen.
func (r *Resolver) Resolve(cands []Candidate) Decision {
	ranked := r.Rank(cands)
	d := Decision{Ranked: ranked}
	switch {
	case len(ranked) == 0:
		d.Escalate = true
		d.Reason = "no call-to-action candidates"
	case ranked[0].Confidence < r.cfg.MinConfidence:
		d.Escalate = true
		d.Reason = "no reliable call-to-action: top candidate " +
			quote(ranked[0].Text) + " below threshold"
	default:
		top := ranked[0]
		d.Chosen = &top
	}
	r.cfg.Logger.Debug("cta: resolved",
		zap.Int("candidates", len(cands)),
		zap.Int("ranked", len(ranked)),
		zap.Bool("escalate", d.Escalate))
	return d
}

func (r *Resolver) excluded(c Candidate) bool {
	text := normalize(c.Text + " " + c.AriaLabel)
	for _, w := range r.exclude {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// score returns the candidate's tier and heuristic confidence. A model
// confidence, when present, replaces the heuristic one.
func (r *Resolver) score(c Candidate, dominant bool) (Tier, float64) {
	text := normalize(c.Text)
	attrs := normalize(c.AriaLabel + " " + c.DataAction)

	tier := TierNone
	var conf float64
	hits := 0
	switch {
	case r.exact[text]:
		tier, conf = TierText, 0.9
		hits++
	case r.containsToken(text):
		tier, conf = TierText, 0.8
		hits++
	}
	if r.containsToken(attrs) {
		hits++
		if tier == TierNone {
			tier, conf = TierAttribute, 0.75
		}
	}
	if c.URLHint() != "" {
		hits++
		if tier == TierNone {
			tier, conf = TierURL, 0.65
		}
	}
	if dominant {
		if tier == TierNone {
			// Visual dominance alone never clears the click threshold.
			tier, conf = TierProminence, 0.5
		} else {
			conf += 0.03
		}
	}
	if hits > 1 {
		conf += 0.05 * float64(hits-1)
	}
	if conf > 0.98 {
		conf = 0.98
	}
	if c.ModelConfidence > 0 {
		conf = c.ModelConfidence
	}
	return tier, conf
}

func (r *Resolver) containsToken(s string) bool {
	if s == "" {
		return false
	}
	for _, t := range r.tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// dominantIndex returns the index of the single visually dominant, isolated
// button, or -1. Dominant means prominence >= 0.6 and at least 1.5x the
// runner-up.
func dominantIndex(cands []Candidate) int {
	best, second := -1, 0.0
	for i, c := range cands {
		if best == -1 || c.Prominence > cands[best].Prominence {
			if best != -1 {
				second = cands[best].Prominence
			}
			best = i
		} else if c.Prominence > second {
			second = c.Prominence
		}
	}
	if best == -1 {
		return -1
	}
	top := cands[best]
	if !top.Isolated || top.Prominence < 0.6 || top.Prominence < 1.5*second {
		return -1
	}
	return best
}

func modelKey(rank int) int {
	if rank <= 0 {
		return int(^uint(0) >> 1)
	}
	return rank
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, "→›»>!. ")
	return strings.Join(strings.Fields(s), " ")
}

func quote(s string) string {
	if len(s) > 40 {
		s = trim(s, 40) + "..."
	}
	return `"` + s + `"`
}
