package mapper

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/hazyhaar/applyflow/fields"
	"github.com/hazyhaar/applyflow/llm"
)

const systemPrompt = `You map job application form fields to candidate data.
For each field return the semantic key it asks for, the value to fill and
your confidence between 0 and 1. Use only the candidate data given; if a field
cannot be answered from it, return an empty value. For select and radio fields
the value must be one of the listed options. For checkboxes answer "true" or
"false". Return only JSON, no prose, no ellipsis.`

const replySchema = `{"mappings":[{"selector":"<field selector>","semantic_key":"<snake_case key>","control_type":"<type>","value":"<string>","confidence":<0..1>}]}`

const retryNote = "\n\nYour previous answer was not valid JSON in the required shape. Answer again with the JSON object only."

// promptField is the bounded per-field payload: never page markup.
type promptField struct {
	Selector    string   `json:"selector"`
	Label       string   `json:"label,omitempty"`
	AriaLabel   string   `json:"aria_label,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
	Name        string   `json:"name,omitempty"`
	Role        string   `json:"role,omitempty"`
	Type        string   `json:"type"`
	Required    bool     `json:"required,omitempty"`
	Options     []string `json:"options,omitempty"`
	Nearby      string   `json:"nearby,omitempty"`
}

// buildRequest renders one chunk and shrinks it until it fits the token
// budget: résumé excerpt first, then nearby text, then option lists, then
// labels.
func (m *Mapper) buildRequest(chunk []fields.Descriptor, in Input) (llm.Request, int) {
	pf := make([]promptField, len(chunk))
	for i, d := range chunk {
		pf[i] = promptField{
			Selector: d.Selector, Label: d.Label, AriaLabel: d.AriaLabel,
			Placeholder: d.Placeholder, Name: d.Name, Role: d.Role,
			Type: string(d.ControlType), Required: d.Required,
			Options: d.Options, Nearby: d.NearbyText,
		}
	}
	excerpt := in.Document.Excerpt(m.cfg.DocumentExcerpt)

	render := func() string {
		var b strings.Builder
		if in.Job.Title != "" || in.Job.Company != "" {
			fmt.Fprintf(&b, "JOB: %s at %s\n\n", in.Job.Title, in.Job.Company)
		}
		fj, _ := json.Marshal(pf)
		fmt.Fprintf(&b, "FIELDS (%d):\n%s\n\n", len(pf), fj)
		cand := map[string]string{}
		for _, k := range in.Candidate.Keys() {
			cand[k], _ = in.Candidate.Get(k)
		}
		cj, _ := json.Marshal(cand)
		fmt.Fprintf(&b, "CANDIDATE:\n%s\n", cj)
		if excerpt != "" {
			fmt.Fprintf(&b, "\nRESUME EXCERPT:\n%s\n", excerpt)
		}
		return b.String()
	}

	prompt := render()
	n := m.tokens.count(systemPrompt + prompt)
	shrinks := []func() bool{
		func() bool {
			if excerpt == "" {
				return false
			}
			excerpt = cut(excerpt, len(excerpt)/2)
			if len(excerpt) < 200 {
				excerpt = ""
			}
			return true
		},
		func() bool { return each(pf, func(f *promptField) bool { return blank(&f.Nearby) }) },
		func() bool {
			return each(pf, func(f *promptField) bool {
				if len(f.Options) <= 10 {
					return false
				}
				f.Options = f.Options[:10]
				return true
			})
		},
		func() bool {
			return each(pf, func(f *promptField) bool {
				changed := false
				for _, s := range []*string{&f.Label, &f.AriaLabel, &f.Placeholder} {
					if len(*s) > 80 {
						*s = cut(*s, 80)
						changed = true
					}
				}
				return changed
			})
		},
	}
	for _, shrink := range shrinks {
		for n > m.cfg.MaxInputTokens && shrink() {
			prompt = render()
			n = m.tokens.count(systemPrompt + prompt)
		}
	}
	if n > m.cfg.MaxInputTokens {
		m.cfg.Logger.Warn("mapper: prompt over budget after shrinking",
			zap.Int("tokens", n), zap.Int("budget", m.cfg.MaxInputTokens))
	}
	return llm.Request{
		System:     systemPrompt,
		Prompt:     prompt,
		SchemaHint: replySchema,
		Purpose:    "map_fields",
	}, n
}

func each(pf []promptField, fn func(*promptField) bool) bool {
	changed := false
	for i := range pf {
		if fn(&pf[i]) {
			changed = true
		}
	}
	return changed
}

// cut shortens s to at most n bytes without splitting a rune.
func cut(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func blank(s *string) bool {
	if *s == "" {
		return false
	}
	*s = ""
	return true
}

type rawEntry struct {
	Selector    string   `json:"selector"`
	SemanticKey string   `json:"semantic_key"`
	ControlType string   `json:"control_type"`
	Value       any      `json:"value"`
	Confidence  *float64 `json:"confidence"`
}

type modelReply struct {
	Mappings *[]rawEntry `json:"mappings"`
}

// modelEntry is a validated model answer for one selector.
type modelEntry struct {
	Selector    string
	SemanticKey string
	Value       string
	Confidence  float64
}

// parseReply validates a completion against the reply schema. Every entry
// needs a selector and a confidence in [0,1]. Entries for selectors not on
// the page are dropped; a reply with entries but none usable is malformed.
func parseReply(resp llm.Completion, page map[string]bool) ([]modelEntry, error) {
	if resp.Truncated {
		return nil, fmt.Errorf("%w: truncated", ErrMalformed)
	}
	raw, err := llm.RepairJSON(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var entries []rawEntry
	if strings.HasPrefix(strings.TrimSpace(raw), "[") {
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	} else {
		var reply modelReply
		if err := json.Unmarshal([]byte(raw), &reply); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if reply.Mappings == nil {
			return nil, fmt.Errorf("%w: no mappings key", ErrMalformed)
		}
		entries = *reply.Mappings
	}

	var out []modelEntry
	for _, e := range entries {
		switch {
		case e.Selector == "":
			return nil, fmt.Errorf("%w: entry without selector", ErrMalformed)
		case e.Confidence == nil:
			return nil, fmt.Errorf("%w: %s: missing confidence", ErrMalformed, e.Selector)
		case *e.Confidence < 0 || *e.Confidence > 1:
			return nil, fmt.Errorf("%w: %s: confidence %v out of range", ErrMalformed, e.Selector, *e.Confidence)
		}
		if !page[e.Selector] {
			continue
		}
		out = append(out, modelEntry{
			Selector:    e.Selector,
			SemanticKey: strings.TrimSpace(e.SemanticKey),
			Value:       valueString(e.Value),
			Confidence:  *e.Confidence,
		})
	}
	if len(entries) > 0 && len(out) == 0 {
		return nil, fmt.Errorf("%w: no entry names a field on the page", ErrMalformed)
	}
	return out, nil
}

// valueString normalises scalar JSON values (true, 3, "x") to strings.
func valueString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(t))
		for _, x := range t {
			parts = append(parts, valueString(x))
		}
		return strings.Join(parts, ", ")
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// counter counts prompt tokens with cl100k_base, or estimates when the
// encoding cannot be loaded (offline hosts).
type counter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

func newCounter() *counter { return &counter{} }

func (c *counter) count(text string) int {
	c.once.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			c.enc = enc
		}
	})
	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil))
	}
	return estimate(text)
}

func estimate(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	n := len([]rune(text)) / 4
	if w := len(strings.Fields(text)); w > n {
		n = w
	}
	return max(n, 1)
}
