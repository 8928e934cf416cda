// Package fields harvests fillable controls from a form page into immutable
// FieldDescriptor snapshots.
//
// The extractor never touches a browser itself: a Source hands it raw
// control facts (the rod tab in package browser, or an HTML snapshot via
// FromHTML) and Extract normalizes them. Running Extract twice on an
// unchanged DOM yields identical descriptors.
package fields

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// ControlType is the kind of input a descriptor targets.
type ControlType string

const (
	Text     ControlType = "text"
	Email    ControlType = "email"
	Phone    ControlType = "phone"
	Select   ControlType = "select"
	Radio    ControlType = "radio"
	Checkbox ControlType = "checkbox"
	File     ControlType = "file"
	Date     ControlType = "date"
	Textarea ControlType = "textarea"
)

// Choice reports whether values must be picked from an option set.
func (c ControlType) Choice() bool { return c == Select || c == Radio }

// Descriptor is a snapshot of one fillable control. Selector resolved to
// exactly one element when the snapshot was taken.
type Descriptor struct {
	Selector    string      `json:"selector"`
	Label       string      `json:"label,omitempty"`
	AriaLabel   string      `json:"aria_label,omitempty"`
	Placeholder string      `json:"placeholder,omitempty"`
	Name        string      `json:"name,omitempty"`
	Role        string      `json:"role,omitempty"`
	NearbyText  string      `json:"nearby_text,omitempty"`
	ControlType ControlType `json:"control_type"`
	Required    bool        `json:"required"`
	Options     []string    `json:"options,omitempty"`
}

// DisplayName is the most human label available, for logs and records.
func (d Descriptor) DisplayName() string {
	for _, s := range []string{d.Label, d.AriaLabel, d.Placeholder, d.Name} {
		if s != "" {
			return s
		}
	}
	return d.Selector
}

// RawControl is what a Source reports for one control.
type RawControl struct {
	Tag          string   `json:"tag"`
	Type         string   `json:"type"`
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	AriaLabel    string   `json:"aria_label"`
	Placeholder  string   `json:"placeholder"`
	Autocomplete string   `json:"autocomplete"`
	LabelText    string   `json:"label"`
	Path         string   `json:"path"`
	GroupPath    string   `json:"group_path"`
	Nearby       []string `json:"nearby"` // nearest level first
	Required     bool     `json:"required"`
	Visible      bool     `json:"visible"`
	Disabled     bool     `json:"disabled"`
	Options      []string `json:"options"`
	// OptionLabel is the label of a radio or checkbox option itself.
	OptionLabel string `json:"option_label"`
}

// Source reports the raw controls of the attended context.
type Source interface {
	Controls(ctx context.Context) ([]RawControl, error)
}

// Config tunes extraction.
type Config struct {
	// ProximityDepth bounds how many ancestor levels feed NearbyText.
	// Default: 5.
	ProximityDepth int
	// NearbyTextLimit caps NearbyText in bytes. Default: 200.
	NearbyTextLimit int
	Logger          *zap.Logger
}

func (c *Config) defaults() {
	if c.ProximityDepth <= 0 {
		c.ProximityDepth = 5
	}
	if c.NearbyTextLimit <= 0 {
		c.NearbyTextLimit = 200
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Extractor turns raw controls into descriptors.
type Extractor struct {
	cfg Config
}

// NewExtractor creates an Extractor.
func NewExtractor(cfg Config) *Extractor {
	cfg.defaults()
	return &Extractor{cfg: cfg}
}

// Extract reads src and returns one descriptor per fillable control (one per
// radio group), in document order.
func (e *Extractor) Extract(ctx context.Context, src Source) ([]Descriptor, error) {
	raw, err := src.Controls(ctx)
	if err != nil {
		return nil, fmt.Errorf("fields: controls: %w", err)
	}
	out := e.Normalize(raw)
	e.cfg.Logger.Debug("fields: extracted", zap.Int("raw", len(raw)), zap.Int("fields", len(out)))
	return out, nil
}

// Normalize is the pure half of Extract.
func (e *Extractor) Normalize(raw []RawControl) []Descriptor {
	idCount := map[string]int{}
	nameCount := map[string]int{}
	for _, rc := range raw {
		if rc.ID != "" {
			idCount[rc.ID]++
		}
		if rc.Name != "" && !isRadio(rc) {
			nameCount[rc.Tag+"\x00"+rc.Name]++
		}
	}

	var out []Descriptor
	groups := map[string]int{} // radio group key -> index in out
	seen := map[string]bool{}
	for _, rc := range raw {
		if !fillable(rc) {
			continue
		}
		ct := controlType(rc)

		if ct == Radio {
			key := rc.GroupPath
			if key == "" {
				key = "name:" + rc.Name
			}
			if i, ok := groups[key]; ok {
				if opt := optionLabel(rc); opt != "" {
					out[i].Options = append(out[i].Options, opt)
				}
				out[i].Required = out[i].Required || rc.Required
				continue
			}
			groups[key] = len(out)
		}

		d := Descriptor{
			Selector:    selectorFor(rc, ct, idCount, nameCount),
			Label:       clean(rc.LabelText),
			AriaLabel:   clean(rc.AriaLabel),
			Placeholder: clean(rc.Placeholder),
			Name:        rc.Name,
			Role:        rc.Role,
			NearbyText:  e.nearby(rc.Nearby),
			ControlType: ct,
			Required:    rc.Required || strings.HasSuffix(strings.TrimSpace(rc.LabelText), "*"),
		}
		switch ct {
		case Select:
			d.Options = append([]string(nil), rc.Options...)
		case Radio:
			if opt := optionLabel(rc); opt != "" {
				d.Options = []string{opt}
			}
			// The group question usually sits in a legend or in nearby text,
			// not in the option's own label.
			if d.Label == optionLabel(rc) {
				d.Label = ""
			}
		}
		if seen[d.Selector] {
			// Selector collision: fall back to the structural path.
			d.Selector = rc.Path
		}
		seen[d.Selector] = true
		out = append(out, d)
	}
	return out
}

func (e *Extractor) nearby(levels []string) string {
	var b strings.Builder
	for i, lvl := range levels {
		if i >= e.cfg.ProximityDepth {
			break
		}
		lvl = clean(lvl)
		if lvl == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" | ")
		}
		b.WriteString(lvl)
		if b.Len() >= e.cfg.NearbyTextLimit {
			break
		}
	}
	return truncate(b.String(), e.cfg.NearbyTextLimit)
}

func fillable(rc RawControl) bool {
	if rc.Disabled {
		return false
	}
	switch strings.ToLower(rc.Type) {
	case "hidden", "submit", "button", "image", "reset", "password", "search":
		return false
	case "file":
		// File inputs are routinely visually hidden behind a styled button.
		return true
	}
	return rc.Visible
}

func isRadio(rc RawControl) bool {
	return strings.EqualFold(rc.Type, "radio") || rc.Role == "radio"
}

func controlType(rc RawControl) ControlType {
	tag := strings.ToLower(rc.Tag)
	typ := strings.ToLower(rc.Type)
	hint := strings.ToLower(rc.Name + " " + rc.ID + " " + rc.Autocomplete)
	switch {
	case tag == "textarea":
		return Textarea
	case tag == "select", rc.Role == "combobox", rc.Role == "listbox":
		return Select
	case typ == "radio", rc.Role == "radio":
		return Radio
	case typ == "checkbox", rc.Role == "checkbox", rc.Role == "switch":
		return Checkbox
	case typ == "file":
		return File
	case typ == "email", strings.Contains(hint, "email"):
		return Email
	case typ == "tel", strings.Contains(hint, "phone"), strings.Contains(hint, "tel"):
		return Phone
	case typ == "date", typ == "datetime-local", typ == "month":
		return Date
	case rc.Role == "textbox" && tag != "input":
		return Textarea
	}
	return Text
}

var cssIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

func selectorFor(rc RawControl, ct ControlType, idCount, nameCount map[string]int) string {
	if ct == Radio {
		if rc.GroupPath != "" {
			return rc.GroupPath
		}
	} else {
		if rc.ID != "" && idCount[rc.ID] == 1 {
			if cssIdent.MatchString(rc.ID) {
				return "#" + rc.ID
			}
			return fmt.Sprintf(`[id=%q]`, rc.ID)
		}
		if rc.Name != "" && nameCount[rc.Tag+"\x00"+rc.Name] == 1 {
			return fmt.Sprintf(`%s[name=%q]`, strings.ToLower(rc.Tag), rc.Name)
		}
	}
	return rc.Path
}

func optionLabel(rc RawControl) string {
	if rc.OptionLabel != "" {
		return clean(rc.OptionLabel)
	}
	return clean(rc.LabelText)
}

var spaces = regexp.MustCompile(`\s+`)

func clean(s string) string {
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
