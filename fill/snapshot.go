package fill

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/applyflow/fields"
)

const (
	radioMembers = "input[type=radio], [role=radio]"
	groupControl = "input[type=radio], [role=radio], fieldset, [role=radiogroup]"
	comboControl = "[role=combobox], [role=listbox]"
)

// Snapshot is a Page over a parsed HTML snapshot, for offline replays of a
// saved form. Writes mutate the snapshot. No script runs, so validation
// only enforces the required attribute.
//
// Selectors resolve the way the live page does: a radio selector may name
// one input or its fieldset/radiogroup container, and a custom dropdown
// lists the role=option elements of the listbox it controls.
type Snapshot struct {
	mu  sync.Mutex
	doc *goquery.Document
}

// NewSnapshot wraps the document behind src.
func NewSnapshot(src *fields.HTMLSource) *Snapshot {
	return &Snapshot{doc: src.Document()}
}

// Count implements Page.
func (s *Snapshot) Count(_ context.Context, selector string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Find(selector).Length(), nil
}

// Options implements Page.
func (s *Snapshot) Options(_ context.Context, selector string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el := s.doc.Find(selector).First()
	if el.Length() == 0 {
		return nil, nil
	}
	var out []string
	switch {
	case el.Is("select"):
		el.Find("option").Each(func(_ int, o *goquery.Selection) {
			if o.AttrOr("value", "x") != "" {
				out = append(out, strings.TrimSpace(o.Text()))
			}
		})
	case el.Is(comboControl):
		s.comboOptions(el).Each(func(_ int, o *goquery.Selection) {
			if t := strings.TrimSpace(o.Text()); t != "" {
				out = append(out, t)
			}
		})
	default:
		s.radios(el).Each(func(_ int, r *goquery.Selection) {
			out = append(out, s.labelOf(r))
		})
	}
	return out, nil
}

// Write implements Page.
func (s *Snapshot) Write(_ context.Context, selector string, ct fields.ControlType, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	el := s.doc.Find(selector)
	if el.Length() != 1 {
		return fmt.Errorf("fill: snapshot: %s: %d elements", selector, el.Length())
	}
	switch {
	case el.Is("select"):
		return pick(el.Find("option"), value, "selected", func(o *goquery.Selection) string { return o.Text() })
	case el.Is(comboControl):
		opts := s.comboOptions(el)
		if err := pick(opts, value, "aria-selected", func(o *goquery.Selection) string { return o.Text() }); err != nil {
			return err
		}
		opts.Not("[aria-selected]").SetAttr("aria-selected", "false")
		return nil
	case el.Is(groupControl):
		members := s.radios(el)
		if err := pick(members, value, "checked", s.labelOf); err != nil {
			return err
		}
		members.Filter("[role=radio]").Each(func(_ int, r *goquery.Selection) {
			r.SetAttr("aria-checked", strconv.FormatBool(r.Is("[checked]")))
		})
		return nil
	case ct == fields.Checkbox:
		if truthy[normalize(value)] {
			el.SetAttr("checked", "")
		} else {
			el.RemoveAttr("checked")
		}
		return nil
	case el.Is("textarea"), el.Is("[contenteditable]"):
		el.SetText(value)
		return nil
	}
	el.SetAttr("value", value)
	return nil
}

// pick marks the member whose label or value equals want and clears the
// mark on the others.
func pick(members *goquery.Selection, want, mark string, label func(*goquery.Selection) string) error {
	w := normalize(want)
	hit := members.FilterFunction(func(_ int, m *goquery.Selection) bool {
		return normalize(label(m)) == w || normalize(m.AttrOr("value", "")) == w
	}).First()
	if hit.Length() == 0 {
		return fmt.Errorf("fill: snapshot: no option %q", want)
	}
	members.RemoveAttr(mark)
	if mark == "aria-selected" {
		hit.SetAttr(mark, "true")
	} else {
		hit.SetAttr(mark, "")
	}
	return nil
}

// Validate implements Page.
func (s *Snapshot) Validate(_ context.Context, selector string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el := s.doc.Find(selector).First()
	if el.Length() == 0 {
		return State{}, errors.New("fill: snapshot: element gone")
	}
	required := el.Is("[required], [aria-required=true]")
	var value string
	switch {
	case el.Is("select"):
		value = strings.TrimSpace(el.Find("option[selected]").First().Text())
	case el.Is(comboControl):
		value = strings.TrimSpace(s.comboOptions(el).Filter("[aria-selected=true]").First().Text())
	case el.Is(groupControl):
		members := s.radios(el)
		required = required || members.Is("[required], [aria-required=true]")
		if on := members.Filter("[checked], [aria-checked=true]").First(); on.Length() > 0 {
			value = s.labelOf(on)
		}
	case el.Is("input[type=checkbox], [role=checkbox], [role=switch]"):
		value = "false"
		if el.Is("[checked], [aria-checked=true]") {
			value = "true"
		}
	case el.Is("textarea"), el.Is("[contenteditable]"):
		value = el.Text()
	default:
		value = el.AttrOr("value", "")
	}
	if required && strings.TrimSpace(value) == "" {
		return State{Value: value, Valid: false, Message: "Please fill out this field."}, nil
	}
	return State{Value: value, Valid: true}, nil
}

// Fragment implements Page.
func (s *Snapshot) Fragment(_ context.Context, selector string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el := s.doc.Find(selector).First()
	if el.Length() == 0 {
		return "", nil
	}
	box := el.Closest(".field, .form-group, .application-question, fieldset, li")
	if box.Length() == 0 {
		box = el
	}
	return goquery.OuterHtml(box)
}

// Screenshot implements Page. A snapshot has no pixels.
func (s *Snapshot) Screenshot(context.Context, string) (string, error) { return "", nil }

// HTML renders the snapshot with every write applied.
func (s *Snapshot) HTML() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Html()
}

func (s *Snapshot) radios(el *goquery.Selection) *goquery.Selection {
	switch {
	case el.Is("input[type=radio]"):
		name := el.AttrOr("name", "")
		if name == "" {
			return el
		}
		return s.doc.Find("input[type=radio]").FilterFunction(func(_ int, r *goquery.Selection) bool {
			return r.AttrOr("name", "") == name
		})
	case el.Is("[role=radio]"):
		if g := el.Closest("[role=radiogroup]"); g.Length() > 0 {
			return g.Find("[role=radio]")
		}
		return el
	}
	return el.Find(radioMembers)
}

func (s *Snapshot) labelOf(r *goquery.Selection) string {
	if id := r.AttrOr("id", ""); id != "" {
		if l := s.doc.Find("label").FilterFunction(func(_ int, l *goquery.Selection) bool {
			return l.AttrOr("for", "") == id
		}).First(); l.Length() > 0 {
			return strings.TrimSpace(l.Text())
		}
	}
	if l := r.Closest("label"); l.Length() > 0 {
		return strings.TrimSpace(l.Text())
	}
	if a := r.AttrOr("aria-label", ""); a != "" {
		return strings.TrimSpace(a)
	}
	if t := strings.TrimSpace(r.Text()); t != "" {
		return t
	}
	return r.AttrOr("value", "")
}

func (s *Snapshot) comboOptions(el *goquery.Selection) *goquery.Selection {
	ids := strings.Fields(el.AttrOr("aria-controls", el.AttrOr("aria-owns", "")))
	for _, id := range ids {
		l := s.doc.Find("[id]").FilterFunction(func(_ int, e *goquery.Selection) bool {
			return e.AttrOr("id", "") == id
		})
		if l.Length() > 0 {
			return l.First().Find("[role=option]")
		}
	}
	if el.Is("[role=listbox]") {
		return el.Find("[role=option]")
	}
	return el.Find("[role=listbox] [role=option]")
}

var _ Page = (*Snapshot)(nil)
