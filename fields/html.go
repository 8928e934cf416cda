package fields

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const controlSelector = `input, select, textarea, [role=combobox], [role=listbox], [role=radio], [role=checkbox], [role=switch], [contenteditable=true][role=textbox]`

// HTMLSource is a Source over a static HTML snapshot. Every control counts
// as visible unless it carries the hidden attribute or an inline
// display:none style.
type HTMLSource struct {
	doc *goquery.Document
}

// FromHTML parses rawHTML into a Source.
func FromHTML(rawHTML string) (*HTMLSource, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("fields: parse html: %w", err)
	}
	return &HTMLSource{doc: doc}, nil
}

// Document exposes the parsed snapshot (selector resolution in tests and
// offline replays).
func (s *HTMLSource) Document() *goquery.Document { return s.doc }

// Controls implements Source.
func (s *HTMLSource) Controls(_ context.Context) ([]RawControl, error) {
	// A listbox popped up by a combobox belongs to that combobox.
	owned := map[string]bool{}
	s.doc.Find("[role=combobox]").Each(func(_ int, c *goquery.Selection) {
		for _, id := range strings.Fields(c.AttrOr("aria-controls", "") + " " + c.AttrOr("aria-owns", "")) {
			owned[id] = true
		}
	})

	var out []RawControl
	s.doc.Find(controlSelector).Each(func(_ int, sel *goquery.Selection) {
		if sel.Is("[role=listbox]") && (owned[sel.AttrOr("id", "")] || sel.ParentsFiltered("[role=combobox]").Length() > 0) {
			return
		}
		n := sel.Get(0)
		rc := RawControl{
			Tag:          n.Data,
			Type:         strings.ToLower(sel.AttrOr("type", defaultType(n.Data))),
			ID:           sel.AttrOr("id", ""),
			Name:         sel.AttrOr("name", ""),
			Role:         sel.AttrOr("role", ""),
			AriaLabel:    sel.AttrOr("aria-label", ""),
			Placeholder:  sel.AttrOr("placeholder", ""),
			Autocomplete: sel.AttrOr("autocomplete", ""),
			Path:         cssPath(n),
			Required:     hasAttr(n, "required") || sel.AttrOr("aria-required", "") == "true",
			Visible:      visible(sel),
			Disabled:     hasAttr(n, "disabled"),
		}
		rc.LabelText = s.labelFor(sel, rc.ID)
		if rc.AriaLabel == "" {
			if by := sel.AttrOr("aria-labelledby", ""); by != "" {
				rc.AriaLabel = s.textByIDs(by)
			}
		}
		if n.Data == "select" {
			sel.Find("option").Each(func(_ int, o *goquery.Selection) {
				if v := strings.TrimSpace(o.Text()); v != "" && o.AttrOr("value", "x") != "" {
					rc.Options = append(rc.Options, v)
				}
			})
		}
		if rc.Type == "radio" || rc.Role == "radio" {
			rc.OptionLabel = rc.LabelText
			if rc.OptionLabel == "" && rc.Role == "radio" {
				rc.OptionLabel = strings.TrimSpace(sel.AttrOr("aria-label", sel.Text()))
			}
			if g := groupNode(n); g != nil {
				rc.GroupPath = cssPath(g)
				if legend := goquery.NewDocumentFromNode(g).Find("legend").First(); legend.Length() > 0 {
					rc.LabelText = strings.TrimSpace(legend.Text())
				} else if l := attr(g, "aria-label"); l != "" {
					rc.LabelText = l
				} else if by := attr(g, "aria-labelledby"); by != "" {
					rc.LabelText = s.textByIDs(by)
				}
			}
		}
		rc.Nearby = nearbyLevels(n, 5)
		out = append(out, rc)
	})
	return out, nil
}

// Count returns how many elements selector matches in the snapshot.
func (s *HTMLSource) Count(selector string) int {
	return s.doc.Find(selector).Length()
}

// labelFor finds a control's label: label[for=id], then an enclosing label,
// then a label or span immediately before it.
func (s *HTMLSource) labelFor(sel *goquery.Selection, id string) string {
	if id != "" {
		var txt string
		s.doc.Find("label").EachWithBreak(func(_ int, l *goquery.Selection) bool {
			if l.AttrOr("for", "") == id {
				txt = strings.TrimSpace(l.Text())
				return false
			}
			return true
		})
		if txt != "" {
			return txt
		}
	}
	if parent := sel.Closest("label"); parent.Length() > 0 {
		return strings.TrimSpace(parent.Text())
	}
	if prev := sel.Prev(); prev.Length() > 0 && (prev.Is("label") || prev.Is("span")) {
		return strings.TrimSpace(prev.Text())
	}
	return ""
}

func (s *HTMLSource) textByIDs(ids string) string {
	var parts []string
	for _, id := range strings.Fields(ids) {
		s.doc.Find("[id]").EachWithBreak(func(_ int, e *goquery.Selection) bool {
			if e.AttrOr("id", "") == id {
				parts = append(parts, strings.TrimSpace(e.Text()))
				return false
			}
			return true
		})
	}
	return strings.Join(parts, " ")
}

func defaultType(tag string) string {
	if tag == "input" {
		return "text"
	}
	return ""
}

func visible(sel *goquery.Selection) bool {
	for n := sel.Get(0); n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		if hasAttr(n, "hidden") {
			return false
		}
		style := strings.ReplaceAll(strings.ToLower(attr(n, "style")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

func groupNode(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		if p.Data == "fieldset" || attr(p, "role") == "radiogroup" {
			return p
		}
		if p.Data == "form" || p.Data == "body" {
			return nil
		}
	}
	return nil
}

// nearbyLevels walks up to depth ancestors. Each level holds the text of the
// nearest preceding and following siblings of the node at that level.
func nearbyLevels(n *html.Node, depth int) []string {
	var levels []string
	cur := n
	for range depth {
		if cur.Parent == nil || cur.Parent.Type == html.DocumentNode {
			break
		}
		var parts []string
		if prev := siblingText(cur, func(x *html.Node) *html.Node { return x.PrevSibling }); prev != "" {
			parts = append(parts, prev)
		}
		if next := siblingText(cur, func(x *html.Node) *html.Node { return x.NextSibling }); next != "" {
			parts = append(parts, next)
		}
		levels = append(levels, strings.Join(parts, " "))
		cur = cur.Parent
		if cur.Data == "form" || cur.Data == "body" {
			break
		}
	}
	return levels
}

func siblingText(n *html.Node, step func(*html.Node) *html.Node) string {
	for s := step(n); s != nil; s = step(s) {
		if s.Type == html.ElementNode && isControl(s) {
			return ""
		}
		if t := strings.TrimSpace(nodeText(s)); t != "" {
			return t
		}
	}
	return ""
}

func isControl(n *html.Node) bool {
	switch n.Data {
	case "input", "select", "textarea", "script", "style":
		return true
	}
	return false
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	if n.Type != html.ElementNode || isControl(n) {
		return ""
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(nodeText(c))
		b.WriteByte(' ')
	}
	return b.String()
}

// cssPath builds a structural selector that resolves to n alone.
func cssPath(n *html.Node) string {
	var parts []string
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		if id := attr(cur, "id"); id != "" && cssIdent.MatchString(id) && cur != n {
			parts = append(parts, "#"+id)
			break
		}
		if cur.Data == "html" {
			parts = append(parts, "html")
			break
		}
		idx := 1
		for s := cur.PrevSibling; s != nil; s = s.PrevSibling {
			if s.Type == html.ElementNode && s.Data == cur.Data {
				idx++
			}
		}
		parts = append(parts, fmt.Sprintf("%s:nth-of-type(%d)", cur.Data, idx))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}
