package candidate

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Document is the document-derived detail surface: plain text of a résumé.
type Document struct {
	Path  string
	Pages int
	Text  string
}

// Excerpt returns at most n bytes of the document text.
func (d *Document) Excerpt(n int) string {
	if d == nil {
		return ""
	}
	if len(d.Text) <= n {
		return d.Text
	}
	for n > 0 && d.Text[n]&0xC0 == 0x80 {
		n--
	}
	return d.Text[:n]
}

// LoadDocument extracts page text from a PDF résumé.
func LoadDocument(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("candidate: open document: %w", err)
	}
	defer f.Close()

	ctx, err := api.ReadValidateAndOptimize(f, model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("candidate: read pdf: %w", err)
	}

	var pages []string
	for nr := 1; nr <= ctx.PageCount; nr++ {
		r, err := pdfcpu.ExtractPageContent(ctx, nr)
		if err != nil {
			continue
		}
		data, err := io.ReadAll(r)
		if err != nil || len(data) == 0 {
			continue
		}
		if txt := streamText(data); txt != "" {
			pages = append(pages, txt)
		}
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("candidate: no text in %s", path)
	}
	return &Document{Path: path, Pages: ctx.PageCount, Text: strings.Join(pages, "\n")}, nil
}

var literal = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)`)

// streamText pulls string literals shown by Tj, TJ and ' operators out of a
// page content stream.
func streamText(data []byte) string {
	var sb strings.Builder
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		switch {
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			for _, m := range literal.FindAllSubmatch(line, -1) {
				sb.WriteString(unescape(m[1]))
			}
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			for _, m := range literal.FindAllSubmatch(line, -1) {
				sb.WriteByte('\n')
				sb.WriteString(unescape(m[1]))
			}
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			sb.WriteByte(' ')
		case bytes.Equal(line, []byte("T*")):
			sb.WriteByte('\n')
		}
	}
	return squash(sb.String())
}

func unescape(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' || i+1 >= len(raw) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		default:
			if raw[i] >= '0' && raw[i] <= '7' {
				v, n := 0, 0
				for n < 3 && i < len(raw) && raw[i] >= '0' && raw[i] <= '7' {
					v = v*8 + int(raw[i]-'0')
					i++
					n++
				}
				i--
				sb.WriteByte(byte(v))
			} else {
				sb.WriteByte(raw[i])
			}
		}
	}
	return sb.String()
}

func squash(s string) string {
	var sb strings.Builder
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = sb.Len() > 0
			continue
		}
		if !unicode.IsPrint(r) {
			continue
		}
		if space {
			sb.WriteByte(' ')
			space = false
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
