package classify

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/applyflow/page"
)

// MainTextSelectors locate the main content region, in preference order.
var MainTextSelectors = []string{"main", "article", "[role=main]", ".job-description", ".content"}

// FillableSelector matches visible-by-type fillable controls.
const FillableSelector = `input:not([type=hidden]):not([type=submit]):not([type=button]):not([type=image]):not([type=reset]), select, textarea`

// CaptchaSelector matches captcha widgets.
const CaptchaSelector = `iframe[src*="recaptcha"], iframe[src*="captcha"], iframe[src*="hcaptcha"], div[class*="captcha"], div[id*="captcha"], .g-recaptcha, [data-captcha]`

const mainTextCap = 5000

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
	),
)

// SignalsFromHTML derives classifier signals from a raw HTML snapshot.
// Used for offline replays of saved pages and for frame documents fetched
// outside the browser.
func SignalsFromHTML(rawHTML, pageURL string) (page.Signals, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return page.Signals{}, fmt.Errorf("classify: parse html: %w", err)
	}
	doc.Find("script, style, noscript, template").Remove()

	s := page.Signals{
		Title:          strings.TrimSpace(doc.Find("title").First().Text()),
		FormCount:      doc.Find("form").Length(),
		InputCount:     doc.Find(FillableSelector).Not("[type=password]").Length(),
		PasswordCount:  doc.Find("input[type=password]").Length(),
		CaptchaWidgets: doc.Find(CaptchaSelector).Length(),
		URLTokens:      page.URLTokens(pageURL),
	}

	region := doc.Find("body")
	for _, sel := range MainTextSelectors {
		if m := doc.Find(sel).First(); m.Length() > 0 {
			region = m
			break
		}
	}
	fragment, err := goquery.OuterHtml(region)
	if err != nil {
		return page.Signals{}, fmt.Errorf("classify: main region: %w", err)
	}
	md, err := mdConverter.ConvertString(fragment, converter.WithDomain(pageURL))
	if err != nil {
		// Fall back to raw text; markdown is only a nicer excerpt.
		md = region.Text()
	}
	s.MainText = capText(strings.TrimSpace(md), mainTextCap)
	return s, nil
}

func capText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Do not split a UTF-8 sequence.
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
