package transformer2

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// The detail page labels its facts with icons, not classes or ids. The SVG
// path data is the only stable anchor across page revisions, so each getter
// keys on the d attribute prefix of the icon and reads the surrounding row.
const (
	svgMoney    = "M2.5 8C2.22386"
	svgLocation = "M12 2C15.866"
	svgJob      = "M11.5527 2.72314"
)

// RawDetail holds the untreated fragments lifted from one detail page. A nil
// field means the page did not carry that fact; cleaning decides what that
// implies downstream.
type RawDetail struct {
	Position  *string
	Company   *string
	Industry  *string
	Times     *string
	Money     *string
	Location  *string
	Job       *string
	About     *string // inner HTML, converted to markdown later
	Apply     *string
	Documents []string
}

// ParseDetail lifts the raw fragments out of a detail page.
func ParseDetail(html string) (*RawDetail, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("transformer2: parse html: %w", err)
	}

	raw := &RawDetail{
		Money:    iconRow(doc, svgMoney),
		Location: iconRow(doc, svgLocation),
		Job:      iconRow(doc, svgJob),
		About:    aboutHTML(doc),
		Apply:    textOf(doc.Find(`button[aria-label*='Apply']`).First()),
	}

	// The header block hangs off the position link: the h1 is the role, the
	// next anchor is the employer, then the industry, then the posting and
	// deadline line.
	position := doc.Find(`a[href^="/jobs/"][href*="?searchId="]`).First()
	raw.Position = textOf(position.Find("h1").First())
	company := position.NextFiltered("a").First()
	raw.Company = textOf(company)
	industry := company.Next()
	raw.Industry = textOf(industry)
	raw.Times = textOf(industry.Next())

	doc.Find(`input[placeholder*='search your' i]`).Each(func(_ int, sel *goquery.Selection) {
		if ph, ok := sel.Attr("placeholder"); ok {
			raw.Documents = append(raw.Documents, ph)
		}
	})
	return raw, nil
}

// iconRow returns the text of the row whose icon path starts with dPrefix.
func iconRow(doc *goquery.Document, dPrefix string) *string {
	var out *string
	doc.Find("svg path").EachWithBreak(func(_ int, p *goquery.Selection) bool {
		d, ok := p.Attr("d")
		if !ok || !strings.HasPrefix(d, dPrefix) {
			return true
		}
		out = textOf(p.Closest("svg").Parent())
		return false
	})
	return out
}

// aboutHTML returns the inner HTML of the block following the "At a glance"
// heading.
func aboutHTML(doc *goquery.Document) *string {
	var out *string
	doc.Find("h3").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		if !strings.Contains(h.Text(), "At a glance") {
			return true
		}
		if html, err := h.Next().Html(); err == nil && strings.TrimSpace(html) != "" {
			out = &html
		}
		return false
	})
	return out
}

// textOf returns the trimmed text of a selection, or nil when the selection
// is empty or blank.
func textOf(sel *goquery.Selection) *string {
	if sel.Length() == 0 {
		return nil
	}
	text := strings.TrimSpace(sel.Text())
	if text == "" {
		return nil
	}
	return &text
}
