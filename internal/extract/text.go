package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// joinedText trims every text node under s and joins the non-empty ones
// with sep.
func joinedText(s *goquery.Selection, sep string) string {
	return strings.Join(textParts(s, nil), sep)
}

func textParts(s *goquery.Selection, parts []string) []string {
	s.Contents().Each(func(_ int, child *goquery.Selection) {
		switch goquery.NodeName(child) {
		case "#text":
			if text := strings.TrimSpace(child.Text()); text != "" {
				parts = append(parts, text)
			}
		case "#comment", "script", "style":
		default:
			parts = textParts(child, parts)
		}
	})
	return parts
}

// singleSpaced collapses all whitespace runs to one space.
func singleSpaced(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func pane(doc *goquery.Document, section string) *goquery.Selection {
	return doc.Find(`div.pane[data-tab="` + section + `"]`).First()
}

// labelValueGrid reads span.label / span.value sibling pairs under s. Later
// labels overwrite earlier ones.
func labelValueGrid(s *goquery.Selection, into map[string]string) map[string]string {
	if into == nil {
		into = map[string]string{}
	}
	s.Find("span.label").Each(func(_ int, label *goquery.Selection) {
		value := label.SiblingsFiltered("span.value").First()
		if value.Length() == 0 {
			return
		}
		key := strings.ToLower(singleSpaced(label.Text()))
		if key == "" {
			return
		}
		into[key] = joinedText(value, ", ")
	})
	return into
}

func hrefs(s *goquery.Selection) []string {
	var out []string
	s.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		if href := strings.TrimSpace(a.AttrOr("href", "")); href != "" && !strings.HasPrefix(href, "#") {
			out = append(out, href)
		}
	})
	return out
}
