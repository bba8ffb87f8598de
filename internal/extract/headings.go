package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/model"
)

// Keywords limits heading extraction to domain-relevant titles when no DOM rendering is available.
var Keywords = []string{
	"amala", "restaurant", "kitchen", "buka", "bukka", "eatery", "spot", "joint", "canteen", "cafe", "grill", "food",
}

// Headings scans h1-h4 text for domain keywords. Each matching heading becomes a name-only candidate.
func (e *Extractor) Headings(root *goquery.Selection, sourceURL string) []model.LocationCandidate {
	out := make([]model.LocationCandidate, 0)
	seen := make(map[string]struct{})
	root.Find("h1, h2, h3, h4").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		text := CleanText(h.Text())
		if utf8.RuneCountInString(text) <= minNameLength || !hasKeyword(text) {
			return true
		}
		key := strings.ToLower(text)
		if _, ok := seen[key]; ok {
			return true
		}
		seen[key] = struct{}{}

		c := model.NewCandidate(text, "")
		c.SourceURL = sourceURL
		out = append(out, c)
		return len(out) < e.maxItems
	})
	return out
}

func (e *Extractor) HeadingsFromHTML(html, sourceURL string) ([]model.LocationCandidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	return e.Headings(doc.Selection, sourceURL), nil
}

func hasKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, k := range Keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
