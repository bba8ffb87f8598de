package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/model"
)

// DefaultMaxItems caps the candidates produced from one page.
const DefaultMaxItems = 20

// minNameLength is exclusive: a name must be longer than this many characters.
const minNameLength = 2

var containerSelectors = []string{
	".restaurant",
	".listing",
	".result-item",
	".search-result",
	".business",
	".place",
	".venue",
	"[data-testid*='result']",
	"[itemtype*='Restaurant']",
	"article",
	".card",
}

type field int

const (
	fieldName field = iota
	fieldAddress
	fieldPhone
	fieldWebsite
	fieldRating
	fieldReviews
	fieldPrice
)

// rule resolves one field: the caller selector first, then the generic ones in order.
type rule struct {
	generic []string
	attr    string
}

var rules = map[field]rule{
	fieldName:    {generic: []string{"[itemprop='name']", ".name", ".title", "h2", "h3", "h4"}},
	fieldAddress: {generic: []string{"[itemprop='address']", ".address", ".location", "address", ".addr"}},
	fieldPhone:   {generic: []string{"[itemprop='telephone']", ".phone", ".tel", "a[href^='tel:']"}},
	fieldWebsite: {generic: []string{"a[itemprop='url']", "a.website", "a[href^='http']"}, attr: "href"},
	fieldRating:  {generic: []string{"[itemprop='ratingValue']", ".rating", ".stars", ".score"}},
	fieldReviews: {generic: []string{"[itemprop='reviewCount']", ".reviews", ".review-count"}},
	fieldPrice:   {generic: []string{"[itemprop='priceRange']", ".price", ".price-range"}},
}

var numberRe = regexp.MustCompile(`\d+(?:[.,]\d+)?`)

// Extractor turns page content into partial location candidates.
type Extractor struct {
	maxItems int
}

func New(maxItems int) *Extractor {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	return &Extractor{maxItems: maxItems}
}

func (e *Extractor) MaxItems() int {
	return e.maxItems
}

// Cards parses html and extracts one candidate per repeating card container.
func (e *Extractor) Cards(html string, selectors model.FieldSelectors, sourceURL string) ([]model.LocationCandidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return e.CardsFromSelection(doc.Selection, selectors, sourceURL), nil
}

func (e *Extractor) CardsFromSelection(root *goquery.Selection, selectors model.FieldSelectors, sourceURL string) []model.LocationCandidate {
	containers := findContainers(root, selectors.Container)
	if containers == nil {
		return []model.LocationCandidate{}
	}

	out := make([]model.LocationCandidate, 0, min(containers.Length(), e.maxItems))
	containers.EachWithBreak(func(_ int, card *goquery.Selection) bool {
		if c, ok := buildCandidate(card, selectors, sourceURL); ok {
			out = append(out, c)
		}
		return len(out) < e.maxItems
	})
	return out
}

func findContainers(root *goquery.Selection, explicit string) *goquery.Selection {
	candidates := containerSelectors
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		candidates = append([]string{explicit}, containerSelectors...)
	}
	for _, sel := range candidates {
		found := root.Find(sel)
		if found.Length() > 0 {
			return found
		}
	}
	return nil
}

func buildCandidate(card *goquery.Selection, selectors model.FieldSelectors, sourceURL string) (model.LocationCandidate, bool) {
	name := resolve(card, fieldName, selectors.Name)
	if utf8.RuneCountInString(name) <= minNameLength {
		return model.LocationCandidate{}, false
	}

	c := model.NewCandidate(name, resolve(card, fieldAddress, selectors.Address))
	c.SourceURL = sourceURL
	c.Phone = strings.TrimPrefix(resolve(card, fieldPhone, selectors.Phone), "tel:")
	c.Website = resolve(card, fieldWebsite, selectors.Website)
	c.Reviews = resolve(card, fieldReviews, selectors.Reviews)
	c.PriceRange = resolve(card, fieldPrice, selectors.Price)
	c.Rating = ParseRating(resolve(card, fieldRating, selectors.Rating))
	return c, true
}

func resolve(card *goquery.Selection, f field, explicit string) string {
	r := rules[f]
	order := r.generic
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		order = append([]string{explicit}, r.generic...)
	}
	for _, sel := range order {
		node := card.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		var value string
		if r.attr != "" {
			value, _ = node.Attr(r.attr)
		} else {
			value = node.Text()
			if value == "" && f == fieldPhone {
				value, _ = node.Attr("href")
			}
		}
		if value = CleanText(value); value != "" {
			return value
		}
	}
	return ""
}

// CleanText collapses runs of whitespace and trims the result.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ParseRating reads the first number in s. Values outside 0..5 are discarded.
func ParseRating(s string) *float64 {
	m := numberRe.FindString(s)
	if m == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
	if err != nil || v < 0 || v > 5 {
		return nil
	}
	return &v
}
