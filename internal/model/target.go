package model

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidTarget marks a malformed ScrapingTarget. It is a caller contract violation, not a runtime failure.
var ErrInvalidTarget = errors.New("invalid scraping target")

// QueryPlaceholder is substituted with the escaped search query when present in a target URL.
const QueryPlaceholder = "{query}"

type SourceCategory int

const (
	Blog SourceCategory = iota
	Directory
	Social
	ReviewSite
	Maps
	BusinessDirectory
)

var sourceCategoryNames = [...]string{"blog", "directory", "social", "review-site", "maps", "business-directory"}

func (c SourceCategory) String() string {
	if c < 0 || int(c) >= len(sourceCategoryNames) {
		return "unknown"
	}
	return sourceCategoryNames[c]
}

func (c SourceCategory) MarshalText() ([]byte, error) {
	if c.String() == "unknown" {
		return nil, fmt.Errorf("unknown source category %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *SourceCategory) UnmarshalText(text []byte) error {
	parsed, err := ParseSourceCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func ParseSourceCategory(s string) (SourceCategory, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range sourceCategoryNames {
		if name == s {
			return SourceCategory(i), nil
		}
	}
	return 0, fmt.Errorf("unknown source category %q", s)
}

// FieldSelectors holds optional CSS selectors for one target. Empty fields fall back to generic selectors.
type FieldSelectors struct {
	Container string `json:"container,omitempty"`
	Name      string `json:"name,omitempty"`
	Address   string `json:"address,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Website   string `json:"website,omitempty"`
	Rating    string `json:"rating,omitempty"`
	Reviews   string `json:"reviews,omitempty"`
	Price     string `json:"price,omitempty"`
}

// ScrapingTarget is one crawl job. It is passed by value and never modified after construction.
type ScrapingTarget struct {
	URL              string         `json:"url"`
	Category         SourceCategory `json:"category"`
	Selectors        FieldSelectors `json:"selectors"`
	SearchQueries    []string       `json:"search_queries,omitempty"`
	FallbackStrategy string         `json:"fallback_strategy,omitempty"`
}

func (t ScrapingTarget) Validate() error {
	raw := strings.TrimSpace(t.URL)
	if raw == "" {
		return fmt.Errorf("%w: empty url", ErrInvalidTarget)
	}
	u, err := url.Parse(strings.ReplaceAll(raw, QueryPlaceholder, "x"))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidTarget, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %s: scheme must be http or https", ErrInvalidTarget, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %s: missing host", ErrInvalidTarget, raw)
	}
	if t.Category.String() == "unknown" {
		return fmt.Errorf("%w: %s: unknown category %d", ErrInvalidTarget, raw, int(t.Category))
	}
	return nil
}

// FetchURLs expands the search queries into the ordered list of URLs to visit.
func (t ScrapingTarget) FetchURLs() []string {
	base := strings.TrimSpace(t.URL)
	queries := make([]string, 0, len(t.SearchQueries))
	for _, q := range t.SearchQueries {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}
	if len(queries) == 0 {
		return []string{strings.ReplaceAll(base, QueryPlaceholder, "")}
	}

	urls := make([]string, 0, len(queries))
	for _, q := range queries {
		if strings.Contains(base, QueryPlaceholder) {
			urls = append(urls, strings.ReplaceAll(base, QueryPlaceholder, url.QueryEscape(q)))
			continue
		}
		u, err := url.Parse(base)
		if err != nil {
			continue
		}
		values := u.Query()
		values.Set("q", q)
		u.RawQuery = values.Encode()
		urls = append(urls, u.String())
	}
	return urls
}

// Origin returns scheme://host of the target URL.
func (t ScrapingTarget) Origin() string {
	u, err := url.Parse(strings.ReplaceAll(t.URL, QueryPlaceholder, ""))
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
