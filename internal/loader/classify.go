package loader

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

type titleRule struct {
	pattern *regexp.Regexp
	kind    ErrorKind
}

// titleRules reject error and challenge pages by title. Patterns match whole words, and bare status numbers
// or "error" only count next to error-page wording, so "Terror Grill" or "404 Amala Spots" pass.
var titleRules = []titleRule{
	{regexp.MustCompile(`\bnot found\b|\b404\b.*\b(page|error)\b|\b(page|error)\b.*\b404\b|^\W*404\W*$`), KindNotFound},
	{regexp.MustCompile(`\bforbidden\b|^\W*403\W*$`), KindForbidden},
	{regexp.MustCompile(`\btoo many requests\b|\brate limit(ed)?\b`), KindRateLimited},
	{regexp.MustCompile(`\baccess denied\b|\bcaptcha\b|\bbot detection\b|\battention required\b|` +
		`\bjust a moment\b|\bare you a robot\b`), KindBlocked},
	{regexp.MustCompile(`\b(server|internal|application|unexpected|fatal) error\b|\berror (occurred|page|\d{3})\b|` +
		`\ban error\b|^\W*error\W*$|\btemporarily unavailable\b|\bservice unavailable\b`), KindOther},
}

// Body text is only checked for challenge wording; listing pages routinely contain numbers like 404.
var bodyIndicators = []string{
	"captcha",
	"access denied",
	"bot detection",
	"verify you are human",
	"verifying you are human",
	"checking your browser",
	"unusual traffic",
}

// Snapshot is the content of a loaded page.
type Snapshot struct {
	URL   string
	Title string
	Text  string
	HTML  string
}

// CheckPage rejects error pages, bot walls and near-empty bodies.
func CheckPage(s Snapshot, minBodyLength int, requireTitle bool) error {
	title := strings.TrimSpace(s.Title)
	if requireTitle && (title == "" || strings.EqualFold(title, "unknown")) {
		return &FetchError{Kind: KindEmpty, URL: s.URL, Err: errors.New("page has no title")}
	}

	lowerTitle := strings.ToLower(title)
	for _, rule := range titleRules {
		if match := rule.pattern.FindString(lowerTitle); match != "" {
			return &FetchError{Kind: rule.kind, URL: s.URL, Err: fmt.Errorf("title %q contains %q", title, match)}
		}
	}

	lowerText := strings.ToLower(s.Text)
	for _, indicator := range bodyIndicators {
		if strings.Contains(lowerText, indicator) {
			return &FetchError{Kind: KindBlocked, URL: s.URL, Err: fmt.Errorf("page body contains %q", indicator)}
		}
	}

	if n := utf8.RuneCountInString(strings.TrimSpace(s.Text)); n < minBodyLength {
		return &FetchError{Kind: KindEmpty, URL: s.URL,
			Err: fmt.Errorf("body length %d below minimum %d", n, minBodyLength)}
	}
	return nil
}
