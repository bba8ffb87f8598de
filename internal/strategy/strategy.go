package strategy

import (
	"context"

	"github.com/ahmaddev-codes/amala-hack-sub003/internal/loader"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/model"
)

const (
	NameBrowser     = "browser"
	NameHTTP        = "http"
	NameAlternative = "alternative"
	NameArchive     = "archive"
)

// Outcome is what one strategy produced for a target.
type Outcome struct {
	Candidates []model.LocationCandidate
	Source     string // URL actually fetched
	HTML       string // raw page that produced the candidates, if any
}

// Strategy is one way of fetching a target. Implementations must be safe for concurrent use.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, target model.ScrapingTarget) (Outcome, error)
}

// PageSource hands out browser tabs. browser.Browser implements it.
type PageSource interface {
	AcquirePage(ctx context.Context) (loader.Page, error)
	ReleasePage(p loader.Page)
}

// PageArchive stores the raw HTML behind a successful fetch.
type PageArchive interface {
	SavePage(ctx context.Context, url, html string) (string, error)
}
