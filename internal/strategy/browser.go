package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ahmaddev-codes/amala-hack-sub003/internal/extract"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/loader"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/model"
)

// BrowserStrategy renders the target in a disguised tab of the shared browser and extracts cards.
type BrowserStrategy struct {
	pages     PageSource
	loader    *loader.Loader
	extractor *extract.Extractor
	log       *slog.Logger
}

func NewBrowserStrategy(pages PageSource, l *loader.Loader, e *extract.Extractor, log *slog.Logger) *BrowserStrategy {
	return &BrowserStrategy{pages: pages, loader: l, extractor: e, log: log}
}

func (s *BrowserStrategy) Name() string { return NameBrowser }

func (s *BrowserStrategy) Fetch(ctx context.Context, target model.ScrapingTarget) (Outcome, error) {
	page, err := s.pages.AcquirePage(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("acquire page: %w", err)
	}
	defer s.pages.ReleasePage(page)

	var out Outcome
	var lastErr error
	for _, u := range target.FetchURLs() {
		if len(out.Candidates) >= s.extractor.MaxItems() {
			break
		}
		snap, err := s.loader.Load(ctx, page, u)
		if err != nil {
			lastErr = err
			continue
		}
		cards, err := s.extractor.Cards(snap.HTML, target.Selectors, snap.URL)
		if err != nil {
			lastErr = err
			continue
		}
		s.log.Debug("cards extracted.", slog.String("url", snap.URL), slog.Int("count", len(cards)))
		if len(cards) > 0 && out.Source == "" {
			out.Source, out.HTML = snap.URL, snap.HTML
		}
		out.Candidates = collect(out.Candidates, cards, s.extractor.MaxItems())
	}

	if len(out.Candidates) == 0 && lastErr != nil {
		return Outcome{}, lastErr
	}
	return out, nil
}
