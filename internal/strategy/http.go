package strategy

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/extract"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/loader"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/model"
)

// HTTPStrategy issues a plain GET with browser-like headers. Without rendering only heading text is trusted.
type HTTPStrategy struct {
	fetcher       fetcher
	timeout       time.Duration
	minBodyLength int
	extractor     *extract.Extractor
	log           *slog.Logger
}

func NewHTTPStrategy(timeout time.Duration, minBodyLength int, e *extract.Extractor, log *slog.Logger) *HTTPStrategy {
	return &HTTPStrategy{timeout: timeout, minBodyLength: minBodyLength, extractor: e, log: log}
}

// WithTransport replaces the HTTP transport. Tests use it to install mocks.
func (s *HTTPStrategy) WithTransport(rt http.RoundTripper) *HTTPStrategy {
	s.fetcher.transport = rt
	return s
}

func (s *HTTPStrategy) Name() string { return NameHTTP }

func (s *HTTPStrategy) Fetch(ctx context.Context, target model.ScrapingTarget) (Outcome, error) {
	var out Outcome
	var lastErr error
	for _, u := range target.FetchURLs() {
		if len(out.Candidates) >= s.extractor.MaxItems() {
			break
		}
		resp, err := s.fetcher.get(ctx, u, s.timeout)
		if err != nil {
			lastErr = err
			continue
		}
		cards, err := headingCandidates(resp, s.minBodyLength, s.extractor)
		if err != nil {
			lastErr = err
			continue
		}
		s.log.Debug("headings extracted.", slog.String("url", resp.URL), slog.Int("count", len(cards)))
		if len(cards) > 0 && out.Source == "" {
			out.Source, out.HTML = resp.URL, string(resp.Body)
		}
		out.Candidates = collect(out.Candidates, cards, s.extractor.MaxItems())
	}

	if len(out.Candidates) == 0 && lastErr != nil {
		return Outcome{}, lastErr
	}
	return out, nil
}

// headingCandidates classifies a raw HTML response and extracts keyword headings from it.
func headingCandidates(resp response, minBodyLength int, e *extract.Extractor) ([]model.LocationCandidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, loader.Classify(err, resp.StatusCode, resp.URL)
	}
	snap := loader.Snapshot{
		URL:   resp.URL,
		Title: extract.CleanText(doc.Find("title").First().Text()),
		Text:  extract.CleanText(doc.Find("body").Text()),
	}
	if err := loader.CheckPage(snap, minBodyLength, false); err != nil {
		return nil, err
	}
	return e.Headings(doc.Selection, resp.URL), nil
}
