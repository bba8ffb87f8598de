package strategy

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ahmaddev-codes/amala-hack-sub003/internal/extract"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/model"
)

const defaultQuery = "amala"

// alternativePaths are guessed search, API and listing endpoints relative to the target origin.
var alternativePaths = []string{
	"/search?q=" + model.QueryPlaceholder,
	"/api/search?q=" + model.QueryPlaceholder,
	"/api/places?q=" + model.QueryPlaceholder,
	"/restaurants",
	"/places",
	"/listings",
	"/directory",
}

// AlternativeStrategy probes endpoints derived from the target origin. JSON answers are decoded as
// listings, HTML answers go through the heading extractor.
type AlternativeStrategy struct {
	fetcher       fetcher
	probeTimeout  time.Duration
	maxProbes     int
	minBodyLength int
	extractor     *extract.Extractor
	log           *slog.Logger
}

func NewAlternativeStrategy(probeTimeout time.Duration, maxProbes, minBodyLength int, e *extract.Extractor,
	log *slog.Logger) *AlternativeStrategy {
	if maxProbes <= 0 || maxProbes > len(alternativePaths) {
		maxProbes = len(alternativePaths)
	}
	return &AlternativeStrategy{probeTimeout: probeTimeout, maxProbes: maxProbes, minBodyLength: minBodyLength,
		extractor: e, log: log}
}

func (s *AlternativeStrategy) WithTransport(rt http.RoundTripper) *AlternativeStrategy {
	s.fetcher.transport = rt
	return s
}

func (s *AlternativeStrategy) Name() string { return NameAlternative }

// AlternativeURLs lists the probe URLs for a target, skipping the target URL itself.
func (s *AlternativeStrategy) AlternativeURLs(target model.ScrapingTarget) []string {
	origin := target.Origin()
	if origin == "" {
		return nil
	}
	query := defaultQuery
	for _, q := range target.SearchQueries {
		if q = strings.TrimSpace(q); q != "" {
			query = q
			break
		}
	}
	original := strings.TrimRight(target.FetchURLs()[0], "/")

	urls := make([]string, 0, s.maxProbes)
	for _, p := range alternativePaths {
		if len(urls) == s.maxProbes {
			break
		}
		u := origin + strings.ReplaceAll(p, model.QueryPlaceholder, url.QueryEscape(query))
		if u == original {
			continue
		}
		urls = append(urls, u)
	}
	return urls
}

func (s *AlternativeStrategy) Fetch(ctx context.Context, target model.ScrapingTarget) (Outcome, error) {
	var lastErr error
	for _, u := range s.AlternativeURLs(target) {
		resp, err := s.fetcher.get(ctx, u, s.probeTimeout)
		if err != nil {
			lastErr = err
			s.log.Debug("alternative probe failed.", slog.String("url", u), slog.String("err", err.Error()))
			continue
		}

		var cards []model.LocationCandidate
		if resp.isJSON() {
			cards, err = s.extractor.JSONListings(resp.Body, resp.URL)
		} else {
			cards, err = headingCandidates(resp, s.minBodyLength, s.extractor)
		}
		if err != nil {
			lastErr = err
			continue
		}
		if len(cards) == 0 {
			continue
		}
		s.log.Info("alternative endpoint answered.", slog.String("url", resp.URL), slog.Int("count", len(cards)))
		out := Outcome{Candidates: collect(nil, cards, s.extractor.MaxItems()), Source: resp.URL}
		if !resp.isJSON() {
			out.HTML = string(resp.Body)
		}
		return out, nil
	}

	if lastErr != nil {
		return Outcome{}, lastErr
	}
	return Outcome{}, nil
}
