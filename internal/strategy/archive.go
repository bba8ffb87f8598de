package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ahmaddev-codes/amala-hack-sub003/config"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/extract"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/model"
	jsoniter "github.com/json-iterator/go"
	"github.com/karust/gogetcrawl/common"
	"github.com/karust/gogetcrawl/commoncrawl"
	"github.com/patrickmn/go-cache"
)

const indexListUrl = "https://index.commoncrawl.org/collinfo.json"

var (
	errNoCaptures = errors.New("no archived captures found")
	htmlPattern   = regexp.MustCompile(`(?si)<!doctype html>.*?</html>|<html.*?</html>`)
)

type crawlIndex struct {
	Id     string `json:"id"`
	Name   string `json:"name"`
	CdxAPI string `json:"cdx-api"`
}

// ArchiveStrategy reads the most recent CommonCrawl capture of the target URL.
type ArchiveStrategy struct {
	cfg        *config.ArchiveConfig
	extractor  *extract.Extractor
	log        *slog.Logger
	localCache *cache.Cache

	mu      sync.Mutex
	crawler *commoncrawl.CommonCrawl
}

func NewArchiveStrategy(cfg *config.ArchiveConfig, e *extract.Extractor, log *slog.Logger) *ArchiveStrategy {
	s := &ArchiveStrategy{
		cfg:        cfg,
		extractor:  e,
		log:        log,
		localCache: cache.New(72*time.Hour, 72*time.Hour), // indexes update every month
	}
	if _, err := s.client(); err != nil {
		log.Error("failed to create common crawl client.", slog.String("err", err.Error()))
	}
	return s
}

func (s *ArchiveStrategy) Name() string { return NameArchive }

// client connects lazily. Request limits can make the first connection fail at startup.
func (s *ArchiveStrategy) client() (*commoncrawl.CommonCrawl, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.crawler != nil {
		return s.crawler, nil
	}
	c, err := commoncrawl.New(s.cfg.RequestTimeout, s.cfg.Retries)
	if err != nil {
		return nil, fmt.Errorf("connect to common crawl: %w", err)
	}
	s.crawler = c
	return c, nil
}

func (s *ArchiveStrategy) Fetch(ctx context.Context, target model.ScrapingTarget) (Outcome, error) {
	c, err := s.client()
	if err != nil {
		return Outcome{}, err
	}
	indexes, err := s.indexes(c)
	if err != nil {
		return Outcome{}, fmt.Errorf("load crawl indexes: %w", err)
	}

	pageURL := strings.ReplaceAll(target.URL, model.QueryPlaceholder, "")
	requestCfg := common.RequestConfig{
		URL:     pageURL,
		Filters: []string{"statuscode:200", "mimetype:text/html"},
	}
	ids := make([]string, 0, s.cfg.LastCrawlIndexes)
	for i := 0; i < s.cfg.LastCrawlIndexes && i < len(indexes); i++ {
		ids = append(ids, indexes[i].Id)
	}

	html, err := latestCapture(ctx, c, requestCfg, ids, s.log)
	if err != nil {
		return Outcome{}, err
	}
	cards, err := s.candidates(target, html, pageURL)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Candidates: cards, Source: pageURL, HTML: html}, nil
}

// captureIndex is the part of the CommonCrawl client used to find and download captures.
type captureIndex[R any] interface {
	GetPagesIndex(cfg common.RequestConfig, index string) ([]R, error)
	GetFile(page R) ([]byte, error)
}

// latestCapture returns the html of the most recent capture in the first index that has one. Index lookup
// errors are kept so that an outage is reported instead of errNoCaptures.
func latestCapture[R any](ctx context.Context, src captureIndex[R], requestCfg common.RequestConfig, indexIDs []string,
	log *slog.Logger) (string, error) {
	lastErr := errNoCaptures
	for _, id := range indexIDs {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p, err := src.GetPagesIndex(requestCfg, id)
		if err != nil {
			log.Warn("failed to query crawl index.", slog.String("index", id), slog.String("err", err.Error()))
			lastErr = fmt.Errorf("query crawl index %s: %w", id, err)
			continue
		}
		if len(p) == 0 {
			log.Debug("no captures found.", slog.String("url", requestCfg.URL), slog.String("index", id))
			continue
		}
		body, err := src.GetFile(p[len(p)-1]) // last one is the most recent
		if err != nil {
			return "", fmt.Errorf("get capture: %w", err)
		}
		if html := captureHTML(string(body)); html != "" {
			return html, nil
		}
	}
	return "", lastErr
}

// candidates prefers structured cards and falls back to keyword headings.
func (s *ArchiveStrategy) candidates(target model.ScrapingTarget, html, sourceURL string) ([]model.LocationCandidate, error) {
	cards, err := s.extractor.Cards(html, target.Selectors, sourceURL)
	if err != nil {
		return nil, err
	}
	if len(cards) > 0 {
		return cards, nil
	}
	return s.extractor.HeadingsFromHTML(html, sourceURL)
}

func (s *ArchiveStrategy) indexes(c *commoncrawl.CommonCrawl) ([]crawlIndex, error) {
	if i, ok := s.localCache.Get("indexes"); ok {
		return i.([]crawlIndex), nil
	}

	response, err := common.Get(indexListUrl, c.MaxTimeout, c.MaxRetries)
	if err != nil {
		return nil, err
	}
	var indexes []crawlIndex
	if err = jsoniter.Unmarshal(response, &indexes); err != nil {
		return nil, err
	}
	s.localCache.Set("indexes", indexes, cache.DefaultExpiration)

	return indexes, nil
}

// captureHTML strips the WARC and HTTP headers from an archived record.
func captureHTML(record string) string {
	return htmlPattern.FindString(record)
}
