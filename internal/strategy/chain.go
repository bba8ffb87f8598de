package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/ahmaddev-codes/amala-hack-sub003/internal/loader"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/metrics"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/model"
)

var errNoCandidates = errors.New("no candidates found")

// Chain tries its strategies in order for one target and stops at the first one that yields candidates.
type Chain struct {
	strategies []Strategy
	archive    PageArchive
	log        *slog.Logger
	metrics    *metrics.Metrics
}

func NewChain(log *slog.Logger, m *metrics.Metrics, strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies, log: log, metrics: m}
}

// WithArchive enables raw page archiving for successful fetches.
func (c *Chain) WithArchive(a PageArchive) *Chain {
	c.archive = a
	return c
}

func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.strategies))
	for _, s := range c.strategies {
		names = append(names, s.Name())
	}
	return names
}

// ValidateTarget rejects targets that cannot be processed at all, including unknown fallback hints.
func (c *Chain) ValidateTarget(t model.ScrapingTarget) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.FallbackStrategy != "" && !slices.Contains(c.Names(), t.FallbackStrategy) {
		return fmt.Errorf("%w: %s: unknown fallback strategy %q", model.ErrInvalidTarget, t.URL, t.FallbackStrategy)
	}
	return nil
}

// order moves the hinted strategy to the front and keeps the rest in priority order.
func (c *Chain) order(hint string) []Strategy {
	if hint == "" {
		return c.strategies
	}
	ordered := make([]Strategy, 0, len(c.strategies))
	for _, s := range c.strategies {
		if s.Name() == hint {
			ordered = append(ordered, s)
		}
	}
	for _, s := range c.strategies {
		if s.Name() != hint {
			ordered = append(ordered, s)
		}
	}
	return ordered
}

// ScrapeWithFallbacks never fails: when every strategy fails the result carries strategy "none"
// and the last error seen.
func (c *Chain) ScrapeWithFallbacks(ctx context.Context, target model.ScrapingTarget) model.ScrapingResult {
	startTime := time.Now()
	lastErr := errNoCandidates

	for _, s := range c.order(target.FallbackStrategy) {
		if err := ctx.Err(); err != nil {
			lastErr = loader.Classify(err, 0, target.URL)
			break
		}
		out, err := c.try(ctx, s, target)
		if err == nil && len(out.Candidates) == 0 {
			err = errNoCandidates
		}
		if err != nil {
			lastErr = err
			c.log.Info("strategy failed, trying next.", slog.String("url", target.URL),
				slog.String("strategy", s.Name()), slog.String("err", err.Error()))
			continue
		}

		c.metrics.AddCandidates(len(out.Candidates))
		c.metrics.IncTarget(s.Name())
		c.archivePage(ctx, out)
		source := out.Source
		if source == "" {
			source = target.URL
		}
		return model.ScrapingResult{
			Success:      true,
			Candidates:   out.Candidates,
			Source:       source,
			Strategy:     s.Name(),
			TimeToScrape: time.Since(startTime).Milliseconds(),
		}
	}

	c.metrics.IncTarget(model.StrategyNone)
	c.log.Warn("all strategies failed.", slog.String("url", target.URL), slog.String("err", lastErr.Error()))
	res := model.FailedResult(target.URL, lastErr.Error())
	res.TimeToScrape = time.Since(startTime).Milliseconds()
	return res
}

// try isolates one strategy so a panic inside it becomes an ordinary error.
func (c *Chain) try(ctx context.Context, s Strategy, target model.ScrapingTarget) (out Outcome, err error) {
	startTime := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("PANIC in strategy!", slog.String("strategy", s.Name()), slog.Any("err", r))
			out, err = Outcome{}, fmt.Errorf("strategy %s panicked: %v", s.Name(), r)
		}
		outcome := loader.Label(err)
		if err == nil && len(out.Candidates) == 0 {
			outcome = "no_candidates"
		}
		c.metrics.IncStrategy(s.Name(), outcome)
		c.metrics.ObserveStrategy(s.Name(), time.Since(startTime))
	}()

	return s.Fetch(ctx, target)
}

func (c *Chain) archivePage(ctx context.Context, out Outcome) {
	if c.archive == nil || out.HTML == "" {
		return
	}
	link, err := c.archive.SavePage(ctx, out.Source, out.HTML)
	if err != nil {
		c.log.Error("failed to archive page.", slog.String("url", out.Source), slog.String("err", err.Error()))
		return
	}
	c.log.Debug("page archived.", slog.String("link", link))
}

// collect appends candidates until the cap is reached.
func collect(dst, src []model.LocationCandidate, limit int) []model.LocationCandidate {
	for _, c := range src {
		if len(dst) >= limit {
			break
		}
		dst = append(dst, c)
	}
	return dst
}
