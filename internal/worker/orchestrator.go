package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahmaddev-codes/amala-hack-sub003/internal/model"
	"golang.org/x/sync/errgroup"
)

// Scraper runs the fallback chain for one target. strategy.Chain implements it.
type Scraper interface {
	ValidateTarget(t model.ScrapingTarget) error
	ScrapeWithFallbacks(ctx context.Context, target model.ScrapingTarget) model.ScrapingResult
}

// Orchestrator runs a Scraper over many targets in chunks of bounded concurrency.
type Orchestrator struct {
	scraper      Scraper
	requestDelay time.Duration
	batchDelay   time.Duration
	log          *slog.Logger
}

func NewOrchestrator(s Scraper, requestDelay, batchDelay time.Duration, log *slog.Logger) *Orchestrator {
	return &Orchestrator{scraper: s, requestDelay: requestDelay, batchDelay: batchDelay, log: log}
}

func (o *Orchestrator) ValidateTarget(t model.ScrapingTarget) error {
	return o.scraper.ValidateTarget(t)
}

// ScrapeMultipleTargets returns exactly one result per target, in input order. Only contract violations
// (a malformed target or a non-positive maxConcurrent) are returned as errors, before any fetch starts.
// Chunks of maxConcurrent targets run concurrently; the batch delay separates consecutive chunks.
func (o *Orchestrator) ScrapeMultipleTargets(ctx context.Context, targets []model.ScrapingTarget,
	maxConcurrent int) ([]model.ScrapingResult, error) {
	if maxConcurrent <= 0 {
		return nil, fmt.Errorf("%w: maxConcurrent must be positive, got %d", model.ErrInvalidTarget, maxConcurrent)
	}
	for i, t := range targets {
		if err := o.scraper.ValidateTarget(t); err != nil {
			return nil, fmt.Errorf("target %d: %w", i, err)
		}
	}

	results := make([]model.ScrapingResult, len(targets))
	chunks := (len(targets) + maxConcurrent - 1) / maxConcurrent
	o.log.Info("scraping targets.", slog.Int("targets", len(targets)), slog.Int("chunks", chunks),
		slog.Int("max_concurrent", maxConcurrent))

	for start := 0; start < len(targets); start += maxConcurrent {
		if start > 0 {
			if err := sleep(ctx, o.batchDelay); err != nil {
				for i := start; i < len(targets); i++ {
					results[i] = model.FailedResult(targets[i].URL, "scrape cancelled: "+err.Error())
				}
				break
			}
		}
		end := min(start+maxConcurrent, len(targets))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = o.process(ctx, targets[i])
				return nil
			})
		}
		_ = g.Wait() // process reports failures in the result

	}

	return results, nil
}

// process never panics and never returns without a result.
func (o *Orchestrator) process(ctx context.Context, t model.ScrapingTarget) (res model.ScrapingResult) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("PANIC while scraping target!", slog.String("url", t.URL), slog.Any("err", r))
			res = model.FailedResult(t.URL, fmt.Sprintf("panic: %v", r))
		}
	}()
	if err := ctx.Err(); err != nil {
		return model.FailedResult(t.URL, "scrape cancelled: "+err.Error())
	}

	res = o.scraper.ScrapeWithFallbacks(ctx, t)
	o.log.Debug("target scraped.", slog.String("url", t.URL), slog.String("strategy", res.Strategy),
		slog.Int("candidates", len(res.Candidates)), slog.Int64("time_to_scrape", res.TimeToScrape))
	_ = sleep(ctx, o.requestDelay)
	return res
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
