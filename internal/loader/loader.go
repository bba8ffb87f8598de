package loader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahmaddev-codes/amala-hack-sub003/internal/metrics"
)

// WaitCondition names the page lifecycle event a navigation waits for.
type WaitCondition string

const (
	WaitNetworkIdle      WaitCondition = "networkIdle"
	WaitDOMContentLoaded WaitCondition = "DOMContentLoaded"
	WaitLoad             WaitCondition = "load"
)

// WaitFor relaxes the wait condition as attempts progress.
func WaitFor(attempt int) WaitCondition {
	switch attempt {
	case 1:
		return WaitNetworkIdle
	case 2:
		return WaitDOMContentLoaded
	default:
		return WaitLoad
	}
}

// Page is one browser tab.
type Page interface {
	Navigate(ctx context.Context, url string, wait WaitCondition) error
	Snapshot(ctx context.Context) (Snapshot, error)
}

type Options struct {
	MaxRetries    int
	RetryBackoff  time.Duration
	PageTimeout   time.Duration
	MinBodyLength int
}

// Loader drives a Page through bounded, strictly ordered attempts.
type Loader struct {
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics
}

func New(opts Options, log *slog.Logger, m *metrics.Metrics) *Loader {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 30 * time.Second
	}
	return &Loader{opts: opts, log: log, metrics: m}
}

// Load navigates page to url until an attempt yields an acceptable page or retries are exhausted.
// Backoff between attempts grows linearly: attempt * RetryBackoff.
func (l *Loader) Load(ctx context.Context, page Page, url string) (Snapshot, error) {
	var lastErr error
	for attempt := 1; attempt <= l.opts.MaxRetries; attempt++ {
		snap, err := l.attempt(ctx, page, url, attempt)
		l.metrics.IncPageLoad(Label(err))
		if err == nil {
			l.log.Debug("page loaded.", slog.String("url", url), slog.Int("attempt", attempt))
			return snap, nil
		}
		lastErr = err
		l.log.Warn("page load attempt failed.", slog.String("url", url),
			slog.String("attempt", fmt.Sprintf("%d/%d", attempt, l.opts.MaxRetries)),
			slog.String("err", err.Error()))

		if attempt == l.opts.MaxRetries {
			break
		}
		if err := sleep(ctx, time.Duration(attempt)*l.opts.RetryBackoff); err != nil {
			return Snapshot{}, Classify(err, 0, url)
		}
	}

	return Snapshot{}, fmt.Errorf("page load failed after %d attempts: %w", l.opts.MaxRetries, lastErr)
}

func (l *Loader) attempt(ctx context.Context, page Page, url string, attempt int) (Snapshot, error) {
	actx, cancel := context.WithTimeout(ctx, l.opts.PageTimeout)
	defer cancel()

	if err := page.Navigate(actx, url, WaitFor(attempt)); err != nil {
		return Snapshot{}, Classify(err, 0, url)
	}
	snap, err := page.Snapshot(actx)
	if err != nil {
		return Snapshot{}, Classify(err, 0, url)
	}
	if snap.URL == "" {
		snap.URL = url
	}
	if err := CheckPage(snap, l.opts.MinBodyLength, true); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
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
