package broker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/ahmaddev-codes/amala-hack-sub003/internal/model"
	jsoniter "github.com/json-iterator/go"
)

// ReadTargetsFile loads a json array of scraping targets.
func ReadTargetsFile(path string) ([]model.ScrapingTarget, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}
	var targets []model.ScrapingTarget
	if err := jsoniter.Unmarshal(raw, &targets); err != nil {
		return nil, fmt.Errorf("decode targets file %s: %w", path, err)
	}
	return targets, nil
}

// FeedTargets sends targets to targetChan and closes it, stopping early when ctx is done.
func FeedTargets(ctx context.Context, wg *sync.WaitGroup, targets []model.ScrapingTarget,
	targetChan chan<- model.ScrapingTarget) {
	defer wg.Done()
	defer close(targetChan)
	for _, t := range targets {
		select {
		case <-ctx.Done():
			return
		case targetChan <- t:
		}
	}
}

// LogReports is the report sink used without kafka.
func LogReports(wg *sync.WaitGroup, reportChan <-chan *model.DiscoveryReport, log *slog.Logger) {
	defer wg.Done()
	for r := range reportChan {
		stored := 0
		for _, v := range r.Verdicts {
			if v.Stored {
				stored++
			}
		}
		log.Info("target processed.", slog.String("url", r.TargetURL), slog.String("strategy", r.Strategy),
			slog.Bool("success", r.Success), slog.Int("candidates", len(r.Verdicts)), slog.Int("stored", stored),
			slog.String("err", r.Error))
	}
}
