package worker

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ahmaddev-codes/amala-hack-sub003/config"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/dedupe"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/model"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

const reasonSeen = "candidate already screened in this run"

// DiscoveryWorker consumes targets, scrapes them in groups, screens every candidate for duplicates, stores the
// new ones as pending and emits one report per target.
type DiscoveryWorker struct {
	InputChan    <-chan model.ScrapingTarget
	OutputChan   chan<- *model.DiscoveryReport
	PanicChan    chan struct{}
	Orchestrator *Orchestrator
	Detector     *dedupe.Detector
	Store        LocationStore
	Cfg          *config.Config
	Log          *slog.Logger
	Wg           *sync.WaitGroup

	seenOnce sync.Once
	seen     *lru.Cache[string, struct{}]
}

// Run groups incoming targets by size or time and processes each group. It returns when InputChan is closed.
func (w *DiscoveryWorker) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.Log.Error("PANIC!", slog.Any("err", r))
			w.Wg.Add(1) // handed over to the restarted worker before this one is released
			w.PanicChan <- struct{}{}
		}
		w.Wg.Done()
	}()
	w.Log.Debug("starting discovery worker.")

	settings := w.Cfg.WorkerSettings
	batch := make([]model.ScrapingTarget, 0, settings.TargetBatch)
	ticker := time.NewTicker(settings.TargetWait)
	defer ticker.Stop()

	for {
		select {
		case target, ok := <-w.InputChan:
			if !ok {
				w.processTargets(ctx, batch)
				w.Log.Debug("input channel closed. discovery worker stopped.")
				return
			}
			batch = append(batch, target)
			if len(batch) >= settings.TargetBatch {
				w.processTargets(ctx, batch)
				batch = make([]model.ScrapingTarget, 0, settings.TargetBatch)
				ticker.Reset(settings.TargetWait)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.processTargets(ctx, batch)
				batch = make([]model.ScrapingTarget, 0, settings.TargetBatch)
			}
		}
	}
}

func (w *DiscoveryWorker) processTargets(ctx context.Context, targets []model.ScrapingTarget) {
	if len(targets) == 0 {
		return
	}
	valid := make([]model.ScrapingTarget, 0, len(targets))
	for _, t := range targets {
		if err := w.Orchestrator.ValidateTarget(t); err != nil {
			w.Log.Error("invalid target skipped.", slog.String("url", t.URL), slog.String("err", err.Error()))
			w.OutputChan <- w.report(t, model.FailedResult(t.URL, err.Error()), nil)
			continue
		}
		valid = append(valid, t)
	}
	if len(valid) == 0 {
		return
	}

	results, err := w.Orchestrator.ScrapeMultipleTargets(ctx, valid, w.Cfg.WorkerSettings.MaxConcurrent)
	if err != nil {
		w.Log.Error("scrape run rejected.", slog.String("err", err.Error()))
		return
	}

	corpus, err := loadCorpus(ctx, w.Store, w.Cfg.WorkerSettings.LocationsTable, w.Cfg.DedupeSettings.CorpusPageSize)
	if err != nil {
		w.Log.Error("failed to load known locations.", slog.String("err", err.Error()))
	}
	for i, res := range results {
		var verdicts []model.CandidateVerdict
		verdicts, corpus = w.screen(ctx, res.Candidates, corpus, err)
		w.OutputChan <- w.report(valid[i], res, verdicts)
	}
}

// screen checks candidates against the corpus and the not yet stored candidates of the same list, then stores
// the new ones together so their writes share a batcher flush. Stored candidates join the corpus. A candidate
// that was only a duplicate of one whose write failed is screened again.
func (w *DiscoveryWorker) screen(ctx context.Context, candidates []model.LocationCandidate, corpus []model.Location,
	corpusErr error) ([]model.CandidateVerdict, []model.Location) {
	verdicts := make([]model.CandidateVerdict, len(candidates))
	todo := make([]int, len(candidates))
	for i := range todo {
		todo[i] = i
	}

	for len(todo) > 0 {
		var pending []int
		var pendingLocs []model.Location
		dependents := make(map[string][]int)
		for _, i := range todo {
			c := candidates[i]
			if w.seenSet().Contains(seenKey(c)) {
				verdicts[i] = model.CandidateVerdict{Candidate: c, Duplicate: model.DuplicateCheckResult{
					IsDuplicate: true, Confidence: 1, SimilarLocations: []model.SimilarLocation{}, Reasons: []string{reasonSeen},
				}}
				continue
			}

			seq := dedupe.Slice(slices.Concat(corpus, pendingLocs))
			if corpusErr != nil {
				seq = failingCorpus(corpusErr)
			}
			verdicts[i] = model.CandidateVerdict{Candidate: c, Duplicate: w.Detector.Check(ctx, c, seq)}
			if !verdicts[i].Duplicate.IsDuplicate {
				pending = append(pending, i)
				pendingLocs = append(pendingLocs, c.ToLocation())
				continue
			}
			top := verdicts[i].Duplicate.SimilarLocations[0].Location.ID
			if slices.ContainsFunc(pendingLocs, func(l model.Location) bool { return l.ID == top }) {
				dependents[top] = append(dependents[top], i)
			} else {
				w.seenSet().Add(seenKey(c), struct{}{})
			}
		}

		stored := w.storeAll(ctx, candidates, pending)
		todo = nil
		for n, i := range pending {
			c := candidates[i]
			verdicts[i].Stored = stored[n]
			if stored[n] {
				corpus = append(corpus, c.ToLocation())
				w.seenSet().Add(seenKey(c), struct{}{})
				for _, d := range dependents[c.ID] {
					w.seenSet().Add(seenKey(candidates[d]), struct{}{})
				}
				continue
			}
			todo = append(todo, dependents[c.ID]...)
		}
		slices.Sort(todo)
	}
	return verdicts, corpus
}

// storeAll writes the candidates at idx concurrently and reports which writes succeeded.
func (w *DiscoveryWorker) storeAll(ctx context.Context, candidates []model.LocationCandidate, idx []int) []bool {
	stored := make([]bool, len(idx))
	var g errgroup.Group
	for n, i := range idx {
		g.Go(func() error {
			stored[n] = w.store(ctx, candidates[i])
			return nil
		})
	}
	_ = g.Wait()
	return stored
}

func (w *DiscoveryWorker) store(ctx context.Context, c model.LocationCandidate) bool {
	l := c.ToLocation()
	l.Status = model.StatusPending
	data, err := locationToData(l)
	if err != nil {
		w.Log.Error("failed to encode candidate.", slog.String("name", c.Name), slog.String("err", err.Error()))
		return false
	}
	if err := w.Store.Set(ctx, w.Cfg.WorkerSettings.LocationsTable, c.ID, data); err != nil {
		w.Log.Error("failed to store candidate.", slog.String("name", c.Name), slog.String("err", err.Error()))
		return false
	}
	w.Log.Debug("candidate stored as pending.", slog.String("id", c.ID), slog.String("name", c.Name))
	return true
}

// seenSet holds candidates this worker stored or matched against a stored location.
func (w *DiscoveryWorker) seenSet() *lru.Cache[string, struct{}] {
	w.seenOnce.Do(func() {
		size := w.Cfg.WorkerSettings.SeenCacheSize
		if size <= 0 {
			size = 10000
		}
		w.seen, _ = lru.New[string, struct{}](size)
	})
	return w.seen
}

func seenKey(c model.LocationCandidate) string {
	return strings.ToLower(strings.Join(strings.Fields(c.Name+"|"+c.Address), " "))
}

func (w *DiscoveryWorker) report(t model.ScrapingTarget, res model.ScrapingResult,
	verdicts []model.CandidateVerdict) *model.DiscoveryReport {
	if verdicts == nil {
		verdicts = []model.CandidateVerdict{}
	}
	return &model.DiscoveryReport{
		TargetURL:     t.URL,
		Category:      t.Category.String(),
		Source:        res.Source,
		Strategy:      res.Strategy,
		Success:       res.Success,
		Error:         res.Error,
		TimeToScrape:  res.TimeToScrape,
		Verdicts:      verdicts,
		WorkerVersion: w.Cfg.Version,
	}
}
