package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the discovery pipeline. A nil *Metrics is a valid no-op.
type Metrics struct {
	Registry             *prometheus.Registry
	StrategyAttempts     *prometheus.CounterVec
	StrategyDuration     *prometheus.HistogramVec
	PageLoadAttempts     *prometheus.CounterVec
	CandidatesExtracted  prometheus.Counter
	TargetsProcessed     *prometheus.CounterVec
	DuplicateVerdicts    *prometheus.CounterVec
	BatcherFlushSize     prometheus.Histogram
	BatcherCommitFailure prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	strategyAttempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_strategy_attempts_total",
			Help: "Fetch strategy attempts by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)
	strategyDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "discovery_strategy_duration_seconds",
			Help:    "Time spent in one fetch strategy for one target.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"strategy"},
	)
	pageLoads := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_page_load_attempts_total",
			Help: "Headless page load attempts by outcome.",
		},
		[]string{"outcome"},
	)
	candidates := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "discovery_candidates_extracted_total",
			Help: "Location candidates extracted from fetched pages.",
		},
	)
	targets := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_targets_processed_total",
			Help: "Scraping targets processed by final strategy.",
		},
		[]string{"strategy"},
	)
	verdicts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_duplicate_verdicts_total",
			Help: "Duplicate checks by confidence band.",
		},
		[]string{"band"},
	)
	flushSize := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "discovery_batcher_flush_size",
			Help:    "Operations per micro-batcher flush.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
	)
	commitFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "discovery_batcher_commit_failures_total",
			Help: "Atomic batch commits rejected by the store.",
		},
	)

	registry.MustRegister(strategyAttempts, strategyDuration, pageLoads, candidates, targets, verdicts, flushSize,
		commitFailures)

	return &Metrics{
		Registry:             registry,
		StrategyAttempts:     strategyAttempts,
		StrategyDuration:     strategyDuration,
		PageLoadAttempts:     pageLoads,
		CandidatesExtracted:  candidates,
		TargetsProcessed:     targets,
		DuplicateVerdicts:    verdicts,
		BatcherFlushSize:     flushSize,
		BatcherCommitFailure: commitFailures,
	}
}

func (m *Metrics) IncStrategy(strategy, outcome string) {
	if m == nil {
		return
	}
	m.StrategyAttempts.WithLabelValues(strategy, outcome).Inc()
}

func (m *Metrics) ObserveStrategy(strategy string, d time.Duration) {
	if m == nil {
		return
	}
	m.StrategyDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

func (m *Metrics) IncPageLoad(outcome string) {
	if m == nil {
		return
	}
	m.PageLoadAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddCandidates(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CandidatesExtracted.Add(float64(n))
}

func (m *Metrics) IncTarget(strategy string) {
	if m == nil {
		return
	}
	m.TargetsProcessed.WithLabelValues(strategy).Inc()
}

func (m *Metrics) IncVerdict(band string) {
	if m == nil {
		return
	}
	m.DuplicateVerdicts.WithLabelValues(band).Inc()
}

func (m *Metrics) ObserveFlush(size int) {
	if m == nil {
		return
	}
	m.BatcherFlushSize.Observe(float64(size))
}

func (m *Metrics) IncCommitFailure() {
	if m == nil {
		return
	}
	m.BatcherCommitFailure.Inc()
}
