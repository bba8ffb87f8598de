package dedupe

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"slices"

	"github.com/ahmaddev-codes/amala-hack-sub003/internal/metrics"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/model"
)

// ReasonCheckFailed is the only reason returned when the check could not complete.
const ReasonCheckFailed = "duplicate check failed, manual review advised"

const (
	nameWeight    = 0.6
	addressWeight = 0.4
	// nameOnlyWeight caps a verdict that rests on the name alone.
	nameOnlyWeight = 0.8

	phoneConfidence     = 0.98
	proximityConfidence = 0.92
	// proximityNameConfidence applies when a nearby record also shares part of its name.
	proximityNameConfidence = 0.97
	proximityNameFloor      = 0.5
)

const (
	BandExact  = "exact"
	BandStrong = "strong"
	BandReview = "review"
	BandNone   = "none"
)

// Options holds the tunable thresholds. Confidence above Exact is a likely exact duplicate, Strong and
// above is a duplicate that needs verification, Review and above is surfaced for human review.
type Options struct {
	ExactThreshold   float64
	StrongThreshold  float64
	ReviewThreshold  float64
	ProximityRadiusM float64
}

func DefaultOptions() Options {
	return Options{ExactThreshold: 0.95, StrongThreshold: 0.85, ReviewThreshold: 0.6, ProximityRadiusM: 50}
}

// Detector scores candidates against a corpus of known locations. It never mutates the corpus.
type Detector struct {
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewDetector(opts Options, log *slog.Logger, m *metrics.Metrics) *Detector {
	return &Detector{opts: opts, log: log, metrics: m}
}

// Band names the confidence band of c.
func (d *Detector) Band(c float64) string {
	switch {
	case c > d.opts.ExactThreshold:
		return BandExact
	case c >= d.opts.StrongThreshold:
		return BandStrong
	case c >= d.opts.ReviewThreshold:
		return BandReview
	default:
		return BandNone
	}
}

func bandReason(band string) string {
	switch band {
	case BandExact:
		return "likely exact duplicate"
	case BandStrong:
		return "strong match, manual verification recommended"
	case BandReview:
		return "potential duplicate, requires human review"
	default:
		return "no similar locations found"
	}
}

// Compare scores one candidate against one existing location. Confidence is the largest of the weighted
// name and address similarity, the phone override and the proximity override.
func (d *Detector) Compare(c model.LocationCandidate, l model.Location) (float64, []string) {
	var reasons []string

	name := textSimilarity(c.Name, l.Name)
	switch {
	case name == 1:
		reasons = append(reasons, "name matches exactly")
	case name >= 0.85:
		reasons = append(reasons, fmt.Sprintf("name is very similar (%.0f%%)", name*100))
	case name >= 0.5:
		reasons = append(reasons, fmt.Sprintf("name is similar (%.0f%%)", name*100))
	}

	var weighted float64
	if len(tokens(c.Address)) > 0 && len(tokens(l.Address)) > 0 {
		address := textSimilarity(c.Address, l.Address)
		switch {
		case address == 1:
			reasons = append(reasons, "address matches exactly")
		case address >= 0.5:
			reasons = append(reasons, fmt.Sprintf("address is similar (%.0f%%)", address*100))
		}
		weighted = nameWeight*name + addressWeight*address
	} else {
		weighted = nameOnlyWeight * name
	}
	confidence := weighted

	if phonesMatch(c.Phone, l.Phone) {
		reasons = append(reasons, "phone number matches")
		confidence = math.Max(confidence, phoneConfidence)
	}

	if c.Coordinates != nil && l.Coordinates != nil {
		if dist := distanceM(*c.Coordinates, *l.Coordinates); dist <= d.opts.ProximityRadiusM {
			reasons = append(reasons, fmt.Sprintf("within %.0f m of existing location", dist))
			override := proximityConfidence
			if name >= proximityNameFloor {
				override = proximityNameConfidence
			}
			confidence = math.Max(confidence, override)
		}
	}

	return math.Min(1, confidence), reasons
}

// Check screens candidate against corpus. Any corpus error or panic fails open: the verdict is not a
// duplicate and carries ReasonCheckFailed.
func (d *Detector) Check(ctx context.Context, candidate model.LocationCandidate,
	corpus iter.Seq2[model.Location, error]) (res model.DuplicateCheckResult) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("PANIC in duplicate check!", slog.Any("err", r))
			res = failOpen()
		}
		d.metrics.IncVerdict(d.Band(res.Confidence))
	}()

	var matches []model.SimilarLocation
	for l, err := range corpus {
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			d.log.Error("duplicate check failed, admitting candidate.", slog.String("candidate", candidate.Name),
				slog.String("err", err.Error()))
			return failOpen()
		}
		confidence, reasons := d.Compare(candidate, l)
		if confidence < d.opts.ReviewThreshold {
			continue
		}
		matches = append(matches, model.SimilarLocation{Location: l, Confidence: confidence, Reasons: reasons})
	}

	slices.SortStableFunc(matches, func(a, b model.SimilarLocation) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		default:
			return 0
		}
	})

	res = model.DuplicateCheckResult{SimilarLocations: matches}
	if res.SimilarLocations == nil {
		res.SimilarLocations = []model.SimilarLocation{}
	}
	if len(matches) == 0 {
		res.Reasons = []string{bandReason(BandNone)}
		return res
	}

	top := matches[0]
	res.Confidence = top.Confidence
	res.IsDuplicate = top.Confidence >= d.opts.StrongThreshold
	res.Reasons = append([]string{bandReason(d.Band(top.Confidence))}, top.Reasons...)
	if len(matches) > 1 {
		res.Reasons = append(res.Reasons, fmt.Sprintf("%d other similar locations", len(matches)-1))
	}
	return res
}

func failOpen() model.DuplicateCheckResult {
	return model.DuplicateCheckResult{
		IsDuplicate:      false,
		SimilarLocations: []model.SimilarLocation{},
		Reasons:          []string{ReasonCheckFailed},
	}
}

// Slice adapts an in-memory corpus.
func Slice(locations []model.Location) iter.Seq2[model.Location, error] {
	return func(yield func(model.Location, error) bool) {
		for _, l := range locations {
			if !yield(l, nil) {
				return
			}
		}
	}
}
