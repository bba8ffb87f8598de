package strategy

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ahmaddev-codes/amala-hack-sub003/internal/model"
)

type fakeStrategy struct {
	name    string
	out     Outcome
	err     error
	panicky bool
	calls   int
}

func (s *fakeStrategy) Name() string { return s.name }

func (s *fakeStrategy) Fetch(context.Context, model.ScrapingTarget) (Outcome, error) {
	s.calls++
	if s.panicky {
		panic("selector exploded")
	}
	return s.out, s.err
}

type recordingArchive struct {
	urls []string
}

func (a *recordingArchive) SavePage(_ context.Context, url, _ string) (string, error) {
	a.urls = append(a.urls, url)
	return "s3://pages/" + url, nil
}

func candidates(names ...string) []model.LocationCandidate {
	out := make([]model.LocationCandidate, 0, len(names))
	for _, n := range names {
		out = append(out, model.NewCandidate(n, ""))
	}
	return out
}

func testTarget() model.ScrapingTarget {
	return model.ScrapingTarget{URL: "https://example.com/lagos", Category: model.Directory}
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestChainShortCircuitsOnFirstSuccess(t *testing.T) {
	first := &fakeStrategy{name: NameBrowser, out: Outcome{Candidates: candidates("Amala Skye"), Source: "https://example.com/lagos"}}
	second := &fakeStrategy{name: NameHTTP, out: Outcome{Candidates: candidates("Other")}}
	third := &fakeStrategy{name: NameAlternative, out: Outcome{Candidates: candidates("Other")}}

	res := NewChain(discard(), nil, first, second, third).ScrapeWithFallbacks(context.Background(), testTarget())

	if !res.Success || res.Strategy != NameBrowser {
		t.Fatalf("expected browser success, got %+v", res)
	}
	if second.calls != 0 || third.calls != 0 {
		t.Fatalf("later strategies invoked: http=%d alternative=%d", second.calls, third.calls)
	}
	if len(res.Candidates) != 1 || res.Candidates[0].Name != "Amala Skye" {
		t.Fatalf("unexpected candidates: %+v", res.Candidates)
	}
}

func TestChainFallsThroughOnErrorAndEmpty(t *testing.T) {
	first := &fakeStrategy{name: NameBrowser, err: errors.New("navigation timeout")}
	second := &fakeStrategy{name: NameHTTP}
	third := &fakeStrategy{name: NameAlternative,
		out: Outcome{Candidates: candidates("Iya Oyo"), Source: "https://example.com/api/search?q=amala"}}

	res := NewChain(discard(), nil, first, second, third).ScrapeWithFallbacks(context.Background(), testTarget())

	if !res.Success || res.Strategy != NameAlternative {
		t.Fatalf("expected alternative success, got %+v", res)
	}
	if res.Source != "https://example.com/api/search?q=amala" {
		t.Fatalf("source = %q", res.Source)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Fatalf("expected each earlier strategy once, got %d and %d", first.calls, second.calls)
	}
}

func TestChainAllFailReturnsNone(t *testing.T) {
	first := &fakeStrategy{name: NameBrowser, err: errors.New("browser crashed")}
	second := &fakeStrategy{name: NameHTTP, err: errors.New("connection refused")}

	res := NewChain(discard(), nil, first, second).ScrapeWithFallbacks(context.Background(), testTarget())

	if res.Success || res.Strategy != model.StrategyNone {
		t.Fatalf("expected failure with strategy none, got %+v", res)
	}
	if res.Error != "connection refused" {
		t.Fatalf("expected last error, got %q", res.Error)
	}
	if res.Candidates == nil || len(res.Candidates) != 0 {
		t.Fatalf("expected empty candidate list, got %+v", res.Candidates)
	}
	if res.Source != testTarget().URL {
		t.Fatalf("source = %q", res.Source)
	}
}

func TestChainRecoversPanickingStrategy(t *testing.T) {
	first := &fakeStrategy{name: NameBrowser, panicky: true}
	second := &fakeStrategy{name: NameHTTP, out: Outcome{Candidates: candidates("Amala Place")}}

	res := NewChain(discard(), nil, first, second).ScrapeWithFallbacks(context.Background(), testTarget())

	if !res.Success || res.Strategy != NameHTTP {
		t.Fatalf("expected http success after panic, got %+v", res)
	}
}

func TestChainPanicOnlyStrategyFails(t *testing.T) {
	only := &fakeStrategy{name: NameBrowser, panicky: true}

	res := NewChain(discard(), nil, only).ScrapeWithFallbacks(context.Background(), testTarget())

	if res.Success || !strings.Contains(res.Error, "panicked") {
		t.Fatalf("expected panic failure, got %+v", res)
	}
}

func TestChainHintMovesStrategyFirst(t *testing.T) {
	browser := &fakeStrategy{name: NameBrowser, out: Outcome{Candidates: candidates("From Browser")}}
	alternative := &fakeStrategy{name: NameAlternative, out: Outcome{Candidates: candidates("From Alternative")}}
	chain := NewChain(discard(), nil, browser, alternative)

	target := testTarget()
	target.FallbackStrategy = NameAlternative
	if err := chain.ValidateTarget(target); err != nil {
		t.Fatalf("valid hint rejected: %v", err)
	}
	res := chain.ScrapeWithFallbacks(context.Background(), target)

	if res.Strategy != NameAlternative || browser.calls != 0 {
		t.Fatalf("hint ignored: strategy=%s browser calls=%d", res.Strategy, browser.calls)
	}
}

func TestChainValidateTargetRejectsUnknownHint(t *testing.T) {
	chain := NewChain(discard(), nil, &fakeStrategy{name: NameBrowser})
	target := testTarget()
	target.FallbackStrategy = "carrier-pigeon"

	if err := chain.ValidateTarget(target); !errors.Is(err, model.ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
}

func TestChainArchivesSuccessfulPage(t *testing.T) {
	archive := &recordingArchive{}
	s := &fakeStrategy{name: NameHTTP,
		out: Outcome{Candidates: candidates("Amala Joint"), Source: "https://example.com/lagos", HTML: "<html></html>"}}

	NewChain(discard(), nil, s).WithArchive(archive).ScrapeWithFallbacks(context.Background(), testTarget())

	if len(archive.urls) != 1 || archive.urls[0] != "https://example.com/lagos" {
		t.Fatalf("unexpected archive calls: %v", archive.urls)
	}
}

func TestChainStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &fakeStrategy{name: NameBrowser, out: Outcome{Candidates: candidates("Amala Joint")}}

	res := NewChain(discard(), nil, s).ScrapeWithFallbacks(ctx, testTarget())

	if res.Success || s.calls != 0 {
		t.Fatalf("expected no strategy call on cancelled context, got %+v calls=%d", res, s.calls)
	}
}
