package loader

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type fakePage struct {
	snapshots []Snapshot
	navErrs   []error
	waits     []WaitCondition
	calls     int
}

func (p *fakePage) Navigate(_ context.Context, _ string, wait WaitCondition) error {
	p.waits = append(p.waits, wait)
	i := len(p.waits) - 1
	if i < len(p.navErrs) && p.navErrs[i] != nil {
		return p.navErrs[i]
	}
	return nil
}

func (p *fakePage) Snapshot(context.Context) (Snapshot, error) {
	i := min(p.calls, len(p.snapshots)-1)
	p.calls++
	return p.snapshots[i], nil
}

func goodSnapshot() Snapshot {
	return Snapshot{Title: "Amala joints in Lagos", Text: strings.Repeat("amala ewedu gbegiri ", 20), HTML: "<html></html>"}
}

func newTestLoader() *Loader {
	return New(Options{MaxRetries: 3, RetryBackoff: time.Millisecond, PageTimeout: time.Second, MinBodyLength: 100},
		slog.New(slog.DiscardHandler), nil)
}

func TestWaitForEscalates(t *testing.T) {
	want := []WaitCondition{WaitNetworkIdle, WaitDOMContentLoaded, WaitLoad, WaitLoad}
	for i, w := range want {
		if got := WaitFor(i + 1); got != w {
			t.Fatalf("WaitFor(%d) = %q, want %q", i+1, got, w)
		}
	}
}

func TestLoadSucceedsFirstAttempt(t *testing.T) {
	page := &fakePage{snapshots: []Snapshot{goodSnapshot()}}
	snap, err := newTestLoader().Load(context.Background(), page, "https://example.com")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.URL != "https://example.com" {
		t.Fatalf("snapshot url = %q", snap.URL)
	}
	if len(page.waits) != 1 || page.waits[0] != WaitNetworkIdle {
		t.Fatalf("waits = %v", page.waits)
	}
}

func TestLoadRetriesWithRelaxedWait(t *testing.T) {
	page := &fakePage{
		navErrs:   []error{context.DeadlineExceeded, nil},
		snapshots: []Snapshot{{Title: "Just a moment...", Text: "checking your browser"}, goodSnapshot()},
	}
	_, err := newTestLoader().Load(context.Background(), page, "https://example.com")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []WaitCondition{WaitNetworkIdle, WaitDOMContentLoaded, WaitLoad}
	if len(page.waits) != len(want) {
		t.Fatalf("waits = %v, want %v", page.waits, want)
	}
	for i := range want {
		if page.waits[i] != want[i] {
			t.Fatalf("waits = %v, want %v", page.waits, want)
		}
	}
}

func TestLoadExhaustsRetriesOnNotFound(t *testing.T) {
	page := &fakePage{snapshots: []Snapshot{{Title: "404 Not Found", Text: strings.Repeat("x", 200)}}}
	_, err := newTestLoader().Load(context.Background(), page, "https://example.com/missing")
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(page.waits) != 3 {
		t.Fatalf("attempts = %d, want 3", len(page.waits))
	}
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != KindNotFound {
		t.Fatalf("expected not_found FetchError, got %v", err)
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("error = %q", err.Error())
	}
}

func TestLoadStopsOnCancelledContext(t *testing.T) {
	l := New(Options{MaxRetries: 3, RetryBackoff: time.Hour, PageTimeout: time.Second, MinBodyLength: 1},
		slog.New(slog.DiscardHandler), nil)
	page := &fakePage{snapshots: []Snapshot{{Title: ""}}}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	if _, err := l.Load(ctx, page, "https://example.com"); err == nil {
		t.Fatalf("expected error")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("load did not honour cancellation")
	}
}

func TestCheckPage(t *testing.T) {
	body := strings.Repeat("a", 150)
	tests := []struct {
		name     string
		snap     Snapshot
		title    bool
		wantKind ErrorKind
	}{
		{name: "ok", snap: Snapshot{Title: "Amala Spots", Text: body}, title: true},
		{name: "ok without title", snap: Snapshot{Text: body}, title: false},
		{name: "empty title", snap: Snapshot{Text: body}, title: true, wantKind: KindEmpty},
		{name: "unknown title", snap: Snapshot{Title: "Unknown", Text: body}, title: true, wantKind: KindEmpty},
		{name: "not found", snap: Snapshot{Title: "Page Not Found", Text: body}, title: true, wantKind: KindNotFound},
		{name: "access denied", snap: Snapshot{Title: "Access Denied", Text: body}, title: true, wantKind: KindBlocked},
		{name: "captcha body", snap: Snapshot{Title: "Welcome", Text: body + " please solve the CAPTCHA"}, title: true, wantKind: KindBlocked},
		{name: "short body", snap: Snapshot{Title: "Welcome", Text: "tiny"}, title: true, wantKind: KindEmpty},
		{name: "body number", snap: Snapshot{Title: "Amala", Text: body + " call 0404 404 4040"}, title: true},
		{name: "error inside word", snap: Snapshot{Title: "Terror Grill & Amala", Text: body}, title: true},
		{name: "number in listing title", snap: Snapshot{Title: "404 Amala Spots in Lagos", Text: body}, title: true},
		{name: "404 page", snap: Snapshot{Title: "404 - Page missing", Text: body}, title: true, wantKind: KindNotFound},
		{name: "bare 404", snap: Snapshot{Title: "404", Text: body}, title: true, wantKind: KindNotFound},
		{name: "server error", snap: Snapshot{Title: "Internal Server Error", Text: body}, title: true, wantKind: KindOther},
		{name: "bare error", snap: Snapshot{Title: "Error", Text: body}, title: true, wantKind: KindOther},
		{name: "forbidden", snap: Snapshot{Title: "403 Forbidden", Text: body}, title: true, wantKind: KindForbidden},
		{name: "challenge", snap: Snapshot{Title: "Just a moment...", Text: body}, title: true, wantKind: KindBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPage(tt.snap, 100, tt.title)
			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var fe *FetchError
			if !errors.As(err, &fe) || fe.Kind != tt.wantKind {
				t.Fatalf("CheckPage = %v, want kind %q", err, tt.wantKind)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		want   string
	}{
		{name: "nil", want: "success"},
		{name: "timeout", err: context.DeadlineExceeded, want: "timeout"},
		{name: "forbidden", status: 403, want: "forbidden"},
		{name: "not found", status: 404, want: "not_found"},
		{name: "rate limited", err: errors.New("Too Many Requests"), status: 429, want: "rate_limited"},
		{name: "other", err: errors.New("boom"), want: "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Label(Classify(tt.err, tt.status, "https://example.com")); got != tt.want {
				t.Fatalf("Label(Classify(%v, %d)) = %q, want %q", tt.err, tt.status, got, tt.want)
			}
		})
	}
}
