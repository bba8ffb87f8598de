package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
)

func lifecycle(name string, frame cdp.FrameID, loader cdp.LoaderID) *page.EventLifecycleEvent {
	return &page.EventLifecycleEvent{Name: name, FrameID: frame, LoaderID: loader}
}

func TestLifecycleWaitIgnoresOtherDocuments(t *testing.T) {
	w := newLifecycleWait("load")
	w.observe(lifecycle("load", "iframe", "ad-loader"))
	w.observe(lifecycle("load", "main", "previous-loader"))
	w.observe(lifecycle("DOMContentLoaded", "main", "loader-2"))
	w.observe(&page.EventFrameNavigated{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := w.wait(ctx, "main", "loader-2"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("wait = %v, want deadline exceeded", err)
	}
}

func TestLifecycleWaitResolvesOnMainDocument(t *testing.T) {
	w := newLifecycleWait("networkIdle")
	done := make(chan error, 1)
	go func() {
		done <- w.wait(context.Background(), "main", "loader-2")
	}()

	w.observe(lifecycle("networkIdle", "iframe", "loader-9"))
	time.Sleep(10 * time.Millisecond)
	w.observe(lifecycle("networkIdle", "main", "loader-2"))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("wait did not resolve on the main document event")
	}
}

func TestLifecycleWaitSeesEventFiredBeforeWait(t *testing.T) {
	w := newLifecycleWait("DOMContentLoaded")
	w.observe(lifecycle("DOMContentLoaded", "main", "loader-1"))
	if err := w.wait(context.Background(), "main", "loader-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
