package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ahmaddev-codes/amala-hack-sub003/internal/loader"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Tab is one page in the shared browser. It implements loader.Page.
type Tab struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	disguised bool
	closeOnce sync.Once
}

// run executes actions in the tab while honouring the caller's deadline and cancellation.
func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (t *Tab) disguise(ctx context.Context, d Disguise) error {
	if t.disguised {
		return nil
	}
	if err := t.run(ctx, d.Tasks(), enableLifeCycleEvents()); err != nil {
		return err
	}
	t.disguised = true
	t.log.Debug("tab disguised.", slog.String("user_agent", d.UserAgent),
		slog.Int64("width", d.Viewport.Width), slog.Int64("height", d.Viewport.Height))
	return nil
}

func (t *Tab) Navigate(ctx context.Context, url string, wait loader.WaitCondition) error {
	return t.run(ctx, navigateAndWaitFor(url, string(wait)))
}

func (t *Tab) Snapshot(ctx context.Context) (loader.Snapshot, error) {
	var snap loader.Snapshot
	err := t.run(ctx,
		chromedp.Title(&snap.Title),
		chromedp.Location(&snap.URL),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &snap.Text),
		chromedp.ActionFunc(func(ctx context.Context) error {
			rootNode, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			snap.HTML, err = dom.GetOuterHTML().WithNodeID(rootNode.NodeID).Do(ctx)
			return err
		}),
	)
	return snap, err
}

func (t *Tab) Close() {
	t.closeOnce.Do(t.cancel)
}

func enableLifeCycleEvents() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		err := page.Enable().Do(ctx)
		if err != nil {
			return err
		}
		err = page.SetLifecycleEventsEnabled(true).Do(ctx)
		if err != nil {
			return err
		}
		return nil
	}
}

// navigateAndWaitFor subscribes to lifecycle events before navigating so a fast page cannot fire the event early.
// Only the event of the navigated frame and its new loader counts; iframes and the previous document are ignored.
func navigateAndWaitFor(url string, eventName string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		w := newLifecycleWait(eventName)
		lctx, cancel := context.WithCancel(ctx)
		defer cancel()
		chromedp.ListenTarget(lctx, w.observe)

		frameID, loaderID, errorText, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errorText != "" {
			return fmt.Errorf("navigate %s: %s", url, errorText)
		}
		if loaderID == "" { // same-document navigation, nothing is loaded
			return nil
		}
		return w.wait(ctx, frameID, loaderID)
	}
}

type documentKey struct {
	frame  cdp.FrameID
	loader cdp.LoaderID
}

// lifecycleWait records which documents fired one lifecycle event.
type lifecycleWait struct {
	name   string
	mu     sync.Mutex
	fired  map[documentKey]struct{}
	notify chan struct{}
}

func newLifecycleWait(name string) *lifecycleWait {
	return &lifecycleWait{name: name, fired: make(map[documentKey]struct{}), notify: make(chan struct{}, 1)}
}

func (w *lifecycleWait) observe(ev interface{}) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok || e.Name != w.name {
		return
	}
	w.mu.Lock()
	w.fired[documentKey{frame: e.FrameID, loader: e.LoaderID}] = struct{}{}
	w.mu.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *lifecycleWait) has(k documentKey) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.fired[k]
	return ok
}

func (w *lifecycleWait) wait(ctx context.Context, frameID cdp.FrameID, loaderID cdp.LoaderID) error {
	k := documentKey{frame: frameID, loader: loaderID}
	for !w.has(k) {
		select {
		case <-w.notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
