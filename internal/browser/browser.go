package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ahmaddev-codes/amala-hack-sub003/config"
	"github.com/ahmaddev-codes/amala-hack-sub003/internal/loader"
	"github.com/chromedp/chromedp"
)

var ErrBrowserClosed = errors.New("browser is closed")

// Browser owns the single headless Chrome process shared by all browser fetches.
// The process is started on first use and lives until Close.
type Browser struct {
	cfg *config.BrowserConfig
	log *slog.Logger

	mu            sync.Mutex
	browserCtx    context.Context
	cancelAlloc   context.CancelFunc
	cancelBrowser context.CancelFunc
	closed        bool
}

func New(cfg *config.BrowserConfig, log *slog.Logger) *Browser {
	return &Browser{cfg: cfg, log: log}
}

func (b *Browser) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("no-sandbox", b.cfg.NoSandbox),
	)
	if b.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
	}
	if b.cfg.ProxyServer != "" {
		opts = append(opts, chromedp.ProxyServer(b.cfg.ProxyServer))
	}
	return opts
}

func (b *Browser) ensure() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrowserClosed
	}
	if b.browserCtx != nil {
		return b.browserCtx, nil
	}

	b.log.Info("starting headless browser...")
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), b.allocatorOptions()...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		b.log.Debug(fmt.Sprintf(format, args...))
	}))
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	b.browserCtx, b.cancelAlloc, b.cancelBrowser = browserCtx, cancelAlloc, cancelBrowser
	b.log.Info("headless browser started.")

	return browserCtx, nil
}

// AcquirePage opens a new disguised tab in the shared browser.
func (b *Browser) AcquirePage(ctx context.Context) (loader.Page, error) {
	browserCtx, err := b.ensure()
	if err != nil {
		return nil, err
	}

	tabCtx, cancel := chromedp.NewContext(browserCtx)
	// The first Run creates the target and binds its event loop to tabCtx, so it must not use a derived context.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	t := &Tab{ctx: tabCtx, cancel: cancel, log: b.log}
	if err := t.disguise(ctx, NewDisguise()); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return t, nil
}

// ReleasePage closes the tab. The browser process keeps running.
func (b *Browser) ReleasePage(p loader.Page) {
	if t, ok := p.(*Tab); ok {
		t.Close()
	}
}

func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.browserCtx == nil {
		return
	}
	b.log.Info("closing headless browser.")
	if err := chromedp.Cancel(b.browserCtx); err != nil {
		b.log.Error("failed to close browser.", slog.String("err", err.Error()))
	}
	b.cancelBrowser()
	b.cancelAlloc()
}
