package antibot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/aluiziolira/go-price-compare/config"
)

// RenderOptions tune a single browser render.
type RenderOptions struct {
	WaitSelector string
	UserAgent    string
}

// Renderer turns a URL into fully rendered HTML.
type Renderer interface {
	Render(ctx context.Context, url string, opts RenderOptions) (string, error)
	Close() error
}

const hideWebdriverJS = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined}); true`

var (
	idleWait    = config.Window(2*time.Second, 5*time.Second)
	scrollPause = config.Window(500*time.Millisecond, 1500*time.Millisecond)
)

// ChromeRenderer drives one lazily started headless Chrome. Renders are serialized on the
// instance; each render uses its own tab.
type ChromeRenderer struct {
	cfg        config.BrowserConfig
	userAgents []string

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChromeRenderer configures a renderer; Chrome is not started until the first Render.
func NewChromeRenderer(cfg config.BrowserConfig, userAgents []string) *ChromeRenderer {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 10 * time.Second
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 45 * time.Second
	}
	if len(userAgents) == 0 {
		userAgents = DefaultUserAgents
	}
	return &ChromeRenderer{cfg: cfg, userAgents: userAgents}
}

// Render navigates to url, waits for the page to settle, scrolls a few times and returns the document HTML.
func (r *ChromeRenderer) Render(ctx context.Context, url string, opts RenderOptions) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureBrowser(opts.UserAgent); err != nil {
		return "", err
	}

	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	pageCtx, cancelPage := context.WithTimeout(tabCtx, r.cfg.PageTimeout)
	defer cancelPage()

	if err := chromedp.Run(pageCtx, chromedp.Navigate(url)); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}

	if opts.WaitSelector != "" {
		waitCtx, cancelWait := context.WithTimeout(pageCtx, r.cfg.WaitTimeout)
		err := chromedp.Run(waitCtx, chromedp.WaitVisible(opts.WaitSelector, chromedp.ByQuery))
		cancelWait()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("wait for %q: %w", opts.WaitSelector, err)
		}
		if err != nil {
			slog.Debug("wait selector not visible, capturing anyway", slog.String("selector", opts.WaitSelector))
		}
	} else if err := Sleep(pageCtx, idleWait.Pick()); err != nil {
		return "", err
	}

	var ok bool
	if err := chromedp.Run(pageCtx, chromedp.Evaluate(hideWebdriverJS, &ok)); err != nil {
		return "", fmt.Errorf("patch webdriver flag: %w", err)
	}

	scrolls := 1 + rand.IntN(3)
	for i := 0; i < scrolls; i++ {
		js := fmt.Sprintf("window.scrollBy(0, %d); true", 300+rand.IntN(700))
		if err := chromedp.Run(pageCtx, chromedp.Evaluate(js, &ok)); err != nil {
			return "", fmt.Errorf("scroll: %w", err)
		}
		if err := Sleep(pageCtx, scrollPause.Pick()); err != nil {
			return "", err
		}
	}

	var html string
	if err := chromedp.Run(pageCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("capture html: %w", err)
	}
	return html, nil
}

func (r *ChromeRenderer) ensureBrowser(userAgent string) error {
	if r.browserCtx != nil && r.browserCtx.Err() == nil {
		return nil
	}
	r.shutdownLocked()

	if userAgent == "" {
		userAgent = r.userAgents[rand.IntN(len(r.userAgents))]
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", r.cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoSandbox,
		chromedp.UserAgent(userAgent),
		chromedp.WindowSize(1200+rand.IntN(721), 800+rand.IntN(281)),
	)
	if r.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("start browser: %w", err)
	}

	r.allocCancel = allocCancel
	r.browserCtx = browserCtx
	r.browserCancel = browserCancel
	slog.Info("headless browser started", slog.Bool("headless", r.cfg.Headless))
	return nil
}

// Close shuts the browser down. The renderer may be reused afterwards.
func (r *ChromeRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdownLocked()
	return nil
}

func (r *ChromeRenderer) shutdownLocked() {
	if r.browserCancel != nil {
		r.browserCancel()
	}
	if r.allocCancel != nil {
		r.allocCancel()
	}
	r.browserCtx = nil
	r.browserCancel = nil
	r.allocCancel = nil
}
