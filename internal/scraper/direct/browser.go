package direct

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"PriceWatch/internal/ratelimit"
	"PriceWatch/pkg/config"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Renderer loads a page in a real browser and returns the rendered HTML.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
	Close() error
}

// ErrBrowserUnavailable is returned when the browser cannot be started.
// Retrying does not help, so it is not transient.
var ErrBrowserUnavailable = errors.New("browser unavailable")

// initScript hides the usual automation fingerprints before any page script
// runs.
const initScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
Object.defineProperty(navigator, 'languages', { get: () => ['ru-RU', 'ru', 'en-US', 'en'] });
window.chrome = { runtime: {} };
`

// BrowserRenderer drives a single headless Chromium shared by all calls.
// The browser is launched on first use.
type BrowserRenderer struct {
	conf config.ScraperConfig

	mu      sync.Mutex
	browser *rod.Browser
}

// NewBrowserRenderer creates a renderer; no browser is started yet.
func NewBrowserRenderer(conf config.ScraperConfig) *BrowserRenderer {
	return &BrowserRenderer{conf: conf}
}

func (r *BrowserRenderer) ensureBrowser() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		return r.browser, nil
	}

	l := launcher.New().
		Headless(r.conf.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Delete("enable-automation")
	if r.conf.BrowserBin != "" {
		l = l.Bin(r.conf.BrowserBin)
	}
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w: %w", ErrBrowserUnavailable, err)
	}
	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w: %w", ErrBrowserUnavailable, err)
	}
	log.Printf("[direct] browser launched (headless=%v)", r.conf.Headless)
	r.browser = browser
	return browser, nil
}

// Render opens url in a fresh stealth page and returns its HTML once the
// page has settled.
func (r *BrowserRenderer) Render(ctx context.Context, url string) (string, error) {
	browser, err := r.ensureBrowser()
	if err != nil {
		return "", err
	}

	page, err := stealth.Page(browser)
	if err != nil {
		return "", fmt.Errorf("open stealth page: %w", err)
	}
	defer page.Close()
	page = page.Context(ctx)

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             r.conf.ViewportWidth,
		Height:            r.conf.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		return "", fmt.Errorf("set viewport: %w", err)
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      r.conf.UserAgent,
		AcceptLanguage: acceptLanguage,
	}); err != nil {
		return "", fmt.Errorf("set user agent: %w", err)
	}
	if _, err := page.EvalOnNewDocument(initScript); err != nil {
		return "", fmt.Errorf("inject init script: %w", err)
	}

	timeout := time.Duration(r.conf.HTTPTimeoutSeconds) * time.Second * 2
	delay := time.Duration(r.conf.ActionDelayMS) * time.Millisecond

	if err := page.Timeout(timeout).Navigate(url); err != nil {
		return "", fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := ratelimit.Sleep(ctx, delay); err != nil {
		return "", err
	}
	if err := page.Timeout(timeout).WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load %s: %w", url, err)
	}
	if err := ratelimit.Sleep(ctx, delay); err != nil {
		return "", err
	}
	// Prices are rendered by client scripts after load.
	if err := page.Timeout(timeout).WaitStable(time.Second); err != nil {
		log.Printf("[direct] page %s did not settle: %v", url, err)
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read rendered html: %w", err)
	}
	return html, nil
}

// Close shuts the browser down if it was started.
func (r *BrowserRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	r.browser = nil
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
