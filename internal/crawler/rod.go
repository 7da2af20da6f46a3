package crawler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"uniassist/internal/errkind"
)

// BrowserConfig tunes the headless-browser fetcher.
type BrowserConfig struct {
	Bin                 string `yaml:"bin"`
	DebuggerURL         string `yaml:"debugger_url"`
	NavigationTimeoutMs int    `yaml:"navigation_timeout_ms"`
}

func (c BrowserConfig) navigationTimeout() time.Duration {
	if c.NavigationTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// BrowserFetcher renders pages in headless Chrome so JavaScript-built
// university portals produce real content. A plain-HTTP fallback covers
// machines without Chrome and browser failures.
type BrowserFetcher struct {
	cfg      BrowserConfig
	fallback Fetcher
	log      *zap.Logger

	mu      sync.Mutex
	browser *rod.Browser
}

// NewBrowserFetcher builds the rod-backed fetcher. fallback may be nil,
// in which case browser failures surface as errors.
func NewBrowserFetcher(cfg BrowserConfig, fallback Fetcher, log *zap.Logger) *BrowserFetcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &BrowserFetcher{cfg: cfg, fallback: fallback, log: log}
}

// ensureStarted connects to an existing Chrome or launches one. A stale
// connection is detected and replaced.
func (f *BrowserFetcher) ensureStarted(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser != nil {
		if _, err := f.browser.Version(); err == nil {
			return nil
		}
		f.log.Warn("stale browser connection, reconnecting")
		_ = f.browser.Close()
		f.browser = nil
	}

	controlURL := f.cfg.DebuggerURL
	if controlURL == "" {
		launch := launcher.New().Headless(true)
		if f.cfg.Bin != "" {
			launch = launch.Bin(f.cfg.Bin)
		}
		url, err := launch.Launch()
		if err != nil {
			return errkind.E(errkind.DependencyUnavailable, "launch chrome", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return errkind.E(errkind.DependencyUnavailable, "connect to chrome", err)
	}
	f.browser = browser
	return nil
}

func (f *BrowserFetcher) Fetch(ctx context.Context, url, selector string) (*Page, error) {
	page, err := f.fetchRendered(ctx, url, selector)
	if err == nil {
		return page, nil
	}
	if f.fallback == nil {
		return nil, err
	}
	f.log.Warn("browser fetch failed, falling back to plain http",
		zap.String("url", url), zap.Error(err))
	return f.fallback.Fetch(ctx, url, selector)
}

func (f *BrowserFetcher) fetchRendered(ctx context.Context, url, selector string) (*Page, error) {
	if url == "" {
		return nil, errkind.Errorf(errkind.InvalidInput, "url is required")
	}
	if err := f.ensureStarted(ctx); err != nil {
		return nil, err
	}

	f.mu.Lock()
	browser := f.browser
	f.mu.Unlock()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, errkind.E(errkind.DependencyUnavailable, "create page", err)
	}
	defer page.Close()

	page = page.Context(ctx).Timeout(f.cfg.navigationTimeout())
	if err := page.Navigate(url); err != nil {
		return nil, errkind.E(errkind.DependencyUnavailable, "navigate", err)
	}
	if err := page.WaitStable(time.Second); err != nil {
		f.log.Debug("page never settled, extracting anyway", zap.String("url", url))
	}

	target := "body"
	if strings.TrimSpace(selector) != "" {
		target = selector
	}
	el, err := page.Element(target)
	if err != nil {
		if target != "body" {
			// A bad selector hint should not lose the page.
			el, err = page.Element("body")
		}
		if err != nil {
			return nil, errkind.E(errkind.DependencyUnavailable, "locate content", err)
		}
	}
	text, err := el.Text()
	if err != nil {
		return nil, errkind.E(errkind.DependencyUnavailable, "extract text", err)
	}

	title := ""
	if info, err := page.Info(); err == nil {
		title = info.Title
	}

	return &Page{
		URL:       url,
		Title:     title,
		Content:   clampContent(cleanText(text)),
		FetchedAt: time.Now(),
	}, nil
}

// Close shuts the browser down.
func (f *BrowserFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser == nil {
		return nil
	}
	err := f.browser.Close()
	f.browser = nil
	return err
}
