// Package headless fetches pages through a real Chrome instance so search
// engines see an ordinary browser session.
package headless

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/policy-search-crawler/internal/crawler"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettleDelay       = 15 * time.Second
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	// Visible opens a browser window instead of running headless, useful
	// when a human has to clear a challenge by hand.
	Visible           bool          `mapstructure:"visible" yaml:"visible"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// SettleDelay is how long to wait after load before reading the DOM.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
}

// Fetcher implements crawler.Fetcher using chromedp. One browser is started
// on first use and every fetch runs in its own tab.
type Fetcher struct {
	cfg         Config
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc

	mu            sync.Mutex
	browser       context.Context
	browserCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp. Chrome is not
// launched until the first Fetch.
func NewChromedp(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.NavigationTimeout < 0 || cfg.SettleDelay < 0 {
		return nil, fmt.Errorf("headless timeouts must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.Visible {
		opts = append(opts, chromedp.Flag("headless", false))
	} else {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		logger:      logger,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browserCancel != nil {
		f.browserCancel()
		f.browser, f.browserCancel = nil, nil
	}
	f.allocCancel()
	return nil
}

// Fetch navigates a fresh tab to request.URL, waits for the page to settle
// and returns the rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	browser, err := f.browserContext()
	if err != nil {
		return crawler.FetchResponse{}, err
	}

	taskCtx, taskCancel := chromedp.NewContext(browser)
	defer taskCancel()
	// Tabs hang off the browser context; tie this one to the caller too.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.navTimeout()+f.settleDelay())
	defer cancel()

	var doc documentResponse
	chromedp.ListenTarget(taskCtx, doc.observe)

	start := time.Now()
	html, finalURL, err := f.render(taskCtx, request)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawler.FetchResponse{}, fmt.Errorf("headless fetch canceled: %w", ctxErr)
		}
		return crawler.FetchResponse{}, err
	}

	status, headers, responseURL := doc.resolve(request.URL, finalURL)
	f.logger.Debug("headless fetch complete",
		zap.String("url", responseURL),
		zap.Int("status", status),
		zap.Duration("duration", time.Since(start)),
	)

	return crawler.FetchResponse{
		URL:          responseURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

// browserContext starts the browser once and hands out its context.
func (f *Fetcher) browserContext() (context.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil {
		return f.browser, nil
	}
	if err := f.allocator.Err(); err != nil {
		return nil, fmt.Errorf("headless fetcher closed: %w", err)
	}
	browser, cancel := chromedp.NewContext(f.allocator)
	if err := chromedp.Run(browser); err != nil {
		cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	f.logger.Info("browser started", zap.Bool("visible", f.cfg.Visible))
	f.browser, f.browserCancel = browser, cancel
	return browser, nil
}

// render loads the page, lets it settle and reads back the DOM and final
// location.
func (f *Fetcher) render(ctx context.Context, request crawler.FetchRequest) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		f.prepareTab(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.settleDelay()),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("render %s: %w", request.URL, err)
	}
	return html, finalURL, nil
}

func (f *Fetcher) prepareTab(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(extraHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// documentResponse tracks the top-level document response of a tab. Each
// redirect hop fires an event and the last one wins. The zero value is ready
// to use.
type documentResponse struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (d *documentResponse) observe(ev any) {
	event, ok := ev.(*network.EventResponseReceived)
	if !ok || event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := make(http.Header, len(event.Response.Headers))
	for key, value := range event.Response.Headers {
		if list, isList := value.([]any); isList {
			for _, entry := range list {
				headers.Add(key, fmt.Sprint(entry))
			}
			continue
		}
		headers.Add(key, fmt.Sprint(value))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = int(event.Response.Status)
	d.headers = headers
	d.url = event.Response.URL
}

// resolve returns what was observed. Without a document event it assumes 200
// and the tab's final location, or the requested URL.
func (d *documentResponse) resolve(requestURL, finalURL string) (int, http.Header, string) {
	d.mu.Lock()
	status, headers, url := d.status, d.headers.Clone(), d.url
	d.mu.Unlock()

	if headers == nil {
		headers = http.Header{}
	}
	if status == 0 {
		status = http.StatusOK
	}
	if url == "" {
		url = cmp.Or(finalURL, requestURL)
	}
	return status, headers, url
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}

func (f *Fetcher) settleDelay() time.Duration {
	if f.cfg.SettleDelay > 0 {
		return f.cfg.SettleDelay
	}
	return defaultSettleDelay
}

// extraHeaders converts request headers for Network.setExtraHTTPHeaders.
func extraHeaders(h http.Header) network.Headers {
	out := make(network.Headers, len(h))
	for key, values := range h {
		if len(values) == 1 {
			out[key] = values[0]
		} else if len(values) > 1 {
			out[key] = slices.Clone(values)
		}
	}
	return out
}
