// Package collyfetcher fetches search pages over plain HTTP with gocolly.
// Nothing is rendered, so pages that need JavaScript come back as served.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/policy-search-crawler/internal/crawler"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string        `mapstructure:"user_agent" yaml:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Fetcher is the plain HTTP search backend, for hosts without Chrome.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	// Error pages are returned as responses so challenge pages served with
	// 403 or 429 can be classified.
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newTransport())
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch issues one GET for request.URL and returns whatever the server
// answered, error statuses included. Only transport failures are errors.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	capt := &capture{start: time.Now()}
	collector := f.collectorFor(ctx, request.Headers, capt)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(request.URL)
	}()

	select {
	case <-ctx.Done():
		return crawler.FetchResponse{}, fmt.Errorf("http fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err == nil {
			err = capt.err
		}
		if err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("http fetch %s: %w", request.URL, err)
		}
		return capt.resp, nil
	}
}

// collectorFor clones the base collector for a single visit. The HTTP
// request carries ctx, so canceling it aborts the call in flight.
func (f *Fetcher) collectorFor(ctx context.Context, headers http.Header, capt *capture) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	collector.SetRequestTimeout(timeout)
	capt.attach(collector, headers)
	return collector
}

// capture records the outcome of one visit.
type capture struct {
	start time.Time
	resp  crawler.FetchResponse
	err   error
}

func (c *capture) attach(hooks collectorHooks, headers http.Header) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	hooks.OnResponse(func(r *colly.Response) {
		c.resp = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(c.start),
		}
	})
	hooks.OnError(func(_ *colly.Response, err error) {
		c.err = err
	})
}

// newTransport keeps a small idle pool; queries go to one host, one at a
// time.
func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        2,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     60 * time.Second,
	}
}
