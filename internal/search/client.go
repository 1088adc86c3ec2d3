package search

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/policy-search-crawler/internal/crawler"
)

// Config controls query construction.
type Config struct {
	BaseURL string      `mapstructure:"base_url" yaml:"base_url"`
	Phrase  string      `mapstructure:"phrase" yaml:"phrase"`
	Headers http.Header `mapstructure:"-" yaml:"-"`
}

// Client implements crawler.Searcher on top of any crawler.Fetcher.
type Client struct {
	cfg      Config
	fetcher  crawler.Fetcher
	detector crawler.BlockDetector
	logger   *zap.Logger
}

// NewClient wires a search client. detector may be nil, in which case only
// HTTP 429 answers are treated as blocks.
func NewClient(cfg Config, fetcher crawler.Fetcher, detector crawler.BlockDetector, logger *zap.Logger) (*Client, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, fetcher: fetcher, detector: detector, logger: logger}, nil
}

// Search queries the engine for domain. Failures are reported in the result,
// never returned, so the caller can persist them as an attempt.
func (c *Client) Search(ctx context.Context, domain string) crawler.SearchResult {
	queryURL := BuildQueryURL(c.cfg.BaseURL, c.cfg.Phrase, domain)
	result := crawler.SearchResult{QueryURL: queryURL}

	resp, err := c.fetcher.Fetch(ctx, crawler.FetchRequest{URL: queryURL, Headers: c.cfg.Headers.Clone()})
	if err != nil {
		result.Err = err
		return result
	}
	c.logger.Debug("search page fetched",
		zap.String("domain", domain),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(resp.Body)),
		zap.Duration("duration", resp.Duration),
		zap.Bool("headless", resp.UsedHeadless),
	)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		result.Blocked = true
	case c.detector != nil && c.detector.Blocked(resp.Body):
		result.Blocked = true
	case resp.StatusCode >= http.StatusBadRequest:
		result.Err = fmt.Errorf("search returned status %d", resp.StatusCode)
	default:
		result.PageContent = string(resp.Body)
	}
	return result
}
