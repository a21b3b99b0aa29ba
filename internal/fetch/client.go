// Package fetch implements the retrying, strategy-backed fetch client used
// by every site pipeline.
package fetch

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"net/url"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/qsrscan/location-scraper/internal/metrics"
	"github.com/qsrscan/location-scraper/internal/scraper"
)

// Response is the raw result of one strategy attempt.
type Response struct {
	StatusCode int
	Body       []byte
}

// Strategy performs a single fetch attempt. Implementations: plain HTTP
// (colly), headless browser (chromedp), rendering proxy (ScraperAPI).
type Strategy interface {
	Do(ctx context.Context, url string, opts scraper.FetchOptions) (Response, error)
}

// ClientConfig controls retry behavior.
type ClientConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Client wraps a Strategy with retry, backoff and failure classification.
// It implements scraper.Fetcher. A Client is scoped to one site run so the
// strategy's connection pool never leaks across proxy configurations.
type Client struct {
	strategy Strategy
	cfg      ClientConfig
	site     string
	logger   *zap.Logger
	retries  atomic.Int64
}

// NewClient builds a Client for one site.
func NewClient(strategy Strategy, cfg ClientConfig, site string, logger *zap.Logger) *Client {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 250 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		strategy: strategy,
		cfg:      cfg,
		site:     site,
		logger:   logger,
	}
}

// Retries reports how many retry sleeps this client has performed.
func (c *Client) Retries() int {
	return int(c.retries.Load())
}

// FetchPage performs one logical fetch: up to maxRetries+1 attempts on
// transient failures with exponential backoff and jitter; permanent
// failures surface immediately.
func (c *Client) FetchPage(ctx context.Context, rawURL string, opts scraper.FetchOptions) ([]byte, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		metrics.RecordFetch(c.site, "permanent")
		return nil, &scraper.FetchError{URL: rawURL, Transient: false, Attempts: 0, Err: fmt.Errorf("malformed url: %w", err)}
	}

	maxRetries := c.cfg.MaxRetries
	if opts.MaxRetries > 0 {
		maxRetries = opts.MaxRetries
	}

	var (
		lastErr    error
		lastStatus int
	)
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			c.retries.Add(1)
			metrics.RecordRetry()
			if err := c.sleep(ctx, c.backoff(attempt-1)); err != nil {
				return nil, err
			}
		}

		resp, err := c.strategy.Do(ctx, rawURL, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
			}
			// Transport-level failures (timeouts, refused connections)
			// are retry-eligible.
			lastErr = err
			lastStatus = 0
			metrics.RecordFetch(c.site, "transient")
			c.logger.Warn("fetch attempt failed",
				zap.String("site", c.site),
				zap.String("url", rawURL),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			metrics.RecordFetch(c.site, "ok")
			return resp.Body, nil
		case c.isTransientStatus(resp.StatusCode, opts):
			lastErr = nil
			lastStatus = resp.StatusCode
			metrics.RecordFetch(c.site, "transient")
			c.logger.Warn("fetch attempt returned retryable status",
				zap.String("site", c.site),
				zap.String("url", rawURL),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
		default:
			metrics.RecordFetch(c.site, "permanent")
			return nil, &scraper.FetchError{
				URL:        rawURL,
				StatusCode: resp.StatusCode,
				Transient:  false,
				Attempts:   attempt + 1,
			}
		}
	}

	return nil, &scraper.FetchError{
		URL:        rawURL,
		StatusCode: lastStatus,
		Transient:  true,
		Attempts:   maxRetries + 1,
		Err:        lastErr,
	}
}

// isTransientStatus classifies HTTP statuses: 5xx always, 429 unless the
// site opts out.
func (c *Client) isTransientStatus(status int, opts scraper.FetchOptions) bool {
	if status >= 500 {
		return true
	}
	if status == 429 {
		return opts.RetryOn429 == nil || *opts.RetryOn429
	}
	return false
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled during backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// backoff returns the jittered wait before the next attempt.
func (c *Client) backoff(attempt int) time.Duration {
	delay := float64(c.cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(c.cfg.MaxDelay) {
		delay = float64(c.cfg.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
