// Package collystrategy implements the plain-HTTP fetch strategy using gocolly.
package collystrategy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/qsrscan/location-scraper/internal/fetch"
	"github.com/qsrscan/location-scraper/internal/scraper"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Strategy performs single HTTP requests through a pooled Colly collector.
type Strategy struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Strategy with a shared pooled transport.
func New(cfg Config) *Strategy {
	// Revisits must be allowed: the client retries failed URLs and later
	// jobs fetch the same pages again, and clones share the visited store.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &Strategy{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Do executes one HTTP request. Non-2xx statuses are returned as responses,
// not errors; classification belongs to the retrying client.
func (s *Strategy) Do(ctx context.Context, url string, opts scraper.FetchOptions) (fetch.Response, error) {
	collector := s.baseCollector.Clone()
	if s.cfg.UserAgent != "" {
		collector.UserAgent = s.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(s.timeout(opts))

	if opts.ProxyURL != "" {
		if err := collector.SetProxy(opts.ProxyURL); err != nil {
			return fetch.Response{}, fmt.Errorf("set proxy: %w", err)
		}
	}

	var result fetch.Response
	collector.OnRequest(func(r *colly.Request) {
		for key, value := range opts.Headers {
			r.Headers.Set(key, value)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = fetch.Response{
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
	})
	collector.OnError(func(r *colly.Response, _ error) {
		// Colly reports non-2xx statuses through OnError; keep the
		// status so the client can tell 503 from 404.
		if r != nil && r.StatusCode > 0 {
			result = fetch.Response{
				StatusCode: r.StatusCode,
				Body:       append([]byte(nil), r.Body...),
			}
		}
	})

	if err := s.visit(ctx, collector, url, opts, &result); err != nil {
		return fetch.Response{}, err
	}
	return result, nil
}

func (s *Strategy) visit(
	ctx context.Context,
	collector *colly.Collector,
	url string,
	opts scraper.FetchOptions,
	result *fetch.Response,
) error {
	done := make(chan error, 1)
	go func() {
		if strings.EqualFold(opts.Method, http.MethodPost) {
			done <- collector.PostRaw(url, []byte(opts.Body))
			return
		}
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil && result.StatusCode == 0 {
			// Transport-level failure; HTTP error statuses were already
			// captured by OnError and are not strategy errors.
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (s *Strategy) timeout(opts scraper.FetchOptions) time.Duration {
	if opts.TimeoutSec > 0 {
		return time.Duration(opts.TimeoutSec) * time.Second
	}
	if s.cfg.Timeout > 0 {
		return s.cfg.Timeout
	}
	return 30 * time.Second
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
