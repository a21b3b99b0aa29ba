package fetch

import (
	"context"
	"fmt"
	"net/url"

	"github.com/qsrscan/location-scraper/internal/scraper"
)

// ScraperAPIConfig configures the rendering-proxy strategy.
type ScraperAPIConfig struct {
	Endpoint string
	APIKey   string
}

// ScraperAPIStrategy routes fetches through a ScraperAPI-style rendering
// proxy. It decorates a base Strategy so callers see the same contract as
// a direct fetch.
type ScraperAPIStrategy struct {
	cfg  ScraperAPIConfig
	base Strategy
}

// NewScraperAPI builds the rendering-proxy strategy.
func NewScraperAPI(cfg ScraperAPIConfig, base Strategy) (*ScraperAPIStrategy, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("scraperapi api key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.scraperapi.com"
	}
	if base == nil {
		return nil, fmt.Errorf("base strategy is required")
	}
	return &ScraperAPIStrategy{cfg: cfg, base: base}, nil
}

// Do rewrites the target URL into a proxy request and delegates to the
// base strategy. Request headers are forwarded by the proxy service.
func (s *ScraperAPIStrategy) Do(ctx context.Context, target string, opts scraper.FetchOptions) (Response, error) {
	proxied, err := s.buildURL(target, opts)
	if err != nil {
		return Response{}, err
	}
	// Upstream proxy credentials are the proxy service's concern; never
	// forward a per-request proxy to it.
	opts.ProxyURL = ""
	return s.base.Do(ctx, proxied, opts)
}

func (s *ScraperAPIStrategy) buildURL(target string, opts scraper.FetchOptions) (string, error) {
	endpoint, err := url.Parse(s.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse scraperapi endpoint: %w", err)
	}
	q := endpoint.Query()
	q.Set("api_key", s.cfg.APIKey)
	q.Set("url", target)
	for key, value := range opts.RenderParams {
		q.Set(key, value)
	}
	endpoint.RawQuery = q.Encode()
	return endpoint.String(), nil
}
