// Package pipeline drives the multi-phase fetch/parse/transform loop for a
// single site run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/qsrscan/location-scraper/internal/metrics"
	"github.com/qsrscan/location-scraper/internal/scraper"
)

// maxPhases bounds runaway parsers that keep emitting next-phase URLs.
const maxPhases = 8

// defaultPhaseConcurrency applies when a site does not set its own bound.
const defaultPhaseConcurrency = 5

// Stats summarizes one pipeline run before storage fan-out.
type Stats struct {
	RecordsFound       int
	RecordsTransformed int
	ItemsSkipped       int
	Retries            int
	Phases             int
}

// Runner executes the phase loop for one site using the plugins resolved for
// it. A Runner is scoped to a single run and not safe for reuse.
type Runner struct {
	fetcher     scraper.Fetcher
	parser      scraper.Parser
	transformer scraper.Transformer
	log         *zap.Logger
}

// New creates a runner from the resolved plugin set.
func New(fetcher scraper.Fetcher, parser scraper.Parser, transformer scraper.Transformer, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{fetcher: fetcher, parser: parser, transformer: transformer, log: log}
}

// phaseOutput collects results across the concurrent page workers of one
// phase. Guarded by its own mutex so workers never block each other on I/O.
type phaseOutput struct {
	mu       sync.Mutex
	nextURLs []string
	records  []scraper.RawRecord
	failed   int
	firstErr error
}

func (p *phaseOutput) add(result scraper.PhaseResult) {
	p.mu.Lock()
	p.nextURLs = append(p.nextURLs, result.NextURLs...)
	p.records = append(p.records, result.Records...)
	p.mu.Unlock()
}

func (p *phaseOutput) fail(err error) {
	p.mu.Lock()
	p.failed++
	if p.firstErr == nil {
		p.firstErr = err
	}
	p.mu.Unlock()
}

// Run walks the site's phases starting from its start URLs: every page is
// fetched and parsed, URLs feed the next phase, records accumulate, and the
// final record set is normalized. Individual page failures are skipped; a
// phase aborts the run only when most of its pages fail.
func (r *Runner) Run(ctx context.Context, site scraper.WebsiteConfig) ([]scraper.Location, Stats, error) {
	var (
		stats   Stats
		records []scraper.RawRecord
	)
	urls := dedupe(site.StartURLs, map[string]struct{}{})
	seen := map[string]struct{}{}
	for _, u := range urls {
		seen[u] = struct{}{}
	}

	for phase := 0; len(urls) > 0; phase++ {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		if phase >= maxPhases {
			return nil, stats, &scraper.ParseError{
				Phase:  phase,
				Reason: fmt.Sprintf("phase budget exhausted after %d phases", maxPhases),
			}
		}
		stats.Phases = phase + 1

		out, err := r.runPhase(ctx, site, phase, urls)
		if err != nil {
			return nil, stats, err
		}
		stats.ItemsSkipped += out.failed
		records = append(records, out.records...)
		urls = dedupe(out.nextURLs, seen)

		r.log.Debug("phase complete",
			zap.String("website", site.Name),
			zap.Int("phase", phase),
			zap.Int("next_urls", len(urls)),
			zap.Int("records", len(out.records)),
			zap.Int("failed_pages", out.failed),
		)
	}

	stats.RecordsFound = len(records)
	metrics.RecordRecords(site.Name, "found", len(records))

	locations := r.normalize(records, site.Name, &stats)
	metrics.RecordRecords(site.Name, "transformed", len(locations))

	if rc, ok := r.fetcher.(interface{ Retries() int }); ok {
		stats.Retries = rc.Retries()
	}
	return locations, stats, nil
}

func (r *Runner) runPhase(ctx context.Context, site scraper.WebsiteConfig, phase int, urls []string) (*phaseOutput, error) {
	limit := site.MaxConcurrentRequests
	if limit <= 0 {
		limit = defaultPhaseConcurrency
	}
	opts := site.PhaseFetchOptions(phase)

	out := &phaseOutput{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, pageURL := range urls {
		g.Go(func() error {
			content, err := r.fetcher.FetchPage(gctx, pageURL, opts)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.log.Warn("page fetch failed",
					zap.String("website", site.Name),
					zap.Int("phase", phase),
					zap.String("url", pageURL),
					zap.Error(err),
				)
				out.fail(err)
				return nil
			}
			result, err := r.parser.Extract(gctx, pageURL, content, phase, site.ParserOptions)
			if err != nil {
				r.log.Warn("page parse failed",
					zap.String("website", site.Name),
					zap.Int("phase", phase),
					zap.String("url", pageURL),
					zap.Error(err),
				)
				out.fail(err)
				return nil
			}
			out.add(result)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if aborts(out.failed, len(urls)) {
		return nil, &scraper.ParseError{
			Phase: phase,
			Reason: fmt.Sprintf("%d of %d pages failed, first error: %v",
				out.failed, len(urls), out.firstErr),
		}
	}
	return out, nil
}

// aborts reports whether a phase failed badly enough to kill the run: a
// majority of pages failed and the sample is large enough to mean it.
func aborts(failed, attempted int) bool {
	return attempted >= 4 && failed*2 > attempted
}

func (r *Runner) normalize(records []scraper.RawRecord, site string, stats *Stats) []scraper.Location {
	locations := make([]scraper.Location, 0, len(records))
	for _, rec := range records {
		loc, err := r.transformer.Normalize(rec, site)
		if err != nil {
			stats.ItemsSkipped++
			var verr *scraper.ValidationError
			if errors.As(err, &verr) {
				r.log.Warn("record failed validation",
					zap.String("website", site),
					zap.String("field", verr.Field),
					zap.String("reason", verr.Reason),
				)
			} else {
				r.log.Warn("record transform failed", zap.String("website", site), zap.Error(err))
			}
			continue
		}
		locations = append(locations, loc)
	}
	stats.RecordsTransformed = len(locations)
	return locations
}

// dedupe returns the urls not yet in seen, preserving order, and marks them.
func dedupe(urls []string, seen map[string]struct{}) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
