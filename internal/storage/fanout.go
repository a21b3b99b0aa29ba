// Package storage fans scraped locations out to the backends a site
// configures, isolating failures per backend.
package storage

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/qsrscan/location-scraper/internal/scraper"
)

// Fanout writes one batch to every configured backend concurrently. A
// failing backend never blocks or aborts the others; its error lands in the
// per-backend result and nowhere else.
type Fanout struct {
	log *zap.Logger
}

// NewFanout creates a fan-out writer.
func NewFanout(log *zap.Logger) *Fanout {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fanout{log: log}
}

// PersistAll writes locations to each backend and reports per-backend
// outcomes keyed by backend name. It never returns an error itself; policy
// evaluation over the results belongs to the caller.
func (f *Fanout) PersistAll(ctx context.Context, site string, locations []scraper.Location, backends []scraper.Storage) map[string]scraper.PersistResult {
	results := make(map[string]scraper.PersistResult, len(backends))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, backend := range backends {
		wg.Add(1)
		go func() {
			defer wg.Done()
			count, err := backend.Persist(ctx, site, locations)
			result := scraper.PersistResult{OK: err == nil, Count: count}
			if err != nil {
				perr := &scraper.PersistError{Backend: backend.Name(), Err: err}
				result.Error = perr.Error()
				f.log.Error("storage backend failed",
					zap.String("website", site),
					zap.String("backend", backend.Name()),
					zap.Int("records", len(locations)),
					zap.Error(err),
				)
			} else {
				f.log.Info("storage backend persisted batch",
					zap.String("website", site),
					zap.String("backend", backend.Name()),
					zap.Int("stored", count),
				)
			}
			mu.Lock()
			results[backend.Name()] = result
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// Evaluate derives the job outcome from per-backend results. The default
// policy succeeds when at least one backend persisted the batch; the
// all-required policy demands every backend succeed.
func Evaluate(results map[string]scraper.PersistResult, policy string) (stored int, ok bool) {
	if len(results) == 0 {
		return 0, false
	}
	succeeded := 0
	for _, result := range results {
		if result.OK {
			succeeded++
			if result.Count > stored {
				stored = result.Count
			}
		}
	}
	if policy == scraper.StoragePolicyAllRequired {
		return stored, succeeded == len(results)
	}
	return stored, succeeded > 0
}
