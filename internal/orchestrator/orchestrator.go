// Package orchestrator owns job submission and the worker pool that executes
// scrape runs.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qsrscan/location-scraper/internal/metrics"
	"github.com/qsrscan/location-scraper/internal/pipeline"
	"github.com/qsrscan/location-scraper/internal/registry"
	"github.com/qsrscan/location-scraper/internal/scraper"
	"github.com/qsrscan/location-scraper/internal/storage"
)

// Config controls Orchestrator behavior.
type Config struct {
	Workers       int
	Topic         string
	DefaultBudget time.Duration
}

// Resolver builds the plugin set for a site. Satisfied by registry.Registry.
type Resolver interface {
	Resolve(site scraper.WebsiteConfig) (registry.Plugins, error)
}

// Orchestrator accepts scrape submissions, enforces the one-active-job-per-
// website rule and runs the worker pool draining the queue.
type Orchestrator struct {
	queue     scraper.Queue
	jobs      scraper.JobStore
	resolver  Resolver
	fanout    *storage.Fanout
	publisher scraper.Publisher
	clock     scraper.Clock
	ids       scraper.IDGenerator
	websites  map[string]scraper.WebsiteConfig
	cfg       Config
	logger    *zap.Logger

	activeMu sync.Mutex
	active   map[string]string // website -> job id
}

// New constructs an Orchestrator.
func New(
	queue scraper.Queue,
	jobs scraper.JobStore,
	resolver Resolver,
	fanout *storage.Fanout,
	publisher scraper.Publisher,
	clock scraper.Clock,
	ids scraper.IDGenerator,
	websites map[string]scraper.WebsiteConfig,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.DefaultBudget <= 0 {
		cfg.DefaultBudget = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		queue:     queue,
		jobs:      jobs,
		resolver:  resolver,
		fanout:    fanout,
		publisher: publisher,
		clock:     clock,
		ids:       ids,
		websites:  websites,
		cfg:       cfg,
		logger:    logger,
		active:    make(map[string]string),
	}
}

// Submit creates and enqueues one job for website. Unknown or disabled
// websites fail with a ConfigError; a website with a queued or running job
// fails with ErrAlreadyActive.
func (o *Orchestrator) Submit(ctx context.Context, website string) (scraper.Job, error) {
	site, ok := o.websites[website]
	if !ok {
		return scraper.Job{}, scraper.NewConfigError(website, "unknown website")
	}
	if !site.Enabled {
		return scraper.Job{}, scraper.NewConfigError(website, "website is disabled")
	}

	jobID, err := o.ids.NewID()
	if err != nil {
		return scraper.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	if !o.claim(website, jobID) {
		return scraper.Job{}, scraper.ErrAlreadyActive
	}

	job := scraper.Job{
		ID:      jobID,
		Website: website,
		Status:  scraper.JobStatusQueued,
		Created: o.clock.Now(),
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		o.release(website, jobID)
		return scraper.Job{}, fmt.Errorf("create job: %w", err)
	}
	item := scraper.QueueItem{JobID: jobID, Website: website, Submitted: job.Created.UnixMilli()}
	if err := o.queue.Enqueue(ctx, item); err != nil {
		o.release(website, jobID)
		if terr := o.jobs.Transition(ctx, jobID, scraper.JobStatusFailed, nil, "enqueue failed"); terr != nil {
			o.logger.Error("mark failed after enqueue error", zap.String("job_id", jobID), zap.Error(terr))
		}
		return scraper.Job{}, fmt.Errorf("enqueue job: %w", err)
	}

	o.logger.Info("job submitted", zap.String("job_id", jobID), zap.String("website", website))
	return job, nil
}

// SubmitAll enqueues one job per enabled website. Websites that already have
// an active job are reported in skipped rather than failing the call.
func (o *Orchestrator) SubmitAll(ctx context.Context) ([]scraper.Job, map[string]error) {
	names := make([]string, 0, len(o.websites))
	for name, site := range o.websites {
		if site.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var jobs []scraper.Job
	skipped := make(map[string]error)
	for _, name := range names {
		job, err := o.Submit(ctx, name)
		if err != nil {
			skipped[name] = err
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, skipped
}

// Run blocks, draining the queue with the configured number of workers until
// the context finishes.
func (o *Orchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.workerLoop(ctx)
		}()
	}
	wg.Wait()
}

func (o *Orchestrator) workerLoop(ctx context.Context) {
	for {
		item, err := o.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.logger.Error("queue dequeue failed", zap.Error(err))
			return
		}
		o.processJob(ctx, item)
	}
}

func (o *Orchestrator) processJob(ctx context.Context, item scraper.QueueItem) {
	metrics.WorkerStarted()
	defer metrics.WorkerFinished()
	defer o.release(item.Website, item.JobID)

	logger := o.logger.With(zap.String("job_id", item.JobID), zap.String("website", item.Website))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", zap.Any("panic", r))
			o.finish(ctx, item, scraper.JobStatusFailed, nil, fmt.Sprintf("internal error: %v", r))
		}
	}()

	site, ok := o.websites[item.Website]
	if !ok {
		o.finish(ctx, item, scraper.JobStatusFailed, nil, "unknown website")
		return
	}
	if err := o.jobs.Transition(ctx, item.JobID, scraper.JobStatusRunning, nil, ""); err != nil {
		logger.Error("mark job running", zap.Error(err))
		return
	}

	budget := o.cfg.DefaultBudget
	if site.BudgetSeconds > 0 {
		budget = time.Duration(site.BudgetSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	plugins, err := o.resolver.Resolve(site)
	if err != nil {
		logger.Error("resolve plugins", zap.Error(err))
		o.finish(ctx, item, scraper.JobStatusFailed, nil, err.Error())
		return
	}

	started := o.clock.Now()
	locations, stats, err := pipeline.New(plugins.Fetcher, plugins.Parser, plugins.Transformer, logger).Run(runCtx, site)
	summary := &scraper.RunSummary{
		RecordsFound:       stats.RecordsFound,
		RecordsTransformed: stats.RecordsTransformed,
		ItemsSkipped:       stats.ItemsSkipped,
		Retries:            stats.Retries,
	}
	if err != nil {
		errText := err.Error()
		if runCtx.Err() == context.DeadlineExceeded {
			errText = fmt.Sprintf("job exceeded budget of %s", budget)
		}
		logger.Error("pipeline failed", zap.Error(err), zap.Duration("elapsed", o.clock.Now().Sub(started)))
		o.finish(ctx, item, scraper.JobStatusFailed, summary, errText)
		return
	}

	results := o.fanout.PersistAll(runCtx, site.Name, locations, plugins.Storages)
	summary.Backends = results
	stored, ok := storage.Evaluate(results, site.StoragePolicy)
	summary.RecordsStored = stored
	metrics.RecordRecords(site.Name, "stored", stored)
	if !ok {
		summary.FirstError = firstBackendError(results)
		o.finish(ctx, item, scraper.JobStatusFailed, summary, summary.FirstError)
		return
	}
	if msg := firstBackendError(results); msg != "" {
		summary.FirstError = msg
	}

	logger.Info("job finished",
		zap.Int("records_found", summary.RecordsFound),
		zap.Int("records_stored", summary.RecordsStored),
		zap.Int("items_skipped", summary.ItemsSkipped),
		zap.Duration("elapsed", o.clock.Now().Sub(started)),
	)
	o.finish(ctx, item, scraper.JobStatusFinished, summary, "")
}

// finish records the terminal status and publishes the completion event.
func (o *Orchestrator) finish(ctx context.Context, item scraper.QueueItem, status scraper.JobStatus, summary *scraper.RunSummary, errText string) {
	if err := o.jobs.Transition(ctx, item.JobID, status, summary, errText); err != nil {
		o.logger.Error("final job status update failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
	metrics.RecordJob(string(status))

	event := scraper.CompletionEvent{
		JobID:    item.JobID,
		Website:  item.Website,
		Status:   status,
		Summary:  summary,
		Error:    errText,
		Finished: o.clock.Now(),
	}
	if _, err := o.publisher.Publish(ctx, o.cfg.Topic, event); err != nil {
		o.logger.Error("publish completion event", zap.String("job_id", item.JobID), zap.Error(err))
	}
}

func (o *Orchestrator) claim(website, jobID string) bool {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	if _, busy := o.active[website]; busy {
		return false
	}
	o.active[website] = jobID
	return true
}

func (o *Orchestrator) release(website, jobID string) {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	if o.active[website] == jobID {
		delete(o.active, website)
	}
}

func firstBackendError(results map[string]scraper.PersistResult) string {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !results[name].OK {
			return results[name].Error
		}
	}
	return ""
}
