package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	jobmemory "github.com/qsrscan/location-scraper/internal/jobstore/memory"
	pubmemory "github.com/qsrscan/location-scraper/internal/publisher/memory"
	queuememory "github.com/qsrscan/location-scraper/internal/queue/memory"
	"github.com/qsrscan/location-scraper/internal/registry"
	"github.com/qsrscan/location-scraper/internal/scraper"
	"github.com/qsrscan/location-scraper/internal/storage"
)

type testClock struct{}

func (testClock) Now() time.Time { return time.Now().UTC() }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("job-%d", g.n), nil
}

type stubFetcher struct{}

func (stubFetcher) FetchPage(_ context.Context, url string, _ scraper.FetchOptions) ([]byte, error) {
	return []byte(url), nil
}

type stubParser struct{}

func (stubParser) Extract(_ context.Context, pageURL string, _ []byte, _ int, _ map[string]any) (scraper.PhaseResult, error) {
	return scraper.PhaseResult{Records: []scraper.RawRecord{
		{"name": "Acme Central", "address": "1 Main St", "source_url": pageURL},
		{"name": "Acme North", "address": "2 High St", "source_url": pageURL},
	}}, nil
}

type stubTransformer struct{}

func (stubTransformer) Normalize(rec scraper.RawRecord, site string) (scraper.Location, error) {
	name, _ := rec["name"].(string)
	addr, _ := rec["address"].(string)
	return scraper.Location{
		BusinessID:    scraper.BusinessID(name, addr),
		BusinessName:  name,
		StreetAddress: addr,
		Source:        site,
	}, nil
}

type recordingStore struct {
	name string
	err  error

	mu    sync.Mutex
	batch []scraper.Location
}

func (s *recordingStore) Name() string { return s.name }

func (s *recordingStore) Persist(_ context.Context, _ string, locations []scraper.Location) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.mu.Lock()
	s.batch = locations
	s.mu.Unlock()
	return len(locations), nil
}

type fixture struct {
	orch      *Orchestrator
	jobs      *jobmemory.Store
	publisher *pubmemory.Publisher
	store     *recordingStore
}

func newFixture(t *testing.T, mutate func(map[string]scraper.WebsiteConfig, *recordingStore)) *fixture {
	t.Helper()

	store := &recordingStore{name: "jsonl"}
	websites := map[string]scraper.WebsiteConfig{
		"acme": {
			Name:            "acme",
			Enabled:         true,
			Fetcher:         "http",
			Parser:          "stub",
			Transformer:     "stub",
			StorageBackends: []string{"jsonl"},
			StartURLs:       []string{"https://acme.test/stores"},
		},
		"dormant": {Name: "dormant", Enabled: false},
	}
	if mutate != nil {
		mutate(websites, store)
	}

	reg := registry.New()
	reg.RegisterFetcher("http", func(scraper.WebsiteConfig) (scraper.Fetcher, error) { return stubFetcher{}, nil })
	reg.RegisterParser("stub", func(scraper.WebsiteConfig) (scraper.Parser, error) { return stubParser{}, nil })
	reg.RegisterTransformer("stub", func(scraper.WebsiteConfig) (scraper.Transformer, error) { return stubTransformer{}, nil })
	reg.RegisterStorage("jsonl", func(scraper.WebsiteConfig) (scraper.Storage, error) { return store, nil })

	clock := testClock{}
	jobs := jobmemory.New(clock)
	queue := queuememory.New(8)
	publisher := pubmemory.New()

	orch := New(
		queue, jobs, reg, storage.NewFanout(zap.NewNop()), publisher,
		clock, &seqIDs{}, websites,
		Config{Workers: 2, Topic: "scrape-completions"},
		zap.NewNop(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		orch.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &fixture{orch: orch, jobs: jobs, publisher: publisher, store: store}
}

func waitTerminal(t *testing.T, f *fixture, jobID string) scraper.Job {
	t.Helper()
	var job scraper.Job
	require.Eventually(t, func() bool {
		job = f.jobs.Get(context.Background(), jobID)
		return job.Status == scraper.JobStatusFinished || job.Status == scraper.JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)
	return job
}

func TestSubmitRunsJobToCompletion(t *testing.T) {
	f := newFixture(t, nil)

	job, err := f.orch.Submit(context.Background(), "acme")
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusQueued, job.Status)

	done := waitTerminal(t, f, job.ID)
	require.Equal(t, scraper.JobStatusFinished, done.Status)
	require.NotNil(t, done.Result)
	require.Equal(t, 2, done.Result.RecordsFound)
	require.Equal(t, 2, done.Result.RecordsStored)
	require.True(t, done.Result.Backends["jsonl"].OK)

	require.Eventually(t, func() bool {
		return len(f.publisher.Messages()) == 1
	}, time.Second, 10*time.Millisecond)
	event, ok := f.publisher.Messages()[0].Payload.(scraper.CompletionEvent)
	require.True(t, ok)
	require.Equal(t, job.ID, event.JobID)
	require.Equal(t, scraper.JobStatusFinished, event.Status)
}

func TestSubmitRejectsUnknownAndDisabledWebsites(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.orch.Submit(context.Background(), "nope")
	var cerr *scraper.ConfigError
	require.ErrorAs(t, err, &cerr)

	_, err = f.orch.Submit(context.Background(), "dormant")
	require.ErrorAs(t, err, &cerr)
}

func TestSubmitRejectsDuplicateActiveWebsite(t *testing.T) {
	f := newFixture(t, nil)

	job, err := f.orch.Submit(context.Background(), "acme")
	require.NoError(t, err)

	// Immediately after submit the first job is still queued or running.
	_, err = f.orch.Submit(context.Background(), "acme")
	if err != nil {
		require.ErrorIs(t, err, scraper.ErrAlreadyActive)
	}

	waitTerminal(t, f, job.ID)

	// After the first job finishes the website can be scraped again.
	require.Eventually(t, func() bool {
		_, err := f.orch.Submit(context.Background(), "acme")
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestFailedStorageFailsJob(t *testing.T) {
	f := newFixture(t, func(_ map[string]scraper.WebsiteConfig, store *recordingStore) {
		store.err = errors.New("disk full")
	})

	job, err := f.orch.Submit(context.Background(), "acme")
	require.NoError(t, err)

	done := waitTerminal(t, f, job.ID)
	require.Equal(t, scraper.JobStatusFailed, done.Status)
	require.Contains(t, done.ErrorText, "disk full")
	require.False(t, done.Result.Backends["jsonl"].OK)
}

func TestSubmitAllSkipsDisabledWebsites(t *testing.T) {
	f := newFixture(t, nil)

	jobs, skipped := f.orch.SubmitAll(context.Background())
	require.Len(t, jobs, 1)
	require.Equal(t, "acme", jobs[0].Website)
	require.Empty(t, skipped)

	waitTerminal(t, f, jobs[0].ID)
}

func TestSubmitAllReportsActiveWebsites(t *testing.T) {
	f := newFixture(t, nil)

	first, err := f.orch.Submit(context.Background(), "acme")
	require.NoError(t, err)

	jobs, skipped := f.orch.SubmitAll(context.Background())
	if len(jobs) == 0 {
		require.ErrorIs(t, skipped["acme"], scraper.ErrAlreadyActive)
	}
	waitTerminal(t, f, first.ID)
}
