package scraper

import (
	"context"
	"time"
)

// Fetcher retrieves one page for a pipeline phase. Implementations wrap a
// fetch strategy with retry/backoff and may be invoked many times per run.
type Fetcher interface {
	FetchPage(ctx context.Context, url string, opts FetchOptions) ([]byte, error)
}

// Parser extracts either next-phase URLs or raw records from page content.
// pageURL is the address the content was fetched from; parsers use it to
// resolve relative links and to attribute records to their source page.
type Parser interface {
	Extract(ctx context.Context, pageURL string, content []byte, phase int, opts map[string]any) (PhaseResult, error)
}

// Transformer normalizes one raw record into a canonical location. It must
// be pure; a validation failure drops that record without aborting the batch.
type Transformer interface {
	Normalize(rec RawRecord, site string) (Location, error)
}

// Storage persists a batch of canonical locations idempotently under
// business_id and returns the number written.
type Storage interface {
	Name() string
	Persist(ctx context.Context, site string, locations []Location) (int, error)
}

// JobStore persists job lifecycle state, queryable by job id.
type JobStore interface {
	Create(ctx context.Context, job Job) error
	// Get never fails for unknown ids; it returns a Job with StatusNotFound.
	Get(ctx context.Context, jobID string) Job
	Transition(ctx context.Context, jobID string, status JobStatus, result *RunSummary, errText string) error
}

// Queue provides enqueue/dequeue semantics for scrape jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
