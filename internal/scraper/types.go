// Package scraper defines core types shared across subsystems.
package scraper

import (
	"time"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store. Transitions are monotonic
// along queued -> running -> {finished|failed}; NotFound is only ever
// returned for unknown ids and never stored.
const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusFinished JobStatus = "finished"
	JobStatusFailed   JobStatus = "failed"
	JobStatusNotFound JobStatus = "not_found"
)

// Job is the metadata persisted for each submitted scrape request.
type Job struct {
	ID        string      `json:"id"`
	Website   string      `json:"website"`
	Status    JobStatus   `json:"status"`
	Created   time.Time   `json:"created_at"`
	Started   *time.Time  `json:"started_at,omitempty"`
	Finished  *time.Time  `json:"finished_at,omitempty"`
	Result    *RunSummary `json:"result,omitempty"`
	ErrorText string      `json:"error,omitempty"`
}

// RunSummary aggregates the outcome of one pipeline run for polling clients.
type RunSummary struct {
	RecordsFound       int                      `json:"records_found"`
	RecordsTransformed int                      `json:"records_transformed"`
	RecordsStored      int                      `json:"records_stored"`
	ItemsSkipped       int                      `json:"items_skipped"`
	Retries            int                      `json:"retries"`
	Backends           map[string]PersistResult `json:"backends,omitempty"`
	FirstError         string                   `json:"first_error,omitempty"`
}

// PersistResult is the per-backend outcome of a storage fan-out.
type PersistResult struct {
	OK    bool   `json:"ok"`
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

// RawRecord is an opaque parser-defined payload for one discovered entity
// before normalization. It only lives for the duration of a run.
type RawRecord map[string]any

// Location is the canonical, storage-ready representation of one scraped
// restaurant location. It is never mutated after the transformer creates it.
type Location struct {
	BusinessID         string    `json:"business_id"`
	BusinessName       string    `json:"business_name"`
	StreetAddress      string    `json:"street_address"`
	Suburb             string    `json:"suburb"`
	State              string    `json:"state"`
	Postcode           string    `json:"postcode"`
	DriveThru          bool      `json:"drive_thru"`
	ShoppingCentreName string    `json:"shopping_centre_name,omitempty"`
	SourceURL          string    `json:"source_url"`
	Source             string    `json:"source"`
	ScrapedDate        time.Time `json:"scraped_date"`
}

// PhaseResult is the tagged output of one parsed page: either URLs feeding
// the next phase or raw records ready for normalization. A parser declares
// how many further phases it needs by which field it fills.
type PhaseResult struct {
	NextURLs []string
	Records  []RawRecord
}

// FetchOptions carries everything a fetch strategy needs for one request.
// Headers use a flat map so option bundles stay mapstructure-friendly.
type FetchOptions struct {
	Method       string            `mapstructure:"method"`
	Headers      map[string]string `mapstructure:"headers"`
	Body         string            `mapstructure:"body"`
	TimeoutSec   int               `mapstructure:"timeout_seconds"`
	MaxRetries   int               `mapstructure:"max_retries"`
	ProxyURL     string            `mapstructure:"proxy_url"`
	RetryOn429   *bool             `mapstructure:"retry_on_429"`
	RenderParams map[string]string `mapstructure:"render_params"`
}

// Merged layers the non-zero fields of override on top of o.
func (o FetchOptions) Merged(override FetchOptions) FetchOptions {
	out := o
	if override.Method != "" {
		out.Method = override.Method
	}
	if len(override.Headers) > 0 {
		merged := make(map[string]string, len(o.Headers)+len(override.Headers))
		for k, v := range o.Headers {
			merged[k] = v
		}
		for k, v := range override.Headers {
			merged[k] = v
		}
		out.Headers = merged
	}
	if override.Body != "" {
		out.Body = override.Body
	}
	if override.TimeoutSec != 0 {
		out.TimeoutSec = override.TimeoutSec
	}
	if override.MaxRetries != 0 {
		out.MaxRetries = override.MaxRetries
	}
	if override.ProxyURL != "" {
		out.ProxyURL = override.ProxyURL
	}
	if override.RetryOn429 != nil {
		out.RetryOn429 = override.RetryOn429
	}
	if len(override.RenderParams) > 0 {
		out.RenderParams = override.RenderParams
	}
	return out
}

// WebsiteConfig is the resolved, immutable configuration for one site. The
// core consumes it read-only for the duration of a run.
type WebsiteConfig struct {
	Name                  string                    `mapstructure:"-"`
	Enabled               bool                      `mapstructure:"enabled"`
	Fetcher               string                    `mapstructure:"fetcher"`
	Parser                string                    `mapstructure:"parser"`
	Transformer           string                    `mapstructure:"transformer"`
	StorageBackends       []string                  `mapstructure:"storage"`
	StartURLs             []string                  `mapstructure:"start_urls"`
	MaxConcurrentRequests int                       `mapstructure:"max_concurrent_requests"`
	BudgetSeconds         int                       `mapstructure:"budget_seconds"`
	StoragePolicy         string                    `mapstructure:"storage_policy"`
	FetchOptions          FetchOptions              `mapstructure:"fetcher_options"`
	DetailFetchOptions    FetchOptions              `mapstructure:"detail_fetcher_options"`
	ParserOptions         map[string]any            `mapstructure:"parser_options"`
	TransformerOptions    map[string]any            `mapstructure:"transformer_options"`
	StorageOptions        map[string]map[string]any `mapstructure:"storage_options"`
}

// PhaseFetchOptions returns the effective fetch options for a phase: the
// base bundle for discovery, with the detail override layered on top for
// every later phase.
func (c WebsiteConfig) PhaseFetchOptions(phase int) FetchOptions {
	if phase == 0 {
		return c.FetchOptions
	}
	return c.FetchOptions.Merged(c.DetailFetchOptions)
}

// StoragePolicyAllRequired marks a site whose job fails unless every
// configured backend persisted the batch.
const StoragePolicyAllRequired = "all_required"

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Website   string
	Submitted int64
}

// CompletionEvent is published when a job reaches a terminal status.
type CompletionEvent struct {
	JobID    string      `json:"job_id"`
	Website  string      `json:"website"`
	Status   JobStatus   `json:"status"`
	Summary  *RunSummary `json:"summary,omitempty"`
	Error    string      `json:"error,omitempty"`
	Finished time.Time   `json:"finished_at"`
}
