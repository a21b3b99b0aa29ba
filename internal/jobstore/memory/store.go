// Package memory provides the in-memory job store used by the single-process
// service.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/qsrscan/location-scraper/internal/scraper"
)

// Store keeps job state in a map guarded by a RWMutex. Status transitions
// are monotonic: a terminal job never moves again.
type Store struct {
	mu    sync.RWMutex
	jobs  map[string]scraper.Job
	clock scraper.Clock
}

// New constructs a Store stamping transitions from clock.
func New(clock scraper.Clock) *Store {
	return &Store{
		jobs:  make(map[string]scraper.Job),
		clock: clock,
	}
}

// Create stores a new job in queued status.
func (s *Store) Create(_ context.Context, job scraper.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	if job.Status == "" {
		job.Status = scraper.JobStatusQueued
	}
	if job.Created.IsZero() {
		job.Created = s.clock.Now()
	}
	s.jobs[job.ID] = job
	return nil
}

// Get fetches a job by ID. Unknown ids come back with not_found status
// rather than an error so the API can answer polls uniformly.
func (s *Store) Get(_ context.Context, jobID string) scraper.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scraper.Job{ID: jobID, Status: scraper.JobStatusNotFound}
	}
	return job
}

// Transition moves a job to status, stamping started/finished timestamps.
// Moving a terminal job, or moving any job backwards, is rejected.
func (s *Store) Transition(_ context.Context, jobID string, status scraper.JobStatus, result *scraper.RunSummary, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return errors.New("job not found")
	}
	if isTerminal(job.Status) {
		return errors.New("job already finished")
	}
	if job.Status == scraper.JobStatusRunning && status == scraper.JobStatusQueued {
		return errors.New("job cannot return to queued")
	}

	now := s.clock.Now()
	job.Status = status
	job.ErrorText = errText
	if result != nil {
		job.Result = result
	}
	if status == scraper.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if isTerminal(status) {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// ActiveWebsite reports whether a queued or running job exists for website.
func (s *Store) ActiveWebsite(website string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.jobs {
		if job.Website == website && !isTerminal(job.Status) {
			return true
		}
	}
	return false
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func isTerminal(status scraper.JobStatus) bool {
	switch status {
	case scraper.JobStatusFinished, scraper.JobStatusFailed:
		return true
	default:
		return false
	}
}
