package scraper

import (
	"errors"
	"fmt"
)

// ErrAlreadyActive is returned by enqueue while a job for the same website
// is still queued or running.
var ErrAlreadyActive = errors.New("website already has an active job")

// ConfigError reports unknown websites or malformed plugin wiring. It is
// fatal for the enqueue call; the job never starts.
type ConfigError struct {
	Website string
	Reason  string
}

func (e *ConfigError) Error() string {
	if e.Website == "" {
		return fmt.Sprintf("config error: %s", e.Reason)
	}
	return fmt.Sprintf("config error for website %q: %s", e.Website, e.Reason)
}

// NewConfigError builds a ConfigError for a website.
func NewConfigError(website, format string, args ...any) *ConfigError {
	return &ConfigError{Website: website, Reason: fmt.Sprintf(format, args...)}
}

// FetchError reports a network/HTTP failure. Transient failures are retried
// per policy; permanent ones abort just that fetch.
type FetchError struct {
	URL        string
	StatusCode int
	Transient  bool
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s fetch error for %s after %d attempt(s): %v", kind, e.URL, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s fetch error for %s after %d attempt(s): status %d", kind, e.URL, e.Attempts, e.StatusCode)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTransientFetch reports whether err is a FetchError marked transient.
func IsTransientFetch(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Transient
}

// ParseError reports a page whose structure did not match expectations.
// The affected page is skipped; the run continues.
type ParseError struct {
	Phase  int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in phase %d: %s", e.Phase, e.Reason)
}

// ValidationError reports a raw record that failed normalization. The
// record is dropped and logged; the run continues.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Reason)
	}
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Reason)
}

// PersistError reports a single storage backend failure, isolated to that
// backend by the fan-out.
type PersistError struct {
	Backend string
	Err     error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist error in backend %s: %v", e.Backend, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
