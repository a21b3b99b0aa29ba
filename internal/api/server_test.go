package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qsrscan/location-scraper/internal/config"
	"github.com/qsrscan/location-scraper/internal/scraper"
)

type fakeJobStore struct {
	jobs map[string]scraper.Job
}

func (s *fakeJobStore) Create(_ context.Context, job scraper.Job) error {
	s.jobs[job.ID] = job
	return nil
}

func (s *fakeJobStore) Get(_ context.Context, jobID string) scraper.Job {
	job, ok := s.jobs[jobID]
	if !ok {
		return scraper.Job{ID: jobID, Status: scraper.JobStatusNotFound}
	}
	return job
}

func (s *fakeJobStore) Transition(context.Context, string, scraper.JobStatus, *scraper.RunSummary, string) error {
	return nil
}

type fakeSubmitter struct {
	submitErr error
	submitted []string
	all       []scraper.Job
	skipped   map[string]error
}

func (f *fakeSubmitter) Submit(_ context.Context, website string) (scraper.Job, error) {
	if f.submitErr != nil {
		return scraper.Job{}, f.submitErr
	}
	f.submitted = append(f.submitted, website)
	return scraper.Job{ID: "job-1", Website: website, Status: scraper.JobStatusQueued}, nil
}

func (f *fakeSubmitter) SubmitAll(context.Context) ([]scraper.Job, map[string]error) {
	return f.all, f.skipped
}

func newTestServer(submitter *fakeSubmitter, cfg config.Config) (*Server, *fakeJobStore) {
	store := &fakeJobStore{jobs: map[string]scraper.Job{}}
	return NewServer(store, submitter, cfg, zap.NewNop()), store
}

func TestSubmitScrapeSingleWebsite(t *testing.T) {
	t.Parallel()

	submitter := &fakeSubmitter{}
	server, _ := newTestServer(submitter, config.Config{})

	body := bytes.NewBufferString(`{"website":"acme"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scrape", body)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []string{"acme"}, submitter.submitted)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "job-1", resp["job_id"])
	require.Equal(t, "queued", resp["status"])
}

func TestSubmitScrapeAllWebsites(t *testing.T) {
	t.Parallel()

	submitter := &fakeSubmitter{
		all: []scraper.Job{
			{ID: "job-1", Website: "acme", Status: scraper.JobStatusQueued},
			{ID: "job-2", Website: "beta", Status: scraper.JobStatusQueued},
		},
		skipped: map[string]error{"gamma": scraper.ErrAlreadyActive},
	}
	server, _ := newTestServer(submitter, config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scrape", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp struct {
		Jobs    []scraper.Job     `json:"jobs"`
		Skipped map[string]string `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 2)
	require.Contains(t, resp.Skipped["gamma"], "active")
}

func TestSubmitScrapeErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		code int
	}{
		{"duplicate", scraper.ErrAlreadyActive, http.StatusConflict},
		{"unknown website", scraper.NewConfigError("nope", "unknown website"), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server, _ := newTestServer(&fakeSubmitter{submitErr: tc.err}, config.Config{})
			body := bytes.NewBufferString(`{"website":"nope"}`)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/scrape", body)
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, req)
			require.Equal(t, tc.code, rec.Code)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.Equal(t, tc.err.Error(), resp["detail"])
		})
	}
}

func TestSubmitScrapeRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(&fakeSubmitter{}, config.Config{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scrape", bytes.NewBufferString("{invalid"))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobStatus(t *testing.T) {
	t.Parallel()

	server, store := newTestServer(&fakeSubmitter{}, config.Config{})
	store.jobs["job-1"] = scraper.Job{ID: "job-1", Website: "acme", Status: scraper.JobStatusRunning}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status/job-1", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var job scraper.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.Equal(t, scraper.JobStatusRunning, job.Status)
}

func TestGetJobStatusUnknownIDIsNotFoundStatus(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(&fakeSubmitter{}, config.Config{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status/missing", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	// Unknown ids are a 200 with not_found status, not a 404.
	require.Equal(t, http.StatusOK, rec.Code)
	var job scraper.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.Equal(t, scraper.JobStatusNotFound, job.Status)
}

func TestGetLogsTailsFile(t *testing.T) {
	t.Parallel()

	logFile := filepath.Join(t.TempDir(), "scraper.log")
	content := "line one\nline two\nline three\n"
	require.NoError(t, os.WriteFile(logFile, []byte(content), 0o600))

	cfg := config.Config{Logging: config.LoggingConfig{File: logFile}}
	server, _ := newTestServer(&fakeSubmitter{}, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs?lines=2", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Lines []string `json:"lines"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, []string{"line two", "line three"}, resp.Lines)
}

func TestGetLogsValidatesLinesParam(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Logging: config.LoggingConfig{File: "/tmp/unused.log"}}
	server, _ := newTestServer(&fakeSubmitter{}, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs?lines=zero", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "sekrit"}}
	server, _ := newTestServer(&fakeSubmitter{}, cfg)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "sekrit")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(&fakeSubmitter{}, config.Config{})
	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		require.Equalf(t, http.StatusOK, rec.Code, "path %s", path)
	}
}
