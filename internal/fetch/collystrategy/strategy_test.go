package collystrategy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qsrscan/location-scraper/internal/scraper"
)

func TestDo_ReturnsBodyAndStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>locations</html>"))
	}))
	defer srv.Close()

	strategy := New(Config{UserAgent: "test-agent", Timeout: 5 * time.Second})
	resp, err := strategy.Do(context.Background(), srv.URL, scraper.FetchOptions{})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []byte("<html>locations</html>"), resp.Body)
}

func TestDo_SameURLCanBeFetchedAgain(t *testing.T) {
	t.Parallel()

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>locations</html>"))
	}))
	defer srv.Close()

	// Retries and repeat jobs hit the same URL through the shared strategy;
	// colly's visited-URL dedup must not reject the second request.
	strategy := New(Config{Timeout: 5 * time.Second})
	for i := 0; i < 2; i++ {
		resp, err := strategy.Do(context.Background(), srv.URL, scraper.FetchOptions{})
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	require.Equal(t, 2, hits)
}

func TestDo_NonSuccessStatusIsNotAnError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	strategy := New(Config{Timeout: 5 * time.Second})
	resp, err := strategy.Do(context.Background(), srv.URL, scraper.FetchOptions{})
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestDo_SendsConfiguredHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Accept"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	strategy := New(Config{Timeout: 5 * time.Second})
	_, err := strategy.Do(context.Background(), srv.URL, scraper.FetchOptions{
		Headers: map[string]string{"Accept": "application/json"},
	})
	require.NoError(t, err)
}

func TestDo_PostSendsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	strategy := New(Config{Timeout: 5 * time.Second})
	resp, err := strategy.Do(context.Background(), srv.URL, scraper.FetchOptions{
		Method: http.MethodPost,
		Body:   `{"state":"VIC"}`,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDo_TransportFailureIsAnError(t *testing.T) {
	t.Parallel()

	strategy := New(Config{Timeout: time.Second})
	_, err := strategy.Do(context.Background(), "http://127.0.0.1:1", scraper.FetchOptions{})
	require.Error(t, err)
}
