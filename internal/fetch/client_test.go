package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qsrscan/location-scraper/internal/scraper"
)

type scriptedStrategy struct {
	attempts  int
	responses []Response
	errs      []error
}

func (s *scriptedStrategy) Do(_ context.Context, _ string, _ scraper.FetchOptions) (Response, error) {
	i := s.attempts
	s.attempts++
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], s.errs[i]
}

func fastConfig(maxRetries int) ClientConfig {
	return ClientConfig{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	}
}

func TestFetchPage_SuccessFirstAttempt(t *testing.T) {
	t.Parallel()

	strategy := &scriptedStrategy{
		responses: []Response{{StatusCode: 200, Body: []byte("hello")}},
		errs:      []error{nil},
	}
	client := NewClient(strategy, fastConfig(2), "acme", nil)

	body, err := client.FetchPage(context.Background(), "https://example.com", scraper.FetchOptions{})
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), body)
	require.Equal(t, 1, strategy.attempts)
	require.Zero(t, client.Retries())
}

func TestFetchPage_RetryExhaustionPerformsExactAttempts(t *testing.T) {
	t.Parallel()

	strategy := &scriptedStrategy{
		responses: []Response{{StatusCode: 503}, {StatusCode: 503}, {StatusCode: 503}},
		errs:      []error{nil, nil, nil},
	}
	client := NewClient(strategy, fastConfig(2), "acme", nil)

	_, err := client.FetchPage(context.Background(), "https://example.com", scraper.FetchOptions{})
	require.Error(t, err)
	require.Equal(t, 3, strategy.attempts)

	var fe *scraper.FetchError
	require.ErrorAs(t, err, &fe)
	require.True(t, fe.Transient)
	require.Equal(t, 3, fe.Attempts)
	require.Equal(t, 503, fe.StatusCode)
	require.Equal(t, 2, client.Retries())
}

func TestFetchPage_PermanentStatusNotRetried(t *testing.T) {
	t.Parallel()

	strategy := &scriptedStrategy{
		responses: []Response{{StatusCode: 404}},
		errs:      []error{nil},
	}
	client := NewClient(strategy, fastConfig(5), "acme", nil)

	_, err := client.FetchPage(context.Background(), "https://example.com/missing", scraper.FetchOptions{})
	require.Error(t, err)
	require.Equal(t, 1, strategy.attempts)

	var fe *scraper.FetchError
	require.ErrorAs(t, err, &fe)
	require.False(t, fe.Transient)
	require.Equal(t, 404, fe.StatusCode)
}

func TestFetchPage_TransientThenSuccess(t *testing.T) {
	t.Parallel()

	strategy := &scriptedStrategy{
		responses: []Response{{}, {StatusCode: 200, Body: []byte("ok")}},
		errs:      []error{errors.New("connection reset"), nil},
	}
	client := NewClient(strategy, fastConfig(2), "acme", nil)

	body, err := client.FetchPage(context.Background(), "https://example.com", scraper.FetchOptions{})
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), body)
	require.Equal(t, 2, strategy.attempts)
	require.Equal(t, 1, client.Retries())
}

func TestFetchPage_429RespectsSiteOptOut(t *testing.T) {
	t.Parallel()

	no := false
	strategy := &scriptedStrategy{
		responses: []Response{{StatusCode: 429}},
		errs:      []error{nil},
	}
	client := NewClient(strategy, fastConfig(3), "acme", nil)

	_, err := client.FetchPage(context.Background(), "https://example.com", scraper.FetchOptions{RetryOn429: &no})
	require.Error(t, err)
	require.Equal(t, 1, strategy.attempts)
	require.False(t, scraper.IsTransientFetch(err))
}

func TestFetchPage_429TransientByDefault(t *testing.T) {
	t.Parallel()

	strategy := &scriptedStrategy{
		responses: []Response{{StatusCode: 429}, {StatusCode: 200, Body: []byte("ok")}},
		errs:      []error{nil, nil},
	}
	client := NewClient(strategy, fastConfig(2), "acme", nil)

	body, err := client.FetchPage(context.Background(), "https://example.com", scraper.FetchOptions{})
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), body)
}

func TestFetchPage_MalformedURLFailsImmediately(t *testing.T) {
	t.Parallel()

	strategy := &scriptedStrategy{
		responses: []Response{{}},
		errs:      []error{nil},
	}
	client := NewClient(strategy, fastConfig(2), "acme", nil)

	_, err := client.FetchPage(context.Background(), "://not-a-url", scraper.FetchOptions{})
	require.Error(t, err)
	require.Zero(t, strategy.attempts)
	require.False(t, scraper.IsTransientFetch(err))
}

func TestFetchPage_CanceledContextStopsRetries(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	strategy := &scriptedStrategy{
		responses: []Response{{}},
		errs:      []error{context.Canceled},
	}
	client := NewClient(strategy, fastConfig(5), "acme", nil)

	_, err := client.FetchPage(ctx, "https://example.com", scraper.FetchOptions{})
	require.Error(t, err)
	require.Equal(t, 1, strategy.attempts)
}

func TestFetchPage_SiteOptionsOverrideRetryBudget(t *testing.T) {
	t.Parallel()

	strategy := &scriptedStrategy{
		responses: []Response{{StatusCode: 500}, {StatusCode: 500}},
		errs:      []error{nil, nil},
	}
	client := NewClient(strategy, fastConfig(5), "acme", nil)

	_, err := client.FetchPage(context.Background(), "https://example.com", scraper.FetchOptions{MaxRetries: 1})
	require.Error(t, err)
	require.Equal(t, 2, strategy.attempts)
}
