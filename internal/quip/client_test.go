package quip

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noopSleep is a sleep function that returns immediately, for fast tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

// newTestClient creates a Client pointing at the given httptest server with
// instant retry sleeps and an unthrottled limiter for fast tests.
func newTestClient(t *testing.T, url string) *Client {
	t.Helper()

	c := NewClient(url, http.DefaultClient, "test-token", nil, nil)
	c.sleepFunc = noopSleep
	c.SetRateLimit(10000, 10000)

	return c
}

func TestGetJSON_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"value":"ok"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	var out struct {
		Value string `json:"value"`
	}

	err := client.getJSON(context.Background(), "/test", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Value)
}

func TestGetJSON_TerminalStatusesNotRetried(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrForbidden},
		{"not found", http.StatusNotFound, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			client := newTestClient(t, srv.URL)

			err := client.getJSON(context.Background(), "/test", nil, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, "/test", apiErr.Endpoint)

			// Terminal statuses must fail on the first attempt.
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestGetJSON_RetryOn5xxThenSuccess(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	err := client.getJSON(context.Background(), "/retry", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetJSON_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	err := client.getJSON(context.Background(), "/fail", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)

	// Initial attempt plus maxRetries retries.
	assert.Equal(t, int32(maxRetries+1), calls.Load())
}

func TestGetJSON_RateLimitHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	var slept []time.Duration
	client.sleepFunc = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)

		return nil
	}

	err := client.getJSON(context.Background(), "/throttled", nil, nil)
	require.NoError(t, err)
	require.Len(t, slept, 1)
	assert.Equal(t, 7*time.Second, slept[0])
}

func TestGetJSON_NetworkErrorRetried(t *testing.T) {
	// Server that is immediately closed, so every request fails to connect.
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	srv.Close()

	client := newTestClient(t, srv.URL)

	var sleeps atomic.Int32
	client.sleepFunc = func(_ context.Context, _ time.Duration) error {
		sleeps.Add(1)

		return nil
	}

	err := client.getJSON(context.Background(), "/gone", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(maxRetries), sleeps.Load())
}

func TestGetJSON_MalformedBodyNotRetried(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"broken`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	var out map[string]any

	err := client.getJSON(context.Background(), "/bad", nil, &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadResponse)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetJSON_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.getJSON(ctx, "/canceled", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalcBackoff_GrowsAndCaps(t *testing.T) {
	// With ±25% jitter, attempt 0 stays within [0.75s, 1.25s].
	b0 := calcBackoff(0)
	assert.GreaterOrEqual(t, b0, 750*time.Millisecond)
	assert.LessOrEqual(t, b0, 1250*time.Millisecond)

	// Large attempts are capped at maxBackoff plus jitter headroom.
	b10 := calcBackoff(10)
	assert.LessOrEqual(t, b10, time.Duration(float64(maxBackoff)*(1+jitterFraction)))
}
