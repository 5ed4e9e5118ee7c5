package quip

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/parchmint/quipmirror/internal/telemetry"
)

// Retry and backoff constants.
const (
	maxRetries     = 3
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "quipmirror/0.1"
)

// Default token-bucket parameters for the API rate limiter. Conservative,
// well below Quip's published per-user quota.
const (
	defaultRateLimitRPS   = 10.0
	defaultRateLimitBurst = 20
)

// DefaultBaseURL is the Quip platform API endpoint.
const DefaultBaseURL = "https://platform.quip.com"

// Client is an HTTP client for the Quip read API. It handles request
// construction, bearer authentication, rate limiting, retry with
// exponential backoff, and error classification.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	accessToken string
	limiter     *rate.Limiter
	logger      *slog.Logger
	metrics     telemetry.Recorder

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error

	// assumeUntypedThreads controls whether folder children that carry a
	// thread identifier but no explicit type are treated as syncable
	// generic threads. The upstream API returns inconsistent child shapes;
	// this defaults to true.
	assumeUntypedThreads bool
}

// NewClient creates a Quip API client. baseURL is typically DefaultBaseURL.
// The httpClient should carry a per-attempt timeout (the runner uses 30s).
func NewClient(baseURL string, httpClient *http.Client, accessToken string, logger *slog.Logger, metrics telemetry.Recorder) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if metrics == nil {
		metrics = telemetry.Noop()
	}

	return &Client{
		baseURL:              baseURL,
		httpClient:           httpClient,
		accessToken:          accessToken,
		limiter:              rate.NewLimiter(rate.Limit(defaultRateLimitRPS), defaultRateLimitBurst),
		logger:               logger,
		metrics:              metrics,
		sleepFunc:            timeSleep,
		assumeUntypedThreads: true,
	}
}

// SetRateLimit replaces the client's token-bucket parameters. Each retry
// attempt waits on the limiter, so parallel callers share one budget.
func (c *Client) SetRateLimit(rps float64, burst int) {
	if rps <= 0 || burst <= 0 {
		return
	}

	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// SetAssumeUntypedThreads controls the ambiguous-child classification
// policy during discovery (see DiscoverAllThreads).
func (c *Client) SetAssumeUntypedThreads(v bool) {
	c.assumeUntypedThreads = v
}

// getJSON issues a GET against the given endpoint with retry, decodes the
// 2xx response body into out, and classifies failures into *APIError.
func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var attempt int
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return &APIError{Endpoint: endpoint, Message: "request canceled", Err: err}
		}

		resp, err := c.doOnce(ctx, target)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return &APIError{Endpoint: endpoint, Message: "request canceled", Err: ctx.Err()}
			}

			// Timeouts and connection errors are retryable.
			if attempt < maxRetries {
				backoff := calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("endpoint", endpoint),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)
				c.metrics.Count("QuipAPIConnectionErrors", 1)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return &APIError{Endpoint: endpoint, Message: "request canceled", Err: sleepErr}
				}

				attempt++

				continue
			}

			c.metrics.Count("QuipAPIConnectionFailures", 1)

			return &APIError{
				Endpoint: endpoint,
				Message:  fmt.Sprintf("request failed after %d retries: %v", maxRetries, err),
				Err:      ErrUnavailable,
			}
		}

		// 2xx is success.
		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			err := decodeBody(resp, out)
			if err != nil {
				c.metrics.Count("QuipAPIJSONErrors", 1)

				return &APIError{
					StatusCode: resp.StatusCode,
					Endpoint:   endpoint,
					Message:    fmt.Sprintf("decoding response: %v", err),
					Err:        ErrBadResponse,
				}
			}

			c.metrics.Count("QuipAPIRequests", 1)

			return nil
		}

		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		// Auth, permission, and not-found responses are terminal.
		if isTerminal(resp.StatusCode) {
			c.metrics.Count("QuipAPIHTTPErrors", 1)

			return &APIError{
				StatusCode: resp.StatusCode,
				Endpoint:   endpoint,
				Message:    string(errBody),
				Err:        classifyStatus(resp.StatusCode),
			}
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("endpoint", endpoint),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if resp.StatusCode == http.StatusTooManyRequests {
				c.metrics.Count("QuipAPIRateLimits", 1)
			}

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return &APIError{Endpoint: endpoint, Message: "request canceled", Err: err}
			}

			attempt++

			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			c.metrics.Count("QuipAPIRateLimitFailures", 1)
		} else {
			c.metrics.Count("QuipAPIHTTPErrors", 1)
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("endpoint", endpoint),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return &APIError{
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Message:    string(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

// doOnce executes a single HTTP GET (no retry).
func (c *Client) doOnce(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("User-Agent", userAgent)

	return c.httpClient.Do(req)
}

// decodeBody decodes a JSON response body into out and closes the body.
func decodeBody(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter. Jitter is
// per-call so parallel workers do not retry in lockstep.
func calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
