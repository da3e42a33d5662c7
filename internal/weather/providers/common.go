package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/segmentio/encoding/json"
	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-ingestion/internal/weather"
)

// DefaultUserAgent identifies this service to upstream APIs. MET Norway
// rejects anonymous clients, so a descriptive value is required.
const DefaultUserAgent = "weather-ingestion/0.1 (github.com/i474232898/weather-ingestion)"

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client    *http.Client
	UserAgent string
	Backoff   BackoffConfig
}

// DefaultHTTPConfig returns the resilience settings shared by all providers.
func DefaultHTTPConfig(client *http.Client, userAgent string) HTTPClientConfig {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return HTTPClientConfig{
		Client:    client,
		UserAgent: userAgent,
		Backoff: BackoffConfig{
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
	}
}

var (
	errRateLimited   = errors.New("rate limited")
	errServerError   = errors.New("server error")
	errUnexpected    = errors.New("unexpected status code")
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

func newCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
}

// doRequestWithResilience executes the HTTP request with retries, exponential backoff,
// and a circuit breaker. Every error it returns wraps weather.ErrProviderUnavailable.
func doRequestWithResilience(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func() (*http.Request, error),
) (*http.Response, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("%w: %v", weather.ErrProviderUnavailable, errNoHTTPClient)
	}
	if cfg.Backoff.MaxRetries < 0 || cfg.Backoff.InitialInterval <= 0 {
		return nil, fmt.Errorf("%w: %v", weather.ErrProviderUnavailable, errInvalidConfig)
	}

	var resp *http.Response
	err := retry.Do(
		func() error {
			req, err := buildRequest()
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req = req.WithContext(ctx)
			req.Header.Set("User-Agent", cfg.UserAgent)
			req.Header.Set("Accept", "application/json")

			result, err := cb.Execute(func() (interface{}, error) {
				r, execErr := cfg.Client.Do(req)
				if execErr != nil {
					return nil, execErr
				}

				// Handle rate limiting and server errors explicitly.
				switch {
				case r.StatusCode == http.StatusTooManyRequests:
					drain(r)
					return nil, errRateLimited
				case r.StatusCode >= 500:
					drain(r)
					return nil, fmt.Errorf("%w: %d", errServerError, r.StatusCode)
				case r.StatusCode < 200 || r.StatusCode >= 300:
					drain(r)
					return nil, fmt.Errorf("%w: %d", errUnexpected, r.StatusCode)
				}
				return r, nil
			})
			if err != nil {
				// If circuit is open, propagate immediately.
				if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
					return retry.Unrecoverable(fmt.Errorf("%w: %v", errCircuitOpen, err))
				}
				if errors.Is(err, errUnexpected) {
					return retry.Unrecoverable(err)
				}
				return err
			}

			r, ok := result.(*http.Response)
			if !ok {
				return retry.Unrecoverable(fmt.Errorf("unexpected result type from circuit breaker"))
			}
			resp = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(cfg.Backoff.MaxRetries)+1),
		retry.Delay(cfg.Backoff.InitialInterval),
		retry.MaxDelay(cfg.Backoff.MaxInterval),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", weather.ErrProviderUnavailable, err)
	}
	return resp, nil
}

// getJSON performs a resilient GET and decodes the body into out. Decoding
// failures wrap weather.ErrProviderMalformed.
func getJSON(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func() (*http.Request, error),
	out interface{},
) error {
	resp, err := doRequestWithResilience(ctx, cfg, cb, buildRequest)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode body: %v", weather.ErrProviderMalformed, err)
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()
}
