package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"

	"github.com/congo-pay/paygate/internal/logging"
)

const maxResponseBody = 1 << 20

// ClientOptions tunes the outbound HTTP client shared by remote providers.
type ClientOptions struct {
	Timeout time.Duration
	Retries int
}

// RemoteError is returned when a provider answers with a non-2xx status.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("provider responded %d: %s", e.StatusCode, e.Body)
}

// Is lets callers match rejected requests with errors.Is(err, ErrInvalidRequest).
func (e *RemoteError) Is(target error) bool {
	if target != ErrInvalidRequest {
		return false
	}
	return e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnprocessableEntity
}

type httpClient struct {
	baseURL string
	http    *retryablehttp.Client
	breaker *gobreaker.CircuitBreaker
}

func newHTTPClient(name, baseURL string, opts ClientOptions, logger *slog.Logger) *httpClient {
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With(slog.String("provider", name))

	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.Retries
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = logger
	if opts.Timeout > 0 {
		rc.HTTPClient.Timeout = opts.Timeout
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("provider circuit changed state", slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})

	return &httpClient{baseURL: baseURL, http: rc, breaker: breaker}
}

// doJSON performs one JSON round trip through the circuit breaker. 4xx answers
// are returned as *RemoteError without counting against the breaker.
func (c *httpClient) doJSON(ctx context.Context, method, path string, header http.Header, in, out any) error {
	var rejected *RemoteError
	_, err := c.breaker.Execute(func() (interface{}, error) {
		err := c.do(ctx, method, path, header, in, out)
		var remote *RemoteError
		if errors.As(err, &remote) && remote.StatusCode < http.StatusInternalServerError {
			rejected = remote
			return nil, nil
		}
		return nil, err
	})
	if rejected != nil {
		return rejected
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (c *httpClient) do(ctx context.Context, method, path string, header http.Header, in, out any) error {
	var body interface{}
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("json encode: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("body read: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return &RemoteError{StatusCode: res.StatusCode, Body: string(data)}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("json decode: %w", err)
		}
	}
	return nil
}
