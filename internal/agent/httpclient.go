// internal/agent/httpclient.go
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// HTTP errors that trigger a retry
var (
	ErrRateLimit      = errors.New("rate limit exceeded (429)")
	ErrServerBusy     = errors.New("server busy (503)")
	ErrBadGateway     = errors.New("bad gateway (502)")
	ErrGatewayTimeout = errors.New("gateway timeout (504)")
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig returns the client defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
	}
}

// retryClient wraps http.Client with backoff for idempotent requests
type retryClient struct {
	client *http.Client
	config RetryConfig
}

func newRetryClient(config RetryConfig, timeout time.Duration) *retryClient {
	if config == (RetryConfig{}) {
		config = DefaultRetryConfig()
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &retryClient{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				IdleConnTimeout:       90 * time.Second,
				MaxIdleConns:          10,
				MaxIdleConnsPerHost:   5,
			},
		},
		config: config,
	}
}

// do sends req. GET and HEAD requests are retried on transient network
// errors and on 429/502/503/504; other methods get a single attempt.
func (c *retryClient) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	attempts := c.config.MaxAttempts
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		attempts = 1
	}

	var lastErr error
	delay := c.config.BaseDelay

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
				delay = min(delay*2, c.config.MaxDelay)
			}
		}

		reqClone := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("rewind body: %w", err)
			}
			reqClone.Body = body
		}

		resp, err := c.client.Do(reqClone)
		if err != nil {
			if isRetryableError(err) {
				lastErr = err
				continue
			}
			return nil, err
		}

		if shouldRetryStatus(resp.StatusCode) {
			resp.Body.Close()
			lastErr = statusError(resp.StatusCode)
			continue
		}

		return resp, nil
	}

	if attempts == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

// isRetryableError checks if a network error is worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Refused or reset while dialing: the server may still be starting.
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// shouldRetryStatus checks if an HTTP status code warrants a retry
func shouldRetryStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// statusError returns a descriptive error for HTTP status
func statusError(code int) error {
	switch code {
	case http.StatusTooManyRequests:
		return ErrRateLimit
	case http.StatusBadGateway:
		return ErrBadGateway
	case http.StatusServiceUnavailable:
		return ErrServerBusy
	case http.StatusGatewayTimeout:
		return ErrGatewayTimeout
	default:
		return fmt.Errorf("HTTP %d", code)
	}
}

// newRequestWithBody creates a request whose body can be re-read on retry
func newRequestWithBody(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return req, nil
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Body, _ = req.GetBody()
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
