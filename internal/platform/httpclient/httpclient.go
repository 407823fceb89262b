// Package httpclient wraps http.Client with a per-attempt timeout and
// exponential backoff on transient replies.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig holds the retry strategy.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig is five attempts starting at one second.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:    5,
	InitialBackoff: time.Second,
	MaxBackoff:     30 * time.Second,
}

// Client retries requests that fail with a network error or one of the
// transient status codes.
type Client struct {
	http    *http.Client
	retry   RetryConfig
	timeout time.Duration
	logger  zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRetry replaces the retry strategy.
func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient sets the underlying transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a Client with a 5s per-attempt timeout and DefaultRetryConfig.
func New(opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{},
		retry:   DefaultRetryConfig,
		timeout: 5 * time.Second,
		logger:  zerolog.Nop(),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.MaxAttempts < 1 {
		c.retry.MaxAttempts = 1
	}
	return c
}

// IsTransientStatus reports whether a status code is worth retrying.
func IsTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Backoff computes min(initial * 2^attempt, max).
func Backoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(initial) * math.Pow(2, float64(attempt))
	if d > float64(max) {
		return max
	}
	return time.Duration(d)
}

// Do sends req. The final response is returned even when its status is an
// error so the caller can classify it; only exhausted network failures
// produce an error.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("httpclient: read request body: %w", err)
		}
	}

	parent := req.Context()
	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := Backoff(attempt-1, c.retry.InitialBackoff, c.retry.MaxBackoff)
			if err := c.sleep(parent, wait); err != nil {
				return nil, err
			}
		}

		resp, err := c.attempt(parent, req, body)
		last := attempt == c.retry.MaxAttempts-1
		if err != nil {
			lastErr = err
			if parent.Err() != nil || !isNetworkError(err) {
				return nil, err
			}
			c.logger.Warn().Err(err).Str("url", req.URL.String()).Int("attempt", attempt+1).Msg("request failed, retrying")
			continue
		}
		if IsTransientStatus(resp.StatusCode) && !last {
			c.logger.Warn().Int("status", resp.StatusCode).Str("url", req.URL.String()).Int("attempt", attempt+1).Msg("transient response, retrying")
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("httpclient: request failed after %d attempts: %w", c.retry.MaxAttempts, lastErr)
}

// attempt runs one request under the per-attempt timeout. The response
// body is buffered so the timeout can be released before returning.
func (c *Client) attempt(parent context.Context, req *http.Request, body []byte) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	r := req.Clone(ctx)
	if body != nil {
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
	}

	resp, err := c.http.Do(r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(buf))
	return resp, nil
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
