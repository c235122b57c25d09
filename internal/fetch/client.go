// Package fetch is the HTTP transport used by the scraper. Every failure,
// whether connection, timeout, TLS or a non-2xx status, is reported as a
// *TransportError.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/BadgerOps/cvmfs-scraper/internal/safety"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxResponseBytes bounds every response body. Manifests and JSON
	// documents are a few kilobytes; listings of large servers stay well below.
	DefaultMaxResponseBytes int64 = 16 * 1024 * 1024
	DefaultTimeout                = 30 * time.Second
	DefaultUserAgent              = "cvmfs-scraper/0.1"
)

// TransportError describes a failed request. StatusCode is zero when no
// response was received.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("GET %s: http status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("GET %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NotFound reports whether the server answered 404.
func (e *TransportError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Options configures a Client. Zero values select the defaults.
type Options struct {
	Timeout          time.Duration
	MaxResponseBytes int64
	UserAgent        string
	// RequestsPerSecond limits outgoing requests across all goroutines.
	// Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	// Retries is the number of extra attempts after a failure that may be
	// transient: no response, 429 or 5xx. Zero fails on the first error.
	Retries int
}

// Client performs GET requests with bounded bodies.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string
	maxBytes   int64
	limiter    *rate.Limiter
	retries    int
	backoff    func(attempt int) time.Duration
}

// NewClient creates a fetch client.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	c := &Client{
		httpClient: safety.NewHTTPClient(opts.Timeout),
		logger:     logger,
		userAgent:  opts.UserAgent,
		maxBytes:   opts.MaxResponseBytes,
		retries:    opts.Retries,
		backoff:    calculateBackoffDelay,
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.maxBytes <= 0 {
		c.maxBytes = DefaultMaxResponseBytes
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c
}

// Fetch GETs url and returns the body of a 2xx response.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	if _, err := safety.ValidateHTTPURL(url); err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}

	var lastErr *TransportError
	for attempt := 0; ; attempt++ {
		body, err := c.fetchOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if attempt >= c.retries || !retryable(err) || ctx.Err() != nil {
			return nil, lastErr
		}

		delay := c.backoff(attempt + 1)
		c.logger.Debug("retrying fetch", "url", url, "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, lastErr
		case <-time.After(delay):
		}
	}
}

func (c *Client) fetchOnce(ctx context.Context, url string) ([]byte, *TransportError) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{URL: url, Err: fmt.Errorf("waiting for rate limiter: %w", err)}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{URL: url, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("fetch failed", "url", url, "status", resp.StatusCode)
		return nil, &TransportError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	body, err := safety.ReadAllWithLimit(resp.Body, c.maxBytes)
	if err != nil {
		if errors.Is(err, safety.ErrBodyTooLarge) {
			err = fmt.Errorf("response exceeded %d bytes: %w", c.maxBytes, err)
		} else {
			err = fmt.Errorf("reading response body: %w", err)
		}
		return nil, &TransportError{URL: url, Err: err}
	}

	c.logger.Debug("fetched", "url", url, "bytes", len(body), "duration", time.Since(start))
	return body, nil
}

// calculateBackoffDelay calculates exponential backoff with jitter.
// Base delay is 500ms, doubling each attempt, plus up to half again.
func calculateBackoffDelay(attempt int) time.Duration {
	exponentialDelay := time.Duration(1<<min(attempt-1, 6)) * 500 * time.Millisecond
	jitter := time.Duration(rand.Int64N(int64(exponentialDelay/2) + 1))
	return exponentialDelay + jitter
}

// retryable reports whether a failed request may succeed when repeated.
// Client errors other than 429 will not.
func retryable(err *TransportError) bool {
	switch {
	case err.StatusCode == 0:
		return !errors.Is(err.Err, safety.ErrBodyTooLarge)
	case err.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return err.StatusCode >= 500
	}
}
