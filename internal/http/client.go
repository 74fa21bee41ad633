package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ligustah/docharvest/internal/retry"
)

// Common errors.
var (
	ErrNotFound     = errors.New("http: resource not found")
	ErrForbidden    = errors.New("http: access forbidden")
	ErrUnauthorized = errors.New("http: unauthorized")
	ErrServerError  = errors.New("http: server error")
	ErrUnreachable  = errors.New("http: portal unreachable")
)

// maxPageBody bounds how much of a checked page is read.
const maxPageBody = 1 << 20

// Options configures the HTTP client.
type Options struct {
	// Timeout for individual requests.
	// Default: 10s
	Timeout time.Duration

	// RetryAttempts is the maximum number of retry attempts.
	// Default: 3
	RetryAttempts int

	// RetryBackoff is the initial backoff duration.
	// Default: 1s
	RetryBackoff time.Duration

	// RetryMaxBackoff is the maximum backoff duration.
	// Default: 30s
	RetryMaxBackoff time.Duration

	// UserAgent is sent with every request. Empty keeps Go's default.
	UserAgent string
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:         10 * time.Second,
		RetryAttempts:   3,
		RetryBackoff:    time.Second,
		RetryMaxBackoff: 30 * time.Second,
	}
}

// PageInfo describes a checked page.
type PageInfo struct {
	StatusCode  int
	ContentType string
	FinalURL    string // after redirects
	Latency     time.Duration
	Attempts    int
}

// Client checks that the portal answers before browsers are started.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		opts: opts,
	}
}

func (c *Client) policy() retry.Policy {
	return retry.Policy{
		Attempts:   c.opts.RetryAttempts + 1,
		Backoff:    c.opts.RetryBackoff,
		MaxBackoff: c.opts.RetryMaxBackoff,
	}
}

// Check GETs url, retrying connection failures and server errors with
// backoff. Client errors are returned at once.
func (c *Client) Check(ctx context.Context, url string) (*PageInfo, error) {
	var info *PageInfo
	attempts := 0

	err := c.policy().Do(ctx, retryable, func(ctx context.Context) error {
		attempts++
		start := time.Now()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if c.opts.UserAgent != "" {
			req.Header.Set("User-Agent", c.opts.UserAgent)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPageBody))

		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: %d %s", ErrServerError, resp.StatusCode, resp.Status)
		}
		if err := checkStatusCode(resp.StatusCode); err != nil {
			return err
		}

		info = &PageInfo{
			StatusCode:  resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			FinalURL:    resp.Request.URL.String(),
			Latency:     time.Since(start),
		}
		return nil
	})
	if err != nil {
		if attempts > 1 {
			return nil, fmt.Errorf("check failed after %d attempts: %w", attempts, err)
		}
		return nil, err
	}

	info.Attempts = attempts
	return info, nil
}

func retryable(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, ErrServerError)
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	default:
		return fmt.Errorf("unexpected status code: %d", code)
	}
}
