// Package httpx provides the retrying HTTP client every network call of a
// turn flows through. It owns retry/backoff policy and the classification
// of transport failures into the errdefs taxonomy.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"sidekick/internal/errdefs"
	"sidekick/internal/log"
)

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	MaxAttempts  int           // Total attempts, including the first
	BaseInterval time.Duration // Initial backoff interval
	MaxInterval  time.Duration // Backoff cap
}

// DefaultRetryConfig returns the defaults used against provider APIs.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BaseInterval: 500 * time.Millisecond,
		MaxInterval:  10 * time.Second,
	}
}

// retryableStatuses are the HTTP statuses worth another attempt.
var retryableStatuses = map[int]bool{
	http.StatusTooManyRequests:     true, // 429
	http.StatusInternalServerError: true, // 500
	http.StatusBadGateway:          true, // 502
	http.StatusServiceUnavailable:  true, // 503
	http.StatusGatewayTimeout:      true, // 504
}

// Client wraps an *http.Client with retry, backoff, and proactive rate
// limiting. The zero value is not useful; use New.
//
// The underlying client carries no overall timeout because responses may be
// long-lived streams; callers bound individual operations through the
// request context.
type Client struct {
	hc      *http.Client
	limiter *rate.Limiter
	retry   RetryConfig
	logger  log.Logger
}

// Options configures a Client. Zero-value fields fall back to defaults.
type Options struct {
	HTTPClient *http.Client
	Limiter    *rate.Limiter // nil = 10 req/s sustained, burst 30
	Retry      RetryConfig
	Logger     log.Logger
}

// New creates a retrying client.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				ResponseHeaderTimeout: 30 * time.Second,
				MaxIdleConnsPerHost:   4,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("stopped after 5 redirects")
				}
				return nil
			},
		}
	}

	retry := opts.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	return &Client{hc: hc, limiter: limiter, retry: retry, logger: logger}
}

// Do issues req, retrying on 429/5xx responses and connection-level
// failures up to MaxAttempts with exponential backoff. Cancellation of the
// request context resolves immediately, including mid-backoff, and is
// reported as errdefs.ErrAborted — never as exhaustion.
//
// A non-nil response is always a 2xx; its body is the caller's to close.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var lastErr error
	delay := c.retry.BaseInterval
	start := time.Now()

	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", errdefs.ErrAborted, err)
		}

		attemptReq, err := c.cloneForAttempt(req, attempt)
		if err != nil {
			return nil, err
		}

		resp, err := c.hc.Do(attemptReq)
		if err != nil {
			if aborted(ctx, err) {
				return nil, fmt.Errorf("%w: %v", errdefs.ErrAborted, err)
			}
			// Connection refused, timeout, DNS failure: retryable.
			lastErr = fmt.Errorf("%w: %v", errdefs.ErrTransient, err)
		} else if resp.StatusCode < 300 {
			c.logger.Debug("request succeeded",
				"url", req.URL.String(),
				"attempts", attempt+1,
				"elapsed", time.Since(start),
			)
			return resp, nil
		} else {
			drain(resp)
			kind, terminal := classifyStatus(resp.StatusCode)
			if terminal {
				return nil, errdefs.WithStatus(kind, resp.StatusCode)
			}
			lastErr = errdefs.WithStatus(kind, resp.StatusCode)
		}

		if attempt == c.retry.MaxAttempts-1 {
			break
		}

		c.logger.Debug("retrying request",
			"url", req.URL.String(),
			"attempt", attempt+1,
			"delay", delay,
			"error", lastErr,
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", errdefs.ErrAborted, ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, c.retry.MaxInterval)
		}
	}

	return nil, fmt.Errorf("after %d attempts (elapsed %v): %w",
		c.retry.MaxAttempts, time.Since(start).Round(time.Millisecond), lastErr)
}

// cloneForAttempt rewinds the request body for retries. Requests built with
// a bytes.Reader carry GetBody automatically.
func (c *Client) cloneForAttempt(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 0 || req.Body == nil {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("%w: request body is not replayable", errdefs.ErrTransient)
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("%w: rewinding request body: %v", errdefs.ErrTransient, err)
	}
	clone := req.Clone(req.Context())
	clone.Body = body
	return clone, nil
}

// classifyStatus maps a non-2xx status to its taxonomy sentinel and reports
// whether it is terminal on first occurrence.
func classifyStatus(status int) (kind error, terminal bool) {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errdefs.ErrAuth, true
	case status == http.StatusTooManyRequests:
		return errdefs.ErrRateLimited, false
	case retryableStatuses[status]:
		return errdefs.ErrUnavailable, false
	case status >= 400 && status < 500:
		return errdefs.ErrBadRequest, true
	case status >= 500:
		return errdefs.ErrUnavailable, true
	default:
		return errdefs.ErrBadRequest, true
	}
}

func aborted(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

// drain discards a response body so the connection can be reused before the
// next attempt.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
