package httputil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// RetryClient retries requests on 429, 5xx and network errors with
// jittered exponential backoff. Requests with a body must set GetBody.
type RetryClient struct {
	client *http.Client
	config RetryConfig
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	}
}

func NewRetryClient(client *http.Client, config RetryConfig) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}

	def := DefaultRetryConfig()
	if config.MaxRetries == 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.InitialDelay == 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.MaxDelay == 0 {
		config.MaxDelay = def.MaxDelay
	}

	return &RetryClient{client: client, config: config}
}

func (c *RetryClient) backoff() retry.Backoff {
	b := retry.NewExponential(c.config.InitialDelay)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithCappedDuration(c.config.MaxDelay, b)
	return retry.WithMaxRetries(uint64(c.config.MaxRetries), b)
}

// Do sends req until it succeeds, fails permanently or runs out of retries.
// When retries run out on a retryable status, the last response is returned
// without an error so callers can read its body.
func (c *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	attempt := 0

	err := retry.Do(req.Context(), c.backoff(), func(ctx context.Context) error {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return err
			}
			req.Body = body
		}
		attempt++

		r, err := c.client.Do(req)
		if !shouldRetry(r, err) {
			resp = r
			return err
		}
		if err != nil {
			return retry.RetryableError(err)
		}
		if attempt > c.config.MaxRetries {
			resp = r
			return nil
		}
		_ = r.Body.Close()
		return retry.RetryableError(fmt.Errorf("retryable status %d", r.StatusCode))
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return true
		}
		var dnsErr *net.DNSError
		return errors.As(err, &dnsErr)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.StatusCode >= 500 && resp.StatusCode < 600
}
