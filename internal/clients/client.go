// Package clients holds the outbound HTTP adapters for the catalog, payments
// and notifications services, sharing one retrying client.
package clients

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"order-service/internal/metrics"
)

// baseDelay is the first rung of the backoff ladder.
const baseDelay = time.Second

// connectTimeout bounds the TCP dial; the overall request is bounded by the
// client's read timeout.
const connectTimeout = 5 * time.Second

// retryableStatus lists the responses worth retrying. 4xx client errors are
// not retryable: resending the same request cannot fix them.
var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusInternalServerError: true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Client retries failed requests with full-jitter exponential backoff: each
// delay is sampled uniformly from [0, min(maxDelay, base·2^attempt)).
// Transport errors and retryable statuses are retried up to maxRetry times
// (maxRetry+1 tries in total); the final response, or the last transport
// error, is surfaced to the caller.
type Client struct {
	httpClient *http.Client
	maxRetry   int
	maxDelay   time.Duration
}

// New builds a retrying client. readTimeout bounds each individual try.
func New(readTimeout time.Duration, maxRetry int, maxDelay time.Duration) *Client {
	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
		TLSHandshakeTimeout: connectTimeout,
		MaxIdleConnsPerHost: 10,
	}
	return &Client{
		httpClient: &http.Client{Timeout: readTimeout, Transport: transport},
		maxRetry:   maxRetry,
		maxDelay:   maxDelay,
	}
}

// Do sends one request, retrying as configured. The caller owns the response
// body. Non-retryable statuses return immediately; a retryable status on the
// last attempt is returned as-is so the caller can inspect it.
func (c *Client) Do(ctx context.Context, method, url string, headers map[string]string, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetry; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("clients: build request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < c.maxRetry {
				metrics.HTTPRetries.Inc()
				if err := c.sleep(ctx, attempt); err != nil {
					return nil, err
				}
				continue
			}
			break
		}

		if retryableStatus[resp.StatusCode] && attempt < c.maxRetry {
			resp.Body.Close()
			metrics.HTTPRetries.Inc()
			if err := c.sleep(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("clients: request failed after %d attempts: %w", c.maxRetry+1, lastErr)
}

// backoff samples the full-jitter delay for the given attempt.
func (c *Client) backoff(attempt int) time.Duration {
	cap := c.maxDelay
	if attempt < 30 && baseDelay<<attempt < cap {
		cap = baseDelay << attempt
	}
	if cap <= 0 {
		return 0
	}
	return rand.N(cap)
}

// sleep waits out the backoff delay, aborting early on context cancellation.
func (c *Client) sleep(ctx context.Context, attempt int) error {
	t := time.NewTimer(c.backoff(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
