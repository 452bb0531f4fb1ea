package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	HTTPTimeout = 30 * time.Second
	MaxRetries  = 2
	BaseBackoff = 200 * time.Millisecond
)

// HTTPError carries the status code from a failed HTTP request.
type HTTPError struct {
	Code    int
	Message string
}

func (e *HTTPError) Error() string { return e.Message }

// GetJSON performs a GET with the given headers and decodes the JSON
// response into out. Non-200 responses return an *HTTPError with the
// body tail as message.
func GetJSON(ctx context.Context, hc *http.Client, url string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request GET %s: %w", url, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return &HTTPError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("GET %s returned %d: %.200s", url, resp.StatusCode, body),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// DoWithRetry retries fn with exponential backoff for transient errors.
// Rate-limit responses (403, 429) are terminal: retrying an exhausted
// anonymous API quota within the backoff window cannot succeed.
func DoWithRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := 0; i <= MaxRetries; i++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return zero, err
		}
		if i < MaxRetries {
			backoff := BaseBackoff * time.Duration(1<<i)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return zero, lastErr
}

// IsRetryable returns true for transient errors: connection failures and
// 5xx. Client errors including 403/429 rate limits are not retryable.
func IsRetryable(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Code >= 500
	}
	// Non-HTTPError = connection-level failure, always retry.
	return true
}

// IsRateLimited reports whether err is an HTTP 403 or 429 response, the
// two codes the release API uses for exhausted anonymous quotas.
func IsRateLimited(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Code == http.StatusForbidden || he.Code == http.StatusTooManyRequests
	}
	return false
}
