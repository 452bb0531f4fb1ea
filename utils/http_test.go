package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// --- GetJSON ---

func TestGetJSON_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("expected auth header, got %q", got)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"tag_name":"v1.2.3"}`))
	}))
	defer srv.Close()

	var out struct {
		TagName string `json:"tag_name"`
	}
	err := GetJSON(context.Background(), srv.Client(), srv.URL, map[string]string{"Authorization": "Bearer tok"}, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.TagName != "v1.2.3" {
		t.Errorf("expected v1.2.3, got %q", out.TagName)
	}
}

func TestGetJSON_NonOK_ReturnsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("rate limit exceeded"))
	}))
	defer srv.Close()

	err := GetJSON(context.Background(), srv.Client(), srv.URL, nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var he *HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected HTTPError, got %T: %v", err, err)
	}
	if he.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", he.Code)
	}
}

func TestGetJSON_BadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	var out map[string]any
	if err := GetJSON(context.Background(), srv.Client(), srv.URL, nil, &out); err == nil {
		t.Fatal("expected decode error")
	}
}

// --- DoWithRetry ---

func TestDoWithRetry_SuccessAfterTransient(t *testing.T) {
	calls := 0
	result, err := DoWithRetry(context.Background(), func() (int, error) {
		calls++
		if calls < 2 {
			return 0, fmt.Errorf("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Errorf("expected 42, got %d", result)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestDoWithRetry_RateLimit_StopsImmediately(t *testing.T) {
	calls := 0
	_, err := DoWithRetry(context.Background(), func() (string, error) {
		calls++
		return "", &HTTPError{Code: http.StatusForbidden, Message: "rate limited"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call for non-retryable error, got %d", calls)
	}
	if !IsRateLimited(err) {
		t.Errorf("expected rate-limited error, got %v", err)
	}
}

func TestDoWithRetry_Exhausted(t *testing.T) {
	calls := 0
	_, err := DoWithRetry(context.Background(), func() (string, error) {
		calls++
		return "", fmt.Errorf("always fails")
	})
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if calls != MaxRetries+1 {
		t.Errorf("expected %d calls, got %d", MaxRetries+1, calls)
	}
}

func TestDoWithRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := DoWithRetry(ctx, func() (string, error) {
		return "", fmt.Errorf("transient")
	})
	if !errors.Is(err, context.Canceled) && err == nil {
		t.Errorf("expected cancellation or transient error, got nil")
	}
}

// --- IsRetryable ---

func TestIsRetryable(t *testing.T) {
	if IsRetryable(&HTTPError{Code: 403}) {
		t.Error("403 must not be retryable")
	}
	if IsRetryable(&HTTPError{Code: 429}) {
		t.Error("429 must not be retryable")
	}
	if !IsRetryable(&HTTPError{Code: 502}) {
		t.Error("502 must be retryable")
	}
	if !IsRetryable(fmt.Errorf("connection refused")) {
		t.Error("connection errors must be retryable")
	}
	wrapped := fmt.Errorf("outer: %w", &HTTPError{Code: 404})
	if IsRetryable(wrapped) {
		t.Error("wrapped 404 must not be retryable")
	}
}
