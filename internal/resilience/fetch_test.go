package resilience

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestFetchWithRetry_SuccessFirstAttempt(t *testing.T) {
	var calls int
	val, attempts, err := FetchWithRetry(context.Background(), func(_ context.Context) (int, error) {
		calls++
		return 42, nil
	}, 2, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 42 {
		t.Errorf("expected 42, got %d", val)
	}
	if attempts != 1 || calls != 1 {
		t.Errorf("expected 1 attempt/call, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestFetchWithRetry_SuccessAfterFailures(t *testing.T) {
	var calls int
	val, attempts, err := FetchWithRetry(context.Background(), func(_ context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("source down")
		}
		return "ok", nil
	}, 2, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "ok" {
		t.Errorf("expected ok, got %q", val)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestFetchWithRetry_ExhaustsRetries(t *testing.T) {
	var calls int
	_, attempts, err := FetchWithRetry(context.Background(), func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	}, 2, time.Millisecond)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 || attempts != 3 {
		t.Errorf("expected 3 calls/attempts, got calls=%d attempts=%d", calls, attempts)
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("expected attempt annotation in error, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected original error preserved, got %q", err.Error())
	}
}

func TestFetchWithRetry_ZeroRetriesSingleAttempt(t *testing.T) {
	var calls int
	start := time.Now()
	_, attempts, err := FetchWithRetry(context.Background(), func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	}, 0, time.Second)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 || attempts != 1 {
		t.Errorf("expected single attempt, got calls=%d attempts=%d", calls, attempts)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("expected no backoff sleep, took %v", elapsed)
	}
}

func TestFetchWithRetry_ContextCancelAbortsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, attempts, err := FetchWithRetry(ctx, func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	}, 5, 10*time.Second)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 || attempts != 1 {
		t.Errorf("expected cancellation after first attempt, got calls=%d attempts=%d", calls, attempts)
	}
}

func TestIsRateLimited(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("plain failure"), false},
		{NewTransientError(errors.New("throttled"), 429), true},
		{NewTransientError(errors.New("server error"), 503), false},
		{errors.New("HTTP 429 from upstream"), true},
		{errors.New("rate limit exceeded"), true},
	}
	for _, tc := range cases {
		if got := IsRateLimited(tc.err); got != tc.want {
			t.Errorf("IsRateLimited(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
