package infra

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"realty_go/internal/domain"
)

func TestRetryPolicy_BackOff(t *testing.T) {
	b := DefaultRetryPolicy.backOff()
	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 60 * time.Second, 60 * time.Second,
	}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Errorf("interval %d = %v, want %v", i, got, w)
		}
	}
}

func TestRetryPolicy_Do(t *testing.T) {
	p := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	t.Run("retries retriable errors", func(t *testing.T) {
		calls := 0
		err := p.Do(context.Background(), "test", func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return domain.NewNetworkError("get", errors.New("timeout"))
			}
			return nil
		})
		if err != nil || calls != 3 {
			t.Errorf("expected success after 3 calls, got %v after %d", err, calls)
		}
	})

	t.Run("stops on fatal errors", func(t *testing.T) {
		calls := 0
		err := p.Do(context.Background(), "test", func(ctx context.Context) error {
			calls++
			return domain.NewFatalNetworkError("get", errors.New("bad request"))
		})
		var ne *domain.NetworkError
		if !errors.As(err, &ne) || calls != 1 {
			t.Errorf("expected one call and the network error, got %v after %d", err, calls)
		}
	})

	t.Run("gives up after the last attempt", func(t *testing.T) {
		calls := 0
		err := p.Do(context.Background(), "test", func(ctx context.Context) error {
			calls++
			return domain.NewNetworkError("get", errors.New("timeout"))
		})
		if err == nil || calls != 3 {
			t.Errorf("expected 3 calls and an error, got %v after %d", err, calls)
		}
	})

	t.Run("stops when the context ends", func(t *testing.T) {
		slow := RetryPolicy{Attempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		calls := 0
		err := slow.Do(ctx, "test", func(ctx context.Context) error {
			calls++
			return domain.NewNetworkError("get", errors.New("timeout"))
		})
		if !errors.Is(err, context.DeadlineExceeded) || calls != 1 {
			t.Errorf("expected deadline after 1 call, got %v after %d", err, calls)
		}
	})
}

func TestStatusError(t *testing.T) {
	if !domain.IsRetriable(StatusError("get", http.StatusServiceUnavailable)) {
		t.Error("503 should be retriable")
	}
	if !domain.IsRetriable(StatusError("get", http.StatusTooManyRequests)) {
		t.Error("429 should be retriable")
	}
	if domain.IsRetriable(StatusError("get", http.StatusNotFound)) {
		t.Error("404 should not be retriable")
	}
}
