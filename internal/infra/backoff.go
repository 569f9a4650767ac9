package infra

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"realty_go/internal/domain"

	"github.com/cenkalti/backoff/v4"
)

const (
	// Standard backoff constants
	baseDelay = 1 * time.Second
	maxDelay  = 60 * time.Second
)

// RetryPolicy bounds how often and how slowly a retriable operation is repeated.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy is used by the outbound HTTP clients: 3 attempts, 1s, 2s.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseDelay: baseDelay, MaxDelay: maxDelay}

// backOff doubles from BaseDelay up to MaxDelay without jitter.
func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do runs fn until it succeeds, returns a non-retriable error, or attempts run out.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		if err != nil && !domain.IsRetriable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		slog.Warn("Request attempt failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("error", err))
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.backOff(), uint64(attempts-1)), ctx)
	return backoff.RetryNotify(operation, b, notify)
}

// StatusError classifies a non-2xx HTTP status: 429 and 5xx are retriable.
func StatusError(op string, status int) error {
	err := fmt.Errorf("unexpected status code: %d", status)
	if status == http.StatusTooManyRequests || status >= 500 {
		return domain.NewNetworkError(op, err)
	}
	return domain.NewFatalNetworkError(op, err)
}
