package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds every outbound call: each attempt gets its own timeout and transient
// failures back off exponentially until MaxRetries is reached.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Timeout         time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Timeout:         10 * time.Second,
	}
}

// Do runs fn until it succeeds, fails permanently, or exhausts the policy. Exhaustion wraps
// ErrRetriesExhausted: the call may have succeeded on the processor side.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := fn(attemptCtx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx), func(err error, wait time.Duration) {
		slog.Default().WarnContext(ctx, "processor call retrying",
			"module", "processor",
			"operation", op,
			"attempt", attempt,
			"wait", wait.String(),
			"error", err,
		)
	})
	if err != nil && IsTransient(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrRetriesExhausted, err)
	}
	return err
}
