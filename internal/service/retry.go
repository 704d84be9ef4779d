package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/rti-portal/internal/domain"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 200 * time.Millisecond
)

// RetryPolicy is a bounded, fixed-delay retry loop. Only errors classified
// as domain.ErrPersistence are retried.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.Delay < 0 {
		p.Delay = defaultRetryDelay
	}
	if p.Sleep == nil {
		p.Sleep = sleepWithContext
	}
	return p
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. onAttempt, when set, observes every outcome.
func (p RetryPolicy) Do(
	ctx context.Context,
	op func(ctx context.Context) error,
	onAttempt func(attempt int, err error),
) error {
	p = p.normalized()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := op(ctx)
		if onAttempt != nil {
			onAttempt(attempt, err)
		}
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrPersistence) {
			return err
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			break
		}
		if sleepErr := p.Sleep(ctx, p.Delay); sleepErr != nil {
			return fmt.Errorf("%w: retry interrupted after %d attempts: %v", domain.ErrPersistence, attempt, sleepErr)
		}
	}

	return fmt.Errorf("giving up after %d attempts: %w", p.MaxAttempts, lastErr)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
