package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/logger"
)

// caller runs backend calls with a per-call timeout, a bounded retry
// budget with exponential backoff and an optional rate limit.
type caller struct {
	attempts int
	backoff  time.Duration
	timeout  time.Duration
	limiter  *rate.Limiter
}

func newCaller(s domain.RetrySettings) *caller {
	c := &caller{
		attempts: s.Attempts,
		backoff:  s.Backoff,
		timeout:  s.CallTimeout,
	}
	if c.attempts < 1 {
		c.attempts = 1
	}
	if s.RatePerSecond > 0 {
		burst := int(s.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(s.RatePerSecond), burst)
	}
	return c
}

// do calls fn until it succeeds, fails permanently or the budget is spent.
// A closed stop channel prevents further attempts but never interrupts
// an attempt already in flight.
func (c *caller) do(ctx context.Context, stop <-chan struct{}, op string, fn func(ctx context.Context) error) error {
	delay := c.backoff
	var err error

	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			logger.Debug("Retrying %s (attempt %d/%d) in %s", op, attempt, c.attempts, delay)
			select {
			case <-time.After(delay):
			case <-stop:
				return fmt.Errorf("%s: %w: %w", op, domain.ErrCancelled, err)
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", op, ctx.Err())
			}
			delay *= 2
		}

		if c.limiter != nil {
			if werr := c.limiter.Wait(ctx); werr != nil {
				return fmt.Errorf("%s: rate limit: %w", op, werr)
			}
		}

		if err = c.once(ctx, fn); err == nil {
			return nil
		}
		if !domain.IsRetryable(err) {
			return err
		}
		logger.Warn("%s attempt %d/%d failed: %v", op, attempt, c.attempts, err)
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, c.attempts, err)
}

// once runs a single attempt. The attempt is detached from ctx
// cancellation and bounded only by the per-call timeout.
func (c *caller) once(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx := context.WithoutCancel(ctx)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, c.timeout)
		defer cancel()
	}

	err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrTimeout) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	return err
}

// asProviderError wraps untyped backend failures so the retry policy
// treats them as transient provider errors.
func asProviderError(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *domain.ProviderError
	var ic *domain.IndexConsistencyError
	if errors.As(err, &pe) || errors.As(err, &ic) || errors.Is(err, domain.ErrTimeout) {
		return err
	}
	return &domain.ProviderError{Provider: provider, Op: op, Err: err}
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
