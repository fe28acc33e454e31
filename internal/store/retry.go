package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dvloznov/sheet-ledger/internal/domain"
	"github.com/dvloznov/sheet-ledger/internal/logger"
)

// RetryConfig bounds store calls.
type RetryConfig struct {
	// Timeout bounds each attempt.
	Timeout time.Duration
	// MaxAttempts includes the first attempt.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig returns the settings used when none are configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Timeout:     15 * time.Second,
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
	}
}

// Retrying wraps a Store with per-call timeouts and exponential backoff on
// rate limiting. A write whose attempt ends with a context error (its own
// timeout, the caller's deadline or cancellation) returns
// domain.ErrOutcomeUnknown and is not retried, since the row may already
// have been written.
type Retrying struct {
	next Store
	cfg  RetryConfig
	// timer is nil outside tests.
	timer backoff.Timer
}

// NewRetrying wraps next. Zero fields of cfg take their defaults.
func NewRetrying(next Store, cfg RetryConfig) *Retrying {
	def := DefaultRetryConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	return &Retrying{next: next, cfg: cfg}
}

// newBackOff doubles from BaseDelay up to MaxDelay, without jitter, and
// stops after MaxAttempts-1 retries or when ctx ends.
func (r *Retrying) newBackOff(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(r.cfg.BaseDelay),
		backoff.WithMultiplier(2),
		backoff.WithMaxInterval(r.cfg.MaxDelay),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.cfg.MaxAttempts-1)), ctx)
}

func (r *Retrying) do(ctx context.Context, op, sheet string, write bool, call func(ctx context.Context) error) error {
	log := logger.FromContext(ctx)

	attempt := 0
	permanent := false
	stop := func(err error) error {
		permanent = true
		return backoff.Permanent(err)
	}

	operation := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		err := call(callCtx)
		callErr := callCtx.Err()
		cancel()

		switch {
		case err == nil:
			return nil
		case write && callErr != nil:
			if ctx.Err() == nil {
				return stop(fmt.Errorf("%s %s: timed out after %s: %w", op, sheet, r.cfg.Timeout, domain.ErrOutcomeUnknown))
			}
			return stop(fmt.Errorf("%s %s: %w before the write was confirmed: %w", op, sheet, ctx.Err(), domain.ErrOutcomeUnknown))
		case ctx.Err() != nil:
			return stop(fmt.Errorf("%s %s: %w", op, sheet, ctx.Err()))
		case callErr != nil:
			// A read that timed out is retried like a throttled one.
			return err
		case Classify(err) != RateLimited:
			return stop(fmt.Errorf("%s %s: %w", op, sheet, err))
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		log.Warn().
			Err(err).
			Str("op", op).
			Str("sheet", sheet).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Store call throttled, retrying")
	}

	err := backoff.RetryNotifyWithTimer(operation, r.newBackOff(ctx), notify, r.timer)
	switch {
	case err == nil:
		return nil
	case permanent:
		return err
	case ctx.Err() != nil:
		return fmt.Errorf("%s %s: %w", op, sheet, ctx.Err())
	}
	if Classify(err) != RateLimited && !errors.Is(err, domain.ErrStoreUnavailable) {
		err = fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s %s: giving up after %d attempts: %w", op, sheet, attempt, err)
}

// Append implements Store.
func (r *Retrying) Append(ctx context.Context, sheet string, row Row) (domain.RowRef, error) {
	var ref domain.RowRef
	err := r.do(ctx, "Append", sheet, true, func(ctx context.Context) error {
		var err error
		ref, err = r.next.Append(ctx, sheet, row)
		return err
	})
	return ref, err
}

// ListAll implements Store.
func (r *Retrying) ListAll(ctx context.Context, sheet string) ([]Row, error) {
	var rows []Row
	err := r.do(ctx, "ListAll", sheet, false, func(ctx context.Context) error {
		var err error
		rows, err = r.next.ListAll(ctx, sheet)
		return err
	})
	return rows, err
}

// UpdateByIndex implements Store.
func (r *Retrying) UpdateByIndex(ctx context.Context, sheet string, index int, row Row) error {
	return r.do(ctx, "UpdateByIndex", sheet, true, func(ctx context.Context) error {
		return r.next.UpdateByIndex(ctx, sheet, index, row)
	})
}

// DeleteByIndex implements Store.
func (r *Retrying) DeleteByIndex(ctx context.Context, sheet string, index int) error {
	return r.do(ctx, "DeleteByIndex", sheet, true, func(ctx context.Context) error {
		return r.next.DeleteByIndex(ctx, sheet, index)
	})
}

var _ Store = (*Retrying)(nil)
