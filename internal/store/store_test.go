package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dvloznov/sheet-ledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// instantTimer fires at once and records every requested delay.
type instantTimer struct {
	delays []time.Duration
	c      chan time.Time
}

func (t *instantTimer) Start(d time.Duration) {
	t.delays = append(t.delays, d)
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time { return t.c }

func noSleep(r *Retrying) *Retrying {
	r.timer = &instantTimer{}
	return r
}

func TestMemory_AppendListUpdateDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Seed("Transactions", Row{"Date", "Account"})

	ref, err := m.Append(ctx, "Transactions", Row{"2025-01-01", "Cash"})
	require.NoError(t, err)
	assert.Equal(t, domain.RowRef{Sheet: "Transactions", Index: 2}, ref)

	_, err = m.Append(ctx, "Transactions", Row{"2025-01-02", "BCA"})
	require.NoError(t, err)

	require.NoError(t, m.UpdateByIndex(ctx, "Transactions", 2, Row{"2025-01-01", "Wallet"}))
	require.NoError(t, m.DeleteByIndex(ctx, "Transactions", 2))

	rows, err := m.ListAll(ctx, "Transactions")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "BCA", rows[1][1])

	err = m.DeleteByIndex(ctx, "Transactions", 9)
	assert.True(t, errors.Is(err, domain.ErrEntryNotFound))
	assert.Equal(t, 2, m.Calls(OpAppend))
}

func TestMemory_Fault(t *testing.T) {
	m := NewMemory()
	m.SetFault(func(op Op, sheet string, call int) error {
		if op == OpAppend && call == 2 {
			return domain.ErrStoreUnavailable
		}
		return nil
	})

	_, err := m.Append(context.Background(), "S", Row{"a"})
	require.NoError(t, err)
	_, err = m.Append(context.Background(), "S", Row{"b"})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Len(t, m.Rows("S"), 1)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, RateLimited, Classify(fmt.Errorf("sheets: %w", domain.ErrRateLimited)))
	assert.Equal(t, Fatal, Classify(domain.ErrStoreUnavailable))
	assert.Equal(t, Fatal, Classify(errors.New("boom")))
}

func TestRetrying_BacksOffOnRateLimit(t *testing.T) {
	m := NewMemory()
	m.SetFault(func(op Op, sheet string, call int) error {
		if call <= 2 {
			return domain.ErrRateLimited
		}
		return nil
	})

	timer := &instantTimer{}
	r := NewRetrying(m, RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, MaxAttempts: 4})
	r.timer = timer

	ref, err := r.Append(context.Background(), "S", Row{"x"})
	require.NoError(t, err)
	assert.Equal(t, 1, ref.Index)
	assert.Equal(t, 3, m.Calls(OpAppend))
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, timer.delays)
}

func TestRetrying_GivesUp(t *testing.T) {
	m := NewMemory()
	m.SetFault(func(op Op, sheet string, call int) error { return domain.ErrRateLimited })

	r := noSleep(NewRetrying(m, RetryConfig{MaxAttempts: 3}))
	_, err := r.ListAll(context.Background(), "S")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, 3, m.Calls(OpList))
}

func TestRetrying_FatalIsNotRetried(t *testing.T) {
	m := NewMemory()
	m.SetFault(func(op Op, sheet string, call int) error { return domain.ErrStoreUnavailable })

	r := noSleep(NewRetrying(m, RetryConfig{}))
	err := r.DeleteByIndex(context.Background(), "S", 2)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, 1, m.Calls(OpDelete))
}

// slowStore blocks every call until its context ends.
type slowStore struct {
	*Memory
	appends int
}

func (s *slowStore) Append(ctx context.Context, sheet string, row Row) (domain.RowRef, error) {
	s.appends++
	<-ctx.Done()
	return domain.RowRef{}, ctx.Err()
}

func TestRetrying_WriteTimeoutIsUnknown(t *testing.T) {
	s := &slowStore{Memory: NewMemory()}
	r := noSleep(NewRetrying(s, RetryConfig{Timeout: 10 * time.Millisecond}))

	_, err := r.Append(context.Background(), "S", Row{"x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOutcomeUnknown)
	assert.Equal(t, 1, s.appends, "a timed out write must not be retried")
}

func TestRetrying_WriteCutOffByCallerIsUnknown(t *testing.T) {
	tests := []struct {
		name string
		ctx  func() (context.Context, context.CancelFunc)
		want error
	}{
		{
			name: "cancelled",
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				time.AfterFunc(10*time.Millisecond, cancel)
				return ctx, cancel
			},
			want: context.Canceled,
		},
		{
			name: "caller deadline",
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 10*time.Millisecond)
			},
			want: context.DeadlineExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &slowStore{Memory: NewMemory()}
			r := noSleep(NewRetrying(s, RetryConfig{Timeout: 5 * time.Second}))

			ctx, cancel := tt.ctx()
			defer cancel()

			_, err := r.Append(ctx, "S", Row{"x"})
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrOutcomeUnknown)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 1, s.appends)
		})
	}
}

func TestRetrying_CancelledReadIsPlainError(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := noSleep(NewRetrying(m, RetryConfig{})).ListAll(ctx, "S")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrOutcomeUnknown)
}

func TestRetrying_BackOffSchedule(t *testing.T) {
	r := NewRetrying(NewMemory(), RetryConfig{BaseDelay: time.Second, MaxDelay: 5 * time.Second, MaxAttempts: 5})
	b := r.newBackOff(context.Background())
	b.Reset()

	var got []time.Duration
	for d := b.NextBackOff(); d != backoff.Stop; d = b.NextBackOff() {
		got = append(got, d)
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}, got)
}
