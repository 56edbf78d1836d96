package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"example.com/fieldtrack/internal/metrics"
)

// RetryPolicy bounds the busy retry loop. MaxAttempts counts every try,
// including the first.
type RetryPolicy struct {
	MaxAttempts int
	Step        time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Step: 100 * time.Millisecond}
}

// linearBackOff waits attempt*step between tries.
type linearBackOff struct {
	step    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.step
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

// Retry runs op until it succeeds, fails with a non-busy error, or the
// policy runs out. Exhaustion yields an error matching both ErrContention
// and the last busy error.
func Retry(ctx context.Context, storeName string, p RetryPolicy, op func() error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	attempts := 0
	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{step: p.Step}, uint64(p.MaxAttempts-1)),
		ctx,
	)
	err := backoff.RetryNotify(func() error {
		attempts++
		err := op()
		if err == nil || errors.Is(err, ErrBusy) {
			return err
		}
		return backoff.Permanent(err)
	}, b, func(error, time.Duration) {
		metrics.BusyRetry(storeName)
	})
	if err != nil && errors.Is(err, ErrBusy) {
		metrics.ContentionFailure(storeName)
		return fmt.Errorf("%w after %d attempts: %w", ErrContention, attempts, err)
	}
	return err
}

type retrying struct {
	Executor
	policy RetryPolicy
}

// WithRetry decorates exec so Query, Exec and InTx are retried on ErrBusy.
// Statements issued inside an InTx callback are not retried individually;
// the whole transaction is.
func WithRetry(exec Executor, p RetryPolicy) Executor {
	return &retrying{Executor: exec, policy: p}
}

func (r *retrying) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	var rows []Row
	err := Retry(ctx, r.Dialect().Name, r.policy, func() error {
		var err error
		rows, err = r.Executor.Query(ctx, query, args...)
		return err
	})
	return rows, err
}

func (r *retrying) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	err := Retry(ctx, r.Dialect().Name, r.policy, func() error {
		var err error
		n, err = r.Executor.Exec(ctx, query, args...)
		return err
	})
	return n, err
}

func (r *retrying) InTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	return Retry(ctx, r.Dialect().Name, r.policy, func() error {
		return r.Executor.InTx(ctx, fn)
	})
}
