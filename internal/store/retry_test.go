package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyExecutor reports busy for the first busyFor calls of each method.
type flakyExecutor struct {
	busyFor int
	failErr error
	calls   int
}

func (f *flakyExecutor) next() error {
	f.calls++
	if f.failErr != nil {
		return f.failErr
	}
	if f.busyFor < 0 || f.calls <= f.busyFor {
		return fmt.Errorf("flaky: %w: database is locked", ErrBusy)
	}
	return nil
}

func (f *flakyExecutor) Query(context.Context, string, ...any) ([]Row, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	return []Row{NewRow([]string{"n"}, []any{int64(1)})}, nil
}

func (f *flakyExecutor) Exec(context.Context, string, ...any) (int64, error) {
	if err := f.next(); err != nil {
		return 0, err
	}
	return 1, nil
}

func (f *flakyExecutor) InTx(ctx context.Context, fn func(context.Context, Querier) error) error {
	if err := f.next(); err != nil {
		return err
	}
	return fn(ctx, f)
}

func (f *flakyExecutor) Dialect() Dialect           { return Dialect{Name: "flaky"} }
func (f *flakyExecutor) Ping(context.Context) error { return nil }
func (f *flakyExecutor) Close() error               { return nil }

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, Step: time.Millisecond}
}

func TestWithRetryBusyTwiceThenSucceeds(t *testing.T) {
	inner := &flakyExecutor{busyFor: 2}
	exec := WithRetry(inner, fastPolicy(3))

	n, err := exec.Exec(context.Background(), "UPDATE t SET v = ?", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, 3, inner.calls)
}

func TestWithRetryAlwaysBusyStopsAtBudget(t *testing.T) {
	inner := &flakyExecutor{busyFor: -1}
	exec := WithRetry(inner, fastPolicy(3))

	err := exec.InTx(context.Background(), func(context.Context, Querier) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContention)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, inner.calls)
}

func TestWithRetryNonBusyIsNotRetried(t *testing.T) {
	boom := errors.New("syntax error")
	inner := &flakyExecutor{failErr: boom}
	exec := WithRetry(inner, fastPolicy(5))

	_, err := exec.Query(context.Background(), "SELEC 1")
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrContention)
	assert.Equal(t, 1, inner.calls)
}

func TestRetrySingleAttemptBudget(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "test", RetryPolicy{MaxAttempts: 0}, func() error {
		calls++
		return ErrBusy
	})
	assert.ErrorIs(t, err, ErrContention)
	assert.Equal(t, 1, calls)
}

func TestRetryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Retry(ctx, "test", RetryPolicy{MaxAttempts: 3, Step: time.Second}, func() error {
		calls++
		return ErrBusy
	})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}

func TestLinearBackOff(t *testing.T) {
	b := &linearBackOff{step: 100 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 200*time.Millisecond, b.NextBackOff())
	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.NextBackOff())
}
