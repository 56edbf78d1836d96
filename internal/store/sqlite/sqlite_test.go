package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/fieldtrack/internal/store"
	"example.com/fieldtrack/internal/store/storetest"
)

func openTemp(t *testing.T, path string) *Executor {
	t.Helper()
	exec, err := Open(path, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = exec.Close() })
	return exec
}

func TestCompliance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Executor {
		return openTemp(t, filepath.Join(t.TempDir(), "fieldtrack.db"))
	})
}

func TestDialect(t *testing.T) {
	exec := openTemp(t, filepath.Join(t.TempDir(), "d.db"))
	assert.Equal(t, store.Dialect{Name: "sqlite", Paging: store.LimitOffset}, exec.Dialect())
}

// holdWriteLock keeps a write transaction open on exec until release is
// closed.
func holdWriteLock(t *testing.T, exec *Executor) (release func()) {
	t.Helper()
	locked := make(chan struct{})
	done := make(chan struct{})
	finished := make(chan error, 1)
	go func() {
		finished <- exec.InTx(context.Background(), func(ctx context.Context, q store.Querier) error {
			if _, err := q.Exec(ctx, `UPDATE commissions SET percent = percent`); err != nil {
				return err
			}
			close(locked)
			<-done
			return nil
		})
	}()
	select {
	case <-locked:
	case err := <-finished:
		t.Fatalf("lock holder failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("lock holder did not start")
	}
	return func() {
		close(done)
		assert.NoError(t, <-finished)
	}
}

func TestBusyIsClassified(t *testing.T) {
	path := filepath.Join(t.TempDir(), "busy.db")
	holder := openTemp(t, path)
	require.NoError(t, store.Migrate(context.Background(), holder))
	contender := openTemp(t, path)

	release := holdWriteLock(t, holder)
	defer release()

	_, err := contender.Exec(context.Background(),
		`INSERT INTO commissions (agent_code, percent, updated_at) VALUES (?, ?, ?)`, "T1", 2.5, "now")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrBusy)
}

func TestRetryExhaustsOnHeldLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contended.db")
	holder := openTemp(t, path)
	require.NoError(t, store.Migrate(context.Background(), holder))
	contender := store.WithRetry(openTemp(t, path), store.RetryPolicy{MaxAttempts: 3, Step: time.Millisecond})

	release := holdWriteLock(t, holder)
	defer release()

	attempts := 0
	err := contender.InTx(context.Background(), func(ctx context.Context, q store.Querier) error {
		attempts++
		_, err := q.Exec(ctx, `INSERT INTO commissions (agent_code, percent, updated_at) VALUES (?, ?, ?)`, "T1", 1.0, "now")
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrContention)
	// BEGIN IMMEDIATE fails before the callback runs
	assert.Zero(t, attempts)
}

func TestRetrySucceedsOnceLockIsReleased(t *testing.T) {
	path := filepath.Join(t.TempDir(), "released.db")
	holder := openTemp(t, path)
	require.NoError(t, store.Migrate(context.Background(), holder))
	contender := store.WithRetry(openTemp(t, path), store.RetryPolicy{MaxAttempts: 10, Step: 20 * time.Millisecond})

	release := holdWriteLock(t, holder)
	go func() {
		time.Sleep(50 * time.Millisecond)
		release()
	}()

	_, err := contender.Exec(context.Background(),
		`INSERT INTO commissions (agent_code, percent, updated_at) VALUES (?, ?, ?)`, "T1", 1.0, "now")
	require.NoError(t, err)
}
