// Package sqlite adapts the embedded single-writer database to store.Executor.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"example.com/fieldtrack/internal/metrics"
	"example.com/fieldtrack/internal/sqliteutil"
	"example.com/fieldtrack/internal/store"
)

const name = "sqlite"

// Executor runs statements on a *sql.DB opened by sqliteutil.Open.
type Executor struct {
	db *sql.DB
}

var _ store.Executor = (*Executor)(nil)

func New(db *sql.DB) *Executor {
	return &Executor{db: db}
}

// Open opens path and returns an executor that owns the handle.
func Open(path string, busyTimeout time.Duration) (*Executor, error) {
	db, err := sqliteutil.Open(path, busyTimeout)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

func (e *Executor) Dialect() store.Dialect {
	return store.Dialect{Name: name, Paging: store.LimitOffset}
}

func (e *Executor) Query(ctx context.Context, query string, args ...any) (rows []store.Row, err error) {
	defer observe("query", time.Now(), &err)
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, classify("acquire connection", err)
	}
	defer conn.Close()
	return queryRows(ctx, conn, query, args)
}

func (e *Executor) Exec(ctx context.Context, query string, args ...any) (n int64, err error) {
	defer observe("exec", time.Now(), &err)
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return 0, classify("acquire connection", err)
	}
	defer conn.Close()
	return execRows(ctx, conn, query, args)
}

func (e *Executor) InTx(ctx context.Context, fn func(ctx context.Context, q store.Querier) error) (err error) {
	defer observe("tx", time.Now(), &err)
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return classify("acquire connection", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(ctx, txQuerier{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit", err)
	}
	committed = true
	return nil
}

func (e *Executor) Ping(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

func (e *Executor) Close() error {
	return e.db.Close()
}

// DB exposes the handle for callers that need raw access, such as tests
// that hold a competing lock.
func (e *Executor) DB() *sql.DB {
	return e.db
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type txQuerier struct {
	tx *sql.Tx
}

func (q txQuerier) Query(ctx context.Context, query string, args ...any) ([]store.Row, error) {
	return queryRows(ctx, q.tx, query, args)
}

func (q txQuerier) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execRows(ctx, q.tx, query, args)
}

func queryRows(ctx context.Context, q queryer, query string, args []any) ([]store.Row, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("query", err)
	}
	out, err := store.ScanRows(rows)
	if err != nil {
		return nil, classify("query", err)
	}
	return out, nil
}

func execRows(ctx context.Context, q queryer, query string, args []any) (int64, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, classify("exec", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("rows affected", err)
	}
	return n, nil
}

func classify(op string, err error) error {
	if sqliteutil.IsBusy(err) {
		return fmt.Errorf("sqlite %s: %w: %w", op, store.ErrBusy, err)
	}
	return fmt.Errorf("sqlite %s: %w", op, err)
}

func observe(op string, started time.Time, err *error) {
	metrics.ObserveQuery(name, op, started, *err)
}
