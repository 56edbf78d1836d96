// Package legacy adapts any database/sql driver to store.Executor through
// sqlx. It pages with ROW_NUMBER windows, which older engines support where
// LIMIT/OFFSET is missing.
package legacy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"example.com/fieldtrack/internal/metrics"
	"example.com/fieldtrack/internal/sqliteutil"
	"example.com/fieldtrack/internal/store"
)

const name = "legacy"

// SQLSTATEs that pq reports for lock conflicts worth retrying.
var transientCodes = map[pq.ErrorCode]bool{
	"40001": true,
	"40P01": true,
	"55P03": true,
}

type Executor struct {
	db *sqlx.DB
}

var _ store.Executor = (*Executor)(nil)

func New(db *sqlx.DB) *Executor {
	return &Executor{db: db}
}

// Open connects with the named driver, which must already be registered.
func Open(ctx context.Context, driver, dsn string) (*Executor, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open legacy db (%s): %w", driver, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping legacy db (%s): %w", driver, err)
	}
	return New(db), nil
}

func (e *Executor) Dialect() store.Dialect {
	return store.Dialect{Name: name, Paging: store.RowNumber}
}

func (e *Executor) Query(ctx context.Context, query string, args ...any) (rows []store.Row, err error) {
	defer observe("query", time.Now(), &err)
	conn, err := e.db.Connx(ctx)
	if err != nil {
		return nil, classify("acquire connection", err)
	}
	defer conn.Close()
	return queryRows(ctx, conn, e.db.Rebind(query), args)
}

func (e *Executor) Exec(ctx context.Context, query string, args ...any) (n int64, err error) {
	defer observe("exec", time.Now(), &err)
	conn, err := e.db.Connx(ctx)
	if err != nil {
		return 0, classify("acquire connection", err)
	}
	defer conn.Close()
	return execRows(ctx, conn, e.db.Rebind(query), args)
}

func (e *Executor) InTx(ctx context.Context, fn func(ctx context.Context, q store.Querier) error) (err error) {
	defer observe("tx", time.Now(), &err)
	conn, err := e.db.Connx(ctx)
	if err != nil {
		return classify("acquire connection", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTxx(ctx, nil)
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

type txQuerier struct {
	tx *sqlx.Tx
}

func (q txQuerier) Query(ctx context.Context, query string, args ...any) ([]store.Row, error) {
	return queryRows(ctx, q.tx, q.tx.Rebind(query), args)
}

func (q txQuerier) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execRows(ctx, q.tx, q.tx.Rebind(query), args)
}

// queryRows accepts *sqlx.Conn and *sqlx.Tx.
func queryRows(ctx context.Context, q sqlx.QueryerContext, query string, args []any) ([]store.Row, error) {
	rows, err := q.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, classify("query", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("legacy columns: %w", err)
	}
	var out []store.Row
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, classify("scan", err)
		}
		out = append(out, store.NewRow(cols, vals))
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iter rows", err)
	}
	return out, nil
}

func execRows(ctx context.Context, q sqlx.ExecerContext, query string, args []any) (int64, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, classify("exec", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("legacy rows affected: %w", err)
	}
	return n, nil
}

// classify marks lock conflicts from the drivers this adapter is used with
// as store.ErrBusy.
func classify(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && transientCodes[pqErr.Code] {
		return fmt.Errorf("legacy %s: %w: %s (SQLSTATE %s): %w", op, store.ErrBusy, pqErr.Message, pqErr.Code, err)
	}
	if sqliteutil.IsBusy(err) {
		return fmt.Errorf("legacy %s: %w: %w", op, store.ErrBusy, err)
	}
	return fmt.Errorf("legacy %s: %w", op, err)
}

func observe(op string, started time.Time, err *error) {
	metrics.ObserveQuery(name, op, started, *err)
}
