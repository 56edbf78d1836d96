// Package postgres adapts a pgx connection pool to store.Executor.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"example.com/fieldtrack/internal/metrics"
	"example.com/fieldtrack/internal/store"
)

const name = "postgres"

// SQLSTATEs that mean "try again later".
var transientCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

type Executor struct {
	pool *pgxpool.Pool
}

var _ store.Executor = (*Executor)(nil)

func New(pool *pgxpool.Pool) *Executor {
	return &Executor{pool: pool}
}

// ConnectWithRetry dials dsn, retrying with a constant delay until the pool
// answers a ping or attempts run out.
func ConnectWithRetry(ctx context.Context, dsn string, attempts int, delay time.Duration, log zerolog.Logger) (*Executor, error) {
	if attempts < 1 {
		attempts = 1
	}
	var pool *pgxpool.Pool
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts-1)), ctx)
	err := backoff.RetryNotify(func() error {
		p, err := pgxpool.New(ctx, dsn)
		if err != nil {
			// a malformed DSN will not improve with time
			return backoff.Permanent(fmt.Errorf("parse postgres dsn: %w", err))
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := p.Ping(pingCtx); err != nil {
			p.Close()
			return fmt.Errorf("ping postgres: %w", err)
		}
		pool = p
		return nil
	}, b, func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Msg("postgres not ready")
	})
	if err != nil {
		return nil, err
	}
	return New(pool), nil
}

func (e *Executor) Dialect() store.Dialect {
	return store.Dialect{Name: name, Paging: store.LimitOffset}
}

func (e *Executor) Query(ctx context.Context, query string, args ...any) (rows []store.Row, err error) {
	defer observe("query", time.Now(), &err)
	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, classify("acquire connection", err)
	}
	defer conn.Release()
	return queryRows(ctx, conn, query, args)
}

func (e *Executor) Exec(ctx context.Context, query string, args ...any) (n int64, err error) {
	defer observe("exec", time.Now(), &err)
	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return 0, classify("acquire connection", err)
	}
	defer conn.Release()
	return execRows(ctx, conn, query, args)
}

func (e *Executor) InTx(ctx context.Context, fn func(ctx context.Context, q store.Querier) error) (err error) {
	defer observe("tx", time.Now(), &err)
	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return classify("acquire connection", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return classify("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, txQuerier{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify("commit", err)
	}
	return nil
}

func (e *Executor) Ping(ctx context.Context) error {
	if err := e.pool.Ping(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

func (e *Executor) Close() error {
	e.pool.Close()
	return nil
}

// queryer is satisfied by *pgxpool.Conn and pgx.Tx.
type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type txQuerier struct {
	tx pgx.Tx
}

func (q txQuerier) Query(ctx context.Context, query string, args ...any) ([]store.Row, error) {
	return queryRows(ctx, q.tx, query, args)
}

func (q txQuerier) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execRows(ctx, q.tx, query, args)
}

func queryRows(ctx context.Context, q queryer, query string, args []any) ([]store.Row, error) {
	rows, err := q.Query(ctx, sqlx.Rebind(sqlx.DOLLAR, query), args...)
	if err != nil {
		return nil, classify("query", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}
	var out []store.Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, classify("decode row", err)
		}
		for i, v := range vals {
			vals[i] = normalize(v)
		}
		out = append(out, store.NewRow(cols, vals))
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iter rows", err)
	}
	return out, nil
}

func execRows(ctx context.Context, q queryer, query string, args []any) (int64, error) {
	tag, err := q.Exec(ctx, sqlx.Rebind(sqlx.DOLLAR, query), args...)
	if err != nil {
		return 0, classify("exec", err)
	}
	return tag.RowsAffected(), nil
}

// normalize handles pgx-specific types before store.Normalize sees them.
func normalize(v any) any {
	switch x := v.(type) {
	case pgtype.Numeric:
		if !x.Valid {
			return nil
		}
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", x[0:4], x[4:6], x[6:8], x[8:10], x[10:16])
	default:
		return v
	}
}

func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if transientCodes[pgErr.Code] {
			return fmt.Errorf("postgres %s: %w: %s (SQLSTATE %s): %w", op, store.ErrBusy, pgErr.Message, pgErr.Code, err)
		}
		return fmt.Errorf("postgres %s: %s (SQLSTATE %s): %w", op, pgErr.Message, pgErr.Code, err)
	}
	return fmt.Errorf("postgres %s: %w", op, err)
}

func observe(op string, started time.Time, err *error) {
	metrics.ObserveQuery(name, op, started, *err)
}
