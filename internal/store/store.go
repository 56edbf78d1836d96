package store

import (
	"context"
	"errors"
)

var (
	// ErrBusy marks a transient lock conflict reported by the backing store.
	ErrBusy = errors.New("store busy")
	// ErrContention is returned once the busy retry budget is exhausted.
	ErrContention = errors.New("store contention")
)

// PageStyle selects how an engine windows a result set.
type PageStyle int

const (
	// LimitOffset appends LIMIT ? OFFSET ?.
	LimitOffset PageStyle = iota
	// RowNumber wraps the query in ROW_NUMBER() OVER (ORDER BY ...) and
	// filters an inclusive [start, end] range.
	RowNumber
)

func (s PageStyle) String() string {
	switch s {
	case LimitOffset:
		return "limit-offset"
	case RowNumber:
		return "row-number"
	default:
		return "unknown"
	}
}

// Dialect describes the quirks callers are allowed to know about.
type Dialect struct {
	Name   string
	Paging PageStyle
}

// Querier runs statements written with ? placeholders. Implementations
// rebind placeholders for their engine.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) ([]Row, error)
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

// Executor is the uniform entry point to one backing store. Every call
// takes its own connection and releases it before returning.
type Executor interface {
	Querier
	// InTx runs fn in a single transaction on one connection. The
	// transaction commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error
	Dialect() Dialect
	Ping(ctx context.Context) error
	Close() error
}
