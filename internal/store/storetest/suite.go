// Package storetest is a compliance suite shared by every store.Executor
// adapter.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/fieldtrack/internal/filter"
	"example.com/fieldtrack/internal/page"
	"example.com/fieldtrack/internal/store"
)

// Seed inserts check-in rows through q. Each row is
// {id, date, time, client id, client name, city, lat, lng, agent}.
func Seed(ctx context.Context, q store.Querier, rows ...[]any) error {
	for _, r := range rows {
		if _, err := q.Exec(ctx, `INSERT INTO checkins
			(id, visit_date, visit_time, client_id, client_name, city, latitude, longitude, agent_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, r...); err != nil {
			return fmt.Errorf("seed checkin %v: %w", r[0], err)
		}
	}
	return nil
}

// Reset migrates the schema and empties every table.
func Reset(ctx context.Context, q store.Querier) error {
	if err := store.Migrate(ctx, q); err != nil {
		return err
	}
	for _, table := range []string{"checkins", "prospects", "product_images", "commissions"} {
		if _, err := q.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

// Run exercises the Executor contract. makeExec must return an executor
// whose tables can be reset freely; Run resets them before each case.
func Run(t *testing.T, makeExec func(t *testing.T) store.Executor) {
	t.Helper()

	fresh := func(t *testing.T) store.Executor {
		exec := makeExec(t)
		require.NoError(t, Reset(context.Background(), exec))
		return exec
	}

	t.Run("MigrateIsIdempotent", func(t *testing.T) {
		exec := fresh(t)
		require.NoError(t, store.Migrate(context.Background(), exec))
		require.NoError(t, exec.Ping(context.Background()))
	})

	t.Run("QueryNormalizesRows", func(t *testing.T) {
		exec := fresh(t)
		ctx := context.Background()
		require.NoError(t, Seed(ctx, exec,
			[]any{int64(1), "20240105", "080000", "C1", "Acme", "Campinas", "-22.9", "-47.06", "T1"},
		))

		rows, err := exec.Query(ctx, `SELECT id, client_name, latitude FROM checkins WHERE agent_id = ?`, "T1")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, []string{"id", "client_name", "latitude"}, lowered(rows[0].Columns()))

		id, ok := rows[0].Value("ID")
		require.True(t, ok)
		assert.Equal(t, int64(1), id)
		assert.Equal(t, "Acme", rows[0].String("client_name"))
		assert.InDelta(t, -22.9, rows[0].Float64("latitude"), 1e-9)

		none, err := exec.Query(ctx, `SELECT id FROM checkins WHERE agent_id = ?`, "nobody")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("ExecReportsRowsAffected", func(t *testing.T) {
		exec := fresh(t)
		ctx := context.Background()
		require.NoError(t, Seed(ctx, exec,
			[]any{int64(1), "20240105", "080000", "C1", "Acme", "X", "1", "1", "T1"},
			[]any{int64(2), "20240105", "090000", "C2", "Beta", "X", "1", "1", "T1"},
		))
		n, err := exec.Exec(ctx, `UPDATE checkins SET city = ? WHERE agent_id = ?`, "Y", "T1")
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
	})

	t.Run("InTxCommitsAndRollsBack", func(t *testing.T) {
		exec := fresh(t)
		ctx := context.Background()

		require.NoError(t, exec.InTx(ctx, func(ctx context.Context, q store.Querier) error {
			return Seed(ctx, q, []any{int64(1), "20240105", "080000", "C1", "Acme", "X", "1", "1", "T1"})
		}))

		boom := errors.New("abort")
		err := exec.InTx(ctx, func(ctx context.Context, q store.Querier) error {
			if err := Seed(ctx, q, []any{int64(2), "20240105", "090000", "C2", "Beta", "X", "1", "1", "T1"}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		rows, err := exec.Query(ctx, `SELECT COUNT(*) AS total FROM checkins`)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.EqualValues(t, 1, rows[0].Int64("total"))
	})

	t.Run("PagesCoverTotal", func(t *testing.T) {
		exec := fresh(t)
		ctx := context.Background()
		var seed [][]any
		for i := 1; i <= 7; i++ {
			seed = append(seed, []any{int64(i), "20240110", fmt.Sprintf("%02d0000", i), "C", "Client", "X", "1", "1", "T1"})
		}
		seed = append(seed, []any{int64(99), "20240110", "120000", "C", "Other", "X", "1", "1", "T2"})
		require.NoError(t, Seed(ctx, exec, seed...))

		pred := filter.New().Eq("agent_id", "T1").Predicate()
		countRows, err := exec.Query(ctx, "SELECT COUNT(*) AS total FROM checkins "+pred.Where(), pred.Args...)
		require.NoError(t, err)
		total := int(countRows[0].Int64("total"))
		require.Equal(t, 7, total)

		limit := 3
		var seen []int64
		for p := 1; p <= page.TotalPages(total, limit); p++ {
			req := page.Request{Page: p, Limit: limit}
			q, pageArgs, err := page.Apply(exec.Dialect().Paging,
				"SELECT id, visit_time FROM checkins "+pred.Where(), "visit_time, id", req)
			require.NoError(t, err)
			rows, err := exec.Query(ctx, q, append(append([]any{}, pred.Args...), pageArgs...)...)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(rows), limit)
			if p < page.TotalPages(total, limit) {
				assert.Len(t, rows, limit)
			}
			for _, r := range rows {
				seen = append(seen, r.Int64("id"))
			}
		}
		assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7}, seen)
	})

	t.Run("ContainsEscapesWildcards", func(t *testing.T) {
		exec := fresh(t)
		ctx := context.Background()
		require.NoError(t, Seed(ctx, exec,
			[]any{int64(1), "20240105", "080000", "C1", "100% Organic", "X", "1", "1", "T1"},
			[]any{int64(2), "20240105", "090000", "C2", "1000 Organic", "X", "1", "1", "T1"},
			[]any{int64(3), "20240105", "100000", "C3", "ACME_SA", "X", "1", "1", "T1"},
			[]any{int64(4), "20240105", "110000", "C4", "ACMEXSA", "X", "1", "1", "T1"},
		))

		pred := filter.New().Contains("100%", "client_name").Predicate()
		rows, err := exec.Query(ctx, "SELECT id FROM checkins "+pred.Where()+" ORDER BY id", pred.Args...)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.EqualValues(t, 1, rows[0].Int64("id"))

		pred = filter.New().Contains("acme_", "client_name", "client_id").Predicate()
		rows, err = exec.Query(ctx, "SELECT id FROM checkins "+pred.Where()+" ORDER BY id", pred.Args...)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.EqualValues(t, 3, rows[0].Int64("id"))
	})

	t.Run("UnorderedWindowRejected", func(t *testing.T) {
		exec := fresh(t)
		_, _, err := page.Apply(exec.Dialect().Paging, "SELECT id FROM checkins", "", page.Request{Page: 1, Limit: 1})
		assert.ErrorIs(t, err, page.ErrUnordered)
	})
}

func lowered(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = strings.ToLower(c)
	}
	return out
}
