package prospect

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/fieldtrack/internal/page"
	"example.com/fieldtrack/internal/store"
	"example.com/fieldtrack/internal/store/legacy"
	"example.com/fieldtrack/internal/store/sqlite"
	"example.com/fieldtrack/internal/store/storetest"
)

func seed(t *testing.T, exec store.Executor) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, storetest.Reset(ctx, exec))
	rows := [][]any{
		{"P001", "Ana Souza", "ana@acme.test", "C1", "G1", "S1", "T1"},
		{"P002", "Bruno Lima", "bruno@beta.test", "C1", "G1", "S2", "T1"},
		{"P003", "Carla Dias", "carla@acme.test", "C1", "G2", "S1", "T2"},
		{"P004", "Ana Paula", "ap@other.test", "C2", "G1", "S1", "T1"},
		{"X-ANA", "Zeca", "zeca@acme.test", "C1", "G1", "S1", "T3"},
	}
	for _, r := range rows {
		_, err := exec.Exec(ctx, `INSERT INTO prospects
			(code, name, email, company, group_code, subgroup_code, agent_id, created_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, '20240101')`, r...)
		require.NoError(t, err)
	}
}

func executors(t *testing.T) map[string]store.Executor {
	t.Helper()
	dir := t.TempDir()
	emb, err := sqlite.Open(filepath.Join(dir, "p.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = emb.Close() })
	leg, err := legacy.Open(context.Background(), "sqlite", "file:"+filepath.Join(dir, "pl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = leg.Close() })
	return map[string]store.Executor{"sqlite": emb, "legacy": leg}
}

func TestListSearchMatchesNameCodeOrEmail(t *testing.T) {
	for name, exec := range executors(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, exec)
			repo := NewRepository(exec, page.Limits{Default: 10, Max: 50})

			env, err := repo.List(context.Background(), Criteria{Search: "ana", Scope: Scope{Company: "C1"}})
			require.NoError(t, err)
			var codes []string
			for _, p := range env.Rows {
				codes = append(codes, p.Code)
			}
			// name "Ana Souza", code "X-ANA"; P004 is outside the company
			assert.Equal(t, []string{"P001", "X-ANA"}, codes)
			assert.Equal(t, 2, env.Total)
		})
	}
}

func TestListScopeNarrows(t *testing.T) {
	for name, exec := range executors(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, exec)
			repo := NewRepository(exec, page.Limits{Default: 10, Max: 50})
			ctx := context.Background()

			env, err := repo.List(ctx, Criteria{Scope: Scope{Company: "C1", Group: "G1"}})
			require.NoError(t, err)
			assert.Equal(t, 3, env.Total)

			env, err = repo.List(ctx, Criteria{Scope: Scope{Company: "C1", Group: "G1", Subgroup: "S1"}, AgentID: "T1"})
			require.NoError(t, err)
			require.Equal(t, 1, env.Total)
			assert.Equal(t, "Ana Souza", env.Rows[0].Name)
			assert.Equal(t, "G1", env.Rows[0].Group)

			env, err = repo.List(ctx, Criteria{Search: "@acme", Page: 2, Limit: 2})
			require.NoError(t, err)
			assert.Equal(t, 3, env.Total)
			assert.Equal(t, 2, env.TotalPages)
			assert.Len(t, env.Rows, 1)

			env, err = repo.List(ctx, Criteria{Scope: Scope{Company: "nope"}})
			require.NoError(t, err)
			assert.Empty(t, env.Rows)
			assert.Equal(t, 0, env.TotalPages)
		})
	}
}

func TestCriteriaPredicateOrder(t *testing.T) {
	p := Criteria{Search: "x", Scope: Scope{Company: "C1"}}.Predicate()
	assert.Equal(t, []any{"C1", "%x%", "%x%", "%x%"}, p.Args)
}
