package querysql

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/asof/internal/criteria"
)

func TestCompileNoFilter(t *testing.T) {
	sql, params, err := NewCompiler(SQLite).Compile(criteria.Query{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT "+EntryColumns+" FROM audit_log ORDER BY commit_id ASC, object_id ASC", sql)
	assert.Empty(t, params)
}

func TestCompileAlwaysOrders(t *testing.T) {
	orders := map[criteria.Order]string{
		criteria.OrderCommit:          "ORDER BY commit_id ASC, object_id ASC",
		criteria.OrderLatestCommit:    "ORDER BY commit_id DESC, object_id ASC",
		criteria.OrderLatestEffective: "ORDER BY effective_date DESC, commit_id DESC, object_id ASC",
	}
	for order, want := range orders {
		sql, _, err := NewCompiler(SQLite).Compile(criteria.Query{
			Filter: criteria.ObjectIn{IDs: []int64{1}},
			Order:  order,
		})
		require.NoError(t, err)
		assert.Contains(t, sql, want)
	}
}

func TestCompileSQLiteParams(t *testing.T) {
	day := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	sql, params, err := NewCompiler(SQLite).Compile(criteria.Query{
		Filter: criteria.All(
			criteria.ObjectIn{IDs: []int64{7}},
			criteria.EntityTypeIn{TypeIDs: []int32{1, 2}},
			criteria.EffectiveAtOrBefore{Date: day},
		),
		Order: criteria.OrderLatestEffective,
		Limit: 1,
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "WHERE (object_id = ?) AND (entity_type_id IN (?, ?)) AND (effective_date <= ?)")
	assert.Contains(t, sql, "LIMIT 1")
	assert.Equal(t, []any{int64(7), int64(1), int64(2), "2020-06-01"}, params)
}

func TestCompilePostgresPlaceholders(t *testing.T) {
	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	sql, params, err := NewCompiler(Postgres).Compile(criteria.Query{
		Filter: criteria.All(
			criteria.RootIn{IDs: []int64{1, 2}},
			criteria.CommittedBetween{Start: start, End: start.Add(24 * time.Hour)},
		),
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "root_object_id IN ($1, $2)")
	assert.Contains(t, sql, "committed_at >= $3 AND committed_at < $4")
	require.Len(t, params, 4)
	assert.Equal(t, start, params[2])
}

func TestCompileUsesIDTableAboveThreshold(t *testing.T) {
	var staged []int64
	c := &Compiler{
		Dialect:        SQLite,
		IDSetThreshold: 2,
		IDTable: func(ids []int64) (string, error) {
			staged = ids
			return "temp.idset_x", nil
		},
	}

	sql, params, err := c.Compile(criteria.Query{Filter: criteria.ObjectIn{IDs: []int64{1, 2, 3}}})
	require.NoError(t, err)
	assert.Contains(t, sql, "object_id IN (SELECT id FROM temp.idset_x)")
	assert.Empty(t, params)
	assert.Equal(t, []int64{1, 2, 3}, staged)

	sql, params, err = c.Compile(criteria.Query{Filter: criteria.ObjectIn{IDs: []int64{1, 2}}})
	require.NoError(t, err)
	assert.Contains(t, sql, "object_id IN (?, ?)")
	assert.Len(t, params, 2)
}

func TestCompileIDTableError(t *testing.T) {
	c := &Compiler{
		Dialect:        SQLite,
		IDSetThreshold: 1,
		IDTable:        func([]int64) (string, error) { return "", errors.New("boom") },
	}
	_, _, err := c.Compile(criteria.Query{Filter: criteria.CommitIn{IDs: []int64{1, 2}}})
	assert.ErrorContains(t, err, "boom")
}

func TestCompileRejectsInvalid(t *testing.T) {
	_, _, err := NewCompiler(SQLite).Compile(criteria.Query{Filter: criteria.ObjectIn{}})
	assert.Error(t, err)
}

func TestCompileIsReusable(t *testing.T) {
	c := NewCompiler(SQLite)
	_, p1, err := c.Compile(criteria.Query{Filter: criteria.ObjectIn{IDs: []int64{1}}})
	require.NoError(t, err)
	_, p2, err := c.Compile(criteria.Query{Filter: criteria.ObjectIn{IDs: []int64{2}}})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1)}, p1)
	assert.Equal(t, []any{int64(2)}, p2)
}
