package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/asof/internal/criteria"
	"github.com/roach88/asof/internal/ir"
	"github.com/roach88/asof/internal/metrics"
	"github.com/roach88/asof/internal/testutil"
)

// seedHistory writes three commits: object 1 added then changed, object 2
// added in commit 2 under root 1.
func seedHistory(t *testing.T, s *Store) {
	t.Helper()
	seedCommits(t, s, 3)
	child := testEntry(2, 2, ir.ActionAdded, "2020-03-01")
	child.RootObjectID = 1
	child.ParentObjectID = 1
	child.EntityTypeID = 2
	require.NoError(t, s.AppendEntries(context.Background(), []ir.AuditLogEntry{
		testEntry(1, 1, ir.ActionAdded, "2020-01-01"),
		child,
		testEntry(1, 3, ir.ActionChanged, "2020-06-01"),
	}))
}

func ids(entries []ir.AuditLogEntry) [][2]int64 {
	out := make([][2]int64, len(entries))
	for i, e := range entries {
		out[i] = [2]int64{e.ObjectID, e.CommitID}
	}
	return out
}

func TestEntries_Criteria(t *testing.T) {
	s := createTestStore(t)
	seedHistory(t, s)
	ctx := context.Background()

	tests := []struct {
		name string
		q    criteria.Query
		want [][2]int64
	}{
		{"all in commit order", criteria.Query{}, [][2]int64{{1, 1}, {2, 2}, {1, 3}}},
		{"by object", criteria.Query{Filter: criteria.ObjectIn{IDs: []int64{1}}}, [][2]int64{{1, 1}, {1, 3}}},
		{"by root", criteria.Query{Filter: criteria.RootIn{IDs: []int64{1}}}, [][2]int64{{1, 1}, {2, 2}, {1, 3}}},
		{"by type", criteria.Query{Filter: criteria.EntityTypeIn{TypeIDs: []int32{2}}}, [][2]int64{{2, 2}}},
		{"as of commit", criteria.Query{Filter: criteria.AsOf(ir.AtCommit(2))}, [][2]int64{{1, 1}, {2, 2}}},
		{"as of date", criteria.Query{Filter: criteria.AsOf(ir.AtDate(testutil.Date("2020-03-01")))}, [][2]int64{{1, 1}, {2, 2}}},
		{
			"latest on commit axis",
			criteria.Query{Filter: criteria.ObjectIn{IDs: []int64{1}}, Order: criteria.OrderLatestCommit, Limit: 1},
			[][2]int64{{1, 3}},
		},
		{
			"latest on date axis before change",
			criteria.Query{
				Filter: criteria.All(criteria.ObjectIn{IDs: []int64{1}}, criteria.AsOf(ir.AtDate(testutil.Date("2020-05-31")))),
				Order:  criteria.OrderLatestEffective,
				Limit:  1,
			},
			[][2]int64{{1, 1}},
		},
		{
			"committed between",
			criteria.Query{Filter: criteria.CommittedBetween{Start: testutil.At(2), End: testutil.At(3)}},
			[][2]int64{{2, 2}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Entries(ctx, tt.q)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestEntries_EmptyIsNotNil(t *testing.T) {
	s := createTestStore(t)
	got, err := s.Entries(context.Background(), criteria.Query{Filter: criteria.ObjectIn{IDs: []int64{404}}})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestEntries_RoundTripsFields(t *testing.T) {
	s := createTestStore(t)
	seedHistory(t, s)

	got, err := s.Entries(context.Background(), criteria.Query{Filter: criteria.ObjectIn{IDs: []int64{2}}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	e := got[0]
	assert.Equal(t, int64(1), e.RootObjectID)
	assert.Equal(t, int64(1), e.ParentObjectID)
	assert.Equal(t, int32(2), e.EntityTypeID)
	assert.True(t, e.EffectiveDate.Equal(testutil.Date("2020-03-01")))
	assert.Equal(t, ir.ActionAdded, e.Action)
	assert.Equal(t, []byte(`{"id":1}`), e.Payload)
}

func TestEntries_LargeIDSetUsesTempTable(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	s := createTestStore(t, WithIDSetThreshold(2), WithMetrics(m))
	seedHistory(t, s)
	ctx := context.Background()

	sess, err := s.OpenSession(ctx)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, err := sess.Entries(ctx, criteria.Query{Filter: criteria.ObjectIn{IDs: []int64{1, 2, 3, 4}}})
		require.NoError(t, err)
		assert.Equal(t, [][2]int64{{1, 1}, {2, 2}, {1, 3}}, ids(got))
	}
	assert.Equal(t, 1.0, promtest.ToFloat64(m.IDTablesCreated), "table is reused within a session")
	assert.Equal(t, 1, countTempTables(t, s))

	require.NoError(t, sess.Close())
	assert.Equal(t, 0, countTempTables(t, s))
	require.NoError(t, sess.Close())

	_, err = sess.Entries(ctx, criteria.Query{})
	assert.Error(t, err)
}

func TestEntries_TwoLargeSetsInOneQuery(t *testing.T) {
	s := createTestStore(t, WithIDSetThreshold(1))
	seedHistory(t, s)

	got, err := s.Entries(context.Background(), criteria.Query{Filter: criteria.All(
		criteria.ObjectIn{IDs: []int64{1, 2}},
		criteria.CommitIn{IDs: []int64{1, 3}},
	)})
	require.NoError(t, err)
	assert.Equal(t, [][2]int64{{1, 1}, {1, 3}}, ids(got))
	assert.Equal(t, 0, countTempTables(t, s), "one-shot reads drop their tables")
}

func countTempTables(t *testing.T, s *Store) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_temp_master WHERE type='table' AND name LIKE 'idset_%'",
	).Scan(&n))
	return n
}

func TestCommitsBetween(t *testing.T) {
	s := createTestStore(t)
	seedCommits(t, s, 5)
	ctx := context.Background()

	got, err := s.CommitsBetween(ctx, testutil.At(2), testutil.At(4))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].CommitID)
	assert.Equal(t, int64(3), got[1].CommitID)

	none, err := s.CommitsBetween(ctx, testutil.At(9), testutil.At(9).Add(time.Hour))
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestCommit_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Commit(context.Background(), 1)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLatestCommitID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id, err := s.LatestCommitID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), id)

	seedCommits(t, s, 4)
	id, err = s.LatestCommitID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), id)
}
