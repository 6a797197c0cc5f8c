package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/asof/internal/auditerr"
	"github.com/roach88/asof/internal/ir"
	"github.com/roach88/asof/internal/testutil"
)

func TestPriorRevision_ConcreteScenario(t *testing.T) {
	cx := NewCommitIndex(nil, nil)
	require.NoError(t, cx.Add(
		rev(1, 1, ir.ActionAdded, "2020-01-01"),
		rev(1, 5, ir.ActionChanged, "2020-06-01"),
	))

	prior, ok, err := cx.PriorRevision(1, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), prior)

	_, ok, err = cx.PriorRevision(1, 1)
	require.NoError(t, err)
	assert.False(t, ok, "the Added revision has no predecessor")
}

func TestPriorRevision_EveryRevisionPointsToThePreviousOne(t *testing.T) {
	cx := NewCommitIndex(nil, nil)
	commits := []int64{2, 4, 7, 9, 12}
	dates := []string{"2020-01-01", "2020-01-01", "2020-02-01", "2020-05-01", "2020-05-01"}
	for i, c := range commits {
		action := ir.ActionChanged
		if i == 0 {
			action = ir.ActionAdded
		}
		require.NoError(t, cx.Add(rev(3, c, action, dates[i])))
	}

	for k := 1; k < len(commits); k++ {
		prior, ok, err := cx.PriorRevision(3, commits[k])
		require.NoError(t, err)
		require.True(t, ok, "revision %d", k)
		assert.Equal(t, commits[k-1], prior, "revision %d", k)
	}
}

func TestPriorRevision_BackDatedRevision(t *testing.T) {
	cx := NewCommitIndex(nil, nil)
	require.NoError(t, cx.Add(
		rev(1, 1, ir.ActionAdded, "2020-01-01"),
		rev(1, 2, ir.ActionChanged, "2020-06-01"),
		rev(1, 3, ir.ActionChanged, "2020-03-01"),
	))

	prior, ok, err := cx.PriorRevision(1, 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), prior, "the version in effect before 2020-03-01 is commit 1")
}

func TestPriorRevision_Removal(t *testing.T) {
	cx := NewCommitIndex(nil, nil)
	require.NoError(t, cx.Add(
		rev(1, 1, ir.ActionAdded, "2020-01-01"),
		rev(1, 4, ir.ActionRemoved, "2020-01-01"),
	))
	prior, ok, err := cx.PriorRevision(1, 4)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), prior)
}

func TestPriorRevision_Unknown(t *testing.T) {
	cx := NewCommitIndex(nil, nil)
	require.NoError(t, cx.Add(rev(1, 1, ir.ActionAdded, "2020-01-01")))

	_, _, err := cx.PriorRevision(2, 1)
	assert.True(t, auditerr.IsNotFound(err))
	_, _, err = cx.PriorRevision(1, 3)
	assert.True(t, auditerr.IsNotFound(err))
}

func TestCommitIndex_LoadMarksOnlyTheCommitMatched(t *testing.T) {
	s := openStore(t)
	seed(t, s, 3,
		rev(1, 1, ir.ActionAdded, "2020-01-01"),
		child(2, 1, 2, ir.ActionAdded, "2020-02-01"),
		rev(1, 3, ir.ActionChanged, "2020-06-01"),
	)
	cx := NewCommitIndex(s, testutil.ShopSchema())

	require.NoError(t, cx.Load(context.Background(), 3))

	assert.Equal(t, 2, cx.Len(), "object 1's earlier revision is indexed for ordering")
	matched := cx.Matched()
	require.Len(t, matched, 1)
	assert.Equal(t, int64(3), matched[0].CommitID)

	first, ok := cx.Entry(1, 1)
	require.True(t, ok)
	assert.False(t, cx.IsMatched(first))

	prior, ok, err := cx.PriorRevision(1, 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), prior)
	assert.Len(t, cx.Commit(3), 1)
	assert.Len(t, cx.Commit(1), 1)
}

func TestCommitIndex_LoadRange(t *testing.T) {
	s := openStore(t)
	seed(t, s, 4,
		rev(1, 1, ir.ActionAdded, "2020-01-01"),
		child(2, 1, 2, ir.ActionAdded, "2020-02-01"),
		rev(1, 3, ir.ActionChanged, "2020-06-01"),
		child(2, 1, 4, ir.ActionChanged, "2020-07-01"),
	)
	cx := NewCommitIndex(s, testutil.ShopSchema())

	require.NoError(t, cx.LoadRange(context.Background(), testutil.At(2), testutil.At(4)))

	var got [][2]int64
	for _, e := range cx.Matched() {
		got = append(got, [2]int64{e.ObjectID, e.CommitID})
	}
	assert.Equal(t, [][2]int64{{2, 2}, {1, 3}}, got)
	assert.Equal(t, 4, cx.Len(), "both objects' out-of-range revisions are indexed unmatched")
}

func TestCommitIndex_LoadRoots(t *testing.T) {
	s := openStore(t)
	seed(t, s, 3,
		rev(1, 1, ir.ActionAdded, "2020-01-01"),
		child(2, 1, 2, ir.ActionAdded, "2020-02-01"),
		rev(5, 3, ir.ActionAdded, "2020-02-01"),
	)
	ctx := context.Background()

	cx := NewCommitIndex(s, testutil.ShopSchema())
	require.NoError(t, cx.LoadRoots(ctx, []int64{1}))
	assert.Len(t, cx.Matched(), 2)
	assert.False(t, cx.Has(5))

	err := NewCommitIndex(s, testutil.ShopSchema()).LoadRoots(ctx, []int64{2})
	assert.True(t, auditerr.IsUnsupported(err), "an OrderLine is not a root: %v", err)

	err = NewCommitIndex(s, testutil.ShopSchema()).LoadRoots(ctx, []int64{1, 99})
	assert.True(t, auditerr.IsNotFound(err))

	err = NewCommitIndex(s, nil).LoadRoots(ctx, []int64{1})
	assert.True(t, auditerr.IsConfiguration(err))

	require.NoError(t, NewCommitIndex(s, testutil.ShopSchema()).LoadRoots(ctx, nil))
}
