package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/asof/internal/auditerr"
	"github.com/roach88/asof/internal/ir"
	"github.com/roach88/asof/internal/testutil"
)

func node(object, parent int64) ir.AuditLogEntry {
	root := parent
	if root == 0 {
		root = object
	}
	return ir.AuditLogEntry{
		CommitID:       1,
		ObjectID:       object,
		RootObjectID:   root,
		ParentObjectID: parent,
		EntityTypeID:   1,
		EffectiveDate:  testutil.Date("2020-01-01"),
		Action:         ir.ActionChanged,
		Payload:        []byte(`{}`),
	}
}

func ids(entries []ir.AuditLogEntry) []int64 {
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = e.ObjectID
	}
	return out
}

func TestOrder_ParentsBeforeChildrenForEveryInputOrder(t *testing.T) {
	root, c1, c2 := node(1, 0), node(2, 1), node(3, 2)
	perms := [][]ir.AuditLogEntry{
		{root, c1, c2},
		{root, c2, c1},
		{c1, root, c2},
		{c1, c2, root},
		{c2, root, c1},
		{c2, c1, root},
	}
	for _, in := range perms {
		out, err := Order(in, true)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3}, ids(out), "input %v", ids(in))
	}
}

func TestOrder_SiblingsKeepInputOrder(t *testing.T) {
	out, err := Order([]ir.AuditLogEntry{node(12, 1), node(10, 1), node(1, 0), node(11, 1)}, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 12, 10, 11}, ids(out))
}

func TestOrder_ParentOutsideSet(t *testing.T) {
	in := []ir.AuditLogEntry{node(3, 2), node(4, 3)}

	out, err := Order(in, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, ids(out), "3 starts a tree of the forest")

	_, err = Order(in, true)
	require.Error(t, err)
	assert.True(t, auditerr.IsStructuralIntegrity(err))
	var ae *auditerr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, int64(3), ae.ObjectID)
}

func TestOrder_SelfParentedRootIsARoot(t *testing.T) {
	root := node(1, 1)
	line, detail := node(2, 1), node(3, 2)

	for _, strict := range []bool{false, true} {
		out, err := Order([]ir.AuditLogEntry{detail, line, root}, strict)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3}, ids(out))
	}
}

func TestOrder_CycleFails(t *testing.T) {
	tests := []struct {
		name string
		in   []ir.AuditLogEntry
	}{
		{"two-node cycle", []ir.AuditLogEntry{node(1, 0), node(2, 3), node(3, 2)}},
		{"three-node cycle", []ir.AuditLogEntry{node(4, 6), node(5, 4), node(6, 5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Order(tt.in, false)
			require.Error(t, err)
			assert.True(t, auditerr.IsStructuralIntegrity(err))
		})
	}
}

func TestOrder_DuplicateObject(t *testing.T) {
	_, err := Order([]ir.AuditLogEntry{node(1, 0), node(1, 0)}, false)
	assert.True(t, auditerr.IsStructuralIntegrity(err))
}

func TestOrder_Empty(t *testing.T) {
	out, err := Order(nil, true)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NotNil(t, out)
}
