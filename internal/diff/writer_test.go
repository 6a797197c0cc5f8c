package diff

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/asof/internal/entity"
	"github.com/roach88/asof/internal/ir"
	"github.com/roach88/asof/internal/testutil"
)

// fakeSource serves fixed objects at one coordinate.
type fakeSource struct {
	at      ir.Coordinate
	objects map[int64]*entity.Entity
	err     error
	calls   []int64
}

func (f *fakeSource) At() ir.Coordinate { return f.at }

func (f *fakeSource) GetObject(_ context.Context, id int64) (*entity.Entity, error) {
	f.calls = append(f.calls, id)
	if f.err != nil {
		return nil, f.err
	}
	return f.objects[id], nil
}

func change(object, parent int64, action ir.Action) ir.AuditLogEntry {
	e := node(object, parent)
	e.CommitID = 5
	e.EffectiveDate = testutil.Date("2020-06-01")
	e.Action = action
	if action == ir.ActionRemoved {
		e.Payload = nil
	}
	return e
}

// orderSources returns an order whose status, line quantity and notes change
// between commit 3 and commit 6.
func orderSources() (*fakeSource, *fakeSource) {
	before := &fakeSource{at: ir.AtCommit(3), objects: map[int64]*entity.Entity{
		1: entity.New("Order", 1).Set("status", ir.String("new")).Own("lines", "OrderLine", 2),
		2: entity.New("OrderLine", 2).Set("qty", ir.Int(1)),
	}}
	after := &fakeSource{at: ir.AtCommit(6), objects: map[int64]*entity.Entity{
		1: entity.New("Order", 1).Set("status", ir.String("paid")).
			Own("lines", "OrderLine", 2).Own("notes", "Note", 5),
		2: entity.New("OrderLine", 2).Set("qty", ir.Int(2)),
		5: entity.New("Note", 5).Set("text", ir.String("gift")),
	}}
	return before, after
}

func orderChangeSet() []ir.AuditLogEntry {
	return []ir.AuditLogEntry{
		change(2, 1, ir.ActionChanged),
		change(1, 0, ir.ActionChanged),
		change(5, 1, ir.ActionAdded),
	}
}

func TestWrite_OrdersAndCompares(t *testing.T) {
	before, after := orderSources()
	r, err := NewWriter(before, after, Strict()).Write(context.Background(), orderChangeSet())
	require.NoError(t, err)

	require.Len(t, r.Deltas, 3)
	assert.Equal(t, int64(1), r.Deltas[0].ObjectID)
	assert.Equal(t, int64(2), r.Deltas[1].ObjectID)
	assert.Equal(t, int64(5), r.Deltas[2].ObjectID)

	assert.Equal(t, "Note", r.Deltas[2].Type)
	assert.Equal(t, []entity.Change{{Path: "fields.text", New: ir.String("gift")}}, r.Deltas[2].Changes)
	assert.NotContains(t, before.calls, int64(5), "added objects have no old state")
}

func TestWrite_RemovedObjectHasNoNewState(t *testing.T) {
	before := &fakeSource{at: ir.AtCommit(1), objects: map[int64]*entity.Entity{
		9: entity.New("Note", 9).Set("text", ir.String("old")),
	}}
	after := &fakeSource{at: ir.AtCommit(2)}

	r, err := NewWriter(before, after).Write(context.Background(), []ir.AuditLogEntry{change(9, 1, ir.ActionRemoved)})
	require.NoError(t, err)
	require.Len(t, r.Deltas, 1)
	assert.Equal(t, ir.ActionRemoved, r.Deltas[0].Action)
	assert.Equal(t, "Note", r.Deltas[0].Type)
	assert.Empty(t, after.calls)
}

func TestWrite_SkipsUnchangedObjects(t *testing.T) {
	same := entity.New("Customer", 3).Set("name", ir.String("Ada"))
	before := &fakeSource{at: ir.AtCommit(1), objects: map[int64]*entity.Entity{3: same}}
	after := &fakeSource{at: ir.AtCommit(2), objects: map[int64]*entity.Entity{3: same.Clone()}}

	r, err := NewWriter(before, after).Write(context.Background(), []ir.AuditLogEntry{change(3, 0, ir.ActionChanged)})
	require.NoError(t, err)
	assert.Empty(t, r.Deltas)
	assert.NotNil(t, r.Deltas)
}

func TestWrite_PropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	before := &fakeSource{at: ir.AtCommit(1), err: boom}
	after := &fakeSource{at: ir.AtCommit(2)}

	_, err := NewWriter(before, after).Write(context.Background(), []ir.AuditLogEntry{change(3, 0, ir.ActionChanged)})
	assert.ErrorIs(t, err, boom)

	_, err = NewWriter(before, after, Strict()).Write(context.Background(), []ir.AuditLogEntry{change(4, 3, ir.ActionChanged)})
	assert.Error(t, err)
}

func TestReport_Golden(t *testing.T) {
	before, after := orderSources()
	r, err := NewWriter(before, after).Write(context.Background(), orderChangeSet())
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, f := range []Format{FormatJSON, FormatText} {
		var buf bytes.Buffer
		require.NoError(t, r.Render(&buf, f))
		g.Assert(t, "order_change_"+string(f), buf.Bytes())
	}
}

func TestReport_XML(t *testing.T) {
	before, after := orderSources()
	r, err := NewWriter(before, after).Write(context.Background(), orderChangeSet())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, FormatXML))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte(xml.Header)))

	var doc xmlReport
	require.NoError(t, xml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "commit:3", doc.Before)
	assert.Equal(t, "commit:6", doc.After)
	require.Len(t, doc.Objects, 3)
	assert.Equal(t, "Order", doc.Objects[0].Type)
	assert.Equal(t, []xmlChange{
		{Path: "fields.status", Old: `"new"`, New: `"paid"`},
		{Path: "owned.notes", New: `[5]`},
	}, doc.Objects[0].Changes)
	assert.Equal(t, int64(1), doc.Objects[1].Parent)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("XML")
	require.NoError(t, err)
	assert.Equal(t, FormatXML, f)

	_, err = ParseFormat("yaml")
	assert.Error(t, err)
}
