package fixture

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/asof/internal/criteria"
	"github.com/roach88/asof/internal/entity"
	"github.com/roach88/asof/internal/events"
	"github.com/roach88/asof/internal/ir"
	"github.com/roach88/asof/internal/store"
	"github.com/roach88/asof/internal/testutil"
)

func TestLoad_Shop(t *testing.T) {
	f, err := Load("testdata/shop.yaml")
	require.NoError(t, err)

	require.Len(t, f.Commits, 3)
	assert.Equal(t, int64(7), f.Commits[2].ID)
	assert.Equal(t, int64(2), f.Commits[2].By)
	assert.Equal(t, map[string][]int64{"lines": {2, 4}}, f.Commits[1].Entries[0].Owned)
	require.Len(t, f.Events, 4)
	assert.False(t, f.Events[3].Apply)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown key", "commits: []\nbogus: 1\n", "field bogus not found"},
		{"commit ids must increase", "commits:\n  - id: 2\n  - id: 2\n", "must be greater than 2"},
		{"bad action", "commits:\n  - id: 1\n    entries:\n      - {object: 1, type: Order, action: moved, effective: 2020-01-01}\n", `unknown action "moved"`},
		{"bad date", "commits:\n  - id: 1\n    entries:\n      - {object: 1, type: Order, action: added, effective: 2020-13-01}\n", "parse date"},
		{"missing type", "commits:\n  - id: 1\n    entries:\n      - {object: 1, action: added, effective: 2020-01-01}\n", "type is required"},
		{"event without kind", "events:\n  - {target: 1, effective: 2020-01-01, effect: {}}\n", "kind is required"},
		{"live without type", "live:\n  - {object: 1}\n", "object and type are required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "fixture.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestApply_Shop(t *testing.T) {
	s := openStore(t)
	codec := entity.NewCodec(testutil.ShopSchema())
	ledger := events.NewLedger(s, codec)
	ctx := context.Background()

	f, err := Load("testdata/shop.yaml")
	require.NoError(t, err)
	sum, err := f.Apply(ctx, s, codec, ledger)
	require.NoError(t, err)
	assert.Equal(t, Summary{Commits: 3, Entries: 8, Live: 1, Events: 4, Applied: 3}, sum)

	c, err := s.Commit(ctx, 5)
	require.NoError(t, err)
	assert.True(t, c.CommittedAt.Equal(Epoch.Add(4*time.Minute)))
	assert.Equal(t, "payment", c.Comment)

	rows, err := s.Entries(ctx, criteria.Query{Filter: criteria.ObjectIn{IDs: []int64{2}}})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, ir.ActionRemoved, rows[2].Action)
	assert.Nil(t, rows[2].Payload)
	assert.Equal(t, int64(1), rows[0].RootObjectID)

	want := testutil.Rev(1, "2020-01-01", ir.ActionAdded,
		entity.New("Order", 1).
			Set("status", ir.String("new")).
			Reference("customer", "Customer", 3).
			Own("lines", "OrderLine", 2),
		1, 0)
	got, err := s.Entries(ctx, criteria.Query{Filter: criteria.ObjectIn{IDs: []int64{1}}, Limit: 1})
	require.NoError(t, err)
	assert.True(t, want.Same(got[0]), "fixture payload matches the codec's")

	live, err := ledger.Live(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ir.String("shipped"), live.Fields["status"])
	assert.Equal(t, ir.Int(110), live.Fields["total"])

	order, err := s.EventOrder(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), order)
}

func TestApply_RejectsUnknownEffect(t *testing.T) {
	s := openStore(t)
	codec := entity.NewCodec(testutil.ShopSchema())
	f, err := Parse([]byte("live:\n  - {object: 1, type: Order}\nevents:\n  - {target: 1, effective: 2021-01-01, kind: refund, effect: {amount: 1}}\n"))
	require.NoError(t, err)

	_, err = f.Apply(context.Background(), s, codec, events.NewLedger(s, codec))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown event effect "refund"`)
}

func TestApply_UnknownType(t *testing.T) {
	s := openStore(t)
	codec := entity.NewCodec(testutil.ShopSchema())
	f, err := Parse([]byte("commits:\n  - id: 1\n    entries:\n      - {object: 1, type: Invoice, action: added, effective: 2020-01-01}\n"))
	require.NoError(t, err)

	_, err = f.Apply(context.Background(), s, codec, events.NewLedger(s, codec))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invoice")
}
