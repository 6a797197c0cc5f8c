package entity_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/asof/internal/auditerr"
	"github.com/roach88/asof/internal/entity"
	"github.com/roach88/asof/internal/ir"
	"github.com/roach88/asof/internal/testutil"
)

func sampleOrder() *entity.Entity {
	return entity.New("Order", 10).
		Set("total", ir.Int(1250)).
		Set("status", ir.String("open")).
		Set("shipping", ir.NewObject(ir.P("city", ir.String("Lyon")))).
		Reference("customer", "Customer", 3).
		Own("lines", "OrderLine", 11, 12)
}

func TestSerializeIsCanonical(t *testing.T) {
	codec := entity.NewCodec(testutil.ShopSchema())

	data, err := codec.Serialize(sampleOrder())
	require.NoError(t, err)

	assert.Equal(t,
		`{"fields":{"shipping":{"city":"Lyon"},"status":"open","total":1250},"id":10,`+
			`"owned":{"lines":[{"id":11,"type":"OrderLine"},{"id":12,"type":"OrderLine"}]},`+
			`"refs":{"customer":{"id":3,"type":"Customer"}},"type":"Order"}`,
		string(data))

	again, err := codec.Serialize(sampleOrder())
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestRoundTrip(t *testing.T) {
	codec := entity.NewCodec(testutil.ShopSchema())
	orig := sampleOrder()

	data, err := codec.Serialize(orig)
	require.NoError(t, err)

	decoded, err := codec.Deserialize(context.Background(), data, nil)
	require.NoError(t, err)
	assert.True(t, entity.Equal(orig, decoded))
	assert.Nil(t, decoded.Refs["customer"].Target)
}

func TestDeserializeResolvesReferences(t *testing.T) {
	codec := entity.NewCodec(testutil.ShopSchema())
	data, err := codec.Serialize(sampleOrder())
	require.NoError(t, err)

	var asked []int64
	resolver := entity.ResolverFunc(func(_ context.Context, typeName string, id int64) (*entity.Entity, error) {
		asked = append(asked, id)
		if id == 12 {
			return nil, nil
		}
		return entity.New(typeName, id), nil
	})

	decoded, err := codec.Deserialize(context.Background(), data, resolver)
	require.NoError(t, err)

	assert.Equal(t, []int64{3, 11, 12}, asked)
	require.NotNil(t, decoded.Refs["customer"].Target)
	assert.Equal(t, "Customer", decoded.Refs["customer"].Target.Type)
	assert.NotNil(t, decoded.Owned["lines"][0].Target)
	assert.Nil(t, decoded.Owned["lines"][1].Target)
}

func TestSerializeRejectsUndeclaredAssociations(t *testing.T) {
	codec := entity.NewCodec(testutil.ShopSchema())

	tests := []struct {
		name string
		e    *entity.Entity
	}{
		{"unknown type", entity.New("Invoice", 1)},
		{"unknown ref", entity.New("Order", 1).Reference("vendor", "Customer", 2)},
		{"unknown owned", entity.New("Order", 1).Own("payments", "Note", 2)},
		{"wrong ref type", entity.New("Order", 1).Reference("customer", "Order", 2)},
		{"wrong owned type", entity.New("Order", 1).Own("lines", "Note", 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Serialize(tt.e)
			require.Error(t, err)
			assert.True(t, auditerr.IsConfiguration(err), "got %v", err)
		})
	}
}

func TestDeserializeRejectsMalformedPayloads(t *testing.T) {
	codec := entity.NewCodec(testutil.ShopSchema())
	ctx := context.Background()

	for _, payload := range []string{
		`[]`,
		`{"type":"Order"}`,
		`{"id":1}`,
		`{"id":1,"type":"Order","owned":{"lines":{"id":2}}}`,
		`{"id":1,"type":"Order","refs":{"customer":{"id":3,"type":"Order"}}}`,
	} {
		_, err := codec.Deserialize(ctx, []byte(payload), nil)
		assert.Error(t, err, payload)
	}

	_, err := codec.Deserialize(ctx, []byte(`{"id":1,"type":"Invoice"}`), nil)
	assert.True(t, auditerr.IsConfiguration(err))
}

func TestPeek(t *testing.T) {
	codec := entity.NewCodec(testutil.ShopSchema())
	h, err := codec.Peek([]byte(`{"fields":{},"id":42,"type":"Note"}`))
	require.NoError(t, err)
	assert.Equal(t, entity.Header{ID: 42, Type: "Note"}, h)
}

func TestEqualIgnoresTargetsAndEmptyCollections(t *testing.T) {
	a := sampleOrder()
	b := sampleOrder()
	b.Refs["customer"] = entity.Ref{ID: 3, Type: "Customer", Target: entity.New("Customer", 3)}
	b.Owned["notes"] = nil
	assert.True(t, entity.Equal(a, b))

	b.Fields["total"] = ir.Int(1)
	assert.False(t, entity.Equal(a, b))
	assert.True(t, entity.Equal(nil, nil))
	assert.False(t, entity.Equal(a, nil))
}

func TestCloneIsIndependent(t *testing.T) {
	a := sampleOrder()
	b := a.Clone()
	b.Fields["total"] = ir.Int(0)
	b.Owned["lines"][0].ID = 99
	assert.Equal(t, ir.Int(1250), a.Fields["total"])
	assert.Equal(t, int64(11), a.Owned["lines"][0].ID)
	assert.Equal(t, []int64{11, 12, 3}, a.RefIDs())
}
