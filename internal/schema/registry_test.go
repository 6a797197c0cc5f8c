package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/asof/internal/auditerr"
)

func shopTypes() []EntityType {
	return []EntityType{
		{Name: "Order", ID: 1, AggregateRoot: true,
			Owns: map[string]string{"lines": "OrderLine"},
			Refs: map[string]string{"customer": "Customer"}},
		{Name: "OrderLine", ID: 2, Owns: map[string]string{"discounts": "Discount"}},
		{Name: "Customer", ID: 3, AggregateRoot: true},
		{Name: "Discount", ID: 4},
	}
}

func TestNewRegistryLookups(t *testing.T) {
	r, err := NewRegistry(shopTypes()...)
	require.NoError(t, err)

	order, err := r.ByName("Order")
	require.NoError(t, err)
	assert.Equal(t, int32(1), order.ID)

	line, err := r.ByID(2)
	require.NoError(t, err)
	assert.Equal(t, "OrderLine", line.Name)

	assert.True(t, r.IsAggregateRoot(1))
	assert.False(t, r.IsAggregateRoot(2))
	assert.False(t, r.IsAggregateRoot(99))

	_, err = r.ByName("Invoice")
	assert.True(t, auditerr.IsConfiguration(err))
	_, err = r.ByID(99)
	assert.True(t, auditerr.IsConfiguration(err))
}

func TestNewRegistryRejectsBadMetadata(t *testing.T) {
	tests := []struct {
		name  string
		types []EntityType
	}{
		{"missing name", []EntityType{{ID: 1}}},
		{"zero id", []EntityType{{Name: "A"}}},
		{"duplicate name", []EntityType{{Name: "A", ID: 1}, {Name: "A", ID: 2}}},
		{"duplicate id", []EntityType{{Name: "A", ID: 1}, {Name: "B", ID: 1}}},
		{"unknown owned target", []EntityType{{Name: "A", ID: 1, Owns: map[string]string{"x": "Nope"}}}},
		{"unknown ref target", []EntityType{{Name: "A", ID: 1, Refs: map[string]string{"x": "Nope"}}}},
		{"owned and referenced", []EntityType{
			{Name: "A", ID: 1, Owns: map[string]string{"x": "B"}, Refs: map[string]string{"x": "B"}},
			{Name: "B", ID: 2},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.types...)
			assert.True(t, auditerr.IsConfiguration(err), "got %v", err)
		})
	}
}

func TestReachableFollowsOwnedOnly(t *testing.T) {
	r := MustRegistry(shopTypes()...)

	types, err := r.Reachable("Order")
	require.NoError(t, err)

	names := make([]string, len(types))
	for i, ty := range types {
		names[i] = ty.Name
	}
	assert.Equal(t, []string{"Order", "OrderLine", "Discount"}, names)
}

func TestReachableHandlesOwnershipCycles(t *testing.T) {
	r := MustRegistry(
		EntityType{Name: "A", ID: 1, Owns: map[string]string{"b": "B"}},
		EntityType{Name: "B", ID: 2, Owns: map[string]string{"a": "A"}},
	)
	types, err := r.Reachable("A")
	require.NoError(t, err)
	assert.Len(t, types, 2)
}

func TestAssociation(t *testing.T) {
	r := MustRegistry(shopTypes()...)
	order, _ := r.ByName("Order")

	target, ok := order.Association("lines")
	assert.True(t, ok)
	assert.Equal(t, "OrderLine", target)

	target, ok = order.Association("customer")
	assert.True(t, ok)
	assert.Equal(t, "Customer", target)

	_, ok = order.Association("missing")
	assert.False(t, ok)
}

func TestTypesOrderedByID(t *testing.T) {
	r := MustRegistry(shopTypes()...)
	var ids []int32
	for _, ty := range r.Types() {
		ids = append(ids, ty.ID)
	}
	assert.Equal(t, []int32{1, 2, 3, 4}, ids)
}

func TestMustRegistryPanics(t *testing.T) {
	assert.Panics(t, func() { MustRegistry(EntityType{Name: "A"}) })
}
