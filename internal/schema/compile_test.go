package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileString(t *testing.T) {
	r, err := CompileString(`
		entity: Order: {
			id:   1
			root: true
			owns: lines: "OrderLine"
		}
		entity: OrderLine: id: 2
	`)
	require.NoError(t, err)

	order, err := r.ByName("Order")
	require.NoError(t, err)
	assert.True(t, order.AggregateRoot)
	assert.Equal(t, map[string]string{"lines": "OrderLine"}, order.Owns)
	assert.Empty(t, order.Refs)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"no entities", `other: 1`, "entity"},
		{"missing id", `entity: A: root: true`, "A.id"},
		{"id out of range", `entity: A: id: 0`, "A.id"},
		{"bad target", `entity: A: {id: 1, owns: b: 3}`, "A.owns.b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileString(tt.src)
			require.Error(t, err)
			var ce *CompileError
			require.True(t, errors.As(err, &ce), "got %T: %v", err, err)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestCompileInvalidCUE(t *testing.T) {
	_, err := CompileString(`entity: A: { id: `)
	assert.Error(t, err)
}

func TestLoadDir(t *testing.T) {
	r, err := LoadDir("testdata/shop")
	require.NoError(t, err)
	assert.Len(t, r.Types(), 5)

	types, err := r.Reachable("Order")
	require.NoError(t, err)
	assert.Equal(t, "Order", types[0].Name)
	assert.Len(t, types, 4)
}

func TestLoadDirErrors(t *testing.T) {
	_, err := LoadDir("testdata/missing")
	assert.Error(t, err)

	_, err = LoadDir(t.TempDir())
	assert.ErrorContains(t, err, "no CUE files")
}
