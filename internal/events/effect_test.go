package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/asof/internal/auditerr"
	"github.com/roach88/asof/internal/ir"
)

func TestSetField(t *testing.T) {
	tests := []struct {
		name   string
		before ir.Object
	}{
		{"replaces a value", ir.Object{"status": ir.String("new"), "total": ir.Int(3)}},
		{"adds a missing field", ir.Object{"total": ir.Int(3)}},
		{"nil fields", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eff := &SetField{Field: "status", Value: ir.String("paid")}
			applied, err := eff.Apply(tt.before)
			require.NoError(t, err)
			assert.Equal(t, ir.String("paid"), applied["status"])

			restored, err := eff.Rollback(applied)
			require.NoError(t, err)
			want := tt.before
			if want == nil {
				want = ir.Object{}
			}
			assert.True(t, ir.Equal(want, restored))
		})
	}
}

func TestSetField_RollbackBeforeApply(t *testing.T) {
	_, err := (&SetField{Field: "x", Value: ir.Int(1)}).Rollback(ir.Object{})
	assert.True(t, auditerr.IsInvalidState(err))
}

func TestAdjustInt(t *testing.T) {
	eff := &AdjustInt{Field: "total", Delta: 5}

	out, err := eff.Apply(ir.Object{"total": ir.Int(10)})
	require.NoError(t, err)
	assert.Equal(t, ir.Int(15), out["total"])

	out, err = eff.Rollback(out)
	require.NoError(t, err)
	assert.Equal(t, ir.Int(10), out["total"])

	out, err = eff.Apply(ir.Object{})
	require.NoError(t, err)
	assert.Equal(t, ir.Int(5), out["total"])

	_, err = eff.Apply(ir.Object{"total": ir.String("ten")})
	assert.True(t, auditerr.IsInvalidState(err))
}

func TestStatusTransition(t *testing.T) {
	eff := &StatusTransition{From: "new", To: "paid"}

	out, err := eff.Apply(ir.Object{"status": ir.String("new")})
	require.NoError(t, err)
	assert.Equal(t, ir.String("paid"), out["status"])

	_, err = eff.Apply(out)
	assert.True(t, auditerr.IsInvalidState(err))

	out, err = eff.Rollback(out)
	require.NoError(t, err)
	assert.Equal(t, ir.String("new"), out["status"])
}

func TestEffectRegistry(t *testing.T) {
	assert.Equal(t, []string{KindAdjustInt, KindSetField, KindStatusTransition}, Kinds())

	captured := &SetField{Field: "status", Value: ir.String("paid")}
	_, err := captured.Apply(ir.Object{"status": ir.String("new")})
	require.NoError(t, err)

	for _, eff := range []Effect{
		captured,
		&AdjustInt{Field: "total", Delta: -2},
		&StatusTransition{From: "paid", To: "shipped"},
	} {
		data, err := EncodeEffect(eff)
		require.NoError(t, err)
		decoded, err := DecodeEffect(eff.Kind(), data)
		require.NoError(t, err)
		assert.Equal(t, eff, decoded, eff.Kind())
	}

	_, err = DecodeEffect("refund", []byte(`{}`))
	assert.True(t, auditerr.IsConfiguration(err))

	_, err = DecodeEffect(KindAdjustInt, []byte(`{"field":"total"}`))
	assert.Error(t, err)
}
