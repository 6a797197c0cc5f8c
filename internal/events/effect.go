package events

import (
	"fmt"
	"slices"

	"github.com/roach88/asof/internal/auditerr"
	"github.com/roach88/asof/internal/ir"
)

// Effect is what a business event does to its target's fields. Apply may
// capture state it needs for Rollback; the effect is persisted after every
// transition so that the captured state survives.
type Effect interface {
	Kind() string
	Apply(fields ir.Object) (ir.Object, error)
	Rollback(fields ir.Object) (ir.Object, error)
	encode() ir.Object
}

// decoder rebuilds an effect from its persisted form.
type decoder func(ir.Object) (Effect, error)

// registry maps each effect kind to its decoder. Adding an effect means
// adding it here.
var registry = map[string]decoder{
	KindSetField:         decodeSetField,
	KindAdjustInt:        decodeAdjustInt,
	KindStatusTransition: decodeStatusTransition,
}

// Kinds lists the registered effect kinds.
func Kinds() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// EncodeEffect returns the effect's canonical JSON.
func EncodeEffect(e Effect) ([]byte, error) {
	data, err := ir.MarshalCanonical(e.encode())
	if err != nil {
		return nil, fmt.Errorf("encode %s effect: %w", e.Kind(), err)
	}
	return data, nil
}

// DecodeEffect rebuilds a persisted effect. An unregistered kind is a
// CONFIGURATION error.
func DecodeEffect(kind string, data []byte) (Effect, error) {
	dec, ok := registry[kind]
	if !ok {
		return nil, auditerr.Configuration("unknown event effect %q", kind)
	}
	obj, err := ir.ParseCanonicalObject(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s effect: %w", kind, err)
	}
	e, err := dec(obj)
	if err != nil {
		return nil, fmt.Errorf("decode %s effect: %w", kind, err)
	}
	return e, nil
}

const (
	KindSetField         = "set_field"
	KindAdjustInt        = "adjust_int"
	KindStatusTransition = "status_transition"
)

// SetField assigns a field. The prior value is captured on Apply and
// restored on Rollback; a field that was absent is removed again.
type SetField struct {
	Field    string
	Value    ir.Value
	Previous ir.Value // nil when the field was absent
	captured bool
}

func (e *SetField) Kind() string { return KindSetField }

func (e *SetField) Apply(fields ir.Object) (ir.Object, error) {
	out := cloneFields(fields)
	e.Previous = out[e.Field]
	e.captured = true
	out[e.Field] = ir.CloneValue(e.Value)
	return out, nil
}

func (e *SetField) Rollback(fields ir.Object) (ir.Object, error) {
	if !e.captured {
		return nil, auditerr.InvalidState("set_field %s was never applied", e.Field)
	}
	out := cloneFields(fields)
	if e.Previous == nil {
		delete(out, e.Field)
	} else {
		out[e.Field] = ir.CloneValue(e.Previous)
	}
	return out, nil
}

func (e *SetField) encode() ir.Object {
	obj := ir.Object{"field": ir.String(e.Field), "value": e.Value, "captured": ir.Bool(e.captured)}
	if e.Previous != nil {
		obj["previous"] = e.Previous
	}
	return obj
}

func decodeSetField(obj ir.Object) (Effect, error) {
	field, ok := obj["field"].(ir.String)
	if !ok || field == "" {
		return nil, fmt.Errorf("missing field name")
	}
	value, ok := obj["value"]
	if !ok {
		return nil, fmt.Errorf("missing value")
	}
	captured, _ := obj["captured"].(ir.Bool)
	return &SetField{Field: string(field), Value: value, Previous: obj["previous"], captured: bool(captured)}, nil
}

// AdjustInt adds Delta to an integer field; an absent field counts as 0.
type AdjustInt struct {
	Field string
	Delta int64
}

func (e *AdjustInt) Kind() string { return KindAdjustInt }

func (e *AdjustInt) Apply(fields ir.Object) (ir.Object, error) {
	return e.add(fields, e.Delta)
}

func (e *AdjustInt) Rollback(fields ir.Object) (ir.Object, error) {
	return e.add(fields, -e.Delta)
}

func (e *AdjustInt) add(fields ir.Object, delta int64) (ir.Object, error) {
	out := cloneFields(fields)
	var cur ir.Int
	if v, ok := out[e.Field]; ok {
		n, isInt := v.(ir.Int)
		if !isInt {
			return nil, auditerr.InvalidState("adjust_int: field %s holds %T, not an integer", e.Field, v)
		}
		cur = n
	}
	out[e.Field] = cur + ir.Int(delta)
	return out, nil
}

func (e *AdjustInt) encode() ir.Object {
	return ir.Object{"field": ir.String(e.Field), "delta": ir.Int(e.Delta)}
}

func decodeAdjustInt(obj ir.Object) (Effect, error) {
	field, ok := obj["field"].(ir.String)
	if !ok || field == "" {
		return nil, fmt.Errorf("missing field name")
	}
	delta, ok := obj["delta"].(ir.Int)
	if !ok {
		return nil, fmt.Errorf("missing integer delta")
	}
	return &AdjustInt{Field: string(field), Delta: int64(delta)}, nil
}

// StatusTransition moves the "status" field from From to To. Both
// directions require the field to hold the expected value.
type StatusTransition struct {
	From string
	To   string
}

const statusField = "status"

func (e *StatusTransition) Kind() string { return KindStatusTransition }

func (e *StatusTransition) Apply(fields ir.Object) (ir.Object, error) {
	return move(fields, e.From, e.To)
}

func (e *StatusTransition) Rollback(fields ir.Object) (ir.Object, error) {
	return move(fields, e.To, e.From)
}

func move(fields ir.Object, from, to string) (ir.Object, error) {
	cur, _ := fields[statusField].(ir.String)
	if string(cur) != from {
		return nil, auditerr.InvalidState("status is %q, expected %q", cur, from)
	}
	out := cloneFields(fields)
	out[statusField] = ir.String(to)
	return out, nil
}

func (e *StatusTransition) encode() ir.Object {
	return ir.Object{"from": ir.String(e.From), "to": ir.String(e.To)}
}

func decodeStatusTransition(obj ir.Object) (Effect, error) {
	from, ok1 := obj["from"].(ir.String)
	to, ok2 := obj["to"].(ir.String)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("from and to must be strings")
	}
	return &StatusTransition{From: string(from), To: string(to)}, nil
}

func cloneFields(fields ir.Object) ir.Object {
	if fields == nil {
		return ir.Object{}
	}
	return fields.Clone()
}
