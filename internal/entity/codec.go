package entity

import (
	"context"
	"fmt"

	"github.com/roach88/asof/internal/auditerr"
	"github.com/roach88/asof/internal/ir"
	"github.com/roach88/asof/internal/schema"
)

// Codec converts entities to and from canonical JSON payloads, checking
// associations against the schema.
//
// Payload shape:
//
//	{"fields":{...},"id":7,"owned":{"lines":[{"id":8,"type":"OrderLine"}]},
//	 "refs":{"customer":{"id":3,"type":"Customer"}},"type":"Order"}
type Codec struct {
	schema *schema.Registry
}

// NewCodec returns a codec bound to a registry.
func NewCodec(reg *schema.Registry) *Codec {
	return &Codec{schema: reg}
}

// Schema returns the registry the codec validates against.
func (c *Codec) Schema() *schema.Registry {
	return c.schema
}

// Serialize produces the canonical payload for e.
func (c *Codec) Serialize(e *Entity) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("serialize: nil entity")
	}
	t, err := c.schema.ByName(e.Type)
	if err != nil {
		return nil, fmt.Errorf("serialize %d: %w", e.ID, err)
	}

	refs := ir.Object{}
	for assoc, r := range e.Refs {
		target, ok := t.Refs[assoc]
		if !ok {
			return nil, auditerr.Configuration("%s has no reference association %q", t.Name, assoc)
		}
		if r.Type != "" && r.Type != target {
			return nil, auditerr.Configuration("%s.%s must reference %s, got %s", t.Name, assoc, target, r.Type)
		}
		refs[assoc] = refObject(r.ID, target)
	}

	owned := ir.Object{}
	for assoc, rs := range e.Owned {
		target, ok := t.Owns[assoc]
		if !ok {
			return nil, auditerr.Configuration("%s has no owned association %q", t.Name, assoc)
		}
		arr := make(ir.Array, 0, len(rs))
		for _, r := range rs {
			if r.Type != "" && r.Type != target {
				return nil, auditerr.Configuration("%s.%s must own %s, got %s", t.Name, assoc, target, r.Type)
			}
			arr = append(arr, refObject(r.ID, target))
		}
		owned[assoc] = arr
	}

	fields := e.Fields
	if fields == nil {
		fields = ir.Object{}
	}
	payload := ir.Object{
		"id":     ir.Int(e.ID),
		"type":   ir.String(t.Name),
		"fields": fields,
		"refs":   refs,
		"owned":  owned,
	}
	data, err := ir.MarshalCanonical(payload)
	if err != nil {
		return nil, fmt.Errorf("serialize %s %d: %w", t.Name, e.ID, err)
	}
	return data, nil
}

func refObject(id int64, typeName string) ir.Object {
	return ir.Object{"id": ir.Int(id), "type": ir.String(typeName)}
}

// Header is the identity part of a payload.
type Header struct {
	ID   int64
	Type string
}

// Peek reads a payload's identity without resolving anything.
func (c *Codec) Peek(data []byte) (Header, error) {
	obj, err := ir.ParseCanonicalObject(data)
	if err != nil {
		return Header{}, err
	}
	return header(obj)
}

func header(obj ir.Object) (Header, error) {
	id, ok := obj["id"].(ir.Int)
	if !ok {
		return Header{}, fmt.Errorf("payload has no integer id")
	}
	typeName, ok := obj["type"].(ir.String)
	if !ok {
		return Header{}, fmt.Errorf("payload %d has no type", id)
	}
	return Header{ID: int64(id), Type: string(typeName)}, nil
}

// Tracker is implemented by resolvers that need the entity under
// construction before its references are resolved.
type Tracker interface {
	Decoding(e *Entity)
}

// Deserialize decodes a payload into a live entity, resolving every
// reference through r. If r is a Tracker it sees the entity once its fields
// are set and before any reference is resolved.
func (c *Codec) Deserialize(ctx context.Context, data []byte, r Resolver) (*Entity, error) {
	if r == nil {
		r = Unresolved
	}
	obj, err := ir.ParseCanonicalObject(data)
	if err != nil {
		return nil, err
	}
	h, err := header(obj)
	if err != nil {
		return nil, err
	}
	t, err := c.schema.ByName(h.Type)
	if err != nil {
		return nil, fmt.Errorf("deserialize %d: %w", h.ID, err)
	}

	e := New(t.Name, h.ID)
	if fields, ok := obj["fields"].(ir.Object); ok {
		e.Fields = fields
	}
	if tr, ok := r.(Tracker); ok {
		tr.Decoding(e)
	}

	if refs, ok := obj["refs"].(ir.Object); ok {
		for _, assoc := range refs.SortedKeys() {
			target, ok := t.Refs[assoc]
			if !ok {
				return nil, auditerr.Configuration("payload %d: %s has no reference association %q", h.ID, t.Name, assoc)
			}
			ref, err := decodeRef(ctx, refs[assoc], target, r)
			if err != nil {
				return nil, fmt.Errorf("payload %d: refs.%s: %w", h.ID, assoc, err)
			}
			e.Refs[assoc] = ref
		}
	}

	if owned, ok := obj["owned"].(ir.Object); ok {
		for _, assoc := range owned.SortedKeys() {
			target, ok := t.Owns[assoc]
			if !ok {
				return nil, auditerr.Configuration("payload %d: %s has no owned association %q", h.ID, t.Name, assoc)
			}
			arr, ok := owned[assoc].(ir.Array)
			if !ok {
				return nil, fmt.Errorf("payload %d: owned.%s is not a list", h.ID, assoc)
			}
			refs := make([]Ref, 0, len(arr))
			for i, v := range arr {
				ref, err := decodeRef(ctx, v, target, r)
				if err != nil {
					return nil, fmt.Errorf("payload %d: owned.%s[%d]: %w", h.ID, assoc, i, err)
				}
				refs = append(refs, ref)
			}
			e.Owned[assoc] = refs
		}
	}
	return e, nil
}

func decodeRef(ctx context.Context, v ir.Value, target string, r Resolver) (Ref, error) {
	obj, ok := v.(ir.Object)
	if !ok {
		return Ref{}, fmt.Errorf("reference is not an object")
	}
	id, ok := obj["id"].(ir.Int)
	if !ok {
		return Ref{}, fmt.Errorf("reference has no integer id")
	}
	if typeName, ok := obj["type"].(ir.String); ok && string(typeName) != target {
		return Ref{}, fmt.Errorf("reference type %s does not match association target %s", typeName, target)
	}
	resolved, err := r.Resolve(ctx, target, int64(id))
	if err != nil {
		return Ref{}, err
	}
	return Ref{ID: int64(id), Type: target, Target: resolved}, nil
}
