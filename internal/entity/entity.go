// Package entity is the live object graph that payloads decode into, the
// codec between the two, and the structural delta used in change reports.
package entity

import (
	"context"
	"sort"

	"github.com/roach88/asof/internal/ir"
)

// Ref points at another entity. Target is nil when the referenced object does
// not exist at the resolving coordinate, or when the graph was decoded
// without a resolver.
type Ref struct {
	ID     int64
	Type   string
	Target *Entity
}

// Entity is one live object.
type Entity struct {
	ID     int64
	Type   string
	Fields ir.Object
	Refs   map[string]Ref
	Owned  map[string][]Ref

	// Placeholder marks an empty instance handed out for a payload that
	// references its own id.
	Placeholder bool
}

// New returns an empty entity of the given type.
func New(typeName string, id int64) *Entity {
	return &Entity{
		ID:     id,
		Type:   typeName,
		Fields: ir.Object{},
		Refs:   map[string]Ref{},
		Owned:  map[string][]Ref{},
	}
}

// Set assigns a field and returns the entity for chaining.
func (e *Entity) Set(field string, v ir.Value) *Entity {
	e.Fields[field] = v
	return e
}

// Reference assigns a non-owned reference.
func (e *Entity) Reference(assoc, typeName string, id int64) *Entity {
	e.Refs[assoc] = Ref{ID: id, Type: typeName}
	return e
}

// Own appends owned children to an association.
func (e *Entity) Own(assoc, typeName string, ids ...int64) *Entity {
	for _, id := range ids {
		e.Owned[assoc] = append(e.Owned[assoc], Ref{ID: id, Type: typeName})
	}
	return e
}

// Clone copies the entity's own state. Ref targets are shared, not copied.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	out := &Entity{
		ID:          e.ID,
		Type:        e.Type,
		Fields:      e.Fields.Clone(),
		Refs:        make(map[string]Ref, len(e.Refs)),
		Owned:       make(map[string][]Ref, len(e.Owned)),
		Placeholder: e.Placeholder,
	}
	for k, r := range e.Refs {
		out.Refs[k] = r
	}
	for k, rs := range e.Owned {
		out.Owned[k] = append([]Ref(nil), rs...)
	}
	return out
}

// Equal compares two entities structurally. References compare by identity
// (type and id), not by the state of their targets, so cyclic graphs compare
// in finite time.
func Equal(a, b *Entity) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.ID != b.ID || a.Type != b.Type {
		return false
	}
	if !ir.Equal(normalizedFields(a.Fields), normalizedFields(b.Fields)) {
		return false
	}
	if len(a.Refs) != len(b.Refs) {
		return false
	}
	for k, ra := range a.Refs {
		rb, ok := b.Refs[k]
		if !ok || ra.ID != rb.ID || ra.Type != rb.Type {
			return false
		}
	}
	if len(nonEmpty(a.Owned)) != len(nonEmpty(b.Owned)) {
		return false
	}
	for k, ra := range a.Owned {
		rb := b.Owned[k]
		if len(ra) != len(rb) {
			return false
		}
		for i := range ra {
			if ra[i].ID != rb[i].ID || ra[i].Type != rb[i].Type {
				return false
			}
		}
	}
	return true
}

func normalizedFields(f ir.Object) ir.Object {
	if f == nil {
		return ir.Object{}
	}
	return f
}

func nonEmpty(m map[string][]Ref) map[string][]Ref {
	out := make(map[string][]Ref, len(m))
	for k, v := range m {
		if len(v) > 0 {
			out[k] = v
		}
	}
	return out
}

// RefIDs lists the ids referenced by e, owned children first, each group in
// association-name order.
func (e *Entity) RefIDs() []int64 {
	var ids []int64
	for _, k := range sortedNames(e.Owned) {
		for _, r := range e.Owned[k] {
			ids = append(ids, r.ID)
		}
	}
	for _, k := range sortedNames(e.Refs) {
		ids = append(ids, e.Refs[k].ID)
	}
	return ids
}

func sortedNames[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Resolver turns a reference into a live entity. A nil entity with a nil
// error means the object does not exist at the resolver's coordinate.
type Resolver interface {
	Resolve(ctx context.Context, typeName string, id int64) (*Entity, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, typeName string, id int64) (*Entity, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, typeName string, id int64) (*Entity, error) {
	return f(ctx, typeName, id)
}

// Unresolved leaves every reference target nil. Used for live state, where
// only the object's own fields matter.
var Unresolved Resolver = ResolverFunc(func(context.Context, string, int64) (*Entity, error) {
	return nil, nil
})
