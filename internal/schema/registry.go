// Package schema holds entity metadata: which entity types exist, their
// numeric ids, which are aggregate roots, and which associations they own
// (cascade) or merely reference.
//
// Metadata is declared in CUE (see Compile and LoadDir) and compiled into an
// immutable Registry. The registry replaces runtime subtype discovery: every
// type is listed explicitly.
package schema

import (
	"fmt"
	"sort"

	"github.com/roach88/asof/internal/auditerr"
)

// EntityType describes one persisted entity type.
type EntityType struct {
	Name          string
	ID            int32
	AggregateRoot bool
	// Owns maps an association name to the owned (cascaded) type name.
	Owns map[string]string
	// Refs maps an association name to a referenced, non-owned type name.
	Refs map[string]string
}

// Association returns the target type for an owned or referenced association.
func (t *EntityType) Association(name string) (string, bool) {
	if target, ok := t.Owns[name]; ok {
		return target, true
	}
	target, ok := t.Refs[name]
	return target, ok
}

// OwnedNames returns the owned association names in sorted order.
func (t *EntityType) OwnedNames() []string {
	return sortedKeys(t.Owns)
}

// Registry is an immutable set of entity types indexed by name and id.
type Registry struct {
	byName map[string]*EntityType
	byID   map[int32]*EntityType
}

// NewRegistry validates the types and builds a registry. Names and ids must be
// unique and every association must target a declared type.
func NewRegistry(types ...EntityType) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]*EntityType, len(types)),
		byID:   make(map[int32]*EntityType, len(types)),
	}
	for i := range types {
		t := types[i]
		if t.Name == "" {
			return nil, auditerr.Configuration("entity type #%d has no name", i)
		}
		if t.ID <= 0 {
			return nil, auditerr.Configuration("entity type %s: id must be positive, got %d", t.Name, t.ID)
		}
		if _, dup := r.byName[t.Name]; dup {
			return nil, auditerr.Configuration("entity type %s declared twice", t.Name)
		}
		if other, dup := r.byID[t.ID]; dup {
			return nil, auditerr.Configuration("entity types %s and %s share id %d", other.Name, t.Name, t.ID)
		}
		r.byName[t.Name] = &t
		r.byID[t.ID] = &t
	}
	for _, t := range r.byName {
		for assoc, target := range t.Owns {
			if _, ok := r.byName[target]; !ok {
				return nil, auditerr.Configuration("entity type %s: owned association %s targets unknown type %s", t.Name, assoc, target)
			}
			if _, clash := t.Refs[assoc]; clash {
				return nil, auditerr.Configuration("entity type %s: association %s is both owned and referenced", t.Name, assoc)
			}
		}
		for assoc, target := range t.Refs {
			if _, ok := r.byName[target]; !ok {
				return nil, auditerr.Configuration("entity type %s: reference %s targets unknown type %s", t.Name, assoc, target)
			}
		}
	}
	return r, nil
}

// MustRegistry is NewRegistry for static declarations; it panics on error.
func MustRegistry(types ...EntityType) *Registry {
	r, err := NewRegistry(types...)
	if err != nil {
		panic(err)
	}
	return r
}

// ByName returns the type with the given name.
func (r *Registry) ByName(name string) (*EntityType, error) {
	t, ok := r.byName[name]
	if !ok {
		return nil, auditerr.Configuration("no metadata for entity type %q", name)
	}
	return t, nil
}

// ByID returns the type with the given id.
func (r *Registry) ByID(id int32) (*EntityType, error) {
	t, ok := r.byID[id]
	if !ok {
		return nil, auditerr.Configuration("no metadata for entity type id %d", id)
	}
	return t, nil
}

// IsAggregateRoot reports whether the type id names an aggregate root.
// Unknown ids are not roots.
func (r *Registry) IsAggregateRoot(id int32) bool {
	t, ok := r.byID[id]
	return ok && t.AggregateRoot
}

// Types returns all types ordered by id.
func (r *Registry) Types() []*EntityType {
	out := make([]*EntityType, 0, len(r.byID))
	for _, t := range r.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reachable returns the named type followed by every type reachable through
// owned associations, breadth first, each listed once. Reference-only
// associations are not followed.
func (r *Registry) Reachable(name string) ([]*EntityType, error) {
	start, err := r.ByName(name)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{start.Name: true}
	out := []*EntityType{start}
	for i := 0; i < len(out); i++ {
		t := out[i]
		for _, assoc := range t.OwnedNames() {
			target := r.byName[t.Owns[assoc]]
			if seen[target.Name] {
				continue
			}
			seen[target.Name] = true
			out = append(out, target)
		}
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders a type for diagnostics.
func (t *EntityType) String() string {
	return fmt.Sprintf("%s#%d", t.Name, t.ID)
}
