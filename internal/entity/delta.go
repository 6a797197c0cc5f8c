package entity

import (
	"sort"

	"github.com/roach88/asof/internal/ir"
)

// Change is one differing path between two revisions of an entity. Old is
// nil when the path is new, New is nil when it was dropped.
//
// Paths look like "fields.total", "fields.address.city", "refs.customer" and
// "owned.lines". Reference and owned paths carry ids: an Int for a reference,
// an Array of Int for an owned collection.
type Change struct {
	Path string
	Old  ir.Value
	New  ir.Value
}

// Compare lists the structural differences from old to new, sorted by path.
// A nil side is treated as an entity with no state, so Compare(nil, e) lists
// everything e carries.
func Compare(old, new *Entity) []Change {
	var changes []Change
	compareObjects("fields", fieldsOf(old), fieldsOf(new), &changes)
	compareObjects("refs", refValues(old), refValues(new), &changes)
	compareObjects("owned", ownedValues(old), ownedValues(new), &changes)
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	if changes == nil {
		return []Change{}
	}
	return changes
}

func compareObjects(prefix string, a, b ir.Object, out *[]Change) {
	keys := map[string]struct{}{}
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	for k := range keys {
		path := prefix + "." + k
		av, aok := a[k]
		bv, bok := b[k]
		switch {
		case !aok:
			*out = append(*out, Change{Path: path, New: bv})
		case !bok:
			*out = append(*out, Change{Path: path, Old: av})
		default:
			ao, aIsObj := av.(ir.Object)
			bo, bIsObj := bv.(ir.Object)
			if aIsObj && bIsObj {
				compareObjects(path, ao, bo, out)
				continue
			}
			if !ir.Equal(av, bv) {
				*out = append(*out, Change{Path: path, Old: av, New: bv})
			}
		}
	}
}

func fieldsOf(e *Entity) ir.Object {
	if e == nil || e.Fields == nil {
		return ir.Object{}
	}
	return e.Fields
}

func refValues(e *Entity) ir.Object {
	out := ir.Object{}
	if e == nil {
		return out
	}
	for k, r := range e.Refs {
		out[k] = ir.Int(r.ID)
	}
	return out
}

func ownedValues(e *Entity) ir.Object {
	out := ir.Object{}
	if e == nil {
		return out
	}
	for k, rs := range e.Owned {
		if len(rs) == 0 {
			continue
		}
		arr := make(ir.Array, len(rs))
		for i, r := range rs {
			arr[i] = ir.Int(r.ID)
		}
		out[k] = arr
	}
	return out
}
