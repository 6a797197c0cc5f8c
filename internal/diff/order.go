// Package diff builds change reports between two snapshots, ordered so that
// every parent object is reported before its children.
package diff

import (
	"slices"

	"github.com/roach88/asof/internal/auditerr"
	"github.com/roach88/asof/internal/ir"
)

// Order sorts entries parent-before-child along ParentObjectID links.
//
// An entry with no parent, or whose parent is itself, is a root. Entries
// whose parent is not in the set start a tree of the ordering forest; in
// strict mode such a link is a STRUCTURAL_INTEGRITY error instead. Among entries that are ready at the same time, the one earlier in
// the input goes first. A duplicate object id or a link cycle is a
// STRUCTURAL_INTEGRITY error.
func Order(entries []ir.AuditLogEntry, strict bool) ([]ir.AuditLogEntry, error) {
	pos := make(map[int64]int, len(entries))
	for i, e := range entries {
		if _, dup := pos[e.ObjectID]; dup {
			return nil, auditerr.StructuralIntegrity(e.ObjectID, "object appears twice in the change set")
		}
		pos[e.ObjectID] = i
	}

	children := make([][]int, len(entries))
	var ready []int
	for i, e := range entries {
		if e.ParentObjectID == 0 || e.ParentObjectID == e.ObjectID {
			ready = append(ready, i)
			continue
		}
		p, ok := pos[e.ParentObjectID]
		if !ok {
			if strict {
				return nil, auditerr.StructuralIntegrity(e.ObjectID,
					"parent %d is not in the change set", e.ParentObjectID)
			}
			ready = append(ready, i)
			continue
		}
		children[p] = append(children[p], i)
	}

	out := make([]ir.AuditLogEntry, 0, len(entries))
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		out = append(out, entries[i])
		for _, c := range children[i] {
			at, _ := slices.BinarySearch(ready, c)
			ready = slices.Insert(ready, at, c)
		}
	}

	if len(out) < len(entries) {
		emitted := make(map[int64]bool, len(out))
		for _, e := range out {
			emitted[e.ObjectID] = true
		}
		for _, e := range entries {
			if !emitted[e.ObjectID] {
				return nil, auditerr.StructuralIntegrity(e.ObjectID,
					"parent links form a cycle through object %d", e.ParentObjectID)
			}
		}
	}
	return out, nil
}
