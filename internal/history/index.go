// Package history holds audit log entries in memory and answers ordering
// questions about them without further store access.
//
// Every index keeps entries per object, bucketed by effective date and then
// by commit id. CommitIndex adds a primary map keyed by commit id, and
// DateIndex one keyed by effective date. Neither is safe for concurrent
// mutation; each belongs to one request.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/roach88/asof/internal/auditerr"
	"github.com/roach88/asof/internal/criteria"
	"github.com/roach88/asof/internal/ir"
	"github.com/roach88/asof/internal/metrics"
	"github.com/roach88/asof/internal/schema"
	"github.com/roach88/asof/internal/store"
)

// Option configures an index.
type Option func(*Index)

// WithMetrics counts indexed and ignored entries on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ix *Index) { ix.metrics = m }
}

// Index is the shared per-object structure. It is usable on its own for
// point lookups; CommitIndex and DateIndex embed it.
type Index struct {
	reader  store.Reader
	schema  *schema.Registry
	metrics *metrics.Metrics

	objects     map[int64]*objectHistory
	types       map[int32]map[int64]struct{}
	resurrected map[int64]struct{}

	onInsert func(ir.AuditLogEntry)
}

type objectHistory struct {
	buckets      []*dateBucket // ascending by date
	commits      []int64       // ascending
	byCommit     map[int64]ir.AuditLogEntry
	firstRemoval int64
}

type dateBucket struct {
	date    time.Time
	commits []int64 // ascending
}

// New returns an empty index reading from r. reg may be nil when root-scoped
// loads are not used.
func New(r store.Reader, reg *schema.Registry, opts ...Option) *Index {
	ix := &Index{
		reader:      r,
		schema:      reg,
		objects:     map[int64]*objectHistory{},
		types:       map[int32]map[int64]struct{}{},
		resurrected: map[int64]struct{}{},
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Add indexes entries. An exact duplicate of an indexed entry is ignored; a
// different entry for an indexed (ObjectID, CommitID) fails with a
// CONFLICTING_ENTRY error and stops at that entry.
func (ix *Index) Add(entries ...ir.AuditLogEntry) error {
	for _, e := range entries {
		if _, err := ix.insert(e); err != nil {
			return err
		}
	}
	return nil
}

// insert reports whether e was new.
func (ix *Index) insert(e ir.AuditLogEntry) (bool, error) {
	if err := e.Validate(); err != nil {
		return false, fmt.Errorf("index entry: %w", err)
	}
	e.EffectiveDate = ir.TruncateDate(e.EffectiveDate)

	h, ok := ix.objects[e.ObjectID]
	if !ok {
		h = &objectHistory{byCommit: map[int64]ir.AuditLogEntry{}}
		ix.objects[e.ObjectID] = h
	}
	if existing, dup := h.byCommit[e.CommitID]; dup {
		if existing.Same(e) {
			slog.Debug("duplicate entry ignored", "object_id", e.ObjectID, "commit_id", e.CommitID)
			ix.metrics.DuplicateIgnored()
			return false, nil
		}
		return false, auditerr.ConflictingEntry(e.ObjectID, e.CommitID)
	}

	h.byCommit[e.CommitID] = e
	h.commits = insertSorted(h.commits, e.CommitID)

	i := sort.Search(len(h.buckets), func(i int) bool { return !h.buckets[i].date.Before(e.EffectiveDate) })
	if i == len(h.buckets) || !h.buckets[i].date.Equal(e.EffectiveDate) {
		h.buckets = slices.Insert(h.buckets, i, &dateBucket{date: e.EffectiveDate})
	}
	h.buckets[i].commits = insertSorted(h.buckets[i].commits, e.CommitID)

	if e.Action == ir.ActionRemoved && (h.firstRemoval == 0 || e.CommitID < h.firstRemoval) {
		h.firstRemoval = e.CommitID
	}
	if h.firstRemoval != 0 && h.commits[len(h.commits)-1] > h.firstRemoval {
		if _, seen := ix.resurrected[e.ObjectID]; !seen {
			slog.Warn("entry follows removal",
				"object_id", e.ObjectID,
				"removed_at", h.firstRemoval,
				"commit_id", h.commits[len(h.commits)-1])
			ix.resurrected[e.ObjectID] = struct{}{}
		}
	}

	if ix.types[e.EntityTypeID] == nil {
		ix.types[e.EntityTypeID] = map[int64]struct{}{}
	}
	ix.types[e.EntityTypeID][e.ObjectID] = struct{}{}

	ix.metrics.EntryIndexed()
	if ix.onInsert != nil {
		ix.onInsert(e)
	}
	return true, nil
}

func insertSorted(s []int64, v int64) []int64 {
	i, found := slices.BinarySearch(s, v)
	if found {
		return s
	}
	return slices.Insert(s, i, v)
}

// Len is the number of indexed entries.
func (ix *Index) Len() int {
	n := 0
	for _, h := range ix.objects {
		n += len(h.byCommit)
	}
	return n
}

// Has reports whether any entry for the object is indexed.
func (ix *Index) Has(objectID int64) bool {
	_, ok := ix.objects[objectID]
	return ok
}

// Entry returns the entry for (objectID, commitID).
func (ix *Index) Entry(objectID, commitID int64) (ir.AuditLogEntry, bool) {
	h, ok := ix.objects[objectID]
	if !ok {
		return ir.AuditLogEntry{}, false
	}
	e, ok := h.byCommit[commitID]
	return e, ok
}

// History returns an object's entries in commit order.
func (ix *Index) History(objectID int64) []ir.AuditLogEntry {
	h, ok := ix.objects[objectID]
	if !ok {
		return []ir.AuditLogEntry{}
	}
	out := make([]ir.AuditLogEntry, len(h.commits))
	for i, c := range h.commits {
		out[i] = h.byCommit[c]
	}
	return out
}

// Governing returns the entry in force for an object at a coordinate: on
// the commit axis the highest commit at or before it, on the date axis the
// highest commit within the latest effective date at or before it. A
// Removed entry can govern; callers treat it as absence.
func (ix *Index) Governing(objectID int64, at ir.Coordinate) (ir.AuditLogEntry, bool) {
	h, ok := ix.objects[objectID]
	if !ok {
		return ir.AuditLogEntry{}, false
	}
	if at.Axis == ir.AxisCommit {
		i := sort.Search(len(h.commits), func(i int) bool { return h.commits[i] > at.CommitID }) - 1
		if i < 0 {
			return ir.AuditLogEntry{}, false
		}
		return h.byCommit[h.commits[i]], true
	}
	i := sort.Search(len(h.buckets), func(i int) bool { return h.buckets[i].date.After(at.Date) }) - 1
	if i < 0 {
		return ir.AuditLogEntry{}, false
	}
	b := h.buckets[i]
	return h.byCommit[b.commits[len(b.commits)-1]], true
}

// Objects returns the ids of indexed objects of one entity type, ascending.
func (ix *Index) Objects(entityTypeID int32) []int64 {
	set := ix.types[entityTypeID]
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Resurrected lists objects that have entries after a Removed entry.
func (ix *Index) Resurrected() []int64 {
	out := make([]int64, 0, len(ix.resurrected))
	for id := range ix.resurrected {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// CommitIDs returns every distinct indexed commit id, ascending.
func (ix *Index) CommitIDs() []int64 {
	seen := map[int64]struct{}{}
	for _, h := range ix.objects {
		for _, c := range h.commits {
			seen[c] = struct{}{}
		}
	}
	out := make([]int64, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Dates returns every distinct indexed effective date, ascending.
func (ix *Index) Dates() []time.Time {
	seen := map[string]time.Time{}
	for _, h := range ix.objects {
		for _, b := range h.buckets {
			seen[b.date.Format(ir.DateLayout)] = b.date
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return out
}

// LoadTypes indexes every entry of the given entity types visible at a
// coordinate.
func (ix *Index) LoadTypes(ctx context.Context, typeIDs []int32, at ir.Coordinate) error {
	if len(typeIDs) == 0 {
		return nil
	}
	entries, err := ix.reader.Entries(ctx, criteria.Query{
		Filter: criteria.All(criteria.EntityTypeIn{TypeIDs: typeIDs}, criteria.AsOf(at)),
	})
	if err != nil {
		return fmt.Errorf("load types %v at %s: %w", typeIDs, at, err)
	}
	return ix.Add(entries...)
}

// LoadObjects indexes the full history of the given objects.
func (ix *Index) LoadObjects(ctx context.Context, objectIDs []int64) error {
	if len(objectIDs) == 0 {
		return nil
	}
	entries, err := ix.reader.Entries(ctx, criteria.Query{Filter: criteria.ObjectIn{IDs: objectIDs}})
	if err != nil {
		return fmt.Errorf("load objects: %w", err)
	}
	return ix.Add(entries...)
}

// checkRoots confirms every id names an aggregate root with history. An id
// with no entries is NOT_FOUND; an id whose type is not a root is
// UNSUPPORTED_OPERATION.
func (ix *Index) checkRoots(ctx context.Context, roots []int64) error {
	if ix.schema == nil {
		return auditerr.Configuration("root-scoped loads need entity metadata")
	}
	entries, err := ix.reader.Entries(ctx, criteria.Query{Filter: criteria.ObjectIn{IDs: roots}})
	if err != nil {
		return fmt.Errorf("check roots: %w", err)
	}
	typeOf := map[int64]int32{}
	for _, e := range entries {
		typeOf[e.ObjectID] = e.EntityTypeID
	}
	for _, id := range roots {
		typeID, ok := typeOf[id]
		if !ok {
			return auditerr.NotFound(id, "no audit history")
		}
		if !ix.schema.IsAggregateRoot(typeID) {
			return auditerr.Unsupported("object %d (type id %d) is not an aggregate root", id, typeID)
		}
	}
	return nil
}

// loadRoots indexes every entry under the given roots.
func (ix *Index) loadRoots(ctx context.Context, roots []int64) ([]ir.AuditLogEntry, error) {
	if len(roots) == 0 {
		return []ir.AuditLogEntry{}, nil
	}
	if err := ix.checkRoots(ctx, roots); err != nil {
		return nil, err
	}
	entries, err := ix.reader.Entries(ctx, criteria.Query{Filter: criteria.RootIn{IDs: roots}})
	if err != nil {
		return nil, fmt.Errorf("load roots: %w", err)
	}
	if err := ix.Add(entries...); err != nil {
		return nil, err
	}
	return entries, nil
}
