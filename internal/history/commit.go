package history

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/asof/internal/auditerr"
	"github.com/roach88/asof/internal/criteria"
	"github.com/roach88/asof/internal/ir"
	"github.com/roach88/asof/internal/schema"
	"github.com/roach88/asof/internal/store"
)

type entryKey struct {
	object int64
	commit int64
}

// CommitIndex is the system-time view: its primary map is keyed by commit id.
//
// Entries the caller asked for are "matched"; entries pulled in only to
// answer ordering and reference questions about the same objects are
// indexed but unmatched.
type CommitIndex struct {
	*Index
	byCommit map[int64]map[int64]ir.AuditLogEntry
	matched  map[entryKey]struct{}
}

// NewCommitIndex returns an empty commit-indexed cache.
func NewCommitIndex(r store.Reader, reg *schema.Registry, opts ...Option) *CommitIndex {
	cx := &CommitIndex{
		Index:    New(r, reg, opts...),
		byCommit: map[int64]map[int64]ir.AuditLogEntry{},
		matched:  map[entryKey]struct{}{},
	}
	cx.onInsert = func(e ir.AuditLogEntry) {
		m := cx.byCommit[e.CommitID]
		if m == nil {
			m = map[int64]ir.AuditLogEntry{}
			cx.byCommit[e.CommitID] = m
		}
		m[e.ObjectID] = e
	}
	return cx
}

// Add indexes entries and marks them matched.
func (cx *CommitIndex) Add(entries ...ir.AuditLogEntry) error {
	if err := cx.Index.Add(entries...); err != nil {
		return err
	}
	cx.mark(entries)
	return nil
}

func (cx *CommitIndex) mark(entries []ir.AuditLogEntry) {
	for _, e := range entries {
		cx.matched[entryKey{e.ObjectID, e.CommitID}] = struct{}{}
	}
}

// Load indexes one commit. The full history of every object the commit
// touched is indexed too, unmatched.
func (cx *CommitIndex) Load(ctx context.Context, commitID int64) error {
	entries, err := cx.reader.Entries(ctx, criteria.Query{Filter: criteria.CommitIn{IDs: []int64{commitID}}})
	if err != nil {
		return fmt.Errorf("load commit %d: %w", commitID, err)
	}
	return cx.loadMatched(ctx, entries)
}

// LoadRange indexes every commit with start <= CommittedAt < end.
func (cx *CommitIndex) LoadRange(ctx context.Context, start, end time.Time) error {
	entries, err := cx.reader.Entries(ctx, criteria.Query{Filter: criteria.CommittedBetween{Start: start, End: end}})
	if err != nil {
		return fmt.Errorf("load range: %w", err)
	}
	return cx.loadMatched(ctx, entries)
}

// LoadRoots indexes every entry under the given aggregate roots, all
// matched.
func (cx *CommitIndex) LoadRoots(ctx context.Context, roots []int64) error {
	entries, err := cx.loadRoots(ctx, roots)
	if err != nil {
		return err
	}
	cx.mark(entries)
	return nil
}

func (cx *CommitIndex) loadMatched(ctx context.Context, entries []ir.AuditLogEntry) error {
	if err := cx.Index.Add(entries...); err != nil {
		return err
	}
	cx.mark(entries)

	seen := map[int64]struct{}{}
	var ids []int64
	for _, e := range entries {
		if _, ok := seen[e.ObjectID]; !ok {
			seen[e.ObjectID] = struct{}{}
			ids = append(ids, e.ObjectID)
		}
	}
	return cx.LoadObjects(ctx, ids)
}

// IsMatched reports whether an indexed entry was asked for.
func (cx *CommitIndex) IsMatched(e ir.AuditLogEntry) bool {
	_, ok := cx.matched[entryKey{e.ObjectID, e.CommitID}]
	return ok
}

// Matched returns matched entries ordered by commit then object id.
func (cx *CommitIndex) Matched() []ir.AuditLogEntry {
	out := make([]ir.AuditLogEntry, 0, len(cx.matched))
	for k := range cx.matched {
		out = append(out, cx.byCommit[k.commit][k.object])
	}
	slices.SortFunc(out, compareCommitObject)
	return out
}

// Commit returns every indexed entry of one commit, ordered by object id.
func (cx *CommitIndex) Commit(commitID int64) []ir.AuditLogEntry {
	m := cx.byCommit[commitID]
	out := make([]ir.AuditLogEntry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	slices.SortFunc(out, compareCommitObject)
	return out
}

// PriorRevision returns the commit of the revision preceding commitID for
// an object. ok is false for the Added revision and when nothing earlier
// with a payload is indexed.
//
// The search starts in the effective-date bucket of the entry at commitID
// and walks back through earlier buckets; in each it takes the latest
// commit below commitID that carries a payload.
func (cx *CommitIndex) PriorRevision(objectID, commitID int64) (int64, bool, error) {
	h, ok := cx.objects[objectID]
	if !ok {
		return 0, false, auditerr.NotFound(objectID, "no indexed history")
	}
	e, ok := h.byCommit[commitID]
	if !ok {
		return 0, false, auditerr.NotFound(objectID, "no indexed revision at commit %d", commitID)
	}
	if e.Action == ir.ActionAdded {
		return 0, false, nil
	}

	for i := h.bucketIndex(e.EffectiveDate); i >= 0; i-- {
		b := h.buckets[i]
		for j := len(b.commits) - 1; j >= 0; j-- {
			c := b.commits[j]
			if c >= commitID {
				continue
			}
			if h.byCommit[c].Payload != nil {
				return c, true, nil
			}
		}
	}
	return 0, false, nil
}

// bucketIndex is the index of the latest bucket dated at or before d, -1
// when there is none.
func (h *objectHistory) bucketIndex(d time.Time) int {
	i := len(h.buckets) - 1
	for i >= 0 && h.buckets[i].date.After(d) {
		i--
	}
	return i
}

func compareCommitObject(a, b ir.AuditLogEntry) int {
	if c := cmp.Compare(a.CommitID, b.CommitID); c != 0 {
		return c
	}
	return cmp.Compare(a.ObjectID, b.ObjectID)
}
