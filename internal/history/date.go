package history

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/roach88/asof/internal/auditerr"
	"github.com/roach88/asof/internal/ir"
	"github.com/roach88/asof/internal/schema"
	"github.com/roach88/asof/internal/store"
)

// DateIndex is the business-time view: its primary map is keyed by
// effective date, each bucket holding per object the entry with the highest
// commit for that date.
type DateIndex struct {
	*Index
	byDate map[string]map[int64]ir.AuditLogEntry
}

// NewDateIndex returns an empty effective-date-indexed cache.
func NewDateIndex(r store.Reader, reg *schema.Registry, opts ...Option) *DateIndex {
	dx := &DateIndex{
		Index:  New(r, reg, opts...),
		byDate: map[string]map[int64]ir.AuditLogEntry{},
	}
	dx.onInsert = func(e ir.AuditLogEntry) {
		key := e.EffectiveDate.Format(ir.DateLayout)
		m := dx.byDate[key]
		if m == nil {
			m = map[int64]ir.AuditLogEntry{}
			dx.byDate[key] = m
		}
		if cur, ok := m[e.ObjectID]; !ok || e.CommitID > cur.CommitID {
			m[e.ObjectID] = e
		}
	}
	return dx
}

// LoadRoots indexes every entry under the given aggregate roots.
func (dx *DateIndex) LoadRoots(ctx context.Context, roots []int64) error {
	_, err := dx.loadRoots(ctx, roots)
	return err
}

// Bucket returns the entries effective on exactly one date, ordered by
// object id.
func (dx *DateIndex) Bucket(date time.Time) []ir.AuditLogEntry {
	m := dx.byDate[ir.TruncateDate(date).Format(ir.DateLayout)]
	out := make([]ir.AuditLogEntry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b ir.AuditLogEntry) int { return cmp.Compare(a.ObjectID, b.ObjectID) })
	return out
}

// PriorVersion returns the effective date of the version preceding the one
// dated exactly date. ok is false when the version at date is the first,
// or when every earlier version is a removal.
func (dx *DateIndex) PriorVersion(objectID int64, date time.Time) (time.Time, bool, error) {
	h, ok := dx.objects[objectID]
	if !ok {
		return time.Time{}, false, auditerr.NotFound(objectID, "no indexed history")
	}
	date = ir.TruncateDate(date)
	i := h.bucketIndex(date)
	if i < 0 || !h.buckets[i].date.Equal(date) {
		return time.Time{}, false, auditerr.NotFound(objectID, "no indexed version effective %s", date.Format(ir.DateLayout))
	}
	for i--; i >= 0; i-- {
		b := h.buckets[i]
		latest := h.byCommit[b.commits[len(b.commits)-1]]
		if latest.Payload != nil {
			return b.date, true, nil
		}
	}
	return time.Time{}, false, nil
}
