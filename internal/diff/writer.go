package diff

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/asof/internal/entity"
	"github.com/roach88/asof/internal/ir"
)

// Source resolves objects at one coordinate. *snapshot.Context satisfies it.
type Source interface {
	At() ir.Coordinate
	GetObject(ctx context.Context, id int64) (*entity.Entity, error)
}

// Option configures a Writer.
type Option func(*Writer)

// Strict rejects change sets whose parent links leave the set.
func Strict() Option {
	return func(w *Writer) { w.strict = true }
}

// Writer compares the objects named by a change set across two sources.
type Writer struct {
	before Source
	after  Source
	strict bool
}

// NewWriter returns a writer reading old state from before and new state
// from after.
func NewWriter(before, after Source, opts ...Option) *Writer {
	w := &Writer{before: before, after: after}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write orders the entries parent-before-child and reports every object
// whose state differs. Added entries have no old state and Removed entries
// no new state.
func (w *Writer) Write(ctx context.Context, entries []ir.AuditLogEntry) (*Report, error) {
	ordered, err := Order(entries, w.strict)
	if err != nil {
		return nil, err
	}

	r := &Report{
		Before: w.before.At(),
		After:  w.after.At(),
		Deltas: []Delta{},
	}
	for _, e := range ordered {
		var old, cur *entity.Entity
		if e.Action != ir.ActionAdded {
			if old, err = w.before.GetObject(ctx, e.ObjectID); err != nil {
				return nil, fmt.Errorf("diff object %d before: %w", e.ObjectID, err)
			}
		}
		if e.Action != ir.ActionRemoved {
			if cur, err = w.after.GetObject(ctx, e.ObjectID); err != nil {
				return nil, fmt.Errorf("diff object %d after: %w", e.ObjectID, err)
			}
		}

		changes := entity.Compare(old, cur)
		if len(changes) == 0 {
			continue
		}
		typeName := ""
		switch {
		case cur != nil:
			typeName = cur.Type
		case old != nil:
			typeName = old.Type
		}
		r.Deltas = append(r.Deltas, Delta{
			ObjectID:      e.ObjectID,
			ParentID:      e.ParentObjectID,
			Type:          typeName,
			Action:        e.Action,
			CommitID:      e.CommitID,
			EffectiveDate: e.EffectiveDate,
			Changes:       changes,
		})
	}
	slog.Debug("diff written",
		"before", r.Before.String(),
		"after", r.After.String(),
		"entries", len(entries),
		"deltas", len(r.Deltas))
	return r, nil
}
