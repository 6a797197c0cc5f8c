// Package audit is the query surface over the audit log: entities as of a
// coordinate, an aggregate's change history and structured diffs.
//
// Every call opens its own snapshots and sessions and releases them before
// returning, on error paths too.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/asof/internal/auditerr"
	"github.com/roach88/asof/internal/criteria"
	"github.com/roach88/asof/internal/diff"
	"github.com/roach88/asof/internal/entity"
	"github.com/roach88/asof/internal/history"
	"github.com/roach88/asof/internal/ir"
	"github.com/roach88/asof/internal/metrics"
	"github.com/roach88/asof/internal/snapshot"
	"github.com/roach88/asof/internal/store"
)

// Option configures a Service.
type Option func(*Service)

// WithMetrics records index and snapshot activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithPrefetch makes every snapshot prefetch owned types (see
// snapshot.ResolveAll).
func WithPrefetch() Option {
	return func(s *Service) { s.prefetch = true }
}

// Service answers audit queries against one log.
type Service struct {
	log      store.AuditLog
	codec    *entity.Codec
	metrics  *metrics.Metrics
	prefetch bool
}

// New returns a Service over log.
func New(log store.AuditLog, codec *entity.Codec, opts ...Option) *Service {
	s := &Service{log: log, codec: codec}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) open(ctx context.Context, at ir.Coordinate) (*snapshot.Context, error) {
	opts := []snapshot.Option{snapshot.WithMetrics(s.metrics)}
	if s.prefetch {
		opts = append(opts, snapshot.ResolveAll())
	}
	return snapshot.Open(ctx, s.log, s.codec, at, opts...)
}

// GetEntityAsOf returns the object as it existed at a coordinate, or nil if
// it did not exist there. An object with no log entries at all is NOT_FOUND.
func (s *Service) GetEntityAsOf(ctx context.Context, objectID int64, at ir.Coordinate) (*entity.Entity, error) {
	snap, err := s.open(ctx, at)
	if err != nil {
		return nil, err
	}
	defer snap.Close()

	e, err := snap.GetObject(ctx, objectID)
	if err != nil {
		return nil, err
	}
	if e != nil {
		return e, nil
	}

	rows, err := s.log.Entries(ctx, criteria.Query{Filter: criteria.ObjectIn{IDs: []int64{objectID}}, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("get %d as of %s: %w", objectID, at, err)
	}
	if len(rows) == 0 {
		return nil, auditerr.NotFound(objectID, "no audit history")
	}
	return nil, nil
}

// History lists the points at which an aggregate changed, on one axis.
type History struct {
	Root    int64
	Axis    ir.Axis
	Commits []int64     // set for ir.AxisCommit
	Dates   []time.Time // set for ir.AxisEffective
}

// GetAggregateHistory returns every commit id, or every effective date, at
// which something under root changed. root must be an aggregate root.
func (s *Service) GetAggregateHistory(ctx context.Context, root int64, axis ir.Axis) (*History, error) {
	sess, err := s.log.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	h := &History{Root: root, Axis: axis}
	switch axis {
	case ir.AxisCommit:
		cx := history.NewCommitIndex(sess, s.codec.Schema(), history.WithMetrics(s.metrics))
		if err := cx.LoadRoots(ctx, []int64{root}); err != nil {
			return nil, err
		}
		h.Commits = cx.CommitIDs()
	case ir.AxisEffective:
		dx := history.NewDateIndex(sess, s.codec.Schema(), history.WithMetrics(s.metrics))
		if err := dx.LoadRoots(ctx, []int64{root}); err != nil {
			return nil, err
		}
		h.Dates = dx.Dates()
	default:
		return nil, auditerr.Unsupported("unknown axis %s", axis)
	}
	return h, nil
}

// Diff reports how the aggregate under root changed between two
// coordinates, parents before children. The coordinates may be on
// different axes.
func (s *Service) Diff(ctx context.Context, root int64, before, after ir.Coordinate) (*diff.Report, error) {
	sess, err := s.log.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	cx := history.NewCommitIndex(sess, s.codec.Schema(), history.WithMetrics(s.metrics))
	if err := cx.LoadRoots(ctx, []int64{root}); err != nil {
		return nil, err
	}

	var set []ir.AuditLogEntry
	seen := map[int64]bool{}
	for _, e := range cx.Matched() {
		if seen[e.ObjectID] {
			continue
		}
		seen[e.ObjectID] = true
		if entry, ok := presence(cx.Index, e.ObjectID, before, after); ok {
			set = append(set, entry)
		}
	}

	return s.write(ctx, set, before, after, diff.Strict())
}

// presence builds the ordering entry for one object: Added when it exists
// only after, Removed when only before, Changed when on both sides. ok is
// false when it exists on neither.
func presence(ix *history.Index, objectID int64, before, after ir.Coordinate) (ir.AuditLogEntry, bool) {
	b, bok := ix.Governing(objectID, before)
	a, aok := ix.Governing(objectID, after)
	inBefore := bok && b.Action != ir.ActionRemoved
	inAfter := aok && a.Action != ir.ActionRemoved

	entry := a
	if !aok {
		entry = b
	}
	switch {
	case inBefore && inAfter:
		entry.Action = ir.ActionChanged
	case inAfter:
		entry.Action = ir.ActionAdded
	case inBefore:
		entry.Action = ir.ActionRemoved
	default:
		return ir.AuditLogEntry{}, false
	}
	return entry, true
}

// DiffCommit reports what one commit changed, comparing the state just
// before it with the state it produced.
func (s *Service) DiffCommit(ctx context.Context, commitID int64) (*diff.Report, error) {
	if _, err := s.log.Commit(ctx, commitID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, auditerr.NotFound(0, "commit %d does not exist", commitID)
		}
		return nil, err
	}

	sess, err := s.log.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	cx := history.NewCommitIndex(sess, s.codec.Schema(), history.WithMetrics(s.metrics))
	if err := cx.Load(ctx, commitID); err != nil {
		return nil, err
	}
	return s.write(ctx, cx.Matched(), ir.AtCommit(commitID-1), ir.AtCommit(commitID))
}

func (s *Service) write(ctx context.Context, set []ir.AuditLogEntry, before, after ir.Coordinate, opts ...diff.Option) (*diff.Report, error) {
	old, err := s.open(ctx, before)
	if err != nil {
		return nil, err
	}
	defer old.Close()

	cur, err := s.open(ctx, after)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	return diff.NewWriter(old, cur, opts...).Write(ctx, set)
}
