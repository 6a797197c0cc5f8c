// Package events applies business events to live object state and can undo
// them temporarily to present an object as of an earlier business date.
//
// An event moves through Unapplied -> Applied -> RolledBack -> Applied ...
// Its EventOrder is assigned once, on first Apply, from a store counter
// advanced by compare-and-set; ReApply and Rollback never touch it.
package events

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/asof/internal/auditerr"
	"github.com/roach88/asof/internal/entity"
	"github.com/roach88/asof/internal/ir"
	"github.com/roach88/asof/internal/metrics"
	"github.com/roach88/asof/internal/store"
)

// DefaultMaxOrderAttempts bounds the event order compare-and-set loop.
const DefaultMaxOrderAttempts = 64

// Store is the persistence a Ledger needs.
type Store interface {
	store.EventStore
	store.LiveStore
}

// Event is a business event with its decoded effect.
type Event struct {
	ID             int64
	TargetObjectID int64
	EffectiveDate  time.Time
	Order          int64
	State          store.EventState
	Description    string
	Effect         Effect
}

func (ev *Event) record() (store.EventRecord, error) {
	data, err := EncodeEffect(ev.Effect)
	if err != nil {
		return store.EventRecord{}, err
	}
	return store.EventRecord{
		ID:             ev.ID,
		Kind:           ev.Effect.Kind(),
		TargetObjectID: ev.TargetObjectID,
		EffectiveDate:  ev.EffectiveDate,
		Order:          ev.Order,
		State:          ev.State,
		Description:    ev.Description,
		Effect:         data,
	}, nil
}

func fromRecord(rec store.EventRecord) (*Event, error) {
	eff, err := DecodeEffect(rec.Kind, rec.Effect)
	if err != nil {
		return nil, fmt.Errorf("event %d: %w", rec.ID, err)
	}
	return &Event{
		ID:             rec.ID,
		TargetObjectID: rec.TargetObjectID,
		EffectiveDate:  rec.EffectiveDate,
		Order:          rec.Order,
		State:          rec.State,
		Description:    rec.Description,
		Effect:         eff,
	}, nil
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMaxOrderAttempts bounds the compare-and-set loop.
func WithMaxOrderAttempts(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// WithMetrics records transitions and order retries on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// Ledger runs event transitions against a store.
type Ledger struct {
	store       Store
	codec       *entity.Codec
	maxAttempts int
	metrics     *metrics.Metrics
}

// NewLedger returns a ledger over s. codec decodes live object payloads.
func NewLedger(s Store, codec *entity.Codec, opts ...Option) *Ledger {
	l := &Ledger{store: s, codec: codec, maxAttempts: DefaultMaxOrderAttempts}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record stores a new, unapplied event.
func (l *Ledger) Record(ctx context.Context, target int64, effective time.Time, description string, eff Effect) (*Event, error) {
	ev := &Event{
		TargetObjectID: target,
		EffectiveDate:  ir.TruncateDate(effective),
		State:          store.EventUnapplied,
		Description:    description,
		Effect:         eff,
	}
	rec, err := ev.record()
	if err != nil {
		return nil, err
	}
	id, err := l.store.InsertEvent(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("record event: %w", err)
	}
	ev.ID = id
	return ev, nil
}

// Load reads one event.
func (l *Ledger) Load(ctx context.Context, id int64) (*Event, error) {
	rec, err := l.store.LoadEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	return fromRecord(rec)
}

// Apply runs an unapplied event's effect and then assigns its EventOrder.
func (l *Ledger) Apply(ctx context.Context, ev *Event) error {
	if ev.State != store.EventUnapplied {
		return auditerr.InvalidState("apply event %d: state is %s", ev.ID, ev.State)
	}
	if err := l.mutate(ctx, ev, ev.Effect.Apply); err != nil {
		return fmt.Errorf("apply event %d: %w", ev.ID, err)
	}
	prev := ev.Order
	err := l.assignOrder(ctx, ev)
	if err == nil {
		err = l.transition(ctx, ev, store.EventApplied, "apply")
	}
	if err != nil {
		ev.Order = prev
		return fmt.Errorf("apply event %d: %w", ev.ID, l.compensate(ctx, ev, ev.Effect.Rollback, err))
	}
	return nil
}

func (l *Ledger) assignOrder(ctx context.Context, ev *Event) error {
	order, err := l.nextOrder(ctx)
	if err != nil {
		return err
	}
	ev.Order = order
	return nil
}

// ReApply restores a rolled-back event without changing its EventOrder.
func (l *Ledger) ReApply(ctx context.Context, ev *Event) error {
	if ev.State != store.EventRolledBack {
		return auditerr.InvalidState("re-apply event %d: state is %s", ev.ID, ev.State)
	}
	if err := l.mutate(ctx, ev, ev.Effect.Apply); err != nil {
		return fmt.Errorf("re-apply event %d: %w", ev.ID, err)
	}
	if err := l.transition(ctx, ev, store.EventApplied, "reapply"); err != nil {
		return fmt.Errorf("re-apply event %d: %w", ev.ID, l.compensate(ctx, ev, ev.Effect.Rollback, err))
	}
	return nil
}

// Rollback inverts an applied event. The event and its order are kept.
func (l *Ledger) Rollback(ctx context.Context, ev *Event) error {
	if ev.State != store.EventApplied {
		return auditerr.InvalidState("roll back event %d: state is %s", ev.ID, ev.State)
	}
	if err := l.mutate(ctx, ev, ev.Effect.Rollback); err != nil {
		return fmt.Errorf("roll back event %d: %w", ev.ID, err)
	}
	if err := l.transition(ctx, ev, store.EventRolledBack, "rollback"); err != nil {
		return fmt.Errorf("roll back event %d: %w", ev.ID, l.compensate(ctx, ev, ev.Effect.Apply, err))
	}
	return nil
}

// compensate undoes a live-state mutation whose state transition failed.
func (l *Ledger) compensate(ctx context.Context, ev *Event, inverse func(ir.Object) (ir.Object, error), cause error) error {
	if err := l.mutate(ctx, ev, inverse); err != nil {
		slog.Error("event compensation failed", "event_id", ev.ID, "target", ev.TargetObjectID, "error", err)
		return errors.Join(cause, fmt.Errorf("undo live state of %d: %w", ev.TargetObjectID, err))
	}
	return cause
}

func (l *Ledger) transition(ctx context.Context, ev *Event, to store.EventState, name string) error {
	prev := ev.State
	ev.State = to
	rec, err := ev.record()
	if err != nil {
		ev.State = prev
		return err
	}
	if err := l.store.UpdateEvent(ctx, rec); err != nil {
		ev.State = prev
		return err
	}
	l.metrics.EventTransition(name)
	slog.Info("event "+name,
		"event_id", ev.ID,
		"target", ev.TargetObjectID,
		"effective_date", ev.EffectiveDate.Format(ir.DateLayout),
		"event_order", ev.Order)
	return nil
}

// mutate loads the target's live state, runs fn over its fields and saves
// the result.
func (l *Ledger) mutate(ctx context.Context, ev *Event, fn func(ir.Object) (ir.Object, error)) error {
	live, err := l.store.LoadLive(ctx, ev.TargetObjectID)
	if errors.Is(err, store.ErrNotFound) {
		return auditerr.NotFound(ev.TargetObjectID, "event target has no live state")
	}
	if err != nil {
		return err
	}
	e, err := l.codec.Deserialize(ctx, live.Payload, entity.Unresolved)
	if err != nil {
		return fmt.Errorf("decode target %d: %w", ev.TargetObjectID, err)
	}
	fields, err := fn(e.Fields)
	if err != nil {
		return err
	}
	e.Fields = fields
	payload, err := l.codec.Serialize(e)
	if err != nil {
		return fmt.Errorf("encode target %d: %w", ev.TargetObjectID, err)
	}
	live.Payload = payload
	return l.store.SaveLive(ctx, live)
}

// nextOrder advances the event order counter by compare-and-set, retrying
// while competitors win, up to the ledger's attempt bound.
func (l *Ledger) nextOrder(ctx context.Context) (int64, error) {
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		cur, err := l.store.EventOrder(ctx)
		if err != nil {
			return 0, err
		}
		next, ok, err := l.store.AdvanceEventOrderCounter(ctx, cur)
		if err != nil {
			return 0, err
		}
		if ok {
			return next, nil
		}
		l.metrics.OrderRetry()
		slog.Debug("event order contended", "expected", cur, "attempt", attempt)
		if err := ctx.Err(); err != nil {
			return 0, err
		}
	}
	return 0, auditerr.ConcurrencyExhausted(l.maxAttempts)
}

// Live returns the current state of an object.
func (l *Ledger) Live(ctx context.Context, objectID int64) (*entity.Entity, error) {
	live, err := l.store.LoadLive(ctx, objectID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, auditerr.NotFound(objectID, "no live state")
	}
	if err != nil {
		return nil, err
	}
	return l.codec.Deserialize(ctx, live.Payload, entity.Unresolved)
}

// View is a set of events rolled back by ViewAsOf, most recent first.
type View struct {
	ledger     *Ledger
	Target     int64
	AsOf       time.Time
	rolledBack []*Event
	restored   bool
}

// RolledBack returns the ids rolled back, in rollback order.
func (v *View) RolledBack() []int64 {
	out := make([]int64, len(v.rolledBack))
	for i, ev := range v.rolledBack {
		out[i] = ev.ID
	}
	return out
}

// Restore re-applies the rolled-back events oldest first. A second call is a
// no-op.
func (v *View) Restore(ctx context.Context) error {
	if v.restored {
		return nil
	}
	for i := len(v.rolledBack) - 1; i >= 0; i-- {
		if err := v.ledger.ReApply(ctx, v.rolledBack[i]); err != nil {
			v.rolledBack = v.rolledBack[:i+1]
			return err
		}
	}
	v.restored = true
	return nil
}

// ViewAsOf rolls back every applied event on target effective strictly after
// asOf, latest (EffectiveDate, EventOrder) first. The caller must Restore
// the view when done. If a rollback fails, the events already rolled back
// are re-applied before the error is returned.
func (l *Ledger) ViewAsOf(ctx context.Context, target int64, asOf time.Time) (*View, error) {
	asOf = ir.TruncateDate(asOf)
	later, err := l.store.EventsForTarget(ctx, target, asOf)
	if err != nil {
		return nil, fmt.Errorf("view as of %s: %w", asOf.Format(ir.DateLayout), err)
	}
	ids := make([]int64, 0, len(later))
	for _, rec := range later {
		if rec.State == store.EventApplied {
			ids = append(ids, rec.ID)
		}
	}
	recs, err := l.store.LoadEvents(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("view as of %s: %w", asOf.Format(ir.DateLayout), err)
	}
	evs := make([]*Event, 0, len(recs))
	for _, rec := range recs {
		ev, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		evs = append(evs, ev)
	}
	slices.SortFunc(evs, func(a, b *Event) int {
		if c := b.EffectiveDate.Compare(a.EffectiveDate); c != 0 {
			return c
		}
		return cmp.Compare(b.Order, a.Order)
	})

	v := &View{ledger: l, Target: target, AsOf: asOf, rolledBack: []*Event{}}
	for _, ev := range evs {
		if err := l.Rollback(ctx, ev); err != nil {
			if rerr := v.Restore(ctx); rerr != nil {
				return nil, errors.Join(err, fmt.Errorf("restore after failed rollback: %w", rerr))
			}
			return nil, err
		}
		v.rolledBack = append(v.rolledBack, ev)
	}
	slog.Info("view as of",
		"target", target,
		"as_of", asOf.Format(ir.DateLayout),
		"rolled_back", len(v.rolledBack))
	return v, nil
}
