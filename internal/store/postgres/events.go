package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/roach88/asof/internal/ir"
	"github.com/roach88/asof/internal/store"
)

const eventColumns = "event_id, kind, target_object_id, effective_date, event_order, state, description, effect"

func (s *Store) EventOrder(ctx context.Context) (int64, error) {
	s.observe("event_order")
	var v int64
	if err := s.pool.QueryRow(ctx, "SELECT value FROM event_order_counter WHERE id = 1").Scan(&v); err != nil {
		return 0, translate("read event order", err)
	}
	return v, nil
}

// AdvanceEventOrderCounter is a compare-and-set on the counter row.
func (s *Store) AdvanceEventOrderCounter(ctx context.Context, expected int64) (int64, bool, error) {
	s.observe("advance_event_order")
	tag, err := s.pool.Exec(ctx,
		"UPDATE event_order_counter SET value = $1 WHERE id = 1 AND value = $2",
		expected+1, expected)
	if err != nil {
		return 0, false, translate("advance event order", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, false, nil
	}
	return expected + 1, true, nil
}

func (s *Store) InsertEvent(ctx context.Context, ev store.EventRecord) (int64, error) {
	s.observe("insert_event")
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO business_events
		(kind, target_object_id, effective_date, event_order, state, description, effect)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING event_id
	`,
		ev.Kind,
		ev.TargetObjectID,
		ir.TruncateDate(ev.EffectiveDate),
		ev.Order,
		string(ev.State),
		ev.Description,
		ev.Effect,
	).Scan(&id)
	if err != nil {
		return 0, translate("insert event", err)
	}
	return id, nil
}

func (s *Store) UpdateEvent(ctx context.Context, ev store.EventRecord) error {
	s.observe("update_event")
	tag, err := s.pool.Exec(ctx, `
		UPDATE business_events SET event_order = $1, state = $2, effect = $3
		WHERE event_id = $4
	`, ev.Order, string(ev.State), ev.Effect, ev.ID)
	if err != nil {
		return translate(fmt.Sprintf("update event %d", ev.ID), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update event %d: %w", ev.ID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) LoadEvent(ctx context.Context, id int64) (store.EventRecord, error) {
	s.observe("load_event")
	ev, err := scanEvent(s.pool.QueryRow(ctx,
		"SELECT "+eventColumns+" FROM business_events WHERE event_id = $1", id))
	if err != nil {
		return store.EventRecord{}, translate(fmt.Sprintf("event %d", id), err)
	}
	return ev, nil
}

func (s *Store) LoadEvents(ctx context.Context, ids []int64) ([]store.EventRecord, error) {
	if len(ids) == 0 {
		return []store.EventRecord{}, nil
	}
	s.observe("load_events")
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM business_events
		WHERE event_id = ANY($1)
		ORDER BY effective_date ASC, event_order ASC, event_id ASC
	`, ids)
}

func (s *Store) EventsForTarget(ctx context.Context, target int64, after time.Time) ([]store.EventRecord, error) {
	s.observe("events_for_target")
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM business_events
		WHERE target_object_id = $1 AND effective_date > $2
		ORDER BY effective_date ASC, event_order ASC, event_id ASC
	`, target, ir.TruncateDate(after))
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]store.EventRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, translate("query events", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.EventRecord, error) {
		return scanEvent(row)
	})
	if err != nil {
		return nil, translate("scan events", err)
	}
	if events == nil {
		events = []store.EventRecord{}
	}
	return events, nil
}

func scanEvent(row pgx.Row) (store.EventRecord, error) {
	var (
		ev    store.EventRecord
		date  time.Time
		state string
	)
	if err := row.Scan(&ev.ID, &ev.Kind, &ev.TargetObjectID, &date, &ev.Order, &state, &ev.Description, &ev.Effect); err != nil {
		return store.EventRecord{}, err
	}
	ev.EffectiveDate = ir.TruncateDate(date)
	ev.State = store.EventState(state)
	return ev, nil
}

func (s *Store) LoadLive(ctx context.Context, objectID int64) (store.LiveObject, error) {
	s.observe("load_live")
	obj := store.LiveObject{ObjectID: objectID}
	err := s.pool.QueryRow(ctx,
		"SELECT entity_type_id, payload FROM live_objects WHERE object_id = $1", objectID,
	).Scan(&obj.EntityTypeID, &obj.Payload)
	if err != nil {
		return store.LiveObject{}, translate(fmt.Sprintf("live object %d", objectID), err)
	}
	return obj, nil
}

func (s *Store) SaveLive(ctx context.Context, obj store.LiveObject) error {
	s.observe("save_live")
	_, err := s.pool.Exec(ctx, `
		INSERT INTO live_objects (object_id, entity_type_id, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (object_id) DO UPDATE SET entity_type_id = EXCLUDED.entity_type_id, payload = EXCLUDED.payload
	`, obj.ObjectID, obj.EntityTypeID, obj.Payload)
	if err != nil {
		return translate(fmt.Sprintf("save live object %d", obj.ObjectID), err)
	}
	return nil
}
