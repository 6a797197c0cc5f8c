package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const eventColumns = "event_id, kind, target_object_id, effective_date, event_order, state, description, effect"

// EventOrder reads the current counter value.
func (s *Store) EventOrder(ctx context.Context) (int64, error) {
	s.observe("event_order")
	var v int64
	if err := s.db.QueryRowContext(ctx, "SELECT value FROM event_order_counter WHERE id = 1").Scan(&v); err != nil {
		return 0, fmt.Errorf("read event order: %w", err)
	}
	return v, nil
}

// AdvanceEventOrderCounter is a compare-and-set: the update matches only
// while the counter still holds expected.
func (s *Store) AdvanceEventOrderCounter(ctx context.Context, expected int64) (int64, bool, error) {
	s.observe("advance_event_order")
	res, err := s.db.ExecContext(ctx,
		"UPDATE event_order_counter SET value = ? WHERE id = 1 AND value = ?",
		expected+1, expected)
	if err != nil {
		return 0, false, fmt.Errorf("advance event order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("advance event order: %w", err)
	}
	if n == 0 {
		return 0, false, nil
	}
	return expected + 1, true, nil
}

// InsertEvent stores a new event and returns its assigned id.
func (s *Store) InsertEvent(ctx context.Context, ev EventRecord) (int64, error) {
	s.observe("insert_event")
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO business_events
		(kind, target_object_id, effective_date, event_order, state, description, effect)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING event_id
	`,
		ev.Kind,
		ev.TargetObjectID,
		formatDate(ev.EffectiveDate),
		ev.Order,
		string(ev.State),
		ev.Description,
		string(ev.Effect),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	return id, nil
}

// UpdateEvent persists order, state and effect of an existing event.
func (s *Store) UpdateEvent(ctx context.Context, ev EventRecord) error {
	s.observe("update_event")
	res, err := s.db.ExecContext(ctx, `
		UPDATE business_events
		SET event_order = ?, state = ?, effect = ?
		WHERE event_id = ?
	`, ev.Order, string(ev.State), string(ev.Effect), ev.ID)
	if err != nil {
		return fmt.Errorf("update event %d: %w", ev.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update event %d: %w", ev.ID, ErrNotFound)
	}
	return nil
}

// LoadEvent reads one event.
func (s *Store) LoadEvent(ctx context.Context, id int64) (EventRecord, error) {
	s.observe("load_event")
	ev, err := scanEvent(s.db.QueryRowContext(ctx,
		"SELECT "+eventColumns+" FROM business_events WHERE event_id = ?", id))
	if noRows(err) {
		return EventRecord{}, fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return EventRecord{}, fmt.Errorf("load event %d: %w", id, err)
	}
	return ev, nil
}

// LoadEvents reads the given events ordered by (effective_date,
// event_order, event_id). Missing ids are skipped.
func (s *Store) LoadEvents(ctx context.Context, ids []int64) ([]EventRecord, error) {
	if len(ids) == 0 {
		return []EventRecord{}, nil
	}
	s.observe("load_events")
	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		ph[i] = "?"
		args[i] = id
	}
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM business_events
		WHERE event_id IN (`+strings.Join(ph, ", ")+`)
		ORDER BY effective_date ASC, event_order ASC, event_id ASC
	`, args...)
}

// EventsForTarget returns events on target effective strictly after after.
func (s *Store) EventsForTarget(ctx context.Context, target int64, after time.Time) ([]EventRecord, error) {
	s.observe("events_for_target")
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM business_events
		WHERE target_object_id = ? AND effective_date > ?
		ORDER BY effective_date ASC, event_order ASC, event_id ASC
	`, target, formatDate(after))
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []EventRecord{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// LoadLive reads the current state of an object.
func (s *Store) LoadLive(ctx context.Context, objectID int64) (LiveObject, error) {
	s.observe("load_live")
	obj := LiveObject{ObjectID: objectID}
	err := s.db.QueryRowContext(ctx,
		"SELECT entity_type_id, payload FROM live_objects WHERE object_id = ?", objectID,
	).Scan(&obj.EntityTypeID, &obj.Payload)
	if noRows(err) {
		return LiveObject{}, fmt.Errorf("live object %d: %w", objectID, ErrNotFound)
	}
	if err != nil {
		return LiveObject{}, fmt.Errorf("load live object %d: %w", objectID, err)
	}
	return obj, nil
}

// SaveLive upserts the current state of an object.
func (s *Store) SaveLive(ctx context.Context, obj LiveObject) error {
	s.observe("save_live")
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO live_objects (object_id, entity_type_id, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(object_id) DO UPDATE SET entity_type_id = excluded.entity_type_id, payload = excluded.payload
	`, obj.ObjectID, obj.EntityTypeID, obj.Payload)
	if err != nil {
		return fmt.Errorf("save live object %d: %w", obj.ObjectID, err)
	}
	return nil
}
