package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/asof/internal/ir"
	"github.com/roach88/asof/internal/querysql"
)

// formatDate stores an effective date as YYYY-MM-DD text.
func formatDate(t time.Time) string {
	return ir.TruncateDate(t).Format(ir.DateLayout)
}

// formatTimestamp stores a commit time as fixed-width UTC text.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(querysql.TimestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(querysql.TimestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse committed_at %q: %w", s, err)
	}
	return t.UTC(), nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanEntry reads one row in querysql.EntryColumns order.
func scanEntry(row scanner) (ir.AuditLogEntry, error) {
	var (
		e        ir.AuditLogEntry
		date     string
		action   int
		payload  []byte
		archived int
	)
	if err := row.Scan(
		&e.CommitID,
		&e.ObjectID,
		&e.RootObjectID,
		&e.ParentObjectID,
		&e.EntityTypeID,
		&date,
		&action,
		&payload,
		&archived,
	); err != nil {
		return ir.AuditLogEntry{}, fmt.Errorf("scan entry: %w", err)
	}

	d, err := ir.ParseDate(date)
	if err != nil {
		return ir.AuditLogEntry{}, fmt.Errorf("scan entry %d@%d: %w", e.ObjectID, e.CommitID, err)
	}
	e.EffectiveDate = d
	e.Action = ir.Action(action)
	e.Payload = payload
	e.Archived = archived != 0
	return e, nil
}

func scanCommit(row scanner) (ir.CommitRecord, error) {
	var (
		c  ir.CommitRecord
		at string
	)
	if err := row.Scan(&c.CommitID, &at, &c.CommittedBy, &c.Comment); err != nil {
		return ir.CommitRecord{}, err
	}
	t, err := parseTimestamp(at)
	if err != nil {
		return ir.CommitRecord{}, err
	}
	c.CommittedAt = t
	return c, nil
}

func scanEvent(row scanner) (EventRecord, error) {
	var (
		ev     EventRecord
		date   string
		state  string
		effect string
	)
	if err := row.Scan(&ev.ID, &ev.Kind, &ev.TargetObjectID, &date, &ev.Order, &state, &ev.Description, &effect); err != nil {
		return EventRecord{}, err
	}
	d, err := ir.ParseDate(date)
	if err != nil {
		return EventRecord{}, fmt.Errorf("event %d: %w", ev.ID, err)
	}
	ev.EffectiveDate = d
	ev.State = EventState(state)
	ev.Effect = []byte(effect)
	return ev, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullable maps a nil payload to SQL NULL.
func nullable(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}

func noRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
