package ir

import (
	"bytes"
	"fmt"
	"time"
)

// Action is the kind of change a log entry records.
type Action int

const (
	ActionAdded Action = iota + 1
	ActionChanged
	ActionRemoved
)

// String returns the lower-case action name used in storage and reports.
func (a Action) String() string {
	switch a {
	case ActionAdded:
		return "added"
	case ActionChanged:
		return "changed"
	case ActionRemoved:
		return "removed"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// ParseAction is the inverse of Action.String.
func ParseAction(s string) (Action, error) {
	switch s {
	case "added":
		return ActionAdded, nil
	case "changed":
		return ActionChanged, nil
	case "removed":
		return ActionRemoved, nil
	default:
		return 0, fmt.Errorf("unknown action %q", s)
	}
}

// DateLayout is the wire format of effective dates.
const DateLayout = "2006-01-02"

// TruncateDate reduces t to a UTC calendar date.
func TruncateDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD effective date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// AuditLogEntry is one immutable revision of one object.
//
// Invariants (per ObjectID):
//   - at most one entry per CommitID
//   - the lowest CommitID is ActionAdded
//   - nothing follows an ActionRemoved entry
//   - Payload is nil only for ActionRemoved
type AuditLogEntry struct {
	CommitID       int64
	ObjectID       int64
	RootObjectID   int64
	ParentObjectID int64 // 0 for aggregate roots
	EntityTypeID   int32
	EffectiveDate  time.Time
	Action         Action
	Payload        []byte
	Archived       bool
}

// Same reports whether two entries are exact duplicates. Used to tolerate
// idempotent bulk loads.
func (e AuditLogEntry) Same(o AuditLogEntry) bool {
	return e.CommitID == o.CommitID &&
		e.ObjectID == o.ObjectID &&
		e.RootObjectID == o.RootObjectID &&
		e.ParentObjectID == o.ParentObjectID &&
		e.EntityTypeID == o.EntityTypeID &&
		e.EffectiveDate.Equal(o.EffectiveDate) &&
		e.Action == o.Action &&
		bytes.Equal(e.Payload, o.Payload)
}

// Validate checks the per-entry invariants that do not need other entries.
func (e AuditLogEntry) Validate() error {
	switch {
	case e.CommitID <= 0:
		return fmt.Errorf("entry for object %d: commit id must be positive", e.ObjectID)
	case e.ObjectID <= 0:
		return fmt.Errorf("entry at commit %d: object id must be positive", e.CommitID)
	case e.RootObjectID <= 0:
		return fmt.Errorf("entry %d@%d: root object id must be positive", e.ObjectID, e.CommitID)
	case e.Action < ActionAdded || e.Action > ActionRemoved:
		return fmt.Errorf("entry %d@%d: invalid action %d", e.ObjectID, e.CommitID, e.Action)
	case e.Payload == nil && e.Action != ActionRemoved:
		return fmt.Errorf("entry %d@%d: nil payload is only valid for removed entries", e.ObjectID, e.CommitID)
	case e.EffectiveDate.IsZero():
		return fmt.Errorf("entry %d@%d: effective date is required", e.ObjectID, e.CommitID)
	}
	return nil
}

// CommitRecord describes one committed transaction. CommitID values form the
// system-time total order.
type CommitRecord struct {
	CommitID    int64
	CommittedAt time.Time // UTC
	CommittedBy int64
	Comment     string
}
