package store

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/asof/internal/criteria"
	"github.com/roach88/asof/internal/ir"
)

// ErrNotFound is wrapped by single-row reads that match nothing.
var ErrNotFound = errors.New("not found")

// Reader is the read side of the audit log.
type Reader interface {
	// Entries returns the rows matching q in q's order. Id sets of any size
	// are accepted.
	Entries(ctx context.Context, q criteria.Query) ([]ir.AuditLogEntry, error)
	Commit(ctx context.Context, commitID int64) (ir.CommitRecord, error)
	// CommitsBetween returns commits with start <= committed_at < end.
	CommitsBetween(ctx context.Context, start, end time.Time) ([]ir.CommitRecord, error)
}

// Session is a Reader that owns server-side resources (temporary id tables)
// until closed.
type Session interface {
	Reader
	Close() error
}

// AuditLog is the commit and entry store.
type AuditLog interface {
	Reader
	OpenSession(ctx context.Context) (Session, error)
	AppendCommit(ctx context.Context, c ir.CommitRecord) error
	AppendEntries(ctx context.Context, entries []ir.AuditLogEntry) error
	SetArchived(ctx context.Context, objectID, commitID int64, archived bool) error
	LatestCommitID(ctx context.Context) (int64, error)
}

// EventState is the persisted lifecycle state of a business event.
type EventState string

const (
	EventUnapplied  EventState = "unapplied"
	EventApplied    EventState = "applied"
	EventRolledBack EventState = "rolled_back"
)

// EventRecord is a business event as stored. Effect holds the variant's
// canonical JSON, including any state captured at apply time.
type EventRecord struct {
	ID             int64
	Kind           string
	TargetObjectID int64
	EffectiveDate  time.Time
	Order          int64 // 0 until first applied
	State          EventState
	Description    string
	Effect         []byte
}

// EventStore persists business events and the event order counter.
type EventStore interface {
	EventOrder(ctx context.Context) (int64, error)
	// AdvanceEventOrderCounter sets the counter to expected+1 only if it
	// still holds expected. ok is false when another caller got there first.
	AdvanceEventOrderCounter(ctx context.Context, expected int64) (value int64, ok bool, err error)
	InsertEvent(ctx context.Context, ev EventRecord) (int64, error)
	UpdateEvent(ctx context.Context, ev EventRecord) error
	LoadEvent(ctx context.Context, id int64) (EventRecord, error)
	LoadEvents(ctx context.Context, ids []int64) ([]EventRecord, error)
	// EventsForTarget returns events on target with effective_date > after,
	// ordered by (effective_date, event_order, event_id) ascending.
	EventsForTarget(ctx context.Context, target int64, after time.Time) ([]EventRecord, error)
}

// LiveObject is the current state of an object, as mutated by events.
type LiveObject struct {
	ObjectID     int64
	EntityTypeID int32
	Payload      []byte
}

// LiveStore holds current object state.
type LiveStore interface {
	LoadLive(ctx context.Context, objectID int64) (LiveObject, error)
	SaveLive(ctx context.Context, obj LiveObject) error
}

// Backend is everything the audit service needs from storage.
type Backend interface {
	AuditLog
	EventStore
	LiveStore
	Close() error
}
