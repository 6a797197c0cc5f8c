package criteria

import (
	"time"

	"github.com/roach88/asof/internal/ir"
)

// Predicate filters audit log rows. Sealed to this package so that compilers
// can switch exhaustively.
type Predicate interface {
	predicateNode()
}

// ObjectIn matches rows whose object id is in IDs. Backends may satisfy large
// sets with a temporary join table instead of an IN list.
type ObjectIn struct {
	IDs []int64
}

func (ObjectIn) predicateNode() {}

// RootIn matches every row belonging to the given aggregates.
type RootIn struct {
	IDs []int64
}

func (RootIn) predicateNode() {}

// CommitIn matches rows written by the given commits.
type CommitIn struct {
	IDs []int64
}

func (CommitIn) predicateNode() {}

// EntityTypeIn matches rows of the given entity types.
type EntityTypeIn struct {
	TypeIDs []int32
}

func (EntityTypeIn) predicateNode() {}

// CommitAtOrBefore matches rows with commit_id <= CommitID.
type CommitAtOrBefore struct {
	CommitID int64
}

func (CommitAtOrBefore) predicateNode() {}

// EffectiveAtOrBefore matches rows whose effective date is <= Date.
type EffectiveAtOrBefore struct {
	Date time.Time
}

func (EffectiveAtOrBefore) predicateNode() {}

// CommittedBetween matches rows whose commit was made in [Start, End).
type CommittedBetween struct {
	Start time.Time
	End   time.Time
}

func (CommittedBetween) predicateNode() {}

// And is a conjunction. An empty And matches everything.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// All builds an And, dropping nil predicates.
func All(preds ...Predicate) Predicate {
	out := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			out = append(out, p)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return And{Predicates: out}
}

// AsOf restricts rows to those visible at a coordinate.
func AsOf(c ir.Coordinate) Predicate {
	if c.Axis == ir.AxisEffective {
		return EffectiveAtOrBefore{Date: c.Date}
	}
	return CommitAtOrBefore{CommitID: c.CommitID}
}

// Order is the row order a query asks for. Every order ends with a unique
// tiebreaker so results are deterministic.
type Order int

const (
	// OrderCommit sorts by commit_id ASC, object_id ASC.
	OrderCommit Order = iota
	// OrderLatestCommit sorts by commit_id DESC.
	OrderLatestCommit
	// OrderLatestEffective sorts by effective_date DESC, commit_id DESC.
	OrderLatestEffective
)

// LatestOn returns the order that puts the governing row first on an axis.
func LatestOn(axis ir.Axis) Order {
	if axis == ir.AxisEffective {
		return OrderLatestEffective
	}
	return OrderLatestCommit
}

// Query selects audit log rows.
type Query struct {
	Filter Predicate // nil matches everything
	Order  Order
	Limit  int // 0 means no limit
}
