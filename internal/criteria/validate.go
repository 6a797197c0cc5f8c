package criteria

import (
	"fmt"
)

// Validate rejects queries no backend can answer meaningfully: empty id sets
// (which would silently match nothing), inverted ranges and unknown nodes.
func Validate(q Query) error {
	if q.Limit < 0 {
		return fmt.Errorf("limit must not be negative: %d", q.Limit)
	}
	if q.Order < OrderCommit || q.Order > OrderLatestEffective {
		return fmt.Errorf("unknown order %d", q.Order)
	}
	if q.Filter == nil {
		return nil
	}
	return validatePredicate(q.Filter)
}

func validatePredicate(p Predicate) error {
	switch pred := p.(type) {
	case ObjectIn:
		if len(pred.IDs) == 0 {
			return fmt.Errorf("object id set is empty")
		}
	case RootIn:
		if len(pred.IDs) == 0 {
			return fmt.Errorf("root id set is empty")
		}
	case CommitIn:
		if len(pred.IDs) == 0 {
			return fmt.Errorf("commit id set is empty")
		}
	case EntityTypeIn:
		if len(pred.TypeIDs) == 0 {
			return fmt.Errorf("entity type set is empty")
		}
	case CommitAtOrBefore:
		if pred.CommitID <= 0 {
			return fmt.Errorf("commit bound must be positive: %d", pred.CommitID)
		}
	case EffectiveAtOrBefore:
		if pred.Date.IsZero() {
			return fmt.Errorf("effective date bound is zero")
		}
	case CommittedBetween:
		if !pred.Start.Before(pred.End) {
			return fmt.Errorf("commit time range is empty: [%s, %s)", pred.Start, pred.End)
		}
	case And:
		for i, inner := range pred.Predicates {
			if inner == nil {
				return fmt.Errorf("and[%d]: nil predicate", i)
			}
			if err := validatePredicate(inner); err != nil {
				return fmt.Errorf("and[%d]: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("unsupported predicate type: %T", p)
	}
	return nil
}
