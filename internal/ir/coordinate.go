package ir

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Axis selects one of the two time axes.
type Axis int

const (
	// AxisCommit is system time: the commit sequence.
	AxisCommit Axis = iota + 1
	// AxisEffective is business time: the effective date.
	AxisEffective
)

func (a Axis) String() string {
	switch a {
	case AxisCommit:
		return "commit"
	case AxisEffective:
		return "date"
	default:
		return fmt.Sprintf("axis(%d)", int(a))
	}
}

// ParseAxis accepts "commit" or "date".
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(s) {
	case "commit", "tid":
		return AxisCommit, nil
	case "date", "effective", "validfrom":
		return AxisEffective, nil
	default:
		return 0, fmt.Errorf("unknown axis %q: must be commit or date", s)
	}
}

// Coordinate is a fixed point on one time axis.
type Coordinate struct {
	Axis     Axis
	CommitID int64     // set when Axis == AxisCommit
	Date     time.Time // set when Axis == AxisEffective, UTC date
}

// AtCommit returns the system-time coordinate for a commit id.
func AtCommit(commitID int64) Coordinate {
	return Coordinate{Axis: AxisCommit, CommitID: commitID}
}

// AtDate returns the business-time coordinate for an effective date.
func AtDate(t time.Time) Coordinate {
	return Coordinate{Axis: AxisEffective, Date: TruncateDate(t)}
}

// Governs reports whether an entry is visible at this coordinate, i.e. it
// lies at or before the coordinate on the coordinate's axis.
func (c Coordinate) Governs(e AuditLogEntry) bool {
	if c.Axis == AxisCommit {
		return e.CommitID <= c.CommitID
	}
	return !e.EffectiveDate.After(c.Date)
}

// Key is a stable string form usable as a map key and in logs.
func (c Coordinate) Key() string {
	if c.Axis == AxisCommit {
		return "commit:" + strconv.FormatInt(c.CommitID, 10)
	}
	return "date:" + c.Date.Format(DateLayout)
}

func (c Coordinate) String() string {
	return c.Key()
}

// ParseCoordinate accepts "commit:N", a bare integer (commit), "date:YYYY-MM-DD"
// or a bare date.
func ParseCoordinate(s string) (Coordinate, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "commit:"); ok {
		s = rest
	} else if rest, ok := strings.CutPrefix(s, "date:"); ok {
		d, err := ParseDate(rest)
		if err != nil {
			return Coordinate{}, err
		}
		return AtDate(d), nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n <= 0 {
			return Coordinate{}, fmt.Errorf("commit coordinate must be positive: %d", n)
		}
		return AtCommit(n), nil
	}
	d, err := ParseDate(s)
	if err != nil {
		return Coordinate{}, fmt.Errorf("coordinate %q is neither a commit id nor a date", s)
	}
	return AtDate(d), nil
}
