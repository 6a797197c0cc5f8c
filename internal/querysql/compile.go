// Package querysql compiles criteria queries to parameterized SQL over the
// audit_log table.
//
// Every statement carries an ORDER BY ending in a unique key so results are
// deterministic across runs and backends. Values are always bound as
// parameters, never interpolated.
package querysql

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/asof/internal/criteria"
	"github.com/roach88/asof/internal/ir"
)

// EntryColumns is the column list every entry scan expects, in order.
const EntryColumns = "commit_id, object_id, root_object_id, parent_object_id, entity_type_id, effective_date, action, payload, archived"

// TimestampLayout is the fixed-width UTC form SQLite stores commit times in,
// so text comparison orders them correctly.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

// Dialect captures the differences between backends.
type Dialect struct {
	Name        string
	Placeholder func(n int) string // n is 1-based
	Date        func(t time.Time) any
	Timestamp   func(t time.Time) any
}

// SQLite stores dates and timestamps as sortable text.
var SQLite = Dialect{
	Name:        "sqlite",
	Placeholder: func(int) string { return "?" },
	Date:        func(t time.Time) any { return t.UTC().Format(ir.DateLayout) },
	Timestamp:   func(t time.Time) any { return t.UTC().Format(TimestampLayout) },
}

// Postgres uses numbered placeholders and native date types.
var Postgres = Dialect{
	Name:        "postgres",
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	Date:        func(t time.Time) any { return ir.TruncateDate(t) },
	Timestamp:   func(t time.Time) any { return t.UTC() },
}

// Compiler turns criteria.Query into SQL for one dialect.
type Compiler struct {
	Dialect Dialect

	// IDSetThreshold is the id-set size above which IDTable is used.
	IDSetThreshold int

	// IDTable stages ids in a temporary table and returns its name. When nil,
	// id sets are always compiled to IN lists.
	IDTable func(ids []int64) (string, error)

	params []any
}

// NewCompiler returns a compiler for the dialect without temp-table support.
func NewCompiler(d Dialect) *Compiler {
	return &Compiler{Dialect: d}
}

// Compile returns the statement and its parameters.
func (c *Compiler) Compile(q criteria.Query) (string, []any, error) {
	if err := criteria.Validate(q); err != nil {
		return "", nil, fmt.Errorf("compile: %w", err)
	}
	c.params = nil

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(EntryColumns)
	b.WriteString(" FROM audit_log")

	if q.Filter != nil {
		where, err := c.predicate(q.Filter)
		if err != nil {
			return "", nil, err
		}
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}

	b.WriteString(" ORDER BY ")
	b.WriteString(orderClause(q.Order))

	if q.Limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(q.Limit))
	}

	params := c.params
	c.params = nil
	return b.String(), params, nil
}

func orderClause(o criteria.Order) string {
	switch o {
	case criteria.OrderLatestCommit:
		return "commit_id DESC, object_id ASC"
	case criteria.OrderLatestEffective:
		return "effective_date DESC, commit_id DESC, object_id ASC"
	default:
		return "commit_id ASC, object_id ASC"
	}
}

func (c *Compiler) bind(v any) string {
	c.params = append(c.params, v)
	return c.Dialect.Placeholder(len(c.params))
}

func (c *Compiler) predicate(p criteria.Predicate) (string, error) {
	switch pred := p.(type) {
	case criteria.ObjectIn:
		return c.idSet("object_id", pred.IDs)
	case criteria.RootIn:
		return c.idSet("root_object_id", pred.IDs)
	case criteria.CommitIn:
		return c.idSet("commit_id", pred.IDs)
	case criteria.EntityTypeIn:
		ids := make([]int64, len(pred.TypeIDs))
		for i, id := range pred.TypeIDs {
			ids[i] = int64(id)
		}
		return c.inList("entity_type_id", ids), nil
	case criteria.CommitAtOrBefore:
		return "commit_id <= " + c.bind(pred.CommitID), nil
	case criteria.EffectiveAtOrBefore:
		return "effective_date <= " + c.bind(c.Dialect.Date(pred.Date)), nil
	case criteria.CommittedBetween:
		lo := c.bind(c.Dialect.Timestamp(pred.Start))
		hi := c.bind(c.Dialect.Timestamp(pred.End))
		return fmt.Sprintf("commit_id IN (SELECT commit_id FROM commits WHERE committed_at >= %s AND committed_at < %s)", lo, hi), nil
	case criteria.And:
		if len(pred.Predicates) == 0 {
			return "1 = 1", nil
		}
		parts := make([]string, 0, len(pred.Predicates))
		for _, inner := range pred.Predicates {
			s, err := c.predicate(inner)
			if err != nil {
				return "", err
			}
			parts = append(parts, "("+s+")")
		}
		return strings.Join(parts, " AND "), nil
	default:
		return "", fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *Compiler) idSet(column string, ids []int64) (string, error) {
	if c.IDTable != nil && c.IDSetThreshold > 0 && len(ids) > c.IDSetThreshold {
		table, err := c.IDTable(ids)
		if err != nil {
			return "", fmt.Errorf("stage id set for %s: %w", column, err)
		}
		return fmt.Sprintf("%s IN (SELECT id FROM %s)", column, table), nil
	}
	return c.inList(column, ids), nil
}

func (c *Compiler) inList(column string, ids []int64) string {
	if len(ids) == 1 {
		return column + " = " + c.bind(ids[0])
	}
	ph := make([]string, len(ids))
	for i, id := range ids {
		ph[i] = c.bind(id)
	}
	return column + " IN (" + strings.Join(ph, ", ") + ")"
}
