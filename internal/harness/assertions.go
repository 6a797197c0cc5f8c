package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/asof/internal/ir"
)

// AssertionError is returned when an expectation fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Step     int
	Query    Query
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: steps[%d] (%s)\n", e.Step, e.Query)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	return buf.String()
}

// checkStep compares one step's outcome with its expectations and returns a
// message per failure.
func checkStep(i int, step Step, out map[string]any, err error) []string {
	fail := func(expected, actual string) string {
		return (&AssertionError{Step: i, Query: step.Query, Expected: expected, Actual: actual}).Error()
	}

	exp := step.Expect
	if exp == nil {
		if err != nil {
			return []string{fail("success", err.Error())}
		}
		return nil
	}

	if exp.Error != "" {
		if err == nil {
			return []string{fail("error "+exp.Error, "success")}
		}
		if code := errorCode(err); code != exp.Error {
			return []string{fail("error "+exp.Error, code)}
		}
		return nil
	}
	if err != nil {
		return []string{fail("success", err.Error())}
	}

	var msgs []string
	if exp.Absent {
		if absent, _ := out["absent"].(bool); !absent {
			msgs = append(msgs, fail("absent", "entity present"))
		}
	}
	if exp.Fields != nil {
		fields, ferr := observedFields(step.Query, out)
		if ferr != nil {
			msgs = append(msgs, fail(fmt.Sprintf("fields %v", exp.Fields), ferr.Error()))
		} else if m := matchFields(fields, exp.Fields); m != "" {
			msgs = append(msgs, fail(fmt.Sprintf("fields %v", exp.Fields), m))
		}
	}
	if exp.Commits != nil {
		if got := ints(out["commits"]); !slices.Equal(got, exp.Commits) {
			msgs = append(msgs, fail(fmt.Sprintf("commits %v", exp.Commits), fmt.Sprintf("%v", got)))
		}
	}
	if exp.Dates != nil {
		if got := strs(out["dates"]); !slices.Equal(got, exp.Dates) {
			msgs = append(msgs, fail(fmt.Sprintf("dates %v", exp.Dates), fmt.Sprintf("%v", got)))
		}
	}
	if exp.Objects != nil {
		objects, actions := deltas(out)
		if !slices.Equal(objects, exp.Objects) {
			msgs = append(msgs, fail(fmt.Sprintf("delta order %v", exp.Objects), fmt.Sprintf("%v", objects)))
		} else if exp.Actions != nil && !slices.Equal(actions, exp.Actions) {
			msgs = append(msgs, fail(fmt.Sprintf("delta actions %v", exp.Actions), fmt.Sprintf("%v", actions)))
		}
	}
	if exp.RolledBack != nil {
		if got := ints(out["rolled_back"]); !slices.Equal(got, exp.RolledBack) {
			msgs = append(msgs, fail(fmt.Sprintf("rolled back %v", exp.RolledBack), fmt.Sprintf("%v", got)))
		}
	}
	return msgs
}

func observedFields(q Query, out map[string]any) (ir.Object, error) {
	switch q {
	case QueryGet:
		ent, ok := out["entity"].(ir.Object)
		if !ok {
			return nil, fmt.Errorf("no entity")
		}
		fields, _ := ent["fields"].(ir.Object)
		return fields, nil
	case QueryViewAsOf:
		fields, _ := out["live"].(ir.Object)
		return fields, nil
	default:
		return nil, fmt.Errorf("fields are not checked for %s", q)
	}
}

// matchFields checks expected against actual with subset semantics. It
// returns a description of the first mismatch, or "".
func matchFields(actual ir.Object, expected map[string]any) string {
	for _, k := range sortedKeys(expected) {
		want, err := ir.FromGo(expected[k])
		if err != nil {
			return fmt.Sprintf("field %s: %v", k, err)
		}
		got, ok := actual[k]
		if !ok {
			return fmt.Sprintf("field %s missing", k)
		}
		if !ir.Equal(got, want) {
			gotJSON, _ := ir.MarshalValue(got)
			return fmt.Sprintf("field %s = %s", k, gotJSON)
		}
	}
	return ""
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// ints reads an id list from a step output, which holds []any of int64
// before serialization and ir.Array after a report round-trip.
func ints(v any) []int64 {
	out := []int64{}
	switch arr := v.(type) {
	case []any:
		for _, e := range arr {
			if n, ok := e.(int64); ok {
				out = append(out, n)
			}
		}
	case ir.Array:
		for _, e := range arr {
			if n, ok := e.(ir.Int); ok {
				out = append(out, int64(n))
			}
		}
	}
	return out
}

func strs(v any) []string {
	out := []string{}
	if arr, ok := v.([]any); ok {
		for _, e := range arr {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// deltas lists the object ids and actions of a report output, in order.
func deltas(out map[string]any) ([]int64, []string) {
	objects, actions := []int64{}, []string{}
	arr, _ := out["deltas"].(ir.Array)
	for _, d := range arr {
		obj, ok := d.(ir.Object)
		if !ok {
			continue
		}
		id, _ := obj["object_id"].(ir.Int)
		action, _ := obj["action"].(ir.String)
		objects = append(objects, int64(id))
		actions = append(actions, string(action))
	}
	return objects, actions
}
