package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/asof/internal/auditerr"
	"github.com/roach88/asof/internal/ir"
)

// Query names a step's operation.
type Query string

const (
	QueryGet        Query = "get"
	QueryHistory    Query = "history"
	QueryDiff       Query = "diff"
	QueryDiffCommit Query = "diff_commit"
	QueryViewAsOf   Query = "view_as_of"
)

// Scenario is an audit conformance scenario: a schema, a fixture seeded into
// a fresh store, and a sequence of queries with expectations.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is a directory of CUE entity metadata, relative to the
	// scenario file.
	Schema string `yaml:"schema"`

	// Fixture is a seed file (see package fixture), relative to the
	// scenario file.
	Fixture string `yaml:"fixture"`

	// Prefetch runs every snapshot with owned-type prefetching.
	Prefetch bool `yaml:"prefetch,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Step is one query. Which fields apply depends on Query:
//
//	get:         object, at
//	history:     root, axis
//	diff:        root, from, to
//	diff_commit: commit
//	view_as_of:  target, date
type Step struct {
	Query  Query   `yaml:"query"`
	Object int64   `yaml:"object,omitempty"`
	Root   int64   `yaml:"root,omitempty"`
	At     string  `yaml:"at,omitempty"`
	Axis   string  `yaml:"axis,omitempty"`
	From   string  `yaml:"from,omitempty"`
	To     string  `yaml:"to,omitempty"`
	Commit int64   `yaml:"commit,omitempty"`
	Target int64   `yaml:"target,omitempty"`
	Date   string  `yaml:"date,omitempty"`
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect holds a step's expectations. Unset fields are not checked.
type Expect struct {
	// Error is the auditerr code the step must fail with.
	Error string `yaml:"error,omitempty"`

	// Absent requires get to return no entity.
	Absent bool `yaml:"absent,omitempty"`

	// Fields is a subset match on the entity's fields (get) or on the live
	// state while the view is held (view_as_of).
	Fields map[string]any `yaml:"fields,omitempty"`

	Commits []int64  `yaml:"commits,omitempty"`
	Dates   []string `yaml:"dates,omitempty"`

	// Objects is the exact delta order of a diff.
	Objects []int64 `yaml:"objects,omitempty"`

	// Actions parallels Objects.
	Actions []string `yaml:"actions,omitempty"`

	// RolledBack is the exact rollback order of a view, by event id.
	RolledBack []int64 `yaml:"rolled_back,omitempty"`
}

// LoadScenario reads a scenario and resolves its paths relative to the
// scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos)
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	for _, p := range []*string{&scenario.Schema, &scenario.Fixture} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	if s.Fixture == "" {
		return fmt.Errorf("fixture is required")
	}
	for _, p := range []string{s.Schema, s.Fixture} {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return fmt.Errorf("file not found: %s", p)
		}
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, st *Step) error {
	coord := func(name, v string) error {
		if v == "" {
			return fmt.Errorf("steps[%d]: %s is required for %s", i, name, st.Query)
		}
		if _, err := ir.ParseCoordinate(v); err != nil {
			return fmt.Errorf("steps[%d].%s: %w", i, name, err)
		}
		return nil
	}

	switch st.Query {
	case QueryGet:
		if st.Object <= 0 {
			return fmt.Errorf("steps[%d]: object is required for get", i)
		}
		if err := coord("at", st.At); err != nil {
			return err
		}
	case QueryHistory:
		if st.Root <= 0 {
			return fmt.Errorf("steps[%d]: root is required for history", i)
		}
		if _, err := ir.ParseAxis(st.Axis); err != nil {
			return fmt.Errorf("steps[%d].axis: %w", i, err)
		}
	case QueryDiff:
		if st.Root <= 0 {
			return fmt.Errorf("steps[%d]: root is required for diff", i)
		}
		if err := coord("from", st.From); err != nil {
			return err
		}
		if err := coord("to", st.To); err != nil {
			return err
		}
	case QueryDiffCommit:
		if st.Commit <= 0 {
			return fmt.Errorf("steps[%d]: commit is required for diff_commit", i)
		}
	case QueryViewAsOf:
		if st.Target <= 0 {
			return fmt.Errorf("steps[%d]: target is required for view_as_of", i)
		}
		if _, err := ir.ParseDate(st.Date); err != nil {
			return fmt.Errorf("steps[%d].date: %w", i, err)
		}
	case "":
		return fmt.Errorf("steps[%d]: query is required", i)
	default:
		return fmt.Errorf("steps[%d]: unknown query %q", i, st.Query)
	}

	if e := st.Expect; e != nil {
		if e.Error != "" && !knownCode(e.Error) {
			return fmt.Errorf("steps[%d].expect: unknown error code %q", i, e.Error)
		}
		if len(e.Actions) > 0 && len(e.Actions) != len(e.Objects) {
			return fmt.Errorf("steps[%d].expect: actions must parallel objects", i)
		}
	}
	return nil
}

func knownCode(code string) bool {
	switch auditerr.Code(code) {
	case auditerr.CodeConflictingEntry, auditerr.CodeNotFound, auditerr.CodeUnsupported,
		auditerr.CodeStructuralIntegrity, auditerr.CodeConcurrencyExhausted,
		auditerr.CodeConfiguration, auditerr.CodeInvalidState:
		return true
	}
	return false
}
