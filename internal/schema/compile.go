package schema

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// CompileError is a metadata error with its CUE source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Compile reads every `entity: <Name>: {...}` block of a CUE value.
//
//	entity: Order: {
//		id:   1
//		root: true
//		owns: lines: "OrderLine"
//		refs: customer: "Customer"
//	}
func Compile(v cue.Value) (*Registry, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	entities := v.LookupPath(cue.ParsePath("entity"))
	if !entities.Exists() {
		return nil, &CompileError{Field: "entity", Message: "no entity types declared", Pos: v.Pos()}
	}

	iter, err := entities.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var types []EntityType
	for iter.Next() {
		t, err := compileEntity(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return NewRegistry(types...)
}

// CompileString compiles CUE source text. Convenient for tests and fixtures
// that embed their schema.
func CompileString(src string) (*Registry, error) {
	return Compile(cuecontext.New().CompileString(src))
}

// LoadDir loads the CUE package in dir and compiles it.
func LoadDir(dir string) (*Registry, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("schema directory: not a directory: %s", dir)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, fmt.Errorf("scan schema directory: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	if err := instances[0].Err; err != nil {
		return nil, fmt.Errorf("load CUE files: %w", err)
	}
	value := cuecontext.New().BuildInstance(instances[0])
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return Compile(value)
}

func compileEntity(name string, v cue.Value) (EntityType, error) {
	t := EntityType{Name: name}

	idVal := v.LookupPath(cue.ParsePath("id"))
	if !idVal.Exists() {
		return t, &CompileError{Field: name + ".id", Message: "id is required", Pos: v.Pos()}
	}
	id, err := idVal.Int64()
	if err != nil {
		return t, formatCUEError(err)
	}
	if id <= 0 || id > 1<<31-1 {
		return t, &CompileError{Field: name + ".id", Message: fmt.Sprintf("id out of range: %d", id), Pos: idVal.Pos()}
	}
	t.ID = int32(id)

	if rootVal := v.LookupPath(cue.ParsePath("root")); rootVal.Exists() {
		root, err := rootVal.Bool()
		if err != nil {
			return t, formatCUEError(err)
		}
		t.AggregateRoot = root
	}

	if t.Owns, err = compileAssociations(name, "owns", v); err != nil {
		return t, err
	}
	if t.Refs, err = compileAssociations(name, "refs", v); err != nil {
		return t, err
	}
	return t, nil
}

func compileAssociations(entity, field string, v cue.Value) (map[string]string, error) {
	out := map[string]string{}
	assocVal := v.LookupPath(cue.ParsePath(field))
	if !assocVal.Exists() {
		return out, nil
	}
	iter, err := assocVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		target, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{
				Field:   fmt.Sprintf("%s.%s.%s", entity, field, iter.Label()),
				Message: "association target must be a type name string",
				Pos:     iter.Value().Pos(),
			}
		}
		out[iter.Label()] = target
	}
	return out, nil
}

// formatCUEError keeps the first CUE error with its position.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
