package auditerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	assert.Equal(t,
		"CONFLICTING_ENTRY: different entries claim the same object revision (object=4, commit=9)",
		ConflictingEntry(4, 9).Error())
	assert.Equal(t, "NOT_FOUND: no history (object=4)", NotFound(4, "no history").Error())
	assert.Equal(t, "UNSUPPORTED_OPERATION: lazy", Unsupported("lazy").Error())
}

func TestHelpersSeeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("load: %w", ConflictingEntry(1, 2))

	assert.True(t, IsConflictingEntry(err))
	assert.False(t, IsNotFound(err))
	assert.False(t, IsConflictingEntry(errors.New("plain")))
	assert.False(t, IsConflictingEntry(nil))
}

func TestEachConstructorMatchesItsHelper(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"conflict", ConflictingEntry(1, 1), IsConflictingEntry},
		{"not found", NotFound(1, "x"), IsNotFound},
		{"unsupported", Unsupported("x"), IsUnsupported},
		{"structural", StructuralIntegrity(1, "x"), IsStructuralIntegrity},
		{"concurrency", ConcurrencyExhausted(3), IsConcurrencyExhausted},
		{"configuration", Configuration("x"), IsConfiguration},
		{"invalid state", InvalidState("x"), IsInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
		})
	}
}

func TestErrorsIsByCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", StructuralIntegrity(3, "cycle"))
	assert.True(t, errors.Is(err, &Error{Code: CodeStructuralIntegrity}))
	assert.False(t, errors.Is(err, &Error{Code: CodeNotFound}))
}

func TestConcurrencyExhaustedDetails(t *testing.T) {
	err := ConcurrencyExhausted(64)
	assert.Equal(t, "64", err.Details["attempts"])
}
