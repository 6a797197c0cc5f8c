package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Golden(t *testing.T) {
	for _, name := range []string{"order_history", "order_changes"} {
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
			require.NoError(t, err)

			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_AggregateDiff(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/aggregate_diff.yaml")
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Steps, 5)
	assert.Equal(t, "UNSUPPORTED_OPERATION", result.Steps[3].Error)
	assert.Nil(t, result.Steps[3].Output)
}

func TestRun_ViewsAreRestored(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/order_changes.yaml")
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)
	// The second view starts from fully applied state, so it rolls back
	// all three events rather than only the one left.
	assert.Equal(t, []int64{3, 2, 1}, ints(result.Steps[2].Output["rolled_back"]))
}

func TestRun_FailedExpectation(t *testing.T) {
	s, err := LoadScenario("testdata/invalid/wrong_expectation.yaml")
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "commits [1 5]")
	assert.Contains(t, result.Errors[0], "[1 5 7]")
}

func TestRun_BadSchema(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/order_history.yaml")
	require.NoError(t, err)
	s.Schema = t.TempDir()

	_, err = Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load schema")
}
