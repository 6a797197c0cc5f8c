package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCoordinate(t *testing.T) {
	tests := []struct {
		input   string
		want    Coordinate
		wantErr bool
	}{
		{"5", AtCommit(5), false},
		{"commit:12", AtCommit(12), false},
		{"2021-03-01", AtDate(time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)), false},
		{"date:2021-03-01", AtDate(time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)), false},
		{"0", Coordinate{}, true},
		{"yesterday", Coordinate{}, true},
		{"date:03/01/2021", Coordinate{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCoordinate(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoordinateGoverns(t *testing.T) {
	e := AuditLogEntry{CommitID: 5, EffectiveDate: time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)}

	assert.True(t, AtCommit(5).Governs(e))
	assert.True(t, AtCommit(6).Governs(e))
	assert.False(t, AtCommit(4).Governs(e))

	assert.True(t, AtDate(time.Date(2020, 6, 1, 15, 0, 0, 0, time.UTC)).Governs(e))
	assert.False(t, AtDate(time.Date(2020, 5, 31, 0, 0, 0, 0, time.UTC)).Governs(e))
}

func TestCoordinateKey(t *testing.T) {
	assert.Equal(t, "commit:3", AtCommit(3).Key())
	assert.Equal(t, "date:2020-01-02", AtDate(time.Date(2020, 1, 2, 23, 59, 0, 0, time.UTC)).Key())
}

func TestParseAxis(t *testing.T) {
	a, err := ParseAxis("commit")
	require.NoError(t, err)
	assert.Equal(t, AxisCommit, a)

	a, err = ParseAxis("DATE")
	require.NoError(t, err)
	assert.Equal(t, AxisEffective, a)

	_, err = ParseAxis("wall")
	assert.Error(t, err)
}
