package criteria

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/asof/internal/ir"
)

func TestValidate(t *testing.T) {
	day := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		query   Query
		wantErr bool
	}{
		{"nil filter", Query{}, false},
		{"object set", Query{Filter: ObjectIn{IDs: []int64{1}}}, false},
		{"empty object set", Query{Filter: ObjectIn{}}, true},
		{"empty root set", Query{Filter: RootIn{}}, true},
		{"empty commit set", Query{Filter: CommitIn{}}, true},
		{"empty type set", Query{Filter: EntityTypeIn{}}, true},
		{"zero commit bound", Query{Filter: CommitAtOrBefore{}}, true},
		{"zero date bound", Query{Filter: EffectiveAtOrBefore{}}, true},
		{"inverted range", Query{Filter: CommittedBetween{Start: day, End: day}}, true},
		{"range", Query{Filter: CommittedBetween{Start: day, End: day.Add(time.Hour)}}, false},
		{"nested bad", Query{Filter: And{Predicates: []Predicate{ObjectIn{IDs: []int64{1}}, RootIn{}}}}, true},
		{"nil in and", Query{Filter: And{Predicates: []Predicate{nil}}}, true},
		{"negative limit", Query{Limit: -1}, true},
		{"unknown order", Query{Order: Order(42)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.query)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAllFlattensSingles(t *testing.T) {
	p := All(nil, CommitIn{IDs: []int64{3}})
	assert.Equal(t, CommitIn{IDs: []int64{3}}, p)

	p = All(CommitIn{IDs: []int64{3}}, RootIn{IDs: []int64{1}})
	assert.Len(t, p.(And).Predicates, 2)
}

func TestAsOfAndLatestOn(t *testing.T) {
	assert.Equal(t, CommitAtOrBefore{CommitID: 4}, AsOf(ir.AtCommit(4)))

	d := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, EffectiveAtOrBefore{Date: d}, AsOf(ir.AtDate(d)))

	assert.Equal(t, OrderLatestCommit, LatestOn(ir.AxisCommit))
	assert.Equal(t, OrderLatestEffective, LatestOn(ir.AxisEffective))
}
