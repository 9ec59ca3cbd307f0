package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanPreservesOrder(t *testing.T) {
	p := &Pipeline{
		Name:   "ordered",
		Params: []ParamDef{{Name: "lint"}},
		Stages: []Stage{
			{Name: "A", Steps: []Step{{Run: "true"}}},
			{Name: "B", When: &Condition{Param: "lint"}, Steps: []Step{{Run: "true"}}},
			{Name: "C", Steps: []Step{{Run: "true"}}},
		},
	}
	require.NoError(t, p.Validate())

	planned := Plan(p, MapLookup(nil), map[string]bool{"lint": false})
	require.Len(t, planned, 3)
	assert.Equal(t, "A", planned[0].Stage.Name)
	assert.True(t, planned[0].Included)
	assert.Equal(t, "B", planned[1].Stage.Name)
	assert.False(t, planned[1].Included)
	assert.True(t, planned[2].Included)
}

func TestPlanLeavesGroupChildrenAlone(t *testing.T) {
	p := &Pipeline{
		Name:   "grouped",
		Params: []ParamDef{{Name: "tests"}},
		Stages: []Stage{{
			Name: "Group",
			Parallel: []Stage{
				{Name: "Guarded", When: &Condition{Param: "tests"}, Steps: []Step{{Run: "true"}}},
			},
		}},
	}
	require.NoError(t, p.Validate())

	// A group with only skipped children is still included; the children
	// resolve their own guards at execution time.
	planned := Plan(p, MapLookup(nil), map[string]bool{"tests": false})
	require.Len(t, planned, 1)
	assert.True(t, planned[0].Included)
}
