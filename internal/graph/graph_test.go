package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_AcyclicOrder(t *testing.T) {
	// thickness reads depth_top/depth_base; ratio reads thickness.
	g, cycleErr := Build(map[string][]string{
		"thickness": {"depth_base", "depth_top"},
		"ratio":     {"thickness", "depth_base"},
	})
	require.Nil(t, cycleErr)

	assert.Equal(t, []string{"thickness", "ratio"}, g.FormulaFields())
	assert.True(t, g.IsFormulaField("thickness"))
	assert.False(t, g.IsFormulaField("depth_top"))
}

func TestBuild_DeterministicTieBreak(t *testing.T) {
	// Three independent formulas: order falls back to field id.
	deps := map[string][]string{
		"c": {"x"},
		"a": {"x"},
		"b": {"x"},
	}
	g1, _ := Build(deps)
	g2, _ := Build(deps)
	assert.Equal(t, []string{"a", "b", "c"}, g1.FormulaFields())
	assert.Equal(t, g1.FormulaFields(), g2.FormulaFields(), "identical inputs produce identical order")
}

func TestAffected_TransitiveClosure(t *testing.T) {
	g, cycleErr := Build(map[string][]string{
		"thickness": {"depth_base", "depth_top"},
		"ratio":     {"thickness"},
		"unrelated": {"other"},
	})
	require.Nil(t, cycleErr)

	affected := g.Affected([]string{"depth_top"})
	assert.Equal(t, []string{"thickness", "ratio"}, affected)

	assert.Empty(t, g.Affected([]string{"nonexistent"}))
}

func TestAffected_IncludesChangedFormulaField(t *testing.T) {
	g, _ := Build(map[string][]string{
		"thickness": {"depth_top"},
	})
	assert.Equal(t, []string{"thickness"}, g.Affected([]string{"thickness"}))
}

func TestBuild_DetectsCycle(t *testing.T) {
	g, cycleErr := Build(map[string][]string{
		"a": {"b"},
		"b": {"a"},
		"c": {"a"},
	})
	require.NotNil(t, cycleErr)
	require.Len(t, cycleErr.Cycles, 1)
	assert.Equal(t, []string{"a", "b"}, cycleErr.Cycles[0])

	// The graph stays usable: cyclic members are marked, downstream
	// fields are not.
	assert.True(t, g.IsCyclic("a"))
	assert.True(t, g.IsCyclic("b"))
	assert.False(t, g.IsCyclic("c"))
}

func TestBuild_SelfLoopIsCycle(t *testing.T) {
	_, cycleErr := Build(map[string][]string{
		"a": {"a"},
	})
	require.NotNil(t, cycleErr)
	assert.Equal(t, [][]string{{"a"}}, cycleErr.Cycles)
}

func TestBuild_PlainFieldCannotCloseCycle(t *testing.T) {
	// Both formulas read the same plain input; that is sharing, not a cycle.
	_, cycleErr := Build(map[string][]string{
		"a": {"shared"},
		"b": {"shared"},
	})
	assert.Nil(t, cycleErr)
}

func TestDependencies_Sorted(t *testing.T) {
	g, _ := Build(map[string][]string{
		"f": {"z", "a", "m"},
	})
	assert.Equal(t, []string{"a", "m", "z"}, g.Dependencies("f"))
}
