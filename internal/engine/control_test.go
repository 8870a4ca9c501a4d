package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lithoslog/lithos/internal/schema"
	"github.com/lithoslog/lithos/internal/value"
)

// controlInstance builds a bare instance carrying only a control-rule
// index and a snapshot, which is all propagateControls reads.
func controlInstance(rules []schema.ControlRule, fieldIDs ...string) (*Instance, value.Snapshot) {
	controls := make(map[string][]schema.ControlRule)
	for _, r := range rules {
		controls[r.Source] = append(controls[r.Source], r)
	}
	snap := value.Snapshot{}
	for _, id := range fieldIDs {
		snap.SetRaw(id, value.Null{})
	}
	return &Instance{Controls: controls}, snap
}

func valueSetRule(source, target string, mapping map[string]value.Value) schema.ControlRule {
	return schema.ControlRule{
		Source:  source,
		Target:  target,
		Effect:  schema.EffectValueSet,
		Mapping: mapping,
	}
}

func TestPropagateControls_ValueSetApplies(t *testing.T) {
	inst, snap := controlInstance([]schema.ControlRule{
		valueSetRule("method", "hammer", map[string]value.Value{"SPT": value.Str("auto")}),
	}, "method", "hammer")
	snap.SetRaw("method", value.Str("SPT"))

	out := &controlOutcome{}
	rerr := propagateControls(inst, snap, "method", 0, DefaultMaxDepth, out)
	require.Nil(t, rerr)

	assert.Equal(t, []string{"hammer"}, out.valueSet)
	assert.Equal(t, value.Str("auto"), snap.Raw("hammer"))
}

func TestPropagateControls_NoMatchNoFire(t *testing.T) {
	inst, snap := controlInstance([]schema.ControlRule{
		valueSetRule("method", "hammer", map[string]value.Value{"SPT": value.Str("auto")}),
	}, "method", "hammer")
	snap.SetRaw("method", value.Str("CPT"))

	out := &controlOutcome{}
	rerr := propagateControls(inst, snap, "method", 0, DefaultMaxDepth, out)
	require.Nil(t, rerr)
	assert.Empty(t, out.valueSet)
	assert.Equal(t, value.Null{}, snap.Raw("hammer"))
}

func TestPropagateControls_DefaultFallback(t *testing.T) {
	inst, snap := controlInstance([]schema.ControlRule{
		{
			Source:  "method",
			Target:  "note",
			Effect:  schema.EffectVisibility,
			Mapping: map[string]value.Value{"SPT": value.Bool(true)},
			Default: value.Bool(false),
		},
	}, "method", "note")
	snap.SetRaw("method", value.Str("anything"))

	rerr := propagateControls(inst, snap, "method", 0, DefaultMaxDepth, &controlOutcome{})
	require.Nil(t, rerr)
	assert.False(t, snap.Get("note").Visible)
}

func TestPropagateControls_VisibilityAndEnableAreLeafEffects(t *testing.T) {
	inst, snap := controlInstance([]schema.ControlRule{
		{
			Source: "method", Target: "note", Effect: schema.EffectVisibility,
			Mapping: map[string]value.Value{"CPT": value.Bool(false)},
		},
		{
			Source: "method", Target: "casing", Effect: schema.EffectEnable,
			Mapping: map[string]value.Value{"CPT": value.Bool(false)},
		},
		// Rules sourced at the targets must NOT fire from flag changes.
		valueSetRule("note", "downstream", map[string]value.Value{"": value.Str("x")}),
	}, "method", "note", "casing", "downstream")
	snap.SetRaw("method", value.Str("CPT"))

	out := &controlOutcome{}
	rerr := propagateControls(inst, snap, "method", 0, DefaultMaxDepth, out)
	require.Nil(t, rerr)

	assert.False(t, snap.Get("note").Visible)
	assert.False(t, snap.Get("casing").Enabled)
	assert.Empty(t, out.valueSet, "flag effects do not recurse")
	assert.Equal(t, value.Null{}, snap.Raw("downstream"))
}

func TestPropagateControls_NonBoolFlagValue(t *testing.T) {
	inst, snap := controlInstance([]schema.ControlRule{
		{
			Source: "method", Target: "note", Effect: schema.EffectVisibility,
			Mapping: map[string]value.Value{"SPT": value.Str("yes")},
		},
	}, "method", "note")
	snap.SetRaw("method", value.Str("SPT"))

	rerr := propagateControls(inst, snap, "method", 0, DefaultMaxDepth, &controlOutcome{})
	require.NotNil(t, rerr)
	assert.Equal(t, ErrCodeEvaluationFailed, rerr.Code)
}

func TestPropagateControls_UnknownTarget(t *testing.T) {
	inst, snap := controlInstance([]schema.ControlRule{
		valueSetRule("method", "ghost", map[string]value.Value{"SPT": value.Str("x")}),
	}, "method")
	snap.SetRaw("method", value.Str("SPT"))

	rerr := propagateControls(inst, snap, "method", 0, DefaultMaxDepth, &controlOutcome{})
	require.NotNil(t, rerr)
	assert.Equal(t, ErrCodeUnknownField, rerr.Code)
	assert.Equal(t, "ghost", rerr.FieldID)
}

func TestPropagateControls_FormulaDerivedTargetForbidden(t *testing.T) {
	inst, snap := controlInstance([]schema.ControlRule{
		valueSetRule("method", "thickness", map[string]value.Value{"SPT": value.Str("x")}),
	}, "method", "thickness")
	snap.SetRaw("method", value.Str("SPT"))
	snap.Get("thickness").FormulaDerived = true

	rerr := propagateControls(inst, snap, "method", 0, DefaultMaxDepth, &controlOutcome{})
	require.NotNil(t, rerr)
	assert.Equal(t, ErrCodeEditForbidden, rerr.Code)
}

// chainRules builds a linear VALUE_SET chain f0 -> f1 -> ... -> fN where
// each hop sets the next field to "on".
func chainRules(n int) ([]schema.ControlRule, []string) {
	rules := make([]schema.ControlRule, 0, n)
	fields := make([]string, 0, n+1)
	for i := 0; i < n; i++ {
		rules = append(rules, valueSetRule(
			fmt.Sprintf("f%d", i),
			fmt.Sprintf("f%d", i+1),
			map[string]value.Value{"on": value.Str("on")},
		))
	}
	for i := 0; i <= n; i++ {
		fields = append(fields, fmt.Sprintf("f%d", i))
	}
	return rules, fields
}

func TestPropagateControls_ChainWithinDepth(t *testing.T) {
	rules, fields := chainRules(3)
	inst, snap := controlInstance(rules, fields...)
	snap.SetRaw("f0", value.Str("on"))

	out := &controlOutcome{}
	rerr := propagateControls(inst, snap, "f0", 0, 3, out)
	require.Nil(t, rerr)
	assert.Equal(t, []string{"f1", "f2", "f3"}, out.valueSet)
}

func TestPropagateControls_ChainExceedsDepth(t *testing.T) {
	rules, fields := chainRules(3)
	inst, snap := controlInstance(rules, fields...)
	snap.SetRaw("f0", value.Str("on"))

	rerr := propagateControls(inst, snap, "f0", 0, 2, &controlOutcome{})
	require.NotNil(t, rerr)
	assert.Equal(t, ErrCodeDepthExceeded, rerr.Code)
	assert.Equal(t, "f3", rerr.FieldID, "the hop past the bound names the target it could not reach")
}

func TestPropagateControls_DefaultDepthBoundary(t *testing.T) {
	rules, fields := chainRules(DefaultMaxDepth)
	inst, snap := controlInstance(rules, fields...)
	snap.SetRaw("f0", value.Str("on"))

	out := &controlOutcome{}
	rerr := propagateControls(inst, snap, "f0", 0, DefaultMaxDepth, out)
	require.Nil(t, rerr, "exactly maxDepth hops is allowed")
	assert.Len(t, out.valueSet, DefaultMaxDepth)

	rules, fields = chainRules(DefaultMaxDepth + 1)
	inst, snap = controlInstance(rules, fields...)
	snap.SetRaw("f0", value.Str("on"))
	rerr = propagateControls(inst, snap, "f0", 0, DefaultMaxDepth, &controlOutcome{})
	assert.NotNil(t, rerr, "hop 11 exceeds the bound")
}

func TestPropagateControls_SameValueCycleTerminates(t *testing.T) {
	// a and b set each other to the same constant; the second write is a
	// no-op and the recursion stops without hitting the depth bound.
	inst, snap := controlInstance([]schema.ControlRule{
		valueSetRule("a", "b", map[string]value.Value{"x": value.Str("x")}),
		valueSetRule("b", "a", map[string]value.Value{"x": value.Str("x")}),
	}, "a", "b")
	snap.SetRaw("a", value.Str("x"))

	out := &controlOutcome{}
	rerr := propagateControls(inst, snap, "a", 0, DefaultMaxDepth, out)
	require.Nil(t, rerr)
	assert.Equal(t, []string{"b"}, out.valueSet)
	assert.Equal(t, value.Str("x"), snap.Raw("b"))
}
