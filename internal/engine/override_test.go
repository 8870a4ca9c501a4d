package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lithoslog/lithos/internal/value"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// passValidator accepts everything.
type passValidator struct{}

func (passValidator) Check(string, value.Value) error { return nil }

// failValidator rejects everything.
type failValidator struct{}

func (failValidator) Check(string, value.Value) error {
	return &RuntimeError{Code: ErrCodeEvaluationFailed, Message: "constraint failed"}
}

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to OverrideState }{
		{StatePending, StateAccepted},
		{StatePending, StateInvalid},
		{StateAccepted, StateSynced},
		{StateSynced, StateSyncedFormula},
	}
	for _, tc := range legal {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	illegal := []struct{ from, to OverrideState }{
		{StatePending, StateSynced},
		{StateSynced, StatePending},
		{StateAccepted, StatePending},
		{StateInvalid, StateAccepted},
		{StateSyncedFormula, StateSynced},
	}
	for _, tc := range illegal {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestOverrideSet_Observe_FirstDivergence(t *testing.T) {
	s := NewOverrideSet()

	ten, _ := value.NewNumString("10")
	fifteen, _ := value.NewNumString("15")
	o, conflict := s.Observe("thickness", ten, fifteen, testNow)

	require.NotNil(t, o)
	assert.Nil(t, conflict)
	assert.Equal(t, StatePending, o.State)
	assert.True(t, o.UseInGeneration)
	assert.NotEmpty(t, o.ID)
	assert.True(t, value.Equal(ten, o.SystemValue))
	assert.True(t, value.Equal(fifteen, o.ObservedValue))
}

func TestOverrideSet_Observe_EqualValueIsNoOp(t *testing.T) {
	s := NewOverrideSet()
	ten, _ := value.NewNumString("10")

	o, conflict := s.Observe("thickness", ten, ten, testNow)
	assert.Nil(t, o)
	assert.Nil(t, conflict)
	assert.Nil(t, s.Get("thickness"))
}

func TestOverrideSet_Observe_RepeatSameValue(t *testing.T) {
	s := NewOverrideSet()
	ten, _ := value.NewNumString("10")
	fifteen, _ := value.NewNumString("15")

	first, _ := s.Observe("thickness", ten, fifteen, testNow)
	second, conflict := s.Observe("thickness", ten, fifteen, testNow)

	assert.Same(t, first, second)
	assert.Nil(t, conflict)
}

func TestOverrideSet_Observe_DivergentSecondValueConflicts(t *testing.T) {
	s := NewOverrideSet()
	ten, _ := value.NewNumString("10")
	fifteen, _ := value.NewNumString("15")
	twenty, _ := value.NewNumString("20")

	s.Observe("thickness", ten, fifteen, testNow)
	o, conflict := s.Observe("thickness", ten, twenty, testNow)

	require.NotNil(t, conflict)
	assert.Equal(t, StatePending, o.State, "the original override stays put")
	require.Len(t, conflict.Candidates, 2)
	assert.True(t, value.Equal(fifteen, conflict.Candidates[0]))
	assert.True(t, value.Equal(twenty, conflict.Candidates[1]))

	// A third repeat of a known candidate does not duplicate it.
	_, conflict = s.Observe("thickness", ten, twenty, testNow)
	require.NotNil(t, conflict)
	assert.Len(t, conflict.Candidates, 2)
}

func TestOverrideSet_Accept_Valid(t *testing.T) {
	s := NewOverrideSet()
	ten, _ := value.NewNumString("10")
	fifteen, _ := value.NewNumString("15")
	s.Observe("thickness", ten, fifteen, testNow)

	later := testNow.Add(time.Minute)
	o, rerr := s.Accept("thickness", passValidator{}, later)
	require.Nil(t, rerr)
	assert.Equal(t, StateAccepted, o.State)
	assert.Equal(t, later, o.UpdatedAt)
	assert.True(t, o.Active())
}

func TestOverrideSet_Accept_ConstraintFailure(t *testing.T) {
	s := NewOverrideSet()
	ten, _ := value.NewNumString("10")
	bad, _ := value.NewNumString("-1")
	s.Observe("thickness", ten, bad, testNow)

	o, rerr := s.Accept("thickness", failValidator{}, testNow)
	require.Nil(t, rerr, "a validation rejection is a state outcome, not an error")
	assert.Equal(t, StateInvalid, o.State)
	assert.False(t, o.Active())
}

func TestOverrideSet_Accept_NotPending(t *testing.T) {
	s := NewOverrideSet()
	ten, _ := value.NewNumString("10")
	fifteen, _ := value.NewNumString("15")
	s.Observe("thickness", ten, fifteen, testNow)
	s.Accept("thickness", passValidator{}, testNow)

	_, rerr := s.Accept("thickness", passValidator{}, testNow)
	require.NotNil(t, rerr)
	assert.Equal(t, ErrCodeIllegalTransition, rerr.Code)
}

func TestOverrideSet_Accept_NoOverride(t *testing.T) {
	s := NewOverrideSet()
	_, rerr := s.Accept("thickness", passValidator{}, testNow)
	require.NotNil(t, rerr)
	assert.Equal(t, ErrCodeUnknownField, rerr.Code)
}

func TestOverrideSet_MarkSynced(t *testing.T) {
	s := NewOverrideSet()
	ten, _ := value.NewNumString("10")
	fifteen, _ := value.NewNumString("15")
	s.Observe("thickness", ten, fifteen, testNow)

	rerr := s.MarkSynced("thickness", testNow)
	require.NotNil(t, rerr, "PENDING cannot jump straight to SYNCED")
	assert.Equal(t, ErrCodeIllegalTransition, rerr.Code)

	s.Accept("thickness", passValidator{}, testNow)
	require.Nil(t, s.MarkSynced("thickness", testNow))
	assert.Equal(t, StateSynced, s.Get("thickness").State)
	assert.True(t, s.Get("thickness").Active())
}

func TestOverrideSet_Invalidate(t *testing.T) {
	s := NewOverrideSet()
	ten, _ := value.NewNumString("10")
	fifteen, _ := value.NewNumString("15")
	s.Observe("thickness", ten, fifteen, testNow)

	s.Invalidate("thickness", testNow)
	assert.Equal(t, StateInvalid, s.Get("thickness").State)

	// Invalidate only touches PENDING; a second call is a no-op.
	s.Invalidate("thickness", testNow.Add(time.Hour))
	assert.Equal(t, testNow, s.Get("thickness").UpdatedAt)
}

func TestOverrideSet_UseInGenerationGatesActive(t *testing.T) {
	s := NewOverrideSet()
	ten, _ := value.NewNumString("10")
	fifteen, _ := value.NewNumString("15")
	o, _ := s.Observe("thickness", ten, fifteen, testNow)
	s.Accept("thickness", passValidator{}, testNow)

	require.True(t, o.Active())
	o.UseInGeneration = false
	assert.False(t, o.Active())
}

func TestOverrideSet_Cleanup(t *testing.T) {
	s := NewOverrideSet()
	ten, _ := value.NewNumString("10")
	fifteen, _ := value.NewNumString("15")

	for _, fieldID := range []string{"thickness", "midpoint", "note"} {
		s.Observe(fieldID, ten, fifteen, testNow)
		s.Accept(fieldID, passValidator{}, testNow)
		require.Nil(t, s.MarkSynced(fieldID, testNow))
	}
	// A PENDING override survives cleanup untouched.
	s.Observe("hammer", value.Str("auto"), value.Str("manual"), testNow)

	// A conflict record is cleared by cleanup.
	s.Observe("hammer", value.Str("auto"), value.Str("trip"), testNow)
	require.NotNil(t, s.Conflict("hammer"))

	isFormula := func(id string) bool { return id == "thickness" || id == "midpoint" }
	removed := s.Cleanup(isFormula, testNow)

	assert.Equal(t, []string{"note"}, removed)
	assert.Nil(t, s.Get("note"))
	assert.Equal(t, StateSyncedFormula, s.Get("thickness").State)
	assert.Equal(t, StateSyncedFormula, s.Get("midpoint").State)
	assert.True(t, s.Get("thickness").Active(), "preserved formula overrides still resolve")
	assert.Equal(t, StatePending, s.Get("hammer").State)
	assert.Nil(t, s.Conflict("hammer"))
	assert.Empty(t, s.Conflicts())
}

func TestOverrideSet_AllSorted(t *testing.T) {
	s := NewOverrideSet()
	ten, _ := value.NewNumString("10")
	fifteen, _ := value.NewNumString("15")
	for _, fieldID := range []string{"c", "a", "b"} {
		s.Observe(fieldID, ten, fifteen, testNow)
	}

	all := s.All()
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].FieldID)
	assert.Equal(t, "c", all[2].FieldID)
}
