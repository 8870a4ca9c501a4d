package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lithoslog/lithos/internal/value"
)

// OverrideState is the lifecycle state of a document override.
type OverrideState string

const (
	// StatePending: a divergent external value was observed and awaits
	// validation.
	StatePending OverrideState = "PENDING"

	// StateAccepted: the observed value passed field validation and has
	// been applied to the instance.
	StateAccepted OverrideState = "ACCEPTED"

	// StateInvalid: the observed value failed field validation, or the
	// divergence disappeared before acceptance.
	StateInvalid OverrideState = "INVALID"

	// StateSynced: the accepted value has been written into a generated
	// document at least once.
	StateSynced OverrideState = "SYNCED"

	// StateSyncedFormula: a synced override on a formula-derived field.
	// Preserved by cleanup, since the formula would otherwise reclaim
	// the field on the next recompute.
	StateSyncedFormula OverrideState = "SYNCED_FORMULA"
)

// transitions is the explicit transition table. Anything not listed is
// illegal; in particular SYNCED never returns to PENDING, and PENDING
// cannot jump straight to SYNCED.
var transitions = map[OverrideState][]OverrideState{
	StatePending:  {StateAccepted, StateInvalid},
	StateAccepted: {StateSynced},
	StateSynced:   {StateSyncedFormula},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to OverrideState) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Override records a divergence between the system value and an
// externally-edited document value for one field.
type Override struct {
	ID            string
	FieldID       string
	SystemValue   value.Value
	ObservedValue value.Value
	State         OverrideState

	// UseInGeneration marks the override for value resolution: only
	// marked overrides in ACCEPTED/SYNCED/SYNCED_FORMULA win over the
	// formula and raw candidates.
	UseInGeneration bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the override participates in value resolution.
func (o *Override) Active() bool {
	if !o.UseInGeneration {
		return false
	}
	switch o.State {
	case StateAccepted, StateSynced, StateSyncedFormula:
		return true
	}
	return false
}

// Conflict records multiple divergent externally-observed values
// competing for the same field. Resolution requires an explicit external
// decision; the engine only detects.
type Conflict struct {
	FieldID    string
	Candidates []value.Value
}

// OverrideSet holds the override and conflict records for one instance.
// At most one override exists per field; repeat observations either
// match it or raise a conflict.
type OverrideSet struct {
	byField   map[string]*Override
	conflicts map[string]*Conflict
}

// NewOverrideSet creates an empty override set.
func NewOverrideSet() *OverrideSet {
	return &OverrideSet{
		byField:   make(map[string]*Override),
		conflicts: make(map[string]*Conflict),
	}
}

// Get returns the override for a field, or nil.
func (s *OverrideSet) Get(fieldID string) *Override {
	return s.byField[fieldID]
}

// Conflict returns the conflict record for a field, or nil.
func (s *OverrideSet) Conflict(fieldID string) *Conflict {
	return s.conflicts[fieldID]
}

// All returns every override sorted by field id.
func (s *OverrideSet) All() []*Override {
	out := make([]*Override, 0, len(s.byField))
	for _, o := range s.byField {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FieldID < out[j].FieldID })
	return out
}

// Conflicts returns every conflict sorted by field id.
func (s *OverrideSet) Conflicts() []*Conflict {
	out := make([]*Conflict, 0, len(s.conflicts))
	for _, c := range s.conflicts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FieldID < out[j].FieldID })
	return out
}

// Put installs an override record, replacing any existing record for the
// field. Used when hydrating from the store.
func (s *OverrideSet) Put(o *Override) {
	s.byField[o.FieldID] = o
}

// PutConflict installs a conflict record, replacing any existing record
// for the field. Used when hydrating from the store.
func (s *OverrideSet) PutConflict(c *Conflict) {
	s.conflicts[c.FieldID] = c
}

// Observe records an externally-observed value for a field.
//
// First divergent observation creates a PENDING override. A repeat
// observation with the same value is a no-op. A different value arriving
// while an override is PENDING or ACCEPTED creates (or extends) a
// Conflict listing all divergent candidates.
//
// An observation equal to the current system value while no override
// exists is a no-op: there is no divergence to record.
func (s *OverrideSet) Observe(fieldID string, systemValue, observed value.Value, now time.Time) (*Override, *Conflict) {
	existing := s.byField[fieldID]

	if existing != nil {
		switch existing.State {
		case StatePending, StateAccepted:
			if value.Equal(existing.ObservedValue, observed) {
				return existing, nil
			}
			conflict := s.conflicts[fieldID]
			if conflict == nil {
				conflict = &Conflict{
					FieldID:    fieldID,
					Candidates: []value.Value{existing.ObservedValue},
				}
				s.conflicts[fieldID] = conflict
			}
			conflict.addCandidate(observed)
			return existing, conflict
		}
		// SYNCED and later: the previous round-trip is settled; a new
		// divergence starts a fresh lifecycle below only for INVALID.
		if existing.State != StateInvalid {
			return existing, nil
		}
	}

	if value.Equal(systemValue, observed) {
		return nil, nil
	}

	o := &Override{
		ID:              uuid.NewString(),
		FieldID:         fieldID,
		SystemValue:     systemValue,
		ObservedValue:   observed,
		State:           StatePending,
		UseInGeneration: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.byField[fieldID] = o
	return o, nil
}

// Accept drives PENDING -> ACCEPTED through the field validator, or
// PENDING -> INVALID when the observed value fails the field's
// constraints. The caller applies the accepted value to the instance.
func (s *OverrideSet) Accept(fieldID string, validator FieldValidator, now time.Time) (*Override, *RuntimeError) {
	o := s.byField[fieldID]
	if o == nil {
		return nil, &RuntimeError{
			Code:    ErrCodeUnknownField,
			Message: "no override recorded for field",
			FieldID: fieldID,
		}
	}
	if o.State != StatePending {
		return o, illegalTransition(o, StateAccepted)
	}

	if err := validator.Check(fieldID, o.ObservedValue); err != nil {
		o.State = StateInvalid
		o.UpdatedAt = now
		return o, nil
	}

	o.State = StateAccepted
	o.UpdatedAt = now
	return o, nil
}

// MarkSynced drives ACCEPTED -> SYNCED after the override's value has
// been written into a generated document.
func (s *OverrideSet) MarkSynced(fieldID string, now time.Time) *RuntimeError {
	o := s.byField[fieldID]
	if o == nil {
		return &RuntimeError{
			Code:    ErrCodeUnknownField,
			Message: "no override recorded for field",
			FieldID: fieldID,
		}
	}
	if !CanTransition(o.State, StateSynced) {
		return illegalTransition(o, StateSynced)
	}
	o.State = StateSynced
	o.UpdatedAt = now
	return nil
}

// Invalidate marks a PENDING override INVALID. Used when the system
// value catches up with the observed value and no divergence remains.
func (s *OverrideSet) Invalidate(fieldID string, now time.Time) {
	o := s.byField[fieldID]
	if o == nil || o.State != StatePending {
		return
	}
	o.State = StateInvalid
	o.UpdatedAt = now
}

// ResolveConflict clears a conflict record after an external decision.
func (s *OverrideSet) ResolveConflict(fieldID string) {
	delete(s.conflicts, fieldID)
}

// Cleanup runs after successful document generation: SYNCED overrides on
// formula-derived fields transition to SYNCED_FORMULA and are preserved;
// SYNCED overrides on plain fields are deleted, the field reverting to
// normal resolution. Conflicts are cleared. Returns the deleted field
// ids, sorted.
func (s *OverrideSet) Cleanup(isFormulaField func(string) bool, now time.Time) []string {
	var removed []string
	for fieldID, o := range s.byField {
		if o.State != StateSynced {
			continue
		}
		if isFormulaField(fieldID) {
			o.State = StateSyncedFormula
			o.UpdatedAt = now
			continue
		}
		delete(s.byField, fieldID)
		removed = append(removed, fieldID)
	}
	s.conflicts = make(map[string]*Conflict)
	sort.Strings(removed)
	return removed
}

func (c *Conflict) addCandidate(v value.Value) {
	for _, existing := range c.Candidates {
		if value.Equal(existing, v) {
			return
		}
	}
	c.Candidates = append(c.Candidates, v)
}

func illegalTransition(o *Override, to OverrideState) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeIllegalTransition,
		Message: fmt.Sprintf("override cannot transition %s -> %s", o.State, to),
		FieldID: o.FieldID,
		Details: map[string]string{"override_id": o.ID},
	}
}
