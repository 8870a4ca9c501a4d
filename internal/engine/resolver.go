package engine

import "github.com/lithoslog/lithos/internal/value"

// ResolveValue picks the single authoritative value for a field from its
// three candidates, per the fixed priority order:
//
//  1. an active override (ACCEPTED/SYNCED/SYNCED_FORMULA, marked
//     use-in-generation)
//  2. the current formula-computed value, for formula-derived fields
//  3. the raw stored value
//
// The scheduler maintains a formula field's computed value in its raw
// slot, so candidates 2 and 3 read the same slot; the distinction
// matters only for overrides, which shadow either.
//
// Pure function of its inputs; no engine state is read or written.
func ResolveValue(fv *value.FieldValue, override *Override) value.Value {
	if override != nil && override.Active() {
		return override.ObservedValue
	}
	if fv.Raw == nil {
		return value.Null{}
	}
	return fv.Raw
}

// Resolve returns the authoritative value for a field of an instance.
// This is the single entry point all consumers (display, document
// generation) use. An unknown field is a programming-bug-class failure
// surfaced as UNKNOWN_FIELD.
func Resolve(inst *Instance, fieldID string) (value.Value, *RuntimeError) {
	fv := inst.Snapshot.Get(fieldID)
	if fv == nil {
		return nil, NewUnknownFieldError(fieldID)
	}
	return ResolveValue(fv, inst.Overrides.Get(fieldID)), nil
}

// ResolveAll resolves every field of an instance, keyed by field id.
func ResolveAll(inst *Instance) map[string]value.Value {
	out := make(map[string]value.Value, len(inst.Snapshot))
	for _, fieldID := range inst.Snapshot.FieldIDs() {
		out[fieldID] = ResolveValue(inst.Snapshot.Get(fieldID), inst.Overrides.Get(fieldID))
	}
	return out
}
