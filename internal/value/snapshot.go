package value

import "sort"

// FieldValue is the current state of one field within an entity instance.
//
// Raw holds the stored value regardless of origin (user edit, formula
// recompute, control VALUE_SET, or override acceptance). FormulaDerived
// marks fields whose Raw is maintained by the scheduler; such fields are
// never manual-edit targets for dependency resolution.
type FieldValue struct {
	FieldID        string
	Raw            Value
	FormulaDerived bool
	Visible        bool
	Enabled        bool
}

// Snapshot is the in-memory field-value state for one entity instance.
// The engine mutates exactly one snapshot per pass; callers serialize
// access (single-session model).
type Snapshot map[string]*FieldValue

// Get returns the field value for id, or nil if the field is unknown.
func (s Snapshot) Get(id string) *FieldValue {
	return s[id]
}

// Raw returns the raw value for id. Unknown or unset fields read as null.
func (s Snapshot) Raw(id string) Value {
	fv, ok := s[id]
	if !ok || fv.Raw == nil {
		return Null{}
	}
	return fv.Raw
}

// Has reports whether the snapshot contains a field with the given id.
func (s Snapshot) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// SetRaw stores a raw value for id, creating the field entry if needed.
// New entries default to visible and enabled.
func (s Snapshot) SetRaw(id string, v Value) {
	fv, ok := s[id]
	if !ok {
		fv = &FieldValue{FieldID: id, Visible: true, Enabled: true}
		s[id] = fv
	}
	fv.Raw = v
}

// Clone returns a deep copy of the snapshot. Values are immutable, so only
// the FieldValue entries are copied.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for id, fv := range s {
		cp := *fv
		out[id] = &cp
	}
	return out
}

// FieldIDs returns all field ids in lexicographic order.
// Used wherever iteration order must be deterministic.
func (s Snapshot) FieldIDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
