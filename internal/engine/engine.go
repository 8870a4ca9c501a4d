package engine

import (
	"log/slog"
	"time"

	"github.com/lithoslog/lithos/internal/value"
)

// Engine runs edit-triggered passes over entity instances.
//
// The engine itself is stateless: every call takes an Instance carrying
// the snapshot, graph, rule table, and override records, so one Engine
// serves any number of instances without locking. All operations run to
// completion synchronously on the calling goroutine; the caller
// serializes edits to a given instance.
type Engine struct {
	maxDepth int
	now      func() time.Time
	log      *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxDepth overrides the control-chain propagation depth bound.
// The default is DefaultMaxDepth (10).
func WithMaxDepth(depth int) Option {
	return func(e *Engine) {
		e.maxDepth = depth
	}
}

// WithLogger overrides the logger used for pass-level logging.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithClock overrides the time source for override timestamps.
// Used by tests and by replays that need fixed timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		maxDepth: DefaultMaxDepth,
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FieldChange describes what happened to one field in a pass.
type FieldChange struct {
	FieldID string

	ValueChanged bool
	Before       value.Value
	After        value.Value

	VisibilityChanged bool
	Visible           bool

	EnablementChanged bool
	Enabled           bool
}

// ChangeSet is the full outcome of one edit-triggered pass: every field
// whose value, visibility, or enabled state changed, plus per-field
// evaluation failures. The caller uses Before values to capture undo
// state; undo resubmits the prior raw value through ApplyEdit so that
// dependent state is recomputed, never restored.
type ChangeSet struct {
	Changes []FieldChange // Sorted by field id
	Failed  map[string]*RuntimeError
}

// Change returns the change entry for a field, or nil.
func (cs *ChangeSet) Change(fieldID string) *FieldChange {
	for i := range cs.Changes {
		if cs.Changes[i].FieldID == fieldID {
			return &cs.Changes[i]
		}
	}
	return nil
}

// ApplyEdit submits a manual edit and runs the full cascade: control
// rules propagate from the edited field, every VALUE_SET target is fed
// to the formula scheduler along with the edit itself, and affected
// override records are reconciled.
//
// The pass is atomic: on a pass-fatal error (depth exceeded, unknown
// control target) the instance is left untouched and the error is
// returned. Per-field formula failures are not pass-fatal; they are
// reported in the ChangeSet and the fields keep their last values.
func (e *Engine) ApplyEdit(inst *Instance, fieldID string, v value.Value) (*ChangeSet, error) {
	fv := inst.Snapshot.Get(fieldID)
	if fv == nil {
		return nil, NewUnknownFieldError(fieldID)
	}
	if fv.FormulaDerived {
		return nil, &RuntimeError{
			Code:    ErrCodeEditForbidden,
			Message: "field is formula-derived and cannot be edited directly",
			FieldID: fieldID,
		}
	}

	return e.runPass(inst, fieldID, v, nil)
}

// AcceptOverride validates a PENDING override and, on acceptance,
// applies its value through the same cascade a manual edit takes. If
// validation fails the override transitions to INVALID and an empty
// ChangeSet is returned; the caller inspects the override state.
func (e *Engine) AcceptOverride(inst *Instance, fieldID string) (*ChangeSet, error) {
	o, rerr := inst.Overrides.Accept(fieldID, inst.Validator, e.now())
	if rerr != nil {
		return nil, rerr
	}
	if o.State != StateAccepted {
		e.log.Debug("override rejected by validation",
			"field_id", fieldID,
			"override_id", o.ID,
		)
		return &ChangeSet{Failed: map[string]*RuntimeError{}}, nil
	}

	// A formula-derived field keeps its override value only in the
	// override record; the raw slot is still applied so dependents see
	// it, but the field's own formula must not recompute over it in
	// this pass.
	var skip map[string]bool
	if fv := inst.Snapshot.Get(fieldID); fv != nil && fv.FormulaDerived {
		skip = map[string]bool{fieldID: true}
	}

	return e.runPass(inst, fieldID, o.ObservedValue, skip)
}

// ObserveDocumentValue reports a value read back from an externally
// edited document. A divergence from the current authoritative value
// creates a PENDING override; a second divergent observation creates a
// Conflict for external resolution.
func (e *Engine) ObserveDocumentValue(inst *Instance, fieldID string, observed value.Value) (*Override, *Conflict, error) {
	system, rerr := Resolve(inst, fieldID)
	if rerr != nil {
		return nil, nil, rerr
	}

	o, conflict := inst.Overrides.Observe(fieldID, system, observed, e.now())
	if conflict != nil {
		e.log.Info("override conflict detected",
			"field_id", fieldID,
			"candidates", len(conflict.Candidates),
		)
	}
	return o, conflict, nil
}

// MarkGenerated records that a document generation succeeded: every
// ACCEPTED override whose value was written out transitions to SYNCED.
func (e *Engine) MarkGenerated(inst *Instance) error {
	now := e.now()
	for _, o := range inst.Overrides.All() {
		if o.State != StateAccepted {
			continue
		}
		if rerr := inst.Overrides.MarkSynced(o.FieldID, now); rerr != nil {
			return rerr
		}
	}
	return nil
}

// CleanupAfterGeneration removes SYNCED overrides on plain fields and
// promotes SYNCED overrides on formula-derived fields to
// SYNCED_FORMULA. Returns the field ids whose overrides were removed.
func (e *Engine) CleanupAfterGeneration(inst *Instance) []string {
	removed := inst.Overrides.Cleanup(func(fieldID string) bool {
		f := inst.Schema.Field(fieldID)
		return f != nil && f.IsFormula()
	}, e.now())

	if len(removed) > 0 {
		e.log.Debug("override cleanup", "removed", removed)
	}
	return removed
}

// runPass executes one edit-triggered pass on a working copy of the
// snapshot and commits it only if no pass-fatal error occurred.
func (e *Engine) runPass(inst *Instance, fieldID string, v value.Value, skip map[string]bool) (*ChangeSet, error) {
	working := inst.Snapshot.Clone()
	working.SetRaw(fieldID, v)

	out := &controlOutcome{}
	if rerr := propagateControls(inst, working, fieldID, 0, e.maxDepth, out); rerr != nil {
		e.log.Warn("control propagation failed",
			"field_id", fieldID,
			"code", string(rerr.Code),
			"error", rerr.Message,
		)
		return nil, rerr
	}

	changed := append([]string{fieldID}, out.valueSet...)
	result := Recompute(inst.Graph, inst.ASTs, working, changed, skip)
	for computedID, computedValue := range result.Values {
		working.SetRaw(computedID, computedValue)
	}

	e.reconcileOverrides(inst, working)

	cs := diffSnapshots(inst.Snapshot, working)
	cs.Failed = result.Failed
	inst.Snapshot = working

	e.log.Debug("pass complete",
		"field_id", fieldID,
		"changed", len(cs.Changes),
		"failed", len(cs.Failed),
	)
	return cs, nil
}

// reconcileOverrides updates override records whose field value changed
// in this pass. A PENDING override tracks the moving system value; if
// the system value catches up with the observed value the divergence is
// gone and the override is invalidated.
func (e *Engine) reconcileOverrides(inst *Instance, working value.Snapshot) {
	now := e.now()
	for _, o := range inst.Overrides.All() {
		if o.State != StatePending {
			continue
		}
		current := working.Raw(o.FieldID)
		if value.Equal(o.SystemValue, current) {
			continue
		}
		o.SystemValue = current
		o.UpdatedAt = now
		if value.Equal(current, o.ObservedValue) {
			inst.Overrides.Invalidate(o.FieldID, now)
		}
	}
}

// diffSnapshots returns the full set of per-field differences between
// two snapshots, sorted by field id.
func diffSnapshots(before, after value.Snapshot) *ChangeSet {
	cs := &ChangeSet{Failed: map[string]*RuntimeError{}}

	for _, fieldID := range after.FieldIDs() {
		oldFV := before.Get(fieldID)
		newFV := after.Get(fieldID)

		var change FieldChange
		change.FieldID = fieldID

		switch {
		case oldFV == nil:
			change.ValueChanged = true
			change.Before = value.Null{}
			change.After = newFV.Raw
		case !value.Equal(oldFV.Raw, newFV.Raw):
			change.ValueChanged = true
			change.Before = oldFV.Raw
			change.After = newFV.Raw
		}

		if oldFV == nil || oldFV.Visible != newFV.Visible {
			change.VisibilityChanged = true
			change.Visible = newFV.Visible
		}
		if oldFV == nil || oldFV.Enabled != newFV.Enabled {
			change.EnablementChanged = true
			change.Enabled = newFV.Enabled
		}

		if change.ValueChanged || change.VisibilityChanged || change.EnablementChanged {
			cs.Changes = append(cs.Changes, change)
		}
	}

	return cs
}
