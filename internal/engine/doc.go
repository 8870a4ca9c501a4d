// Package engine executes edit-triggered passes over form instances:
// control-rule propagation, topological formula recomputation, override
// lifecycle management, and value resolution.
//
// All mutation flows through Engine.ApplyEdit and Engine.AcceptOverride;
// both return an explicit ChangeSet describing every affected field.
// There is no event bus and no global state. Instances are independent
// and a pass touches exactly one of them.
package engine
