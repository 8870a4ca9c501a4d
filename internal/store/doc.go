// Package store persists form instances in SQLite: field values with
// their presentation flags, override records, and conflict candidates.
//
// The engine itself never touches the store; callers load an instance,
// run passes against it, and save it back. Saves replace the instance's
// rows wholesale inside one transaction, so a load after a save always
// reproduces the exact in-memory state.
package store
