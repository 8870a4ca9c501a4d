// Package compiler turns CUE schema packs into runtime schemas.
//
// Compilation parses the CUE source into a schema.Schema with positioned
// errors; Validate applies authoring rules over the compiled schema and
// reports every violation with a stable error code; AnalyzeChains and
// AnalyzeFormulaCycles run static analysis over control chains and
// formula dependencies so authoring mistakes surface before any
// instance exists.
package compiler
