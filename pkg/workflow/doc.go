// Package workflow declares the static Action graph driven by the engine
//
// A Workflow is an immutable set of named Actions. Each Action is an ordered
// list of Steps plus a success transition and an error transition. Success
// and failure routing is the only branching the engine performs
package workflow
