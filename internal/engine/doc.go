// Package engine runs workflows against a Store
//
// A Manager supervises one Runner task per schedule. Each task walks the
// Actions of a Workflow step by step, recording its position in a Context
// before every step so that a schedule interrupted at any point can be
// resumed from where it stopped
package engine
