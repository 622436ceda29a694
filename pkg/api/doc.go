// Package api defines the core data types shared by the scheduling engine
//
// This package contains identifiers, the JSON value type that flows through
// workflow contexts, step arguments, reserved context keys, step status
// metadata, and the serialized description of step failures
package api
