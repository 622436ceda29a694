// Package server exposes a read-only HTTP view of the workflow service:
// health, persisted schedules, and a WebSocket stream of lifecycle events
package server
