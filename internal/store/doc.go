// Package store provides SQLite-backed trace storage for scheduler runs.
//
// A trace is a session (one scheduler run of one pipeline) plus:
//   - Steps: one row per completed unit step, keyed by (session, run, unit)
//   - Faults: one row per step fault
//
// Tables and the dataflow graph themselves are never persisted; the trace
// records what happened so it can be inspected after the process exits.
//
// # Ordering
//
// Reads are deterministic: steps ORDER BY run ASC, unit ASC COLLATE BINARY.
// Session IDs are UUIDv7, so ordering sessions by id orders them by start.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
