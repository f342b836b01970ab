// Package progress surfaces unit progress and quality while a scheduler
// runs. A Reporter registers itself as an after-step observer, keeps the
// latest snapshot and a bounded quality history per unit, and forwards
// snapshots to sinks no more often than a configured period.
package progress
