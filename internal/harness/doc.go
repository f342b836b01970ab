// Package harness runs pipeline scenarios end to end and checks the outcome.
//
// A scenario names a pipeline document, optional graph edits applied at
// pass boundaries, an optional stop point, and assertions about the drained
// graph:
//
//	name: max_true_extreme
//	description: Progressive maximum matches a direct fold.
//	pipeline: ../pipelines/max10.yaml
//	assertions:
//	  - type: run_count
//	    count: 10
//	  - type: true_extreme
//	    unit: max
//	    source: random
//	    op: max
//	    columns: [_1, _2, _3]
//
// Scenarios run with a fixed step size (no time quantum), so the sequence
// of completed steps is deterministic and can be compared against golden
// files:
//
//	go test ./internal/harness -update
package harness
