// Package engine implements the progressive dataflow core: units, the
// change-tracked slots connecting them, the graph, and the scheduler.
//
// ARCHITECTURE:
//
// Single Run Loop:
// The scheduler steps every unit from one goroutine. A pass visits units in
// dependency order over live edges, giving each runnable unit one bounded
// step. Producers therefore finish their step for run N before any consumer
// of the same pass reads their output.
//
// Pass Flow:
//  1. Queued transactions are applied (the only point the graph changes)
//  2. Units that can never run again are retired to Zombie
//  3. The run counter advances and runnable units are stepped
//  4. Delayed slots are sealed and output change logs compacted
//  5. Pass hooks observe the completed pass
//
// Slots:
// Each slot keeps its own cursor on the producer store's change log and
// buffers created, updated and deleted index sets until the consumer takes
// them. Consumers of one producer never share acknowledgment state.
//
// Faults:
// Wiring errors are returned synchronously by graph edits and leave the
// graph unchanged. A failing or panicking step turns its unit into a zombie
// and the pass continues.
package engine
