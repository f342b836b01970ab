// Package pipeline reads declarative pipeline documents and builds them
// into engine graphs.
//
// A document names units (a kind plus free-form params) and edges between
// "unit.output" and "unit.input" endpoints. Documents are YAML (.yaml,
// .yml) or CUE (.cue); CUE documents are checked against an embedded
// schema. Unit params are decoded into each kind's config struct with
// mapstructure, so unknown params are errors.
package pipeline
