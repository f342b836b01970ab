// Package units provides reference implementations of the engine's Unit
// contract: ingestion sources (RandomTable, CSVLoader, SQLLoader), the
// column aggregates Max and Min, ConstDict, and the Sink and Print
// terminals.
//
// Every constructor takes a Config struct whose fields carry mapstructure
// tags, so pipeline documents can decode unit params straight into them.
package units
