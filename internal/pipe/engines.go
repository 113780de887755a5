package pipe

import (
	"github.com/mastflow/mastflow/pkg/errors"
)

// Engine selects the export implementation.
//
// EngineArrow streams rows through the Go sinks (CSV, JSON, Parquet via
// Arrow record batches, XLSX). EngineDuckDB loads rows into an embedded
// DuckDB table and lets the database write the output file, which is
// the faster path for large Parquet exports.
type Engine string

const (
	EngineArrow  Engine = "arrow"
	EngineDuckDB Engine = "duckdb"
)

// ParseEngine parses an engine name from the CLI or config.
func ParseEngine(s string) (Engine, error) {
	switch s {
	case "", "arrow":
		return EngineArrow, nil
	case "duckdb":
		return EngineDuckDB, nil
	default:
		return "", errors.New(errors.CodeEngineInit, "unknown engine").
			WithContext("engine", s).
			WithContext("supported", "arrow, duckdb")
	}
}
