// Package pipeline wires telemetry sources, row processors, and sinks
// into streaming jobs with coordinated shutdown.
package pipeline

import (
	"context"

	"github.com/mastflow/mastflow/internal/model"
)

// Row is the unit of data flowing through the pipeline.
// Re-exported from model for convenience.
type Row = model.SegmentRow

// Adapter is the interface for data sources (readers) and sinks (writers).
// Adapters handle I/O, they don't transform data.
type Adapter interface {
	// Name returns the adapter identifier (e.g., "segments", "csv", "parquet")
	Name() string
}

// Source emits rows to a channel.
// Sources are the entry points of a pipeline.
type Source interface {
	Adapter

	// Read emits rows to the output channel. The orchestrator closes
	// the channel when Read returns.
	Read(ctx context.Context, out chan<- Row) error
}

// Sink consumes rows from a channel and writes them to output.
// Sinks are the exit points of a pipeline.
type Sink interface {
	Adapter

	// Write consumes rows and writes to the destination.
	Write(ctx context.Context, in <-chan Row) error

	// Close flushes and closes the sink.
	Close() error
}

// Processor transforms rows in a pipeline.
// Processors sit between Source and Sink.
type Processor interface {
	// Name returns the processor identifier (e.g., "mjd_range", "dedup")
	Name() string

	// Process reads from input channel, transforms, and writes to output channel.
	// The orchestrator closes the output channel after Process returns.
	Process(ctx context.Context, in <-chan Row, out chan<- Row) error
}

// Inspector analyzes rows without modifying them.
// Inspectors are read-only processors for gathering statistics.
type Inspector interface {
	// Name returns the inspector identifier
	Name() string

	// Inspect processes a row and updates internal state.
	Inspect(row Row)

	// Report returns the inspection results.
	Report() interface{}
}

// PassthroughInspector wraps an Inspector to work as a Processor.
// Rows pass through unchanged while being inspected.
type PassthroughInspector struct {
	inspector Inspector
}

// NewPassthroughInspector creates a processor that inspects without modifying.
func NewPassthroughInspector(i Inspector) *PassthroughInspector {
	return &PassthroughInspector{inspector: i}
}

// Name returns the wrapped inspector's name.
func (p *PassthroughInspector) Name() string {
	return p.inspector.Name()
}

// Process passes rows through while inspecting them.
func (p *PassthroughInspector) Process(ctx context.Context, in <-chan Row, out chan<- Row) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case row, ok := <-in:
			if !ok {
				return nil
			}
			p.inspector.Inspect(row)
			select {
			case out <- row:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Report returns the inspector's report.
func (p *PassthroughInspector) Report() interface{} {
	return p.inspector.Report()
}

// ProcessorFunc is a function type that implements Processor.
// Useful for simple inline processors.
type ProcessorFunc func(ctx context.Context, in <-chan Row, out chan<- Row) error

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, in <-chan Row, out chan<- Row) error {
	return f(ctx, in, out)
}

// Name returns "func" for anonymous processors.
func (f ProcessorFunc) Name() string {
	return "func"
}

// Config holds pipeline configuration.
type Config struct {
	// Processing options
	BufferSize int
	BatchSize  int

	// Error handling
	ErrorPolicy   ErrorPolicy
	MaxErrors     int64  // Maximum errors before aborting (0 = unlimited)
	QuarantineDir string // Directory for quarantined records

	// Callbacks
	OnError    func(ErrorRecord)
	OnSkip     func(rowNum int64, reason string)
	OnProgress func(rowsEmitted int64)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:  4096,
		BatchSize:   1024,
		ErrorPolicy: ErrorPolicySkip,
		MaxErrors:   0,
	}
}
