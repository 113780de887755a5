package pipeline

import (
	"context"

	"github.com/mastflow/mastflow/pkg/sinks"
)

// WriterSink adapts a sinks.Writer to the pipeline Sink interface.
type WriterSink struct {
	name   string
	writer sinks.Writer
}

// NewWriterSink wraps an output writer for use as a pipeline sink.
func NewWriterSink(name string, w sinks.Writer) *WriterSink {
	return &WriterSink{name: name, writer: w}
}

// Name returns the sink identifier.
func (s *WriterSink) Name() string {
	return s.name
}

// Write streams rows into the underlying writer.
func (s *WriterSink) Write(ctx context.Context, in <-chan Row) error {
	return s.writer.Write(ctx, in)
}

// Close flushes and closes the underlying writer.
func (s *WriterSink) Close() error {
	return s.writer.Close()
}
