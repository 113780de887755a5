// Package sinks writes segmentation results to output formats.
//
// Every sink consumes flattened segment rows from a channel and owns
// its own buffering; the pipeline closes the channel to finish a run.
// CSV output round-trips through the telemetry decoder, so a
// segmentation result can itself be re-segmented.
package sinks

import (
	"context"
	"io"

	"github.com/mastflow/mastflow/internal/model"
	"github.com/mastflow/mastflow/pkg/errors"
	"github.com/mastflow/mastflow/pkg/util"
)

// Writer is the interface every sink implements.
type Writer interface {
	// Write consumes rows until the channel closes.
	Write(ctx context.Context, rows <-chan model.SegmentRow) error

	// Flush flushes any buffered data.
	Flush() error

	// Close flushes remaining data and releases resources.
	Close() error
}

// Config holds sink configuration.
type Config struct {
	// BatchSize is the number of rows per record batch.
	BatchSize int

	// Compression selects the output codec where the format supports one.
	Compression CompressionType

	// RowGroupSize is the number of bytes per Parquet row group.
	RowGroupSize int64
}

// DefaultConfig returns a Config with sensible defaults.
// RowGroupSize follows the Parquet-recommended 128MB.
func DefaultConfig() Config {
	return Config{
		BatchSize:    8192,
		Compression:  CompressionSnappy,
		RowGroupSize: 128 * 1024 * 1024,
	}
}

// CompressionType represents output compression options.
type CompressionType uint8

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionGzip
	CompressionZstd
	CompressionLZ4
)

// String returns the compression type name.
func (c CompressionType) String() string {
	switch c {
	case CompressionSnappy:
		return "snappy"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "none"
	}
}

// ParseCompression parses a compression type string.
func ParseCompression(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "gzip":
		return CompressionGzip
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// Format identifies an output encoding.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatCSV
	FormatJSON
	FormatParquet
	FormatXLSX
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatJSON:
		return "json"
	case FormatParquet:
		return "parquet"
	case FormatXLSX:
		return "xlsx"
	default:
		return "unknown"
	}
}

// ParseFormat parses a format string.
func ParseFormat(s string) Format {
	switch s {
	case "csv", "CSV":
		return FormatCSV
	case "json", "JSON", "jsonl", "JSONL", "ndjson", "NDJSON":
		return FormatJSON
	case "parquet", "Parquet", "pq":
		return FormatParquet
	case "xlsx", "XLSX", "excel", "Excel":
		return FormatXLSX
	default:
		return FormatUnknown
	}
}

// DetectFormat infers the output format from a file path, looking
// through a .gz suffix.
func DetectFormat(path string) Format {
	switch util.BaseFormat(path) {
	case ".csv":
		return FormatCSV
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	case ".parquet":
		return FormatParquet
	case ".xlsx":
		return FormatXLSX
	default:
		return FormatUnknown
	}
}

// New creates a sink for the given format writing to output.
func New(format Format, output io.Writer, cfg Config) (Writer, error) {
	switch format {
	case FormatCSV:
		return NewCSVSink(output, cfg)
	case FormatJSON:
		return NewJSONSink(output, cfg)
	case FormatParquet:
		return NewParquetSink(output, cfg)
	case FormatXLSX:
		return NewXLSXSink(output, cfg)
	default:
		return nil, errors.New(errors.CodeInvalidFormat, "unsupported output format").
			WithContext("format", format.String())
	}
}
