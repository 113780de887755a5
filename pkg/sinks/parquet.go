package sinks

import (
	"context"
	"io"
	"sync"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/mastflow/mastflow/internal/model"
	"github.com/mastflow/mastflow/pkg/errors"
)

// ParquetSink writes segment rows to Parquet using Apache Arrow.
type ParquetSink struct {
	cfg    Config
	output io.Writer

	allocator memory.Allocator
	schema    *arrow.Schema
	writer    *pqarrow.FileWriter

	// Arrow builders for each column
	segmentBuilder *array.Int64Builder
	timeBuilder    *array.Int64Builder
	mjdBuilder     *array.Float64Builder
	xBuilder       *array.Float64Builder
	yBuilder       *array.Float64Builder

	mu          sync.Mutex
	rowCount    int
	rowsWritten int64
	closed      bool
}

// segmentSchema returns the Arrow schema for segment rows.
func segmentSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "segment", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "time", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "mjd", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
		{Name: "x", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
		{Name: "y", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	}, nil)
}

// NewParquetSink creates a Parquet sink.
func NewParquetSink(output io.Writer, cfg Config) (*ParquetSink, error) {
	allocator := memory.NewGoAllocator()
	schema := segmentSchema()

	var codec compress.Compression
	switch cfg.Compression {
	case CompressionSnappy:
		codec = compress.Codecs.Snappy
	case CompressionGzip:
		codec = compress.Codecs.Gzip
	case CompressionZstd:
		codec = compress.Codecs.Zstd
	case CompressionLZ4:
		codec = compress.Codecs.Lz4
	default:
		codec = compress.Codecs.Uncompressed
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithDictionaryDefault(true),
		parquet.WithDataPageSize(1024*1024),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithStoreSchema(),
	)

	writer, err := pqarrow.NewFileWriter(schema, output, writerProps, arrowProps)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeWriteFailed, "creating parquet writer")
	}

	s := &ParquetSink{
		cfg:            cfg,
		output:         output,
		allocator:      allocator,
		schema:         schema,
		writer:         writer,
		segmentBuilder: array.NewInt64Builder(allocator),
		timeBuilder:    array.NewInt64Builder(allocator),
		mjdBuilder:     array.NewFloat64Builder(allocator),
		xBuilder:       array.NewFloat64Builder(allocator),
		yBuilder:       array.NewFloat64Builder(allocator),
	}

	s.segmentBuilder.Reserve(cfg.BatchSize)
	s.timeBuilder.Reserve(cfg.BatchSize)
	s.mjdBuilder.Reserve(cfg.BatchSize)
	s.xBuilder.Reserve(cfg.BatchSize)
	s.yBuilder.Reserve(cfg.BatchSize)

	return s, nil
}

// Write implements the Writer interface.
func (s *ParquetSink) Write(ctx context.Context, rows <-chan model.SegmentRow) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case row, ok := <-rows:
			if !ok {
				return s.Flush()
			}
			if err := s.WriteRow(row); err != nil {
				return err
			}
		}
	}
}

// WriteRow appends one row, flushing a record batch when full.
func (s *ParquetSink) WriteRow(row model.SegmentRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.segmentBuilder.Append(int64(row.Segment))
	s.timeBuilder.Append(row.Time)
	s.mjdBuilder.Append(row.MJD)
	s.xBuilder.Append(row.X)
	s.yBuilder.Append(row.Y)
	s.rowCount++

	if s.rowCount >= s.cfg.BatchSize {
		return s.flushBatch()
	}
	return nil
}

// flushBatch writes the accumulated batch as one Arrow record.
func (s *ParquetSink) flushBatch() error {
	if s.rowCount == 0 {
		return nil
	}

	segmentArray := s.segmentBuilder.NewArray()
	timeArray := s.timeBuilder.NewArray()
	mjdArray := s.mjdBuilder.NewArray()
	xArray := s.xBuilder.NewArray()
	yArray := s.yBuilder.NewArray()

	defer segmentArray.Release()
	defer timeArray.Release()
	defer mjdArray.Release()
	defer xArray.Release()
	defer yArray.Release()

	batch := array.NewRecord(s.schema, []arrow.Array{
		segmentArray,
		timeArray,
		mjdArray,
		xArray,
		yArray,
	}, int64(s.rowCount))
	defer batch.Release()

	if err := s.writer.Write(batch); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "writing record batch")
	}

	s.rowsWritten += int64(s.rowCount)
	s.rowCount = 0
	return nil
}

// Flush flushes any buffered rows.
func (s *ParquetSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushBatch()
}

// Close flushes remaining data and closes the file footer.
func (s *ParquetSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	if err := s.flushBatch(); err != nil {
		return err
	}
	if err := s.writer.Close(); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "closing parquet writer")
	}

	s.segmentBuilder.Release()
	s.timeBuilder.Release()
	s.mjdBuilder.Release()
	s.xBuilder.Release()
	s.yBuilder.Release()

	s.closed = true
	return nil
}

// RowsWritten returns the total number of rows written.
func (s *ParquetSink) RowsWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rowsWritten
}
