package sinks

import (
	"bufio"
	"compress/gzip"
	"context"
	"io"
	"sync"
	"time"

	"github.com/mastflow/mastflow/internal/model"
	"github.com/mastflow/mastflow/internal/pool"
	"github.com/mastflow/mastflow/pkg/errors"
)

// timeLayout matches the wall-clock format the archive emits, so CSV
// output is readable by the telemetry decoder.
const timeLayout = "2006-01-02 15:04:05.000"

var csvHeader = []byte("segment,theTime,MJD,x,y\n")

// CSVSink writes segment rows as CSV, optionally gzip-compressed.
type CSVSink struct {
	w  *bufio.Writer
	gz *gzip.Writer

	mu          sync.Mutex
	buf         []byte
	rowsWritten int64
	closed      bool
}

// NewCSVSink creates a CSV sink. Only gzip and no compression are
// supported for this format.
func NewCSVSink(output io.Writer, cfg Config) (*CSVSink, error) {
	s := &CSVSink{buf: make([]byte, 0, 128)}

	switch cfg.Compression {
	case CompressionNone:
		s.w = bufio.NewWriterSize(output, 64*1024)
	case CompressionGzip:
		s.gz = gzip.NewWriter(output)
		s.w = bufio.NewWriterSize(s.gz, 64*1024)
	default:
		return nil, errors.New(errors.CodeCompressionErr, "compression not supported for csv").
			WithContext("compression", cfg.Compression.String())
	}

	if _, err := s.w.Write(csvHeader); err != nil {
		return nil, errors.Wrap(err, errors.CodeWriteFailed, "writing header")
	}
	return s, nil
}

// Write implements the Writer interface.
func (s *CSVSink) Write(ctx context.Context, rows <-chan model.SegmentRow) error {
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

// WriteRow appends one row.
func (s *CSVSink) WriteRow(row model.SegmentRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.buf[:0]
	b = pool.AppendInt64(b, int64(row.Segment))
	b = append(b, ',')
	b = time.Unix(0, row.Time).UTC().AppendFormat(b, timeLayout)
	b = append(b, ',')
	b = pool.AppendFloat64(b, row.MJD)
	b = append(b, ',')
	b = pool.AppendFloat64(b, row.X)
	b = append(b, ',')
	b = pool.AppendFloat64(b, row.Y)
	b = append(b, '\n')
	s.buf = b

	if _, err := s.w.Write(b); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "writing row")
	}
	s.rowsWritten++
	return nil
}

// Flush flushes buffered rows.
func (s *CSVSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

// Close flushes and closes the sink.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	if s.gz != nil {
		if err := s.gz.Close(); err != nil {
			return err
		}
	}
	s.closed = true
	return nil
}

// RowsWritten returns the total number of rows written.
func (s *CSVSink) RowsWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rowsWritten
}
