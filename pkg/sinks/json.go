package sinks

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/mastflow/mastflow/internal/model"
	"github.com/mastflow/mastflow/pkg/errors"
)

// jsonSample is the serialized form of one reading inside a segment.
type jsonSample struct {
	Time string  `json:"time"`
	MJD  float64 `json:"mjd"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// jsonSegment is one element of the output document.
type jsonSegment struct {
	Segment  int          `json:"segment"`
	Rows     int          `json:"rows"`
	StartMJD float64      `json:"start_mjd"`
	EndMJD   float64      `json:"end_mjd"`
	Samples  []jsonSample `json:"samples"`
}

// JSONSink writes an array-of-segments document: one object per
// segment with its samples embedded. Rows must arrive grouped by
// segment ordinal, which the segmenter guarantees; the sink buffers
// only the segment currently being assembled.
type JSONSink struct {
	w  *bufio.Writer
	gz *gzip.Writer

	mu          sync.Mutex
	pending     *jsonSegment
	emitted     int
	rowsWritten int64
	closed      bool
}

// NewJSONSink creates a JSON sink. Only gzip and no compression are
// supported for this format.
func NewJSONSink(output io.Writer, cfg Config) (*JSONSink, error) {
	s := &JSONSink{}

	switch cfg.Compression {
	case CompressionNone:
		s.w = bufio.NewWriterSize(output, 64*1024)
	case CompressionGzip:
		s.gz = gzip.NewWriter(output)
		s.w = bufio.NewWriterSize(s.gz, 64*1024)
	default:
		return nil, errors.New(errors.CodeCompressionErr, "compression not supported for json").
			WithContext("compression", cfg.Compression.String())
	}

	return s, nil
}

// Write implements the Writer interface.
func (s *JSONSink) Write(ctx context.Context, rows <-chan model.SegmentRow) error {
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

// WriteRow appends one row to the segment being assembled. A row with
// a new segment ordinal finishes the previous segment object.
func (s *JSONSink) WriteRow(row model.SegmentRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil && s.pending.Segment != row.Segment {
		if err := s.emitPending(); err != nil {
			return err
		}
	}
	if s.pending == nil {
		s.pending = &jsonSegment{
			Segment:  row.Segment,
			StartMJD: row.MJD,
		}
	}

	s.pending.Samples = append(s.pending.Samples, jsonSample{
		Time: time.Unix(0, row.Time).UTC().Format(time.RFC3339Nano),
		MJD:  row.MJD,
		X:    row.X,
		Y:    row.Y,
	})
	s.pending.Rows++
	s.pending.EndMJD = row.MJD
	s.rowsWritten++
	return nil
}

// emitPending writes the assembled segment object. Caller holds the lock.
func (s *JSONSink) emitPending() error {
	data, err := json.Marshal(s.pending)
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "encoding segment")
	}

	prefix := "[\n  "
	if s.emitted > 0 {
		prefix = ",\n  "
	}
	if _, err := s.w.WriteString(prefix); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "writing segment")
	}
	if _, err := s.w.Write(data); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "writing segment")
	}

	s.emitted++
	s.pending = nil
	return nil
}

// Flush flushes buffered output. The segment being assembled stays
// open until the next ordinal change or Close.
func (s *JSONSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

// Close finishes the document and closes the sink.
func (s *JSONSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	if s.pending != nil {
		if err := s.emitPending(); err != nil {
			return err
		}
	}
	terminator := "\n]\n"
	if s.emitted == 0 {
		terminator = "[]\n"
	}
	if _, err := s.w.WriteString(terminator); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "closing document")
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
func (s *JSONSink) RowsWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rowsWritten
}
