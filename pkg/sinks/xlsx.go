package sinks

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/mastflow/mastflow/internal/model"
	"github.com/mastflow/mastflow/pkg/errors"
)

const (
	xlsxSummarySheet = "Summary"
	xlsxSamplesSheet = "Samples"
)

// xlsxSegment aggregates one segment for the summary sheet.
type xlsxSegment struct {
	segment   int
	rows      int64
	startMJD  float64
	endMJD    float64
	startTime int64
	endTime   int64
}

// XLSXSink writes an Excel workbook with two sheets: Summary holds one
// row per segment (range, MJD bounds, sample count), Samples holds the
// full row stream. Samples go through the streaming writer, so large
// runs do not hold the sheet in memory.
type XLSXSink struct {
	output io.Writer
	file   *excelize.File
	stream *excelize.StreamWriter

	mu          sync.Mutex
	nextRow     int
	segments    []*xlsxSegment
	byOrdinal   map[int]*xlsxSegment
	rowsWritten int64
	closed      bool
}

// NewXLSXSink creates an Excel sink. Compression settings are ignored;
// the workbook container is already deflate-compressed.
func NewXLSXSink(output io.Writer, cfg Config) (*XLSXSink, error) {
	file := excelize.NewFile()
	if err := file.SetSheetName("Sheet1", xlsxSummarySheet); err != nil {
		file.Close()
		return nil, errors.Wrap(err, errors.CodeWriteFailed, "naming summary sheet")
	}
	if _, err := file.NewSheet(xlsxSamplesSheet); err != nil {
		file.Close()
		return nil, errors.Wrap(err, errors.CodeWriteFailed, "creating samples sheet")
	}

	stream, err := file.NewStreamWriter(xlsxSamplesSheet)
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, errors.CodeWriteFailed, "creating stream writer")
	}

	if err := stream.SetRow("A1", []interface{}{"segment", "theTime", "MJD", "x", "y"}); err != nil {
		file.Close()
		return nil, errors.Wrap(err, errors.CodeWriteFailed, "writing header row")
	}

	return &XLSXSink{
		output:    output,
		file:      file,
		stream:    stream,
		nextRow:   2,
		byOrdinal: make(map[int]*xlsxSegment),
	}, nil
}

// Write implements the Writer interface.
func (s *XLSXSink) Write(ctx context.Context, rows <-chan model.SegmentRow) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case row, ok := <-rows:
			if !ok {
				return nil
			}
			if err := s.WriteRow(row); err != nil {
				return err
			}
		}
	}
}

// WriteRow appends one row. The stream writer requires ascending row
// order, which the single-writer pipeline guarantees.
func (s *XLSXSink) WriteRow(row model.SegmentRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cell, err := excelize.CoordinatesToCellName(1, s.nextRow)
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "computing cell name")
	}

	err = s.stream.SetRow(cell, []interface{}{
		row.Segment,
		time.Unix(0, row.Time).UTC().Format(timeLayout),
		row.MJD,
		row.X,
		row.Y,
	})
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "writing row")
	}

	seg, ok := s.byOrdinal[row.Segment]
	if !ok {
		seg = &xlsxSegment{
			segment:   row.Segment,
			startMJD:  row.MJD,
			startTime: row.Time,
		}
		s.byOrdinal[row.Segment] = seg
		s.segments = append(s.segments, seg)
	}
	seg.rows++
	seg.endMJD = row.MJD
	seg.endTime = row.Time

	s.nextRow++
	s.rowsWritten++
	return nil
}

// Flush is a no-op; the stream writer flushes once on Close.
func (s *XLSXSink) Flush() error {
	return nil
}

// Close finalizes both sheets and writes the workbook to the output.
func (s *XLSXSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	if err := s.stream.Flush(); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "flushing stream writer")
	}
	if err := s.writeSummary(); err != nil {
		return err
	}
	if _, err := s.file.WriteTo(s.output); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "writing workbook")
	}
	if err := s.file.Close(); err != nil {
		return err
	}

	s.closed = true
	return nil
}

// writeSummary fills the summary sheet, one row per segment.
// Caller holds the lock.
func (s *XLSXSink) writeSummary() error {
	header := []interface{}{"segment", "rows", "startMJD", "endMJD", "start", "end"}
	if err := s.file.SetSheetRow(xlsxSummarySheet, "A1", &header); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "writing summary header")
	}

	for i, seg := range s.segments {
		cell := fmt.Sprintf("A%d", i+2)
		values := []interface{}{
			seg.segment,
			seg.rows,
			seg.startMJD,
			seg.endMJD,
			time.Unix(0, seg.startTime).UTC().Format(timeLayout),
			time.Unix(0, seg.endTime).UTC().Format(timeLayout),
		}
		if err := s.file.SetSheetRow(xlsxSummarySheet, cell, &values); err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "writing summary row")
		}
	}
	return nil
}

// RowsWritten returns the total number of rows written.
func (s *XLSXSink) RowsWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rowsWritten
}
