package sinks

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestParquetSinkWritesMagic(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.BatchSize = 2 // force a mid-stream flush

	sink, err := NewParquetSink(&buf, cfg)
	if err != nil {
		t.Fatalf("NewParquetSink error: %v", err)
	}
	for _, row := range sampleRows() {
		if err := sink.WriteRow(row); err != nil {
			t.Fatalf("WriteRow error: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	data := buf.Bytes()
	if len(data) < 8 {
		t.Fatalf("Parquet output too short: %d bytes", len(data))
	}
	if !bytes.HasPrefix(data, []byte("PAR1")) {
		t.Errorf("Expected PAR1 header, got %q", data[:4])
	}
	if !bytes.HasSuffix(data, []byte("PAR1")) {
		t.Errorf("Expected PAR1 footer, got %q", data[len(data)-4:])
	}
	if sink.RowsWritten() != 3 {
		t.Errorf("Expected 3 rows written, got %d", sink.RowsWritten())
	}
}

func TestParquetSinkCompressionCodecs(t *testing.T) {
	for _, c := range []CompressionType{CompressionNone, CompressionSnappy, CompressionGzip, CompressionZstd, CompressionLZ4} {
		cfg := DefaultConfig()
		cfg.Compression = c

		var buf bytes.Buffer
		sink, err := NewParquetSink(&buf, cfg)
		if err != nil {
			t.Errorf("NewParquetSink(%v) error: %v", c, err)
			continue
		}
		if err := sink.WriteRow(sampleRows()[0]); err != nil {
			t.Errorf("WriteRow(%v) error: %v", c, err)
			continue
		}
		if err := sink.Close(); err != nil {
			t.Errorf("Close(%v) error: %v", c, err)
		}
	}
}

func TestXLSXSinkWritesWorkbook(t *testing.T) {
	var buf bytes.Buffer
	sink, err := NewXLSXSink(&buf, DefaultConfig())
	if err != nil {
		t.Fatalf("NewXLSXSink error: %v", err)
	}
	for _, row := range sampleRows() {
		if err := sink.WriteRow(row); err != nil {
			t.Fatalf("WriteRow error: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	// xlsx files are zip archives
	if !bytes.HasPrefix(buf.Bytes(), []byte("PK")) {
		t.Errorf("Expected zip magic, got %q", buf.Bytes()[:2])
	}
	if sink.RowsWritten() != 3 {
		t.Errorf("Expected 3 rows written, got %d", sink.RowsWritten())
	}

	wb, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Reopening workbook: %v", err)
	}
	defer wb.Close()

	samples, err := wb.GetRows(xlsxSamplesSheet)
	if err != nil {
		t.Fatalf("Reading samples sheet: %v", err)
	}
	if len(samples) != 4 {
		t.Errorf("Expected header + 3 sample rows, got %d", len(samples))
	}

	summary, err := wb.GetRows(xlsxSummarySheet)
	if err != nil {
		t.Fatalf("Reading summary sheet: %v", err)
	}
	if len(summary) != 3 {
		t.Fatalf("Expected header + 2 summary rows, got %d", len(summary))
	}
	if summary[0][0] != "segment" || summary[0][1] != "rows" {
		t.Errorf("Unexpected summary header: %v", summary[0])
	}
	if summary[1][0] != "0" || summary[1][1] != "2" {
		t.Errorf("Expected segment 0 with 2 rows, got %v", summary[1])
	}
	if summary[2][0] != "1" || summary[2][1] != "1" {
		t.Errorf("Expected segment 1 with 1 row, got %v", summary[2])
	}
}
