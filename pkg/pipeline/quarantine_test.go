package pipeline

import (
	"testing"
	"time"
)

func TestQuarantineWriteAndRead(t *testing.T) {
	dir := t.TempDir()

	cfg := QuarantineConfig{OutputDir: dir}
	w, err := NewQuarantineWriter(cfg)
	if err != nil {
		t.Fatalf("NewQuarantineWriter error: %v", err)
	}

	records := []ErrorRecord{
		{
			RowNumber: 12,
			RawData:   []byte("2022-07-01 00:00:00,bad,1.5"),
			ErrorType: ErrorTypeInvalidMJD,
			Message:   "invalid MJD",
			Column:    "MJD",
			Source:    "SA_ZHGAUPAZ",
			Timestamp: time.Now(),
		},
		{
			RowNumber: 30,
			RawData:   []byte(`"unterminated,1.0,2.0`),
			ErrorType: ErrorTypeQuotingError,
			Message:   "unterminated quote",
			Source:    "SA_ZHGAUPAZ",
			Timestamp: time.Now(),
		},
	}

	for _, rec := range records {
		if err := w.WriteError(rec, "job-1"); err != nil {
			t.Fatalf("WriteError: %v", err)
		}
	}

	stats := w.Stats()
	if stats.RecordCount != 2 {
		t.Errorf("Expected 2 records, got %d", stats.RecordCount)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	files, err := ListQuarantineFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("Expected 1 quarantine file, got %d", len(files))
	}

	r, err := NewQuarantineReader(files[0])
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	first, err := r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if first.RowNumber != 12 {
		t.Errorf("Expected row 12, got %d", first.RowNumber)
	}
	if first.ErrorType != "invalid_mjd" {
		t.Errorf("Expected invalid_mjd, got %q", first.ErrorType)
	}
	if !first.Recoverable {
		t.Error("Expected invalid_mjd to be recoverable")
	}
	if first.JobID != "job-1" {
		t.Errorf("Expected job-1, got %q", first.JobID)
	}

	second, err := r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if second.Recoverable {
		t.Error("Expected quoting error to be unrecoverable")
	}
}

func TestQuarantineRotation(t *testing.T) {
	dir := t.TempDir()

	cfg := QuarantineConfig{
		OutputDir:    dir,
		MaxRecords:   2,
		RotateOnFull: true,
	}
	w, err := NewQuarantineWriter(cfg)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		err := w.Write(QuarantineRecord{
			RowNumber: int64(i),
			RawData:   []byte("x"),
			ErrorType: "malformed_row",
			Source:    "test",
		})
		if err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	files, err := ListQuarantineFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) < 2 {
		t.Errorf("Expected rotation to produce multiple files, got %d", len(files))
	}
}

func TestQuarantineWriteAfterClose(t *testing.T) {
	w, err := NewQuarantineWriter(QuarantineConfig{OutputDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	if err := w.Write(QuarantineRecord{RowNumber: 1}); err == nil {
		t.Error("Expected error writing to closed quarantine")
	}
}

func TestSummarizeQuarantine(t *testing.T) {
	dir := t.TempDir()

	w, err := NewQuarantineWriter(QuarantineConfig{OutputDir: dir})
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	w.WriteError(ErrorRecord{
		RowNumber: 1, ErrorType: ErrorTypeInvalidMJD,
		Source: "SA_ZHGAUPAZ", Timestamp: now,
	}, "job-1")
	w.WriteError(ErrorRecord{
		RowNumber: 2, ErrorType: ErrorTypeInvalidMJD,
		Source: "SA_ZHGAUPEL", Timestamp: now.Add(time.Second),
	}, "job-1")
	w.WriteError(ErrorRecord{
		RowNumber: 3, ErrorType: ErrorTypeMalformedRow,
		Source: "SA_ZHGAUPAZ", Timestamp: now.Add(2 * time.Second),
	}, "job-1")
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	summary, err := SummarizeQuarantine(dir)
	if err != nil {
		t.Fatal(err)
	}

	if summary.TotalRecords != 3 {
		t.Errorf("Expected 3 records, got %d", summary.TotalRecords)
	}
	if summary.ErrorTypes["invalid_mjd"] != 2 {
		t.Errorf("Expected 2 invalid_mjd records, got %d", summary.ErrorTypes["invalid_mjd"])
	}
	if summary.Sources["SA_ZHGAUPAZ"] != 2 {
		t.Errorf("Expected 2 records from SA_ZHGAUPAZ, got %d", summary.Sources["SA_ZHGAUPAZ"])
	}
	if summary.RecoverableCount != 2 {
		t.Errorf("Expected 2 recoverable records, got %d", summary.RecoverableCount)
	}
	if !summary.NewestRecord.After(summary.OldestRecord) {
		t.Errorf("Expected newest after oldest: %v vs %v", summary.NewestRecord, summary.OldestRecord)
	}
}
