package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// QuarantineRecord is a rejected telemetry row with full context,
// written out for later inspection or reprocessing.
type QuarantineRecord struct {
	// Original data
	RawData   []byte `json:"raw_data"`
	RowNumber int64  `json:"row_number"`

	// Error context
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
	Column       string `json:"column,omitempty"`

	// Source context
	Source string `json:"source"`

	// Metadata
	Timestamp   time.Time `json:"timestamp"`
	JobID       string    `json:"job_id,omitempty"`
	Recoverable bool      `json:"recoverable"`
}

// QuarantineWriter writes rejected rows to rotating JSONL files.
type QuarantineWriter struct {
	mu sync.Mutex

	outputDir string
	file      *os.File
	encoder   *json.Encoder

	recordCount  int64
	bytesWritten int64
	startTime    time.Time

	maxRecords   int64 // Max records before rotation (0 = unlimited)
	maxBytes     int64 // Max bytes before rotation (0 = unlimited)
	rotateOnFull bool
	fileIndex    int

	closed bool
}

// QuarantineConfig configures the quarantine writer.
type QuarantineConfig struct {
	// OutputDir is the directory for quarantine files
	OutputDir string
	// MaxRecords before rotating to a new file (0 = unlimited)
	MaxRecords int64
	// MaxBytes before rotating to a new file (0 = unlimited)
	MaxBytes int64
	// RotateOnFull creates a new file when limits are reached
	RotateOnFull bool
}

// DefaultQuarantineConfig returns sensible defaults.
func DefaultQuarantineConfig(baseDir string) QuarantineConfig {
	return QuarantineConfig{
		OutputDir:    filepath.Join(baseDir, "quarantine"),
		MaxRecords:   100000,
		MaxBytes:     100 * 1024 * 1024,
		RotateOnFull: true,
	}
}

// NewQuarantineWriter creates a quarantine writer.
func NewQuarantineWriter(cfg QuarantineConfig) (*QuarantineWriter, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create quarantine directory: %w", err)
	}

	w := &QuarantineWriter{
		outputDir:    cfg.OutputDir,
		maxRecords:   cfg.MaxRecords,
		maxBytes:     cfg.MaxBytes,
		rotateOnFull: cfg.RotateOnFull,
		startTime:    time.Now(),
	}

	if err := w.openFile(); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *QuarantineWriter) openFile() error {
	filename := fmt.Sprintf("quarantine_%s_%04d.jsonl",
		time.Now().Format("20060102_150405"),
		w.fileIndex)
	path := filepath.Join(w.outputDir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open quarantine file: %w", err)
	}

	w.file = file
	w.encoder = json.NewEncoder(file)
	return nil
}

// Write writes a rejected row to the quarantine.
func (w *QuarantineWriter) Write(record QuarantineRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("quarantine writer is closed")
	}

	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	if w.rotateOnFull {
		if (w.maxRecords > 0 && w.recordCount >= w.maxRecords) ||
			(w.maxBytes > 0 && w.bytesWritten >= w.maxBytes) {
			if err := w.rotate(); err != nil {
				return err
			}
		}
	}

	if err := w.encoder.Encode(record); err != nil {
		return fmt.Errorf("failed to write quarantine record: %w", err)
	}

	w.recordCount++
	// Approximate size
	w.bytesWritten += int64(len(record.RawData) + 160)

	return nil
}

// WriteError is a convenience method to quarantine an ErrorRecord.
func (w *QuarantineWriter) WriteError(err ErrorRecord, jobID string) error {
	return w.Write(QuarantineRecord{
		RawData:      err.RawData,
		RowNumber:    err.RowNumber,
		ErrorType:    err.ErrorType.String(),
		ErrorMessage: err.Message,
		Column:       err.Column,
		Source:       err.Source,
		Timestamp:    err.Timestamp,
		JobID:        jobID,
		Recoverable:  isRecoverableError(err.ErrorType),
	})
}

func isRecoverableError(errType ErrorType) bool {
	switch errType {
	case ErrorTypeInvalidValue, ErrorTypeInvalidTimestamp, ErrorTypeInvalidMJD:
		return true // Value-level issues may be fixed upstream
	case ErrorTypeMalformedRow, ErrorTypeQuotingError, ErrorTypeTruncated:
		return false // Structural issues unlikely to be fixed
	default:
		return false
	}
}

func (w *QuarantineWriter) rotate() error {
	if w.file != nil {
		w.file.Close()
	}

	w.recordCount = 0
	w.bytesWritten = 0
	w.fileIndex++

	return w.openFile()
}

// Stats returns quarantine statistics.
func (w *QuarantineWriter) Stats() QuarantineStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return QuarantineStats{
		RecordCount:  w.recordCount,
		BytesWritten: w.bytesWritten,
		FileCount:    w.fileIndex + 1,
		Duration:     time.Since(w.startTime),
	}
}

// QuarantineStats contains quarantine statistics.
type QuarantineStats struct {
	RecordCount  int64
	BytesWritten int64
	FileCount    int
	Duration     time.Duration
}

// Flush flushes buffered data to disk.
func (w *QuarantineWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return w.file.Sync()
	}
	return nil
}

// Close closes the quarantine writer.
func (w *QuarantineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// QuarantineReader reads records from a quarantine file.
type QuarantineReader struct {
	file    *os.File
	decoder *json.Decoder
}

// NewQuarantineReader opens a quarantine file for reading.
func NewQuarantineReader(path string) (*QuarantineReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	return &QuarantineReader{
		file:    file,
		decoder: json.NewDecoder(file),
	}, nil
}

// Read reads the next record.
func (r *QuarantineReader) Read() (*QuarantineRecord, error) {
	var record QuarantineRecord
	if err := r.decoder.Decode(&record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Close closes the reader.
func (r *QuarantineReader) Close() error {
	return r.file.Close()
}

// ListQuarantineFiles returns all quarantine files in a directory.
func ListQuarantineFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".jsonl" {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	return files, nil
}

// QuarantineSummary summarizes the contents of a quarantine directory.
type QuarantineSummary struct {
	TotalRecords     int64
	TotalBytes       int64
	FileCount        int
	ErrorTypes       map[string]int64
	Sources          map[string]int64
	OldestRecord     time.Time
	NewestRecord     time.Time
	RecoverableCount int64
}

// SummarizeQuarantine analyzes quarantine files and returns a summary.
func SummarizeQuarantine(dir string) (*QuarantineSummary, error) {
	files, err := ListQuarantineFiles(dir)
	if err != nil {
		return nil, err
	}

	summary := &QuarantineSummary{
		ErrorTypes: make(map[string]int64),
		Sources:    make(map[string]int64),
	}

	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		summary.TotalBytes += info.Size()
		summary.FileCount++

		reader, err := NewQuarantineReader(path)
		if err != nil {
			continue
		}

		for {
			record, err := reader.Read()
			if err != nil {
				break
			}

			summary.TotalRecords++
			summary.ErrorTypes[record.ErrorType]++
			summary.Sources[record.Source]++

			if record.Recoverable {
				summary.RecoverableCount++
			}

			if summary.OldestRecord.IsZero() || record.Timestamp.Before(summary.OldestRecord) {
				summary.OldestRecord = record.Timestamp
			}
			if record.Timestamp.After(summary.NewestRecord) {
				summary.NewestRecord = record.Timestamp
			}
		}
		reader.Close()
	}

	return summary, nil
}
