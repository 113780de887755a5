package sinks

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/mastflow/mastflow/internal/model"
	"github.com/mastflow/mastflow/pkg/errors"
	"github.com/mastflow/mastflow/pkg/util"
)

// DuckDBSink accumulates segment rows in an in-memory DuckDB table and
// exports the table on Close. The output format follows the path
// extension: .csv exports CSV with a header, anything else Parquet.
type DuckDBSink struct {
	cfg        Config
	outputPath string
	db         *sql.DB
	stmt       *sql.Stmt

	mu          sync.Mutex
	batch       []model.SegmentRow
	rowsWritten int64
	closed      bool
}

// NewDuckDBSink creates a DuckDB-backed sink writing to outputPath.
func NewDuckDBSink(outputPath string, cfg Config) (*DuckDBSink, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeEngineInit, "opening duckdb")
	}

	_, err = db.Exec(`
		CREATE TABLE segments (
			segment BIGINT NOT NULL,
			time BIGINT NOT NULL,
			mjd DOUBLE NOT NULL,
			x DOUBLE NOT NULL,
			y DOUBLE NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.CodeEngineInit, "creating table")
	}

	stmt, err := db.Prepare(`
		INSERT INTO segments (segment, time, mjd, x, y)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.CodeEngineInit, "preparing insert")
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultConfig().BatchSize
	}

	return &DuckDBSink{
		cfg:        cfg,
		outputPath: outputPath,
		db:         db,
		stmt:       stmt,
		batch:      make([]model.SegmentRow, 0, batchSize),
	}, nil
}

// Write implements the Writer interface.
func (s *DuckDBSink) Write(ctx context.Context, rows <-chan model.SegmentRow) error {
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

// WriteRow buffers one row, flushing a transaction batch when full.
func (s *DuckDBSink) WriteRow(row model.SegmentRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batch = append(s.batch, row)
	if len(s.batch) >= cap(s.batch) {
		return s.flushBatch()
	}
	return nil
}

// flushBatch inserts the buffered rows in one transaction.
func (s *DuckDBSink) flushBatch() error {
	if len(s.batch) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, errors.CodeEngineQuery, "beginning transaction")
	}

	stmt := tx.Stmt(s.stmt)
	for _, row := range s.batch {
		if _, err := stmt.Exec(int64(row.Segment), row.Time, row.MJD, row.X, row.Y); err != nil {
			tx.Rollback()
			return errors.Wrap(err, errors.CodeEngineQuery, "inserting row")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.CodeEngineQuery, "committing transaction")
	}

	s.rowsWritten += int64(len(s.batch))
	s.batch = s.batch[:0]
	return nil
}

// Flush flushes buffered rows into the table.
func (s *DuckDBSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushBatch()
}

// Close flushes, exports the table to the output path, and releases
// the database.
func (s *DuckDBSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	if err := s.flushBatch(); err != nil {
		return err
	}

	if err := util.EnsureDir(s.outputPath); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "creating output directory")
	}

	var query string
	if strings.HasSuffix(strings.ToLower(s.outputPath), ".csv") {
		query = fmt.Sprintf(`COPY segments TO '%s' (FORMAT CSV, HEADER)`, s.outputPath)
	} else {
		compression := "snappy"
		switch s.cfg.Compression {
		case CompressionGzip:
			compression = "gzip"
		case CompressionZstd:
			compression = "zstd"
		case CompressionNone:
			compression = "uncompressed"
		}
		query = fmt.Sprintf(`COPY segments TO '%s' (FORMAT PARQUET, COMPRESSION '%s')`,
			s.outputPath, compression)
	}

	if _, err := s.db.Exec(query); err != nil {
		return errors.Wrap(err, errors.CodeEngineQuery, "exporting table")
	}

	s.stmt.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	s.closed = true
	return nil
}

// RowsWritten returns the number of rows flushed into the table.
func (s *DuckDBSink) RowsWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rowsWritten
}
