// Package pkg provides the main entry point for the Mastflow library.
//
// Mastflow splits paired JWST engineering telemetry into segments
// bounded by flat runs: stretches where at least one of two channels
// keeps moving, ended by a configurable count of consecutive readings
// in which both channels hold still.
//
// Basic usage:
//
//	// Segment two local telemetry exports
//	result, err := pkg.Segment(ctx, "az.csv", "alt.csv", "segments.parquet")
//
//	// With options
//	result, err := pkg.Segment(ctx, "az.csv", "alt.csv", "segments.parquet",
//	    pkg.WithMaxFlat(10),
//	    pkg.WithEngine("duckdb"),
//	)
//
//	// Mnemonics fetched straight from the engineering database
//	result, err := pkg.Segment(ctx, "SA_ZHGAUPAZ", "SA_ZHGAUPST", "gimbal.csv",
//	    pkg.WithArchive(mast.NewClient(mast.DefaultConfig())),
//	    pkg.WithWindow(start, end),
//	)
package pkg

import (
	"context"
	"os"
	"time"

	"github.com/mastflow/mastflow/internal/pipe"
	"github.com/mastflow/mastflow/pkg/checkpoint"
	"github.com/mastflow/mastflow/pkg/edb"
	"github.com/mastflow/mastflow/pkg/pipeline"
	"github.com/mastflow/mastflow/pkg/sinks"
)

// Result reports a finished segmentation run.
type Result struct {
	// XSamples and YSamples are the decoded sample counts per channel.
	XSamples int
	YSamples int

	// RowsSkipped counts input rows the decoder dropped.
	RowsSkipped int64

	// MJDMismatches counts index positions where the two channels carry
	// different MJD keys.
	MJDMismatches int

	// BytesFetched is the archive payload size, 0 for local inputs.
	BytesFetched int64

	// Segments is the number of segments found.
	Segments int

	// RowsWritten is the number of rows the sink accepted.
	RowsWritten int64

	// Duration covers the whole run including fetch and decode.
	Duration time.Duration

	// Errors summarizes decode errors under the configured policy.
	Errors pipeline.ErrorStats

	// Stats holds per-segment statistics when WithStats is set.
	Stats *pipeline.StatsReport
}

// SegmentOption configures a segmentation run.
type SegmentOption func(*segmentConfig)

type segmentConfig struct {
	runner      pipe.Config
	maxFlat     int
	engine      string
	compression string
	format      string
	start       time.Time
	end         time.Time
}

// WithMaxFlat sets the flat-run threshold that closes a segment.
func WithMaxFlat(n int) SegmentOption {
	return func(c *segmentConfig) { c.maxFlat = n }
}

// WithEngine selects the export engine ("arrow" or "duckdb").
func WithEngine(name string) SegmentOption {
	return func(c *segmentConfig) { c.engine = name }
}

// WithCompression sets the output compression algorithm.
func WithCompression(name string) SegmentOption {
	return func(c *segmentConfig) { c.compression = name }
}

// WithFormat forces the output format instead of detecting it from the
// output path.
func WithFormat(name string) SegmentOption {
	return func(c *segmentConfig) { c.format = name }
}

// WithErrorPolicy sets bad-row handling ("strict", "skip", "quarantine").
func WithErrorPolicy(name string) SegmentOption {
	return func(c *segmentConfig) { c.runner.ErrorPolicy = pipeline.ParseErrorPolicy(name) }
}

// WithMaxErrors aborts the run after n bad rows.
func WithMaxErrors(n int64) SegmentOption {
	return func(c *segmentConfig) { c.runner.MaxErrors = n }
}

// WithQuarantineDir redirects quarantined rows away from the output
// file's directory.
func WithQuarantineDir(dir string) SegmentOption {
	return func(c *segmentConfig) { c.runner.QuarantineDir = dir }
}

// WithArchive supplies the client used to fetch mnemonic inputs.
func WithArchive(d edb.Downloader) SegmentOption {
	return func(c *segmentConfig) { c.runner.Downloader = d }
}

// WithWindow bounds the fetch window for mnemonic inputs.
func WithWindow(start, end time.Time) SegmentOption {
	return func(c *segmentConfig) { c.start, c.end = start, end }
}

// WithMJDWindow clips exported rows to an MJD range. Zero leaves that
// side unbounded.
func WithMJDWindow(start, end float64) SegmentOption {
	return func(c *segmentConfig) { c.runner.MJDStart, c.runner.MJDEnd = start, end }
}

// WithDedup drops duplicate (segment, MJD) rows before the sink.
func WithDedup(enabled bool) SegmentOption {
	return func(c *segmentConfig) { c.runner.Dedup = enabled }
}

// WithStats collects per-segment statistics into Result.Stats.
func WithStats(enabled bool) SegmentOption {
	return func(c *segmentConfig) { c.runner.CollectStats = enabled }
}

// WithCheckpoints records job state in the given backend.
func WithCheckpoints(b checkpoint.Backend) SegmentOption {
	return func(c *segmentConfig) { c.runner.Backend = b }
}

// Segment decodes two telemetry series, splits them into flat-run
// bounded segments, and writes the rows to output. The x and y inputs
// are local CSV paths, or mnemonic names when an archive client and a
// time window are configured.
func Segment(ctx context.Context, x, y, output string, opts ...SegmentOption) (*Result, error) {
	cfg := &segmentConfig{runner: pipe.DefaultConfig(), maxFlat: 5}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.engine != "" {
		engine, err := pipe.ParseEngine(cfg.engine)
		if err != nil {
			return nil, err
		}
		cfg.runner.Engine = engine
	}
	if cfg.compression != "" {
		cfg.runner.Sink.Compression = sinks.ParseCompression(cfg.compression)
	}
	if cfg.format != "" {
		cfg.runner.Format = sinks.ParseFormat(cfg.format)
	}

	job := pipe.Job{
		X:       inputFor(x, cfg),
		Y:       inputFor(y, cfg),
		Start:   cfg.start,
		End:     cfg.end,
		Output:  output,
		MaxFlat: cfg.maxFlat,
	}

	res, err := pipe.NewRunner(cfg.runner).Run(ctx, job)
	if err != nil {
		return nil, err
	}

	return &Result{
		XSamples:      res.XSamples,
		YSamples:      res.YSamples,
		RowsSkipped:   res.RowsSkipped,
		MJDMismatches: res.MJDMismatches,
		BytesFetched:  res.BytesFetched,
		Segments:      res.Segments,
		RowsWritten:   res.RowsWritten,
		Duration:      res.Duration,
		Errors:        res.Errors,
		Stats:         res.Stats,
	}, nil
}

// QuickSegment is the simplest way to segment two local exports.
func QuickSegment(ctx context.Context, x, y, output string) (*Result, error) {
	return Segment(ctx, x, y, output)
}

// inputFor treats an argument as a mnemonic only when it cannot be a
// local file and an archive client is available to fetch it.
func inputFor(arg string, cfg *segmentConfig) pipe.Input {
	if _, err := os.Stat(arg); err == nil {
		return pipe.Input{Path: arg}
	}
	if cfg.runner.Downloader != nil && edb.ValidMnemonic(arg) {
		return pipe.Input{Mnemonic: arg}
	}
	return pipe.Input{Path: arg}
}

// Version information
const (
	Version   = "0.1.0"
	GitCommit = "dev"
)
