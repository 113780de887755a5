// Package pipe runs end-to-end segmentation jobs: acquire two telemetry
// series, split them into moving segments, and stream the segment rows
// to an export sink. It wires together the edb decoder, the segmenter,
// the pipeline orchestrator, checkpointing, and telemetry so the CLI
// layer stays thin.
package pipe

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mastflow/mastflow/pkg/checkpoint"
	"github.com/mastflow/mastflow/pkg/edb"
	"github.com/mastflow/mastflow/pkg/errors"
	"github.com/mastflow/mastflow/pkg/mast"
	"github.com/mastflow/mastflow/pkg/pipeline"
	"github.com/mastflow/mastflow/pkg/segment"
	"github.com/mastflow/mastflow/pkg/sinks"
	"github.com/mastflow/mastflow/pkg/telemetry"
	"github.com/mastflow/mastflow/pkg/util"
)

// The archive client is the production Downloader.
var _ edb.Downloader = (*mast.Client)(nil)

// Input identifies one telemetry channel: either a local CSV file
// (plain or gzipped) or a mnemonic to fetch from the archive.
type Input struct {
	Path     string
	Mnemonic string
}

// Label returns the mnemonic or the file base name, for checkpoints,
// spans, and error records.
func (in Input) Label() string {
	if in.Mnemonic != "" {
		return in.Mnemonic
	}
	return filepath.Base(in.Path)
}

func (in Input) remote() bool { return in.Mnemonic != "" }

// Job describes one segmentation run.
type Job struct {
	// X and Y are the two channels whose joint movement defines segments.
	X Input
	Y Input

	// Start and End bound the fetch window. Required when either input
	// is a mnemonic, ignored for local files.
	Start time.Time
	End   time.Time

	// Output is the destination path. "-" writes to stdout.
	Output string

	// MaxFlat is the flat-run threshold passed to the segmenter.
	MaxFlat int
}

// Source returns the stable identity of this job, used for checkpoint
// lookup and job leases.
func (j Job) Source() string {
	return j.X.Label() + "+" + j.Y.Label()
}

// Config carries the collaborators and policy for a Runner.
type Config struct {
	// Decode configures the CSV decoder. Strict is overridden from
	// ErrorPolicy; OnSkip is owned by the runner.
	Decode edb.DecodeConfig

	// Sink configures batching and compression for the export writer.
	Sink sinks.Config

	// Format forces the output format. FormatUnknown detects it from
	// the output path, falling back to CSV.
	Format sinks.Format

	// Engine selects the export implementation.
	Engine Engine

	// Downloader fetches archive URIs. Required for mnemonic inputs.
	Downloader edb.Downloader

	// MJDStart and MJDEnd clip exported rows to a time window.
	// Zero means no bound on that side.
	MJDStart float64
	MJDEnd   float64

	// Dedup drops duplicate (segment, MJD) rows before the sink.
	Dedup bool

	// CollectStats attaches a per-segment statistics inspector.
	CollectStats bool

	// ErrorPolicy controls how decode errors are handled.
	ErrorPolicy pipeline.ErrorPolicy

	// MaxErrors aborts the run after this many errors. 0 means no limit.
	MaxErrors int64

	// QuarantineDir receives rejected rows under ErrorPolicyQuarantine.
	// Defaults to the output file's directory.
	QuarantineDir string

	// Backend persists checkpoints. Nil disables checkpointing.
	Backend checkpoint.Backend

	// LeaseTTL bounds the job lease when Backend is Redis.
	LeaseTTL time.Duration

	// BufferSize is the orchestrator channel depth.
	BufferSize int

	// OnPhase is invoked at each phase transition.
	OnPhase func(phase string)

	// OnProgress is invoked periodically with the rows written so far.
	OnProgress func(rowsWritten int64)
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		Decode:      edb.DefaultDecodeConfig(),
		Sink:        sinks.DefaultConfig(),
		Engine:      EngineArrow,
		ErrorPolicy: pipeline.ErrorPolicySkip,
		LeaseTTL:    10 * time.Minute,
		BufferSize:  4096,
	}
}

// Result reports a finished run.
type Result struct {
	// XSamples and YSamples are the decoded sample counts per channel.
	XSamples int
	YSamples int

	// RowsSkipped counts input rows dropped by the decoder.
	RowsSkipped int64

	// MJDMismatches counts index positions where the two channels carry
	// different MJD keys. Those rows never break a segment.
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

	// Stats holds per-segment statistics when CollectStats is set.
	Stats *pipeline.StatsReport
}

// Runner executes segmentation jobs.
type Runner struct {
	cfg Config
}

// NewRunner creates a Runner, filling unset Config fields with defaults.
func NewRunner(cfg Config) *Runner {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 10 * time.Minute
	}
	if cfg.Engine == "" {
		cfg.Engine = EngineArrow
	}
	return &Runner{cfg: cfg}
}

// Run executes one job and reports the outcome.
func (r *Runner) Run(ctx context.Context, job Job) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "pipe.run",
		attribute.String("job.x", job.X.Label()),
		attribute.String("job.y", job.Y.Label()),
		attribute.String("job.output", job.Output),
		attribute.Int("job.max_flat", job.MaxFlat),
	)
	defer span.End()

	res, err := r.run(ctx, job)
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return res, err
}

func (r *Runner) run(ctx context.Context, job Job) (*Result, error) {
	if err := r.validate(job); err != nil {
		return nil, err
	}
	start := time.Now()

	// Job lease and checkpoint. The lease stops a second run against
	// the same source from executing the same job concurrently.
	var cp *checkpoint.Checkpoint
	if r.cfg.Backend != nil {
		if rb, ok := r.cfg.Backend.(*checkpoint.RedisBackend); ok {
			lease, err := rb.AcquireLease(ctx, job.Source(), r.cfg.LeaseTTL)
			if err != nil {
				return nil, errors.Wrapf(err, errors.CodeProcessFailed,
					"job %s already running", job.Source())
			}
			defer lease.Release(context.WithoutCancel(ctx))
		}

		var err error
		cp, _, err = checkpoint.FindOrCreate(ctx, r.cfg.Backend, job.Source(), job.Output)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeProcessFailed, "checkpoint lookup failed")
		}
		cp.SetMetadata("engine", string(r.cfg.Engine))
		cp.SetMetadata("x", job.X.Label())
		cp.SetMetadata("y", job.Y.Label())
	}

	handler, quarantine, err := r.errorHandler(job)
	if err != nil {
		return nil, err
	}
	if quarantine != nil {
		defer quarantine.Close()
	}

	// Acquire both channels.
	if job.X.remote() || job.Y.remote() {
		r.phase(ctx, cp, checkpoint.PhaseFetching)
	} else {
		r.phase(ctx, cp, checkpoint.PhaseDecoding)
	}
	var bytesFetched atomic.Int64
	xSeries, err := r.acquire(ctx, job, job.X, handler, &bytesFetched)
	if err != nil {
		return nil, err
	}
	ySeries, err := r.acquire(ctx, job, job.Y, handler, &bytesFetched)
	if err != nil {
		return nil, err
	}
	if cp != nil {
		cp.AddBytesFetched(bytesFetched.Load())
		cp.SetSkipped(xSeries.Skipped + ySeries.Skipped)
		cp.Update(int64(xSeries.Len()+ySeries.Len()), 0)
	}

	mismatches, err := xSeries.AlignedWith(ySeries)
	if err != nil {
		return nil, err
	}
	telemetry.SetAttributes(ctx,
		attribute.Int("decode.x_samples", xSeries.Len()),
		attribute.Int("decode.y_samples", ySeries.Len()),
		attribute.Int("decode.mjd_mismatches", mismatches),
	)

	// Segment.
	r.phase(ctx, cp, checkpoint.PhaseSegmenting)
	pairs, err := segment.Zip(xSeries.Samples, ySeries.Samples)
	if err != nil {
		return nil, err
	}
	segments, err := segment.SplitPaired(pairs, job.MaxFlat)
	if err != nil {
		return nil, err
	}
	if cp != nil {
		cp.SetSegments(len(segments))
	}
	telemetry.SetAttributes(ctx, attribute.Int("segment.count", len(segments)))

	// Export.
	r.phase(ctx, cp, checkpoint.PhaseWriting)
	sink, closeOutput, err := r.buildSink(job)
	if err != nil {
		return nil, err
	}

	plCfg := pipeline.DefaultConfig()
	plCfg.BufferSize = r.cfg.BufferSize
	plCfg.ErrorPolicy = r.cfg.ErrorPolicy
	decoded := int64(xSeries.Len() + ySeries.Len())
	plCfg.OnProgress = func(rows int64) {
		if cp != nil {
			cp.Update(decoded, rows)
		}
		if r.cfg.OnProgress != nil {
			r.cfg.OnProgress(rows)
		}
	}

	orch := pipeline.NewOrchestrator(plCfg).
		SetSource(pipeline.NewSegmentSource(segments)).
		SetSink(sink)
	if r.cfg.MJDStart != 0 || r.cfg.MJDEnd != 0 {
		orch.AddProcessor(pipeline.NewMJDRangeProcessor(r.cfg.MJDStart, r.cfg.MJDEnd))
	}
	if r.cfg.Dedup {
		orch.AddProcessor(pipeline.NewDedupProcessor(0))
	}
	var stats *pipeline.StatsInspector
	if r.cfg.CollectStats {
		stats = pipeline.NewStatsInspector()
		orch.AddInspector(stats)
	}

	runErr := orch.Run(ctx)
	if closeErr := closeOutput(); runErr == nil && closeErr != nil {
		runErr = errors.Wrap(closeErr, errors.CodeWriteFailed, "closing output")
	}
	if runErr != nil {
		return nil, runErr
	}

	r.phase(ctx, cp, checkpoint.PhaseComplete)

	res := &Result{
		XSamples:      xSeries.Len(),
		YSamples:      ySeries.Len(),
		RowsSkipped:   xSeries.Skipped + ySeries.Skipped,
		MJDMismatches: mismatches,
		BytesFetched:  bytesFetched.Load(),
		Segments:      len(segments),
		RowsWritten:   orch.Metrics().RowsWritten.Load(),
		Duration:      time.Since(start),
		Errors:        handler.Stats(),
	}
	if stats != nil {
		if report, ok := stats.Report().(pipeline.StatsReport); ok {
			res.Stats = &report
		}
	}
	return res, nil
}

func (r *Runner) validate(job Job) error {
	if job.MaxFlat < 1 {
		return errors.InvalidMaxFlat(job.MaxFlat)
	}
	if job.Output == "" {
		return errors.New(errors.CodeInvalidFormat, "output path required")
	}
	for _, in := range []Input{job.X, job.Y} {
		if in.Path == "" && in.Mnemonic == "" {
			return errors.New(errors.CodeInvalidFormat, "both channels need a file or mnemonic")
		}
		if in.remote() {
			if r.cfg.Downloader == nil {
				return errors.New(errors.CodeInvalidFormat, "mnemonic input requires an archive client").
					WithContext("mnemonic", in.Mnemonic)
			}
			if job.Start.IsZero() || job.End.IsZero() {
				return errors.New(errors.CodeInvalidFormat, "mnemonic input requires a start and end time").
					WithContext("mnemonic", in.Mnemonic)
			}
		}
	}
	return nil
}

// phase records a phase transition on the checkpoint, the span, and the
// caller's callback. Checkpoint persistence is best effort.
func (r *Runner) phase(ctx context.Context, cp *checkpoint.Checkpoint, name string) {
	if cp != nil {
		cp.SetPhase(name)
		_ = r.cfg.Backend.Save(ctx, cp)
	}
	telemetry.AddEvent(ctx, "phase."+name)
	if r.cfg.OnPhase != nil {
		r.cfg.OnPhase(name)
	}
}

// errorHandler builds the decode error handler for the configured
// policy, opening a quarantine writer when one is needed.
func (r *Runner) errorHandler(job Job) (*pipeline.ErrorHandler, *pipeline.QuarantineWriter, error) {
	handler := pipeline.NewErrorHandler(r.cfg.ErrorPolicy)
	if r.cfg.MaxErrors > 0 {
		handler.WithMaxErrors(r.cfg.MaxErrors)
	}
	if r.cfg.ErrorPolicy != pipeline.ErrorPolicyQuarantine {
		return handler, nil, nil
	}

	dir := r.cfg.QuarantineDir
	if dir == "" {
		dir = filepath.Join(filepath.Dir(job.Output), "quarantine")
	}
	qw, err := pipeline.NewQuarantineWriter(pipeline.DefaultQuarantineConfig(dir))
	if err != nil {
		return nil, nil, err
	}
	jobID := job.Source()
	handler.WithQuarantineWriter(func(rec pipeline.ErrorRecord) error {
		return qw.WriteError(rec, jobID)
	})
	return handler, qw, nil
}

// acquire fetches or opens one channel and decodes it into a Series.
func (r *Runner) acquire(ctx context.Context, job Job, in Input, handler *pipeline.ErrorHandler, fetched *atomic.Int64) (*edb.Series, error) {
	var abort error
	cfg := r.cfg.Decode
	cfg.Strict = r.cfg.ErrorPolicy == pipeline.ErrorPolicyStrict
	cfg.OnSkip = func(row int64, line []byte, reason string) {
		cont, handleErr := handler.HandleError(pipeline.ErrorRecord{
			RowNumber: row,
			RawData:   append([]byte(nil), line...),
			ErrorType: classifySkip(reason),
			Message:   reason,
			Timestamp: time.Now(),
			Source:    in.Label(),
		})
		if !cont && abort == nil {
			abort = handleErr
		}
	}

	var series *edb.Series
	var err error
	if in.remote() {
		downloader := &meteredDownloader{inner: r.cfg.Downloader, bytes: fetched}
		client := edb.NewClient(downloader, cfg)
		series, err = client.Fetch(ctx, edb.Request{
			Mnemonic: in.Mnemonic,
			Start:    job.Start,
			End:      job.End,
		})
	} else {
		var reader io.Reader
		var closeFn func() error
		reader, closeFn, err = util.OpenFile(in.Path)
		if err != nil {
			return nil, err
		}
		series, err = edb.NewDecoder(cfg).Decode(ctx, in.Label(), reader)
		if closeErr := closeFn(); err == nil && closeErr != nil {
			err = closeErr
		}
	}
	if err != nil {
		return nil, err
	}

	// The decoder drops rows inline, so an error-limit breach surfaces
	// only after the channel is fully read.
	if abort != nil {
		return nil, errors.Wrapf(abort, errors.CodeProcessFailed, "decoding %s", in.Label())
	}
	return series, nil
}

// buildSink constructs the export sink for the configured engine and
// returns it with a function that closes the underlying output.
func (r *Runner) buildSink(job Job) (pipeline.Sink, func() error, error) {
	if r.cfg.Engine == EngineDuckDB {
		ds, err := sinks.NewDuckDBSink(job.Output, r.cfg.Sink)
		if err != nil {
			return nil, nil, err
		}
		// The DuckDB sink owns its database handle; the orchestrator
		// closes it through the sink.
		return pipeline.NewWriterSink("duckdb", ds), func() error { return nil }, nil
	}

	format := r.cfg.Format
	if format == sinks.FormatUnknown {
		if format = sinks.DetectFormat(job.Output); format == sinks.FormatUnknown {
			format = sinks.FormatCSV
		}
	}

	// Snappy is the Parquet default; the text sinks write plain output.
	sinkCfg := r.cfg.Sink
	if format != sinks.FormatParquet && sinkCfg.Compression == sinks.CompressionSnappy {
		sinkCfg.Compression = sinks.CompressionNone
	}
	if util.IsGzipFile(job.Output) && (format == sinks.FormatCSV || format == sinks.FormatJSON) {
		sinkCfg.Compression = sinks.CompressionGzip
	}

	if job.Output == "-" {
		w, err := sinks.New(format, os.Stdout, sinkCfg)
		if err != nil {
			return nil, nil, err
		}
		return pipeline.NewWriterSink(format.String(), w), func() error { return nil }, nil
	}

	if err := util.EnsureDir(filepath.Dir(job.Output)); err != nil {
		return nil, nil, err
	}
	f, err := os.Create(job.Output)
	if err != nil {
		return nil, nil, errors.Wrapf(err, errors.CodeWriteFailed, "creating %s", job.Output)
	}
	w, err := sinks.New(format, f, sinkCfg)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return pipeline.NewWriterSink(format.String(), w), f.Close, nil
}

// classifySkip maps decoder skip reasons onto error record types.
func classifySkip(reason string) pipeline.ErrorType {
	switch reason {
	case "short row":
		return pipeline.ErrorTypeMalformedRow
	case "bad MJD":
		return pipeline.ErrorTypeInvalidMJD
	case "bad value":
		return pipeline.ErrorTypeInvalidValue
	case "bad timestamp":
		return pipeline.ErrorTypeInvalidTimestamp
	default:
		return pipeline.ErrorTypeUnknown
	}
}

// meteredDownloader counts archive payload bytes as they are read.
type meteredDownloader struct {
	inner edb.Downloader
	bytes *atomic.Int64
}

func (d *meteredDownloader) OpenDownload(ctx context.Context, uri string) (io.ReadCloser, int64, error) {
	body, size, err := d.inner.OpenDownload(ctx, uri)
	if err != nil {
		return nil, 0, err
	}
	return &meteredReader{body: body, bytes: d.bytes}, size, nil
}

type meteredReader struct {
	body  io.ReadCloser
	bytes *atomic.Int64
}

func (m *meteredReader) Read(p []byte) (int, error) {
	n, err := m.body.Read(p)
	m.bytes.Add(int64(n))
	return n, err
}

func (m *meteredReader) Close() error { return m.body.Close() }
