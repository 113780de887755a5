// Mastflow - JWST engineering telemetry segmenter
// Queries the MAST archive, exports engineering mnemonics, and splits
// paired telemetry series into flat-run-bounded segments.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mastflow/mastflow/internal/pipe"
	"github.com/mastflow/mastflow/pkg/checkpoint"
	"github.com/mastflow/mastflow/pkg/config"
	"github.com/mastflow/mastflow/pkg/edb"
	"github.com/mastflow/mastflow/pkg/mast"
	"github.com/mastflow/mastflow/pkg/pipeline"
	"github.com/mastflow/mastflow/pkg/sinks"
	"github.com/mastflow/mastflow/pkg/telemetry"
	"github.com/mastflow/mastflow/pkg/tui"
	"github.com/mastflow/mastflow/pkg/watch"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	xFlag           string
	yFlag           string
	outputFile      string
	formatFlag      string
	compressionFlag string
	engineFlag      string
	batchSize       int
	bufferSize      int
	maxFlatFlag     int
	verbose         bool

	// Fetch window flags, shared by segment and fetch
	startFlag string
	endFlag   string

	// Export window flags
	mjdStartFlag float64
	mjdEndFlag   float64

	// Processing flags
	dedupFlag       bool
	statsFlag       bool
	errorPolicyFlag string
	maxErrorsFlag   int64
	quarantineDir   string

	// Job state flags
	checkpointFlag bool
	watchFlag      bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mastflow",
	Short: "Mastflow - Segment JWST engineering telemetry from MAST",
	Long: `Mastflow is a CLI tool for the MAST astronomical archive: query observations, download data products, export engineering telemetry, and split paired mnemonic series into segments bounded by flat runs.

Run without arguments to launch the interactive wizard.`,
	Version: fmt.Sprintf("%s (%s)", version, commit),
	RunE:    runWizard,
}

var segmentCmd = &cobra.Command{
	Use:   "segment",
	Short: "Split two telemetry series into flat-run-bounded segments",
	Long: `Segment a pair of engineering telemetry series. A segment is a stretch
where at least one of the two channels keeps moving; a run of max-flat
consecutive unchanged readings on both channels closes it.

The -x and -y inputs are local CSV exports, or mnemonic names fetched
from the engineering database when --start and --end are given.

Examples:
  mastflow segment -x az.csv -y alt.csv -o segments.parquet
  mastflow segment -x SA_ZHGAUPAZ -y SA_ZHGAUPST --start 2022-07-01 --end 2022-07-02
  mastflow segment -x az.csv -y alt.csv --max-flat 10 --engine duckdb
  mastflow segment -x az.csv -y alt.csv -o out.csv --error-policy quarantine
  mastflow segment -x az.csv -y alt.csv -o out.parquet --watch`,
	RunE: runSegment,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mastflow %s (%s)\n", version, commit)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	// Segment command flags
	segmentCmd.Flags().StringVarP(&xFlag, "x-input", "x", "", "First channel: CSV file or mnemonic (required)")
	segmentCmd.Flags().StringVarP(&yFlag, "y-input", "y", "", "Second channel: CSV file or mnemonic (required)")
	segmentCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output path ('-' for stdout, derived from -x if unset)")
	segmentCmd.Flags().StringVarP(&formatFlag, "format", "f", "", "Output format (csv, json, parquet, xlsx) - detected from path if not specified")
	segmentCmd.Flags().StringVar(&compressionFlag, "compression", "", "Output compression (none, snappy, gzip, zstd, lz4)")
	segmentCmd.Flags().StringVar(&engineFlag, "engine", "", "Export engine (arrow, duckdb)")
	segmentCmd.Flags().IntVar(&maxFlatFlag, "max-flat", 0, "Flat readings on both channels that close a segment")
	segmentCmd.Flags().IntVar(&batchSize, "batch-size", 0, "Rows per sink batch")
	segmentCmd.Flags().IntVar(&bufferSize, "buffer-size", 0, "Pipeline channel depth")
	segmentCmd.Flags().StringVar(&startFlag, "start", "", "Fetch window start for mnemonic inputs (e.g. 2022-07-01)")
	segmentCmd.Flags().StringVar(&endFlag, "end", "", "Fetch window end for mnemonic inputs")
	segmentCmd.Flags().Float64Var(&mjdStartFlag, "mjd-start", 0, "Drop output rows before this MJD")
	segmentCmd.Flags().Float64Var(&mjdEndFlag, "mjd-end", 0, "Drop output rows after this MJD")
	segmentCmd.Flags().BoolVar(&dedupFlag, "dedup", false, "Drop duplicate (segment, MJD) rows")
	segmentCmd.Flags().BoolVar(&statsFlag, "stats", false, "Print per-segment statistics after the run")
	segmentCmd.Flags().StringVar(&errorPolicyFlag, "error-policy", "skip", "Bad-row handling (strict, skip, quarantine)")
	segmentCmd.Flags().Int64Var(&maxErrorsFlag, "max-errors", 0, "Abort after this many bad rows (0 = no limit)")
	segmentCmd.Flags().StringVar(&quarantineDir, "quarantine-dir", "", "Directory for quarantined rows (next to output if unset)")
	segmentCmd.Flags().BoolVar(&checkpointFlag, "checkpoint", false, "Record job state in the configured checkpoint backend")
	segmentCmd.Flags().BoolVar(&watchFlag, "watch", false, "Re-segment whenever an input file changes")

	segmentCmd.MarkFlagRequired("x-input")
	segmentCmd.MarkFlagRequired("y-input")

	// Add commands
	rootCmd.AddCommand(segmentCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSegment(cmd *cobra.Command, args []string) error {
	cfg := config.Global().Get()

	// Config supplies defaults for flags left unset.
	if maxFlatFlag == 0 {
		maxFlatFlag = cfg.Segmenter.MaxFlat
	}
	if engineFlag == "" {
		engineFlag = cfg.Export.Engine
	}
	if compressionFlag == "" {
		compressionFlag = cfg.Export.Compression
	}
	if formatFlag == "" {
		formatFlag = cfg.Export.Format
	}
	if batchSize == 0 {
		batchSize = cfg.Export.BatchSize
	}

	engine, err := pipe.ParseEngine(engineFlag)
	if err != nil {
		return err
	}

	x := parseInput(xFlag)
	y := parseInput(yFlag)

	var start, end time.Time
	if startFlag != "" {
		if start, err = parseTimeFlag(startFlag); err != nil {
			return err
		}
	}
	if endFlag != "" {
		if end, err = parseTimeFlag(endFlag); err != nil {
			return err
		}
	}

	if outputFile == "" {
		outputFile = defaultOutput(x, formatFlag)
	}

	if verbose {
		fmt.Printf("X input:     %s\n", x.Label())
		fmt.Printf("Y input:     %s\n", y.Label())
		fmt.Printf("Output:      %s\n", outputFile)
		fmt.Printf("Max flat:    %d\n", maxFlatFlag)
		fmt.Printf("Engine:      %s\n", engine)
		fmt.Printf("Compression: %s\n", compressionFlag)
	}

	// Setup context with signal handling
	ctx, cancel := signalContext()
	defer cancel()

	shutdown := initTelemetry(ctx, cfg)
	defer shutdown(context.WithoutCancel(ctx))

	runnerCfg := pipe.DefaultConfig()
	runnerCfg.Engine = engine
	runnerCfg.Format = sinks.ParseFormat(formatFlag)
	runnerCfg.Sink.Compression = sinks.ParseCompression(compressionFlag)
	if batchSize > 0 {
		runnerCfg.Sink.BatchSize = batchSize
	}
	if bufferSize > 0 {
		runnerCfg.BufferSize = bufferSize
	}
	runnerCfg.MJDStart = mjdStartFlag
	runnerCfg.MJDEnd = mjdEndFlag
	runnerCfg.Dedup = dedupFlag
	runnerCfg.CollectStats = statsFlag
	runnerCfg.ErrorPolicy = pipeline.ParseErrorPolicy(errorPolicyFlag)
	runnerCfg.MaxErrors = maxErrorsFlag
	runnerCfg.QuarantineDir = quarantineDir

	if x.Mnemonic != "" || y.Mnemonic != "" {
		runnerCfg.Downloader = newMastClient(cfg)
	}

	if checkpointFlag {
		backend, err := buildBackend(ctx, cfg)
		if err != nil {
			return err
		}
		runnerCfg.Backend = backend
	}

	// Progress callback for verbose mode
	if verbose {
		startTime := time.Now()
		runnerCfg.OnPhase = tui.PrintPhase
		runnerCfg.OnProgress = func(rows int64) {
			elapsed := time.Since(startTime)
			tui.PrintProgress(rows, float64(rows)/elapsed.Seconds(), elapsed)
		}
	}

	runner := pipe.NewRunner(runnerCfg)
	job := pipe.Job{
		X:       x,
		Y:       y,
		Start:   start,
		End:     end,
		Output:  outputFile,
		MaxFlat: maxFlatFlag,
	}

	if watchFlag {
		return runSegmentWatch(ctx, cfg, runner, job)
	}

	result, err := runner.Run(ctx, job)
	if err != nil {
		return fmt.Errorf("segmentation failed: %w", err)
	}

	if verbose {
		tui.ClearLine()
	}
	printResult(job, result)
	return nil
}

// runSegmentWatch re-runs the job whenever either input file changes.
func runSegmentWatch(ctx context.Context, cfg *config.Config, runner *pipe.Runner, job pipe.Job) error {
	if job.X.Path == "" || job.Y.Path == "" {
		return fmt.Errorf("watch mode needs local input files, not mnemonics")
	}

	w, err := watch.NewWatcher(cfg.Watch.Debounce)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	// Writing both inputs in one burst fires two change events; the
	// gate collapses them into a single run.
	gate := watch.NewRunGate(0)

	w.OnChange = func(path string) error {
		if !gate.TryRun() {
			return nil
		}
		fmt.Printf("[%s] change detected, re-segmenting... ", time.Now().Format("15:04:05"))
		result, err := runner.Run(ctx, job)
		if err != nil {
			return err
		}
		fmt.Printf("%d segments, %d rows in %v\n",
			result.Segments, result.RowsWritten, result.Duration.Round(time.Millisecond))
		return nil
	}

	w.OnError = func(path string, err error) {
		fmt.Printf("[%s] error: %v\n", time.Now().Format("15:04:05"), err)
	}

	if err := w.Watch(job.X.Path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", job.X.Path, err)
	}
	if err := w.Watch(job.Y.Path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", job.Y.Path, err)
	}

	fmt.Printf("Watching %s + %s -> %s\n", job.X.Path, job.Y.Path, job.Output)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	// Initial run
	if err := w.OnChange(job.X.Path); err != nil {
		fmt.Printf("initial run failed: %v\n", err)
	}

	return w.Run(ctx)
}

func printResult(job pipe.Job, result *pipe.Result) {
	outputSize := int64(0)
	if job.Output != "-" {
		if stat, err := os.Stat(job.Output); err == nil {
			outputSize = stat.Size()
		}
	}

	tui.PrintRunReport(&tui.RunReport{
		XSamples:      result.XSamples,
		YSamples:      result.YSamples,
		RowsSkipped:   result.RowsSkipped,
		MJDMismatches: result.MJDMismatches,
		Segments:      result.Segments,
		RowsWritten:   result.RowsWritten,
		OutputPath:    job.Output,
		OutputSize:    outputSize,
		Duration:      result.Duration,
	})

	if result.Stats != nil {
		printStats(result.Stats)
	}
}

func printStats(report *pipeline.StatsReport) {
	rows := make([][]string, 0, len(report.Segments))
	for _, s := range report.Segments {
		rows = append(rows, []string{
			fmt.Sprintf("%d", s.Segment),
			fmt.Sprintf("%d", s.Rows),
			fmt.Sprintf("%.6f", s.StartMJD),
			fmt.Sprintf("%.6f", s.EndMJD),
			fmt.Sprintf("%g .. %g", s.MinX, s.MaxX),
			fmt.Sprintf("%g .. %g", s.MinY, s.MaxY),
		})
	}
	tui.Table([]string{"SEGMENT", "ROWS", "START MJD", "END MJD", "X RANGE", "Y RANGE"}, rows)
}

// parseInput decides whether an argument names a local file or an
// engineering-database mnemonic. An existing file always wins; a
// mnemonic without --start/--end is rejected downstream.
func parseInput(arg string) pipe.Input {
	if _, err := os.Stat(arg); err == nil {
		return pipe.Input{Path: arg}
	}
	if edb.ValidMnemonic(arg) {
		return pipe.Input{Mnemonic: arg}
	}
	return pipe.Input{Path: arg}
}

// parseTimeFlag accepts a date or a timestamp, UTC.
func parseTimeFlag(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q (want e.g. 2022-07-01 or 2022-07-01T12:00:00Z)", s)
}

// defaultOutput derives the output path from the first input: the
// stem plus "_segments" and the format's extension.
func defaultOutput(x pipe.Input, format string) string {
	stem := x.Label()
	stem = strings.TrimSuffix(stem, ".gz")
	if ext := filepath.Ext(stem); ext != "" {
		stem = strings.TrimSuffix(stem, ext)
	}

	ext := "csv"
	switch sinks.ParseFormat(format) {
	case sinks.FormatJSON:
		ext = "json"
	case sinks.FormatParquet:
		ext = "parquet"
	case sinks.FormatXLSX:
		ext = "xlsx"
	}
	return stem + "_segments." + ext
}

// buildBackend constructs the checkpoint backend named in the config.
func buildBackend(ctx context.Context, cfg *config.Config) (checkpoint.Backend, error) {
	switch cfg.Checkpoint.Backend {
	case "", "file":
		return checkpoint.NewLocalBackend(cfg.Checkpoint.Dir)
	case "redis":
		return checkpoint.NewRedisBackend(checkpoint.RedisConfig{
			Address: cfg.Checkpoint.RedisAddr,
		})
	case "s3":
		return checkpoint.NewS3Backend(ctx, checkpoint.S3Config{
			Bucket: cfg.Checkpoint.S3Bucket,
			Region: cfg.Checkpoint.S3Region,
		})
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q (want file, redis, or s3)", cfg.Checkpoint.Backend)
	}
}

// newMastClient builds a portal client from the configured base URL.
func newMastClient(cfg *config.Config) *mast.Client {
	mcfg := mast.DefaultConfig()
	if cfg.API.BaseURL != "" {
		mcfg.BaseURL = cfg.API.BaseURL
	}
	if cfg.API.Timeout > 0 {
		mcfg.Timeout = cfg.API.Timeout
	}
	return mast.NewClient(mcfg)
}

// initTelemetry wires the OTLP exporter when the config enables it.
// Failures disable tracing rather than the run.
func initTelemetry(ctx context.Context, cfg *config.Config) func(context.Context) error {
	tcfg := telemetry.DefaultConfig("mastflow")
	tcfg.ServiceVersion = version
	if cfg.Telemetry.Enabled {
		tcfg.Endpoint = cfg.Telemetry.Endpoint
	}

	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry disabled: %v\n", err)
		return func(context.Context) error { return nil }
	}
	return shutdown
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nInterrupted, cleaning up...")
		cancel()
	}()

	return ctx, cancel
}

// runWizard launches the interactive TUI wizard.
func runWizard(cmd *cobra.Command, args []string) error {
	// If subcommand was invoked, don't run wizard
	if cmd.CalledAs() != "mastflow" && cmd.CalledAs() != "" {
		return nil
	}

	// Check if running in a terminal
	if fileInfo, _ := os.Stdout.Stat(); (fileInfo.Mode() & os.ModeCharDevice) == 0 {
		// Not a terminal, show help instead
		return cmd.Help()
	}

	result, err := tui.RunWizard(version)
	if err != nil {
		return err
	}

	if result == nil {
		// User cancelled
		return nil
	}

	// Run the segmentation with wizard results
	xFlag = result.XPath
	yFlag = result.YPath
	outputFile = result.Output
	maxFlatFlag = result.MaxFlat

	fmt.Println("\nStarting segmentation...")
	return runSegment(cmd, args)
}
