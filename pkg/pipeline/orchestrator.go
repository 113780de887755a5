package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	mferrors "github.com/mastflow/mastflow/pkg/errors"
)

// Orchestrator connects a Source, Processors, and a Sink into a pipeline.
// Data flows: Source -> Processor1 -> ... -> ProcessorN -> Sink.
// It uses errgroup for coordinated shutdown: any error cancels all stages.
type Orchestrator struct {
	cfg        Config
	source     Source
	sink       Sink
	processors []Processor
	inspectors []*PassthroughInspector

	bufferSize int

	metrics *Metrics
	running atomic.Bool
}

// Metrics collects runtime statistics for a pipeline run.
type Metrics struct {
	StartTime       time.Time
	EndTime         time.Time
	RowsWritten     atomic.Int64
	GoroutinesStart int
	GoroutinesEnd   int
}

// NewOrchestrator creates a pipeline orchestrator.
func NewOrchestrator(cfg Config) *Orchestrator {
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = 4096
	}

	return &Orchestrator{
		cfg:        cfg,
		processors: make([]Processor, 0),
		inspectors: make([]*PassthroughInspector, 0),
		bufferSize: bufSize,
		metrics:    &Metrics{},
	}
}

// SetSource sets the data source.
func (o *Orchestrator) SetSource(s Source) *Orchestrator {
	o.source = s
	return o
}

// SetSink sets the data sink.
func (o *Orchestrator) SetSink(s Sink) *Orchestrator {
	o.sink = s
	return o
}

// AddProcessor adds a processor to the pipeline.
// Processors are applied in the order they are added.
func (o *Orchestrator) AddProcessor(p Processor) *Orchestrator {
	o.processors = append(o.processors, p)
	return o
}

// AddInspector adds an inspector that passes rows through while gathering stats.
func (o *Orchestrator) AddInspector(i Inspector) *Orchestrator {
	pt := NewPassthroughInspector(i)
	o.inspectors = append(o.inspectors, pt)
	o.processors = append(o.processors, pt)
	return o
}

// Run executes the pipeline.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.running.Load() {
		return mferrors.New(mferrors.CodeProcessFailed, "pipeline already running")
	}
	o.running.Store(true)
	defer o.running.Store(false)

	if err := o.validate(); err != nil {
		return err
	}

	o.metrics.StartTime = time.Now()
	o.metrics.GoroutinesStart = runtime.NumGoroutine()

	g, ctx := o.start(ctx)
	err := g.Wait()

	o.metrics.EndTime = time.Now()
	o.metrics.GoroutinesEnd = runtime.NumGoroutine()

	if closeErr := o.sink.Close(); closeErr != nil && err == nil {
		err = mferrors.Wrap(closeErr, mferrors.CodeWriteFailed, "failed to close sink")
	}

	return err
}

// start launches all pipeline stages on an errgroup.
func (o *Orchestrator) start(ctx context.Context) (*errgroup.Group, context.Context) {
	g, ctx := errgroup.WithContext(ctx)

	// Channel chain: Source -> [chan0] -> Proc1 -> [chan1] -> ... -> counter -> Sink.
	// Stage output channels are closed by the orchestrator, never by the
	// stages themselves. Buffered channels prevent goroutine leaks on
	// early return.
	numStages := len(o.processors) + 2
	channels := make([]chan Row, numStages)
	for i := range channels {
		channels[i] = make(chan Row, o.bufferSize)
	}

	g.Go(func() error {
		defer close(channels[0])
		return o.runSource(ctx, channels[0])
	})

	for i, proc := range o.processors {
		inChan := channels[i]
		outChan := channels[i+1]
		processor := proc
		stageNum := i + 1

		g.Go(func() error {
			defer close(outChan)
			return o.runProcessor(ctx, processor, inChan, outChan, stageNum)
		})
	}

	// Row counter feeds the sink and drives progress reporting.
	countIn := channels[len(channels)-2]
	countOut := channels[len(channels)-1]
	g.Go(func() error {
		defer close(countOut)
		return o.runCounter(ctx, countIn, countOut)
	})

	g.Go(func() error {
		return o.runSink(ctx, countOut)
	})

	return g, ctx
}

func (o *Orchestrator) validate() error {
	if o.source == nil {
		return mferrors.New(mferrors.CodeValidationFailed, "no source configured")
	}
	if o.sink == nil {
		return mferrors.New(mferrors.CodeValidationFailed, "no sink configured")
	}
	return nil
}

func (o *Orchestrator) runSource(ctx context.Context, out chan<- Row) error {
	err := o.source.Read(ctx, out)
	if err != nil {
		if ctx.Err() != nil {
			return mferrors.ContextCanceled("source read")
		}
		return mferrors.Wrap(err, mferrors.CodeDecodeFailed,
			fmt.Sprintf("source %s failed", o.source.Name()))
	}
	return nil
}

func (o *Orchestrator) runProcessor(ctx context.Context, proc Processor, in <-chan Row, out chan<- Row, stage int) error {
	err := proc.Process(ctx, in, out)
	if err != nil {
		if ctx.Err() != nil {
			return mferrors.ContextCanceled(fmt.Sprintf("processor %s", proc.Name()))
		}
		return mferrors.Wrap(err, mferrors.CodeProcessFailed,
			fmt.Sprintf("processor %s (stage %d) failed", proc.Name(), stage))
	}
	return nil
}

func (o *Orchestrator) runCounter(ctx context.Context, in <-chan Row, out chan<- Row) error {
	every := int64(o.cfg.BatchSize)
	if every <= 0 {
		every = 1024
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case row, ok := <-in:
			if !ok {
				if o.cfg.OnProgress != nil {
					o.cfg.OnProgress(o.metrics.RowsWritten.Load())
				}
				return nil
			}

			select {
			case out <- row:
			case <-ctx.Done():
				return ctx.Err()
			}

			n := o.metrics.RowsWritten.Add(1)
			if o.cfg.OnProgress != nil && n%every == 0 {
				o.cfg.OnProgress(n)
			}
		}
	}
}

func (o *Orchestrator) runSink(ctx context.Context, in <-chan Row) error {
	err := o.sink.Write(ctx, in)
	if err != nil {
		if ctx.Err() != nil {
			return mferrors.ContextCanceled("sink write")
		}
		return mferrors.Wrap(err, mferrors.CodeWriteFailed,
			fmt.Sprintf("sink %s failed", o.sink.Name()))
	}
	return nil
}

// Metrics returns the pipeline metrics.
func (o *Orchestrator) Metrics() *Metrics {
	return o.metrics
}

// InspectorReports returns reports from all inspectors keyed by name.
func (o *Orchestrator) InspectorReports() map[string]interface{} {
	reports := make(map[string]interface{})
	for _, inspector := range o.inspectors {
		reports[inspector.Name()] = inspector.Report()
	}
	return reports
}

// Duration returns the pipeline execution duration.
func (m *Metrics) Duration() time.Duration {
	if m.EndTime.IsZero() {
		return time.Since(m.StartTime)
	}
	return m.EndTime.Sub(m.StartTime)
}

// RowsPerSecond returns the processing rate.
func (m *Metrics) RowsPerSecond() float64 {
	duration := m.Duration().Seconds()
	if duration == 0 {
		return 0
	}
	return float64(m.RowsWritten.Load()) / duration
}

// Summary returns a human-readable summary.
func (m *Metrics) Summary() string {
	return fmt.Sprintf(
		"Wrote %d rows in %s (%.0f rows/sec)",
		m.RowsWritten.Load(),
		m.Duration().Round(time.Millisecond),
		m.RowsPerSecond(),
	)
}

// SafeProcessor wraps a processor with panic recovery.
type SafeProcessor struct {
	inner Processor
}

// NewSafeProcessor creates a panic-safe processor wrapper.
func NewSafeProcessor(p Processor) *SafeProcessor {
	return &SafeProcessor{inner: p}
}

// Name returns the wrapped processor's name.
func (s *SafeProcessor) Name() string {
	return s.inner.Name()
}

// Process runs the processor with panic recovery.
func (s *SafeProcessor) Process(ctx context.Context, in <-chan Row, out chan<- Row) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = mferrors.New(mferrors.CodePanic, fmt.Sprintf("processor panic: %v", r))
		}
	}()

	return s.inner.Process(ctx, in, out)
}
