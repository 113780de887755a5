package pipeline

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MJDRangeProcessor drops rows outside an inclusive MJD window.
// A zero bound leaves that side of the window open.
type MJDRangeProcessor struct {
	Start float64
	End   float64

	dropped int64
}

// NewMJDRangeProcessor creates a row filter for the given MJD window.
func NewMJDRangeProcessor(start, end float64) *MJDRangeProcessor {
	return &MJDRangeProcessor{Start: start, End: end}
}

// Name returns "mjd_range".
func (p *MJDRangeProcessor) Name() string {
	return "mjd_range"
}

// Process forwards rows whose MJD falls inside the window.
func (p *MJDRangeProcessor) Process(ctx context.Context, in <-chan Row, out chan<- Row) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case row, ok := <-in:
			if !ok {
				return nil
			}

			if (p.Start != 0 && row.MJD < p.Start) || (p.End != 0 && row.MJD > p.End) {
				p.dropped++
				continue
			}

			select {
			case out <- row:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Dropped returns the number of rows filtered out.
func (p *MJDRangeProcessor) Dropped() int64 {
	return p.dropped
}

// dedupKey identifies a row by segment ordinal and exact MJD bits.
type dedupKey struct {
	segment int
	mjdBits uint64
}

// DedupProcessor drops rows whose (segment, MJD) key was already seen.
// Telemetry extracts can repeat samples at a timestamp when windows
// overlap; the first occurrence wins. When maxEntries is reached the
// seen table is cleared, so duplicates spanning a reset window pass
// through.
type DedupProcessor struct {
	seen       map[dedupKey]struct{}
	maxEntries int

	totalSeen  int64
	duplicates int64
}

// NewDedupProcessor creates a deduplicating processor.
// maxEntries bounds the in-memory seen table (0 = 1M entries).
func NewDedupProcessor(maxEntries int) *DedupProcessor {
	if maxEntries <= 0 {
		maxEntries = 1 << 20
	}
	return &DedupProcessor{
		seen:       make(map[dedupKey]struct{}),
		maxEntries: maxEntries,
	}
}

// Name returns "dedup".
func (p *DedupProcessor) Name() string {
	return "dedup"
}

// Process forwards first occurrences and drops repeats.
func (p *DedupProcessor) Process(ctx context.Context, in <-chan Row, out chan<- Row) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case row, ok := <-in:
			if !ok {
				return nil
			}

			p.totalSeen++
			key := dedupKey{segment: row.Segment, mjdBits: math.Float64bits(row.MJD)}
			if _, dup := p.seen[key]; dup {
				p.duplicates++
				continue
			}

			if len(p.seen) >= p.maxEntries {
				p.seen = make(map[dedupKey]struct{})
			}
			p.seen[key] = struct{}{}

			select {
			case out <- row:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// DedupStats contains deduplication statistics.
type DedupStats struct {
	TotalSeen  int64
	Duplicates int64
}

// Stats returns deduplication statistics.
func (p *DedupProcessor) Stats() DedupStats {
	return DedupStats{TotalSeen: p.totalSeen, Duplicates: p.duplicates}
}

// SegmentStats summarizes the rows observed for one segment.
type SegmentStats struct {
	Segment  int     `json:"segment"`
	Rows     int64   `json:"rows"`
	StartMJD float64 `json:"start_mjd"`
	EndMJD   float64 `json:"end_mjd"`
	MinX     float64 `json:"min_x"`
	MaxX     float64 `json:"max_x"`
	MinY     float64 `json:"min_y"`
	MaxY     float64 `json:"max_y"`
}

// StatsReport is the report produced by StatsInspector.
type StatsReport struct {
	TotalRows int64          `json:"total_rows"`
	Segments  []SegmentStats `json:"segments"`
}

// StatsInspector gathers per-segment row counts and value bounds.
type StatsInspector struct {
	mu       sync.Mutex
	total    int64
	segments map[int]*SegmentStats
}

// NewStatsInspector creates a segment statistics inspector.
func NewStatsInspector() *StatsInspector {
	return &StatsInspector{segments: make(map[int]*SegmentStats)}
}

// Name returns "segment_stats".
func (s *StatsInspector) Name() string {
	return "segment_stats"
}

// Inspect folds a row into the per-segment statistics.
func (s *StatsInspector) Inspect(row Row) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++

	st, ok := s.segments[row.Segment]
	if !ok {
		st = &SegmentStats{
			Segment:  row.Segment,
			StartMJD: row.MJD,
			EndMJD:   row.MJD,
			MinX:     row.X,
			MaxX:     row.X,
			MinY:     row.Y,
			MaxY:     row.Y,
		}
		s.segments[row.Segment] = st
	}

	st.Rows++
	if row.MJD < st.StartMJD {
		st.StartMJD = row.MJD
	}
	if row.MJD > st.EndMJD {
		st.EndMJD = row.MJD
	}
	st.MinX = math.Min(st.MinX, row.X)
	st.MaxX = math.Max(st.MaxX, row.X)
	st.MinY = math.Min(st.MinY, row.Y)
	st.MaxY = math.Max(st.MaxY, row.Y)
}

// Report returns a StatsReport with segments in ordinal order.
func (s *StatsInspector) Report() interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := StatsReport{TotalRows: s.total}
	for _, st := range s.segments {
		report.Segments = append(report.Segments, *st)
	}
	sort.Slice(report.Segments, func(i, j int) bool {
		return report.Segments[i].Segment < report.Segments[j].Segment
	})
	return report
}
