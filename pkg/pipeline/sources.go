package pipeline

import (
	"context"

	"github.com/mastflow/mastflow/internal/model"
)

// SegmentSource emits the rows of a segment list in order.
// The segment column of each row is the segment's ordinal position.
type SegmentSource struct {
	segments []model.Segment
}

// NewSegmentSource creates a source over segmentation results.
func NewSegmentSource(segments []model.Segment) *SegmentSource {
	return &SegmentSource{segments: segments}
}

// Name returns "segments".
func (s *SegmentSource) Name() string {
	return "segments"
}

// Read emits one row per sample, segment by segment.
func (s *SegmentSource) Read(ctx context.Context, out chan<- Row) error {
	for i, seg := range s.segments {
		for _, p := range seg.Samples {
			row := Row{
				Segment: i,
				MJD:     p.MJD,
				Time:    p.Time,
				X:       p.X,
				Y:       p.Y,
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- row:
			}
		}
	}
	return nil
}

// Rows returns the total number of rows this source will emit.
func (s *SegmentSource) Rows() int64 {
	var n int64
	for _, seg := range s.segments {
		n += int64(len(seg.Samples))
	}
	return n
}
