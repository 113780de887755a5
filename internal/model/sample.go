// Package model defines core data structures for mastflow.
package model

// EngSample is a single engineering-telemetry reading from the JWST
// Engineering Database. The MJD column is the alignment key used to pair
// readings across mnemonics; Time is the same instant as nanoseconds
// since the Unix epoch for downstream consumers that want wall-clock
// values.
type EngSample struct {
	// MJD is the Modified Julian Date of the reading.
	MJD float64

	// Time in nanoseconds since Unix epoch.
	Time int64

	// Value is the engineering-unit reading.
	Value float64
}

// PairedSample combines one reading from each of two mnemonics taken at
// the same index position. MJD and Time come from the x-channel row;
// YMJD is the y-channel row's own key, kept so a scan can detect rows
// where the two channels fell out of alignment.
type PairedSample struct {
	MJD  float64
	YMJD float64
	Time int64
	X    float64
	Y    float64
}

// Aligned reports whether both channels carry the same MJD key.
func (p PairedSample) Aligned() bool { return p.MJD == p.YMJD }

// Segment is a contiguous half-open index range [Start, End) over a
// paired sample stream, bounded by flat runs. Samples is an immutable
// snapshot of the combined records in that range; a Segment is never
// mutated after creation.
type Segment struct {
	Start int
	End   int

	Samples []PairedSample
}

// Len returns the number of samples in the segment.
func (s Segment) Len() int { return s.End - s.Start }

// StartMJD returns the MJD of the first sample, or 0 for an empty segment.
func (s Segment) StartMJD() float64 {
	if len(s.Samples) == 0 {
		return 0
	}
	return s.Samples[0].MJD
}

// EndMJD returns the MJD of the last sample, or 0 for an empty segment.
func (s Segment) EndMJD() float64 {
	if len(s.Samples) == 0 {
		return 0
	}
	return s.Samples[len(s.Samples)-1].MJD
}

// Observation is one row of a CAOM observation query against the MAST
// portal. Only the columns the CLI surfaces are kept; everything else the
// service returns is dropped at decode time.
type Observation struct {
	ObsID           string
	ProductGroupID  string // numeric obsid key, input to product queries
	Collection      string
	Instrument      string
	Filters         string
	TargetName      string
	RA              float64
	Dec             float64
	TMin            float64 // MJD
	TMax            float64 // MJD
	ExposureTime    float64 // seconds
	DataproductType string
	CalibLevel      int
}

// Product is one data-product row for an observation.
type Product struct {
	ObsID       string
	Type        string // e.g. "SCIENCE", "PREVIEW", "AUXILIARY"
	Subgroup    string // e.g. "UNCAL", "CAL", "I2D"
	Description string
	URI         string // mast: data URI, input to the download endpoint
	Size        int64  // bytes
}

// SegmentRow is one flattened output row of a segmentation run: a
// paired sample tagged with the index of the segment that owns it.
type SegmentRow struct {
	Segment int
	MJD     float64
	Time    int64
	X       float64
	Y       float64
}

// SampleBatch holds a slice of paired samples for batch processing.
type SampleBatch struct {
	Samples []PairedSample
	Size    int
}

// Reset clears the batch for reuse.
func (b *SampleBatch) Reset() {
	b.Size = 0
	b.Samples = b.Samples[:0]
}
