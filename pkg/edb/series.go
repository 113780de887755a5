package edb

import (
	"time"

	"github.com/mastflow/mastflow/internal/model"
	"github.com/mastflow/mastflow/pkg/errors"
)

// Series is the decoded telemetry for one mnemonic, ordered by time as
// delivered by the archive.
type Series struct {
	// Mnemonic is the engineering-database identifier, e.g. "SA_ZHGAUPST".
	Mnemonic string

	// DataType is the SQL type reported by the archive ("real", "int", ...).
	// Empty if the file carried no type column.
	DataType string

	// Samples are the decoded readings.
	Samples []model.EngSample

	// Skipped counts rows dropped during a non-strict decode.
	Skipped int64
}

// Len returns the number of samples.
func (s *Series) Len() int { return len(s.Samples) }

// SpanMJD returns the MJD keys of the first and last samples.
// Both are 0 for an empty series.
func (s *Series) SpanMJD() (start, end float64) {
	if len(s.Samples) == 0 {
		return 0, 0
	}
	return s.Samples[0].MJD, s.Samples[len(s.Samples)-1].MJD
}

// TimeRange returns the wall-clock times of the first and last samples.
func (s *Series) TimeRange() (start, end time.Time) {
	if len(s.Samples) == 0 {
		return time.Time{}, time.Time{}
	}
	return time.Unix(0, s.Samples[0].Time).UTC(),
		time.Unix(0, s.Samples[len(s.Samples)-1].Time).UTC()
}

// Values returns the readings as a bare slice, one per sample.
func (s *Series) Values() []float64 {
	out := make([]float64, len(s.Samples))
	for i, sample := range s.Samples {
		out[i] = sample.Value
	}
	return out
}

// AlignedWith counts positions where the two series carry different
// MJD keys. A high count means the archive sampled the mnemonics on
// different clocks and most rows will be skipped by the segmenter.
func (s *Series) AlignedWith(other *Series) (mismatches int, err error) {
	if s.Len() != other.Len() {
		return 0, errors.SeriesLengthMismatch(s.Len(), other.Len())
	}
	for i := range s.Samples {
		if s.Samples[i].MJD != other.Samples[i].MJD {
			mismatches++
		}
	}
	return mismatches, nil
}
