// Package segment partitions paired telemetry series into contiguous
// sub-series separated by flat stretches.
//
// JWST engineering mnemonics are sampled continuously, including long
// periods where the spacecraft hardware holds a constant commanded
// position. A scan with both channels unchanged for maxFlat consecutive
// steps marks the end of a moving stretch; the moving stretches are
// what downstream analysis wants.
package segment

import (
	"github.com/mastflow/mastflow/internal/model"
	"github.com/mastflow/mastflow/pkg/errors"
)

// Zip pairs two equal-length mnemonic series sampled on the same MJD
// grid. The X series supplies the MJD and timestamp for each pair.
func Zip(x, y []model.EngSample) ([]model.PairedSample, error) {
	if len(x) != len(y) {
		return nil, errors.SeriesLengthMismatch(len(x), len(y))
	}

	pairs := make([]model.PairedSample, len(x))
	for i := range x {
		pairs[i] = model.PairedSample{
			MJD:  x[i].MJD,
			YMJD: y[i].MJD,
			Time: x[i].Time,
			X:    x[i].Value,
			Y:    y[i].Value,
		}
	}
	return pairs, nil
}

// Split zips two equal-length series and partitions the result into
// segments of movement. See SplitPaired for the scan semantics.
func Split(x, y []model.EngSample, maxFlat int) ([]model.Segment, error) {
	pairs, err := Zip(x, y)
	if err != nil {
		return nil, err
	}
	return SplitPaired(pairs, maxFlat)
}

// SplitPaired scans a paired series once and returns the segments of
// movement, in increasing index order. A segment closes when maxFlat
// consecutive flat steps have accumulated since it began recording;
// the closing boundary excludes those trailing flat steps. Runs of
// fewer than two points are discarded.
//
// Indices where the two channels carry different MJD keys contribute
// no state change to the scan but remain inside whichever segment
// range covers them.
//
// Each returned segment holds a copied snapshot of its samples, so
// callers may mutate the input afterwards.
func SplitPaired(pairs []model.PairedSample, maxFlat int) ([]model.Segment, error) {
	if maxFlat < 1 {
		return nil, errors.InvalidMaxFlat(maxFlat)
	}

	segments := []model.Segment{}
	if len(pairs) < 2 {
		return segments, nil
	}

	recording := true
	flatCount := 0
	segStart := 0

	for n := 1; n < len(pairs); n++ {
		if !pairs[n].Aligned() {
			// Misaligned sample: the channels disagree on the
			// time key, so its diffs are not trustworthy.
			continue
		}

		dx := pairs[n].X - pairs[n-1].X
		dy := pairs[n].Y - pairs[n-1].Y

		if dx == 0 && dy == 0 {
			flatCount++
			if recording && flatCount >= maxFlat {
				// The segment ends where the flat run began.
				end := n - maxFlat
				if end-segStart > 1 {
					segments = append(segments, snapshot(pairs, segStart, end))
				}
				recording = false
			}
			continue
		}

		// Movement. While recording, the flat counter carries over
		// unchanged: maxFlat flat steps accumulated anywhere inside
		// the segment close it, not only consecutive trailing ones.
		if !recording {
			flatCount = 0
			segStart = n
			recording = true
		}
	}

	if recording && len(pairs)-segStart > 1 {
		segments = append(segments, snapshot(pairs, segStart, len(pairs)))
	}

	return segments, nil
}

// snapshot builds a segment over the half-open range [start, end) with
// its own copy of the covered samples.
func snapshot(pairs []model.PairedSample, start, end int) model.Segment {
	samples := make([]model.PairedSample, end-start)
	copy(samples, pairs[start:end])
	return model.Segment{
		Start:   start,
		End:     end,
		Samples: samples,
	}
}
