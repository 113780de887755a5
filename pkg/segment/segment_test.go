package segment

import (
	"testing"

	"github.com/mastflow/mastflow/internal/model"
	"github.com/mastflow/mastflow/pkg/errors"
)

// series builds an aligned mnemonic series with one sample per value,
// keyed MJD = 59000 + i.
func series(values ...float64) []model.EngSample {
	s := make([]model.EngSample, len(values))
	for i, v := range values {
		s[i] = model.EngSample{
			MJD:   59000 + float64(i),
			Time:  int64(i) * 1e9,
			Value: v,
		}
	}
	return s
}

func ranges(segments []model.Segment) [][2]int {
	r := make([][2]int, len(segments))
	for i, seg := range segments {
		r[i] = [2]int{seg.Start, seg.End}
	}
	return r
}

func assertRanges(t *testing.T, segments []model.Segment, want [][2]int) {
	t.Helper()
	got := ranges(segments)
	if len(got) != len(want) {
		t.Fatalf("Expected %d segments %v, got %d: %v", len(want), want, len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Segment %d: expected [%d,%d), got [%d,%d)",
				i, want[i][0], want[i][1], got[i][0], got[i][1])
		}
	}
}

func TestSplitLongHoldTrace(t *testing.T) {
	// Two identical channels: two moving points, a long hold, one
	// final move. With maxFlat=5 the hold closes the opening segment
	// at the start of the flat run, and the final point is too short
	// to form a segment of its own.
	x := series(0, 0, 1, 2, 2, 2, 2, 2, 2, 3)
	y := series(0, 0, 1, 2, 2, 2, 2, 2, 2, 3)

	segments, err := Split(x, y, 5)
	if err != nil {
		t.Fatalf("Split error: %v", err)
	}
	assertRanges(t, segments, [][2]int{{0, 2}})
}

func TestSplitAllFlat(t *testing.T) {
	x := series(5, 5, 5, 5, 5)
	y := series(5, 5, 5, 5, 5)

	segments, err := Split(x, y, 2)
	if err != nil {
		t.Fatalf("Split error: %v", err)
	}
	if segments == nil {
		t.Fatal("Expected non-nil empty result")
	}
	if len(segments) != 0 {
		t.Errorf("Expected no segments for an all-flat series, got %v", ranges(segments))
	}
}

func TestSplitAllMoving(t *testing.T) {
	x := series(0, 1, 2, 3, 4)
	y := series(0, 1, 2, 3, 4)

	segments, err := Split(x, y, 2)
	if err != nil {
		t.Fatalf("Split error: %v", err)
	}
	assertRanges(t, segments, [][2]int{{0, 5}})
}

func TestSplitShortInput(t *testing.T) {
	for _, n := range []int{0, 1} {
		x := series(make([]float64, n)...)
		y := series(make([]float64, n)...)

		segments, err := Split(x, y, 3)
		if err != nil {
			t.Fatalf("Split error for length %d: %v", n, err)
		}
		if segments == nil {
			t.Fatalf("Expected non-nil result for length %d", n)
		}
		if len(segments) != 0 {
			t.Errorf("Expected no segments for length %d, got %v", n, ranges(segments))
		}
	}
}

func TestSplitExactThresholdCloses(t *testing.T) {
	// Three moving steps then exactly three flat steps.
	x := series(0, 1, 2, 3, 3, 3, 3)
	y := series(0, 1, 2, 3, 3, 3, 3)

	segments, err := Split(x, y, 3)
	if err != nil {
		t.Fatalf("Split error: %v", err)
	}
	// Flat run hits the threshold at n=6; the segment closes at 6-3=3.
	assertRanges(t, segments, [][2]int{{0, 3}})
}

func TestSplitBelowThresholdKeepsRecording(t *testing.T) {
	// Only two trailing flat steps with maxFlat=3: the run never
	// closes, so the whole series is one segment.
	x := series(0, 1, 2, 3, 3, 3)
	y := series(0, 1, 2, 3, 3, 3)

	segments, err := Split(x, y, 3)
	if err != nil {
		t.Fatalf("Split error: %v", err)
	}
	assertRanges(t, segments, [][2]int{{0, 6}})
}

func TestSplitFlatCountCarriesAcrossMovement(t *testing.T) {
	// Flat steps at n=1, n=3, n=5 with movement between them. The
	// counter accumulates across the movements, so the third flat
	// step reaches maxFlat=3 and closes the segment at 5-3=2.
	x := series(0, 0, 1, 1, 2, 2, 3)
	y := series(0, 0, 1, 1, 2, 2, 3)

	segments, err := Split(x, y, 3)
	if err != nil {
		t.Fatalf("Split error: %v", err)
	}
	assertRanges(t, segments, [][2]int{{0, 2}})
}

func TestSplitMultipleSegments(t *testing.T) {
	// Movement, a hold long enough to close, then movement again.
	x := series(0, 1, 2, 2, 2, 2, 3, 4, 5)
	y := series(0, 1, 2, 2, 2, 2, 3, 4, 5)

	segments, err := Split(x, y, 2)
	if err != nil {
		t.Fatalf("Split error: %v", err)
	}
	assertRanges(t, segments, [][2]int{{0, 2}, {6, 9}})
}

func TestSplitSegmentsOrderedAndDisjoint(t *testing.T) {
	x := series(0, 1, 2, 2, 2, 2, 3, 4, 4, 4, 4, 5, 6, 7)
	y := series(0, 1, 2, 2, 2, 2, 3, 4, 4, 4, 4, 5, 6, 7)

	segments, err := Split(x, y, 2)
	if err != nil {
		t.Fatalf("Split error: %v", err)
	}
	if len(segments) < 2 {
		t.Fatalf("Expected multiple segments, got %v", ranges(segments))
	}
	for i, seg := range segments {
		if seg.Start >= seg.End {
			t.Errorf("Segment %d has empty or inverted range [%d,%d)", i, seg.Start, seg.End)
		}
		if i > 0 && seg.Start < segments[i-1].End {
			t.Errorf("Segment %d overlaps previous: [%d,%d) after [%d,%d)",
				i, seg.Start, seg.End, segments[i-1].Start, segments[i-1].End)
		}
		if seg.Len() != len(seg.Samples) {
			t.Errorf("Segment %d: Len()=%d but %d samples", i, seg.Len(), len(seg.Samples))
		}
	}
}

func TestSplitSingleChannelMovementCounts(t *testing.T) {
	// X holds still while Y moves: every step is movement, so no
	// flat run ever forms.
	x := series(7, 7, 7, 7)
	y := series(0, 1, 2, 3)

	segments, err := Split(x, y, 1)
	if err != nil {
		t.Fatalf("Split error: %v", err)
	}
	assertRanges(t, segments, [][2]int{{0, 4}})
}

func TestSplitSuppressedShortSegmentStillStopsRecording(t *testing.T) {
	// The flat threshold is reached so early that the closing range
	// [0,0) is too short to emit, but recording still stops; the
	// trailing flat samples produce nothing.
	x := series(5, 5, 5, 5, 5)
	y := series(5, 5, 5, 5, 5)

	segments, err := Split(x, y, 1)
	if err != nil {
		t.Fatalf("Split error: %v", err)
	}
	if len(segments) != 0 {
		t.Errorf("Expected no segments, got %v", ranges(segments))
	}
}

func TestSplitMisalignedRowSkipsState(t *testing.T) {
	x := series(0, 1, 2, 2, 2, 3)
	y := series(0, 1, 2, 2, 2, 3)
	// Break alignment at n=3: the flat step there no longer counts,
	// so only one flat step (n=4) accumulates and maxFlat=2 is never
	// reached.
	y[3].MJD += 0.5

	segments, err := Split(x, y, 2)
	if err != nil {
		t.Fatalf("Split error: %v", err)
	}
	assertRanges(t, segments, [][2]int{{0, 6}})

	// The misaligned row is still a member of the covering segment.
	if len(segments[0].Samples) != 6 {
		t.Errorf("Expected 6 samples including the misaligned row, got %d",
			len(segments[0].Samples))
	}
	if segments[0].Samples[3].Aligned() {
		t.Error("Expected sample 3 to be marked misaligned")
	}
}

func TestSplitSnapshotsAreCopies(t *testing.T) {
	x := series(0, 1, 2, 3)
	y := series(0, 1, 2, 3)

	segments, err := Split(x, y, 2)
	if err != nil {
		t.Fatalf("Split error: %v", err)
	}
	if len(segments) != 1 {
		t.Fatalf("Expected one segment, got %v", ranges(segments))
	}

	before := segments[0].Samples[0].X
	x[0].Value = 999
	if segments[0].Samples[0].X != before {
		t.Error("Expected segment samples to be independent of the input")
	}
}

func TestSplitLengthMismatch(t *testing.T) {
	x := series(0, 1, 2)
	y := series(0, 1)

	_, err := Split(x, y, 2)
	if err == nil {
		t.Fatal("Expected error for mismatched lengths")
	}
	if !errors.IsCode(err, errors.CodeSeriesMismatch) {
		t.Errorf("Expected code %s, got %s", errors.CodeSeriesMismatch, errors.GetCode(err))
	}
}

func TestSplitInvalidMaxFlat(t *testing.T) {
	x := series(0, 1, 2)
	y := series(0, 1, 2)

	for _, maxFlat := range []int{0, -1} {
		_, err := Split(x, y, maxFlat)
		if err == nil {
			t.Fatalf("Expected error for maxFlat=%d", maxFlat)
		}
		if !errors.IsCode(err, errors.CodeInvalidMaxFlat) {
			t.Errorf("Expected code %s, got %s", errors.CodeInvalidMaxFlat, errors.GetCode(err))
		}
	}
}

func TestZipPairsChannels(t *testing.T) {
	x := series(10, 20)
	y := series(30, 40)
	y[1].MJD = 77777 // force a key disagreement

	pairs, err := Zip(x, y)
	if err != nil {
		t.Fatalf("Zip error: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("Expected 2 pairs, got %d", len(pairs))
	}

	p := pairs[0]
	if p.MJD != x[0].MJD || p.YMJD != y[0].MJD || p.Time != x[0].Time {
		t.Errorf("Pair 0 keys wrong: %+v", p)
	}
	if p.X != 10 || p.Y != 30 {
		t.Errorf("Pair 0 values wrong: X=%f Y=%f", p.X, p.Y)
	}
	if !p.Aligned() {
		t.Error("Expected pair 0 to be aligned")
	}
	if pairs[1].Aligned() {
		t.Error("Expected pair 1 to be misaligned")
	}
}

func TestZipLengthMismatch(t *testing.T) {
	_, err := Zip(series(1), series(1, 2))
	if !errors.IsCode(err, errors.CodeSeriesMismatch) {
		t.Fatalf("Expected series mismatch error, got %v", err)
	}
}

func TestSplitPairedDirect(t *testing.T) {
	pairs, err := Zip(series(0, 1, 2, 2, 2), series(0, 1, 2, 2, 2))
	if err != nil {
		t.Fatalf("Zip error: %v", err)
	}

	segments, err := SplitPaired(pairs, 2)
	if err != nil {
		t.Fatalf("SplitPaired error: %v", err)
	}
	assertRanges(t, segments, [][2]int{{0, 2}})
}

func TestSegmentMJDBounds(t *testing.T) {
	x := series(0, 1, 2, 3)
	y := series(0, 1, 2, 3)

	segments, err := Split(x, y, 2)
	if err != nil {
		t.Fatalf("Split error: %v", err)
	}
	seg := segments[0]
	if seg.StartMJD() != 59000 {
		t.Errorf("Expected StartMJD 59000, got %f", seg.StartMJD())
	}
	if seg.EndMJD() != 59003 {
		t.Errorf("Expected EndMJD 59003, got %f", seg.EndMJD())
	}
}

func BenchmarkSplitPaired(b *testing.B) {
	values := make([]float64, 10000)
	for i := range values {
		if i%7 == 0 {
			values[i] = float64(i)
		} else {
			values[i] = values[i-1]
		}
	}
	pairs, err := Zip(series(values...), series(values...))
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := SplitPaired(pairs, 5); err != nil {
			b.Fatal(err)
		}
	}
}
