package motion

import (
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_EndToEndSingleBurst(t *testing.T) {
	raw, err := DetectIntervals(samplesAt(1, 0, 0, 0.10, 0.30, 0.10, 0, 0), testThresholds(t), 7)
	require.NoError(t, err)

	got, err := Merge(raw, 7, MergeOptions{Gap: 1, BufferBefore: 1, BufferAfter: 1, MinDuration: 1})
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff([]Interval{{Start: 1, End: 6}}, got, approx))
}

func TestMerge_ConfirmedShortEventDropped(t *testing.T) {
	// two samples per second: the burst opens at 0.5 on a peak and closes at 1.0
	samples := samplesAt(0.5, 0, 0.30, 0, 0, 0, 0)
	raw, err := DetectIntervals(samples, testThresholds(t), 3)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff([]Interval{{Start: 0.5, End: 1}}, raw, approx))
	assert.GreaterOrEqual(t, samples[1].Score, testThresholds(t).High)

	got, err := Merge(raw, 3, MergeOptions{Gap: 1, BufferBefore: 1, BufferAfter: 1, MinDuration: 1})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name     string
		raw      []Interval
		duration float64
		opts     MergeOptions
		want     []Interval
	}{
		{
			name:     "empty input",
			duration: 10,
			opts:     MergeOptions{Gap: 5, MinDuration: 1},
			want:     nil,
		},
		{
			name:     "close bursts merge",
			raw:      []Interval{{2, 4}, {6, 8}},
			duration: 10,
			opts:     MergeOptions{Gap: 5},
			want:     []Interval{{2, 8}},
		},
		{
			name:     "gap exactly merge gap merges",
			raw:      []Interval{{2, 4}, {6, 8}},
			duration: 10,
			opts:     MergeOptions{Gap: 2},
			want:     []Interval{{2, 8}},
		},
		{
			name:     "distant bursts stay apart",
			raw:      []Interval{{2, 4}, {6, 8}},
			duration: 10,
			opts:     MergeOptions{Gap: 1.5},
			want:     []Interval{{2, 4}, {6, 8}},
		},
		{
			name:     "unsorted input is sorted",
			raw:      []Interval{{20, 25}, {2, 4}, {10, 12}},
			duration: 30,
			opts:     MergeOptions{Gap: 1},
			want:     []Interval{{2, 4}, {10, 12}, {20, 25}},
		},
		{
			name:     "nested interval does not regress end",
			raw:      []Interval{{1, 10}, {2, 3}, {4, 5}},
			duration: 20,
			opts:     MergeOptions{Gap: 0},
			want:     []Interval{{1, 10}},
		},
		{
			name:     "short event dropped even though buffered span is long",
			raw:      []Interval{{3, 3.5}},
			duration: 10,
			opts:     MergeOptions{BufferBefore: 2, BufferAfter: 2, MinDuration: 1},
			want:     nil,
		},
		{
			name:     "start buffer clamps to zero",
			raw:      []Interval{{0, 5}},
			duration: 10,
			opts:     MergeOptions{BufferBefore: 2, BufferAfter: 1},
			want:     []Interval{{0, 6}},
		},
		{
			name:     "end buffer clamps to duration",
			raw:      []Interval{{8, 9.9}},
			duration: 10,
			opts:     MergeOptions{BufferAfter: 2},
			want:     []Interval{{8, 10}},
		},
		{
			name:     "end at duration stays at duration",
			raw:      []Interval{{4, 10}},
			duration: 10,
			opts:     MergeOptions{BufferBefore: 1, BufferAfter: 3},
			want:     []Interval{{3, 10}},
		},
		{
			name:     "gap is measured before buffering",
			raw:      []Interval{{2, 4}, {9, 11}},
			duration: 20,
			opts:     MergeOptions{Gap: 2, BufferBefore: 2, BufferAfter: 2},
			want:     []Interval{{0, 6}, {7, 13}},
		},
		{
			name:     "overlapping buffers are joined",
			raw:      []Interval{{2, 4}, {7, 9}},
			duration: 20,
			opts:     MergeOptions{Gap: 2, BufferBefore: 2, BufferAfter: 2},
			want:     []Interval{{0, 11}},
		},
		{
			name:     "touching buffers stay apart",
			raw:      []Interval{{2, 4}, {8, 10}},
			duration: 20,
			opts:     MergeOptions{Gap: 2, BufferBefore: 2, BufferAfter: 2},
			want:     []Interval{{0, 6}, {6, 12}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Merge(tt.raw, tt.duration, tt.opts)
			require.NoError(t, err)
			assert.Empty(t, cmp.Diff(tt.want, got, approx))
		})
	}
}

func TestMerge_MinDurationBoundary(t *testing.T) {
	opts := MergeOptions{MinDuration: 2}

	got, err := Merge([]Interval{{1, 3}}, 10, opts)
	require.NoError(t, err)
	assert.Equal(t, []Interval{{1, 3}}, got, "exactly min duration is kept")

	got, err = Merge([]Interval{{1, 3 - 1e-9}}, 10, opts)
	require.NoError(t, err)
	assert.Empty(t, got, "just under min duration is dropped")
}

func TestMerge_DoesNotModifyInput(t *testing.T) {
	raw := []Interval{{6, 8}, {2, 4}}
	_, err := Merge(raw, 10, MergeOptions{Gap: 5})
	require.NoError(t, err)
	assert.Equal(t, []Interval{{6, 8}, {2, 4}}, raw)
}

func TestMerge_InvalidOptions(t *testing.T) {
	for _, opts := range []MergeOptions{
		{Gap: -1},
		{BufferBefore: -1},
		{BufferAfter: -0.5},
		{MinDuration: -2},
	} {
		_, err := Merge([]Interval{{1, 2}}, 10, opts)
		assert.ErrorIs(t, err, ErrInvalidMergeOptions, "%+v", opts)
	}
}

func TestMerge_Properties(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 5))

	for round := range 500 {
		duration := 30 + r.Float64()*300
		raw := make([]Interval, r.IntN(30))
		for i := range raw {
			start := r.Float64() * duration
			raw[i] = Interval{Start: start, End: min(duration, start+r.Float64()*20)}
		}
		opts := MergeOptions{
			Gap:          r.Float64() * 6,
			BufferBefore: r.Float64() * 3,
			BufferAfter:  r.Float64() * 3,
			MinDuration:  r.Float64() * 4,
		}

		got, err := Merge(raw, duration, opts)
		require.NoError(t, err)

		for i, iv := range got {
			require.GreaterOrEqual(t, iv.Start, 0.0, "round %d", round)
			require.LessOrEqual(t, iv.End, duration, "round %d", round)
			require.Less(t, iv.Start, iv.End, "round %d", round)
			if i > 0 {
				require.LessOrEqual(t, got[i-1].Start, iv.Start, "round %d: not sorted", round)
				require.LessOrEqual(t, got[i-1].End, iv.Start, "round %d: %v overlaps %v", round, got[i-1], iv)
			}
		}

		// coalesced output is a fixed point for the same gap
		once := Coalesce(raw, opts.Gap)
		assert.Equal(t, once, Coalesce(once, opts.Gap), "round %d", round)

		// re-merging buffered output whose gaps all exceed the merge gap keeps the count
		separated := true
		for i := 1; i < len(got); i++ {
			if got[i].Start-got[i-1].End <= opts.Gap {
				separated = false
				break
			}
		}
		if separated {
			again, err := Merge(got, duration, MergeOptions{Gap: opts.Gap})
			require.NoError(t, err)
			assert.Len(t, again, len(got), "round %d", round)
		}
	}
}

func TestSummarize(t *testing.T) {
	samples := make([]FrameSample, 100)
	for i := range samples {
		samples[i] = FrameSample{Index: i, Timestamp: float64(i), Score: float64(i)}
	}

	sum := Summarize(samples, Thresholds{Low: 50, High: 90})
	assert.Equal(t, 100, sum.Samples)
	assert.InDelta(t, 99, sum.Max, 1e-9)
	assert.InDelta(t, 49.5, sum.Mean, 1e-9)
	assert.InDelta(t, 29.011491975882016, sum.StdDev, 1e-9)
	assert.InDelta(t, 94, sum.P95, 1e-9)
	assert.Equal(t, 50, sum.AboveLow)
	assert.Equal(t, 10, sum.AboveHigh)

	assert.Equal(t, Summary{}, Summarize(nil, Thresholds{}))

	one := Summarize(samples[:1], Thresholds{Low: 50, High: 90})
	assert.Zero(t, one.StdDev)
}
