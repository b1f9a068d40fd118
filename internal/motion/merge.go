package motion

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidMergeOptions is returned for negative gap, buffer or duration values
var ErrInvalidMergeOptions = errors.New("invalid merge options")

// MergeOptions configures the interval merger (all values in seconds)
type MergeOptions struct {
	Gap          float64 // intervals whose gap is <= Gap are merged
	BufferBefore float64
	BufferAfter  float64
	MinDuration  float64 // applied to the unbuffered merged interval
}

// Validate rejects negative values
func (o MergeOptions) Validate() error {
	switch {
	case o.Gap < 0:
		return fmt.Errorf("%w: merge gap %g", ErrInvalidMergeOptions, o.Gap)
	case o.BufferBefore < 0 || o.BufferAfter < 0:
		return fmt.Errorf("%w: buffers %g/%g", ErrInvalidMergeOptions, o.BufferBefore, o.BufferAfter)
	case o.MinDuration < 0:
		return fmt.Errorf("%w: min duration %g", ErrInvalidMergeOptions, o.MinDuration)
	}
	return nil
}

// Coalesce sorts intervals by start and folds every interval whose start is
// within gap of the running end into it. The input slice is not modified.
func Coalesce(raw []Interval, gap float64) []Interval {
	if len(raw) == 0 {
		return nil
	}

	sorted := slices.Clone(raw)
	slices.SortStableFunc(sorted, func(a, b Interval) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})

	merged := make([]Interval, 0, len(sorted))
	cur := sorted[0]
	for _, next := range sorted[1:] {
		if next.Start-cur.End <= gap {
			// nested or overlapping intervals must not pull the end back
			cur.End = max(cur.End, next.End)
			continue
		}
		merged = append(merged, cur)
		cur = next
	}
	return append(merged, cur)
}

// Merge turns raw intervals into final export ranges: coalesce, drop
// intervals shorter than MinDuration, then pad with the buffers clamped to
// [0, videoDuration]. Padded ranges that overlap are joined, so the result
// is sorted and disjoint (touching ranges are kept apart).
func Merge(raw []Interval, videoDuration float64, opts MergeOptions) ([]Interval, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var out []Interval
	for _, iv := range Coalesce(raw, opts.Gap) {
		if iv.Duration() < opts.MinDuration {
			continue
		}
		padded := Interval{
			Start: max(0, iv.Start-opts.BufferBefore),
			End:   min(videoDuration, iv.End+opts.BufferAfter),
		}
		// only possible when samples were timestamped past the probed duration
		if padded.End <= padded.Start {
			continue
		}
		// buffers may push neighbours into each other; the output stays disjoint
		if n := len(out); n > 0 && padded.Start < out[n-1].End {
			out[n-1].End = max(out[n-1].End, padded.End)
			continue
		}
		out = append(out, padded)
	}
	return out, nil
}
