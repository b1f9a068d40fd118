package motion

import (
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes the score distribution of one scan. It is used for
// threshold tuning output only.
type Summary struct {
	Samples   int
	Max       float64
	Mean      float64
	StdDev    float64 // sample standard deviation, 0 below two samples
	P95       float64
	AboveLow  int
	AboveHigh int
}

// Summarize computes score statistics for the samples against th
func Summarize(samples []FrameSample, th Thresholds) Summary {
	sum := Summary{Samples: len(samples)}
	if len(samples) == 0 {
		return sum
	}

	scores := make([]float64, len(samples))
	for i, s := range samples {
		scores[i] = s.Score
		if s.Score >= th.Low {
			sum.AboveLow++
		}
		if s.Score >= th.High {
			sum.AboveHigh++
		}
	}

	sum.Max = floats.Max(scores)
	sum.Mean = stat.Mean(scores, nil)
	if len(scores) > 1 {
		sum.StdDev = stat.StdDev(scores, nil)
	}

	slices.Sort(scores)
	sum.P95 = stat.Quantile(0.95, stat.Empirical, scores, nil)

	return sum
}
