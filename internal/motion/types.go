package motion

import (
	"errors"
	"fmt"
)

// ErrInvalidThresholds is returned when a threshold pair cannot drive the detector
var ErrInvalidThresholds = errors.New("invalid motion thresholds")

// FrameSample is one scored, sampled frame
type FrameSample struct {
	Index     int     // index of the frame in the source (multiple of the stride)
	Timestamp float64 // seconds, Index / fps
	Score     float64 // pixel area of the largest foreground region
}

// SampleTime returns the timestamp of a sampled frame index at the given fps
func SampleTime(index int, fps float64) float64 {
	return float64(index) / fps
}

// Interval is a time range in seconds. Raw detector output and merged
// export ranges share this type.
type Interval struct {
	Start float64
	End   float64
}

// Duration returns End - Start
func (iv Interval) Duration() float64 {
	return iv.End - iv.Start
}

func (iv Interval) String() string {
	return fmt.Sprintf("%.1fs-%.1fs", iv.Start, iv.End)
}

// Thresholds holds the enter (Low) and confirm (High) levels in absolute
// pixel-area units for one video.
type Thresholds struct {
	Low  float64
	High float64
}

// NewThresholds converts frame-area fractions into absolute thresholds for
// a frame of the given pixel area.
func NewThresholds(frameArea int, lowFraction, highFraction float64) (Thresholds, error) {
	if frameArea <= 0 {
		return Thresholds{}, fmt.Errorf("%w: frame area must be positive, got %d", ErrInvalidThresholds, frameArea)
	}
	th := Thresholds{
		Low:  float64(frameArea) * lowFraction,
		High: float64(frameArea) * highFraction,
	}
	if err := th.Validate(); err != nil {
		return Thresholds{}, err
	}
	return th, nil
}

// Validate rejects negative levels and high < low
func (th Thresholds) Validate() error {
	if th.Low < 0 || th.High < 0 {
		return fmt.Errorf("%w: thresholds must be non-negative (low=%g, high=%g)", ErrInvalidThresholds, th.Low, th.High)
	}
	if th.High < th.Low {
		return fmt.Errorf("%w: high (%g) is below low (%g)", ErrInvalidThresholds, th.High, th.Low)
	}
	return nil
}
