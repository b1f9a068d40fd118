package motion

// State is the detector's tracking state: either Idle or Tracking.
type State interface {
	isState()
}

// Idle means no candidate event is open
type Idle struct{}

// Tracking means a candidate event opened at Start. Confirmed is set once a
// sample inside the span reached the high threshold.
type Tracking struct {
	Start     float64
	Confirmed bool
}

func (Idle) isState()     {}
func (Tracking) isState() {}

// Step advances the state machine by one sample. It returns the next state
// and, when a confirmed event just closed, the emitted interval.
func Step(state State, s FrameSample, th Thresholds) (State, *Interval) {
	switch st := state.(type) {
	case Tracking:
		if s.Score < th.Low {
			if st.Confirmed {
				return Idle{}, &Interval{Start: st.Start, End: s.Timestamp}
			}
			return Idle{}, nil
		}
		if s.Score >= th.High {
			st.Confirmed = true
		}
		return st, nil
	default:
		if s.Score < th.Low {
			return Idle{}, nil
		}
		return Tracking{Start: s.Timestamp, Confirmed: s.Score >= th.High}, nil
	}
}

// Flush closes a confirmed event still open at end of stream. The end never
// precedes the start, even when sample timestamps run past a short probed
// duration.
func Flush(state State, videoDuration float64) *Interval {
	if st, ok := state.(Tracking); ok && st.Confirmed {
		return &Interval{Start: st.Start, End: max(videoDuration, st.Start)}
	}
	return nil
}

// Detector is the hysteresis range detector. Feed it samples in time order
// with Observe, then call Finish once.
type Detector struct {
	th        Thresholds
	state     State
	intervals []Interval
}

// NewDetector validates the thresholds and returns an idle detector
func NewDetector(th Thresholds) (*Detector, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	return &Detector{th: th, state: Idle{}}, nil
}

// Observe consumes one sample. It reports the interval closed by this
// sample, if any.
func (d *Detector) Observe(s FrameSample) (Interval, bool) {
	next, emitted := Step(d.state, s, d.th)
	d.state = next
	if emitted == nil {
		return Interval{}, false
	}
	d.intervals = append(d.intervals, *emitted)
	return *emitted, true
}

// Finish flushes a confirmed open event ending at videoDuration and returns
// every interval emitted so far. The detector is idle afterwards.
func (d *Detector) Finish(videoDuration float64) []Interval {
	if iv := Flush(d.state, videoDuration); iv != nil {
		d.intervals = append(d.intervals, *iv)
	}
	d.state = Idle{}
	out := d.intervals
	d.intervals = nil
	return out
}

// DetectIntervals runs a full scan over time-ordered samples
func DetectIntervals(samples []FrameSample, th Thresholds, videoDuration float64) ([]Interval, error) {
	d, err := NewDetector(th)
	if err != nil {
		return nil, err
	}
	for _, s := range samples {
		d.Observe(s)
	}
	return d.Finish(videoDuration), nil
}
