package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/keagan/motionclips/internal/clips"
	"github.com/keagan/motionclips/internal/ffmpeg"
	"github.com/keagan/motionclips/internal/foreground"
	"github.com/keagan/motionclips/internal/motion"
	"github.com/keagan/motionclips/internal/recording"
)

// ErrSourceUnreadable marks a video that could not be probed or decoded.
// Such a video is skipped with zero clips; the run goes on.
var ErrSourceUnreadable = errors.New("source unreadable")

// Prober reads video metadata
type Prober interface {
	ProbeVideo(ctx context.Context, path string) (*ffmpeg.VideoInfo, error)
}

// Exporter writes one lossless sub-clip, all or nothing
type Exporter interface {
	ExtractClip(ctx context.Context, input string, opts ffmpeg.ClipOptions) error
}

// Ledger remembers processed recordings. settings is the detection
// fingerprint the recording was processed with.
type Ledger interface {
	Seen(ctx context.Context, rec recording.Recording, settings string) (bool, error)
	Record(ctx context.Context, rec recording.Recording, settings string, duration float64, ranges []motion.Interval, clips, failures int) error
}

// Deps are the pipeline's collaborators. Ledger may be nil.
type Deps struct {
	Prober   Prober
	Exporter Exporter
	Opener   foreground.Opener
	Ledger   Ledger
}

// Analysis is the motion analysis of one video
type Analysis struct {
	Video      string
	Duration   float64 // seconds
	FPS        float64 // effective rate after the fallback
	FrameArea  int
	Thresholds motion.Thresholds
	Samples    int
	Raw        []motion.Interval
	Ranges     []motion.Interval // final export ranges
	Summary    motion.Summary
}

// SkipReason tells why a video produced no work
type SkipReason string

const (
	SkipNone       SkipReason = ""
	SkipUnreadable SkipReason = "unreadable"
	SkipUnchanged  SkipReason = "unchanged"
)

// Result is the outcome of processing one video
type Result struct {
	Video    string
	Analysis *Analysis
	Clips    []*clips.Clip
	Failures int // ranges that were not exported
	Skipped  SkipReason
	Err      error // cause of an unreadable skip
	Elapsed  time.Duration
}

// RunOptions configures a batch run
type RunOptions struct {
	Force  bool // ignore the ledger
	DryRun bool // analyse and name clips without exporting
}

// Summary totals a batch run
type Summary struct {
	Videos            int
	Processed         int
	SkippedUnreadable int
	SkippedUnchanged  int
	Clips             int
	Failures          int
	Results           []*Result
	Elapsed           time.Duration
}

func (s *Summary) add(r *Result) {
	s.Results = append(s.Results, r)
	switch r.Skipped {
	case SkipUnreadable:
		s.SkippedUnreadable++
	case SkipUnchanged:
		s.SkippedUnchanged++
	default:
		s.Processed++
	}
	s.Clips += len(r.Clips)
	s.Failures += r.Failures
}
