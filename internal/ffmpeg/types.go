package ffmpeg

import "time"

// VideoInfo contains metadata about a video file
type VideoInfo struct {
	FilePath   string
	Duration   time.Duration
	Width      int
	Height     int
	FPS        float64 // 0 when the container does not report a usable rate
	FrameCount int64
	Bitrate    int64
	VideoCodec string
	HasAudio   bool
	AudioCodec string
}

// Seconds returns the duration in seconds
func (v *VideoInfo) Seconds() float64 {
	return v.Duration.Seconds()
}

// FrameRate returns the reported fps, or fallback when it is missing or
// non-positive
func (v *VideoInfo) FrameRate(fallback float64) float64 {
	if v.FPS > 0 {
		return v.FPS
	}
	return fallback
}

// Progress represents ffmpeg progress data
type Progress struct {
	Frame   int
	FPS     float64
	Bitrate string
	Time    string
	Speed   string
}

// RunOptions configures ffmpeg execution
type RunOptions struct {
	Args            []string
	ProgressHandler func(*Progress)
	LogHandler      func(line string)
}

// ProgressFunc is a callback for progress updates during ffmpeg operations.
// Called periodically with progress information as the operation executes.
type ProgressFunc func(*Progress)
