package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/keagan/motionclips/pkg/util"
)

// ClipOptions defines clip extraction parameters
type ClipOptions struct {
	Start        float64 // seconds
	End          float64 // seconds
	Output       string
	ProgressFunc ProgressFunc
}

// ExtractClip copies the [Start, End) range of input into Output without
// re-encoding. The clip is written to a temporary file next to Output and
// renamed into place only after ffmpeg succeeds, so Output either does not
// exist or is complete.
func (e *Executor) ExtractClip(ctx context.Context, input string, opts ClipOptions) error {
	duration := opts.End - opts.Start
	if duration <= 0 {
		return fmt.Errorf("invalid clip duration: end must be after start")
	}
	if opts.Start < 0 {
		return fmt.Errorf("invalid clip start: %g", opts.Start)
	}
	if opts.Output == "" {
		return fmt.Errorf("output path is required")
	}

	e.logger.Debug().
		Str("input", input).
		Str("output", opts.Output).
		Float64("start", opts.Start).
		Float64("duration", duration).
		Msg("extracting clip")

	partial := partialPath(opts.Output)
	runOpts := RunOptions{
		Args:            clipArgs(input, partial, opts.Start, duration),
		ProgressHandler: opts.ProgressFunc,
		LogHandler: func(line string) {
			e.logger.Trace().Str("ffmpeg", line).Msg("clip extraction")
		},
	}

	if err := e.Run(ctx, runOpts); err != nil {
		util.CleanupFiles(partial)
		return fmt.Errorf("clip extraction failed: %w", err)
	}

	if err := os.Rename(partial, opts.Output); err != nil {
		util.CleanupFiles(partial)
		return fmt.Errorf("failed to move clip into place: %w", err)
	}

	e.logger.Debug().Str("output", opts.Output).Msg("clip extraction complete")
	return nil
}

// clipArgs builds a stream-copy extraction. Seeking before -i is fast and
// lands on the keyframe at or before start.
func clipArgs(input, output string, start, duration float64) []string {
	return []string{
		"-ss", util.FormatSeconds(start),
		"-i", input,
		"-t", util.FormatSeconds(duration),
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		output,
	}
}

// partialPath returns a hidden sibling of output that keeps its extension
// so ffmpeg still picks the right muxer
func partialPath(output string) string {
	dir, base := filepath.Split(output)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, fmt.Sprintf(".%s.%s.partial%s", name, uuid.NewString()[:8], ext))
}
