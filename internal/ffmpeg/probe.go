package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/keagan/motionclips/pkg/util"
)

// ErrNoVideoStream is returned when a file has no decodable video stream
var ErrNoVideoStream = errors.New("no video stream")

// ProbeVideo extracts metadata from a video file
func (e *Executor) ProbeVideo(ctx context.Context, filePath string) (*VideoInfo, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path is required")
	}

	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	}

	cmd := exec.CommandContext(ctx, e.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("ffprobe failed: %w: %s", err, string(exitErr.Stderr))
		}
		return nil, e.startError(e.ffprobePath, err)
	}

	info, err := parseProbe(output)
	if err != nil {
		return nil, err
	}
	info.FilePath = filePath
	return info, nil
}

// parseProbe converts ffprobe JSON into VideoInfo
func parseProbe(output []byte) (*VideoInfo, error) {
	var probe probeResult
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &VideoInfo{}

	// Parse bitrate
	if br, err := strconv.ParseInt(probe.Format.BitRate, 10, 64); err == nil {
		info.Bitrate = br
	}

	var streamDuration string
	foundVideo := false

	// Extract video stream info
	for _, stream := range probe.Streams {
		switch stream.CodecType {
		case "video":
			if foundVideo || stream.Disposition.AttachedPic == 1 {
				continue
			}
			foundVideo = true
			info.Width = stream.Width
			info.Height = stream.Height
			info.VideoCodec = stream.CodecName
			streamDuration = stream.Duration

			// Prefer the average rate; r_frame_rate is the timebase guess
			info.FPS = util.ParseFrameRate(stream.AvgFrameRate)
			if info.FPS <= 0 {
				info.FPS = util.ParseFrameRate(stream.RFrameRate)
			}
			if n, err := strconv.ParseInt(stream.NbFrames, 10, 64); err == nil {
				info.FrameCount = n
			}
		case "audio":
			info.HasAudio = true
			info.AudioCodec = stream.CodecName
		}
	}

	if !foundVideo || info.Width <= 0 || info.Height <= 0 {
		return nil, ErrNoVideoStream
	}

	// Parse duration, falling back to the video stream and then frame count
	if dur, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil && dur > 0 {
		info.Duration = seconds(dur)
	} else if dur, err := strconv.ParseFloat(streamDuration, 64); err == nil && dur > 0 {
		info.Duration = seconds(dur)
	} else if info.FrameCount > 0 && info.FPS > 0 {
		info.Duration = seconds(float64(info.FrameCount) / info.FPS)
	}

	return info, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// probeResult matches ffprobe JSON output structure
type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
		Disposition  struct {
			AttachedPic int `json:"attached_pic"`
		} `json:"disposition"`
	} `json:"streams"`
}
