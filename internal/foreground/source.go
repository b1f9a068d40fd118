package foreground

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/keagan/motionclips/internal/ffmpeg"
	"github.com/keagan/motionclips/internal/motion"
	"github.com/rs/zerolog"
)

// Source yields scored samples of one video in timestamp order. Next
// returns io.EOF once the video is exhausted.
type Source interface {
	Next(ctx context.Context) (motion.FrameSample, error)
	// FrameArea is the pixel area of the analysed frames, the unit that
	// scores and thresholds are expressed in.
	FrameArea() int
	Close() error
}

// Video describes the recording to score
type Video struct {
	Path   string
	Width  int
	Height int
	FPS    float64 // effective rate, already defaulted by the caller
}

// Options controls sampling and the background model
type Options struct {
	Stride        int // score every Nth frame
	AnalysisWidth int // downscale before scoring; 0 keeps the native size
	Model         ModelParams
}

// Opener starts scoring a video
type Opener interface {
	Open(ctx context.Context, v Video, opts Options) (Source, error)
}

// AnalysisSize returns the frame size used for scoring. Downscaling keeps
// the aspect ratio and rounds the height to an even number.
func AnalysisSize(width, height, analysisWidth int) (int, int) {
	if analysisWidth <= 0 || analysisWidth >= width {
		return width, height
	}
	w := analysisWidth &^ 1
	if w < 2 {
		w = 2
	}
	h := int(math.Round(float64(height)*float64(w)/float64(width)/2)) * 2
	if h < 2 {
		h = 2
	}
	return w, h
}

// HistoryForStride converts a history length in source frames into the
// number of sampled frames the model sees over the same span
func HistoryForStride(historyFrames, stride int) int {
	if stride < 1 {
		stride = 1
	}
	return max(historyFrames/stride, 1)
}

// frameStream is the part of ffmpeg.FrameReader the native source reads
type frameStream interface {
	Next() (ffmpeg.Frame, error)
	Err() error
	Log() []string
	Count() int
	Close() error
}

// Native scores frames decoded by ffmpeg with the pure Go background model
type Native struct {
	logger zerolog.Logger
	exec   *ffmpeg.Executor
}

// NewNative creates the native backend
func NewNative(logger zerolog.Logger, exec *ffmpeg.Executor) *Native {
	return &Native{
		logger: logger.With().Str("component", "foreground").Logger(),
		exec:   exec,
	}
}

// Open starts an ffmpeg decoder that delivers every Stride-th frame as
// grayscale at the analysis size
func (n *Native) Open(ctx context.Context, v Video, opts Options) (Source, error) {
	if v.FPS <= 0 {
		return nil, fmt.Errorf("invalid frame rate %g for %s", v.FPS, v.Path)
	}
	w, h := AnalysisSize(v.Width, v.Height, opts.AnalysisWidth)
	model, err := NewModel(w, h, opts.Model)
	if err != nil {
		return nil, err
	}

	stride := max(opts.Stride, 1)
	reader, err := n.exec.DecodeFrames(ctx, v.Path, ffmpeg.DecodeOptions{
		Stride: stride,
		Width:  w,
		Height: h,
	})
	if err != nil {
		return nil, err
	}

	n.logger.Debug().
		Str("video", v.Path).
		Int("width", w).
		Int("height", h).
		Int("stride", stride).
		Int("history", opts.Model.History).
		Msg("scoring with native background model")

	return newNativeSource(n.logger, reader, model, v.FPS), nil
}

type nativeSource struct {
	logger zerolog.Logger
	stream frameStream
	model  *Model
	blobs  *BlobFinder
	mask   []uint8
	fps    float64
	area   int
}

func newNativeSource(logger zerolog.Logger, stream frameStream, model *Model, fps float64) *nativeSource {
	return &nativeSource{
		logger: logger,
		stream: stream,
		model:  model,
		blobs:  NewBlobFinder(model.width, model.height),
		mask:   make([]uint8, model.width*model.height),
		fps:    fps,
		area:   model.width * model.height,
	}
}

func (s *nativeSource) Next(ctx context.Context) (motion.FrameSample, error) {
	if err := ctx.Err(); err != nil {
		return motion.FrameSample{}, err
	}

	frame, err := s.stream.Next()
	if errors.Is(err, io.EOF) {
		if derr := s.stream.Err(); derr != nil {
			s.logger.Warn().
				Err(derr).
				Int("frames", s.stream.Count()).
				Strs("ffmpeg", s.stream.Log()).
				Msg("decoder stopped early, keeping frames read so far")
		}
		s.logger.Debug().
			Int("decoded", s.stream.Count()).
			Int("learned", s.model.Frames()).
			Msg("scoring finished")
		return motion.FrameSample{}, io.EOF
	}
	if err != nil {
		return motion.FrameSample{}, err
	}

	if err := s.model.Apply(frame.Pix, s.mask); err != nil {
		return motion.FrameSample{}, err
	}

	return motion.FrameSample{
		Index:     frame.Index,
		Timestamp: motion.SampleTime(frame.Index, s.fps),
		Score:     float64(s.blobs.LargestArea(s.mask)),
	}, nil
}

func (s *nativeSource) FrameArea() int {
	return s.area
}

func (s *nativeSource) Close() error {
	return s.stream.Close()
}
