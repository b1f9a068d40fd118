//go:build opencv

package foreground

import (
	"context"
	"fmt"
	"image"
	"io"

	"github.com/keagan/motionclips/internal/ffmpeg"
	"github.com/keagan/motionclips/internal/motion"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

// MOG2 marks shadow pixels with this value and foreground with 255
const mog2ShadowValue = 127

func init() {
	Register(BackendOpenCV, func(logger zerolog.Logger, _ *ffmpeg.Executor) Opener {
		return &OpenCV{logger: logger.With().Str("component", "foreground").Logger()}
	})
}

// OpenCV scores frames with OpenCV's MOG2 background subtractor
type OpenCV struct {
	logger zerolog.Logger
}

// Open opens the video with OpenCV's capture API
func (o *OpenCV) Open(_ context.Context, v Video, opts Options) (Source, error) {
	if v.FPS <= 0 {
		return nil, fmt.Errorf("invalid frame rate %g for %s", v.FPS, v.Path)
	}
	if err := opts.Model.Validate(); err != nil {
		return nil, err
	}

	capture, err := gocv.VideoCaptureFile(v.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", v.Path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("failed to open %s", v.Path)
	}

	w, h := AnalysisSize(v.Width, v.Height, opts.AnalysisWidth)
	o.logger.Debug().
		Str("video", v.Path).
		Int("width", w).
		Int("height", h).
		Msg("scoring with OpenCV MOG2")

	return &opencvSource{
		logger:  o.logger,
		capture: capture,
		mog2: gocv.NewBackgroundSubtractorMOG2WithParams(
			opts.Model.History, opts.Model.VarThreshold, opts.Model.DetectShadows),
		shadows: opts.Model.DetectShadows,
		frame:   gocv.NewMat(),
		scaled:  gocv.NewMat(),
		mask:    gocv.NewMat(),
		size:    image.Pt(w, h),
		resize:  w != v.Width || h != v.Height,
		stride:  max(opts.Stride, 1),
		fps:     v.FPS,
	}, nil
}

type opencvSource struct {
	logger  zerolog.Logger
	capture *gocv.VideoCapture
	mog2    gocv.BackgroundSubtractorMOG2
	shadows bool
	frame   gocv.Mat
	scaled  gocv.Mat
	mask    gocv.Mat
	size    image.Point
	resize  bool
	stride  int
	fps     float64
	index   int
	count   int
}

func (s *opencvSource) Next(ctx context.Context) (motion.FrameSample, error) {
	if err := ctx.Err(); err != nil {
		return motion.FrameSample{}, err
	}
	if s.count > 0 && s.stride > 1 {
		s.capture.Grab(s.stride - 1)
	}
	if ok := s.capture.Read(&s.frame); !ok || s.frame.Empty() {
		if s.count == 0 {
			return motion.FrameSample{}, ffmpeg.ErrNoFrames
		}
		return motion.FrameSample{}, io.EOF
	}

	src := s.frame
	if s.resize {
		gocv.Resize(s.frame, &s.scaled, s.size, 0, 0, gocv.InterpolationArea)
		src = s.scaled
	}
	s.mog2.Apply(src, &s.mask)
	if s.shadows {
		// drop shadow pixels, keep definite foreground
		gocv.Threshold(s.mask, &s.mask, mog2ShadowValue, 255, gocv.ThresholdBinary)
	}

	contours := gocv.FindContours(s.mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	largest := 0.0
	for i := 0; i < contours.Size(); i++ {
		largest = max(largest, gocv.ContourArea(contours.At(i)))
	}
	contours.Close()

	sample := motion.FrameSample{
		Index:     s.index,
		Timestamp: motion.SampleTime(s.index, s.fps),
		Score:     largest,
	}
	s.index += s.stride
	s.count++
	return sample, nil
}

func (s *opencvSource) FrameArea() int {
	return s.size.X * s.size.Y
}

func (s *opencvSource) Close() error {
	s.mask.Close()
	s.scaled.Close()
	s.frame.Close()
	s.mog2.Close()
	return s.capture.Close()
}
