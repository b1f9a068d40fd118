package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/keagan/motionclips/internal/clips"
	"github.com/keagan/motionclips/internal/config"
	"github.com/keagan/motionclips/internal/ffmpeg"
	"github.com/keagan/motionclips/internal/foreground"
	"github.com/keagan/motionclips/internal/ledger"
	"github.com/keagan/motionclips/internal/motion"
	"github.com/keagan/motionclips/internal/recording"
	"github.com/keagan/motionclips/pkg/util"
	"github.com/rs/zerolog"
)

// Pipeline turns recordings into motion clips: probe, score, detect,
// merge and export, one video at a time
type Pipeline struct {
	logger   zerolog.Logger
	config   *config.Config
	prober   Prober
	exporter Exporter
	opener   foreground.Opener
	ledger   Ledger
	settings string // detection fingerprint recorded in the ledger
	loc      *time.Location
	closers  []io.Closer
}

// New creates a pipeline from explicit collaborators
func New(logger zerolog.Logger, cfg *config.Config, deps Deps) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if deps.Prober == nil || deps.Exporter == nil || deps.Opener == nil {
		return nil, fmt.Errorf("prober, exporter and opener are required")
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		logger:   logger.With().Str("component", "pipeline").Logger(),
		config:   cfg,
		prober:   deps.Prober,
		exporter: deps.Exporter,
		opener:   deps.Opener,
		ledger:   deps.Ledger,
		settings: cfg.Fingerprint(),
		loc:      loc,
	}, nil
}

// NewFromConfig wires the ffmpeg executor, the configured foreground backend
// and the ledger. A missing ffmpeg or ffprobe yields ffmpeg.ErrToolNotFound.
func NewFromConfig(logger zerolog.Logger, cfg *config.Config) (*Pipeline, error) {
	exec, err := ffmpeg.New(logger, ffmpeg.Options{
		FFmpegPath:  cfg.FFmpeg.BinaryPath,
		FFprobePath: cfg.FFmpeg.FFprobePath,
		Threads:     cfg.FFmpeg.Threads,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ffmpeg: %w", err)
	}
	logger.Debug().Str("ffmpeg", exec.FFmpegPath()).Msg("ffmpeg found")

	opener, err := foreground.NewOpener(cfg.Background.Backend, logger, exec)
	if err != nil {
		return nil, err
	}

	deps := Deps{Prober: exec, Exporter: exec, Opener: opener}

	var store *ledger.Store
	if cfg.Ledger.Enabled {
		store, err = ledger.Open(cfg.Ledger.Path, logger)
		if err != nil {
			// the ledger only saves work; run without it
			logger.Warn().Err(err).Str("path", cfg.Ledger.Path).Msg("ledger unavailable, every video will be processed")
		} else {
			deps.Ledger = store
		}
	}

	p, err := New(logger, cfg, deps)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	if store != nil {
		p.closers = append(p.closers, store)
	}
	return p, nil
}

// Close releases pipeline resources
func (p *Pipeline) Close() error {
	var errs []error
	for _, c := range p.closers {
		errs = append(errs, c.Close())
	}
	p.closers = nil
	return errors.Join(errs...)
}

// Analyze scores a video and returns its final export ranges. An
// unreadable source yields an error wrapping ErrSourceUnreadable; a missing
// tool yields ffmpeg.ErrToolNotFound.
func (p *Pipeline) Analyze(ctx context.Context, path string) (*Analysis, error) {
	if path == "" {
		return nil, fmt.Errorf("input path cannot be empty")
	}

	info, err := p.prober.ProbeVideo(ctx, path)
	if err != nil {
		return nil, p.sourceError("probe", err)
	}
	if info.Seconds() <= 0 {
		return nil, fmt.Errorf("%w: %s has no duration", ErrSourceUnreadable, path)
	}

	a := &Analysis{
		Video:    path,
		Duration: info.Seconds(),
		FPS:      info.FrameRate(p.config.Sampling.FallbackFPS),
	}
	if info.FPS <= 0 {
		p.logger.Warn().
			Str("video", path).
			Float64("fallback_fps", a.FPS).
			Msg("frame rate missing, using fallback")
	}

	p.logger.Info().
		Str("video", filepath.Base(path)).
		Dur("duration", info.Duration).
		Int("width", info.Width).
		Int("height", info.Height).
		Float64("fps", a.FPS).
		Msg("video metadata extracted")

	src, err := p.opener.Open(ctx, foreground.Video{
		Path:   path,
		Width:  info.Width,
		Height: info.Height,
		FPS:    a.FPS,
	}, p.config.ScoreOptions())
	if err != nil {
		return nil, p.sourceError("open", err)
	}
	defer src.Close()

	a.FrameArea = src.FrameArea()
	low, high := p.config.Motion.Fractions()
	a.Thresholds, err = motion.NewThresholds(a.FrameArea, low, high)
	if err != nil {
		return nil, err
	}

	samples, err := p.scan(ctx, src, a)
	if err != nil {
		return nil, err
	}

	a.Ranges, err = motion.Merge(a.Raw, a.Duration, p.config.MergeOptions())
	if err != nil {
		return nil, err
	}

	a.Summary = motion.Summarize(samples, a.Thresholds)
	p.logger.Debug().
		Str("video", filepath.Base(path)).
		Int("samples", a.Summary.Samples).
		Float64("max", a.Summary.Max).
		Float64("mean", a.Summary.Mean).
		Float64("stddev", a.Summary.StdDev).
		Float64("p95", a.Summary.P95).
		Int("above_low", a.Summary.AboveLow).
		Int("above_high", a.Summary.AboveHigh).
		Float64("low", a.Thresholds.Low).
		Float64("high", a.Thresholds.High).
		Msg("score statistics")

	p.logger.Info().
		Str("video", filepath.Base(path)).
		Int("samples", a.Samples).
		Int("raw_ranges", len(a.Raw)).
		Int("ranges", len(a.Ranges)).
		Msg("motion analysis complete")

	return a, nil
}

// scan feeds every sample through the hysteresis detector in order
func (p *Pipeline) scan(ctx context.Context, src foreground.Source, a *Analysis) ([]motion.FrameSample, error) {
	det, err := motion.NewDetector(a.Thresholds)
	if err != nil {
		return nil, err
	}

	var samples []motion.FrameSample
	for {
		s, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, p.sourceError("decode", err)
		}

		samples = append(samples, s)
		if iv, ok := det.Observe(s); ok {
			p.logger.Debug().Stringer("range", iv).Msg("motion range")
		}
	}
	a.Raw = det.Finish(a.Duration)
	a.Samples = len(samples)

	if a.Samples == 0 {
		return nil, fmt.Errorf("%w: %s: %w", ErrSourceUnreadable, a.Video, ffmpeg.ErrNoFrames)
	}
	return samples, nil
}

// sourceError classifies a probe or decode failure. Only a missing tool is
// global; everything else is local to the video.
func (p *Pipeline) sourceError(stage string, err error) error {
	if errors.Is(err, ffmpeg.ErrToolNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrSourceUnreadable, stage, err)
}

// ProcessVideo analyses one recording and exports its ranges into the
// manager's directory. Unreadable sources and export failures are reported
// in the result; only a missing tool or cancellation is returned as error.
func (p *Pipeline) ProcessVideo(ctx context.Context, rec recording.Recording, m *clips.Manager, dryRun bool) (*Result, error) {
	started := time.Now()
	res := &Result{Video: rec.Path}
	defer func() { res.Elapsed = time.Since(started) }()

	a, err := p.Analyze(ctx, rec.Path)
	if err != nil {
		if !errors.Is(err, ErrSourceUnreadable) {
			return res, err
		}
		p.logger.Error().Err(err).Str("video", rec.Path).Msg("skipping unreadable video")
		res.Skipped = SkipUnreadable
		res.Err = err
		res.Analysis = &Analysis{Video: rec.Path}
		if !dryRun {
			p.record(ctx, rec, res)
		}
		return res, nil
	}
	res.Analysis = a

	if len(a.Ranges) == 0 {
		p.logger.Info().Str("video", filepath.Base(rec.Path)).Msg("no motion found")
	}

	recStart, source := recording.StartTime(rec, p.loc, p.config.Recording.FilenameTimestamps)
	p.logger.Debug().
		Time("recording_start", recStart).
		Str("from", string(source)).
		Msg("recording start time")

	if err := p.export(ctx, rec, a.Ranges, recStart, m, dryRun, res); err != nil {
		return res, err
	}

	if !dryRun {
		p.record(ctx, rec, res)
	}
	return res, nil
}

// export writes one clip per range. A failed range is logged and counted;
// the remaining ranges are still attempted.
func (p *Pipeline) export(ctx context.Context, rec recording.Recording, ranges []motion.Interval, recStart time.Time, m *clips.Manager, dryRun bool, res *Result) error {
	if len(ranges) > 0 && !dryRun {
		if err := util.EnsureDir(p.config.OutputDir); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	for i, iv := range ranges {
		clip := m.Plan(rec.Path, recStart, iv, rec.Ext)
		logger := p.logger.With().
			Int("clip", i+1).
			Int("of", len(ranges)).
			Str("range", fmt.Sprintf("%.1f-%.1fs", iv.Start, iv.End)).
			Float64("length", clip.Duration()).
			Str("output", filepath.Base(clip.Output)).
			Logger()

		if dryRun {
			logger.Info().Msg("would extract clip")
			res.Clips = append(res.Clips, clip)
			continue
		}

		logger.Info().Msg("extracting clip")
		err := p.exporter.ExtractClip(ctx, rec.Path, ffmpeg.ClipOptions{
			Start:  iv.Start,
			End:    iv.End,
			Output: clip.Output,
			ProgressFunc: func(pr *ffmpeg.Progress) {
				logger.Debug().
					Str("out_time", pr.Time).
					Str("speed", pr.Speed).
					Msg("clip progress")
			},
		})
		if err != nil {
			m.Release(clip)
			if errors.Is(err, ffmpeg.ErrToolNotFound) || ctx.Err() != nil {
				return err
			}
			logger.Error().Err(err).Msg("clip extraction failed")
			res.Failures++
			continue
		}

		res.Clips = append(res.Clips, clip)
	}
	return nil
}

// record writes the outcome to the ledger. Ledger problems never fail a video.
func (p *Pipeline) record(ctx context.Context, rec recording.Recording, res *Result) {
	if p.ledger == nil {
		return
	}
	failures := res.Failures
	if res.Skipped == SkipUnreadable {
		failures++
	}
	a := res.Analysis
	if err := p.ledger.Record(ctx, rec, p.settings, a.Duration, a.Ranges, len(res.Clips), failures); err != nil {
		p.logger.Warn().Err(err).Str("video", rec.Path).Msg("failed to update ledger")
	}
}

// Run processes every recording in the input directory, one after another.
// The returned error is non-nil only for run-level failures; the summary
// covers the videos handled so far.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Summary, error) {
	started := time.Now()
	sum := &Summary{}
	defer func() { sum.Elapsed = time.Since(started) }()

	inputDir, err := filepath.Abs(p.config.InputDir)
	if err != nil {
		return sum, err
	}
	recs, err := recording.List(inputDir, p.config.Extensions)
	if err != nil {
		return sum, err
	}
	sum.Videos = len(recs)

	p.logger.Info().
		Str("input", inputDir).
		Str("output", p.config.OutputDir).
		Int("videos", len(recs)).
		Bool("dry_run", opts.DryRun).
		Msg("starting run")

	m := clips.NewManager(p.config.OutputDir, p.config.Recording.ClipNameLayout)
	for i, rec := range recs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		p.logger.Info().
			Int("video", i+1).
			Int("of", len(recs)).
			Str("file", filepath.Base(rec.Path)).
			Msg("processing video")

		if !opts.Force && p.ledger != nil {
			seen, err := p.ledger.Seen(ctx, rec, p.settings)
			if err != nil {
				p.logger.Warn().Err(err).Str("video", rec.Path).Msg("ledger lookup failed")
			} else if seen {
				p.logger.Info().Str("video", filepath.Base(rec.Path)).Msg("unchanged since last run, skipping")
				sum.add(&Result{Video: rec.Path, Skipped: SkipUnchanged})
				continue
			}
		}

		res, err := p.ProcessVideo(ctx, rec, m, opts.DryRun)
		if err != nil {
			return sum, err
		}
		sum.add(res)

		p.logger.Info().
			Str("video", filepath.Base(rec.Path)).
			Int("clips", len(res.Clips)).
			Int("failures", res.Failures).
			Dur("elapsed", res.Elapsed).
			Msg("video done")
	}

	p.logger.Info().
		Int("videos", sum.Videos).
		Int("processed", sum.Processed).
		Int("unreadable", sum.SkippedUnreadable).
		Int("unchanged", sum.SkippedUnchanged).
		Int("clips", sum.Clips).
		Int("failures", sum.Failures).
		Msg("run complete")

	return sum, nil
}

// ExtractFile processes a single file outside the input directory scan
func (p *Pipeline) ExtractFile(ctx context.Context, path string, dryRun bool) (*Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	rec, err := recording.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !p.config.HasExtension(rec.Ext) {
		p.logger.Warn().
			Str("video", abs).
			Strs("extensions", p.config.Extensions).
			Msg("extension is not configured for batch runs, processing anyway")
	}
	m := clips.NewManager(p.config.OutputDir, p.config.Recording.ClipNameLayout)
	return p.ProcessVideo(ctx, rec, m, dryRun)
}
