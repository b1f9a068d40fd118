package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/keagan/motionclips/internal/foreground"
	"github.com/keagan/motionclips/internal/motion"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// EnvPrefix prefixes environment overrides, e.g. MOTIONCLIPS_MOTION_MERGE_GAP
const EnvPrefix = "MOTIONCLIPS"

// Config holds all application configuration
type Config struct {
	// Core settings
	InputDir   string   `yaml:"input_dir" mapstructure:"input_dir"`
	OutputDir  string   `yaml:"output_dir" mapstructure:"output_dir"`
	Extensions []string `yaml:"extensions" mapstructure:"extensions"`

	Motion     MotionConfig     `yaml:"motion" mapstructure:"motion"`
	Sampling   SamplingConfig   `yaml:"sampling" mapstructure:"sampling"`
	Background BackgroundConfig `yaml:"background" mapstructure:"background"`
	FFmpeg     FFmpegConfig     `yaml:"ffmpeg" mapstructure:"ffmpeg"`
	Recording  RecordingConfig  `yaml:"recording" mapstructure:"recording"`
	Ledger     LedgerConfig     `yaml:"ledger" mapstructure:"ledger"`

	// File the configuration was read from, empty for defaults only
	File string `yaml:"-" mapstructure:"-"`
}

// MotionConfig holds detection thresholds and clip shaping, durations in seconds
type MotionConfig struct {
	LowPercent      float64 `yaml:"low_percent" mapstructure:"low_percent"`
	HighPercent     float64 `yaml:"high_percent" mapstructure:"high_percent"`
	MinClipDuration float64 `yaml:"min_clip_duration" mapstructure:"min_clip_duration"`
	MergeGap        float64 `yaml:"merge_gap" mapstructure:"merge_gap"`
	BufferBefore    float64 `yaml:"buffer_before" mapstructure:"buffer_before"`
	BufferAfter     float64 `yaml:"buffer_after" mapstructure:"buffer_after"`
}

type SamplingConfig struct {
	FrameStride   int     `yaml:"frame_stride" mapstructure:"frame_stride"`
	FallbackFPS   float64 `yaml:"fallback_fps" mapstructure:"fallback_fps"`
	AnalysisWidth int     `yaml:"analysis_width" mapstructure:"analysis_width"`
}

type BackgroundConfig struct {
	Backend       string  `yaml:"backend" mapstructure:"backend"`
	HistoryFrames int     `yaml:"history_frames" mapstructure:"history_frames"`
	VarThreshold  float64 `yaml:"var_threshold" mapstructure:"var_threshold"`
	DetectShadows bool    `yaml:"detect_shadows" mapstructure:"detect_shadows"`
}

type FFmpegConfig struct {
	BinaryPath  string `yaml:"binary_path" mapstructure:"binary_path"`
	FFprobePath string `yaml:"ffprobe_path" mapstructure:"ffprobe_path"`
	Threads     int    `yaml:"threads" mapstructure:"threads"`
}

type RecordingConfig struct {
	FilenameTimestamps bool   `yaml:"filename_timestamps" mapstructure:"filename_timestamps"`
	Timezone           string `yaml:"timezone" mapstructure:"timezone"`
	ClipNameLayout     string `yaml:"clip_name_layout" mapstructure:"clip_name_layout"`
}

type LedgerConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// flagKeys maps CLI flag names to config keys. Only flags the user set
// override the file and environment.
var flagKeys = map[string]string{
	"input":          "input_dir",
	"output":         "output_dir",
	"stride":         "sampling.frame_stride",
	"analysis-width": "sampling.analysis_width",
	"backend":        "background.backend",
	"low":            "motion.low_percent",
	"high":           "motion.high_percent",
	"min-duration":   "motion.min_clip_duration",
	"merge-gap":      "motion.merge_gap",
	"ffmpeg":         "ffmpeg.binary_path",
	"ffprobe":        "ffmpeg.ffprobe_path",
	"no-ledger":      "",
}

// Load reads configuration with precedence defaults < file < environment <
// flags. An explicit path must exist; otherwise the usual locations are
// searched and a missing file means defaults.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	return cfg, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if name == "no-ledger" {
			v.Set("ledger.enabled", false)
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("input_dir", d.InputDir)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("extensions", d.Extensions)

	v.SetDefault("motion.low_percent", d.Motion.LowPercent)
	v.SetDefault("motion.high_percent", d.Motion.HighPercent)
	v.SetDefault("motion.min_clip_duration", d.Motion.MinClipDuration)
	v.SetDefault("motion.merge_gap", d.Motion.MergeGap)
	v.SetDefault("motion.buffer_before", d.Motion.BufferBefore)
	v.SetDefault("motion.buffer_after", d.Motion.BufferAfter)

	v.SetDefault("sampling.frame_stride", d.Sampling.FrameStride)
	v.SetDefault("sampling.fallback_fps", d.Sampling.FallbackFPS)
	v.SetDefault("sampling.analysis_width", d.Sampling.AnalysisWidth)

	v.SetDefault("background.backend", d.Background.Backend)
	v.SetDefault("background.history_frames", d.Background.HistoryFrames)
	v.SetDefault("background.var_threshold", d.Background.VarThreshold)
	v.SetDefault("background.detect_shadows", d.Background.DetectShadows)

	v.SetDefault("ffmpeg.binary_path", d.FFmpeg.BinaryPath)
	v.SetDefault("ffmpeg.ffprobe_path", d.FFmpeg.FFprobePath)
	v.SetDefault("ffmpeg.threads", d.FFmpeg.Threads)

	v.SetDefault("recording.filename_timestamps", d.Recording.FilenameTimestamps)
	v.SetDefault("recording.timezone", d.Recording.Timezone)
	v.SetDefault("recording.clip_name_layout", d.Recording.ClipNameLayout)

	v.SetDefault("ledger.enabled", d.Ledger.Enabled)
	v.SetDefault("ledger.path", d.Ledger.Path)
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		InputDir:   "./videos/inputs",
		OutputDir:  "./videos/outputs",
		Extensions: []string{".mp4", ".mov", ".avi", ".mkv", ".webm"},
		Motion: MotionConfig{
			LowPercent:      5,
			HighPercent:     25,
			MinClipDuration: 5,
			MergeGap:        5,
			BufferBefore:    2,
			BufferAfter:     2,
		},
		Sampling: SamplingConfig{
			FrameStride:   10,
			FallbackFPS:   30,
			AnalysisWidth: 0,
		},
		Background: BackgroundConfig{
			Backend:       foreground.BackendNative,
			HistoryFrames: 500,
			VarThreshold:  foreground.DefaultVarThreshold,
			DetectShadows: false,
		},
		FFmpeg: FFmpegConfig{
			BinaryPath:  "ffmpeg",
			FFprobePath: "ffprobe",
			Threads:     0,
		},
		Recording: RecordingConfig{
			FilenameTimestamps: true,
			Timezone:           "Local",
			ClipNameLayout:     "2006-01-02_15-04-05",
		},
		Ledger: LedgerConfig{
			Enabled: true,
			Path:    "./videos/motionclips.db",
		},
	}
}

// Validate checks the configuration before any video is touched
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.InputDir != "", "input_dir is required")
	check(c.OutputDir != "", "output_dir is required")
	check(len(c.Extensions) > 0, "at least one extension is required")

	m := c.Motion
	if m.LowPercent < 0 || m.HighPercent < 0 || m.HighPercent < m.LowPercent || m.HighPercent > 100 {
		errs = append(errs, fmt.Errorf("%w: low_percent=%g high_percent=%g (need 0 <= low <= high <= 100)",
			motion.ErrInvalidThresholds, m.LowPercent, m.HighPercent))
	}
	if err := c.MergeOptions().Validate(); err != nil {
		errs = append(errs, err)
	}

	check(c.Sampling.FrameStride >= 1, "sampling.frame_stride must be >= 1, got %d", c.Sampling.FrameStride)
	check(c.Sampling.FallbackFPS > 0, "sampling.fallback_fps must be positive, got %g", c.Sampling.FallbackFPS)
	check(c.Sampling.AnalysisWidth >= 0, "sampling.analysis_width must be >= 0, got %d", c.Sampling.AnalysisWidth)

	check(c.Background.Backend != "", "background.backend is required")
	check(c.Background.HistoryFrames >= 1, "background.history_frames must be >= 1, got %d", c.Background.HistoryFrames)
	check(c.Background.VarThreshold > 0, "background.var_threshold must be positive, got %g", c.Background.VarThreshold)

	check(c.FFmpeg.Threads >= 0, "ffmpeg.threads must be >= 0, got %d", c.FFmpeg.Threads)

	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	check(c.Recording.ClipNameLayout != "", "recording.clip_name_layout is required")
	check(!c.Ledger.Enabled || c.Ledger.Path != "", "ledger.path is required when the ledger is enabled")

	return errors.Join(errs...)
}

// Fractions returns the thresholds as fractions of frame area
func (m MotionConfig) Fractions() (low, high float64) {
	return m.LowPercent / 100, m.HighPercent / 100
}

// MergeOptions returns the interval merger settings
func (c *Config) MergeOptions() motion.MergeOptions {
	return motion.MergeOptions{
		Gap:          c.Motion.MergeGap,
		BufferBefore: c.Motion.BufferBefore,
		BufferAfter:  c.Motion.BufferAfter,
		MinDuration:  c.Motion.MinClipDuration,
	}
}

// ScoreOptions returns the foreground scorer settings. History is given in
// source frames and converted to sampled frames.
func (c *Config) ScoreOptions() foreground.Options {
	return foreground.Options{
		Stride:        c.Sampling.FrameStride,
		AnalysisWidth: c.Sampling.AnalysisWidth,
		Model: foreground.ModelParams{
			History:       foreground.HistoryForStride(c.Background.HistoryFrames, c.Sampling.FrameStride),
			VarThreshold:  c.Background.VarThreshold,
			DetectShadows: c.Background.DetectShadows,
		},
	}
}

// detectionSettings is everything that changes the ranges found in a video
type detectionSettings struct {
	Backend     string              `yaml:"backend"`
	Low         float64             `yaml:"low"`
	High        float64             `yaml:"high"`
	FallbackFPS float64             `yaml:"fallback_fps"`
	Merge       motion.MergeOptions `yaml:"merge"`
	Score       foreground.Options  `yaml:"score"`
}

// Fingerprint identifies the detection settings. Two configurations with
// the same fingerprint find the same ranges in the same video; paths,
// naming and tool locations do not take part.
func (c *Config) Fingerprint() string {
	low, high := c.Motion.Fractions()
	data, err := yaml.Marshal(detectionSettings{
		Backend:     c.Background.Backend,
		Low:         low,
		High:        high,
		FallbackFPS: c.Sampling.FallbackFPS,
		Merge:       c.MergeOptions(),
		Score:       c.ScoreOptions(),
	})
	if err != nil {
		// plain numeric structs always marshal
		panic(fmt.Sprintf("config: fingerprint: %v", err))
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, data).String()
}

// Location resolves the recording timezone
func (c *Config) Location() (*time.Location, error) {
	switch c.Recording.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Recording.Timezone)
	if err != nil {
		return nil, fmt.Errorf("recording.timezone: %w", err)
	}
	return loc, nil
}

// HasExtension reports whether a file extension is configured, ignoring case
func (c *Config) HasExtension(ext string) bool {
	for _, e := range c.Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// Marshal renders the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return os.WriteFile(path, data, 0644)
}

func findConfigFile() string {
	candidates := []string{
		"./motionclips.yaml",
		"./config.yaml",
		filepath.Join(os.Getenv("HOME"), ".motionclips", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return Default()
}
