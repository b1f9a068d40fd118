package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keagan/motionclips/internal/config"
	"github.com/keagan/motionclips/internal/logging"
	"github.com/keagan/motionclips/internal/pipeline"
	"github.com/keagan/motionclips/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	logJSON bool

	force  bool
	dryRun bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("motionclips failed")
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "motionclips",
	Short:         "motionclips - cut surveillance recordings down to the moments with motion",
	Long:          "Scans finished camera recordings for bursts of movement and exports each one as a lossless clip.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logging
		logging.Init(logging.Options{Verbose: verbose, JSON: logJSON})

		// Load config; flags the user set win over file and environment
		cfg, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		if cfg.File != "" {
			logger := logging.WithComponent("cli")
			logger.Debug().Str("file", cfg.File).Msg("configuration loaded")
		}

		// config commands must work on a broken configuration
		if cmd.Parent() != configCmd {
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
		}

		// Store config in context
		ctx := config.WithConfig(cmd.Context(), cfg)
		cmd.SetContext(ctx)

		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./motionclips.yaml)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output with score statistics")
	pf.BoolVar(&logJSON, "log-json", false, "log as JSON")

	pf.String("input", "", "directory with recordings")
	pf.String("output", "", "directory for clips")
	pf.Int("stride", 0, "score every Nth frame")
	pf.Int("analysis-width", 0, "downscale frames to this width before scoring")
	pf.String("backend", "", "foreground backend (native, opencv)")
	pf.Float64("low", 0, "tracking threshold in percent of frame area")
	pf.Float64("high", 0, "confirm threshold in percent of frame area")
	pf.Float64("min-duration", 0, "minimum motion duration in seconds")
	pf.Float64("merge-gap", 0, "merge motion separated by at most this many seconds")
	pf.String("ffmpeg", "", "ffmpeg binary")
	pf.String("ffprobe", "", "ffprobe binary")
	pf.Bool("no-ledger", false, "do not read or write the processed-video ledger")

	runCmd.Flags().BoolVar(&force, "force", false, "process videos the ledger marks as done")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "analyse and name clips without exporting")
	extractCmd.Flags().BoolVar(&dryRun, "dry-run", false, "analyse and name clips without exporting")
	configInitCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func newPipeline(cmd *cobra.Command) (*pipeline.Pipeline, error) {
	cfg := config.FromContext(cmd.Context())
	return pipeline.NewFromConfig(log.Logger, cfg)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract motion clips from every recording in the input directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, err := newPipeline(cmd)
		if err != nil {
			return err
		}
		defer pipe.Close()

		sum, err := pipe.Run(cmd.Context(), pipeline.RunOptions{Force: force, DryRun: dryRun})
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(),
			"videos: %d  processed: %d  unreadable: %d  unchanged: %d  clips: %d  failed: %d  (%s)\n",
			sum.Videos, sum.Processed, sum.SkippedUnreadable, sum.SkippedUnchanged,
			sum.Clips, sum.Failures, sum.Elapsed.Round(time.Millisecond))
		return nil
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract [video]",
	Short: "Extract motion clips from a single recording",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, err := newPipeline(cmd)
		if err != nil {
			return err
		}
		defer pipe.Close()

		res, err := pipe.ExtractFile(cmd.Context(), args[0], dryRun)
		if err != nil {
			return err
		}
		if res.Err != nil {
			return res.Err
		}

		for _, c := range res.Clips {
			fmt.Fprintln(cmd.OutOrStdout(), c.Output)
		}
		if res.Failures > 0 {
			return fmt.Errorf("%d of %d clips failed", res.Failures, res.Failures+len(res.Clips))
		}
		return nil
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan [video]",
	Short: "Print the motion ranges of a recording without exporting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, err := newPipeline(cmd)
		if err != nil {
			return err
		}
		defer pipe.Close()

		a, err := pipe.Analyze(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, r := range a.Ranges {
			fmt.Fprintf(out, "%s\t%s\t%s - %s\n",
				util.FormatSeconds(r.Start), util.FormatSeconds(r.End),
				util.FormatClock(r.Start), util.FormatClock(r.End))
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "./motionclips.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if util.FileExists(path) && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		logger := logging.WithComponent("cli")
		logger.Info().Str("path", path).Msg("configuration written")
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}
