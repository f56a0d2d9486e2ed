// Package cli is the headless command line over the JSON and datetime cores.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"devtool-desktop/internal/config"
	"devtool-desktop/internal/datetime"
	"devtool-desktop/internal/jsonpipe"
	"devtool-desktop/internal/logger"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// rootOptions holds the persistent flags of one command tree
type rootOptions struct {
	configFile string
	timeFormat string
	verbose    bool
}

// BuildCLI assembles the root command
func BuildCLI() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "devtool",
		Short: "JSON formatter and timestamp converter",
		Long: `devtool formats JSON and converts between Unix timestamps and datetime text.
Datetime text is read as Beijing time (UTC+08:00) and printed in the local zone.`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&opts.timeFormat, "format", "f", "", "datetime format (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log progress details")

	rootCmd.AddCommand(buildJSONCommand(opts))
	rootCmd.AddCommand(buildTimeCommand(opts))

	return rootCmd
}

// runtimeDeps are built per invocation from config
type runtimeDeps struct {
	cfg   *config.Config
	log   *logrus.Logger
	close func()
}

func loadDeps(cmd *cobra.Command, opts *rootOptions) (*runtimeDeps, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, closeLog, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	// stdout carries command output
	if cfg.Log.Output != "file" {
		log.SetOutput(cmd.ErrOrStderr())
	}
	if !opts.verbose {
		log.SetLevel(logrus.WarnLevel)
	}

	return &runtimeDeps{cfg: cfg, log: log, close: closeLog}, nil
}

func buildJSONCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "json",
		Short: "Pretty-print or minify JSON",
	}

	cmd.AddCommand(buildJSONOpCommand(opts, "pretty", "format", "Pretty-print JSON with two-space indentation"))
	cmd.AddCommand(buildJSONOpCommand(opts, "minify", "compact", "Minify JSON"))

	return cmd
}

func buildJSONOpCommand(opts *rootOptions, name, alias, short string) *cobra.Command {
	var progress bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:     name + " [file]",
		Aliases: []string{alias},
		Short:   short,
		Long:    short + ". Reads standard input when no file is given.",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := jsonpipe.ParseOperation(cmd.CalledAs())
			if err != nil {
				return err
			}
			return runJSON(cmd, args, opts, op, progress, timeout)
		},
	}

	cmd.Flags().BoolVar(&progress, "progress", false, "print progress to stderr")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort after this long (default from config)")

	return cmd
}

func runJSON(cmd *cobra.Command, args []string, opts *rootOptions, op jsonpipe.Operation, progress bool, timeout time.Duration) error {
	deps, err := loadDeps(cmd, opts)
	if err != nil {
		return err
	}
	defer deps.close()

	input, err := readInput(cmd, args)
	if err != nil {
		return err
	}

	if timeout <= 0 {
		timeout = deps.cfg.JSON.Timeout
	}

	pipeline := jsonpipe.New(
		jsonpipe.WithLimits(jsonpipe.Limits{
			SyncMaxBytes:  deps.cfg.JSON.SyncMaxBytes,
			LargeMinBytes: deps.cfg.JSON.LargeMinBytes,
			MaxBytes:      deps.cfg.JSON.MaxBytes,
		}),
		jsonpipe.WithMediumPause(0),
		jsonpipe.WithStepPause(0),
		jsonpipe.WithLogger(logger.Component(deps.log, "jsonpipe")),
	)

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	start := time.Now()
	job := pipeline.Submit(ctx, jsonpipe.Request{Input: input, Op: op})

	var result *jsonpipe.Event
	for ev := range job.Events {
		if ev.IsTerminal() {
			ev := ev
			result = &ev
			continue
		}
		if progress {
			fmt.Fprintf(cmd.ErrOrStderr(), "processing... %d%%, elapsed %.1fs\n", ev.Progress, time.Since(start).Seconds())
		}
	}

	if result == nil {
		return errors.New(jsonpipe.MsgTimeout)
	}
	if result.Failed {
		return errors.New(result.Text)
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.Text)
	return nil
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return string(data), nil
	}

	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return string(data), nil
}

func buildTimeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "time",
		Short: "Convert between timestamps and datetime text",
	}

	cmd.AddCommand(buildNowCommand(opts))
	cmd.AddCommand(buildFromTsCommand(opts))
	cmd.AddCommand(buildToTsCommand(opts))
	cmd.AddCommand(buildFormatsCommand())
	cmd.AddCommand(buildValidateCommand())

	return cmd
}

// activeFormat returns --format or the configured default
func activeFormat(opts *rootOptions, deps *runtimeDeps) string {
	if opts.timeFormat != "" {
		return opts.timeFormat
	}
	return deps.cfg.Datetime.DefaultFormat
}

func buildNowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "now",
		Short: "Print the current time and timestamps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := loadDeps(cmd, opts)
			if err != nil {
				return err
			}
			defer deps.close()
			conv := datetime.NewConverter()
			text := conv.NowText(activeFormat(opts, deps))
			if text == "" {
				return fmt.Errorf("invalid time format %q", activeFormat(opts, deps))
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, text)
			fmt.Fprintf(out, "seconds: %d\n", conv.NowUnix())
			fmt.Fprintf(out, "milliseconds: %d\n", conv.NowUnixMilli())
			return nil
		},
	}
}

func buildFromTsCommand(opts *rootOptions) *cobra.Command {
	var millis bool

	cmd := &cobra.Command{
		Use:   "from-ts <timestamp>",
		Short: "Render a Unix timestamp as local datetime text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := loadDeps(cmd, opts)
			if err != nil {
				return err
			}
			defer deps.close()

			ts, err := datetime.ParseInteger(args[0])
			if err != nil {
				return err
			}

			conv := datetime.NewConverter()
			var text string
			if millis {
				text, err = conv.MsToText(ts, activeFormat(opts, deps))
			} else {
				text, err = conv.TsToText(ts, activeFormat(opts, deps))
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}

	cmd.Flags().BoolVar(&millis, "ms", false, "timestamp is in milliseconds")
	return cmd
}

func buildToTsCommand(opts *rootOptions) *cobra.Command {
	var millis bool

	cmd := &cobra.Command{
		Use:   "to-ts <datetime>",
		Short: "Parse datetime text (Beijing time) into a Unix timestamp",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := loadDeps(cmd, opts)
			if err != nil {
				return err
			}
			defer deps.close()

			conv := datetime.NewConverter()
			var ts int64
			if millis {
				ts, err = conv.TextToMs(args[0], activeFormat(opts, deps))
			} else {
				ts, err = conv.TextToTs(args[0], activeFormat(opts, deps))
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatInt(ts, 10))
			return nil
		},
	}

	cmd.Flags().BoolVar(&millis, "ms", false, "print milliseconds")
	return cmd
}

func buildFormatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List the built-in datetime formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conv := datetime.NewConverter()
			for i, format := range datetime.CannedFormats() {
				fmt.Fprintf(cmd.OutOrStdout(), "%2d  %-28s %s\n", i, format, conv.NowText(format))
			}
			return nil
		},
	}
}

func buildValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <format>",
		Short: "Check a custom datetime format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv := datetime.NewConverter()
			if err := conv.ValidateFormat(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s\n", conv.NowText(args[0]))
			return nil
		},
	}
}
