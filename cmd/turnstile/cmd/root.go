package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nfrund/turnstile/internal/logging"
	"github.com/nfrund/turnstile/internal/topics"
)

var (
	logFormat string
	logLevel  string

	// fsys is where topics and controllers files are read from
	fsys afero.Fs = afero.NewOsFs()
)

var rootCmd = &cobra.Command{
	Use:   "turnstile",
	Short: "Turnstile topic and subscription tool",
	Long: `Turnstile binds controller methods to topics and drives them through an
external gate that authorizes every step.

Available commands:
  topics     Inspect and validate topics files
  run        Run script controllers against a topics file
  version    Print the version

Use "turnstile [command] --help" for more information about a specific command.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.NewWithWriter(cmd.ErrOrStderr(), logFormat, logLevel)
	},
}

// Execute executes the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", envOr("LOG_FORMAT", "text"), "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envOr("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// loadTopics reads and validates a topics file into a fresh registry
func loadTopics(path string) (*topics.Registry, error) {
	loader, err := topics.NewLoader(fsys)
	if err != nil {
		return nil, err
	}
	cfgs, err := loader.LoadFile(path)
	if err != nil {
		return nil, err
	}
	reg := topics.NewRegistry()
	if err := reg.Merge(path, cfgs...); err != nil {
		return nil, err
	}
	return reg, nil
}

func unsupportedFormat(format string) error {
	return fmt.Errorf("unsupported output format %q, use 'table' or 'json'", format)
}
