package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/nfrund/turnstile/internal/app"
	"github.com/nfrund/turnstile/internal/config"
)

var (
	runTopics      string
	runControllers string
	runStatusAddr  string
	runPacing      time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run script controllers against a topics file",
	Long: `Run loads the topics file and the controllers file, subscribes every
controller, and drives the task subscriptions through a local gate until
interrupted. Happenings are dispatched to happening handlers from the
in-memory bus. A status API is served on --status-addr, and
POST /happenings/<topic> with a JSON body raises a happening.

Flags override the TURNSTILE_* environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("topics") {
			cfg.TopicsFile = runTopics
		}
		if flags.Changed("controllers") {
			cfg.ControllersFile = runControllers
		}
		if flags.Changed("status-addr") {
			cfg.StatusAddr = runStatusAddr
		}
		if flags.Changed("pacing") {
			cfg.GatePacing = runPacing
		}

		a, err := app.New(cmd.Context(), cfg, app.WithFs(fsys), app.WithLogger(slog.Default()))
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.Close(ctx); err != nil {
				slog.Warn("Shutdown was not clean", "error", err)
			}
		}()

		slog.Info("Turnstile running",
			"topics", a.Registry.TopicSet().Count(),
			"subscriptions", a.Registry.Count(),
			"workers", len(a.Pool.Workers()),
		)
		return a.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runTopics, "topics", "topics.json", "Topics file (JSON or YAML)")
	runCmd.Flags().StringVar(&runControllers, "controllers", "", "Controllers file (JSON or YAML)")
	runCmd.Flags().StringVar(&runStatusAddr, "status-addr", ":8089", "Status API address, empty to disable")
	runCmd.Flags().DurationVar(&runPacing, "pacing", config.DefaultGatePacing, "Delay the local gate applies to every firing, 0 lets workers loop as fast as they can")
}
