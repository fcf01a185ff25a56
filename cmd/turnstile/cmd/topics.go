package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/nfrund/turnstile/cmd/turnstile/internal/display"
)

var (
	topicsFile    string
	topicsFormat  string
	validateWatch bool
)

// topicsCmd represents the topics command
var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Inspect and validate topics files",
	Long: `The topics command reads a topics file (JSON or YAML) and shows or checks
what it declares: permissions, guard callbacks per step and fire callbacks.

Examples:
  # List all topics
  turnstile topics list --file topics.json

  # Show one topic as JSON
  turnstile topics get Pump --file topics.yaml --format json

  # Validate a file and keep validating it on every change
  turnstile topics validate --file topics.json --watch`,
}

var topicsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all topics of a file",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadTopics(topicsFile)
		if err != nil {
			return err
		}
		switch topicsFormat {
		case "json":
			return display.TopicsJSON(cmd.OutOrStdout(), reg)
		case "table":
			return display.TopicsTable(cmd.OutOrStdout(), reg)
		default:
			return unsupportedFormat(topicsFormat)
		}
	},
}

var topicsGetCmd = &cobra.Command{
	Use:   "get <topic-name>",
	Short: "Show everything a topic declares",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if topicsFormat != "table" && topicsFormat != "json" {
			return unsupportedFormat(topicsFormat)
		}
		reg, err := loadTopics(topicsFile)
		if err != nil {
			return err
		}
		t, ok := reg.Get(args[0])
		if !ok {
			return fmt.Errorf("topic %q not found in %s, use 'turnstile topics list' to see all topics", args[0], topicsFile)
		}
		return display.TopicDetails(cmd.OutOrStdout(), reg, t, topicsFormat)
	},
}

var topicsValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a topics file",
	Long: `Validate a topics file against the topics schema and the loader rules:
names present and unique, permissions and guard sets well formed.

With --watch the file is validated again every time it changes, until
interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		validate := func() error {
			reg, err := loadTopics(topicsFile)
			display.ValidationResult(cmd.OutOrStdout(), topicsFile, reg, err)
			return err
		}

		err := validate()
		if !validateWatch {
			return err
		}
		return watchFile(cmd.Context(), topicsFile, func() { _ = validate() })
	},
}

func init() {
	rootCmd.AddCommand(topicsCmd)
	topicsCmd.AddCommand(topicsListCmd, topicsGetCmd, topicsValidateCmd)

	topicsCmd.PersistentFlags().StringVar(&topicsFile, "file", "topics.json", "Topics file (JSON or YAML)")
	topicsListCmd.Flags().StringVarP(&topicsFormat, "format", "f", "table", "Output format (table, json)")
	topicsGetCmd.Flags().StringVarP(&topicsFormat, "format", "f", "table", "Output format (table, json)")
	topicsValidateCmd.Flags().BoolVarP(&validateWatch, "watch", "w", false, "Validate again whenever the file changes")
}

// watchFile calls fn whenever path is written or recreated, until ctx ends.
// The parent directory is watched so that editors replacing the file are seen.
func watchFile(ctx context.Context, path string, fn func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file system watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	slog.Debug("Watching topics file", "path", abs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				slog.Debug("Topics file changed", "event", event.Op.String(), "path", event.Name)
				fn()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("File system watcher error", "error", err)
		}
	}
}
