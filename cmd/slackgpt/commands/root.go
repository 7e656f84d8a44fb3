// Package commands implements the slack-gpt CLI commands using cobra.
package commands

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ggendro/slack-gpt/pkg/slackgpt/bot"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "slackgpt",
		Short: "slack-gpt - a GPT assistant for Slack and Discord",
		Long: `slack-gpt answers mentions in Slack (and Discord) threads with an
OpenAI-compatible model, keeping a per-thread history and per-channel
settings that admins change with /admin.

Examples:
  slackgpt serve
  slackgpt serve --channel slack
  slackgpt chat
  slackgpt history show C024BE91L`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newConfigCmd(),
		newSetupCmd(),
		newHistoryCmd(),
		newCompletionCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logs")

	return rootCmd
}

// loadConfig loads the --config file, or the first one found, or defaults.
func loadConfig(cmd *cobra.Command) (*bot.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	return bot.LoadConfig(configPath)
}

// newLogger builds the process logger from the logging config and the
// --verbose flag.
func newLogger(cmd *cobra.Command, cfg *bot.Config, w io.Writer) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")

	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Logging.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
