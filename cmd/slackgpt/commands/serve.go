package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggendro/slack-gpt/pkg/slackgpt/bot"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/channels"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/channels/discord"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/channels/slack"
)

// newServeCmd creates the `slackgpt serve` command that runs the bot.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to Slack (and Discord) and answer messages",
		Long: `Start slack-gpt as a service, connecting to the configured chat
platforms and answering mentions, direct messages and slash commands.

Conversations are restored from the configured load path and written back
on the autosave schedule, after every change, and on shutdown.

Examples:
  slackgpt serve
  slackgpt serve --channel slack
  slackgpt serve --config ./config.yaml`,
		RunE: runServe,
	}

	cmd.Flags().StringSlice("channel", nil, "channels to enable (slack, discord)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := newLogger(cmd, cfg, nil)
	if path != "" {
		logger.Info("config loaded", "path", path)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	manager := channels.NewManager(logger)
	filter, _ := cmd.Flags().GetStringSlice("channel")
	if err := registerChannels(manager, cfg, filter, logger); err != nil {
		a.close(ctx)
		return err
	}

	if err := manager.Start(ctx); err != nil {
		a.close(ctx)
		return fmt.Errorf("failed to start channels: %w", err)
	}
	a.start(ctx)

	botDone := make(chan struct{})
	go func() {
		a.bot.Run(ctx, manager)
		close(botDone)
	}()

	logger.Info("slack-gpt running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"channels", manager.Names(),
		"model", cfg.Defaults.Model,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	// Graceful shutdown with timeout.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		manager.Stop()
		<-botDone
		if err := a.close(shutdownCtx); err != nil {
			logger.Error("final save failed", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}
	return nil
}

// registerChannels registers the platforms selected by filter, or every
// platform with credentials when filter is empty.
func registerChannels(m *channels.Manager, cfg *bot.Config, filter []string, logger *slog.Logger) error {
	slackCfg := cfg.Channels.Slack
	discordCfg := cfg.Channels.Discord

	hasSlack := slackCfg.BotToken != "" && slackCfg.AppToken != ""
	if shouldEnable("slack", filter, hasSlack) {
		if err := m.Register(slack.New(slackCfg, logger)); err != nil {
			return err
		}
	}
	if shouldEnable("discord", filter, discordCfg.Token != "") {
		if err := m.Register(discord.New(discordCfg, logger)); err != nil {
			return err
		}
	}
	if len(m.Names()) == 0 {
		return fmt.Errorf("no channel configured: set the Slack tokens or a Discord token")
	}
	logger.Info("channels selected", "channels", m.Names())
	return nil
}

// shouldEnable checks if a channel should be enabled.
func shouldEnable(name string, filter []string, defaultEnabled bool) bool {
	if len(filter) == 0 {
		return defaultEnabled
	}
	for _, f := range filter {
		if f == name {
			return true
		}
	}
	return false
}
