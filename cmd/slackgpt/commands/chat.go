package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggendro/slack-gpt/pkg/slackgpt/channels"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/channels/console"
)

// newChatCmd creates the `slackgpt chat` command, a terminal conversation
// with the bot using the same store and commands as the Slack service.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the bot from the terminal",
		Long: `Start an interactive session with the bot. Every command available in
Slack works here too (/help, /topK 3, /admin ...).

Type ":thread NAME" to switch thread and ":pick N" to choose one of the
answers offered by /topK. Exit with Ctrl+D.

Examples:
  slackgpt chat
  slackgpt chat --thread design-review`,
		Args: cobra.NoArgs,
		RunE: runChat,
	}

	cmd.Flags().String("thread", "", "thread to start in")
	cmd.Flags().StringP("model", "m", "", "model for this session's scope")
	return cmd
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if model, _ := cmd.Flags().GetString("model"); model != "" {
		cfg.Defaults.Model = model
	}
	consoleCfg := cfg.Channels.Console
	if thread, _ := cmd.Flags().GetString("thread"); thread != "" {
		consoleCfg.Thread = thread
	}

	// Logs go to stderr so they do not interleave with the prompt.
	logger := newLogger(cmd, cfg, os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	term := console.New(consoleCfg, logger)
	manager := channels.NewManager(logger)
	if err := manager.Register(term); err != nil {
		a.close(ctx)
		return err
	}
	if err := manager.Start(ctx); err != nil {
		a.close(ctx)
		return fmt.Errorf("failed to open terminal: %w", err)
	}
	a.start(ctx)

	botDone := make(chan struct{})
	go func() {
		a.bot.Run(ctx, manager)
		close(botDone)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	select {
	case <-term.Done():
	case <-sigChan:
	}

	manager.Stop()
	<-botDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := a.close(shutdownCtx); err != nil {
		return fmt.Errorf("saving conversations: %w", err)
	}
	return nil
}
