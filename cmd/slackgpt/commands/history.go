package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ggendro/slack-gpt/pkg/slackgpt/bot"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/conversation"
)

// newHistoryCmd creates the `slackgpt history` command group, which reads a
// saved conversation document without starting the bot.
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect saved conversations",
		Long: `Read the saved conversation document (the configured load path, or the
newest SQLite snapshot with --sqlite) and print its scopes, threads and
turns.

Examples:
  slackgpt history scopes
  slackgpt history show C024BE91L
  slackgpt history show C024BE91L 1700000000.000100
  slackgpt history save backup.json`,
	}
	cmd.PersistentFlags().Bool("sqlite", false, "read the newest SQLite snapshot instead of the JSON file")

	cmd.AddCommand(
		newHistoryScopesCmd(),
		newHistoryShowCmd(),
		newHistorySaveCmd(),
	)
	return cmd
}

func newHistoryScopesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scopes",
		Short: "List saved scopes and their thread counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := loadSavedStore(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			scopes := store.Scopes()
			if len(scopes) == 0 {
				fmt.Fprintln(out, "No saved conversations.")
				return nil
			}
			for _, scope := range scopes {
				fmt.Fprintf(out, "%s\t%d threads\n", scope, len(store.Threads(scope)))
			}
			return nil
		},
	}
}

func newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <scope> [thread]",
		Short: "Print a scope's options, or a thread's options and turns",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadSavedStore(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			scope := args[0]
			if len(args) == 1 {
				printOptions(out, store.Options(scope, ""))
				for _, thread := range store.Threads(scope) {
					fmt.Fprintf(out, "thread %s: %d turns\n", thread, len(store.History(scope, thread)))
				}
				return nil
			}

			thread := args[1]
			printOptions(out, store.Options(scope, thread))
			for _, turn := range store.History(scope, thread) {
				fmt.Fprintf(out, "%s: %s\n", turn.Author, turn.Text)
			}
			return nil
		},
	}
}

func newHistorySaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save <path>",
		Short: "Write the saved conversations to another JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadSavedStore(cmd)
			if err != nil {
				return err
			}
			if err := store.PersistPaths(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %d scopes to %s\n", len(store.Scopes()), args[0])
			return nil
		},
	}
}

// loadSavedStore reads the configured document into a fresh store.
func loadSavedStore(cmd *cobra.Command) (*conversation.Store, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd, cfg, cmd.ErrOrStderr())
	store := conversation.NewStore(cfg.Defaults, logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	useSQLite, _ := cmd.Flags().GetBool("sqlite")
	if useSQLite {
		return store, loadFromSQLite(ctx, store, cfg, logger)
	}
	if cfg.Persistence.LoadPath == "" {
		return nil, fmt.Errorf("no load_path configured")
	}
	if err := store.LoadPath(ctx, cfg.Persistence.LoadPath); err != nil {
		return nil, err
	}
	return store, nil
}

func loadFromSQLite(ctx context.Context, store *conversation.Store, cfg *bot.Config, logger *slog.Logger) error {
	if cfg.Persistence.SQLitePath == "" {
		return fmt.Errorf("no sqlite_path configured")
	}
	db, err := conversation.OpenSQLiteTarget(cfg.Persistence.SQLitePath, cfg.Persistence.SQLiteRetention)
	if err != nil {
		return err
	}
	defer db.Close()

	if n, err := db.Count(ctx); err == nil {
		logger.Debug("snapshots available", "count", n)
	}
	return store.Load(ctx, db)
}

func printOptions(w io.Writer, opts conversation.Options) {
	for _, name := range conversation.OptionNames() {
		v, _ := opts.Get(name)
		fmt.Fprintf(w, "%s = %v\n", name, v)
	}
}
