package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggendro/slack-gpt/pkg/slackgpt/bot"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/conversation"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/llm"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/tokens"
)

// app is the bot with its store, persistence and model client wired up.
type app struct {
	cfg       *bot.Config
	logger    *slog.Logger
	store     *conversation.Store
	autosaver *conversation.Autosaver
	sqlite    *conversation.SQLiteTarget
	bot       *bot.Bot
}

// newApp resolves secrets, validates cfg, restores saved conversations and
// builds the bot.
func newApp(ctx context.Context, cfg *bot.Config, logger *slog.Logger) (*app, error) {
	bot.ResolveSecrets(cfg, logger)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry := tokens.NewRegistry(
		cfg.Catalog(),
		tokens.FallbackFactory(tokens.TiktokenFactory, logger),
		logger,
	)
	store := conversation.NewStore(cfg.Defaults, logger)

	a := &app{cfg: cfg, logger: logger, store: store}

	now := time.Now()
	var targets []conversation.Target
	for _, path := range cfg.Persistence.SavePaths {
		targets = append(targets, conversation.NewFileTarget(path, now))
	}
	if cfg.Persistence.SQLitePath != "" {
		db, err := conversation.OpenSQLiteTarget(cfg.Persistence.SQLitePath, cfg.Persistence.SQLiteRetention)
		if err != nil {
			return nil, fmt.Errorf("opening snapshot database: %w", err)
		}
		a.sqlite = db
		targets = append(targets, db)
	}

	// A missing or corrupt save is a cold start; Load already logged it.
	switch {
	case cfg.Persistence.LoadPath != "":
		_ = store.LoadPath(ctx, cfg.Persistence.LoadPath)
	case a.sqlite != nil:
		_ = store.Load(ctx, a.sqlite)
	}

	autosaver, err := conversation.NewAutosaver(store, targets, cfg.Persistence.Autosave, logger)
	if err != nil {
		a.closeDB()
		return nil, err
	}
	a.autosaver = autosaver

	a.bot = bot.New(cfg, bot.Deps{
		Store:  store,
		Tokens: registry,
		Model:  llm.NewClient(cfg.API, logger),
		Saver:  autosaver,
		Logger: logger,
	})
	return a, nil
}

// start launches the autosave timer.
func (a *app) start(ctx context.Context) {
	a.autosaver.Start(ctx)
}

// close writes a final snapshot and releases the database.
func (a *app) close(ctx context.Context) error {
	err := a.autosaver.Stop(ctx)
	return errors.Join(err, a.closeDB())
}

func (a *app) closeDB() error {
	if a.sqlite == nil {
		return nil
	}
	return a.sqlite.Close()
}
