package bot

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ggendro/slack-gpt/pkg/slackgpt/channels"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/conversation"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/llm"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/prompt"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/security"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/tokens"
)

// userAttributionPrefix is prepended to the author ID in the user field
// sent to the model provider.
const userAttributionPrefix = "slack-gpt-bot-"

// Notifier is told about every store mutation. *conversation.Autosaver
// implements it.
type Notifier interface {
	Notify()
}

// Deps are the collaborators of a Bot.
type Deps struct {
	Store  *conversation.Store
	Tokens *tokens.Registry
	Model  llm.Caller

	// Guard validates prompt input. Nil uses the default limits.
	Guard *security.InputGuardrail

	// Saver is notified after mutations. Optional.
	Saver Notifier

	Logger *slog.Logger
}

// Bot routes inbound messages to its handlers.
type Bot struct {
	cfg       *Config
	store     *conversation.Store
	tokens    *tokens.Registry
	assembler *prompt.Assembler
	model     llm.Caller
	guard     *security.InputGuardrail
	saver     Notifier
	logger    *slog.Logger

	wg sync.WaitGroup
}

// New creates a bot.
func New(cfg *Config, deps Deps) *Bot {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	guard := deps.Guard
	if guard == nil {
		guard = security.NewInputGuardrail(cfg.Security)
	}
	return &Bot{
		cfg:       cfg,
		store:     deps.Store,
		tokens:    deps.Tokens,
		assembler: prompt.NewAssembler(deps.Tokens, logger),
		model:     deps.Model,
		guard:     guard,
		saver:     deps.Saver,
		logger:    logger.With("component", "bot"),
	}
}

// Source yields inbound messages and the channel each one came from.
// *channels.Manager implements it.
type Source interface {
	Messages() <-chan *channels.IncomingMessage
	Channel(name string) (channels.Channel, bool)
}

// Run handles messages from src until it closes or ctx is done. Each message
// is handled in its own goroutine. Run waits for in-flight handlers before
// returning.
func (b *Bot) Run(ctx context.Context, src Source) {
	defer b.wg.Wait()
	in := src.Messages()
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return
			}
			ch, found := src.Channel(msg.Channel)
			if !found {
				b.logger.Warn("message from unknown channel", "channel", msg.Channel)
				continue
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.HandleMessage(ctx, ch, msg)
			}()

		case <-ctx.Done():
			return
		}
	}
}

// HandleMessage processes one inbound message, replying through m.
func (b *Bot) HandleMessage(ctx context.Context, m Messenger, msg *channels.IncomingMessage) {
	start := time.Now()
	logger := b.logger.With(
		"channel", msg.Channel,
		"scope", msg.ScopeID,
		"thread", msg.ThreadID,
		"from", msg.From,
		"msg_id", msg.ID,
	)

	if msg.Choice != nil {
		logger.Info("choice selected", "kind", msg.Choice.Kind)
		req := Request{ScopeID: msg.ScopeID, ThreadID: msg.ThreadID, Author: msg.From}
		b.safeHandle(ctx, m, req, func() error {
			if msg.Choice.Kind != ChoiceTopK {
				logger.Warn("unknown choice kind", "kind", msg.Choice.Kind)
				return nil
			}
			return b.SelectTopK(ctx, m, msg.ScopeID, msg.ThreadID, msg.Choice.Value)
		})
		return
	}

	req := RequestFrom(msg)
	logger.Info("incoming message", "mode", req.Mode, "content_preview", truncate(req.Text, 50))
	b.Handle(ctx, m, req)
	logger.Debug("message handled", "duration", time.Since(start))
}

// notify tells the saver that the store changed.
func (b *Bot) notify() {
	if b.saver != nil {
		b.saver.Notify()
	}
}

// fit trims history so the prompt fits the model's window.
func (b *Bot) fit(opts conversation.Options, unit prompt.Unit, turns []conversation.Turn) (*prompt.Result, error) {
	margin := b.cfg.SafetyMargin
	if b.cfg.SystemPrompt != "" {
		margin += b.tokens.EstimateTokens(opts.Model, b.cfg.SystemPrompt)
	}
	return b.assembler.Fit(opts.Model, unit, turns, prompt.Budget{
		Window:       b.tokens.ContextWindow(opts.Model),
		ReplyTokens:  opts.MaxReplyTokens,
		SafetyMargin: margin,
	})
}

// modelRequest renders a fitted prompt for the model's endpoint kind.
func (b *Bot) modelRequest(opts conversation.Options, res *prompt.Result, botID, author string, n int) llm.Request {
	req := llm.Request{
		Model:       opts.Model,
		Temperature: opts.Temperature,
		MaxTokens:   res.ReplyTokens,
		N:           n,
		User:        userAttributionPrefix + author,
	}
	if b.tokens.Kind(opts.Model) == tokens.KindCompletion {
		req.Mode = llm.ModeCompletion
		req.Prompt = prompt.CompletionText(res, b.cfg.SystemPrompt)
	} else {
		req.Mode = llm.ModeChat
		req.Messages = prompt.ChatMessages(res, botID, b.cfg.SystemPrompt)
	}
	return req
}

// cleanReply drops the leading blank lines models tend to emit.
func cleanReply(s string) string {
	return strings.TrimLeft(s, "\n")
}

// truncate keeps the first n characters of s, marking the cut.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
