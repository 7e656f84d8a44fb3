package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/ggendro/slack-gpt/pkg/slackgpt/channels"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/conversation"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/llm"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/prompt"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/security"
)

// Mode is one of the bot's commands.
type Mode string

const (
	ModePing    Mode = "ping"
	ModeHelp    Mode = "help"
	ModeAdmin   Mode = "admin"
	ModePrompt  Mode = "prompt"
	ModeTopK    Mode = "topK"
	ModeDalle2  Mode = "dalle2"
	ModeHistory Mode = "history"
)

// Modes returns every known mode.
func Modes() []Mode {
	return []Mode{ModePing, ModeHelp, ModeAdmin, ModePrompt, ModeTopK, ModeDalle2, ModeHistory}
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModePing, ModeHelp, ModeAdmin, ModePrompt, ModeTopK, ModeDalle2, ModeHistory:
		return true
	}
	return false
}

// Messages sent back for errors handled at the handler boundary.
const (
	msgCommandNotFound = "Command not found. Type /help for a list of commands."
	msgPromptTooLarge  = "The prompt is too long for the current engine. Please shorten it."
	msgNoHistory       = "No history found for this thread."
	msgInternalError   = "Sorry, something went wrong while handling your message."
	msgNoAPIKey        = "No API key is configured for the model provider. An admin can set one with: slackgpt config set-key"
)

// Messenger posts replies on the platform a request came from. Every
// channels.Channel is a Messenger.
type Messenger interface {
	SendMessage(ctx context.Context, msg *channels.OutgoingMessage) error
	SendImage(ctx context.Context, img *channels.ImageMessage) error
	BotIdentity() string
}

// Request is one inbound message after command parsing.
type Request struct {
	ScopeID  string
	ThreadID string
	Author   string

	// Mode is the requested command; empty selects the prompt handler.
	Mode Mode

	// Text is the message body without the command token.
	Text string
}

// ParseCommand splits an optional leading "/mode" token from text. ok is
// false when text does not start with a command.
func ParseCommand(text string) (mode Mode, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text, false
	}
	token, rest, _ := strings.Cut(text[1:], " ")
	if token == "" {
		return "", text, false
	}
	return Mode(token), strings.TrimSpace(rest), true
}

// RequestFrom builds a Request from an inbound message. A mode given by the
// platform (slash commands) wins over one written in the text.
func RequestFrom(msg *channels.IncomingMessage) Request {
	req := Request{
		ScopeID:  msg.ScopeID,
		ThreadID: msg.ThreadID,
		Author:   msg.From,
		Text:     strings.TrimSpace(msg.Text),
	}
	if msg.Mode != "" {
		req.Mode = Mode(msg.Mode)
		return req
	}
	if mode, rest, ok := ParseCommand(msg.Text); ok {
		req.Mode = mode
		req.Text = rest
	}
	return req
}

// Handle dispatches req to its handler. It never returns an error: every
// failure becomes one message in the request's thread.
func (b *Bot) Handle(ctx context.Context, m Messenger, req Request) {
	b.safeHandle(ctx, m, req, func() error {
		switch req.Mode {
		case "", ModePrompt:
			return b.handlePrompt(ctx, m, req)
		case ModePing:
			return b.handlePing(ctx, m, req)
		case ModeHelp:
			return b.reply(ctx, m, req, helpText)
		case ModeAdmin:
			return b.handleAdmin(ctx, m, req)
		case ModeTopK:
			return b.handleTopK(ctx, m, req)
		case ModeDalle2:
			return b.handleDalle2(ctx, m, req)
		case ModeHistory:
			return b.handleHistory(ctx, m, req)
		default:
			b.logger.Info("unrecognised mode", "mode", req.Mode)
			return b.reply(ctx, m, req, msgCommandNotFound)
		}
	})
}

// safeHandle runs fn and turns its error, or a panic, into one message.
func (b *Bot) safeHandle(ctx context.Context, m Messenger, req Request, fn func() error) {
	logger := b.logger.With("scope", req.ScopeID, "thread", req.ThreadID, "mode", req.Mode)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panic", "panic", r, "stack", string(debug.Stack()))
			b.sendNotice(ctx, m, req, msgInternalError)
		}
	}()

	err := fn()
	if err == nil {
		return
	}

	var (
		validation *ValidationError
		tooLarge   *prompt.PromptTooLargeError
		modelErr   *llm.ModelError
	)
	switch {
	case errors.As(err, &validation):
		b.sendNotice(ctx, m, req, validation.Message)
	case errors.As(err, &tooLarge):
		logger.Info("prompt too large", "error", err)
		b.sendNotice(ctx, m, req, msgPromptTooLarge)
	case errors.Is(err, conversation.ErrNotFound):
		b.sendNotice(ctx, m, req, msgNoHistory)
	case errors.Is(err, security.ErrInputTooLong), errors.Is(err, security.ErrRateLimited):
		b.sendNotice(ctx, m, req, capitalize(err.Error())+".")
	case errors.Is(err, llm.ErrNoAPIKey):
		logger.Error("model call without an API key", "error", err)
		b.sendNotice(ctx, m, req, msgNoAPIKey)
	case errors.As(err, &modelErr):
		logger.Warn("model call failed", "status", modelErr.StatusCode, "error", modelErr.Message)
		b.sendEphemeral(ctx, m, req, modelNotice(modelErr))
	default:
		logger.Error("handler failed", "error", err)
		b.sendNotice(ctx, m, req, msgInternalError)
	}
}

func modelNotice(err *llm.ModelError) string {
	if err.StatusCode == 0 {
		return fmt.Sprintf("The request to the model failed: %s", err.Message)
	}
	return fmt.Sprintf("The model returned an error (status %d): %s", err.StatusCode, err.Message)
}

// reply posts text in the request's thread.
func (b *Bot) reply(ctx context.Context, m Messenger, req Request, text string) error {
	return m.SendMessage(ctx, &channels.OutgoingMessage{
		ScopeID:  req.ScopeID,
		ThreadID: req.ThreadID,
		Text:     text,
	})
}

// sendNotice posts a message whose delivery failure is only logged.
func (b *Bot) sendNotice(ctx context.Context, m Messenger, req Request, text string) {
	if err := b.reply(ctx, m, req, text); err != nil {
		b.logger.Warn("failed to send notice", "scope", req.ScopeID, "error", err)
	}
}

// sendEphemeral shows text to the author only where the platform allows.
func (b *Bot) sendEphemeral(ctx context.Context, m Messenger, req Request, text string) {
	err := m.SendMessage(ctx, &channels.OutgoingMessage{
		ScopeID:   req.ScopeID,
		ThreadID:  req.ThreadID,
		Text:      text,
		Ephemeral: true,
		User:      req.Author,
	})
	if err != nil {
		b.logger.Warn("failed to send notice", "scope", req.ScopeID, "error", err)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
