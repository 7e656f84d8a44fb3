package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ggendro/slack-gpt/pkg/slackgpt/channels"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/conversation"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/llm"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/prompt"
)

const helpText = "The help command provides you with a list of available commands and their functions. Commands: \n" +
	"ping: I'm here! :robot_face: \n" +
	"help: This message. \n" +
	"admin: Admin commands. Type /admin help for more details. \n" +
	"prompt: Create a prompt for ChatGPT. \n" +
	"topK: Display the top-K replies of ChatGPT for the last prompt. \n" +
	"dalle2: Create a prompt for DALLE2. \n" +
	"history: View history of conversations."

var errEmptyReply = errors.New("model returned no candidates")

func (b *Bot) handlePing(ctx context.Context, m Messenger, req Request) error {
	return b.reply(ctx, m, req, fmt.Sprintf("Hi %s, I'm here! :robot_face:", prompt.MentionTag(req.Author)))
}

// handlePrompt sends the message with the thread's history to the model and
// posts the reply. The exchange is stored only once the reply is posted.
func (b *Bot) handlePrompt(ctx context.Context, m Messenger, req Request) error {
	if req.Text == "" {
		return &ValidationError{Message: "Please write a prompt after the command."}
	}
	if err := b.guard.Validate(req.Author, req.Text); err != nil {
		return err
	}

	b.store.EnsureThread(req.ScopeID, req.ThreadID)
	opts := b.store.Options(req.ScopeID, req.ThreadID)
	botID := m.BotIdentity()

	var history []conversation.Turn
	if opts.HistoryEnabled {
		history = b.store.History(req.ScopeID, req.ThreadID)
	}
	turns, unit := prompt.Build(history, req.Author, req.Text, prompt.BuildOptions{
		TagUsers: opts.SaveUsersEnabled,
		BotID:    botID,
	})

	res, err := b.fit(opts, unit, turns)
	if err != nil {
		return err
	}

	replies, err := b.model.Complete(ctx, b.modelRequest(opts, res, botID, req.Author, 1))
	if err != nil {
		return err
	}
	if len(replies) == 0 {
		return &llm.ModelError{Message: errEmptyReply.Error()}
	}
	reply := cleanReply(replies[0])

	if err := b.reply(ctx, m, req, reply); err != nil {
		return fmt.Errorf("posting reply: %w", err)
	}

	if opts.HistoryEnabled {
		b.store.AppendTurns(req.ScopeID, req.ThreadID,
			conversation.Turn{Author: req.Author, Text: req.Text},
			conversation.Turn{Author: botID, Text: reply},
		)
		b.notify()
	}
	return nil
}

// handleHistory lists the thread's turns with the tokens they use.
func (b *Bot) handleHistory(ctx context.Context, m Messenger, req Request) error {
	history := b.store.History(req.ScopeID, req.ThreadID)
	if len(history) == 0 {
		return fmt.Errorf("history: %w", conversation.ErrNotFound)
	}
	opts := b.store.Options(req.ScopeID, req.ThreadID)

	lines := make([]string, len(history))
	for i, t := range history {
		if opts.SaveUsersEnabled {
			lines[i] = prompt.MentionTag(t.Author) + ": " + t.Text
		} else {
			lines[i] = t.Text
		}
	}
	body := strings.Join(lines, "\n")

	used := b.tokens.EstimateTokens(opts.Model, body)
	window := b.tokens.ContextWindow(opts.Model)
	return b.reply(ctx, m, req, fmt.Sprintf(
		"Here is my current available history (number of tokens used: %d / %d):\n%s", used, window, body))
}

// handleDalle2 generates an image from the prompt and posts it.
func (b *Bot) handleDalle2(ctx context.Context, m Messenger, req Request) error {
	if req.Text == "" {
		return &ValidationError{Message: "Please describe the image to generate."}
	}
	if err := b.guard.Validate(req.Author, req.Text); err != nil {
		return err
	}

	img, err := b.model.GenerateImage(ctx, llm.ImageRequest{
		Prompt: req.Text,
		User:   userAttributionPrefix + req.Author,
	})
	if err != nil {
		return err
	}

	return m.SendImage(ctx, &channels.ImageMessage{
		ScopeID:  req.ScopeID,
		ThreadID: req.ThreadID,
		URL:      img.URL,
		Title:    truncate(req.Text, 200),
	})
}
