package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ggendro/slack-gpt/pkg/slackgpt/channels"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/conversation"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/llm"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/prompt"
)

// ChoiceTopK is the choice kind of top-K answer buttons.
const ChoiceTopK = "top_k"

// Bounds of k.
const (
	MinTopK = 1
	MaxTopK = 10
)

const topKChoicePrompt = "Select one answer to replace the previous reply. Please, do not prompt another query in the meantime."

// ParseTopK validates the k argument of the topK command.
func ParseTopK(s string) (int, error) {
	k, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, &ValidationError{Option: "k", Message: "Please enter a valid integer for k."}
	}
	if k < MinTopK || k > MaxTopK {
		return 0, &ValidationError{Option: "k", Message: fmt.Sprintf("Please enter a valid integer for k (%d-%d).", MinTopK, MaxTopK)}
	}
	return k, nil
}

// handleTopK asks again for the last user prompt of the thread, this time
// for k candidates, and offers them as choices. Nothing is stored until one
// is picked.
func (b *Bot) handleTopK(ctx context.Context, m Messenger, req Request) error {
	k, err := ParseTopK(req.Text)
	if err != nil {
		return err
	}

	history := b.store.History(req.ScopeID, req.ThreadID)
	if len(history) < 2 {
		return fmt.Errorf("top-k: %w", conversation.ErrNotFound)
	}
	opts := b.store.Options(req.ScopeID, req.ThreadID)
	if !opts.HistoryEnabled {
		return &ValidationError{Message: "History is not enabled for this thread."}
	}

	botID := m.BotIdentity()
	last := history[len(history)-2]
	turns, unit := prompt.Build(history[:len(history)-2], last.Author, last.Text, prompt.BuildOptions{
		TagUsers: opts.SaveUsersEnabled,
		BotID:    botID,
	})

	res, err := b.fit(opts, unit, turns)
	if err != nil {
		return err
	}

	replies, err := b.model.Complete(ctx, b.modelRequest(opts, res, botID, req.Author, k))
	if err != nil {
		return err
	}
	if len(replies) == 0 {
		return &llm.ModelError{Message: errEmptyReply.Error()}
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Top-%d answers from ChatGPT for the last prompt:", k)
	options := make([]channels.ChoiceOption, len(replies))
	for i, r := range replies {
		r = cleanReply(r)
		fmt.Fprintf(&text, "\n%d. %s", i+1, r)
		options[i] = channels.ChoiceOption{Label: strconv.Itoa(i + 1), Value: r}
	}

	return m.SendMessage(ctx, &channels.OutgoingMessage{
		ScopeID:  req.ScopeID,
		ThreadID: req.ThreadID,
		Text:     text.String(),
		Choices: &channels.ChoiceSet{
			Kind:    ChoiceTopK,
			Prompt:  topKChoicePrompt,
			Options: options,
		},
	})
}

// SelectTopK posts the picked candidate and makes it the thread's last bot
// turn, replacing the reply it was generated against.
func (b *Bot) SelectTopK(ctx context.Context, m Messenger, scopeID, threadID, text string) error {
	req := Request{ScopeID: scopeID, ThreadID: threadID}
	if err := b.reply(ctx, m, req, text); err != nil {
		return fmt.Errorf("posting selection: %w", err)
	}
	if err := b.store.ReplaceLastTurn(scopeID, threadID, m.BotIdentity(), text); err != nil {
		return err
	}
	b.notify()
	return nil
}
