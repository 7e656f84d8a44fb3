package prompt

import (
	"strings"

	"github.com/ggendro/slack-gpt/pkg/slackgpt/conversation"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/llm"
)

// MentionTag renders a user ID the way Slack and Discord mention users.
func MentionTag(userID string) string {
	return "<@" + userID + ">"
}

// BuildOptions controls how history and the new message become a prompt.
type BuildOptions struct {
	// TagUsers prefixes every text with "<author>: " and opens the
	// assistant's reply with "<bot>: ".
	TagUsers bool

	// BotID is the bot's own user ID.
	BotID string

	// Tag renders an author label. Defaults to MentionTag.
	Tag func(userID string) string
}

// Build turns stored history and a new message into context and prompt
// unit. Authors are kept as raw IDs; only the texts carry the labels.
func Build(history []conversation.Turn, author, text string, opts BuildOptions) ([]conversation.Turn, Unit) {
	tag := opts.Tag
	if tag == nil {
		tag = MentionTag
	}

	context := make([]conversation.Turn, len(history))
	for i, t := range history {
		if opts.TagUsers {
			t.Text = tag(t.Author) + ": " + t.Text
		}
		context[i] = t
	}

	if !opts.TagUsers {
		return context, Single{Turn: conversation.Turn{Author: author, Text: text}}
	}
	return context, WithAssistantStart{
		User:            conversation.Turn{Author: author, Text: tag(author) + ": " + text},
		AssistantPrefix: conversation.Turn{Author: opts.BotID, Text: tag(opts.BotID) + ": "},
	}
}

// ChatMessages converts a fitted result into role-tagged messages. Turns by
// the bot become assistant messages, every other turn a user message. The
// assistant-start prefix of the unit is not sent to chat models.
func ChatMessages(res *Result, botID, systemPrompt string) []llm.Message {
	msgs := make([]llm.Message, 0, len(res.Context)+2)
	if systemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: systemPrompt})
	}
	for _, t := range res.Context {
		role := "user"
		if t.Author == botID {
			role = "assistant"
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: userTurn(res.Unit).Text})
	return msgs
}

// CompletionText joins context and unit with newlines for a raw-text model.
// With an assistant-start unit the text ends with the reply opening.
func CompletionText(res *Result, systemPrompt string) string {
	parts := make([]string, 0, len(res.Context)+3)
	if systemPrompt != "" {
		parts = append(parts, systemPrompt)
	}
	for _, t := range res.Context {
		parts = append(parts, t.Text)
	}
	for _, t := range res.Unit.Turns() {
		parts = append(parts, t.Text)
	}
	return strings.Join(parts, "\n")
}
