// Package prompt fits a new message and its conversation context into a
// model's token budget and formats the result for the chat or completion
// API.
package prompt

import "github.com/ggendro/slack-gpt/pkg/slackgpt/conversation"

// Unit is the new prompt: either a single turn, or a user turn followed by
// the opening of the assistant's reply.
type Unit interface {
	// Turns returns the unit's turns in order.
	Turns() []conversation.Turn
	isUnit()
}

// Single is a prompt made of one turn.
type Single struct {
	Turn conversation.Turn
}

func (u Single) Turns() []conversation.Turn { return []conversation.Turn{u.Turn} }
func (Single) isUnit()                      {}

// WithAssistantStart pairs the user turn with a partial assistant turn
// ("<@bot>: ") that the model is expected to continue.
type WithAssistantStart struct {
	User            conversation.Turn
	AssistantPrefix conversation.Turn
}

func (u WithAssistantStart) Turns() []conversation.Turn {
	return []conversation.Turn{u.User, u.AssistantPrefix}
}
func (WithAssistantStart) isUnit() {}

// userTurn returns the turn authored by the user.
func userTurn(u Unit) conversation.Turn {
	switch v := u.(type) {
	case Single:
		return v.Turn
	case WithAssistantStart:
		return v.User
	default:
		return conversation.Turn{}
	}
}
