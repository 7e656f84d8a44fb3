// Package channels defines the platform adapters of the bot. Each platform
// (Slack, Discord, the local console) implements Channel to deliver inbound
// messages and post replies, images and answer choices.
package channels

import (
	"context"
	"errors"
	"time"
)

// Channel is one chat platform connection.
type Channel interface {
	// Name returns the channel identifier (e.g. "slack", "discord").
	Name() string

	// Connect establishes the connection to the platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Receive returns a Go channel that emits inbound messages.
	Receive() <-chan *IncomingMessage

	// SendMessage posts text, and optionally a set of choices, in a thread.
	SendMessage(ctx context.Context, msg *OutgoingMessage) error

	// SendImage posts an image in a thread.
	SendImage(ctx context.Context, img *ImageMessage) error

	// BotIdentity returns the bot's own user ID on the platform.
	BotIdentity() string

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// IncomingMessage is a message or interaction received from a platform.
type IncomingMessage struct {
	// ID is the platform message identifier.
	ID string

	// Channel is the name of the source Channel.
	Channel string

	// ScopeID identifies the top-level container (Slack or Discord channel).
	ScopeID string

	// ThreadID identifies the reply chain inside the scope. Empty for
	// messages outside any thread, such as slash commands.
	ThreadID string

	// From is the sender's user ID.
	From string

	// FromName is the sender's display name when known.
	FromName string

	// Text is the message body with the bot mention removed.
	Text string

	// Mode is the explicit command given by the platform (a slash command
	// name), or empty.
	Mode string

	// Choice is set when the user picked one of the Choices of an earlier
	// OutgoingMessage.
	Choice *Choice

	Timestamp time.Time
}

// Choice is the user's pick among the choices of a message.
type Choice struct {
	// Kind is the ChoiceSet kind the pick belongs to.
	Kind string

	// Value is the full payload of the picked choice.
	Value string
}

// OutgoingMessage is a reply posted by the bot.
type OutgoingMessage struct {
	ScopeID  string
	ThreadID string
	Text     string

	// Choices offers buttons, one per candidate.
	Choices *ChoiceSet

	// Ephemeral shows the message to User only, where supported.
	Ephemeral bool
	User      string
}

// ChoiceSet is a group of selectable buttons.
type ChoiceSet struct {
	// Kind is returned in Choice.Kind when one is picked.
	Kind string

	// Prompt is shown above the buttons.
	Prompt string

	Options []ChoiceOption
}

// ChoiceOption is one button. Value may be arbitrarily long; adapters
// that cannot carry it in the button itself keep it server-side.
type ChoiceOption struct {
	Label string
	Value string
}

// ImageMessage is an image posted by the bot.
type ImageMessage struct {
	ScopeID  string
	ThreadID string
	URL      string
	Title    string
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
}

// Errors.
var (
	ErrChannelDisconnected = errors.New("channel is not connected")
	ErrChannelNotFound     = errors.New("channel not found")
)
