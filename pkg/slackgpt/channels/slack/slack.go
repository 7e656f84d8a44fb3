// Package slack implements the Slack channel using the Slack Web API for
// posting and Socket Mode (a WebSocket opened by the bot) for receiving
// mentions, direct messages, slash commands and button clicks.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/ggendro/slack-gpt/pkg/slackgpt/channels"
)

// Config holds Slack channel configuration.
type Config struct {
	// BotToken is the Slack Bot User OAuth Token (xoxb-...).
	BotToken string `yaml:"bot_token"`

	// AppToken is the Slack App-Level Token for Socket Mode (xapp-...).
	AppToken string `yaml:"app_token"`

	// AllowedChannels restricts which channel IDs the bot responds in.
	// Empty means respond in all channels.
	AllowedChannels []string `yaml:"allowed_channels"`

	// APIBase overrides https://slack.com/api (tests).
	APIBase string `yaml:"-"`
}

// Slack implements channels.Channel.
type Slack struct {
	cfg     Config
	apiBase string
	logger  *slog.Logger
	client  *http.Client
	dialer  *websocket.Dialer

	botUserID string
	choices   *choiceStore

	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Slack channel instance.
func New(cfg Config, logger *slog.Logger) *Slack {
	if logger == nil {
		logger = slog.Default()
	}
	base := cfg.APIBase
	if base == "" {
		base = "https://slack.com/api"
	}
	return &Slack{
		cfg:      cfg,
		apiBase:  base,
		logger:   logger.With("component", "slack"),
		client:   &http.Client{Timeout: 30 * time.Second},
		dialer:   websocket.DefaultDialer,
		choices:  newChoiceStore(1000),
		messages: make(chan *channels.IncomingMessage, 256),
		ctx:      context.Background(),
	}
}

// ---------- Channel Interface ----------

// Name returns "slack".
func (s *Slack) Name() string { return "slack" }

// Connect verifies the bot token and starts the Socket Mode loop.
func (s *Slack) Connect(ctx context.Context) error {
	if s.cfg.BotToken == "" {
		return fmt.Errorf("slack: bot_token is required")
	}
	if s.cfg.AppToken == "" {
		return fmt.Errorf("slack: app_token is required for Socket Mode")
	}
	if s.connected.Load() {
		return nil
	}

	// The loop outlives the Connect call, so it must not inherit a
	// short-lived startup context.
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	identity, err := s.authTest()
	if err != nil {
		s.cancel()
		return fmt.Errorf("slack: auth.test failed: %w", err)
	}
	s.botUserID = identity.UserID
	s.logger.Info("slack: connected", "bot", identity.User, "team", identity.Team, "user_id", identity.UserID)
	s.connected.Store(true)

	go s.socketModeLoop()
	return nil
}

// Disconnect stops the Socket Mode connection.
func (s *Slack) Disconnect() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.connected.Store(false)
	s.logger.Info("slack: disconnected")
	return nil
}

// Receive returns the incoming messages channel.
func (s *Slack) Receive() <-chan *channels.IncomingMessage {
	return s.messages
}

// BotIdentity returns the bot's Slack user ID.
func (s *Slack) BotIdentity() string { return s.botUserID }

// IsConnected returns true if the bot is connected.
func (s *Slack) IsConnected() bool { return s.connected.Load() }

// Health returns the channel health status.
func (s *Slack) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := s.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     s.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(s.errorCount.Load()),
	}
}

// SendMessage posts a message in a thread, as an ephemeral notice when
// requested. Choices become buttons below the text.
func (s *Slack) SendMessage(ctx context.Context, msg *channels.OutgoingMessage) error {
	if !s.connected.Load() {
		return channels.ErrChannelDisconnected
	}

	payload := map[string]any{
		"channel": msg.ScopeID,
		"text":    msg.Text,
	}
	if msg.ThreadID != "" {
		payload["thread_ts"] = msg.ThreadID
	}
	if msg.Choices != nil && len(msg.Choices.Options) > 0 {
		payload["attachments"] = []map[string]any{{
			"fallback": msg.Choices.Prompt,
			"blocks":   s.choiceBlocks(msg.Choices),
		}}
	}

	method := "chat.postMessage"
	if msg.Ephemeral && msg.User != "" {
		method = "chat.postEphemeral"
		payload["user"] = msg.User
	}

	_, err := s.apiCall(ctx, method, payload)
	return err
}

// SendImage posts an image block in a thread.
func (s *Slack) SendImage(ctx context.Context, img *channels.ImageMessage) error {
	if !s.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	if img.URL == "" {
		return fmt.Errorf("slack: image URL is required")
	}

	title := img.Title
	if title == "" {
		title = "image"
	}
	payload := map[string]any{
		"channel": img.ScopeID,
		"text":    title,
		"blocks": []map[string]any{{
			"type":      "image",
			"image_url": img.URL,
			"alt_text":  title,
			"title":     map[string]any{"type": "plain_text", "text": truncate(title, 2000)},
		}},
	}
	if img.ThreadID != "" {
		payload["thread_ts"] = img.ThreadID
	}

	_, err := s.apiCall(ctx, "chat.postMessage", payload)
	return err
}

// choiceBlocks renders a ChoiceSet as a section plus an actions block. The
// full option values stay in the choice store; buttons carry references.
func (s *Slack) choiceBlocks(set *channels.ChoiceSet) []map[string]any {
	buttons := make([]map[string]any, 0, len(set.Options))
	for i, opt := range set.Options {
		buttons = append(buttons, map[string]any{
			"type":      "button",
			"text":      map[string]any{"type": "plain_text", "text": opt.Label},
			"action_id": fmt.Sprintf("%s%s:%d", choiceActionPrefix, set.Kind, i),
			"value":     s.choices.put(opt.Value),
		})
	}
	return []map[string]any{
		{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": set.Prompt},
		},
		{
			"type":     "actions",
			"elements": buttons,
		},
	}
}

func (s *Slack) allowed(channelID string) bool {
	if len(s.cfg.AllowedChannels) == 0 {
		return true
	}
	for _, id := range s.cfg.AllowedChannels {
		if id == channelID {
			return true
		}
	}
	return false
}

func (s *Slack) emit(msg *channels.IncomingMessage) {
	s.lastMsg.Store(time.Now())
	select {
	case s.messages <- msg:
	default:
		s.logger.Warn("slack: message buffer full", "msg_id", msg.ID)
	}
}

// truncate keeps the first n characters of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// Compile-time interface verification.
var _ channels.Channel = (*Slack)(nil)
