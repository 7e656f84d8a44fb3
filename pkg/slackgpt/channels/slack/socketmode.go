package slack

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ggendro/slack-gpt/pkg/slackgpt/channels"
)

// envelope is one Socket Mode frame.
type envelope struct {
	EnvelopeID string          `json:"envelope_id"`
	Type       string          `json:"type"`
	Reason     string          `json:"reason"`
	Payload    json.RawMessage `json:"payload"`
}

type eventsAPIPayload struct {
	Event slackEvent `json:"event"`
}

type slackEvent struct {
	Type        string `json:"type"`
	Subtype     string `json:"subtype"`
	User        string `json:"user"`
	BotID       string `json:"bot_id"`
	Text        string `json:"text"`
	TS          string `json:"ts"`
	ThreadTS    string `json:"thread_ts"`
	Channel     string `json:"channel"`
	ChannelType string `json:"channel_type"`
}

type slashPayload struct {
	Command   string `json:"command"`
	Text      string `json:"text"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	ChannelID string `json:"channel_id"`
	TriggerID string `json:"trigger_id"`
}

type interactivePayload struct {
	Type string `json:"type"`
	User struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"user"`
	Channel struct {
		ID string `json:"id"`
	} `json:"channel"`
	Container struct {
		MessageTS string `json:"message_ts"`
		ThreadTS  string `json:"thread_ts"`
	} `json:"container"`
	Message struct {
		TS       string `json:"ts"`
		ThreadTS string `json:"thread_ts"`
	} `json:"message"`
	Actions []struct {
		ActionID string `json:"action_id"`
		Value    string `json:"value"`
	} `json:"actions"`
}

// socketModeLoop keeps a Socket Mode connection open, reconnecting with
// exponential backoff until the channel is disconnected.
func (s *Slack) socketModeLoop() {
	s.logger.Info("slack: socket mode starting")
	backoff := time.Second

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("slack: socket mode stopped")
			return
		default:
		}

		wsURL, err := s.openConnection()
		if err == nil {
			backoff = time.Second
			err = s.runSocket(wsURL)
			if err == nil {
				// Server asked us to reconnect.
				continue
			}
		}

		if s.ctx.Err() != nil {
			return
		}
		s.errorCount.Add(1)
		s.logger.Warn("slack: socket mode connection failed", "error", err, "backoff", backoff)
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// runSocket reads frames until the connection drops or the server sends a
// disconnect frame (nil error).
func (s *Slack) runSocket(wsURL string) error {
	conn, _, err := s.dialer.DialContext(s.ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("slack: dial socket: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("slack: read socket: %w", err)
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn("slack: bad socket frame", "error", err)
			continue
		}
		if env.EnvelopeID != "" {
			if err := conn.WriteJSON(map[string]string{"envelope_id": env.EnvelopeID}); err != nil {
				return fmt.Errorf("slack: ack envelope: %w", err)
			}
		}

		switch env.Type {
		case "hello":
			s.logger.Debug("slack: socket hello")
		case "disconnect":
			s.logger.Info("slack: server requested reconnect", "reason", env.Reason)
			return nil
		default:
			if msg := s.translate(&env); msg != nil {
				s.errorCount.Store(0)
				s.emit(msg)
			}
		}
	}
}

// translate converts an envelope into an inbound message, or nil when the
// envelope is not for the bot.
func (s *Slack) translate(env *envelope) *channels.IncomingMessage {
	switch env.Type {
	case "events_api":
		var p eventsAPIPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.logger.Warn("slack: bad event payload", "error", err)
			return nil
		}
		return s.fromEvent(&p.Event)

	case "slash_commands":
		var p slashPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.logger.Warn("slack: bad slash command payload", "error", err)
			return nil
		}
		if !s.allowed(p.ChannelID) {
			return nil
		}
		return &channels.IncomingMessage{
			ID:        p.TriggerID,
			Channel:   "slack",
			ScopeID:   p.ChannelID,
			From:      p.UserID,
			FromName:  p.UserName,
			Text:      normaliseText(p.Text),
			Mode:      strings.TrimPrefix(p.Command, "/"),
			Timestamp: time.Now(),
		}

	case "interactive":
		var p interactivePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.logger.Warn("slack: bad interactive payload", "error", err)
			return nil
		}
		return s.fromAction(&p)
	}
	return nil
}

func (s *Slack) fromEvent(ev *slackEvent) *channels.IncomingMessage {
	if ev.BotID != "" || ev.User == "" || ev.User == s.botUserID {
		return nil
	}
	if !s.allowed(ev.Channel) {
		return nil
	}

	var thread string
	switch {
	case ev.Type == "app_mention":
		// Replies to a mention go to its thread, starting one if needed.
		thread = ev.ThreadTS
		if thread == "" {
			thread = ev.TS
		}
	case ev.Type == "message" && ev.ChannelType == "im" && ev.Subtype == "":
		thread = ev.ThreadTS
	default:
		return nil
	}

	return &channels.IncomingMessage{
		ID:        ev.TS,
		Channel:   "slack",
		ScopeID:   ev.Channel,
		ThreadID:  thread,
		From:      ev.User,
		FromName:  ev.User,
		Text:      stripMention(normaliseText(ev.Text), s.botUserID),
		Timestamp: parseSlackTS(ev.TS),
	}
}

const choiceActionPrefix = "choice:"

func (s *Slack) fromAction(p *interactivePayload) *channels.IncomingMessage {
	if p.Type != "block_actions" || len(p.Actions) == 0 {
		return nil
	}
	action := p.Actions[0]
	if !strings.HasPrefix(action.ActionID, choiceActionPrefix) {
		return nil
	}
	kind := strings.TrimPrefix(action.ActionID, choiceActionPrefix)
	if i := strings.LastIndexByte(kind, ':'); i >= 0 {
		kind = kind[:i]
	}

	value, ok := s.choices.get(action.Value)
	if !ok {
		s.logger.Warn("slack: choice expired or unknown", "ref", action.Value)
		return nil
	}

	thread := p.Container.ThreadTS
	if thread == "" {
		thread = p.Message.ThreadTS
	}
	return &channels.IncomingMessage{
		ID:        p.Container.MessageTS,
		Channel:   "slack",
		ScopeID:   p.Channel.ID,
		ThreadID:  thread,
		From:      p.User.ID,
		FromName:  p.User.Name,
		Choice:    &channels.Choice{Kind: kind, Value: value},
		Timestamp: time.Now(),
	}
}

var mentionPrefix = regexp.MustCompile(`^\s*<@([A-Za-z0-9]+)(\|[^>]*)?>\s*`)

// stripMention removes a leading mention of the bot.
func stripMention(text, botID string) string {
	m := mentionPrefix.FindStringSubmatchIndex(text)
	if m == nil {
		return strings.TrimSpace(text)
	}
	if botID != "" && text[m[2]:m[3]] != botID {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(text[m[1]:])
}

// normaliseText undoes Slack's HTML escaping of control characters.
func normaliseText(text string) string {
	r := strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&")
	return r.Replace(text)
}

// parseSlackTS converts a Slack timestamp ("1234567890.123456") to time.Time.
func parseSlackTS(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var usec int64
	if frac != "" {
		usec, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(s, usec*int64(time.Microsecond))
}
