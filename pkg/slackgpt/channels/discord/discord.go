// Package discord implements the Discord channel using discordgo.
//
// The bot answers when mentioned in a guild channel and to every direct
// message. A thread is a reply chain: a mention outside a chain starts one
// rooted at the mention, and replies to the bot or to earlier messages of the
// chain continue it.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/ggendro/slack-gpt/pkg/slackgpt/channels"
)

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// AllowedGuilds restricts which guild (server) IDs the bot responds in.
	// Empty means respond in all guilds.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// AllowedChannels restricts which channel IDs the bot responds in.
	// Empty means respond in all channels.
	AllowedChannels []string `yaml:"allowed_channels"`

	// ChoiceTTL is how long top-K buttons stay clickable.
	ChoiceTTL time.Duration `yaml:"choice_ttl"`
}

// messageSender is the part of *discordgo.Session used to post.
type messageSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord implements channels.Channel.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session
	sender  messageSender

	botUserID  string
	components *ComponentRegistry
	threads    *threadIndex

	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64
}

// New creates a new Discord channel instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	l := logger.With("component", "discord")
	return &Discord{
		cfg:        cfg,
		logger:     l,
		components: NewComponentRegistry(cfg.ChoiceTTL, l),
		threads:    newThreadIndex(10000),
		messages:   make(chan *channels.IncomingMessage, 256),
	}
}

// ---------- Channel Interface ----------

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onMessageCreate)
	session.AddHandler(d.onInteractionCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.session = session
	d.sender = session
	d.botUserID = session.State.User.ID
	d.connected.Store(true)

	d.logger.Info("discord: connected", "bot", session.State.User.Username, "id", d.botUserID)
	return nil
}

// Disconnect closes the Discord gateway connection.
func (d *Discord) Disconnect() error {
	d.components.Stop()
	if d.session != nil {
		d.session.Close()
	}
	d.connected.Store(false)
	d.logger.Info("discord: disconnected")
	return nil
}

// Receive returns the incoming messages channel.
func (d *Discord) Receive() <-chan *channels.IncomingMessage {
	return d.messages
}

// BotIdentity returns the bot's Discord user ID.
func (d *Discord) BotIdentity() string { return d.botUserID }

// IsConnected returns true if the bot is connected.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the channel health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
	}
}

// SendMessage posts text as a reply to the thread root, split at Discord's
// 2000 character limit. Choices become buttons under the last chunk.
// Discord has no ephemeral channel messages, so Ephemeral is ignored.
func (d *Discord) SendMessage(ctx context.Context, msg *channels.OutgoingMessage) error {
	if d.sender == nil || !d.connected.Load() {
		return channels.ErrChannelDisconnected
	}

	text := msg.Text
	var rows []discordgo.MessageComponent
	if msg.Choices != nil && len(msg.Choices.Options) > 0 {
		ids := make([]string, len(msg.Choices.Options))
		labels := make([]string, len(msg.Choices.Options))
		for i, opt := range msg.Choices.Options {
			ids[i] = d.components.Register(msg.Choices.Kind, opt.Value)
			labels[i] = opt.Label
		}
		rows = buildButtonRows(ids, labels)
		if msg.Choices.Prompt != "" {
			text = strings.TrimSpace(text + "\n\n" + msg.Choices.Prompt)
		}
	}

	chunks := splitDiscordMessage(text, 2000)
	for i, chunk := range chunks {
		send := &discordgo.MessageSend{
			Content:         chunk,
			AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers}},
		}
		if i == 0 && msg.ThreadID != "" {
			send.Reference = &discordgo.MessageReference{MessageID: msg.ThreadID, ChannelID: msg.ScopeID}
		}
		if i == len(chunks)-1 {
			send.Components = rows
		}
		if err := d.send(msg.ScopeID, msg.ThreadID, send); err != nil {
			return err
		}
	}
	return nil
}

// SendImage posts the image as an embed in the thread.
func (d *Discord) SendImage(ctx context.Context, img *channels.ImageMessage) error {
	if d.sender == nil || !d.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	if img.URL == "" {
		return fmt.Errorf("discord: image URL is required")
	}

	send := &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title: truncate(img.Title, 256),
			Image: &discordgo.MessageEmbedImage{URL: img.URL},
		}},
	}
	if img.ThreadID != "" {
		send.Reference = &discordgo.MessageReference{MessageID: img.ThreadID, ChannelID: img.ScopeID}
	}
	return d.send(img.ScopeID, img.ThreadID, send)
}

func (d *Discord) send(channelID, thread string, send *discordgo.MessageSend) error {
	sent, err := d.sender.ChannelMessageSendComplex(channelID, send)
	if err != nil {
		d.errorCount.Add(1)
		return fmt.Errorf("discord: send message: %w", err)
	}
	if sent != nil && thread != "" {
		d.threads.put(sent.ID, thread)
	}
	return nil
}

// ---------- Event Handlers ----------

func (d *Discord) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if msg := d.fromMessage(m.Message); msg != nil {
		d.emit(msg)
	}
}

// fromMessage converts a Discord message into an inbound message, or nil when
// the bot should not answer it.
func (d *Discord) fromMessage(m *discordgo.Message) *channels.IncomingMessage {
	if m == nil || m.Author == nil || m.Author.Bot || m.Author.ID == d.botUserID {
		return nil
	}
	if !d.allowed(m.GuildID, m.ChannelID) {
		return nil
	}

	isDM := m.GuildID == ""
	if !isDM && !d.mentioned(m) {
		return nil
	}

	thread := m.ID
	if ref := m.MessageReference; ref != nil && ref.MessageID != "" {
		thread = d.threads.resolve(ref.MessageID)
	}
	d.threads.put(m.ID, thread)

	return &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   "discord",
		ScopeID:   m.ChannelID,
		ThreadID:  thread,
		From:      m.Author.ID,
		FromName:  m.Author.Username,
		Text:      stripMention(m.Content, d.botUserID),
		Timestamp: m.Timestamp,
	}
}

func (d *Discord) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	msg, known := d.fromInteraction(i)
	if !known {
		return
	}

	if msg == nil {
		_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: "This choice has expired.",
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		})
		return
	}

	// Drop the buttons so an answer cannot be picked twice.
	empty := []discordgo.MessageComponent{}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{Components: empty},
	}); err != nil {
		d.logger.Warn("discord: failed to ack interaction", "error", err)
	}
	d.emit(msg)
}

// fromInteraction converts a button click. known is false for interactions
// that are not choice buttons; msg is nil when the choice expired.
func (d *Discord) fromInteraction(i *discordgo.InteractionCreate) (msg *channels.IncomingMessage, known bool) {
	if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionMessageComponent {
		return nil, false
	}
	data := i.MessageComponentData()
	if !isChoiceID(data.CustomID) {
		return nil, false
	}

	kind, value, ok := d.components.Get(data.CustomID)
	if !ok {
		d.logger.Warn("discord: choice expired or unknown", "custom_id", data.CustomID)
		return nil, true
	}

	var user *discordgo.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	} else {
		user = i.User
	}
	if user == nil {
		return nil, true
	}

	var thread, id string
	if i.Message != nil {
		id = i.Message.ID
		thread = d.threads.resolve(i.Message.ID)
	}

	return &channels.IncomingMessage{
		ID:        id,
		Channel:   "discord",
		ScopeID:   i.ChannelID,
		ThreadID:  thread,
		From:      user.ID,
		FromName:  user.Username,
		Choice:    &channels.Choice{Kind: kind, Value: value},
		Timestamp: time.Now(),
	}, true
}

func (d *Discord) mentioned(m *discordgo.Message) bool {
	for _, u := range m.Mentions {
		if u != nil && u.ID == d.botUserID {
			return true
		}
	}
	return false
}

func (d *Discord) allowed(guildID, channelID string) bool {
	if len(d.cfg.AllowedGuilds) > 0 && guildID != "" && !contains(d.cfg.AllowedGuilds, guildID) {
		return false
	}
	if len(d.cfg.AllowedChannels) > 0 && !contains(d.cfg.AllowedChannels, channelID) {
		return false
	}
	return true
}

func (d *Discord) emit(msg *channels.IncomingMessage) {
	d.lastMsg.Store(time.Now())
	d.errorCount.Store(0)
	select {
	case d.messages <- msg:
	default:
		d.logger.Warn("discord: message buffer full, dropping message", "msg_id", msg.ID)
	}
}

// ---------- Helpers ----------

// threadIndex maps message IDs to the root of their reply chain. The oldest
// entries are forgotten past max.
type threadIndex struct {
	mu    sync.Mutex
	max   int
	roots map[string]string
	order []string
}

func newThreadIndex(limit int) *threadIndex {
	return &threadIndex{max: limit, roots: make(map[string]string)}
}

func (t *threadIndex) put(messageID, root string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.roots[messageID]; !ok {
		t.order = append(t.order, messageID)
	}
	t.roots[messageID] = root
	for len(t.order) > t.max {
		delete(t.roots, t.order[0])
		t.order = t.order[1:]
	}
}

// resolve returns the root of messageID's chain, or messageID itself when
// it is unknown.
func (t *threadIndex) resolve(messageID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if root, ok := t.roots[messageID]; ok {
		return root
	}
	return messageID
}

// stripMention removes mentions of the bot (<@id> and <@!id>).
func stripMention(text, botID string) string {
	if botID != "" {
		text = strings.NewReplacer("<@"+botID+">", "", "<@!"+botID+">", "").Replace(text)
	}
	return strings.TrimSpace(text)
}

// splitDiscordMessage splits a message into chunks of at most maxLen
// characters, preferring to cut after a newline. Cuts never fall inside a
// rune.
func splitDiscordMessage(text string, maxLen int) []string {
	if utf8.RuneCountInString(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		if utf8.RuneCountInString(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		limit := runeOffset(text, maxLen)
		cutAt := limit
		// Try to split at a newline.
		if idx := strings.LastIndex(text[:limit], "\n"); idx > limit/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

// runeOffset returns the byte offset of the n-th rune of s, or len(s).
func runeOffset(s string, n int) int {
	count := 0
	for i := range s {
		if count == n {
			return i
		}
		count++
	}
	return len(s)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// truncate keeps the first n characters of s.
func truncate(s string, n int) string {
	return s[:runeOffset(s, n)]
}

// Compile-time interface verification.
var _ channels.Channel = (*Discord)(nil)
