package discord

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/ggendro/slack-gpt/pkg/slackgpt/channels"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []*discordgo.MessageSend
	to   []string
	err  error
}

func (f *fakeSender) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, data)
	f.to = append(f.to, channelID)
	return &discordgo.Message{ID: "sent-" + string(rune('a'+len(f.sent)-1))}, nil
}

func newTestDiscord(t *testing.T) (*Discord, *fakeSender) {
	t.Helper()
	d := New(Config{Token: "x"}, nil)
	t.Cleanup(d.components.Stop)
	d.botUserID = "BOT"
	f := &fakeSender{}
	d.sender = f
	d.connected.Store(true)
	return d, f
}

func userMessage(id, channel, guild, content string, mentionsBot bool) *discordgo.Message {
	m := &discordgo.Message{
		ID:        id,
		ChannelID: channel,
		GuildID:   guild,
		Content:   content,
		Author:    &discordgo.User{ID: "U1", Username: "alice"},
		Timestamp: time.Unix(100, 0),
	}
	if mentionsBot {
		m.Mentions = []*discordgo.User{{ID: "BOT"}}
	}
	return m
}

func TestFromMessage(t *testing.T) {
	t.Parallel()
	d, _ := newTestDiscord(t)

	tests := []struct {
		name     string
		msg      *discordgo.Message
		wantNil  bool
		wantText string
	}{
		{"guild mention", userMessage("m1", "C1", "G1", "<@BOT> hello", true), false, "hello"},
		{"nickname mention", userMessage("m2", "C1", "G1", "<@!BOT> /ping", true), false, "/ping"},
		{"guild without mention", userMessage("m3", "C1", "G1", "hello", false), true, ""},
		{"direct message", userMessage("m4", "D1", "", "hi there", false), false, "hi there"},
		{"bot author", &discordgo.Message{ID: "m5", ChannelID: "C1", Author: &discordgo.User{ID: "B2", Bot: true}}, true, ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := d.fromMessage(tt.msg)
			if tt.wantNil {
				if got != nil {
					t.Errorf("got %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("got nil")
			}
			if got.Text != tt.wantText || got.ThreadID != tt.msg.ID || got.ScopeID != tt.msg.ChannelID {
				t.Errorf("got %+v", got)
			}
		})
	}
}

func TestReplyChainThreads(t *testing.T) {
	t.Parallel()
	d, _ := newTestDiscord(t)
	ctx := context.Background()

	first := d.fromMessage(userMessage("root", "C1", "G1", "<@BOT> question", true))
	if first.ThreadID != "root" {
		t.Fatalf("thread = %q, want root", first.ThreadID)
	}

	// The bot replies; its message joins the chain.
	if err := d.SendMessage(ctx, &channels.OutgoingMessage{ScopeID: "C1", ThreadID: "root", Text: "answer"}); err != nil {
		t.Fatal(err)
	}

	reply := userMessage("m2", "C1", "G1", "<@BOT> follow up", true)
	reply.MessageReference = &discordgo.MessageReference{MessageID: "sent-a"}
	got := d.fromMessage(reply)
	if got.ThreadID != "root" {
		t.Errorf("follow-up thread = %q, want root", got.ThreadID)
	}
}

func TestSendMessage_ChoicesAndSplit(t *testing.T) {
	t.Parallel()
	d, f := newTestDiscord(t)

	long := strings.Repeat("word ", 600)
	err := d.SendMessage(context.Background(), &channels.OutgoingMessage{
		ScopeID:  "C1",
		ThreadID: "root",
		Text:     long,
		Choices: &channels.ChoiceSet{
			Kind:   "top_k",
			Prompt: "Pick one",
			Options: []channels.ChoiceOption{
				{Label: "1", Value: "a"}, {Label: "2", Value: "b"}, {Label: "3", Value: "c"},
				{Label: "4", Value: "d"}, {Label: "5", Value: "e"}, {Label: "6", Value: "f"},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(f.sent) != 2 {
		t.Fatalf("sent %d chunks, want 2", len(f.sent))
	}
	if f.sent[0].Reference == nil || f.sent[0].Reference.MessageID != "root" {
		t.Errorf("first chunk does not reply to thread root")
	}
	if len(f.sent[0].Components) != 0 {
		t.Errorf("buttons on first chunk")
	}
	rows := f.sent[1].Components
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	first := rows[0].(discordgo.ActionsRow)
	if len(first.Components) != 5 {
		t.Errorf("first row has %d buttons, want 5", len(first.Components))
	}
	btn := rows[1].(discordgo.ActionsRow).Components[0].(discordgo.Button)
	if kind, value, ok := d.components.Get(btn.CustomID); !ok || kind != "top_k" || value != "f" {
		t.Errorf("registry lookup = %q %q %v", kind, value, ok)
	}
	if len(btn.CustomID) > 100 {
		t.Errorf("custom_id length %d exceeds Discord limit", len(btn.CustomID))
	}
}

func TestFromInteraction(t *testing.T) {
	t.Parallel()
	d, _ := newTestDiscord(t)
	d.threads.put("bot-msg", "root")
	id := d.components.Register("top_k", "the full answer")

	click := func(customID string) *discordgo.InteractionCreate {
		return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
			Type:      discordgo.InteractionMessageComponent,
			ChannelID: "C1",
			Data:      discordgo.MessageComponentInteractionData{CustomID: customID},
			Message:   &discordgo.Message{ID: "bot-msg"},
			Member:    &discordgo.Member{User: &discordgo.User{ID: "U1", Username: "alice"}},
		}}
	}

	msg, known := d.fromInteraction(click(id))
	if !known || msg == nil {
		t.Fatalf("msg = %+v known = %v", msg, known)
	}
	if msg.Choice.Value != "the full answer" || msg.ThreadID != "root" || msg.From != "U1" {
		t.Errorf("msg = %+v choice = %+v", msg, msg.Choice)
	}

	if msg, known := d.fromInteraction(click(customIDPrefix + "gone")); !known || msg != nil {
		t.Errorf("expired choice: msg = %+v known = %v", msg, known)
	}
	if _, known := d.fromInteraction(click("other")); known {
		t.Error("foreign component treated as choice")
	}
}

func TestComponentRegistry_TTL(t *testing.T) {
	t.Parallel()
	r := NewComponentRegistry(time.Minute, nil)
	defer r.Stop()

	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }
	id := r.Register("top_k", "v")

	now = now.Add(30 * time.Second)
	if _, _, ok := r.Get(id); !ok {
		t.Error("choice expired early")
	}
	now = now.Add(time.Minute)
	if _, _, ok := r.Get(id); ok {
		t.Error("choice still valid after TTL")
	}
	r.cleanupExpired()
	if r.Len() != 0 {
		t.Errorf("Len = %d after cleanup", r.Len())
	}
}

func TestSendErrors(t *testing.T) {
	t.Parallel()
	d := New(Config{}, nil)
	defer d.components.Stop()
	if err := d.SendMessage(context.Background(), &channels.OutgoingMessage{}); !errors.Is(err, channels.ErrChannelDisconnected) {
		t.Errorf("err = %v, want ErrChannelDisconnected", err)
	}

	d2, f := newTestDiscord(t)
	f.err = errors.New("boom")
	if err := d2.SendImage(context.Background(), &channels.ImageMessage{ScopeID: "C1", URL: "https://x/y.png"}); err == nil {
		t.Error("send error not returned")
	}
	if d2.Health().ErrorCount != 1 {
		t.Errorf("ErrorCount = %d", d2.Health().ErrorCount)
	}
}

func TestSplitDiscordMessage(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("a", 1500) + "\n" + strings.Repeat("b", 1000)
	chunks := splitDiscordMessage(text, 2000)
	if len(chunks) != 2 || chunks[0] != strings.Repeat("a", 1500)+"\n" {
		t.Errorf("chunks = %d, first len %d", len(chunks), len(chunks[0]))
	}
	if strings.Join(chunks, "") != text {
		t.Error("chunks do not reassemble")
	}
}

func TestSplitDiscordMessage_Multibyte(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		text       string
		wantChunks int
	}{
		{"fits in runes though not in bytes", "a" + strings.Repeat("日本語", 400), 1},
		{"cjk without newlines", "a" + strings.Repeat("日本語", 1000), 2},
		{"emoji", strings.Repeat("🤖é", 1500), 2},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			chunks := splitDiscordMessage(tt.text, 2000)
			if len(chunks) != tt.wantChunks {
				t.Fatalf("chunks = %d, want %d", len(chunks), tt.wantChunks)
			}
			for i, c := range chunks {
				if !utf8.ValidString(c) {
					t.Errorf("chunk %d is not valid UTF-8", i)
				}
				if n := utf8.RuneCountInString(c); n > 2000 {
					t.Errorf("chunk %d has %d characters", i, n)
				}
			}
			if strings.Join(chunks, "") != tt.text {
				t.Error("chunks do not reassemble")
			}
		})
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	t.Parallel()
	if got := truncate("日本語テキスト", 3); got != "日本語" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("short", 80); got != "short" {
		t.Errorf("truncate = %q", got)
	}
}
