package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/ggendro/slack-gpt/pkg/slackgpt/channels"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/conversation"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/llm"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/security"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/tokens"
)

// ---------- fakes ----------

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

type fakeMessenger struct {
	mu     sync.Mutex
	sent   []*channels.OutgoingMessage
	images []*channels.ImageMessage
}

func (f *fakeMessenger) SendMessage(_ context.Context, msg *channels.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeMessenger) SendImage(_ context.Context, img *channels.ImageMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, img)
	return nil
}

func (f *fakeMessenger) BotIdentity() string { return "BOT" }

func (f *fakeMessenger) last(t *testing.T) *channels.OutgoingMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no message sent")
	}
	return f.sent[len(f.sent)-1]
}

type fakeCaller struct {
	mu       sync.Mutex
	requests []llm.Request
	replies  []string
	err      error
	panicked bool
	image    *llm.Image
}

func (f *fakeCaller) Complete(_ context.Context, req llm.Request) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicked {
		panic("boom")
	}
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	n := req.N
	if n == 0 {
		n = 1
	}
	out := make([]string, n)
	for i := range out {
		if i < len(f.replies) {
			out[i] = f.replies[i]
		} else {
			out[i] = "reply"
		}
	}
	return out, nil
}

func (f *fakeCaller) GenerateImage(_ context.Context, req llm.ImageRequest) (*llm.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.image, nil
}

func (f *fakeCaller) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeSaver struct {
	mu sync.Mutex
	n  int
}

func (f *fakeSaver) Notify() {
	f.mu.Lock()
	f.n++
	f.mu.Unlock()
}

type harness struct {
	bot    *Bot
	store  *conversation.Store
	model  *fakeCaller
	msgr   *fakeMessenger
	saver  *fakeSaver
	config *Config
}

// newHarness builds a bot over a 100-token chat model "tiny" and a
// completion model "tiny-text", with a one-token-per-word estimator.
func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Defaults.Model = "tiny"
	cfg.Defaults.MaxReplyTokens = 20
	cfg.Models = []tokens.ModelInfo{
		{ID: "tiny", Kind: tokens.KindChat, Window: 100, Encoding: tokens.EncodingCL100K},
		{ID: "tiny-text", Kind: tokens.KindCompletion, Window: 100, Encoding: tokens.EncodingCL100K},
	}

	factory := func(string) (tokens.Estimator, error) { return wordCounter{}, nil }
	registry := tokens.NewRegistry(cfg.Catalog(), factory, nil)
	store := conversation.NewStore(cfg.Defaults, nil)
	model := &fakeCaller{}
	saver := &fakeSaver{}

	b := New(cfg, Deps{
		Store:  store,
		Tokens: registry,
		Model:  model,
		Guard:  security.NewInputGuardrail(security.Config{RateLimit: 1000}),
		Saver:  saver,
	})
	return &harness{bot: b, store: store, model: model, msgr: &fakeMessenger{}, saver: saver, config: cfg}
}

func (h *harness) handle(mode Mode, text string) {
	h.bot.Handle(context.Background(), h.msgr, Request{ScopeID: "C1", ThreadID: "T1", Author: "U1", Mode: mode, Text: text})
}

// ---------- prompt ----------

func TestPrompt_AppendsExchange(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.model.replies = []string{"\n\nhi there"}

	h.handle(ModePrompt, "hello")

	got := h.store.History("C1", "T1")
	want := []conversation.Turn{{Author: "U1", Text: "hello"}, {Author: "BOT", Text: "hi there"}}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("history = %+v, want %+v", got, want)
	}
	if msg := h.msgr.last(t); msg.Text != "hi there" || msg.ThreadID != "T1" {
		t.Errorf("reply = %+v", msg)
	}

	req := h.model.requests[0]
	if req.Mode != llm.ModeChat || req.MaxTokens != 20 || req.Temperature != 0.5 || req.User != "slack-gpt-bot-U1" {
		t.Errorf("request = %+v", req)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" || req.Messages[0].Content != "hello" {
		t.Errorf("messages = %+v", req.Messages)
	}
	if h.saver.n != 1 {
		t.Errorf("saver notified %d times, want 1", h.saver.n)
	}
}

func TestPrompt_UsesHistoryAndRoles(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.store.AppendTurns("C1", "T1",
		conversation.Turn{Author: "U2", Text: "first"},
		conversation.Turn{Author: "BOT", Text: "answer"},
	)

	h.handle("", "second")

	msgs := h.model.requests[0].Messages
	roles := []string{}
	for _, m := range msgs {
		roles = append(roles, m.Role+":"+m.Content)
	}
	want := "user:first assistant:answer user:second"
	if strings.Join(roles, " ") != want {
		t.Errorf("messages = %v, want %s", roles, want)
	}
}

func TestPrompt_TaggedUsersAndCompletionModel(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	if err := h.store.SetOption("C1", "T1", conversation.OptModel, "tiny-text"); err != nil {
		t.Fatal(err)
	}
	if err := h.store.SetOption("C1", "T1", conversation.OptSaveUsersEnabled, true); err != nil {
		t.Fatal(err)
	}
	h.store.AppendTurn("C1", "T1", "U2", "earlier")

	h.handle("", "now")

	req := h.model.requests[0]
	if req.Mode != llm.ModeCompletion {
		t.Fatalf("mode = %s, want completion", req.Mode)
	}
	want := "<@U2>: earlier\n<@U1>: now\n<@BOT>: "
	if req.Prompt != want {
		t.Errorf("prompt = %q, want %q", req.Prompt, want)
	}
	// Authors stay raw in the store.
	if got := h.store.History("C1", "T1"); got[1].Author != "U1" || got[1].Text != "now" {
		t.Errorf("stored turn = %+v", got[1])
	}
}

func TestPrompt_HistoryDisabled(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.store.AppendTurn("C1", "T1", "U2", "secret context")
	if err := h.store.SetOption("C1", "T1", conversation.OptHistoryEnabled, false); err != nil {
		t.Fatal(err)
	}

	h.handle("", "hello")

	if len(h.model.requests[0].Messages) != 1 {
		t.Errorf("context sent with history disabled: %+v", h.model.requests[0].Messages)
	}
	if n := len(h.store.History("C1", "T1")); n != 1 {
		t.Errorf("history grew to %d turns", n)
	}
}

func TestPrompt_ModelErrorCommitsNothing(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.model.err = &llm.ModelError{StatusCode: 429, Message: "rate limit"}

	h.handle("", "hello")

	if n := len(h.store.History("C1", "T1")); n != 0 {
		t.Errorf("history has %d turns after failure", n)
	}
	msg := h.msgr.last(t)
	if !msg.Ephemeral || msg.User != "U1" || !strings.Contains(msg.Text, "429") || !strings.Contains(msg.Text, "rate limit") {
		t.Errorf("notice = %+v", msg)
	}
	if h.saver.n != 0 {
		t.Error("saver notified after failure")
	}
}

func TestPrompt_TooLarge(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.handle("", strings.Repeat("w ", 105))

	if h.model.calls() != 0 {
		t.Error("model called for oversized prompt")
	}
	if got := h.msgr.last(t).Text; got != msgPromptTooLarge {
		t.Errorf("reply = %q", got)
	}
}

func TestPrompt_ShrinksReplyBudget(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.handle("", strings.TrimSpace(strings.Repeat("w ", 95)))

	if got := h.model.requests[0].MaxTokens; got != 5 {
		t.Errorf("MaxTokens = %d, want 5", got)
	}
}

func TestPrompt_SystemPromptReservesTokens(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.config.SystemPrompt = "be brief please"

	h.handle("", strings.TrimSpace(strings.Repeat("w ", 95)))

	req := h.model.requests[0]
	if req.MaxTokens != 2 {
		t.Errorf("MaxTokens = %d, want 2", req.MaxTokens)
	}
	if req.Messages[0].Role != "system" {
		t.Errorf("first message = %+v", req.Messages[0])
	}
}

func TestPrompt_ConcurrentSameThread(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.handle("", "hello")
		}()
	}
	wg.Wait()

	history := h.store.History("C1", "T1")
	if len(history) != 2*n {
		t.Fatalf("history = %d turns, want %d", len(history), 2*n)
	}
	for i := 0; i < len(history); i += 2 {
		if history[i].Author != "U1" || history[i+1].Author != "BOT" {
			t.Fatalf("exchange %d interleaved: %+v %+v", i/2, history[i], history[i+1])
		}
	}
}

func TestPrompt_GuardrailRejects(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.bot.guard = security.NewInputGuardrail(security.Config{MaxInputLength: 3})

	h.handle("", "too long")

	if h.model.calls() != 0 {
		t.Error("model called")
	}
	if got := h.msgr.last(t).Text; !strings.HasPrefix(got, "Message exceeds") {
		t.Errorf("reply = %q", got)
	}
}

// ---------- other handlers ----------

func TestPing(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.handle(ModePing, "")
	if got := h.msgr.last(t).Text; got != "Hi <@U1>, I'm here! :robot_face:" {
		t.Errorf("ping = %q", got)
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.handle(ModeHistory, "")
	if got := h.msgr.last(t).Text; got != msgNoHistory {
		t.Errorf("empty history reply = %q", got)
	}

	h.store.AppendTurns("C1", "T1",
		conversation.Turn{Author: "U1", Text: "one two"},
		conversation.Turn{Author: "BOT", Text: "three"},
	)
	h.handle(ModeHistory, "")
	want := "Here is my current available history (number of tokens used: 3 / 100):\none two\nthree"
	if got := h.msgr.last(t).Text; got != want {
		t.Errorf("history reply = %q, want %q", got, want)
	}

	if err := h.store.SetOption("C1", "T1", conversation.OptSaveUsersEnabled, true); err != nil {
		t.Fatal(err)
	}
	h.handle(ModeHistory, "")
	if got := h.msgr.last(t).Text; !strings.HasSuffix(got, "<@U1>: one two\n<@BOT>: three") {
		t.Errorf("tagged history reply = %q", got)
	}
}

func TestDalle2(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.model.image = &llm.Image{URL: "https://img/cat.png"}

	h.handle(ModeDalle2, "a cat")

	if len(h.msgr.images) != 1 || h.msgr.images[0].URL != "https://img/cat.png" || h.msgr.images[0].ThreadID != "T1" {
		t.Errorf("images = %+v", h.msgr.images)
	}
}

func TestSafeHandle_RecoversPanic(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.model.panicked = true

	h.handle("", "hello")

	if got := h.msgr.last(t).Text; got != msgInternalError {
		t.Errorf("reply = %q", got)
	}
}

func TestSafeHandle_UnknownError(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.bot.safeHandle(context.Background(), h.msgr, Request{ScopeID: "C1"}, func() error {
		return errors.New("disk on fire")
	})
	if got := h.msgr.last(t).Text; got != msgInternalError {
		t.Errorf("reply = %q", got)
	}
}

func TestPrompt_MissingAPIKey(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.model.err = fmt.Errorf("%w: run 'slackgpt config set-key'", llm.ErrNoAPIKey)

	h.handle("", "hello")

	msg := h.msgr.last(t)
	if msg.Text != msgNoAPIKey || msg.Ephemeral {
		t.Errorf("reply = %+v", msg)
	}
	if len(h.store.History("C1", "T1")) != 0 {
		t.Error("failed call committed history")
	}
}

func TestDalle2_TitleKeepsRunes(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.model.image = &llm.Image{URL: "https://img/x.png"}

	h.handle(ModeDalle2, strings.Repeat("猫", 300))

	title := h.msgr.images[0].Title
	if !utf8.ValidString(title) || title != strings.Repeat("猫", 200)+"..." {
		t.Errorf("title = %q", title)
	}
}
