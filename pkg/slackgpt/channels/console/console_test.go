package console

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggendro/slack-gpt/pkg/slackgpt/channels"
)

type scriptReader struct {
	mu    sync.Mutex
	lines []string
}

func (s *scriptReader) Readline() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	l := s.lines[0]
	s.lines = s.lines[1:]
	return l, nil
}

func (s *scriptReader) Close() error { return nil }

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestConsole_LinesBecomeMessages(t *testing.T) {
	t.Parallel()
	out := &syncBuffer{}
	c := New(Config{}, nil).WithIO(&scriptReader{lines: []string{"hello", "", ":thread other", "/ping"}}, out)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	var got []*channels.IncomingMessage
	for len(got) < 2 {
		select {
		case msg := <-c.Receive():
			got = append(got, msg)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d messages, want 2", len(got))
		}
	}
	<-c.Done()

	if got[0].Text != "hello" || got[0].ScopeID != "console" || got[0].ThreadID != "main" || got[0].From != "you" {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Text != "/ping" || got[1].ThreadID != "other" {
		t.Errorf("second = %+v", got[1])
	}
	if !strings.Contains(out.String(), "switched to thread other") {
		t.Errorf("output = %q", out.String())
	}
}

func TestConsole_Pick(t *testing.T) {
	t.Parallel()
	out := &syncBuffer{}
	c := New(Config{Scope: "s", Thread: "t"}, nil).WithIO(&scriptReader{}, out)

	if msg := c.parseLine(":pick 1"); msg != nil {
		t.Errorf("pick without choices = %+v", msg)
	}

	err := c.SendMessage(context.Background(), &channels.OutgoingMessage{
		Text: "Top-2",
		Choices: &channels.ChoiceSet{Kind: "top_k", Prompt: "Pick", Options: []channels.ChoiceOption{
			{Label: "first", Value: "a"}, {Label: "second", Value: "b"},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "[2] second") {
		t.Errorf("output = %q", out.String())
	}

	if msg := c.parseLine(":pick 3"); msg != nil {
		t.Errorf("out of range pick = %+v", msg)
	}
	msg := c.parseLine(":pick 2")
	if msg == nil || msg.Choice == nil || msg.Choice.Kind != "top_k" || msg.Choice.Value != "b" {
		t.Fatalf("pick = %+v", msg)
	}
	if again := c.parseLine(":pick 2"); again != nil {
		t.Error("choice picked twice")
	}
}
