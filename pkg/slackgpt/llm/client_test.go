package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

var _ Caller = (*Client)(nil)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/", APIKey: "sk-test"}, nil)
}

func TestComplete_Chat(t *testing.T) {
	t.Parallel()

	var got chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q", auth)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("missing X-Request-ID")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"choices":[
			{"index":0,"message":{"role":"assistant","content":"first"}},
			{"index":1,"message":{"role":"assistant","content":"   "}}
		]}`))
	})

	out, err := c.Complete(context.Background(), Request{
		Mode:        ModeChat,
		Model:       "gpt-3.5-turbo",
		Messages:    []Message{{Role: "user", Content: "hi"}},
		Temperature: 0.5,
		MaxTokens:   100,
		N:           2,
		User:        "slack-gpt-bot-U1",
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if len(out) != 2 || out[0] != "first" || out[1] != EmptyReply {
		t.Errorf("candidates = %q", out)
	}
	if got.Model != "gpt-3.5-turbo" || got.N != 2 || got.MaxTokens != 100 || got.User != "slack-gpt-bot-U1" {
		t.Errorf("request = %+v", got)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "hi" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestComplete_Completion(t *testing.T) {
	t.Parallel()

	var got completionRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/completions" {
			t.Errorf("path = %q, want /completions", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"choices":[{"text":"\n\nanswer"}]}`))
	})

	out, err := c.Complete(context.Background(), Request{
		Mode:   ModeCompletion,
		Model:  "text-davinci-003",
		Prompt: "hello\n<@B>: ",
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(out) != 1 || out[0] != "\n\nanswer" {
		t.Errorf("candidates = %q", out)
	}
	if got.Prompt != "hello\n<@B>: " || got.N != 1 {
		t.Errorf("request = %+v", got)
	}
}

func TestComplete_OrdersByIndex(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[
			{"index":2,"message":{"content":"third"}},
			{"index":0,"message":{"content":"first"}},
			{"index":1,"message":{"content":"second"}}
		]}`))
	})

	out, err := c.Complete(context.Background(), Request{Model: "gpt-4", N: 3})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(out) != 3 || out[0] != "first" || out[1] != "second" || out[2] != "third" {
		t.Errorf("candidates = %q", out)
	}
}

func TestComplete_ModelError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"provider error body", http.StatusTooManyRequests, `{"error":{"message":"rate limited"}}`, "rate limited"},
		{"plain body", http.StatusBadGateway, `upstream down`, "upstream down"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.Complete(context.Background(), Request{Model: "gpt-4"})
			var me *ModelError
			if !errors.As(err, &me) {
				t.Fatalf("err = %v, want *ModelError", err)
			}
			if me.StatusCode != tt.status || me.Message != tt.wantMsg {
				t.Errorf("ModelError = %+v, want %d %q", me, tt.status, tt.wantMsg)
			}
		})
	}
}

func TestComplete_NoChoices(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	})

	_, err := c.Complete(context.Background(), Request{Model: "gpt-4"})
	var me *ModelError
	if !errors.As(err, &me) {
		t.Fatalf("err = %v, want *ModelError", err)
	}
}

func TestComplete_NoAPIKey(t *testing.T) {
	t.Parallel()
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, nil)

	_, err := c.Complete(context.Background(), Request{Model: "gpt-4"})
	if !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("err = %v, want ErrNoAPIKey", err)
	}
}

func TestGenerateImage(t *testing.T) {
	t.Parallel()

	var got imageRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"data":[{"url":"https://img.example/cat.png"}]}`))
	})

	img, err := c.GenerateImage(context.Background(), ImageRequest{Prompt: "a cat"})
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if img.URL != "https://img.example/cat.png" {
		t.Errorf("URL = %q", img.URL)
	}
	if got.Prompt != "a cat" || got.N != 1 || got.Size != "512x512" {
		t.Errorf("request = %+v", got)
	}
}
