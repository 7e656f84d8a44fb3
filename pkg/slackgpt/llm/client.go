// Package llm calls an OpenAI-compatible API for chat completions, raw-text
// completions and image generation.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// EmptyReply replaces a candidate the model returned with no text.
const EmptyReply = "<|endoftext|>"

// ErrNoAPIKey is returned when no API key has been configured.
var ErrNoAPIKey = errors.New("API key not configured")

// Mode selects the endpoint family.
type Mode string

const (
	ModeChat       Mode = "chat"
	ModeCompletion Mode = "completion"
)

// Message is one role-tagged chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one call to the model. Messages is used in chat mode and
// Prompt in completion mode.
type Request struct {
	Mode        Mode
	Model       string
	Messages    []Message
	Prompt      string
	Temperature float64
	MaxTokens   int

	// N is the number of candidates to generate; zero means one.
	N int

	// User is an opaque end-user identifier forwarded to the provider.
	User string
}

// ImageRequest asks for one generated image.
type ImageRequest struct {
	Prompt string
	Model  string
	Size   string
	User   string
}

// Image is a generated image, referenced by URL.
type Image struct {
	URL           string
	RevisedPrompt string
}

// Caller is the model-calling contract used by the bot.
type Caller interface {
	// Complete returns one string per requested candidate.
	Complete(ctx context.Context, req Request) ([]string, error)

	// GenerateImage returns one generated image.
	GenerateImage(ctx context.Context, req ImageRequest) (*Image, error)
}

// ModelError is a provider or network failure. StatusCode is zero when no
// HTTP response was received.
type ModelError struct {
	StatusCode int
	Message    string
}

func (e *ModelError) Error() string {
	if e.StatusCode == 0 {
		return "model request failed: " + e.Message
	}
	return fmt.Sprintf("model API returned %d: %s", e.StatusCode, e.Message)
}

// Config holds the connection settings of the client.
type Config struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	ImageModel string        `yaml:"image_model"`
	ImageSize  string        `yaml:"image_size"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Client talks to an OpenAI-compatible HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	imageModel string
	imageSize  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client from config.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	size := cfg.ImageSize
	if size == "" {
		size = "512x512"
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		imageModel: cfg.ImageModel,
		imageSize:  size,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "llm"),
	}
}

// ---------- Wire Types (OpenAI-compatible) ----------

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	N           int       `json:"n,omitempty"`
	User        string    `json:"user,omitempty"`
}

type completionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	N           int     `json:"n,omitempty"`
	User        string  `json:"user,omitempty"`
}

type imageRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size,omitempty"`
	User   string `json:"user,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type choicesResponse struct {
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *apiError `json:"error"`
}

type imageResponse struct {
	Data []struct {
		URL           string `json:"url"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
	Error *apiError `json:"error"`
}

// ---------- Public Methods ----------

// Complete sends a chat or completion request and returns every candidate
// ordered by its choice index.
func (c *Client) Complete(ctx context.Context, req Request) ([]string, error) {
	n := req.N
	if n <= 0 {
		n = 1
	}

	var (
		endpoint string
		body     any
	)
	switch req.Mode {
	case ModeCompletion:
		endpoint = "/completions"
		body = completionRequest{
			Model:       req.Model,
			Prompt:      req.Prompt,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
			N:           n,
			User:        req.User,
		}
	default:
		endpoint = "/chat/completions"
		body = chatRequest{
			Model:       req.Model,
			Messages:    req.Messages,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
			N:           n,
			User:        req.User,
		}
	}

	start := time.Now()
	var resp choicesResponse
	if err := c.post(ctx, endpoint, body, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &ModelError{StatusCode: http.StatusOK, Message: resp.Error.Message}
	}
	if len(resp.Choices) == 0 {
		return nil, &ModelError{StatusCode: http.StatusOK, Message: "no choices in response"}
	}

	// The array order is not guaranteed to follow the choice index.
	sort.SliceStable(resp.Choices, func(i, j int) bool {
		return resp.Choices[i].Index < resp.Choices[j].Index
	})

	out := make([]string, len(resp.Choices))
	for i, ch := range resp.Choices {
		text := ch.Message.Content
		if req.Mode == ModeCompletion {
			text = ch.Text
		}
		if strings.TrimSpace(text) == "" {
			text = EmptyReply
		}
		out[i] = text
	}

	c.logger.Info("completion done",
		"model", req.Model,
		"mode", req.Mode,
		"n", n,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return out, nil
}

// GenerateImage asks the image endpoint for one picture.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (*Image, error) {
	model := req.Model
	if model == "" {
		model = c.imageModel
	}
	size := req.Size
	if size == "" {
		size = c.imageSize
	}

	var resp imageResponse
	err := c.post(ctx, "/images/generations", imageRequest{
		Model:  model,
		Prompt: req.Prompt,
		N:      1,
		Size:   size,
		User:   req.User,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &ModelError{StatusCode: http.StatusOK, Message: resp.Error.Message}
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return nil, &ModelError{StatusCode: http.StatusOK, Message: "no image in response"}
	}

	return &Image{URL: resp.Data[0].URL, RevisedPrompt: resp.Data[0].RevisedPrompt}, nil
}

// post sends a JSON body and decodes a JSON response. Non-2xx statuses and
// transport failures become *ModelError.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	if c.apiKey == "" {
		return fmt.Errorf("%w: run 'slackgpt config set-key' or set OPENAI_API_KEY", ErrNoAPIKey)
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Request-ID", requestID)

	c.logger.Debug("sending request", "endpoint", endpoint, "request_id", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ModelError{Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ModelError{StatusCode: resp.StatusCode, Message: "reading response: " + err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := truncate(string(respBody), 500)
		var wrapped struct {
			Error *apiError `json:"error"`
		}
		if json.Unmarshal(respBody, &wrapped) == nil && wrapped.Error != nil && wrapped.Error.Message != "" {
			msg = wrapped.Error.Message
		}
		c.logger.Error("API error",
			"status", resp.StatusCode,
			"request_id", requestID,
			"body", truncate(string(respBody), 500),
		)
		return &ModelError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &ModelError{StatusCode: resp.StatusCode, Message: "parsing response: " + err.Error()}
	}
	return nil
}

// truncate keeps the first n characters of s, marking the cut.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
