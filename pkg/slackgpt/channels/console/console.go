// Package console implements a local terminal channel for trying the bot
// without a chat platform. Every line typed is a message in one thread;
// ":pick N" answers the last set of choices and ":thread NAME" switches
// threads.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"

	"github.com/ggendro/slack-gpt/pkg/slackgpt/channels"
)

// Config holds console channel configuration.
type Config struct {
	// Scope and Thread name the conversation the console writes to.
	Scope  string `yaml:"scope"`
	Thread string `yaml:"thread"`

	// User is the author recorded for typed lines.
	User string `yaml:"user"`

	// HistoryFile keeps readline history across sessions. Empty disables it.
	HistoryFile string `yaml:"history_file"`
}

// LineReader reads one line of input at a time.
type LineReader interface {
	Readline() (string, error)
	Close() error
}

// Console implements channels.Channel on a terminal.
type Console struct {
	cfg    Config
	logger *slog.Logger
	out    io.Writer
	reader LineReader

	mu      sync.Mutex
	thread  string
	pending *channels.ChoiceSet

	messages  chan *channels.IncomingMessage
	done      chan struct{}
	connected atomic.Bool
	lastMsg   atomic.Value // time.Time
	seq       atomic.Int64
}

// New creates a console channel writing to stdout.
func New(cfg Config, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Scope == "" {
		cfg.Scope = "console"
	}
	if cfg.Thread == "" {
		cfg.Thread = "main"
	}
	if cfg.User == "" {
		cfg.User = "you"
	}
	return &Console{
		cfg:      cfg,
		logger:   logger.With("component", "console"),
		out:      os.Stdout,
		thread:   cfg.Thread,
		messages: make(chan *channels.IncomingMessage, 16),
		done:     make(chan struct{}),
	}
}

// WithIO replaces the terminal with the given reader and writer.
func (c *Console) WithIO(r LineReader, w io.Writer) *Console {
	c.reader = r
	c.out = w
	return c
}

// Name returns "console".
func (c *Console) Name() string { return "console" }

// Connect opens the terminal and starts reading lines.
func (c *Console) Connect(ctx context.Context) error {
	if c.reader == nil {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          c.prompt(),
			HistoryFile:     c.cfg.HistoryFile,
			InterruptPrompt: "^C",
			EOFPrompt:       "exit",
		})
		if err != nil {
			return fmt.Errorf("console: open terminal: %w", err)
		}
		c.reader = rl
		c.out = rl.Stdout()
	}
	c.connected.Store(true)
	go c.readLoop()
	return nil
}

// Disconnect closes the terminal.
func (c *Console) Disconnect() error {
	c.connected.Store(false)
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}

// Done is closed when the user ends input (EOF or interrupt).
func (c *Console) Done() <-chan struct{} { return c.done }

// Receive returns the incoming messages channel.
func (c *Console) Receive() <-chan *channels.IncomingMessage { return c.messages }

// BotIdentity returns the name the bot uses in the console.
func (c *Console) BotIdentity() string { return "slackgpt" }

// IsConnected returns true while the terminal is open.
func (c *Console) IsConnected() bool { return c.connected.Load() }

// Health returns the channel health status.
func (c *Console) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := c.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{Connected: c.connected.Load(), LastMessageAt: lastAt}
}

// SendMessage prints a reply. Choices are listed with their numbers.
func (c *Console) SendMessage(_ context.Context, msg *channels.OutgoingMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := "bot> "
	if msg.Ephemeral {
		prefix = "bot (only you)> "
	}
	fmt.Fprintf(c.out, "%s%s\n", prefix, msg.Text)

	if msg.Choices != nil && len(msg.Choices.Options) > 0 {
		c.pending = msg.Choices
		if msg.Choices.Prompt != "" {
			fmt.Fprintln(c.out, msg.Choices.Prompt)
		}
		for i, opt := range msg.Choices.Options {
			fmt.Fprintf(c.out, "  [%d] %s\n", i+1, opt.Label)
		}
		fmt.Fprintln(c.out, "Type :pick N to choose.")
	}
	return nil
}

// SendImage prints the image URL.
func (c *Console) SendImage(_ context.Context, img *channels.ImageMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "bot> [image] %s %s\n", img.Title, img.URL)
	return nil
}

func (c *Console) prompt() string {
	return c.cfg.User + "> "
}

func (c *Console) readLoop() {
	defer close(c.done)
	for {
		line, err := c.reader.Readline()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, readline.ErrInterrupt) {
				c.logger.Warn("console: read failed", "error", err)
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		msg := c.parseLine(line)
		if msg == nil {
			continue
		}
		c.lastMsg.Store(time.Now())
		c.messages <- msg
	}
}

// parseLine turns a typed line into a message, handling the console's own
// ":" directives. It returns nil for directives that produce no message.
func (c *Console) parseLine(line string) *channels.IncomingMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := &channels.IncomingMessage{
		ID:        strconv.FormatInt(c.seq.Add(1), 10),
		Channel:   "console",
		ScopeID:   c.cfg.Scope,
		ThreadID:  c.thread,
		From:      c.cfg.User,
		FromName:  c.cfg.User,
		Timestamp: time.Now(),
	}

	switch {
	case strings.HasPrefix(line, ":thread"):
		name := strings.TrimSpace(strings.TrimPrefix(line, ":thread"))
		if name == "" {
			fmt.Fprintf(c.out, "current thread: %s\n", c.thread)
			return nil
		}
		c.thread = name
		c.pending = nil
		fmt.Fprintf(c.out, "switched to thread %s\n", name)
		return nil

	case strings.HasPrefix(line, ":pick"):
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, ":pick")))
		if c.pending == nil || err != nil || n < 1 || n > len(c.pending.Options) {
			fmt.Fprintln(c.out, "nothing to pick, or invalid number")
			return nil
		}
		msg.Choice = &channels.Choice{Kind: c.pending.Kind, Value: c.pending.Options[n-1].Value}
		c.pending = nil
		return msg
	}

	msg.Text = line
	return msg
}

// Compile-time interface verification.
var _ channels.Channel = (*Console)(nil)
