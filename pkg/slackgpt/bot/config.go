// Package bot is the conversational core of slack-gpt: it routes inbound
// messages to the prompt, top-K, history, image and admin handlers, and
// holds the configuration that wires the store, tokenizer and model client
// together.
package bot

import (
	"fmt"
	"strings"

	"github.com/ggendro/slack-gpt/pkg/slackgpt/channels/console"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/channels/discord"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/channels/slack"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/conversation"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/llm"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/security"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/tokens"
)

// Option value limits accepted by the admin commands.
const (
	MinTemperature    = 0.0
	MaxTemperature    = 2.0
	MinMaxReplyTokens = 64
	MaxMaxReplyTokens = 4096
)

// Config holds all bot configuration.
type Config struct {
	// Name is the bot name shown in logs and the setup wizard.
	Name string `yaml:"name"`

	// Defaults are the global option values new scopes start from.
	Defaults conversation.Options `yaml:"defaults"`

	// SystemPrompt is prepended to every request when set.
	SystemPrompt string `yaml:"system_prompt"`

	// SafetyMargin is subtracted from every model's context window.
	SafetyMargin int `yaml:"safety_margin"`

	// Models adds or overrides entries of the model catalog.
	Models []tokens.ModelInfo `yaml:"models"`

	// API configures the model provider endpoint.
	API llm.Config `yaml:"api"`

	// Channels configures the chat platforms.
	Channels ChannelsConfig `yaml:"channels"`

	// Persistence configures where conversations are saved.
	Persistence PersistenceConfig `yaml:"persistence"`

	// Security configures input guardrails.
	Security security.Config `yaml:"security"`

	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging"`
}

// ChannelsConfig holds per-platform settings.
type ChannelsConfig struct {
	Slack   slack.Config   `yaml:"slack"`
	Discord discord.Config `yaml:"discord"`
	Console console.Config `yaml:"console"`
}

// PersistenceConfig configures conversation snapshots.
type PersistenceConfig struct {
	// LoadPath is the JSON document loaded at startup.
	LoadPath string `yaml:"load_path"`

	// SavePaths are the JSON documents written on every save. A
	// "{timestamp}" placeholder is replaced with the process start time.
	SavePaths []string `yaml:"save_paths"`

	// SQLitePath enables an additional SQLite snapshot target.
	SQLitePath string `yaml:"sqlite_path"`

	// SQLiteRetention is the number of SQLite snapshots kept.
	SQLiteRetention int `yaml:"sqlite_retention"`

	// Autosave controls when snapshots are written.
	Autosave conversation.AutosaveConfig `yaml:"autosave"`
}

// LoggingConfig selects the log handler.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:         "slack-gpt",
		Defaults:     conversation.DefaultOptions(),
		SafetyMargin: 0,
		API: llm.Config{
			BaseURL: "https://api.openai.com/v1",
		},
		Persistence: PersistenceConfig{
			LoadPath: "history_saves/last_history.json",
			SavePaths: []string{
				"history_saves/last_history.json",
				"history_saves/history-" + conversation.TimestampPlaceholder + ".json",
			},
			SQLiteRetention: conversation.DefaultRetention,
			Autosave: conversation.AutosaveConfig{
				Schedule:   conversation.DefaultAutosaveSchedule,
				OnMutation: true,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Catalog builds the model catalog with the configured overrides.
func (c *Config) Catalog() *tokens.Catalog {
	return tokens.NewCatalog(c.Models...)
}

// Validate checks the default options against the catalog and the option
// limits.
func (c *Config) Validate() error {
	var problems []string

	catalog := c.Catalog()
	if !catalog.Has(c.Defaults.Model) {
		problems = append(problems, fmt.Sprintf("defaults.model %q is not a known model", c.Defaults.Model))
	}
	if c.Defaults.Temperature < MinTemperature || c.Defaults.Temperature > MaxTemperature {
		problems = append(problems, fmt.Sprintf("defaults.temperature %v outside [%v, %v]", c.Defaults.Temperature, MinTemperature, MaxTemperature))
	}
	if c.Defaults.MaxReplyTokens < MinMaxReplyTokens || c.Defaults.MaxReplyTokens > MaxMaxReplyTokens {
		problems = append(problems, fmt.Sprintf("defaults.max_reply_tokens %d outside [%d, %d]", c.Defaults.MaxReplyTokens, MinMaxReplyTokens, MaxMaxReplyTokens))
	}
	if c.SafetyMargin < 0 {
		problems = append(problems, "safety_margin must not be negative")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q must be text or json", c.Logging.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
