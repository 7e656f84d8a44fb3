package bot

// keyring.go keeps credentials in the operating system's keyring (Secret
// Service on Linux, Keychain on macOS, Credential Manager on Windows).
//
// Priority for resolving secrets:
//  1. OS keyring
//  2. Environment variable (SLACKGPT_API_KEY, SLACK_BOT_TOKEN, ...)
//  3. .env file (loaded by godotenv)
//  4. config.yaml value

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const keyringService = "slack-gpt"

// Keyring entry names.
const (
	KeyAPIKey        = "api_key"
	KeySlackBotToken = "slack_bot_token"
	KeySlackAppToken = "slack_app_token"
	KeyDiscordToken  = "discord_token"
)

// SecretKeys lists the keyring entries the bot reads.
func SecretKeys() []string {
	return []string{KeyAPIKey, KeySlackBotToken, KeySlackAppToken, KeyDiscordToken}
}

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring, or "" if absent.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// ResolveSecrets overrides config secrets with keyring entries when present.
func ResolveSecrets(cfg *Config, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	targets := map[string]*string{
		KeyAPIKey:        &cfg.API.APIKey,
		KeySlackBotToken: &cfg.Channels.Slack.BotToken,
		KeySlackAppToken: &cfg.Channels.Slack.AppToken,
		KeyDiscordToken:  &cfg.Channels.Discord.Token,
	}
	for key, dst := range targets {
		if val := GetKeyring(key); val != "" {
			*dst = val
			logger.Debug("secret loaded from OS keyring", "key", key)
		}
	}
	if cfg.API.APIKey == "" || IsEnvReference(cfg.API.APIKey) {
		logger.Warn("no API key found. Set one with: slackgpt config set-key")
	}
}

// ReadPassword prompts on stdout and reads a line without echo. Piped input
// is read as a plain line.
func ReadPassword(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		password, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return strings.TrimSpace(string(password)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimSpace(line), nil
}
