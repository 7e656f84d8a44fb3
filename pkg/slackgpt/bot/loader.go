package bot

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR}, ${VAR:-default}, ${VAR:?error} and $VAR.
//
// Capture groups:
//   - Group 1: variable name (${} syntax)
//   - Group 2: modifier ("-" for default, "?" for error)
//   - Group 3: default value or error message
//   - Group 4: variable name (bare $VAR syntax)
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// LoadConfigFromFile reads and parses a YAML configuration file.
// .env files are loaded first and environment variables are expanded.
func LoadConfigFromFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnvVarsWithValidation(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := ParseConfig([]byte(expanded))
	if err != nil {
		return nil, err
	}

	resolveSecrets(cfg)
	resolveRelativePaths(cfg, path)
	checkFilePermissions(path)

	return cfg, nil
}

// LoadConfig loads path, or the first config file found in the standard
// locations, or the defaults when there is none.
func LoadConfig(path string) (*Config, string, error) {
	if path == "" {
		path = FindConfigFile()
	}
	if path == "" {
		loadEnvFiles()
		cfg := DefaultConfig()
		resolveSecrets(cfg)
		return cfg, "", nil
	}
	cfg, err := LoadConfigFromFile(path)
	return cfg, path, err
}

// ParseConfig parses YAML bytes into a Config, starting from the defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// SaveConfigToFile writes a Config as YAML. Secrets that came from the
// environment are written back as references.
func SaveConfigToFile(cfg *Config, path string) error {
	sanitized := *cfg
	sanitized.API.APIKey = sanitizeSecret(cfg.API.APIKey, envAPIKey, "OPENAI_API_KEY")
	sanitized.Channels.Slack.BotToken = sanitizeSecret(cfg.Channels.Slack.BotToken, envSlackBotToken)
	sanitized.Channels.Slack.AppToken = sanitizeSecret(cfg.Channels.Slack.AppToken, envSlackAppToken)
	sanitized.Channels.Discord.Token = sanitizeSecret(cfg.Channels.Discord.Token, envDiscordToken)

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}

	// Backup existing file before overwriting.
	if existing, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+".bak", existing, 0o600)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches for config files in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"slackgpt.yaml",
		"slackgpt.yml",
		"configs/config.yaml",
		"configs/slackgpt.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ---------- Internal ----------

// Environment variables consulted for secrets.
const (
	envAPIKey        = "SLACKGPT_API_KEY"
	envSlackBotToken = "SLACK_BOT_TOKEN"
	envSlackAppToken = "SLACK_APP_TOKEN"
	envDiscordToken  = "DISCORD_TOKEN"
)

// loadEnvFiles loads .env files without overwriting existing variables.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces ${VAR}, ${VAR:-default}, ${VAR:?error} and $VAR
// references with environment values. Unset variables without a modifier
// keep their placeholder. An unset ${VAR:?error} becomes an "ERROR:" marker
// that expandEnvVarsWithValidation reports.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		varName, modifier, modValue, bareVar := sub[1], sub[2], sub[3], sub[4]

		if bareVar != "" {
			if val, ok := os.LookupEnv(bareVar); ok {
				return val
			}
			return match
		}

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		switch modifier {
		case "?":
			if modValue == "" {
				modValue = "required environment variable not set"
			}
			return "ERROR:" + varName + ":" + modValue
		case "-":
			return modValue
		}
		return match
	})
}

// expandEnvVarsWithValidation is like expandEnvVars but fails when a
// required variable is unset.
func expandEnvVarsWithValidation(input string) (string, error) {
	result := expandEnvVars(input)
	idx := strings.Index(result, "ERROR:")
	if idx < 0 {
		return result, nil
	}
	rest := result[idx+len("ERROR:"):]
	name, msg, ok := strings.Cut(rest, ":")
	if !ok {
		return "", fmt.Errorf("config error: malformed error marker")
	}
	if end := strings.IndexByte(msg, '\n'); end >= 0 {
		msg = msg[:end]
	}
	return "", fmt.Errorf("config error: %s - %s", name, msg)
}

// resolveSecrets fills empty or placeholder secrets from the environment.
func resolveSecrets(cfg *Config) {
	fill := func(dst *string, envVars ...string) {
		if *dst != "" && !IsEnvReference(*dst) {
			return
		}
		for _, name := range envVars {
			if v := os.Getenv(name); v != "" {
				*dst = v
				return
			}
		}
	}
	fill(&cfg.API.APIKey, envAPIKey, "OPENAI_API_KEY")
	fill(&cfg.Channels.Slack.BotToken, envSlackBotToken)
	fill(&cfg.Channels.Slack.AppToken, envSlackAppToken)
	fill(&cfg.Channels.Discord.Token, envDiscordToken)
}

// resolveRelativePaths makes persistence paths relative to the config file.
func resolveRelativePaths(cfg *Config, configPath string) {
	dir := filepath.Dir(configPath)
	p := &cfg.Persistence
	p.LoadPath = resolvePathFromConfig(p.LoadPath, dir)
	p.SQLitePath = resolvePathFromConfig(p.SQLitePath, dir)
	for i, path := range p.SavePaths {
		p.SavePaths[i] = resolvePathFromConfig(path, dir)
	}
	cfg.Channels.Console.HistoryFile = resolvePathFromConfig(cfg.Channels.Console.HistoryFile, dir)
}

// resolvePathFromConfig expands ~ and resolves relative paths against the
// config file's directory.
func resolvePathFromConfig(path, configDir string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		path = filepath.Join(home, path[2:])
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(configDir, path)
}

// sanitizeSecret replaces a secret with a reference to the first listed
// environment variable that holds the same value.
func sanitizeSecret(value string, envVars ...string) string {
	if value == "" || IsEnvReference(value) {
		return value
	}
	for _, name := range envVars {
		if os.Getenv(name) == value {
			return "${" + name + "}"
		}
	}
	return value
}

// IsEnvReference checks if a string is an environment variable reference.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "$")
}

// checkFilePermissions warns if the config file is readable by others.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if mode := info.Mode().Perm(); mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"fix", fmt.Sprintf("chmod 600 %s", path),
		)
	}
}
