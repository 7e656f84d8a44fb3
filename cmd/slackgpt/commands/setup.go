package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/ggendro/slack-gpt/pkg/slackgpt/bot"
	"github.com/ggendro/slack-gpt/pkg/slackgpt/conversation"
)

// newSetupCmd creates the `slackgpt setup` command for interactive
// configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard that writes config.yaml: default model and
temperature, the API endpoint, and the Slack tokens. Secrets go to the OS
keyring unless you choose environment variables.

Examples:
  slackgpt setup
  slackgpt setup --config ./deploy/slackgpt.yaml`,
		RunE: runSetup,
	}
}

// Where setup puts the secrets.
const (
	storageKeyring = "keyring"
	storageEnv     = "env"
)

// setupAnswers collects the wizard fields before they are applied.
type setupAnswers struct {
	name        string
	model       string
	temperature string
	maxTokens   string
	baseURL     string
	storage     string
	apiKey      string
	botToken    string
	appToken    string
	history     bool
	confirm     bool
}

func runSetup(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = "config.yaml"
	}

	cfg := bot.DefaultConfig()
	ans := setupAnswers{
		name:        cfg.Name,
		model:       cfg.Defaults.Model,
		temperature: strconv.FormatFloat(cfg.Defaults.Temperature, 'f', -1, 64),
		maxTokens:   strconv.Itoa(cfg.Defaults.MaxReplyTokens),
		baseURL:     cfg.API.BaseURL,
		storage:     storageKeyring,
		history:     cfg.Defaults.HistoryEnabled,
	}

	models := make([]huh.Option[string], 0)
	for _, id := range cfg.Catalog().IDs() {
		models = append(models, huh.NewOption(id, id))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("slack-gpt setup").
				Description("Creates "+path+". Every value can be changed later with /admin or by editing the file."),
			huh.NewInput().
				Title("Bot name").
				Value(&ans.name),
			huh.NewSelect[string]().
				Title("Default model").
				Options(models...).
				Value(&ans.model),
			huh.NewInput().
				Title("Default temperature").
				Description(fmt.Sprintf("Between %v and %v", bot.MinTemperature, bot.MaxTemperature)).
				Value(&ans.temperature).
				Validate(func(s string) error {
					_, err := bot.ValidateFloatRange(string(conversation.OptTemperature), s, bot.MinTemperature, bot.MaxTemperature)
					return err
				}),
			huh.NewInput().
				Title("Maximum reply tokens").
				Description(fmt.Sprintf("Between %d and %d", bot.MinMaxReplyTokens, bot.MaxMaxReplyTokens)).
				Value(&ans.maxTokens).
				Validate(func(s string) error {
					_, err := bot.ValidateIntRange(string(conversation.OptMaxReplyTokens), s, bot.MinMaxReplyTokens, bot.MaxMaxReplyTokens)
					return err
				}),
			huh.NewConfirm().
				Title("Keep conversation history by default?").
				Value(&ans.history),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("API base URL").
				Description("Any OpenAI-compatible endpoint").
				Value(&ans.baseURL),
			huh.NewSelect[string]().
				Title("Where should secrets be kept?").
				Options(
					huh.NewOption("OS keyring", storageKeyring),
					huh.NewOption("Environment variables", storageEnv),
				).
				Value(&ans.storage),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("API key").
				EchoMode(huh.EchoModePassword).
				Value(&ans.apiKey),
			huh.NewInput().
				Title("Slack bot token (xoxb-...)").
				EchoMode(huh.EchoModePassword).
				Value(&ans.botToken).
				Validate(tokenPrefix("xoxb-")),
			huh.NewInput().
				Title("Slack app token (xapp-...)").
				EchoMode(huh.EchoModePassword).
				Value(&ans.appToken).
				Validate(tokenPrefix("xapp-")),
		).WithHideFunc(func() bool { return ans.storage != storageKeyring }),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Write " + path + "?").
				Value(&ans.confirm),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	if !ans.confirm {
		fmt.Println("Setup cancelled, nothing written.")
		return nil
	}

	if err := applySetup(cfg, &ans); err != nil {
		return err
	}
	if err := bot.SaveConfigToFile(cfg, path); err != nil {
		return err
	}
	fmt.Printf("Configuration written to %s\n", path)

	if ans.storage == storageEnv {
		fmt.Println("Export SLACKGPT_API_KEY, SLACK_BOT_TOKEN and SLACK_APP_TOKEN (or put them in .env) before running 'slackgpt serve'.")
	}
	return nil
}

// applySetup copies the answers into cfg and stores the secrets.
func applySetup(cfg *bot.Config, ans *setupAnswers) error {
	temperature, err := bot.ValidateFloatRange(string(conversation.OptTemperature), ans.temperature, bot.MinTemperature, bot.MaxTemperature)
	if err != nil {
		return err
	}
	maxTokens, err := bot.ValidateIntRange(string(conversation.OptMaxReplyTokens), ans.maxTokens, bot.MinMaxReplyTokens, bot.MaxMaxReplyTokens)
	if err != nil {
		return err
	}

	cfg.Name = strings.TrimSpace(ans.name)
	cfg.Defaults.Model = ans.model
	cfg.Defaults.Temperature = temperature
	cfg.Defaults.MaxReplyTokens = maxTokens
	cfg.Defaults.HistoryEnabled = ans.history
	cfg.API.BaseURL = strings.TrimSpace(ans.baseURL)

	// The file only ever holds references; the values live elsewhere.
	cfg.API.APIKey = "${SLACKGPT_API_KEY}"
	cfg.Channels.Slack.BotToken = "${SLACK_BOT_TOKEN}"
	cfg.Channels.Slack.AppToken = "${SLACK_APP_TOKEN}"

	if ans.storage != storageKeyring {
		return nil
	}
	secrets := map[string]string{
		bot.KeyAPIKey:        ans.apiKey,
		bot.KeySlackBotToken: ans.botToken,
		bot.KeySlackAppToken: ans.appToken,
	}
	for key, value := range secrets {
		if value == "" {
			continue
		}
		if err := bot.StoreKeyring(key, value); err != nil {
			return fmt.Errorf("storing %s in keyring: %w", key, err)
		}
	}
	return nil
}

// tokenPrefix validates an optional Slack token.
func tokenPrefix(prefix string) func(string) error {
	return func(s string) error {
		if s != "" && !strings.HasPrefix(s, prefix) {
			return fmt.Errorf("expected a token starting with %s", prefix)
		}
		return nil
	}
}
