package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ggendro/slack-gpt/pkg/slackgpt/bot"
)

// newConfigCmd creates the `slackgpt config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the bot configuration",
		Long: `Manage the slack-gpt configuration file and the secrets stored in the
OS keyring.

Examples:
  slackgpt config init
  slackgpt config show
  slackgpt config validate
  slackgpt config set-key api_key`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigValidateCmd(),
		newConfigSetKeyCmd(),
		newConfigDeleteKeyCmd(),
	)
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Root().PersistentFlags().GetString("config")
			if path == "" {
				path = "config.yaml"
			}
			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := bot.DefaultConfig()
			cfg.API.APIKey = "${SLACKGPT_API_KEY}"
			cfg.Channels.Slack.BotToken = "${SLACK_BOT_TOKEN}"
			cfg.Channels.Slack.AppToken = "${SLACK_APP_TOKEN}"
			if err := bot.SaveConfigToFile(cfg, path); err != nil {
				return err
			}
			fmt.Printf("Configuration created at %s\n", path)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if path == "" {
				fmt.Println("# no config file found, showing defaults")
			} else {
				fmt.Printf("# %s\n", path)
			}

			masked := *cfg
			masked.API.APIKey = maskSecret(cfg.API.APIKey)
			masked.Channels.Slack.BotToken = maskSecret(cfg.Channels.Slack.BotToken)
			masked.Channels.Slack.AppToken = maskSecret(cfg.Channels.Slack.AppToken)
			masked.Channels.Discord.Token = maskSecret(cfg.Channels.Discord.Token)

			data, err := yaml.Marshal(&masked)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Println("Configuration is valid.")
			return nil
		},
	}
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "set-key [" + strings.Join(bot.SecretKeys(), "|") + "]",
		Short:     "Store a secret in the OS keyring",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: bot.SecretKeys(),
		RunE: func(_ *cobra.Command, args []string) error {
			key := bot.KeyAPIKey
			if len(args) == 1 {
				key = args[0]
			}
			if !isSecretKey(key) {
				return fmt.Errorf("unknown key %q (valid: %s)", key, strings.Join(bot.SecretKeys(), ", "))
			}

			value, err := bot.ReadPassword(fmt.Sprintf("%s: ", key))
			if err != nil {
				return err
			}
			if value == "" {
				return fmt.Errorf("empty value, nothing stored")
			}
			if err := bot.StoreKeyring(key, value); err != nil {
				return fmt.Errorf("storing %s in keyring: %w", key, err)
			}
			fmt.Printf("%s stored in the OS keyring.\n", key)
			return nil
		},
	}
}

func newConfigDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "delete-key <key>",
		Short:     "Remove a secret from the OS keyring",
		Args:      cobra.ExactArgs(1),
		ValidArgs: bot.SecretKeys(),
		RunE: func(_ *cobra.Command, args []string) error {
			if !isSecretKey(args[0]) {
				return fmt.Errorf("unknown key %q", args[0])
			}
			if err := bot.DeleteKeyring(args[0]); err != nil {
				return err
			}
			fmt.Printf("%s removed from the OS keyring.\n", args[0])
			return nil
		},
	}
}

func isSecretKey(key string) bool {
	for _, k := range bot.SecretKeys() {
		if k == key {
			return true
		}
	}
	return false
}

// maskSecret keeps environment references and the first characters of a
// literal secret.
func maskSecret(s string) string {
	if s == "" || bot.IsEnvReference(s) {
		return s
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}
