package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ggendro/slack-gpt/pkg/slackgpt/conversation"
)

const adminHelpText = "The admin help command provides you with a list of available admin commands and their functions. Commands: \n" +
	"help: This message. \n" +
	"history_channel_enabled: Enable or disable history for the current channel. \n" +
	"history_thread_enabled: Enable or disable history for the current thread. \n" +
	"save_usernames_channel_enabled: Enable or disable the save of usernames for the current channel. \n" +
	"save_usernames_thread_enabled: Enable or disable the save of usernames for the current thread. \n" +
	"model_channel (or engine_channel): Set the model for the current channel. \n" +
	"model_thread (or engine_thread): Set the model for the current thread. \n" +
	"temperature_channel: Set the temperature for the current channel. \n" +
	"temperature_thread: Set the temperature for the current thread. \n" +
	"max_tokens_channel: Set the maximum reply length for the current channel. \n" +
	"max_tokens_thread: Set the maximum reply length for the current thread. \n" +
	"clear_history_thread: Forget the history of the current thread."

const (
	msgInvalidBool  = "Invalid value. Please use true, yes, on, 1, false, no, off, 0. Or do not provide a value to see the current status."
	msgInvalidValue = "Invalid value. Please use a valid value for the option. Or do not provide a value to see the current status."
	msgNeedsThread  = "This command must be used inside a thread."
)

// ValidationError is a user input rejected by a handler. Message is shown
// to the user as is.
type ValidationError struct {
	Option  string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Option == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation of %s: %s", e.Option, e.Message)
}

// level is where an admin command applies.
type level int

const (
	levelChannel level = iota
	levelThread
)

func (l level) String() string {
	if l == levelThread {
		return "thread"
	}
	return "channel"
}

// adminCommand binds a subcommand to an option and a level.
type adminCommand struct {
	option  conversation.OptionName
	display string
	level   level
}

var adminCommands = map[string]adminCommand{
	"history_channel_enabled":        {conversation.OptHistoryEnabled, "History", levelChannel},
	"history_thread_enabled":         {conversation.OptHistoryEnabled, "History", levelThread},
	"save_usernames_channel_enabled": {conversation.OptSaveUsersEnabled, "Saving usernames", levelChannel},
	"save_usernames_thread_enabled":  {conversation.OptSaveUsersEnabled, "Saving usernames", levelThread},
	"model_channel":                  {conversation.OptModel, "Model", levelChannel},
	"model_thread":                   {conversation.OptModel, "Model", levelThread},
	"engine_channel":                 {conversation.OptModel, "Engine", levelChannel},
	"engine_thread":                  {conversation.OptModel, "Engine", levelThread},
	"temperature_channel":            {conversation.OptTemperature, "Temperature", levelChannel},
	"temperature_thread":             {conversation.OptTemperature, "Temperature", levelThread},
	"max_tokens_channel":             {conversation.OptMaxReplyTokens, "Max tokens", levelChannel},
	"max_tokens_thread":              {conversation.OptMaxReplyTokens, "Max tokens", levelThread},
}

// handleAdmin reads or changes one option at the channel or thread level.
func (b *Bot) handleAdmin(ctx context.Context, m Messenger, req Request) error {
	fields := strings.Fields(req.Text)
	if len(fields) == 0 {
		return b.reply(ctx, m, req, adminHelpText)
	}
	sub := fields[0]

	if sub == "clear_history_thread" {
		return b.adminClearHistory(ctx, m, req)
	}

	cmd, ok := adminCommands[sub]
	if !ok {
		return b.reply(ctx, m, req, adminHelpText)
	}
	if cmd.level == levelThread && req.ThreadID == "" {
		return &ValidationError{Message: msgNeedsThread}
	}

	target := ""
	if cmd.level == levelThread {
		target = req.ThreadID
	}
	if req.ThreadID != "" {
		b.store.EnsureThread(req.ScopeID, req.ThreadID)
	} else {
		b.store.EnsureScope(req.ScopeID)
	}

	if len(fields) < 2 {
		current, err := b.store.Option(req.ScopeID, target, cmd.option)
		if err != nil {
			return err
		}
		return b.reply(ctx, m, req, fmt.Sprintf("%s is currently %s for this %s.", cmd.display, formatOption(current), cmd.level))
	}

	value, err := b.validateOption(cmd.option, fields[1])
	if err != nil {
		return err
	}
	if err := b.store.SetOption(req.ScopeID, target, cmd.option, value); err != nil {
		return err
	}
	b.notify()
	b.logger.Info("option changed", "scope", req.ScopeID, "thread", target, "option", cmd.option, "value", value)

	return b.reply(ctx, m, req, fmt.Sprintf("%s is now %s for this %s.", cmd.display, formatOption(value), cmd.level))
}

func (b *Bot) adminClearHistory(ctx context.Context, m Messenger, req Request) error {
	if req.ThreadID == "" {
		return &ValidationError{Message: msgNeedsThread}
	}
	if err := b.store.ClearHistory(req.ScopeID, req.ThreadID); err != nil {
		return err
	}
	b.notify()
	return b.reply(ctx, m, req, "History cleared for this thread.")
}

// validateOption parses a raw admin value into the option's type.
func (b *Bot) validateOption(name conversation.OptionName, raw string) (any, error) {
	switch name {
	case conversation.OptHistoryEnabled, conversation.OptSaveUsersEnabled:
		return ParseBool(raw)
	case conversation.OptModel:
		return ValidateModel(raw, b.ValidModels())
	case conversation.OptTemperature:
		return ValidateFloatRange(string(name), raw, MinTemperature, MaxTemperature)
	case conversation.OptMaxReplyTokens:
		return ValidateIntRange(string(name), raw, MinMaxReplyTokens, MaxMaxReplyTokens)
	}
	return nil, fmt.Errorf("admin: %w: %s", conversation.ErrUnknownOption, name)
}

// ValidModels lists the model IDs the admin commands accept.
func (b *Bot) ValidModels() []string {
	return b.tokens.Catalog().IDs()
}

// ParseBool accepts true, yes, on, 1 and false, no, off, 0 in any case.
func ParseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0":
		return false, nil
	}
	return false, &ValidationError{Message: msgInvalidBool}
}

// ValidateModel checks raw against the closed set of valid models.
func ValidateModel(raw string, valid []string) (string, error) {
	for _, id := range valid {
		if id == raw {
			return raw, nil
		}
	}
	return "", &ValidationError{
		Option:  string(conversation.OptModel),
		Message: msgInvalidValue + " The set of valid values is:\n " + strings.Join(valid, "\n") + ".",
	}
}

// ValidateFloatRange parses raw as a float within [lo, hi].
func ValidateFloatRange(option, raw string, lo, hi float64) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < lo || v > hi {
		return 0, rangeError(option, formatFloat(lo), formatFloat(hi))
	}
	return v, nil
}

// ValidateIntRange parses raw as an integer within [lo, hi].
func ValidateIntRange(option, raw string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		return 0, rangeError(option, strconv.Itoa(lo), strconv.Itoa(hi))
	}
	return v, nil
}

func rangeError(option, lo, hi string) error {
	return &ValidationError{
		Option:  option,
		Message: fmt.Sprintf("%s The valid range is from %s to %s.", msgInvalidValue, lo, hi),
	}
}

// formatOption renders an option value for chat.
func formatOption(v any) string {
	switch v := v.(type) {
	case bool:
		if v {
			return "enabled"
		}
		return "disabled"
	case float64:
		return formatFloat(v)
	case int:
		return strconv.Itoa(v)
	case string:
		return v
	}
	return fmt.Sprint(v)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
