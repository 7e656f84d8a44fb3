package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownOption is returned for an option name outside the closed set.
	ErrUnknownOption = errors.New("unknown option")

	// ErrOptionType is returned when a value has the wrong type for its option.
	ErrOptionType = errors.New("wrong value type for option")
)

// OptionName identifies one configurable option.
type OptionName string

const (
	OptHistoryEnabled   OptionName = "history_enabled"
	OptSaveUsersEnabled OptionName = "save_users_enabled"
	OptModel            OptionName = "model"
	OptTemperature      OptionName = "temperature"
	OptMaxReplyTokens   OptionName = "max_reply_tokens"
)

// OptionNames lists every option in display order.
func OptionNames() []OptionName {
	return []OptionName{
		OptHistoryEnabled,
		OptSaveUsersEnabled,
		OptModel,
		OptTemperature,
		OptMaxReplyTokens,
	}
}

// ParseOptionName validates an option name given as text.
func ParseOptionName(s string) (OptionName, error) {
	for _, n := range OptionNames() {
		if string(n) == s {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOption, s)
}

// Options is the configuration record held by the global defaults, every
// scope and every thread.
type Options struct {
	HistoryEnabled   bool    `json:"history_enabled" yaml:"history_enabled"`
	SaveUsersEnabled bool    `json:"save_users_enabled" yaml:"save_users_enabled"`
	Model            string  `json:"model" yaml:"model"`
	Temperature      float64 `json:"temperature" yaml:"temperature"`
	MaxReplyTokens   int     `json:"max_reply_tokens" yaml:"max_reply_tokens"`
}

// DefaultOptions returns the built-in global defaults.
func DefaultOptions() Options {
	return Options{
		HistoryEnabled:   true,
		SaveUsersEnabled: false,
		Model:            "gpt-3.5-turbo",
		Temperature:      0.5,
		MaxReplyTokens:   1024,
	}
}

// Get returns the value of one option.
func (o Options) Get(name OptionName) (any, error) {
	switch name {
	case OptHistoryEnabled:
		return o.HistoryEnabled, nil
	case OptSaveUsersEnabled:
		return o.SaveUsersEnabled, nil
	case OptModel:
		return o.Model, nil
	case OptTemperature:
		return o.Temperature, nil
	case OptMaxReplyTokens:
		return o.MaxReplyTokens, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOption, name)
	}
}

// Set assigns one option. Numeric options accept any Go integer or float
// type that converts without loss of meaning.
func (o *Options) Set(name OptionName, value any) error {
	switch name {
	case OptHistoryEnabled, OptSaveUsersEnabled:
		b, ok := value.(bool)
		if !ok {
			return typeError(name, "bool", value)
		}
		if name == OptHistoryEnabled {
			o.HistoryEnabled = b
		} else {
			o.SaveUsersEnabled = b
		}
	case OptModel:
		s, ok := value.(string)
		if !ok {
			return typeError(name, "string", value)
		}
		o.Model = s
	case OptTemperature:
		switch v := value.(type) {
		case float64:
			o.Temperature = v
		case float32:
			o.Temperature = float64(v)
		case int:
			o.Temperature = float64(v)
		default:
			return typeError(name, "float", value)
		}
	case OptMaxReplyTokens:
		switch v := value.(type) {
		case int:
			o.MaxReplyTokens = v
		case int64:
			o.MaxReplyTokens = int(v)
		case int32:
			o.MaxReplyTokens = int(v)
		default:
			return typeError(name, "int", value)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOption, name)
	}
	return nil
}

func typeError(name OptionName, want string, got any) error {
	return fmt.Errorf("%w: %s wants %s, got %T", ErrOptionType, name, want, got)
}
