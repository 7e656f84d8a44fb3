package prompt

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ggendro/slack-gpt/pkg/slackgpt/conversation"
)

// ErrPromptTooLarge matches every *PromptTooLargeError.
var ErrPromptTooLarge = errors.New("prompt too large for model")

// PromptTooLargeError reports that no trimming can make the prompt fit.
type PromptTooLargeError struct {
	PromptTokens  int
	ContextTokens int
	ReplyTokens   int
	Window        int
}

func (e *PromptTooLargeError) Error() string {
	return fmt.Sprintf("prompt too large: prompt (%d) + context (%d) + reply (%d) > window (%d)",
		e.PromptTokens, e.ContextTokens, e.ReplyTokens, e.Window)
}

// Is makes errors.Is(err, ErrPromptTooLarge) true.
func (e *PromptTooLargeError) Is(target error) bool {
	return target == ErrPromptTooLarge
}

// Estimator counts tokens of text for a model. *tokens.Registry satisfies it.
type Estimator interface {
	EstimateTokens(modelID, text string) int
}

// Budget is the token budget of one request.
type Budget struct {
	// Window is the model's context-window size.
	Window int

	// ReplyTokens is the number of tokens reserved for the reply.
	ReplyTokens int

	// SafetyMargin is subtracted from Window before fitting.
	SafetyMargin int
}

// Result is a prompt that fits its budget.
type Result struct {
	Unit    Unit
	Context []conversation.Turn

	// ReplyTokens may be lower than the requested reservation.
	ReplyTokens int

	PromptTokens  int
	ContextTokens int

	// Dropped is the number of oldest context turns removed.
	Dropped int
}

// Assembler fits prompts into model budgets.
type Assembler struct {
	est    Estimator
	logger *slog.Logger
}

// NewAssembler creates an assembler.
func NewAssembler(est Estimator, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{est: est, logger: logger.With("component", "prompt")}
}

// Fit trims context and reply reservation so that
// tokens(unit) + tokens(context) + reply <= Window - SafetyMargin.
//
// Token counts are taken over the newline-joined texts, not summed per turn.
// Context turns are dropped from the front while more than one remains; if
// that is not enough the reply reservation shrinks to what is left, provided
// something is left. Otherwise a *PromptTooLargeError is returned.
func (a *Assembler) Fit(model string, unit Unit, context []conversation.Turn, b Budget) (*Result, error) {
	window := b.Window - b.SafetyMargin
	reply := b.ReplyTokens

	promptTokens := a.est.EstimateTokens(model, joinTurns(unit.Turns()))
	contextTokens := a.est.EstimateTokens(model, joinTurns(context))

	res := &Result{Unit: unit, Context: context}

	if promptTokens+contextTokens+reply > window {
		start := 0
		for len(context)-start > 1 && promptTokens+contextTokens+reply > window {
			start++
			contextTokens = a.est.EstimateTokens(model, joinTurns(context[start:]))
		}
		res.Context = context[start:]
		res.Dropped = start

		if promptTokens+contextTokens+reply > window {
			if remainder := window - promptTokens - contextTokens; remainder > 0 {
				reply = remainder
			}
		}

		if promptTokens+contextTokens+reply > window {
			return nil, &PromptTooLargeError{
				PromptTokens:  promptTokens,
				ContextTokens: contextTokens,
				ReplyTokens:   reply,
				Window:        window,
			}
		}

		a.logger.Debug("prompt trimmed",
			"model", model,
			"dropped", res.Dropped,
			"reply_tokens", reply,
			"requested_reply_tokens", b.ReplyTokens,
		)
	}

	res.ReplyTokens = reply
	res.PromptTokens = promptTokens
	res.ContextTokens = contextTokens
	return res, nil
}

func joinTurns(turns []conversation.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	texts := make([]string, len(turns))
	for i, t := range turns {
		texts[i] = t.Text
	}
	return strings.Join(texts, "\n")
}
