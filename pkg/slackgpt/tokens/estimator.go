package tokens

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator counts the tokens of a piece of text for one encoding family.
type Estimator interface {
	Count(text string) int
}

// Factory creates the Estimator of an encoding family.
type Factory func(encoding string) (Estimator, error)

// CharEstimator approximates tokens from the byte length of the text.
// Used when a real tokenizer cannot be loaded.
type CharEstimator struct {
	// CharsPerToken defaults to 4 when zero.
	CharsPerToken int
}

// Count returns ceil(len(text) / CharsPerToken).
func (e CharEstimator) Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	ratio := e.CharsPerToken
	if ratio <= 0 {
		ratio = 4
	}
	return (len(text) + ratio - 1) / ratio
}

// tiktokenEstimator counts BPE tokens with tiktoken-go.
type tiktokenEstimator struct {
	enc *tiktoken.Tiktoken
	mu  sync.Mutex
}

func (e *tiktokenEstimator) Count(text string) int {
	if text == "" {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.enc.Encode(text, nil, nil))
}

// TiktokenFactory loads a tiktoken encoding. The BPE ranks may need to be
// downloaded on first use, so this can be slow and can fail offline.
func TiktokenFactory(encoding string) (Estimator, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", encoding, err)
	}
	return &tiktokenEstimator{enc: enc}, nil
}

// FallbackFactory wraps a factory so that a failing family degrades to a
// CharEstimator instead of an error.
func FallbackFactory(primary Factory, logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(encoding string) (Estimator, error) {
		est, err := primary(encoding)
		if err != nil {
			logger.Warn("tokenizer unavailable, using character estimate",
				"encoding", encoding,
				"error", err,
			)
			return CharEstimator{}, nil
		}
		return est, nil
	}
}
