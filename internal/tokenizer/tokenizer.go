// Package tokenizer counts tokens for chunk sizing and rate limiting.
package tokenizer

import (
	"log/slog"
	"strings"
)

// Tokenizer counts the tokens a completion model would see for text.
// Implementations must be deterministic for identical input.
type Tokenizer interface {
	CountTokens(text string) int
}

// Estimator gives a rough token count from the word count.
// Exact tokenization is not required for chunking.
type Estimator struct{}

// CountTokens implements Tokenizer.
func (Estimator) CountTokens(text string) int {
	return EstimateTokens(text)
}

// EstimateTokens estimates tokens at ~1.33 tokens per whitespace-separated word.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	tokens := int(float64(words) * 1.33)
	if tokens < 1 && len(text) > 0 {
		tokens = 1
	}
	return tokens
}

// New returns a HuggingFace tokenizer when path is set and loads cleanly,
// otherwise the Estimator.
func New(path string, log *slog.Logger) Tokenizer {
	if path == "" {
		return Estimator{}
	}
	hf, err := LoadHuggingFace(path)
	if err != nil {
		log.Warn("tokenizer load failed, using estimator", "path", path, "error", err)
		return Estimator{}
	}
	log.Info("loaded tokenizer", "path", path)
	return hf
}
