package chunker

import (
	"iter"
	"slices"
	"strings"

	"github.com/dgallion1/filingsum/internal/tokenizer"
)

// sentenceSep is the literal delimiter used to split text into sentences.
// A sentence that contains it elsewhere (e.g. "Inc. and") splits early.
const sentenceSep = ". "

// Chunker splits text into chunks that fit a token budget.
type Chunker struct {
	tok       tokenizer.Tokenizer
	maxTokens int
}

// New returns a Chunker for the given budget. The budget is used as-is;
// callers subtract any reserved margin before passing it in.
func New(tok tokenizer.Tokenizer, maxTokens int) *Chunker {
	if tok == nil {
		tok = tokenizer.Estimator{}
	}
	if maxTokens <= 0 {
		maxTokens = 1
	}
	return &Chunker{tok: tok, maxTokens: maxTokens}
}

// MaxTokens returns the per-chunk budget.
func (c *Chunker) MaxTokens() int { return c.maxTokens }

// Split returns all chunks of text.
func (c *Chunker) Split(text string) []string {
	return slices.Collect(c.Chunks(text))
}

// Chunks lazily yields chunks of text in order. Sentences are packed while the
// joined chunk stays within budget; a sentence that is over budget on its own
// is broken at word boundaries instead.
func (c *Chunker) Chunks(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		if strings.TrimSpace(text) == "" {
			return
		}

		var current []string

		flush := func() bool {
			if len(current) == 0 {
				return true
			}
			chunk := joinSentences(current)
			current = current[:0]
			return yield(chunk)
		}

		for _, sentence := range strings.Split(text, sentenceSep) {
			if strings.TrimSpace(sentence) == "" {
				continue
			}

			if c.count(sentence) > c.maxTokens {
				// Flush what we have so output order follows input order.
				if !flush() {
					return
				}
				for part := range c.splitWords(sentence) {
					if !yield(part) {
						return
					}
				}
				continue
			}

			if len(current) > 0 && c.count(append(current, sentence)...) > c.maxTokens {
				if !flush() {
					return
				}
			}
			current = append(current, sentence)
		}

		flush()
	}
}

// count measures sentences as the chunk they would be emitted as. Tokenizer
// counts are not additive across joins, so the whole candidate is counted.
func (c *Chunker) count(sentences ...string) int {
	return c.tok.CountTokens(joinSentences(sentences))
}

// splitWords packs the words of an oversized sentence into budget-sized runs.
// A single word larger than the budget is passed through on its own.
func (c *Chunker) splitWords(sentence string) iter.Seq[string] {
	return func(yield func(string) bool) {
		var words []string

		for _, word := range strings.Fields(sentence) {
			if len(words) > 0 && c.tok.CountTokens(strings.Join(append(words, word), " ")) > c.maxTokens {
				if !yield(strings.Join(words, " ")) {
					return
				}
				words = words[:0]
			}
			words = append(words, word)
		}

		if len(words) > 0 {
			yield(strings.Join(words, " "))
		}
	}
}

// joinSentences rejoins sentences with the split delimiter and restores the
// trailing period the split removed.
func joinSentences(sentences []string) string {
	chunk := strings.Join(sentences, sentenceSep)
	if !strings.HasSuffix(chunk, ".") {
		chunk += "."
	}
	return chunk
}
