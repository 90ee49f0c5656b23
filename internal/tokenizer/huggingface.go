package tokenizer

import (
	"fmt"
	"sync"

	hftok "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// HuggingFace counts tokens with a tokenizer.json model file.
type HuggingFace struct {
	mu sync.Mutex
	tk *hftok.Tokenizer
}

// LoadHuggingFace loads a tokenizer.json file.
func LoadHuggingFace(path string) (*HuggingFace, error) {
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", path, err)
	}
	return &HuggingFace{tk: tk}, nil
}

// CountTokens implements Tokenizer. Encoding failures fall back to the estimate
// so callers never see a zero count for non-empty text.
func (h *HuggingFace) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	h.mu.Lock()
	en, err := h.tk.EncodeSingle(text, false)
	h.mu.Unlock()
	if err != nil || en == nil {
		return EstimateTokens(text)
	}
	return len(en.Ids)
}
