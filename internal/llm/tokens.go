package llm

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// CountTokens estimates how many tokens text occupies. It uses the
// cl100k_base encoding when available and falls back to a rune/word
// heuristic when the encoding cannot be loaded (offline environments).
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return estimateTokens(text)
}

// estimateTokens approximates token counts without an encoder. English
// averages ~4 characters per token; taking the max with the word count
// keeps short, word-dense strings from being undercounted.
func estimateTokens(text string) int {
	byRunes := len([]rune(text)) / 4
	byWords := len(strings.Fields(text))
	if byWords > byRunes {
		return byWords
	}
	if byRunes == 0 {
		return 1
	}
	return byRunes
}
