package tokenizer

import (
	"fmt"

	"github.com/dlclark/regexp2"
)

// gpt2Pattern is the GPT-2 pre-tokenization pattern. The \s+(?!\S) branch
// needs lookahead, which RE2 (the standard regexp package) does not support.
const gpt2Pattern = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`

var gpt2Splitter = regexp2.MustCompile(gpt2Pattern, regexp2.None)

// Pretokenize splits text into the maximal runs BPE operates on:
// contractions, letter runs, digit runs, symbol runs (each with an optional
// leading space) and whitespace runs.
func Pretokenize(text string) ([]string, error) {
	if text == "" {
		return nil, nil
	}

	var pieces []string
	m, err := gpt2Splitter.FindStringMatch(text)
	for m != nil && err == nil {
		pieces = append(pieces, m.String())
		m, err = gpt2Splitter.FindNextMatch(m)
	}
	if err != nil {
		return nil, fmt.Errorf("pretokenize: %w", err)
	}
	return pieces, nil
}
