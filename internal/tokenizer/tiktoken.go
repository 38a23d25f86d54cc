package tokenizer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// ErrUnknownModel is returned when no tiktoken encoding is registered for a
// model name.
var ErrUnknownModel = errors.New("tokenizer: no tiktoken encoding for model")

// tiktokenVocabSizes holds n_vocab of the encodings tiktoken-go ships.
// The rank tables are not exported, so the sizes cannot be read back.
var tiktokenVocabSizes = map[string]int{
	tiktoken.MODEL_O200K_BASE:  200019,
	tiktoken.MODEL_CL100K_BASE: 100277,
	tiktoken.MODEL_P50K_BASE:   50281,
	tiktoken.MODEL_P50K_EDIT:   50284,
	tiktoken.MODEL_R50K_BASE:   50257,
}

// tiktokenSpecials are the special tokens any tiktoken encoding may define.
var tiktokenSpecials = []string{
	tiktoken.ENDOFTEXT,
	tiktoken.FIM_PREFIX,
	tiktoken.FIM_MIDDLE,
	tiktoken.FIM_SUFFIX,
	tiktoken.ENDOFPROMPT,
}

// TikToken adapts a tiktoken-go encoding to Tokenizer.
//
// <|endoftext|> is the EOS sentinel. The encodings have no BOS or unknown
// token.
type TikToken struct {
	encoding  *tiktoken.Tiktoken
	name      string
	eos       int32
	special   map[int32]bool
	vocabSize int
}

// NewTikToken loads the tiktoken encoding encodingName (e.g. "cl100k_base").
//
// The rank table is downloaded on first use unless TIKTOKEN_CACHE_DIR holds
// it.
func NewTikToken(encodingName string) (*TikToken, error) {
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding %q: %w", encodingName, err)
	}

	special := make(map[string]int32, len(tiktokenSpecials))
	for _, s := range tiktokenSpecials {
		// A special token the encoding lacks falls apart into ordinary pieces.
		if ids := encoding.Encode(s, []string{s}, nil); len(ids) == 1 {
			special[s] = int32(ids[0]) //nolint:gosec // G115: token IDs fit in int32.
		}
	}

	eos, vocabSize, err := tiktokenLayout(encodingName, special)
	if err != nil {
		return nil, err
	}

	t := &TikToken{
		encoding:  encoding,
		name:      encodingName,
		eos:       eos,
		special:   make(map[int32]bool, len(special)),
		vocabSize: vocabSize,
	}
	for _, id := range special {
		t.special[id] = true
	}
	return t, nil
}

// NewTikTokenForModel loads the encoding registered for modelName
// (e.g. "gpt-4" resolves to cl100k_base).
func NewTikTokenForModel(modelName string) (*TikToken, error) {
	name, err := TikTokenEncodingForModel(modelName)
	if err != nil {
		return nil, err
	}
	return NewTikToken(name)
}

// TikTokenEncodingForModel returns the encoding name registered for
// modelName. Exact names win over prefixes, and longer prefixes over
// shorter ones.
func TikTokenEncodingForModel(modelName string) (string, error) {
	if name, ok := tiktoken.MODEL_TO_ENCODING[modelName]; ok {
		return name, nil
	}

	best, name := "", ""
	for prefix, encoding := range tiktoken.MODEL_PREFIX_TO_ENCODING {
		if strings.HasPrefix(modelName, prefix) && len(prefix) > len(best) {
			best, name = prefix, encoding
		}
	}
	if name == "" {
		return "", fmt.Errorf("%w: %q", ErrUnknownModel, modelName)
	}
	return name, nil
}

// tiktokenLayout derives the EOS id and vocabulary size of an encoding from
// its special token ids. The size always covers every special id.
func tiktokenLayout(encodingName string, special map[string]int32) (int32, int, error) {
	eos, ok := special[tiktoken.ENDOFTEXT]
	if !ok {
		return -1, 0, fmt.Errorf("%w: encoding %q has no %s token", ErrInvalidVocab, encodingName, tiktoken.ENDOFTEXT)
	}

	size := tiktokenVocabSizes[encodingName]
	for _, id := range special {
		if int(id) >= size {
			size = int(id) + 1
		}
	}
	return eos, size, nil
}

// Encode converts text to token IDs. Special tokens in text are encoded as
// ordinary text.
func (t *TikToken) Encode(text string) ([]int32, error) {
	tokens := t.encoding.EncodeOrdinary(text)

	result := make([]int32, len(tokens))
	for i, tok := range tokens {
		result[i] = int32(tok) //nolint:gosec // G115: token IDs fit in int32.
	}
	return result, nil
}

// Decode converts token IDs back to text. Unknown IDs decode to nothing.
func (t *TikToken) Decode(tokens []int32) (string, error) {
	ids := make([]int, len(tokens))
	for i, tok := range tokens {
		ids[i] = int(tok)
	}
	return t.encoding.Decode(ids), nil
}

// VocabSize returns the number of token IDs, special tokens included.
func (t *TikToken) VocabSize() int {
	return t.vocabSize
}

// BosToken returns -1.
func (t *TikToken) BosToken() int32 {
	return -1
}

// EosToken returns the id of <|endoftext|>.
func (t *TikToken) EosToken() int32 {
	return t.eos
}

// UnkToken returns -1: byte-level ranks cover every input.
func (t *TikToken) UnkToken() int32 {
	return -1
}

// IsSpecialToken reports whether token is one of the encoding's special
// tokens.
func (t *TikToken) IsSpecialToken(token int32) bool {
	return t.special[token]
}

// Name returns the encoding name.
func (t *TikToken) Name() string {
	return t.name
}
