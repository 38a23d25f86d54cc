package tokenizer

// Tokenizer is the core interface for text tokenization.
//
// All codecs (byte-level BPE, tiktoken) implement this interface so the
// generation session can be driven by either of them.
type Tokenizer interface {
	// Encode converts text to token IDs.
	Encode(text string) ([]int32, error)

	// Decode converts token IDs back to text.
	Decode(tokens []int32) (string, error)

	// VocabSize returns the total vocabulary size.
	VocabSize() int

	// BosToken returns the beginning-of-sequence token ID.
	// Returns -1 if not applicable.
	BosToken() int32

	// EosToken returns the end-of-sequence token ID.
	// Returns -1 if not applicable.
	EosToken() int32

	// UnkToken returns the ID unknown symbols are mapped to.
	// Returns -1 if not applicable.
	UnkToken() int32

	// IsSpecialToken checks if a token ID is a special token.
	IsSpecialToken(token int32) bool
}

// PrependBOS returns a copy of tokens with the BOS sentinel inserted in front.
// The insert is unconditional.
func PrependBOS(tok Tokenizer, tokens []int32) []int32 {
	out := make([]int32, 0, len(tokens)+1)
	out = append(out, tok.BosToken())
	return append(out, tokens...)
}

// AppendEOS returns a copy of tokens with the EOS sentinel appended.
// The insert is unconditional.
func AppendEOS(tok Tokenizer, tokens []int32) []int32 {
	out := make([]int32, 0, len(tokens)+1)
	out = append(out, tokens...)
	return append(out, tok.EosToken())
}

// StripBOS removes a leading BOS sentinel if present.
func StripBOS(tok Tokenizer, tokens []int32) []int32 {
	if len(tokens) > 0 && tokens[0] == tok.BosToken() {
		return tokens[1:]
	}
	return tokens
}

// StripEOS removes a trailing EOS sentinel if present.
func StripEOS(tok Tokenizer, tokens []int32) []int32 {
	if n := len(tokens); n > 0 && tokens[n-1] == tok.EosToken() {
		return tokens[:n-1]
	}
	return tokens
}
