// Package tokenizer converts between text and token IDs.
//
// The main codec is BPETokenizer, a byte-level Byte-Pair Encoding tokenizer
// compatible with GPT-2 style vocab.json/merges.txt assets:
//   - text is split with the GPT-2 pre-tokenization pattern
//   - each pre-token's bytes are mapped to printable glyphs
//   - adjacent glyph pairs are merged by rank until no ranked pair remains
//
// TikToken is an alternate codec for OpenAI encodings (cl100k_base, p50k_base).
//
// PromptTemplate wraps a raw question into a model's turn format before
// encoding.
//
// Example usage:
//
//	tok, err := tokenizer.LoadByteLevelBPE("vocab.json", "merges.txt")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	prompt := tokenizer.UserAssistantTemplate.Apply("What is RAG?")
//	tokens, err := tok.Encode(prompt)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	text, err := tok.Decode(tokens)
package tokenizer
