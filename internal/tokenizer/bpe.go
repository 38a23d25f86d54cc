package tokenizer

import (
	"strings"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultCacheSize is the number of pre-token merge results kept in memory.
const DefaultCacheSize = 8192

// FallbackToken is the ID emitted for symbols missing from the vocabulary.
const FallbackToken int32 = 0

// BPETokenizer implements byte-level Byte-Pair Encoding.
//
// Text is pre-tokenized with the GPT-2 pattern, each pre-token's bytes are
// mapped to printable glyphs and then merged by rank. Encode and Decode are
// total: unknown symbols encode to FallbackToken and unknown IDs decode to
// the empty string.
type BPETokenizer struct {
	vocab         map[string]int32 // piece -> ID
	reverseVocab  map[int32]string // ID -> piece
	ranks         map[pair]int     // merge rank, lower merges first
	bytes         *byteTable
	cache         *lru.Cache // glyph pre-token -> []string symbols
	bosToken      int32
	eosToken      int32
	specialTokens map[int32]bool
}

type pair struct {
	first  string
	second string
}

// NewBPETokenizer creates a byte-level BPE tokenizer from a vocabulary and an
// ordered merge list. The rank of a merge is its position in merges.
func NewBPETokenizer(vocab map[string]int32, merges []pair) *BPETokenizer {
	reverseVocab := make(map[int32]string, len(vocab))
	for piece, id := range vocab {
		reverseVocab[id] = piece
	}

	ranks := make(map[pair]int, len(merges))
	for i, m := range merges {
		if _, dup := ranks[m]; !dup {
			ranks[m] = i
		}
	}

	cache, _ := lru.New(DefaultCacheSize) // only fails for size <= 0

	return &BPETokenizer{
		vocab:         vocab,
		reverseVocab:  reverseVocab,
		ranks:         ranks,
		bytes:         newByteTable(),
		cache:         cache,
		bosToken:      -1,
		eosToken:      -1,
		specialTokens: make(map[int32]bool),
	}
}

// SetSpecialTokens configures the BOS and EOS sentinel IDs.
func (b *BPETokenizer) SetSpecialTokens(bos, eos int32) {
	b.bosToken = bos
	b.eosToken = eos

	if bos >= 0 {
		b.specialTokens[bos] = true
	}
	if eos >= 0 {
		b.specialTokens[eos] = true
	}
}

// TokenID looks up a piece in the vocabulary.
func (b *BPETokenizer) TokenID(piece string) (int32, bool) {
	id, ok := b.vocab[piece]
	return id, ok
}

// Encode converts text to token IDs using byte-level BPE.
func (b *BPETokenizer) Encode(text string) ([]int32, error) {
	symbols, err := b.Tokenize(text)
	if err != nil {
		return nil, err
	}

	tokens := make([]int32, len(symbols))
	for i, s := range symbols {
		if id, ok := b.vocab[s]; ok {
			tokens[i] = id
		} else {
			tokens[i] = FallbackToken
		}
	}
	return tokens, nil
}

// Tokenize returns the merged glyph symbols for text without mapping them to IDs.
func (b *BPETokenizer) Tokenize(text string) ([]string, error) {
	pieces, err := Pretokenize(text)
	if err != nil {
		return nil, err
	}

	var symbols []string
	for _, piece := range pieces {
		symbols = append(symbols, b.merge(b.bytes.glyphs(piece))...)
	}
	return symbols, nil
}

// merge runs BPE on a single glyph pre-token.
func (b *BPETokenizer) merge(token string) []string {
	if cached, ok := b.cache.Get(token); ok {
		return cached.([]string)
	}

	word := strings.Split(token, "")
	if len(word) <= 1 {
		return word
	}

	for {
		best, found := b.lowestRankedPair(word)
		if !found {
			break
		}

		merged := make([]string, 0, len(word))
		for i := 0; i < len(word); {
			if i < len(word)-1 && word[i] == best.first && word[i+1] == best.second {
				merged = append(merged, best.first+best.second)
				i += 2
				continue
			}
			merged = append(merged, word[i])
			i++
		}
		word = merged

		if len(word) == 1 {
			break
		}
	}

	b.cache.Add(token, word)
	return word
}

// lowestRankedPair returns the adjacent pair with the lowest merge rank.
// Ranks are unique, so the result does not depend on scan order.
func (b *BPETokenizer) lowestRankedPair(word []string) (pair, bool) {
	best := pair{}
	bestRank := -1
	for i := 0; i < len(word)-1; i++ {
		p := pair{word[i], word[i+1]}
		rank, ok := b.ranks[p]
		if !ok {
			continue
		}
		if bestRank < 0 || rank < bestRank {
			best = p
			bestRank = rank
		}
	}
	return best, bestRank >= 0
}

// Decode converts token IDs back to text.
func (b *BPETokenizer) Decode(tokens []int32) (string, error) {
	var sb strings.Builder
	for _, token := range tokens {
		sb.WriteString(b.reverseVocab[token])
	}
	return string(b.bytes.bytes(sb.String())), nil
}

// VocabSize returns the total vocabulary size.
func (b *BPETokenizer) VocabSize() int {
	return len(b.vocab)
}

// BosToken returns the beginning-of-sequence token ID.
func (b *BPETokenizer) BosToken() int32 {
	return b.bosToken
}

// EosToken returns the end-of-sequence token ID.
func (b *BPETokenizer) EosToken() int32 {
	return b.eosToken
}

// UnkToken returns FallbackToken, the ID unknown symbols encode to.
func (b *BPETokenizer) UnkToken() int32 {
	return FallbackToken
}

// IsSpecialToken checks if a token ID is a special token.
func (b *BPETokenizer) IsSpecialToken(token int32) bool {
	return b.specialTokens[token]
}
