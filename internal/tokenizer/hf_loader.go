package tokenizer

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidVocab is returned when a vocabulary file cannot be parsed.
	ErrInvalidVocab = errors.New("tokenizer: invalid vocabulary")

	// ErrInvalidMerges is returned when a merge-rules file has a malformed line.
	ErrInvalidMerges = errors.New("tokenizer: invalid merge rules")

	// ErrUnsupportedTokenizer is returned for tokenizer.json models other than BPE.
	ErrUnsupportedTokenizer = errors.New("tokenizer: unsupported tokenizer type")
)

// HFTokenizerType identifies the tokenizer implementation type.
type HFTokenizerType string

const (
	// HFTypeBPE indicates Byte-Pair Encoding tokenizer.
	HFTypeBPE HFTokenizerType = "BPE"

	// HFTypeWordPiece indicates WordPiece tokenizer (BERT-style).
	HFTypeWordPiece HFTokenizerType = "WordPiece"

	// HFTypeUnigram indicates Unigram tokenizer (SentencePiece-style).
	HFTypeUnigram HFTokenizerType = "Unigram"

	// HFTypeUnknown indicates an unknown or unsupported tokenizer type.
	HFTypeUnknown HFTokenizerType = "Unknown"
)

// Special token spellings, tried in order.
var (
	bosCandidates = []string{"<s>", "<|endoftext|>"}
	eosCandidates = []string{"</s>", "<|endoftext|>"}
)

// ReadVocab parses a JSON object mapping pieces to token IDs.
func ReadVocab(r io.Reader) (map[string]int32, error) {
	var vocab map[string]int32
	if err := json.NewDecoder(r).Decode(&vocab); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidVocab, err)
	}
	for piece, id := range vocab {
		if id < 0 {
			return nil, fmt.Errorf("%w: negative id %d for %q", ErrInvalidVocab, id, piece)
		}
	}
	return vocab, nil
}

// LoadVocab reads vocab.json.
func LoadVocab(path string) (map[string]int32, error) {
	//nolint:gosec // Loading tokenizer assets from a user-specified path is intentional.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocab: %w", err)
	}
	defer f.Close()

	return ReadVocab(f)
}

// ReadMerges parses merge rules. The first line is a header and is skipped;
// blank lines are ignored. Each remaining line holds two space-separated
// symbols, and its rank is its position among those lines.
func ReadMerges(r io.Reader) ([]pair, error) {
	var merges []pair

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	header := true
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if text == "" {
			continue
		}
		if header {
			header = false
			continue
		}

		parts := strings.Split(text, " ")
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: line %d: %q", ErrInvalidMerges, line, text)
		}
		merges = append(merges, pair{parts[0], parts[1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMerges, err)
	}
	return merges, nil
}

// LoadMerges reads merges.txt.
func LoadMerges(path string) ([]pair, error) {
	//nolint:gosec // Loading tokenizer assets from a user-specified path is intentional.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open merges: %w", err)
	}
	defer f.Close()

	return ReadMerges(f)
}

// LoadByteLevelBPE builds a byte-level BPE tokenizer from a vocab.json and a
// merges.txt file and resolves its BOS/EOS sentinels from the vocabulary.
func LoadByteLevelBPE(vocabPath, mergesPath string) (*BPETokenizer, error) {
	vocab, err := LoadVocab(vocabPath)
	if err != nil {
		return nil, err
	}
	merges, err := LoadMerges(mergesPath)
	if err != nil {
		return nil, err
	}

	tok := NewBPETokenizer(vocab, merges)
	ResolveSpecialTokens(tok)
	return tok, nil
}

// ResolveSpecialTokens looks up the conventional BOS/EOS spellings in the
// vocabulary. "<s>" and "</s>" win over "<|endoftext|>". Sentinels that are
// not found stay at -1.
func ResolveSpecialTokens(tok *BPETokenizer) {
	tok.SetSpecialTokens(firstKnown(tok, bosCandidates), firstKnown(tok, eosCandidates))
}

func firstKnown(tok *BPETokenizer, pieces []string) int32 {
	for _, p := range pieces {
		if id, ok := tok.TokenID(p); ok {
			return id
		}
	}
	return -1
}

// hfTokenizerFile is the subset of tokenizer.json needed for BPE models.
type hfTokenizerFile struct {
	Model struct {
		Type   string           `json:"type"`
		Vocab  map[string]int32 `json:"vocab"`
		Merges json.RawMessage  `json:"merges"`
	} `json:"model"`
	AddedTokens []struct {
		ID      int32  `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

// hfType maps the model.type field of tokenizer.json.
func hfType(s string) HFTokenizerType {
	switch s {
	case "BPE":
		return HFTypeBPE
	case "WordPiece":
		return HFTypeWordPiece
	case "Unigram":
		return HFTypeUnigram
	default:
		return HFTypeUnknown
	}
}

func readHFTokenizerFile(path string) (*hfTokenizerFile, error) {
	//nolint:gosec // Loading tokenizer from user-specified path is intentional.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tokenizer.json: %w", err)
	}

	var file hfTokenizerFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tokenizer.json: %w", err)
	}
	return &file, nil
}

// parseHFMerges accepts both merge encodings found in tokenizer.json:
// ["a b", ...] and [["a", "b"], ...].
func parseHFMerges(raw json.RawMessage) ([]pair, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var joined []string
	if err := json.Unmarshal(raw, &joined); err == nil {
		merges := make([]pair, 0, len(joined))
		for i, m := range joined {
			parts := strings.Split(m, " ")
			if len(parts) != 2 {
				return nil, fmt.Errorf("%w: merge %d: %q", ErrInvalidMerges, i, m)
			}
			merges = append(merges, pair{parts[0], parts[1]})
		}
		return merges, nil
	}

	var split [][2]string
	if err := json.Unmarshal(raw, &split); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMerges, err)
	}
	merges := make([]pair, len(split))
	for i, m := range split {
		merges[i] = pair{m[0], m[1]}
	}
	return merges, nil
}

// LoadFromHuggingFace loads a tokenizer from a HuggingFace model directory.
//
// The directory must contain a tokenizer.json whose model type is BPE.
// Added tokens are merged into the vocabulary before special tokens are
// resolved.
func LoadFromHuggingFace(modelPath string) (*BPETokenizer, error) {
	file, err := readHFTokenizerFile(filepath.Join(modelPath, "tokenizer.json"))
	if err != nil {
		return nil, err
	}

	if t := hfType(file.Model.Type); t != HFTypeBPE {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTokenizer, file.Model.Type)
	}
	if len(file.Model.Vocab) == 0 {
		return nil, fmt.Errorf("%w: empty vocab in tokenizer.json", ErrInvalidVocab)
	}

	merges, err := parseHFMerges(file.Model.Merges)
	if err != nil {
		return nil, err
	}

	vocab := make(map[string]int32, len(file.Model.Vocab)+len(file.AddedTokens))
	for piece, id := range file.Model.Vocab {
		vocab[piece] = id
	}
	for _, added := range file.AddedTokens {
		vocab[added.Content] = added.ID
	}

	tok := NewBPETokenizer(vocab, merges)
	ResolveSpecialTokens(tok)
	for _, added := range file.AddedTokens {
		if added.Special {
			tok.specialTokens[added.ID] = true
		}
	}
	return tok, nil
}

// AutoLoadTokenizer loads the tokenizer named by pathOrName.
//
// It tries, in order:
//  1. a directory holding tokenizer.json
//  2. a directory holding vocab.json and merges.txt
//  3. a tiktoken encoding name
//  4. a tiktoken model name
func AutoLoadTokenizer(pathOrName string) (Tokenizer, error) {
	if info, err := os.Stat(pathOrName); err == nil && info.IsDir() {
		var (
			tok *BPETokenizer
			err error
		)
		if _, statErr := os.Stat(filepath.Join(pathOrName, "tokenizer.json")); statErr == nil {
			tok, err = LoadFromHuggingFace(pathOrName)
		} else {
			tok, err = LoadByteLevelBPE(
				filepath.Join(pathOrName, "vocab.json"),
				filepath.Join(pathOrName, "merges.txt"),
			)
		}
		if err != nil {
			return nil, err
		}
		return tok, nil
	}

	if tok, err := NewTikToken(pathOrName); err == nil {
		return tok, nil
	}
	if tok, err := NewTikTokenForModel(pathOrName); err == nil {
		return tok, nil
	}

	return nil, fmt.Errorf("failed to auto-load tokenizer from %q", pathOrName)
}
