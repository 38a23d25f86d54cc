package tokenizer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(t *testing.T, path string, v interface{}) {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func writeByteLevelAssets(t *testing.T, dir string) {
	t.Helper()

	writeJSON(t, filepath.Join(dir, "vocab.json"), testVocab())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "merges.txt"), []byte(testMerges), 0o600))
}

func TestReadMerges(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []pair
		wantErr bool
	}{
		{
			name:  "header skipped",
			input: "#version: 0.2\na b\nab c\n",
			want:  []pair{{"a", "b"}, {"ab", "c"}},
		},
		{
			name:  "blank lines and CRLF",
			input: "#version: 0.2\r\n\r\na b\r\n\nc d",
			want:  []pair{{"a", "b"}, {"c", "d"}},
		},
		{
			name:  "header only",
			input: "#version: 0.2\n",
			want:  nil,
		},
		{
			name:    "malformed line",
			input:   "#version: 0.2\na b c\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merges, err := ReadMerges(strings.NewReader(tt.input))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidMerges)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, merges)
		})
	}
}

func TestReadVocab(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		vocab, err := ReadVocab(strings.NewReader(`{"a": 0, "Ġb": 1}`))
		require.NoError(t, err)
		assert.Equal(t, map[string]int32{"a": 0, "Ġb": 1}, vocab)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := ReadVocab(strings.NewReader(`{"a": `))
		assert.ErrorIs(t, err, ErrInvalidVocab)
	})

	t.Run("negative id", func(t *testing.T) {
		_, err := ReadVocab(strings.NewReader(`{"a": -1}`))
		assert.ErrorIs(t, err, ErrInvalidVocab)
	})
}

func TestLoadByteLevelBPE(t *testing.T) {
	dir := t.TempDir()
	writeByteLevelAssets(t, dir)

	tok, err := LoadByteLevelBPE(filepath.Join(dir, "vocab.json"), filepath.Join(dir, "merges.txt"))
	require.NoError(t, err)

	tokens, err := tok.Encode("hello world!")
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2, 11}, tokens)
	assert.Equal(t, int32(13), tok.BosToken())
	assert.Equal(t, int32(14), tok.EosToken())

	t.Run("missing merges", func(t *testing.T) {
		_, err := LoadByteLevelBPE(filepath.Join(dir, "vocab.json"), filepath.Join(dir, "nope.txt"))
		assert.Error(t, err)
	})
}

func TestLoadFromHuggingFace_BPE(t *testing.T) {
	tests := []struct {
		name   string
		merges interface{}
	}{
		{
			name:   "joined merges",
			merges: []string{"h e", "l l", "he ll", "hell o", "Ġ w", "o r", "Ġw or", "Ġwor l", "Ġworl d"},
		},
		{
			name: "split merges",
			merges: [][]string{
				{"h", "e"}, {"l", "l"}, {"he", "ll"}, {"hell", "o"},
				{"Ġ", "w"}, {"o", "r"}, {"Ġw", "or"}, {"Ġwor", "l"}, {"Ġworl", "d"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()

			vocab := testVocab()
			delete(vocab, "<s>")
			delete(vocab, "</s>")

			writeJSON(t, filepath.Join(dir, "tokenizer.json"), map[string]interface{}{
				"model": map[string]interface{}{
					"type":   "BPE",
					"vocab":  vocab,
					"merges": tt.merges,
				},
				"added_tokens": []map[string]interface{}{
					{"id": 13, "content": "<s>", "special": true},
					{"id": 14, "content": "</s>", "special": true},
				},
			})

			tok, err := LoadFromHuggingFace(dir)
			require.NoError(t, err)

			tokens, err := tok.Encode("hello world")
			require.NoError(t, err)
			assert.Equal(t, []int32{1, 2}, tokens)
			assert.Equal(t, int32(13), tok.BosToken())
			assert.Equal(t, int32(14), tok.EosToken())
			assert.Equal(t, 15, tok.VocabSize())
		})
	}
}

func TestLoadFromHuggingFace_UnsupportedType(t *testing.T) {
	tests := []struct {
		name     string
		typeName string
	}{
		{"WordPiece", "WordPiece"},
		{"Unigram", "Unigram"},
		{"other", "Mystery"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeJSON(t, filepath.Join(dir, "tokenizer.json"), map[string]interface{}{
				"model": map[string]interface{}{
					"type":  tt.typeName,
					"vocab": map[string]int{"[CLS]": 0},
				},
			})

			_, err := LoadFromHuggingFace(dir)
			assert.ErrorIs(t, err, ErrUnsupportedTokenizer)
		})
	}
}

func TestLoadFromHuggingFace_BadFile(t *testing.T) {
	t.Run("invalid json", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "tokenizer.json"), []byte("{invalid json"), 0o600))

		_, err := LoadFromHuggingFace(dir)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFromHuggingFace(t.TempDir())
		assert.Error(t, err)
	})
}

func TestAutoLoadTokenizer(t *testing.T) {
	t.Run("vocab and merges directory", func(t *testing.T) {
		dir := t.TempDir()
		writeByteLevelAssets(t, dir)

		tok, err := AutoLoadTokenizer(dir)
		require.NoError(t, err)

		text, err := tok.Decode([]int32{1, 2})
		require.NoError(t, err)
		assert.Equal(t, "hello world", text)
	})

	t.Run("empty directory", func(t *testing.T) {
		_, err := AutoLoadTokenizer(t.TempDir())
		assert.Error(t, err)
	})
}
