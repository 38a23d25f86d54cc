package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPretokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "words keep leading space",
			text: "Hello world",
			want: []string{"Hello", " world"},
		},
		{
			name: "contractions",
			text: "it's they'll we'd",
			want: []string{"it", "'s", " they", "'ll", " we", "'d"},
		},
		{
			name: "digits and symbols",
			text: "abc 123 !!?",
			want: []string{"abc", " 123", " !!?"},
		},
		{
			name: "whitespace before a word is split off",
			text: "a   b",
			want: []string{"a", "  ", " b"},
		},
		{
			name: "trailing whitespace",
			text: "end  \n",
			want: []string{"end", "  \n"},
		},
		{
			name: "unicode letters",
			text: "héllo wörld",
			want: []string{"héllo", " wörld"},
		},
		{
			name: "empty",
			text: "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Pretokenize(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.text, strings.Join(got, ""))
		})
	}
}

func TestByteTable(t *testing.T) {
	table := newByteTable()

	t.Run("bijective", func(t *testing.T) {
		seen := make(map[rune]bool, 256)
		for b := 0; b < 256; b++ {
			r := table.encode[b]
			assert.False(t, seen[r], "glyph %q reused", r)
			seen[r] = true
			assert.Equal(t, byte(b), table.decode[r])
		}
		assert.Len(t, table.decode, 256)
	})

	t.Run("known glyphs", func(t *testing.T) {
		assert.Equal(t, 'A', table.encode['A'])
		assert.Equal(t, 'Ġ', table.encode[' '])
		assert.Equal(t, 'Ċ', table.encode['\n'])
		assert.Equal(t, rune(256), table.encode[0])
	})

	t.Run("multibyte roundtrip", func(t *testing.T) {
		glyphs := table.glyphs("é")
		assert.Equal(t, "Ã©", glyphs)
		assert.Equal(t, []byte("é"), table.bytes(glyphs))
	})
}
