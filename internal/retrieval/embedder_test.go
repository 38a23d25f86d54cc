package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWords(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"lowercases", "My Dog", []string{"my", "dog"}},
		{"drops punctuation", "What is eating your dog?", []string{"what", "is", "eating", "your", "dog"}},
		{"keeps digits", "route 66", []string{"route", "66"}},
		{"only punctuation", "?! ...", nil},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Words(tt.text)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHashingEmbedder(t *testing.T) {
	e := NewHashingEmbedder(0)
	assert.Equal(t, DefaultDimensions, e.Dimensions())

	v, err := e.Embed("the dog the DOG")
	require.NoError(t, err)
	require.Len(t, v, DefaultDimensions)

	// Presence, not counts: two distinct words.
	assert.InDelta(t, 2.0, Magnitude(v)*Magnitude(v), 1e-9)
}

func TestHashingEmbedder_Deterministic(t *testing.T) {
	e := NewHashingEmbedder(512)

	a, err := e.Embed("My dog is eating the shoes")
	require.NoError(t, err)
	b, err := e.Embed("my DOG is eating the shoes!")
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestHashingEmbedder_NoWords(t *testing.T) {
	e := NewHashingEmbedder(64)

	for _, text := range []string{"", "   ", "?!"} {
		_, err := e.Embed(text)
		assert.ErrorIs(t, err, ErrEmbeddingFailure, "text %q", text)
	}
}

func TestHashingEmbedder_Overlap(t *testing.T) {
	e := NewHashingEmbedder(0)

	q, err := e.Embed("What is eating your dog?")
	require.NoError(t, err)
	d, err := e.Embed("My dog is eating the shoes")
	require.NoError(t, err)

	// 3 shared words over 5 and 6 distinct words.
	got := CosineSimilarity(q, d, Magnitude(q), Magnitude(d))
	assert.InDelta(t, 0.5477, got, 0.05)
	assert.GreaterOrEqual(t, got, 0.5)
}
