package generate

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// neutralConfig disables every stage so tests can switch on one at a time.
func neutralConfig() SamplingConfig {
	return SamplingConfig{
		Temperature:    1.0,
		TopK:           0,
		TopP:           1.0,
		TailFreeZ:      1.0,
		TypicalP:       1.0,
		RepeatPenalty:  1.0,
		RepeatWindow:   64,
		NewlineToken:   -1,
		MaximumContext: 4096,
		Seed:           42,
	}
}

// fromProbs builds a candidate set whose softmax is probs.
func fromProbs(probs ...float64) *candidates {
	items := make([]TokenCandidate, len(probs))
	for i, p := range probs {
		items[i] = TokenCandidate{ID: int32(i), Logit: float32(math.Log(p))}
	}
	return &candidates{items: items}
}

func ids(c *candidates) []int32 {
	out := make([]int32, len(c.items))
	for i, item := range c.items {
		out[i] = item.ID
	}
	return out
}

func TestGreedySampling(t *testing.T) {
	for _, temp := range []float32{0, -1} {
		config := neutralConfig()
		config.Temperature = temp
		sampler := NewSampler(config)

		logits := []float32{-1, 0, 1}

		for i := 0; i < 10; i++ {
			token := sampler.Sample(logits, nil)
			assert.Equal(t, int32(2), token, "Greedy should always pick max")
		}
	}
}

func TestGreedySampling_LargeVocab(t *testing.T) {
	config := neutralConfig()
	config.Temperature = 0
	sampler := NewSampler(config)

	logits := make([]float32, 50000)
	for i := range logits {
		logits[i] = float32(i) * 0.001
	}
	logits[12345] = 100.0 // Clear max

	token := sampler.Sample(logits, nil)
	assert.Equal(t, int32(12345), token)
}

func TestSample_DoesNotModifyLogits(t *testing.T) {
	config := DefaultSamplingConfig()
	config.Seed = 1
	sampler := NewSampler(config)

	logits := []float32{3, 1, 2, -1}
	want := append([]float32{}, logits...)

	sampler.Sample(logits, []int32{0, 2, 2})
	assert.Equal(t, want, logits)
}

func TestSample_EmptyLogits(t *testing.T) {
	sampler := NewSampler(neutralConfig())
	assert.Equal(t, int32(0), sampler.Sample(nil, nil))
}

func TestPenaltyWindow(t *testing.T) {
	history := []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

	tests := []struct {
		name      string
		window    int
		maxCtx    int
		history   []int32
		wantTail  []int32
		wantEmpty bool
	}{
		{"history shorter than window", 64, 4096, history[:3], []int32{0, 1, 2}, false},
		{"window shorter than history", 2, 4096, history, []int32{8, 9}, false},
		{"context caps window", 64, 3, history, []int32{7, 8, 9}, false},
		{"negative window means context", -1, 4, history, []int32{6, 7, 8, 9}, false},
		{"zero window", 0, 4096, history, nil, true},
		{"empty history", 64, 4096, nil, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := neutralConfig()
			config.RepeatWindow = tt.window
			config.MaximumContext = tt.maxCtx

			got := NewSampler(config).penaltyWindow(tt.history)
			if tt.wantEmpty {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.wantTail, got)
		})
	}
}

func TestRepetitionPenalty(t *testing.T) {
	sampler := NewSampler(neutralConfig())
	c := sampler.load([]float32{2, -2, 1, 0.5})

	// Token 0 appears twice but is penalized once.
	applyRepetitionPenalty(c, []int32{0, 1, 0}, 2.0)

	assert.Equal(t, float32(1), c.items[0].Logit)
	assert.Equal(t, float32(-4), c.items[1].Logit)
	assert.Equal(t, float32(1), c.items[2].Logit)
	assert.Equal(t, float32(0.5), c.items[3].Logit)
}

func TestNewSampler_NonPositiveRepeatPenalty(t *testing.T) {
	for _, penalty := range []float32{0, -1} {
		t.Run(fmt.Sprint(penalty), func(t *testing.T) {
			config := neutralConfig()
			config.RepeatPenalty = penalty
			config.Temperature = 0
			assert.ErrorIs(t, config.Validate(), ErrInvalidConfig)

			sampler := NewSampler(config)
			assert.Equal(t, float32(1), sampler.Config().RepeatPenalty, "penalty is disabled")

			logits := []float32{1, 3, -2, 0.5}
			assert.Equal(t, int32(1), sampler.Sample(logits, []int32{1, 1, 2}))
		})
	}
}

func TestFrequencyAndPresencePenalty(t *testing.T) {
	sampler := NewSampler(neutralConfig())
	c := sampler.load([]float32{1.5, 1.0, 0.5})

	applyFrequencyPenalty(c, []int32{0, 0, 2}, 0.5, 0.25)

	assert.InDelta(t, 0.25, c.items[0].Logit, 1e-6)  // 1.5 - (2*0.5 + 0.25)
	assert.InDelta(t, 1.0, c.items[1].Logit, 1e-6)   // absent
	assert.InDelta(t, -0.25, c.items[2].Logit, 1e-6) // 0.5 - (1*0.5 + 0.25)
}

func TestPenalties_IgnoreOutOfRangeTokens(t *testing.T) {
	config := neutralConfig()
	config.Temperature = 0
	config.RepeatPenalty = 2
	config.FrequencyPenalty = 1
	sampler := NewSampler(config)

	assert.NotPanics(t, func() {
		sampler.Sample([]float32{1, 2}, []int32{-1, 7, 1})
	})
}

func TestRepeatWindow(t *testing.T) {
	config := neutralConfig()
	config.Temperature = 0
	config.RepeatPenalty = 10.0
	config.RepeatWindow = 3
	sampler := NewSampler(config)

	logits := []float32{5.0, 1.0, 1.0}
	// Token 0 appeared early but outside window
	prev := []int32{0, 1, 2, 1, 2}

	token := sampler.Sample(logits, prev)
	assert.Equal(t, int32(0), token)
}

func TestNewlineExemption(t *testing.T) {
	logits := []float32{1.0, 2.0, 1.5}
	history := []int32{1, 1}

	config := neutralConfig()
	config.Temperature = 0
	config.RepeatPenalty = 2
	config.FrequencyPenalty = 1
	config.NewlineToken = 1

	t.Run("newline keeps its logit", func(t *testing.T) {
		config.PenalizeNewline = false
		assert.Equal(t, int32(1), NewSampler(config).Sample(logits, history))
	})

	t.Run("newline penalized", func(t *testing.T) {
		// 2.0 / 2 - 2*1 = -1, so token 2 wins.
		config.PenalizeNewline = true
		assert.Equal(t, int32(2), NewSampler(config).Sample(logits, history))
	})
}

func TestTopK(t *testing.T) {
	tests := []struct {
		name string
		k    int
		want []int32
	}{
		{"zero keeps vocabulary", 0, []int32{4, 3, 2, 1, 0}},
		{"negative keeps vocabulary", -3, []int32{4, 3, 2, 1, 0}},
		{"top two", 2, []int32{4, 3}},
		{"larger than vocabulary", 100, []int32{4, 3, 2, 1, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewSampler(neutralConfig()).load([]float32{1, 2, 3, 4, 5})
			applyTopK(c, tt.k)
			assert.Equal(t, tt.want, ids(c))
			assert.True(t, c.sorted)
		})
	}
}

func TestTopKSampling(t *testing.T) {
	config := neutralConfig()
	config.TopK = 2
	sampler := NewSampler(config)

	logits := []float32{1, 2, 3, 4, 5}

	// Should only sample from top 2 tokens (indices 3, 4)
	counts := make(map[int32]int)
	for i := 0; i < 100; i++ {
		counts[sampler.Sample(logits, nil)]++
	}

	assert.Equal(t, 0, counts[0]+counts[1]+counts[2], "Should not sample from filtered tokens")
	assert.Greater(t, counts[3], 0)
	assert.Greater(t, counts[4], 0)
}

func TestTailFree(t *testing.T) {
	tests := []struct {
		name string
		z    float32
		want int
	}{
		{"disabled at one", 1.0, 5},
		{"tight", 0.2, 1},
		{"loose", 0.5, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Second derivatives normalize to about [0, 0.25, 0.75].
			c := fromProbs(0.4, 0.3, 0.2, 0.07, 0.03)
			applyTailFree(c, tt.z)
			assert.Len(t, c.items, tt.want)
			assert.Equal(t, int32(0), c.items[0].ID)
		})
	}

	t.Run("two candidates are left alone", func(t *testing.T) {
		c := fromProbs(0.9, 0.1)
		applyTailFree(c, 0.0)
		assert.Len(t, c.items, 2)
	})

	t.Run("flat distribution", func(t *testing.T) {
		c := fromProbs(0.25, 0.25, 0.25, 0.25)
		applyTailFree(c, 0.1)
		assert.NotEmpty(t, c.items)
	})
}

func TestTypical(t *testing.T) {
	tests := []struct {
		name string
		p    float32
		want []int32
	}{
		{"disabled at one", 1.0, []int32{0, 1, 2, 3, 4}},
		// Entropy is ~1.34 nats; token 1 (0.3) is the most typical, then token 2.
		{"keeps most typical first", 0.45, []int32{1, 2}},
		{"single most typical", 0.2, []int32{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := fromProbs(0.4, 0.3, 0.2, 0.07, 0.03)
			applyTypical(c, tt.p)
			assert.Equal(t, tt.want, ids(c))
		})
	}
}

func TestTopP(t *testing.T) {
	tests := []struct {
		name string
		p    float32
		want []int32
	}{
		{"disabled at one", 1.0, []int32{0, 1, 2, 3, 4}},
		{"minimal prefix", 0.65, []int32{0, 1}},
		{"wide", 0.95, []int32{0, 1, 2, 3}},
		{"keeps at least one", 0.01, []int32{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := fromProbs(0.4, 0.3, 0.2, 0.07, 0.03)
			applyTopP(c, tt.p)
			assert.Equal(t, tt.want, ids(c))
		})
	}
}

func TestTopPSampling(t *testing.T) {
	config := neutralConfig()
	config.TopP = 0.5
	sampler := NewSampler(config)

	// Token 4 carries nearly all the mass.
	logits := []float32{-10, -10, -10, 0, 5}

	for i := 0; i < 50; i++ {
		assert.Equal(t, int32(4), sampler.Sample(logits, nil))
	}
}

func TestTemperature(t *testing.T) {
	c := NewSampler(neutralConfig()).load([]float32{1, -2, 0.5})
	applyTemperature(c, 0.5)

	assert.Equal(t, float32(2), c.items[0].Logit)
	assert.Equal(t, float32(-4), c.items[1].Logit)
	assert.Equal(t, float32(1), c.items[2].Logit)
}

func TestTemperatureSampling(t *testing.T) {
	t.Run("low temperature", func(t *testing.T) {
		config := neutralConfig()
		config.Temperature = 0.1
		sampler := NewSampler(config)

		logits := []float32{1, 2, 3}

		counts := make(map[int32]int)
		for i := 0; i < 100; i++ {
			counts[sampler.Sample(logits, nil)]++
		}

		assert.Greater(t, counts[2], 90, "Low temp should favor max")
	})

	t.Run("high temperature", func(t *testing.T) {
		config := neutralConfig()
		config.Temperature = 2.0
		sampler := NewSampler(config)

		logits := []float32{1, 2, 3}

		counts := make(map[int32]int)
		for i := 0; i < 100; i++ {
			counts[sampler.Sample(logits, nil)]++
		}

		assert.Greater(t, counts[0]+counts[1], 5, "High temp should distribute samples")
	})
}

func TestStageOrder_PenaltyBeforeTopK(t *testing.T) {
	config := neutralConfig()
	config.Temperature = 0
	config.RepeatPenalty = 2
	config.TopK = 1

	// Token 0 leads until penalized; top-k must see the penalized logits.
	token := NewSampler(config).Sample([]float32{3, 2.9, 0}, []int32{0})
	assert.Equal(t, int32(1), token)
}

func TestFiltersNeverEmpty(t *testing.T) {
	rng := rand.New(rand.NewSource(7)) //nolint:gosec // test data

	configs := []SamplingConfig{
		{TopK: 1, TopP: 0, TailFreeZ: 0, TypicalP: 0, RepeatPenalty: 1, Temperature: 1, NewlineToken: -1},
		{TopK: -1, TopP: 0, TailFreeZ: 0.01, TypicalP: 0.01, RepeatPenalty: 1.3, Temperature: 0.7, NewlineToken: -1, RepeatWindow: 8},
		{TopK: 40, TopP: 0.95, TailFreeZ: 0.5, TypicalP: 0.5, RepeatPenalty: 1.1, Temperature: 0.5, NewlineToken: 3, RepeatWindow: 64},
	}

	for i, config := range configs {
		config.Seed = int64(i)
		config.MaximumContext = 4096
		sampler := NewSampler(config)

		for n := 0; n < 50; n++ {
			size := 1 + rng.Intn(64)
			logits := make([]float32, size)
			for j := range logits {
				logits[j] = float32(rng.NormFloat64() * 3)
			}
			history := []int32{int32(rng.Intn(size)), int32(rng.Intn(size))}

			token := sampler.Sample(logits, history)
			require.GreaterOrEqual(t, token, int32(0))
			require.Less(t, token, int32(size))
		}
	}
}

func TestDeterministicWithSeed(t *testing.T) {
	config := DefaultSamplingConfig()
	config.Temperature = 1.0
	config.Seed = 12345

	logits := make([]float32, 1000)
	for i := range logits {
		logits[i] = float32(i) * 0.01
	}

	// Same seed should give same results
	sampler1 := NewSampler(config)
	sampler2 := NewSampler(config)

	history := []int32{999, 998}
	for i := 0; i < 10; i++ {
		t1 := sampler1.Sample(logits, history)
		t2 := sampler2.Sample(logits, history)
		assert.Equal(t, t1, t2, "Same seed should give same results")
	}
}

func TestSoftmax(t *testing.T) {
	t.Run("basic", func(t *testing.T) {
		c := NewSampler(neutralConfig()).load([]float32{0, 0, 0})
		softmax(c)

		for _, item := range c.items {
			assert.InDelta(t, 1.0/3.0, item.P, 0.001)
		}
	})

	t.Run("sorts descending", func(t *testing.T) {
		c := NewSampler(neutralConfig()).load([]float32{1, 3, 2})
		softmax(c)
		assert.Equal(t, []int32{1, 2, 0}, ids(c))
	})

	t.Run("numerical stability", func(t *testing.T) {
		c := NewSampler(neutralConfig()).load([]float32{1000, 1001, 1002})
		softmax(c)

		sum := float32(0)
		for _, item := range c.items {
			assert.False(t, math.IsNaN(float64(item.P)), "Should not be NaN")
			assert.False(t, math.IsInf(float64(item.P), 0), "Should not be Inf")
			sum += item.P
		}
		assert.InDelta(t, 1.0, sum, 0.001, "Should sum to 1")
	})
}

func TestDefaultSamplingConfig(t *testing.T) {
	config := DefaultSamplingConfig()

	assert.Equal(t, float32(0.5), config.Temperature)
	assert.Equal(t, 40, config.TopK)
	assert.Equal(t, float32(0.95), config.TopP)
	assert.Equal(t, float32(1.0), config.TailFreeZ)
	assert.Equal(t, float32(1.0), config.TypicalP)
	assert.Equal(t, float32(1.1), config.RepeatPenalty)
	assert.Equal(t, float32(0.0), config.FrequencyPenalty)
	assert.Equal(t, float32(0.0), config.PresencePenalty)
	assert.Equal(t, 64, config.RepeatWindow)
	assert.False(t, config.PenalizeNewline)
	assert.Equal(t, int32(-1), config.NewlineToken)
	assert.Equal(t, 4096, config.MaximumContext)
	assert.Equal(t, int64(-1), config.Seed)
}

func BenchmarkSampling(b *testing.B) {
	config := DefaultSamplingConfig()
	config.Seed = 42
	sampler := NewSampler(config)

	logits := make([]float32, 50000) // Typical vocab size
	for i := range logits {
		logits[i] = float32(i) * 0.0001
	}
	prev := make([]int32, 64)
	for i := range prev {
		prev[i] = int32(i * 500)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sampler.Sample(logits, prev)
	}
}
