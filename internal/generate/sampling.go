// Package generate drives autoregressive text generation.
//
// This package implements the sampling pipeline that turns per-step logits
// into the next token, and the Session that owns context state, feeds the
// engine and runs the decode loop.
package generate

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// minKeep is the number of candidates every filter stage must retain.
const minKeep = 1

// SamplingConfig configures the sampling pipeline.
type SamplingConfig struct {
	// Temperature rescales logits before the draw. <= 0 = greedy.
	Temperature float32

	// TopK limits sampling to the K highest logits. <= 0 = whole vocabulary.
	TopK int

	// TopP (nucleus sampling) keeps the smallest prefix with cumulative prob >= P. 1.0 = disabled.
	TopP float32

	// TailFreeZ is the tail-free sampling threshold. 1.0 = disabled.
	TailFreeZ float32

	// TypicalP is the locally typical sampling threshold. 1.0 = disabled.
	TypicalP float32

	// Repetition control
	RepeatPenalty    float32 // Penalty for repeated tokens. 1.0 = no penalty.
	FrequencyPenalty float32 // Penalty based on frequency. 0 = disabled.
	PresencePenalty  float32 // Penalty for presence. 0 = disabled.
	RepeatWindow     int     // Number of recent tokens to consider. < 0 = MaximumContext.

	// PenalizeNewline applies the repetition penalties to NewlineToken too.
	PenalizeNewline bool

	// NewlineToken is the token exempt from penalties. -1 = none.
	NewlineToken int32

	// MaximumContext caps the penalty window.
	MaximumContext int

	// Seed for reproducibility. -1 = random.
	Seed int64
}

// DefaultSamplingConfig returns the defaults used by on-device chat models.
func DefaultSamplingConfig() SamplingConfig {
	return SamplingConfig{
		Temperature:      0.5,
		TopK:             40,
		TopP:             0.95,
		TailFreeZ:        1.0,
		TypicalP:         1.0,
		RepeatPenalty:    1.1,
		FrequencyPenalty: 0.0,
		PresencePenalty:  0.0,
		RepeatWindow:     64,
		PenalizeNewline:  false,
		NewlineToken:     -1,
		MaximumContext:   4096,
		Seed:             -1,
	}
}

// TokenCandidate is one entry of the live candidate set.
type TokenCandidate struct {
	ID    int32
	Logit float32
	P     float32
}

// candidates is the live candidate set. sorted records whether the items
// are ordered by logit, descending.
type candidates struct {
	items  []TokenCandidate
	sorted bool
}

// Sampler samples tokens from logits using a fixed chain of stages.
type Sampler struct {
	config SamplingConfig
	rng    *rand.Rand
	buf    []TokenCandidate
}

// Validate reports sampling settings that would corrupt the logits.
func (c SamplingConfig) Validate() error {
	if !(c.RepeatPenalty > 0) {
		return fmt.Errorf("%w: repeat penalty %v must be positive", ErrInvalidConfig, c.RepeatPenalty)
	}
	return nil
}

// NewSampler creates a new sampler with the given configuration.
//
// A RepeatPenalty that is not positive disables the penalty.
func NewSampler(config SamplingConfig) *Sampler {
	if !(config.RepeatPenalty > 0) {
		config.RepeatPenalty = 1.0
	}

	var rng *rand.Rand
	if config.Seed >= 0 {
		rng = rand.New(rand.NewSource(config.Seed)) //nolint:gosec // Intentional deterministic seed for reproducibility
	} else {
		rng = rand.New(rand.NewSource(rand.Int63())) //nolint:gosec // User requested random seed
	}

	return &Sampler{
		config: config,
		rng:    rng,
	}
}

// Config returns the sampler configuration.
func (s *Sampler) Config() SamplingConfig {
	return s.config
}

// Sample returns the next token ID from logits. logits is not modified.
//
// The stages run in this order, each consuming the previous one's output:
//  1. Repetition penalty over the recent window
//  2. Frequency and presence penalties over the same window
//  3. Newline exemption (undo 1-2 for NewlineToken)
//  4. Top-K
//  5. Tail-free
//  6. Typical
//  7. Top-P
//  8. Temperature
//  9. Draw (or argmax if temperature <= 0)
func (s *Sampler) Sample(logits []float32, history []int32) int32 {
	if len(logits) == 0 {
		return 0
	}

	c := s.load(logits)

	window := s.penaltyWindow(history)

	newline := s.config.NewlineToken
	exempt := !s.config.PenalizeNewline && newline >= 0 && int(newline) < len(logits)
	var newlineLogit float32
	if exempt {
		newlineLogit = c.items[newline].Logit
	}

	// 1-2. Penalties. Items are still indexed by token ID here.
	applyRepetitionPenalty(c, window, s.config.RepeatPenalty)
	applyFrequencyPenalty(c, window, s.config.FrequencyPenalty, s.config.PresencePenalty)

	// 3. Newline exemption
	if exempt {
		c.items[newline].Logit = newlineLogit
	}

	// 4-7. Filters
	applyTopK(c, s.config.TopK)
	applyTailFree(c, s.config.TailFreeZ)
	applyTypical(c, s.config.TypicalP)
	applyTopP(c, s.config.TopP)

	// Greedy decoding (temperature <= 0)
	if s.config.Temperature <= 0 {
		return argmax(c)
	}

	// 8. Temperature
	applyTemperature(c, s.config.Temperature)

	// 9. Draw
	return s.draw(c)
}

// load copies logits into the reusable candidate buffer.
func (s *Sampler) load(logits []float32) *candidates {
	if cap(s.buf) < len(logits) {
		s.buf = make([]TokenCandidate, len(logits))
	}
	items := s.buf[:len(logits)]
	for i, v := range logits {
		items[i] = TokenCandidate{ID: int32(i), Logit: v} //nolint:gosec // vocab size is bounded by model architecture
	}
	return &candidates{items: items}
}

// penaltyWindow returns the last min(len(history), RepeatWindow, MaximumContext) tokens.
func (s *Sampler) penaltyWindow(history []int32) []int32 {
	n := s.config.RepeatWindow
	if n < 0 {
		n = s.config.MaximumContext
	}
	if s.config.MaximumContext > 0 && n > s.config.MaximumContext {
		n = s.config.MaximumContext
	}
	if n > len(history) {
		n = len(history)
	}
	if n <= 0 {
		return nil
	}
	return history[len(history)-n:]
}

// applyRepetitionPenalty penalizes every token present in window once.
func applyRepetitionPenalty(c *candidates, window []int32, penalty float32) {
	if len(window) == 0 || penalty == 1.0 {
		return
	}

	seen := make(map[int32]bool, len(window))
	for _, tok := range window {
		if seen[tok] || int(tok) < 0 || int(tok) >= len(c.items) {
			continue
		}
		seen[tok] = true

		if c.items[tok].Logit > 0 {
			c.items[tok].Logit /= penalty
		} else {
			c.items[tok].Logit *= penalty
		}
	}
	c.sorted = false
}

// applyFrequencyPenalty subtracts count*freq + presence for every token in window.
func applyFrequencyPenalty(c *candidates, window []int32, freqPen, presPen float32) {
	if len(window) == 0 || (freqPen == 0 && presPen == 0) {
		return
	}

	counts := make(map[int32]int, len(window))
	for _, tok := range window {
		counts[tok]++
	}

	for tok, count := range counts {
		if int(tok) < 0 || int(tok) >= len(c.items) {
			continue
		}
		c.items[tok].Logit -= float32(count)*freqPen + presPen
	}
	c.sorted = false
}

// sortByLogit orders candidates by logit, descending. Ties keep ID order.
func sortByLogit(c *candidates) {
	if c.sorted {
		return
	}
	sort.SliceStable(c.items, func(i, j int) bool { return c.items[i].Logit > c.items[j].Logit })
	c.sorted = true
}

// softmax sorts candidates and fills P.
func softmax(c *candidates) {
	sortByLogit(c)

	maxLogit := c.items[0].Logit
	sum := 0.0
	for i := range c.items {
		p := math.Exp(float64(c.items[i].Logit - maxLogit))
		c.items[i].P = float32(p)
		sum += p
	}
	for i := range c.items {
		c.items[i].P = float32(float64(c.items[i].P) / sum)
	}
}

// applyTopK keeps the k highest logits. k <= 0 keeps everything.
func applyTopK(c *candidates, k int) {
	if k <= 0 {
		k = len(c.items)
	}
	if k < minKeep {
		k = minKeep
	}
	if k > len(c.items) {
		k = len(c.items)
	}

	sortByLogit(c)
	c.items = c.items[:k]
}

// applyTailFree drops the tail where the normalized second derivative of the
// sorted probabilities has accumulated past z.
func applyTailFree(c *candidates, z float32) {
	if z >= 1.0 || len(c.items) <= 2 {
		return
	}

	softmax(c)

	n := len(c.items)
	first := make([]float64, n-1)
	for i := 0; i < n-1; i++ {
		first[i] = float64(c.items[i].P - c.items[i+1].P)
	}

	second := make([]float64, n-2)
	sum := 0.0
	for i := 0; i < n-2; i++ {
		second[i] = math.Abs(first[i] - first[i+1])
		sum += second[i]
	}

	// Flat distribution: treat every position alike.
	for i := range second {
		if sum > 1e-6 {
			second[i] /= sum
		} else {
			second[i] = 1.0 / float64(len(second))
		}
	}

	cum := 0.0
	last := n
	for i, d := range second {
		cum += d
		if cum > float64(z) && i >= minKeep {
			last = i
			break
		}
	}

	c.items = c.items[:last]
}

// applyTypical keeps the candidates whose information content is closest to
// the distribution's entropy until their mass exceeds p.
func applyTypical(c *candidates, p float32) {
	if p >= 1.0 {
		return
	}

	softmax(c)

	entropy := 0.0
	for _, item := range c.items {
		if item.P > 0 {
			entropy -= float64(item.P) * math.Log(float64(item.P))
		}
	}

	type scored struct {
		item  TokenCandidate
		shift float64
	}
	order := make([]scored, len(c.items))
	for i, item := range c.items {
		shift := math.Inf(1)
		if item.P > 0 {
			shift = math.Abs(-math.Log(float64(item.P)) - entropy)
		}
		order[i] = scored{item, shift}
	}
	sort.SliceStable(order, func(i, j int) bool { return order[i].shift < order[j].shift })

	cum := 0.0
	last := len(order)
	for i, s := range order {
		cum += float64(s.item.P)
		if cum > float64(p) && i >= minKeep-1 {
			last = i + 1
			break
		}
	}

	for i := 0; i < last; i++ {
		c.items[i] = order[i].item
	}
	c.items = c.items[:last]
	c.sorted = false
}

// applyTopP keeps the smallest prefix whose cumulative probability reaches p.
func applyTopP(c *candidates, p float32) {
	if p >= 1.0 {
		return
	}

	softmax(c)

	cum := 0.0
	last := len(c.items)
	for i, item := range c.items {
		cum += float64(item.P)
		if cum >= float64(p) && i+1 >= minKeep {
			last = i + 1
			break
		}
	}

	c.items = c.items[:last]
}

// applyTemperature divides every logit by t.
func applyTemperature(c *candidates, t float32) {
	for i := range c.items {
		c.items[i].Logit /= t
	}
}

// argmax returns the ID of the candidate with the highest logit.
func argmax(c *candidates) int32 {
	best := c.items[0]
	for _, item := range c.items[1:] {
		if item.Logit > best.Logit {
			best = item
		}
	}
	return best.ID
}

// draw samples from the normalized candidate distribution.
func (s *Sampler) draw(c *candidates) int32 {
	softmax(c)

	r := s.rng.Float64()

	cum := 0.0
	for _, item := range c.items {
		cum += float64(item.P)
		if r < cum {
			return item.ID
		}
	}

	// Return last candidate on rounding errors
	return c.items[len(c.items)-1].ID
}
