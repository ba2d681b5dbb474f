package embedding

import (
	"context"
	"strings"
)

// HashDimensions is the vector length of the hash provider.
const HashDimensions = 5

// HashProvider is a deterministic bag-of-words embedder. Each word is hashed
// and folded into one of five buckets by its position. It has no semantic
// power and is meant for offline runs and tests.
type HashProvider struct{}

// NewHashProvider creates a HashProvider.
func NewHashProvider() *HashProvider {
	return &HashProvider{}
}

func (h *HashProvider) Model() string   { return "hash-5" }
func (h *HashProvider) Dimensions() int { return HashDimensions }

func (h *HashProvider) Embed(_ context.Context, text string) ([]float64, error) {
	return hashVector(text), nil
}

func (h *HashProvider) EmbedBatch(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t)
	}
	return out, nil
}

func hashVector(text string) []float64 {
	vec := make([]float64, HashDimensions)
	for i, word := range strings.Fields(strings.ToLower(text)) {
		vec[i%HashDimensions] += float64(wordHash(word)%100) / 100.0
	}
	L2Normalize(vec)
	return vec
}

// wordHash is the classic 31-multiplier string hash over UTF-16 code units,
// truncated to 32 bits, returned as an absolute value.
func wordHash(s string) int64 {
	var h int32
	for _, r := range s {
		if r > 0xFFFF {
			r -= 0x10000
			h = h*31 + int32(0xD800+(r>>10))
			h = h*31 + int32(0xDC00+(r&0x3FF))
			continue
		}
		h = h*31 + int32(r)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return v
}
