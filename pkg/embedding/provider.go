package embedding

import (
	"context"
	"math"
)

// Provider maps text to fixed-length vectors.
type Provider interface {
	// Model returns the model identifier used to build vectors.
	Model() string

	// Dimensions returns the vector length produced by the provider, or 0
	// while it is not yet known.
	Dimensions() int

	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch returns one vector per input text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// L2Normalize scales v to unit length in place. Zero vectors are left untouched.
func L2Normalize(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	mag := math.Sqrt(sum)
	for i := range v {
		v[i] /= mag
	}
}
