package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"scaled", []float64{1, 2, 3}, []float64{2, 4, 6}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"zero", []float64{0, 0}, []float64{1, 0}, 0},
		{"length mismatch", []float64{1, 0}, []float64{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cosine(tt.a, tt.b), 1e-9)
			assert.InDelta(t, Cosine(tt.a, tt.b), Cosine(tt.b, tt.a), 1e-12, "cosine must be symmetric")
		})
	}
}

func TestCosineSelfSimilarity(t *testing.T) {
	vecs := [][]float64{{0.1, 0.9}, {5, -3, 2}, {1e-6, 1e-6, 1e-6, 1e-6, 1e-6}}
	for _, v := range vecs {
		assert.InDelta(t, 1.0, Cosine(v, v), 1e-9)
	}
}

func TestTopK(t *testing.T) {
	q := []float64{1, 0}
	cands := [][]float64{
		{0, 1},   // 0
		{1, 0},   // 1
		{1, 1},   // ~0.707
		{1, 0.1}, // ~0.995
	}

	got := TopK(q, cands, 2)
	assert.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Index)
	assert.Equal(t, 3, got[1].Index)

	all := TopK(q, cands, 0)
	assert.Len(t, all, 4)
	assert.Equal(t, 0, all[3].Index)
}

func TestBest(t *testing.T) {
	q := []float64{1, 0}
	cands := [][]float64{
		{1, 0.05}, // best but rejected by accept
		{1, 0.3},
		{0, 1},
	}

	best, ok := Best(q, cands, 0.8, func(i int) bool { return i != 0 })
	assert.True(t, ok)
	assert.Equal(t, 1, best.Index)
	assert.GreaterOrEqual(t, best.Score, 0.8)

	_, ok = Best(q, cands, 0.9999, nil)
	assert.False(t, ok)
}
