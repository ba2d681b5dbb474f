package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docuscene/pkg/cache"
)

func norm(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

func TestHashProvider(t *testing.T) {
	ctx := context.Background()
	p := NewHashProvider()

	a, err := p.Embed(ctx, "Office Meeting professional")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "office meeting PROFESSIONAL")
	require.NoError(t, err)

	assert.Len(t, a, HashDimensions)
	assert.Equal(t, a, b, "embedding must be case-insensitive and deterministic")
	assert.InDelta(t, 1.0, norm(a), 1e-9)

	empty, err := p.Embed(ctx, "   ")
	require.NoError(t, err)
	assert.Equal(t, make([]float64, HashDimensions), empty)
}

func TestWordHash(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"a", 97},
		{"ab", 97*31 + 98},
		{"hello", 99162322},
		// overflows int32 and wraps negative before abs
		{"polygenelubricants", 2147483648},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, wordHash(tt.in))
		})
	}
}

func TestL2Normalize(t *testing.T) {
	v := []float64{3, 4}
	L2Normalize(v)
	assert.InDelta(t, 0.6, v[0], 1e-9)
	assert.InDelta(t, 0.8, v[1], 1e-9)

	zero := []float64{0, 0}
	L2Normalize(zero)
	assert.Equal(t, []float64{0, 0}, zero)
}

func TestOpenAIProvider(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model

		type row struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		resp := struct {
			Object string `json:"object"`
			Data   []row  `json:"data"`
			Model  string `json:"model"`
		}{Object: "list", Model: req.Model}
		// return rows out of order to check index handling
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, row{Object: "embedding", Index: i, Embedding: []float32{float32(i + 1), 0}})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "text-embedding-3-small"}, nil)
	require.NoError(t, err)
	assert.Zero(t, p.Dimensions())

	vecs, err := p.EmbedBatch(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, 2, p.Dimensions())
	assert.Equal(t, "text-embedding-3-small", gotModel)
	assert.InDelta(t, 1.0, vecs[0][0], 1e-6)
	assert.InDelta(t, 1.0, vecs[1][0], 1e-6)

	sized, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "m", Dimensions: 256}, nil)
	require.NoError(t, err)
	assert.Equal(t, 256, sized.Dimensions())

	_, err = NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL}, nil)
	assert.Error(t, err)
}

type countingProvider struct {
	HashProvider
	calls int
}

func (c *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	c.calls += len(texts)
	return c.HashProvider.EmbedBatch(ctx, texts)
}

func TestCachedProvider(t *testing.T) {
	ctx := context.Background()
	inner := &countingProvider{}
	p := NewCachedProvider(inner, cache.NewMemory())

	first, err := p.Embed(ctx, "team collaboration")
	require.NoError(t, err)
	second, err := p.Embed(ctx, "team collaboration")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)

	vecs, err := p.EmbedBatch(ctx, []string{"team collaboration", "office work"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, 2, inner.calls, "only the uncached text is embedded")
}
