package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"

	"docuscene/pkg/cache"
)

// CachedProvider memoizes another provider's vectors in a Cacher, keyed by
// model and text digest.
type CachedProvider struct {
	inner Provider
	cache cache.Cacher
}

// NewCachedProvider wraps p. A nil cache disables memoization.
func NewCachedProvider(p Provider, c cache.Cacher) *CachedProvider {
	return &CachedProvider{inner: p, cache: c}
}

func (c *CachedProvider) Model() string   { return c.inner.Model() }
func (c *CachedProvider) Dimensions() int { return c.inner.Dimensions() }

func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if c.cache == nil {
		return c.inner.EmbedBatch(ctx, texts)
	}

	out := make([][]float64, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		if v, ok := c.lookup(ctx, t); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, v := range vecs {
		out[missIdx[j]] = v
		c.store(ctx, missTexts[j], v)
	}
	return out, nil
}

func (c *CachedProvider) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + c.inner.Model() + ":" + hex.EncodeToString(sum[:])
}

func (c *CachedProvider) lookup(ctx context.Context, text string) ([]float64, bool) {
	raw, ok := c.cache.GetCache(ctx, c.key(text))
	if !ok {
		return nil, false
	}
	var v []float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

func (c *CachedProvider) store(ctx context.Context, text string, v []float64) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.cache.SetCache(ctx, c.key(text), raw); err != nil {
		slog.Warn("Failed to cache embedding", "model", c.inner.Model(), "error", err)
	}
}
