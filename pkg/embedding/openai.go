package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sashabaranov/go-openai"

	"docuscene/pkg/tracker"
)

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int // 0 means provider default
	Timeout    time.Duration
}

// OpenAIProvider embeds text through any OpenAI-compatible /embeddings API.
type OpenAIProvider struct {
	client     *openai.Client
	model      string
	dimensions int
	learned    atomic.Int64 // length of the first vector returned
	tracker    *tracker.Tracker
}

// NewOpenAIProvider creates a provider. Model and base URL are required.
func NewOpenAIProvider(cfg OpenAIConfig, t *tracker.Tracker) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("embedding base URL is required")
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	oc.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(oc),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		tracker:    t,
	}, nil
}

func (p *OpenAIProvider) Model() string { return p.model }

// Dimensions returns the configured length, or the length seen in the
// first response when none was configured. It is 0 before any call.
func (p *OpenAIProvider) Dimensions() int {
	if p.dimensions > 0 {
		return p.dimensions
	}
	return int(p.learned.Load())
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	}
	if p.dimensions > 0 {
		req.Dimensions = p.dimensions
	}

	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		p.track(false)
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		p.track(false)
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}
	p.track(true)

	out := make([][]float64, len(resp.Data))
	for _, row := range resp.Data {
		if row.Index < 0 || row.Index >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", row.Index)
		}
		vec := make([]float64, len(row.Embedding))
		for j, v := range row.Embedding {
			vec[j] = float64(v)
		}
		L2Normalize(vec)
		out[row.Index] = vec
	}
	if len(out) > 0 && len(out[0]) > 0 {
		p.learned.CompareAndSwap(0, int64(len(out[0])))
	}
	return out, nil
}

func (p *OpenAIProvider) track(success bool) {
	if p.tracker == nil {
		return
	}
	if success {
		p.tracker.TrackAPISuccess("embeddings")
		return
	}
	p.tracker.TrackAPIFailure("embeddings")
}
