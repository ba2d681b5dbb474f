package refiner

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"docuscene/pkg/embedding"
	"docuscene/pkg/model"
)

//go:embed patterns.yaml
var defaultPatterns []byte

// FallbackPatternID names the pattern used when no knowledge base is available.
const FallbackPatternID = "business_professional"

type patternFile struct {
	Patterns []model.VisualPattern `yaml:"patterns"`
}

// LoadPatterns reads the visual pattern knowledge base from path, or the
// built-in one when path is empty. An empty or unparseable file degrades to
// the single business_professional pattern. Patterns lacking an embedding of
// the provider's dimensions are embedded from their keywords and mood.
func LoadPatterns(ctx context.Context, path string, e embedding.Provider) ([]model.VisualPattern, error) {
	data := defaultPatterns
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read patterns file: %w", err)
		}
		data = b
	}

	var pf patternFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		slog.Warn("Invalid visual patterns file, using fallback pattern", "path", path, "error", err)
		pf.Patterns = nil
	}
	patterns := make([]model.VisualPattern, 0, len(pf.Patterns))
	for _, p := range pf.Patterns {
		if p.ID == "" || len(p.Keywords) == 0 {
			slog.Warn("Skipping incomplete visual pattern", "id", p.ID)
			continue
		}
		patterns = append(patterns, p)
	}
	if len(patterns) == 0 {
		slog.Warn("No visual patterns loaded, using fallback pattern", "path", path)
		patterns = []model.VisualPattern{fallbackPattern()}
	}

	if err := embedPatterns(ctx, patterns, e); err != nil {
		return nil, err
	}

	slog.Info("Visual patterns loaded", "count", len(patterns), "model", e.Model())
	return patterns, nil
}

func fallbackPattern() model.VisualPattern {
	return model.VisualPattern{
		ID:       FallbackPatternID,
		Keywords: []string{"office", "meeting", "professional", "business"},
		Mood:     string(model.MoodCorporate),
		Queries:  []string{"business meeting", "office work"},
	}
}

func embedPatterns(ctx context.Context, patterns []model.VisualPattern, e embedding.Provider) error {
	dims := e.Dimensions()
	var idx []int
	var texts []string
	for i, p := range patterns {
		// A provider that reports 0 dimensions keeps any stored vector.
		if len(p.Embedding) > 0 && (dims == 0 || len(p.Embedding) == dims) {
			continue
		}
		idx = append(idx, i)
		texts = append(texts, strings.Join(p.Keywords, " ")+" "+p.Mood)
	}
	if len(texts) == 0 {
		return nil
	}

	vecs, err := e.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed visual patterns: %w", err)
	}
	if len(vecs) != len(texts) {
		return fmt.Errorf("embedding provider returned %d vectors for %d patterns", len(vecs), len(texts))
	}
	for j, i := range idx {
		patterns[i].Embedding = vecs[j]
	}
	return nil
}
