// Package library keeps previously downloaded assets so later scenes with a
// similar description can reuse them instead of hitting a stock source again.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"docuscene/pkg/embedding"
	"docuscene/pkg/logging"
	"docuscene/pkg/model"
	"docuscene/pkg/similarity"
	"docuscene/pkg/store"
)

// DefaultThreshold is the minimum cosine similarity for reuse.
const DefaultThreshold = 0.80

// Library is the in-memory view of the persisted asset library. Every read
// and write holds the same mutex; mutations are written through to the store.
type Library struct {
	mu        sync.Mutex
	store     store.AssetStore
	embedder  embedding.Provider
	threshold float64
	entries   []*model.AssetLibraryEntry
	vectors   [][]float64

	now func() time.Time
}

// Stats summarizes the library contents.
type Stats struct {
	Entries    int            `json:"entries"`
	TotalUsage int            `json:"total_usage"`
	BySource   map[string]int `json:"by_source"`
}

// Open loads every entry from the store.
func Open(ctx context.Context, s store.AssetStore, e embedding.Provider, threshold float64) (*Library, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	entries, err := s.ListAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load asset library: %w", err)
	}

	l := &Library{
		store:     s,
		embedder:  e,
		threshold: threshold,
		entries:   entries,
		vectors:   make([][]float64, len(entries)),
		now:       time.Now,
	}
	for i, entry := range entries {
		l.vectors[i] = entry.Embedding
	}

	slog.Info("Asset library loaded", "entries", len(entries), "threshold", threshold)
	return l, nil
}

// SceneText is the text embedded when looking for a reusable asset.
func SceneText(scene model.Scene, b model.VisualQueryBundle) string {
	return strings.Join([]string{scene.Title, scene.Summary, b.PrimaryQuery, b.SecondaryQuery}, " ")
}

// AssetText is the text embedded for a freshly fetched asset.
func AssetText(scene model.Scene, query string) string {
	return strings.Join([]string{scene.Title, query, string(scene.Mood), scene.VisualKeywords}, " ")
}

// Embed returns the library's vector for text.
func (l *Library) Embed(ctx context.Context, text string) ([]float64, error) {
	return l.embedder.Embed(ctx, text)
}

// FindReusable returns a copy of the most similar entry at or above the
// threshold whose local file still exists, along with its cosine
// similarity, or nil when none qualifies. A hit increments the entry's
// usage count and persists it.
func (l *Library) FindReusable(ctx context.Context, scene model.Scene, b model.VisualQueryBundle) (*model.AssetLibraryEntry, float64, error) {
	query, err := l.embedder.Embed(ctx, SceneText(scene, b))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to embed scene for library lookup: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	best, ok := similarity.Best(query, l.vectors, l.threshold, func(i int) bool {
		return fileExists(l.entries[i].LocalPath)
	})
	if !ok {
		logging.TraceDefault("No reusable library asset", "scene_id", scene.ID, "entries", len(l.entries), "threshold", l.threshold)
		return nil, 0, nil
	}

	entry := l.entries[best.Index]
	entry.UsageCount++
	entry.LastUsedAt = l.now()
	if err := l.store.SaveAsset(ctx, entry); err != nil {
		slog.Warn("Failed to persist library usage", "id", entry.ID, "error", err)
	}

	slog.Debug("Library asset reused", "id", entry.ID, "scene_id", scene.ID, "similarity", best.Score, "usage", entry.UsageCount)
	return clone(entry), best.Score, nil
}

// Insert adds a new entry and writes it to the store. The entry gets a fresh
// id when it has none and starts with a usage count of one.
func (l *Library) Insert(ctx context.Context, e *model.AssetLibraryEntry) error {
	entry := clone(e)
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	now := l.now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.LastUsedAt = now
	entry.UsageCount = 1

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.SaveAsset(ctx, entry); err != nil {
		return fmt.Errorf("failed to save library entry: %w", err)
	}
	l.entries = append(l.entries, entry)
	l.vectors = append(l.vectors, entry.Embedding)

	e.ID = entry.ID
	e.UsageCount = entry.UsageCount
	e.CreatedAt = entry.CreatedAt
	e.LastUsedAt = entry.LastUsedAt
	return nil
}

// Persist rewrites every entry to the store.
func (l *Library) Persist(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for _, e := range l.entries {
		if err := l.store.SaveAsset(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Entries returns copies of all entries, most used first.
func (l *Library) Entries() []*model.AssetLibraryEntry {
	l.mu.Lock()
	out := make([]*model.AssetLibraryEntry, len(l.entries))
	for i, e := range l.entries {
		out[i] = clone(e)
	}
	l.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].UsageCount > out[j].UsageCount })
	return out
}

// Stats returns entry and usage counts.
func (l *Library) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{Entries: len(l.entries), BySource: make(map[string]int)}
	for _, e := range l.entries {
		s.TotalUsage += e.UsageCount
		s.BySource[string(e.Source)]++
	}
	return s
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func clone(e *model.AssetLibraryEntry) *model.AssetLibraryEntry {
	c := *e
	c.Keywords = append([]string(nil), e.Keywords...)
	c.Embedding = append([]float64(nil), e.Embedding...)
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
