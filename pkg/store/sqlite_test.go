package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docuscene/pkg/db"
	"docuscene/pkg/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	d, err := db.Init(filepath.Join(t.TempDir(), "store_test.db"))
	require.NoError(t, err)
	s := NewSQLiteStore(d)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAssets_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	e := &model.AssetLibraryEntry{
		ID:          "a1",
		SourceURL:   "https://videos.pexels.com/1.mp4",
		LocalPath:   "/tmp/scene_1_pexels_1.mp4",
		OriginQuery: "professional office",
		Source:      model.SourcePexels,
		Duration:    12.5,
		Width:       1920,
		Height:      1080,
		AspectRatio: "1920:1080",
		Keywords:    []string{"office", "desk"},
		Embedding:   []float64{0.1, 0.2, 0.3},
		UsageCount:  1,
		Metadata:    map[string]string{"scene_id": "1"},
		CreatedAt:   created,
		LastUsedAt:  created,
	}
	require.NoError(t, s.SaveAsset(ctx, e))

	list, err := s.ListAssets(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	got := list[0]
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.Source, got.Source)
	assert.Equal(t, e.Keywords, got.Keywords)
	assert.Equal(t, e.Embedding, got.Embedding)
	assert.Equal(t, e.Metadata, got.Metadata)
	assert.InDelta(t, 12.5, got.Duration, 1e-9)
	assert.True(t, created.Equal(got.CreatedAt), "created_at = %v", got.CreatedAt)

	// Update in place
	e.UsageCount = 2
	require.NoError(t, s.SaveAsset(ctx, e))
	list, err = s.ListAssets(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].UsageCount)

	_, err = s.db.ExecContext(ctx, "DELETE FROM assets WHERE id = ?", "a1")
	require.NoError(t, err)
	list, err = s.ListAssets(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAssets_SkipsCorruptRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAsset(ctx, &model.AssetLibraryEntry{ID: "ok", Embedding: []float64{1}}))
	_, err := s.db.Exec(`INSERT INTO assets
		(id, source_url, local_path, origin_query, source, duration, width, height, aspect_ratio, keywords, embedding, usage_count, metadata)
		VALUES ('bad', '', '', '', 'pexels', 1, 1, 1, '1:1', '[]', '{not json', 1, '{}')`)
	require.NoError(t, err)

	list, err := s.ListAssets(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ok", list[0].ID)
}

func TestRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		m := &model.ProcessingMetadata{
			RunID:       fmt.Sprintf("run-%d", i),
			FileName:    fmt.Sprintf("doc%d.txt", i),
			TotalScenes: 5 + i,
			Success:     i != 1,
			Timestamp:   base.Add(time.Duration(i) * time.Hour),
		}
		if i == 1 {
			m.Error = "extraction failed"
		}
		require.NoError(t, s.SaveRun(ctx, m))
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID, "most recent first")
	assert.Equal(t, "extraction failed", runs[1].Error)
	assert.False(t, runs[1].Success)

	all, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	assert.Error(t, s.SaveRun(ctx, &model.ProcessingMetadata{}))
}

func TestCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, hit := s.GetCache(ctx, "missing")
	assert.False(t, hit)

	payload := []byte(`{"videos":[{"id":1}]}`)
	require.NoError(t, s.SetCache(ctx, "pexels:office", payload))
	require.NoError(t, s.SetCache(ctx, "pexels:team_work", []byte("x")))
	require.NoError(t, s.SetCache(ctx, "pixabay:office", []byte("y")))

	val, hit := s.GetCache(ctx, "pexels:office")
	assert.True(t, hit)
	assert.Equal(t, payload, val)

	has, err := s.HasCache(ctx, "pixabay:office")
	require.NoError(t, err)
	assert.True(t, has)

	keys, err := s.ListCacheKeys(ctx, "pexels:")
	require.NoError(t, err)
	assert.Equal(t, []string{"pexels:office", "pexels:team_work"}, keys)

	keys, err = s.ListCacheKeys(ctx, "pexels:team_")
	require.NoError(t, err)
	assert.Equal(t, []string{"pexels:team_work"}, keys)
}

func TestState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok := s.GetState(ctx, "k")
	assert.False(t, ok)

	require.NoError(t, s.SetState(ctx, "k", "v"))
	v, ok := s.GetState(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	require.NoError(t, s.DeleteState(ctx, "k"))
	_, ok = s.GetState(ctx, "k")
	assert.False(t, ok)
}

func TestCompressRoundTrip(t *testing.T) {
	in := []byte("the same words repeated, the same words repeated")
	c, err := compress(in)
	require.NoError(t, err)
	out, err := decompress(c)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
