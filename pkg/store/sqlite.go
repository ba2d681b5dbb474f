package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"docuscene/pkg/db"
	"docuscene/pkg/model"
)

// Store composes all sub-interfaces for full store access.
// Consumers should depend on specific sub-interfaces when possible.
type Store interface {
	AssetStore
	CacheStore
	RunStore
	StateStore

	Close() error
}

// SQLiteStore implements Store.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a new store.
func NewSQLiteStore(d *db.DB) *SQLiteStore {
	return &SQLiteStore{db: d}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Assets ---

func (s *SQLiteStore) ListAssets(ctx context.Context) ([]*model.AssetLibraryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_url, local_path, origin_query, source, duration, width, height, aspect_ratio,
		        keywords, embedding, usage_count, metadata, created_at, last_used_at
		 FROM assets ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.AssetLibraryEntry
	for rows.Next() {
		var e model.AssetLibraryEntry
		var source string
		var keywords, embedding, metadata sql.NullString
		var created, lastUsed any
		if err := rows.Scan(&e.ID, &e.SourceURL, &e.LocalPath, &e.OriginQuery, &source, &e.Duration,
			&e.Width, &e.Height, &e.AspectRatio, &keywords, &embedding, &e.UsageCount, &metadata,
			&created, &lastUsed); err != nil {
			return nil, err
		}
		e.Source = model.AssetSource(source)
		e.CreatedAt = scanTime(created)
		e.LastUsedAt = scanTime(lastUsed)

		if err := unmarshalColumn(keywords, &e.Keywords); err != nil {
			slog.Warn("Skipping asset with corrupt keywords", "id", e.ID, "error", err)
			continue
		}
		if err := unmarshalColumn(embedding, &e.Embedding); err != nil {
			slog.Warn("Skipping asset with corrupt embedding", "id", e.ID, "error", err)
			continue
		}
		if err := unmarshalColumn(metadata, &e.Metadata); err != nil {
			slog.Warn("Asset metadata unreadable, dropping it", "id", e.ID, "error", err)
			e.Metadata = nil
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveAsset(ctx context.Context, e *model.AssetLibraryEntry) error {
	keywords, err := json.Marshal(e.Keywords)
	if err != nil {
		return err
	}
	embedding, err := json.Marshal(e.Embedding)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT OR REPLACE INTO assets
		(id, source_url, local_path, origin_query, source, duration, width, height, aspect_ratio,
		 keywords, embedding, usage_count, metadata, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.SourceURL, e.LocalPath, e.OriginQuery, string(e.Source), e.Duration, e.Width, e.Height, e.AspectRatio,
		string(keywords), string(embedding), e.UsageCount, string(metadata),
		formatTime(e.CreatedAt), formatTime(e.LastUsedAt))
	return err
}

// --- Runs ---

func (s *SQLiteStore) SaveRun(ctx context.Context, m *model.ProcessingMetadata) error {
	if m.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	query := `INSERT OR REPLACE INTO runs
		(run_id, file_name, file_size, file_type, processing_time_ms, total_scenes, total_duration,
		 assets_resolved, generated, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		m.RunID, m.FileName, m.FileSize, m.FileType, m.ProcessingTimeMS, m.TotalScenes, m.TotalDuration,
		m.AssetsResolved, m.Generated, m.Success, m.Error, formatTime(m.Timestamp))
	return err
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.ProcessingMetadata, error) {
	query := `SELECT run_id, file_name, file_size, file_type, processing_time_ms, total_scenes, total_duration,
	                 assets_resolved, generated, success, error, created_at
	          FROM runs ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ProcessingMetadata
	for rows.Next() {
		var m model.ProcessingMetadata
		var errText sql.NullString
		var created any
		if err := rows.Scan(&m.RunID, &m.FileName, &m.FileSize, &m.FileType, &m.ProcessingTimeMS,
			&m.TotalScenes, &m.TotalDuration, &m.AssetsResolved, &m.Generated, &m.Success, &errText, &created); err != nil {
			return nil, err
		}
		m.Error = errText.String
		m.Timestamp = scanTime(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Cache ---

func (s *SQLiteStore) GetCache(ctx context.Context, key string) ([]byte, bool) {
	var val []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM cache WHERE key = ?", key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		slog.Debug("Cache read failed, treating as miss", "key", key, "error", err)
		return nil, false
	}

	// Transparent decompression
	if len(val) > 2 && val[0] == 0x1f && val[1] == 0x8b {
		if decompressed, err := decompress(val); err == nil {
			return decompressed, true
		}
	}
	return val, true
}

func (s *SQLiteStore) HasCache(ctx context.Context, key string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM cache WHERE key = ?", key).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) SetCache(ctx context.Context, key string, val []byte) error {
	if compressed, err := compress(val); err == nil {
		val = compressed
	}

	query := `INSERT OR REPLACE INTO cache (key, value, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, key, val, time.Now().UTC().Format(db.TimeLayout))
	return err
}

func (s *SQLiteStore) ListCacheKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM cache WHERE key LIKE ? ESCAPE '\\' ORDER BY key", escapeLike(prefix)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- State ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool) {
	var val string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM persistent_state WHERE key = ?", key).Scan(&val)
	if err != nil {
		return "", false
	}
	return val, true
}

func (s *SQLiteStore) SetState(ctx context.Context, key, val string) error {
	query := `INSERT OR REPLACE INTO persistent_state (key, value, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, key, val, time.Now().UTC().Format(db.TimeLayout))
	return err
}

func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM persistent_state WHERE key = ?", key)
	return err
}

// --- Helpers ---

// timeLayout is fixed-width so ORDER BY on the text column is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var (
	gzipWriterPool = sync.Pool{
		New: func() any {
			return gzip.NewWriter(io.Discard)
		},
	}
	bufferPool = sync.Pool{
		New: func() any {
			return new(bytes.Buffer)
		},
	}
)

func compress(data []byte) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	w := gzipWriterPool.Get().(*gzip.Writer)
	defer gzipWriterPool.Put(w)
	w.Reset(buf)

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	// buf goes back to the pool
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func unmarshalColumn(col sql.NullString, target any) error {
	if !col.Valid || col.String == "" || col.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), target)
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

// scanTime accepts whatever the driver returns for a DATETIME column.
func scanTime(v any) time.Time {
	var s string
	switch x := v.(type) {
	case time.Time:
		return x
	case string:
		s = x
	case []byte:
		s = string(x)
	default:
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, db.TimeLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
