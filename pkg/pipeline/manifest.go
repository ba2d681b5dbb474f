package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"

	"docuscene/pkg/version"
)

// ManifestRow is one scene of a manifest in flat form.
type ManifestRow struct {
	RunID          string  `json:"run_id" parquet:"run_id"`
	FileName       string  `json:"file_name" parquet:"file_name"`
	SceneID        int     `json:"scene_id" parquet:"scene_id"`
	Title          string  `json:"title" parquet:"title"`
	Summary        string  `json:"summary" parquet:"summary"`
	Narration      string  `json:"narration" parquet:"narration"`
	OnScreenText   string  `json:"on_screen_text" parquet:"on_screen_text"`
	VisualKeywords string  `json:"visual_keywords" parquet:"visual_keywords"`
	Mood           string  `json:"mood" parquet:"mood"`
	Duration       int     `json:"duration_seconds" parquet:"duration_seconds"`
	PrimaryQuery   string  `json:"primary_query" parquet:"primary_query"`
	SecondaryQuery string  `json:"secondary_query" parquet:"secondary_query"`
	AssetSuccess   bool    `json:"asset_success" parquet:"asset_success"`
	AssetSource    string  `json:"asset_source" parquet:"asset_source"`
	AssetPath      string  `json:"asset_path,omitempty" parquet:"asset_path,optional"`
	AssetURL       string  `json:"asset_url,omitempty" parquet:"asset_url,optional"`
	AssetDuration  float64 `json:"asset_duration,omitempty" parquet:"asset_duration"`
}

// Rows flattens a result into manifest rows, one per scene.
func Rows(res *Result) []ManifestRow {
	rows := make([]ManifestRow, 0, len(res.Assets))
	for _, a := range res.Assets {
		rows = append(rows, ManifestRow{
			RunID:          res.Metadata.RunID,
			FileName:       res.Metadata.FileName,
			SceneID:        a.Scene.ID,
			Title:          a.Scene.Title,
			Summary:        a.Scene.Summary,
			Narration:      a.Scene.Narration,
			OnScreenText:   a.Scene.OnScreenText,
			VisualKeywords: a.Scene.VisualKeywords,
			Mood:           string(a.Scene.Mood),
			Duration:       a.Scene.Duration,
			PrimaryQuery:   a.Queries.PrimaryQuery,
			SecondaryQuery: a.Queries.SecondaryQuery,
			AssetSuccess:   a.Asset.Success,
			AssetSource:    string(a.Asset.Source),
			AssetPath:      a.Asset.AssetPath,
			AssetURL:       a.Asset.AssetURL,
			AssetDuration:  a.Asset.Duration,
		})
	}
	return rows
}

// WriteManifest writes res to path. The extension picks the format: .json
// writes the full result, .jsonl one row per scene, .parquet a columnar
// file of the same rows.
func WriteManifest(path string, res *Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return writeJSON(path, res)
	case ".jsonl":
		return writeJSONL(path, Rows(res))
	case ".parquet":
		return writeParquet(path, Rows(res))
	default:
		return fmt.Errorf("unsupported manifest format %q (want .json, .jsonl or .parquet)", ext)
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func writeJSONL(path string, rows []ManifestRow) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to encode scene %d: %w", r.SceneID, err)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}

func writeParquet(path string, rows []ManifestRow) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := parquet.NewGenericWriter[ManifestRow](f)
	if _, err := w.Write(rows); err != nil {
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return f.Close()
}

// ReadParquetManifest reads rows written by WriteManifest.
func ReadParquetManifest(path string) ([]ManifestRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[ManifestRow](pf)
	defer reader.Close()

	rows := make([]ManifestRow, pf.NumRows())
	n, err := reader.Read(rows)
	if n == len(rows) {
		return rows, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet rows: %w", err)
	}
	return rows[:n], nil
}

type processingLog struct {
	*Result
	Pipeline string `json:"pipeline"`
	Version  string `json:"version"`
}

// WriteProcessingLog writes a JSON record of the run into dir and returns
// the file path.
func WriteProcessingLog(dir string, res *Result) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	name := fmt.Sprintf("processing-log-%s-%s.json",
		res.Metadata.Timestamp.UTC().Format("20060102T150405.000Z"),
		shortID(res.Metadata.RunID))
	path := filepath.Join(dir, name)

	entry := processingLog{Result: res, Pipeline: "extract+plan+resolve", Version: version.Version}
	if err := writeJSON(path, entry); err != nil {
		return "", err
	}
	return path, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
