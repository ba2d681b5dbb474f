package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"docuscene/pkg/db"
	"docuscene/pkg/store"
)

const lastRunStateKey = "maintenance_last_run"

// Report summarises one maintenance pass.
type Report struct {
	PrunedCache   int64
	Assets        int
	MissingAssets int      // Library entries whose file is gone
	OrphanFiles   []string // Downloaded clips no library entry refers to
}

// Run prunes the HTTP cache and audits the asset library against the
// download directory. Missing files are reported, never deleted from the
// library: reuse lookups already skip them.
func Run(ctx context.Context, s store.Store, d *db.DB, downloadDir string, cacheTTL time.Duration) (*Report, error) {
	slog.Info("Starting database maintenance...")
	rep := &Report{}

	if cacheTTL > 0 {
		n, err := d.PruneCache(cacheTTL)
		if err != nil {
			slog.Error("Cache pruning failed", "error", err)
		} else {
			rep.PrunedCache = n
			slog.Info("Cache pruning completed", "removed", n)
		}
	}

	if err := auditLibrary(ctx, s, downloadDir, rep); err != nil {
		return rep, fmt.Errorf("library audit: %w", err)
	}

	if err := s.SetState(ctx, lastRunStateKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return rep, fmt.Errorf("failed to update state: %w", err)
	}
	return rep, nil
}

// LastRun returns when maintenance last completed.
func LastRun(ctx context.Context, s store.StateStore) (time.Time, bool) {
	v, ok := s.GetState(ctx, lastRunStateKey)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func auditLibrary(ctx context.Context, s store.AssetStore, downloadDir string, rep *Report) error {
	assets, err := s.ListAssets(ctx)
	if err != nil {
		return err
	}
	rep.Assets = len(assets)

	known := make(map[string]bool, len(assets))
	for _, a := range assets {
		abs, _ := filepath.Abs(a.LocalPath)
		known[abs] = true
		if _, err := os.Stat(a.LocalPath); err != nil {
			rep.MissingAssets++
			slog.Debug("Library asset file missing", "id", a.ID, "path", a.LocalPath)
		}
	}

	if downloadDir == "" {
		return nil
	}
	entries, err := os.ReadDir(downloadDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".mp4") {
			continue
		}
		abs, _ := filepath.Abs(filepath.Join(downloadDir, e.Name()))
		if !known[abs] {
			rep.OrphanFiles = append(rep.OrphanFiles, abs)
		}
	}

	if rep.MissingAssets > 0 || len(rep.OrphanFiles) > 0 {
		slog.Warn("Library audit found inconsistencies", "missing", rep.MissingAssets, "orphans", len(rep.OrphanFiles))
	}
	return nil
}
