// Package resolver finds footage for a scene by walking an ordered chain:
// library reuse, primary source, secondary source, backup queries against the
// primary, and finally a fallback marker telling the caller to use a slide.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"docuscene/pkg/library"
	"docuscene/pkg/model"
	"docuscene/pkg/refiner"
	"docuscene/pkg/source"
)

// Library is the subset of the asset library the resolver needs.
type Library interface {
	FindReusable(ctx context.Context, scene model.Scene, b model.VisualQueryBundle) (*model.AssetLibraryEntry, float64, error)
	Insert(ctx context.Context, e *model.AssetLibraryEntry) error
	Embed(ctx context.Context, text string) ([]float64, error)
}

var errNoCandidates = errors.New("no suitable video found")

// Resolver resolves scenes to assets. It is safe for concurrent use.
type Resolver struct {
	library     Library
	primary     source.Source
	secondary   source.Source
	downloader  source.Downloader
	downloadDir string

	now   func() time.Time
	token func() string
}

// New creates a Resolver. lib, primary and secondary may be nil.
func New(lib Library, primary, secondary source.Source, d source.Downloader, downloadDir string) *Resolver {
	return &Resolver{
		library:     lib,
		primary:     primary,
		secondary:   secondary,
		downloader:  d,
		downloadDir: downloadDir,
		now:         time.Now,
		token:       shortID,
	}
}

// shortID keeps download names unique when several documents resolve the
// same scene number in the same millisecond.
func shortID() string {
	return uuid.NewString()[:8]
}

// Resolve walks the chain and always returns an asset; exhaustion yields a
// fallback marker with Success false. Only a cancelled context sets Error.
func (r *Resolver) Resolve(ctx context.Context, scene model.Scene, b model.VisualQueryBundle) model.FetchedAsset {
	if asset, ok := r.fromLibrary(ctx, scene, b); ok {
		return asset
	}

	type step struct {
		src   source.Source
		query string
		from  model.ResolvedFrom
	}
	steps := []step{
		{r.primary, b.PrimaryQuery, model.FromPrimary},
		{r.secondary, b.SecondaryQuery, model.FromSecondary},
	}
	for _, q := range b.BackupQueries {
		steps = append(steps, step{r.primary, q, model.FromPrimary})
	}

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return cancelled(scene, err)
		}
		if !usable(s.src) || s.query == "" {
			continue
		}
		asset, err := r.fetch(ctx, scene, s.src, s.query, s.from)
		if err == nil {
			return asset
		}
		var sue *source.SourceUnavailableError
		if errors.As(err, &sue) && sue.Err == errNoCandidates {
			slog.Debug("No candidates", "scene_id", scene.ID, "source", sue.Source, "query", s.query)
			continue
		}
		slog.Warn("Source failed, advancing", "scene_id", scene.ID, "error", err)
	}

	if err := ctx.Err(); err != nil {
		return cancelled(scene, err)
	}
	slog.Info("No footage found, using fallback", "scene_id", scene.ID)
	return Fallback(scene)
}

func (r *Resolver) fromLibrary(ctx context.Context, scene model.Scene, b model.VisualQueryBundle) (model.FetchedAsset, bool) {
	if r.library == nil {
		return model.FetchedAsset{}, false
	}
	entry, score, err := r.library.FindReusable(ctx, scene, b)
	if err != nil {
		slog.Warn("Library lookup failed", "scene_id", scene.ID, "error", err)
		return model.FetchedAsset{}, false
	}
	if entry == nil {
		return model.FetchedAsset{}, false
	}
	return model.FetchedAsset{
		Success:   true,
		AssetPath: entry.LocalPath,
		AssetURL:  entry.SourceURL,
		Source:    model.FromLibrary,
		Duration:  entry.Duration,
		Width:     entry.Width,
		Height:    entry.Height,
		Metadata: map[string]string{
			"library_id":  entry.ID,
			"reused":      "true",
			"usage_count": strconv.Itoa(entry.UsageCount),
			"origin":      string(entry.Source),
			"similarity":  strconv.FormatFloat(score, 'f', 4, 64),
		},
	}, true
}

// fetch searches one source, downloads the best candidate and records it in
// the library. Every failure comes back as a SourceUnavailableError.
func (r *Resolver) fetch(ctx context.Context, scene model.Scene, src source.Source, query string, from model.ResolvedFrom) (model.FetchedAsset, error) {
	name := string(src.Name())
	unavailable := func(err error) error {
		return &source.SourceUnavailableError{Source: name, Query: query, Err: err}
	}

	candidates, err := src.Search(ctx, query, scene.Duration)
	if err != nil {
		return model.FetchedAsset{}, unavailable(err)
	}
	best, ok := source.Best(candidates, float64(scene.Duration))
	if !ok {
		return model.FetchedAsset{}, unavailable(errNoCandidates)
	}

	fileName := fmt.Sprintf("scene_%d_%s_%d_%s.mp4", scene.ID, name, r.now().UnixMilli(), r.token())
	path, err := r.downloader.Download(ctx, best.DownloadURL, r.downloadDir, fileName)
	if err != nil {
		return model.FetchedAsset{}, unavailable(fmt.Errorf("download failed: %w", err))
	}

	r.register(ctx, scene, query, src.Name(), best, path)

	slog.Info("Asset fetched", "scene_id", scene.ID, "source", name, "query", query, "video_id", best.ID)
	return model.FetchedAsset{
		Success:   true,
		AssetPath: path,
		AssetURL:  best.PageURL,
		Source:    from,
		Duration:  best.Duration,
		Width:     best.Width,
		Height:    best.Height,
		Metadata: map[string]string{
			"query":    query,
			"video_id": best.ID,
			"provider": name,
		},
	}, nil
}

// register inserts a downloaded asset into the library. Failures are logged;
// the asset itself is still usable.
func (r *Resolver) register(ctx context.Context, scene model.Scene, query string, src model.AssetSource, c source.Candidate, path string) {
	if r.library == nil {
		return
	}
	vec, err := r.library.Embed(ctx, library.AssetText(scene, query))
	if err != nil {
		slog.Warn("Failed to embed fetched asset", "scene_id", scene.ID, "error", err)
	}
	entry := &model.AssetLibraryEntry{
		SourceURL:   c.PageURL,
		LocalPath:   path,
		OriginQuery: query,
		Source:      src,
		Duration:    c.Duration,
		Width:       c.Width,
		Height:      c.Height,
		AspectRatio: source.AspectRatio(c.Width, c.Height),
		Keywords:    refiner.SplitKeywords(query),
		Embedding:   vec,
		Metadata: map[string]string{
			"scene_id":    strconv.Itoa(scene.ID),
			"scene_title": scene.Title,
			"mood":        string(scene.Mood),
			"video_id":    c.ID,
		},
	}
	if err := r.library.Insert(ctx, entry); err != nil {
		slog.Warn("Failed to add asset to library", "scene_id", scene.ID, "error", err)
	}
}

// Fallback is the marker returned when no footage could be found.
func Fallback(scene model.Scene) model.FetchedAsset {
	return model.FetchedAsset{
		Success: false,
		Source:  model.FromFallback,
		Metadata: map[string]string{
			"reason":           "no_asset_found",
			"message":          "No suitable video asset found",
			"scene_id":         strconv.Itoa(scene.ID),
			"suggested_action": "Use text-based slide or placeholder video",
		},
	}
}

func cancelled(scene model.Scene, err error) model.FetchedAsset {
	a := Fallback(scene)
	a.Metadata["reason"] = "cancelled"
	a.Error = err.Error()
	return a
}

func usable(s source.Source) bool {
	return s != nil && s.Configured()
}
