// Package pipeline runs a document end to end: extraction, scene planning,
// and per-scene query refinement plus asset resolution fanned out through
// the conversion scheduler.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"docuscene/pkg/config"
	"docuscene/pkg/extract"
	"docuscene/pkg/model"
	"docuscene/pkg/planner"
	"docuscene/pkg/resolver"
	"docuscene/pkg/scheduler"
	"docuscene/pkg/store"
)

// JobKind labels per-scene resolution jobs in the scheduler.
const JobKind = "resolve_scene"

// Planner plans scenes for document text.
type Planner interface {
	Plan(ctx context.Context, text string) (*planner.Plan, error)
}

// Refiner derives search queries for a scene.
type Refiner interface {
	Refine(ctx context.Context, scene model.Scene) model.VisualQueryBundle
}

// Resolver finds footage for a refined scene.
type Resolver interface {
	Resolve(ctx context.Context, scene model.Scene, b model.VisualQueryBundle) model.FetchedAsset
}

// Deps are the collaborators of a Pipeline. Runs may be nil.
type Deps struct {
	Extractor *extract.Extractor
	Planner   Planner
	Refiner   Refiner
	Resolver  Resolver
	Scheduler *scheduler.Scheduler
	Runs      store.RunStore
}

// Options tune a single run.
type Options struct {
	Priority scheduler.Priority
}

// SceneAsset pairs a scene with its queries and resolved asset.
type SceneAsset struct {
	Scene   model.Scene             `json:"scene"`
	Queries model.VisualQueryBundle `json:"queries"`
	Asset   model.FetchedAsset      `json:"asset"`
	JobID   string                  `json:"job_id,omitempty"`
}

// Result is the outcome of processing one document.
type Result struct {
	Scenes   []model.Scene            `json:"scenes"`
	Assets   []SceneAsset             `json:"assets"`
	Metadata model.ProcessingMetadata `json:"metadata"`
}

// Pipeline processes documents. It is safe for concurrent use.
type Pipeline struct {
	deps Deps
	cfg  config.PipelineConfig

	now func() time.Time
}

// New creates a Pipeline.
func New(deps Deps, cfg config.PipelineConfig) *Pipeline {
	if deps.Extractor == nil {
		deps.Extractor = extract.New(cfg.MaxFileSizeMB)
	}
	return &Pipeline{deps: deps, cfg: cfg, now: time.Now}
}

// ProcessFile extracts and processes one file. The returned Result is never
// nil: on failure its metadata records the error and Success is false.
func (p *Pipeline) ProcessFile(ctx context.Context, path string, opts Options) (*Result, error) {
	start := p.now()
	doc, err := p.deps.Extractor.Extract(path)
	if err != nil {
		meta := model.ProcessingMetadata{FileName: path}
		return p.fail(ctx, meta, start, err), err
	}

	meta := model.ProcessingMetadata{
		FileName: doc.Name,
		FileSize: doc.Size,
		FileType: doc.Ext,
	}
	return p.process(ctx, meta, start, doc.Text, opts)
}

// ProcessText processes already extracted text under the given name.
func (p *Pipeline) ProcessText(ctx context.Context, name, text string, opts Options) (*Result, error) {
	meta := model.ProcessingMetadata{
		FileName: name,
		FileSize: int64(len(text)),
		FileType: "text",
	}
	return p.process(ctx, meta, p.now(), text, opts)
}

func (p *Pipeline) process(ctx context.Context, meta model.ProcessingMetadata, start time.Time, text string, opts Options) (*Result, error) {
	meta.RunID = uuid.New().String()
	log := slog.With("run_id", meta.RunID, "file", meta.FileName)
	log.Info("Processing document", "type", meta.FileType, "bytes", meta.FileSize)

	plan, err := p.deps.Planner.Plan(ctx, text)
	if err != nil {
		return p.fail(ctx, meta, start, err), err
	}

	assets, err := p.resolveAll(ctx, plan.Scenes, opts)
	if err != nil {
		return p.fail(ctx, meta, start, err), err
	}

	meta.TotalScenes = plan.SceneCount
	meta.TotalDuration = plan.TotalDuration
	meta.Generated = plan.Generated
	for _, a := range assets {
		if a.Asset.Success {
			meta.AssetsResolved++
		}
	}
	meta.Success = true
	meta.ProcessingTimeMS = p.now().Sub(start).Milliseconds()
	meta.Timestamp = p.now()

	res := &Result{Scenes: plan.Scenes, Assets: assets, Metadata: meta}
	p.record(ctx, res)

	log.Info("Document processed",
		"scenes", meta.TotalScenes,
		"duration_s", meta.TotalDuration,
		"resolved", meta.AssetsResolved,
		"elapsed_ms", meta.ProcessingTimeMS)
	return res, nil
}

// resolveAll submits one job per scene and collects results in scene order.
func (p *Pipeline) resolveAll(ctx context.Context, scenes []model.Scene, opts Options) ([]SceneAsset, error) {
	ids := make([]string, len(scenes))
	for i, scene := range scenes {
		ids[i] = p.deps.Scheduler.Submit(JobKind, scene, opts.Priority, p.sceneJob(scene))
	}

	out := make([]SceneAsset, len(scenes))
	for i, id := range ids {
		job, err := p.deps.Scheduler.Wait(ctx, id)
		if err != nil {
			for _, rest := range ids[i:] {
				p.deps.Scheduler.Cancel(rest)
			}
			return nil, err
		}
		out[i] = sceneResult(scenes[i], job)
	}
	return out, nil
}

func (p *Pipeline) sceneJob(scene model.Scene) scheduler.JobFunc {
	return func(ctx context.Context, _ *scheduler.Job, progress func(int)) (any, error) {
		b := p.deps.Refiner.Refine(ctx, scene)
		progress(50)
		asset := p.deps.Resolver.Resolve(ctx, scene, b)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return SceneAsset{Scene: scene, Queries: b, Asset: asset}, nil
	}
}

// sceneResult converts a finished job into a SceneAsset. Failed and
// cancelled jobs degrade to the fallback marker.
func sceneResult(scene model.Scene, job scheduler.Job) SceneAsset {
	if job.Status == scheduler.StatusCompleted {
		if sa, ok := job.Result.(SceneAsset); ok {
			sa.JobID = job.ID
			return sa
		}
	}

	slog.Warn("Scene resolution did not complete", "scene_id", scene.ID, "job_id", job.ID, "status", job.Status, "error", job.Error)
	asset := resolver.Fallback(scene)
	asset.Error = job.Error
	if asset.Error == "" {
		asset.Error = fmt.Sprintf("job %s", job.Status)
	}
	return SceneAsset{Scene: scene, Asset: asset, JobID: job.ID}
}

func (p *Pipeline) fail(ctx context.Context, meta model.ProcessingMetadata, start time.Time, err error) *Result {
	if meta.RunID == "" {
		meta.RunID = uuid.New().String()
	}
	meta.Success = false
	meta.Error = err.Error()
	meta.ProcessingTimeMS = p.now().Sub(start).Milliseconds()
	meta.Timestamp = p.now()

	slog.Error("Document processing failed", "run_id", meta.RunID, "file", meta.FileName, "error", err)
	res := &Result{Metadata: meta}
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		p.record(ctx, res)
	}
	return res
}

// record persists run metadata and the optional processing log. Failures are
// logged only.
func (p *Pipeline) record(ctx context.Context, res *Result) {
	if p.deps.Runs != nil {
		if err := p.deps.Runs.SaveRun(context.WithoutCancel(ctx), &res.Metadata); err != nil {
			slog.Warn("Failed to save run", "run_id", res.Metadata.RunID, "error", err)
		}
	}
	if p.cfg.ProcessingLog && p.cfg.OutputDir != "" {
		if _, err := WriteProcessingLog(p.cfg.OutputDir, res); err != nil {
			slog.Warn("Failed to write processing log", "run_id", res.Metadata.RunID, "error", err)
		}
	}
}

// ProcessBatch processes files with bounded parallelism. Results keep the
// order of paths; per-file failures live in each result's metadata. The
// error is non-nil only when ctx ends the batch.
func (p *Pipeline) ProcessBatch(ctx context.Context, paths []string, opts Options) ([]*Result, error) {
	limit := p.cfg.BatchParallelism
	if limit <= 0 {
		limit = 1
	}

	results := make([]*Result, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, path := range paths {
		g.Go(func() error {
			res, err := p.ProcessFile(gctx, path, opts)
			results[i] = res
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	s := Stats(results)
	slog.Info("Batch processed", "files", s.TotalFiles, "ok", s.Successful, "failed", s.Failed, "scenes", s.TotalScenes)
	return results, nil
}

// Summary aggregates a batch of results.
type Summary struct {
	TotalFiles      int            `json:"total_files"`
	Successful      int            `json:"successful"`
	Failed          int            `json:"failed"`
	TotalScenes     int            `json:"total_scenes"`
	TotalDuration   int            `json:"total_duration"`
	AvgProcessingMS float64        `json:"average_processing_ms"`
	AvgScenesPerDoc float64        `json:"average_scenes_per_document"`
	FileTypes       map[string]int `json:"file_types"`
	AssetsResolved  int            `json:"assets_resolved"`
	GeneratedByLLM  int            `json:"generated_by_llm"`
}

// Stats aggregates results. Averages over scenes count successful runs only;
// processing time averages over every run. Nil results are skipped.
func Stats(results []*Result) Summary {
	s := Summary{FileTypes: map[string]int{}}
	var totalMS int64
	for _, r := range results {
		if r == nil {
			continue
		}
		m := r.Metadata
		s.TotalFiles++
		totalMS += m.ProcessingTimeMS
		if m.FileType != "" {
			s.FileTypes[m.FileType]++
		}
		if !m.Success {
			s.Failed++
			continue
		}
		s.Successful++
		s.TotalScenes += m.TotalScenes
		s.TotalDuration += m.TotalDuration
		s.AssetsResolved += m.AssetsResolved
		if m.Generated {
			s.GeneratedByLLM++
		}
	}
	if s.TotalFiles > 0 {
		s.AvgProcessingMS = float64(totalMS) / float64(s.TotalFiles)
	}
	if s.Successful > 0 {
		s.AvgScenesPerDoc = float64(s.TotalScenes) / float64(s.Successful)
	}
	return s
}
