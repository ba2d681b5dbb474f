package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"docuscene/internal/api"
	"docuscene/pkg/config"
	"docuscene/pkg/extract"
	"docuscene/pkg/pipeline"
	"docuscene/pkg/scheduler"
	"docuscene/pkg/watcher"
)

const defaultConfigPath = "configs/docuscene.yaml"

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "docuscene",
		Short: "Turn documents into narrated video scene plans with stock footage",
		Long: `docuscene splits a document into video scenes, derives stock-footage
search queries for each scene and resolves them to downloaded clips,
reusing previously fetched clips from a local asset library.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to the YAML config file")

	cmd.AddCommand(
		newProcessCmd(&configPath),
		newBatchCmd(&configPath),
		newPlanCmd(&configPath),
		newServeCmd(&configPath),
		newWatchCmd(&configPath),
		newLibraryCmd(&configPath),
		newInitConfigCmd(&configPath),
	)
	return cmd
}

func newProcessCmd(configPath *string) *cobra.Command {
	var out, priority string

	cmd := &cobra.Command{
		Use:   "process <file>",
		Short: "Plan scenes for a document and resolve footage for each scene",
		Example: `  docuscene process report.pdf
  docuscene process notes.md --out output/notes.parquet --priority high`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := scheduler.ParsePriority(priority)
			if err != nil {
				return err
			}

			a, err := bootstrap(cmd.Context(), *configPath, true)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.pipeline.ProcessFile(cmd.Context(), args[0], pipeline.Options{Priority: p})
			if err != nil {
				return err
			}
			if out != "" {
				if err := pipeline.WriteManifest(out, res); err != nil {
					return err
				}
				slog.Info("Manifest written", "path", out)
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Manifest path (.json, .jsonl or .parquet)")
	cmd.Flags().StringVar(&priority, "priority", string(scheduler.PriorityNormal), "Scene job priority: urgent, high, normal or low")
	return cmd
}

func newBatchCmd(configPath *string) *cobra.Command {
	var outDir, format string

	cmd := &cobra.Command{
		Use:   "batch <files...>",
		Short: "Process several documents and write one manifest per document",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), *configPath, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if outDir == "" {
				outDir = a.cfg.Pipeline.OutputDir
			}

			results, err := a.pipeline.ProcessBatch(cmd.Context(), args, pipeline.Options{})
			if err != nil {
				return err
			}
			for _, res := range results {
				if res == nil || !res.Metadata.Success {
					continue
				}
				if err := pipeline.WriteManifest(manifestPath(outDir, res, format), res); err != nil {
					slog.Error("Failed to write manifest", "file", res.Metadata.FileName, "error", err)
				}
			}

			summary := pipeline.Stats(results)
			if err := writeJSON(cmd.OutOrStdout(), summary); err != nil {
				return err
			}
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d documents failed", summary.Failed, summary.TotalFiles)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out-dir", "", "Manifest directory (default pipeline.output_dir)")
	cmd.Flags().StringVar(&format, "format", "json", "Manifest format: json, jsonl or parquet")
	return cmd
}

func newPlanCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <file>",
		Short: "Print the scene plan for a document without fetching footage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), *configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			doc, err := a.extractor.Extract(args[0])
			if err != nil {
				return err
			}
			plan, err := a.planner.Plan(cmd.Context(), doc.Text)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), plan)
		},
	}
}

func newServeCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the conversion job API",
		Example: `  docuscene serve
  docuscene serve --addr :9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), *configPath, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.Server.Address
			}

			// Document jobs get their own pool so that a running document never
			// waits on scene slots held by other documents.
			docs := scheduler.New(scheduler.ConfigFrom(a.cfg.Scheduler))
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := docs.Shutdown(ctx); err != nil {
					slog.Warn("Document scheduler did not drain", "error", err)
				}
			}()

			ctx, stop := context.WithCancel(cmd.Context())
			defer stop()

			stats := api.NewStatsHandler(a.tracker, a.library, a.store, a.scenes, a.cfg.LLM.Fallback)
			server := api.NewServer(addr, api.NewJobsHandler(docs, a.pipeline), stats, stop)
			return serve(ctx, server)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default server.address)")
	return cmd
}

// serve runs server until ctx is done or it fails.
func serve(ctx context.Context, server *http.Server) error {
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Job API available", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		slog.Info("Server stopped")
		return nil
	case err := <-serverErr:
		return err
	}
}

func newWatchCmd(configPath *string) *cobra.Command {
	var outDir, format string
	var interval time.Duration

	cmd := &cobra.Command{
		Use:     "watch <dir...>",
		Short:   "Process documents as they appear in inbox directories",
		Example: `  docuscene watch ./inbox --format parquet`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive, got %s", interval)
			}

			a, err := bootstrap(cmd.Context(), *configPath, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if outDir == "" {
				outDir = a.cfg.Pipeline.OutputDir
			}

			w, err := watcher.NewService(args, extract.Supported())
			if err != nil {
				return err
			}
			slog.Info("Watching for documents", "dirs", args, "interval", interval)

			err = w.Run(cmd.Context(), interval, func(ctx context.Context, path string) {
				res, err := a.pipeline.ProcessFile(ctx, path, pipeline.Options{})
				if err != nil {
					slog.Error("Document failed", "file", path, "error", err)
					return
				}
				out := manifestPath(outDir, res, format)
				if err := pipeline.WriteManifest(out, res); err != nil {
					slog.Error("Failed to write manifest", "file", path, "error", err)
					return
				}
				slog.Info("Manifest written", "path", out, "scenes", res.Metadata.TotalScenes)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&outDir, "out-dir", "", "Manifest directory (default pipeline.output_dir)")
	cmd.Flags().StringVar(&format, "format", "json", "Manifest format: json, jsonl or parquet")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval")
	return cmd
}

func manifestPath(dir string, res *pipeline.Result, format string) string {
	name := strings.TrimSuffix(res.Metadata.FileName, filepath.Ext(res.Metadata.FileName))
	return filepath.Join(dir, name+"."+format)
}

func newLibraryCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "library",
		Short: "Inspect the asset library",
	}

	var top int
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print library totals and the most reused assets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), *configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			entries := a.library.Entries()
			if len(entries) > top {
				entries = entries[:top]
			}
			type topEntry struct {
				ID          string `json:"id"`
				Source      string `json:"source"`
				OriginQuery string `json:"origin_query"`
				UsageCount  int    `json:"usage_count"`
				LocalPath   string `json:"local_path"`
			}
			out := struct {
				Stats any        `json:"stats"`
				Top   []topEntry `json:"top"`
			}{Stats: a.library.Stats(), Top: []topEntry{}}
			for _, e := range entries {
				out.Top = append(out.Top, topEntry{
					ID:          e.ID,
					Source:      string(e.Source),
					OriginQuery: e.OriginQuery,
					UsageCount:  e.UsageCount,
					LocalPath:   e.LocalPath,
				})
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	stats.Flags().IntVar(&top, "top", 10, "Number of most reused assets to list")

	cmd.AddCommand(stats)
	return cmd
}

func newInitConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write a default config file if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.GenerateDefault(*configPath); err != nil {
				return fmt.Errorf("failed to generate config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config file ready: %s\n", *configPath)
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(w io.Writer, res *pipeline.Result) {
	m := res.Metadata
	fmt.Fprintf(w, "%s: %d scenes, %ds total, %d/%d clips resolved in %dms\n",
		m.FileName, m.TotalScenes, m.TotalDuration, m.AssetsResolved, m.TotalScenes, m.ProcessingTimeMS)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTITLE\tMOOD\tSECS\tSOURCE\tQUERY")
	for _, a := range res.Assets {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
			a.Scene.ID, a.Scene.Title, a.Scene.Mood, a.Scene.Duration, a.Asset.Source, a.Queries.PrimaryQuery)
	}
	tw.Flush()
}
