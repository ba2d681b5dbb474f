package api

import (
	"context"
	"log/slog"
	"net/http"

	"docuscene/pkg/library"
	"docuscene/pkg/model"
	"docuscene/pkg/scheduler"
	"docuscene/pkg/tracker"
)

const recentRuns = 10

// LibraryStatser reports asset library totals.
type LibraryStatser interface {
	Stats() library.Stats
}

// RunLister lists recorded processing runs.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]model.ProcessingMetadata, error)
}

// StatsSource reports scheduler counts.
type StatsSource interface {
	Stats() scheduler.Stats
}

type StatsHandler struct {
	tracker     *tracker.Tracker
	library     LibraryStatser
	runs        RunLister
	scenes      StatsSource
	llmFallback []string
}

// NewStatsHandler creates a StatsHandler. Every dependency except t may be nil.
func NewStatsHandler(t *tracker.Tracker, lib LibraryStatser, runs RunLister, scenes StatsSource, fallback []string) *StatsHandler {
	return &StatsHandler{
		tracker:     t,
		library:     lib,
		runs:        runs,
		scenes:      scenes,
		llmFallback: fallback,
	}
}

type ProviderStatsDTO struct {
	CacheHits     int64 `json:"cache_hits"`
	CacheMisses   int64 `json:"cache_misses"`
	APISuccess    int64 `json:"api_success"`
	APIZeroResult int64 `json:"api_zero"`
	APIFailures   int64 `json:"api_errors"`
	HitRate       int64 `json:"hit_rate"`
}

type StatsResponse struct {
	Providers   map[string]ProviderStatsDTO `json:"providers"`
	Library     *library.Stats              `json:"library,omitempty"`
	Scenes      *scheduler.Stats            `json:"scene_jobs,omitempty"`
	RecentRuns  []model.ProcessingMetadata  `json:"recent_runs"`
	LLMFallback []string                    `json:"llm_fallback"`
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Providers:   make(map[string]ProviderStatsDTO),
		RecentRuns:  []model.ProcessingMetadata{},
		LLMFallback: h.llmFallback,
	}

	for provider, stats := range h.tracker.Snapshot() {
		totalCache := stats.CacheHits + stats.CacheMisses
		hitRate := int64(0)
		if totalCache > 0 {
			hitRate = (stats.CacheHits * 100) / totalCache
		}
		resp.Providers[provider] = ProviderStatsDTO{
			CacheHits:     stats.CacheHits,
			CacheMisses:   stats.CacheMisses,
			APISuccess:    stats.APISuccess,
			APIZeroResult: stats.APIZeroResult,
			APIFailures:   stats.APIFailures,
			HitRate:       hitRate,
		}
	}

	if h.library != nil {
		s := h.library.Stats()
		resp.Library = &s
	}
	if h.scenes != nil {
		s := h.scenes.Stats()
		resp.Scenes = &s
	}
	if h.runs != nil {
		runs, err := h.runs.ListRuns(r.Context(), recentRuns)
		if err != nil {
			slog.Warn("Failed to list runs", "error", err)
		} else if runs != nil {
			resp.RecentRuns = runs
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
