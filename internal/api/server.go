package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"docuscene/pkg/version"
)

// NewServer creates and configures the HTTP server.
// shutdown may be nil, in which case the shutdown endpoint is not registered.
func NewServer(addr string, jobs *JobsHandler, stats *StatsHandler, shutdown func()) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      NewMux(jobs, stats, shutdown),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewMux registers every route on a fresh mux.
func NewMux(jobs *JobsHandler, stats *StatsHandler, shutdown func()) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /api/version", handleVersion)
	mux.HandleFunc("GET /api/log/latest", handleLatestLog)

	// Jobs
	mux.HandleFunc("POST /api/jobs", jobs.HandleSubmit)
	mux.HandleFunc("GET /api/jobs", jobs.HandleList)
	mux.HandleFunc("GET /api/jobs/stats", jobs.HandleStats)
	mux.HandleFunc("GET /api/jobs/{id}", jobs.HandleGet)
	mux.HandleFunc("DELETE /api/jobs/{id}", jobs.HandleCancel)

	if stats != nil {
		mux.Handle("GET /api/stats", stats)
	}

	if shutdown != nil {
		mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
			slog.Info("Graceful shutdown initiated via API")
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write([]byte("Shutting down...")); err != nil {
				slog.Error("Failed to write shutdown response", "error", err)
			}
			// Let the response flush first.
			go func() {
				time.Sleep(100 * time.Millisecond)
				shutdown()
			}()
		})
	}

	return mux
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": version.Version})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
