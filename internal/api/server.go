package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"racecore/pkg/version"
)

// NewServer creates and configures the HTTP server.
// Optional handlers may be nil; their routes are then not registered.
func NewServer(addr string, status *StatusHandler, stats *StatsHandler, control *ControlHandler, sessions *SessionHandler, shutdown func()) *http.Server {
	mux := http.NewServeMux()

	// 1. Health Endpoint
	mux.HandleFunc("GET /health", handleHealth)

	// 2. Version Endpoint
	mux.HandleFunc("GET /api/version", handleVersion)

	// 3. Status Endpoints
	mux.HandleFunc("GET /api/status", status.HandleStatus)
	mux.HandleFunc("GET /api/status/stream", status.HandleStream)

	// 4. Stats Endpoint
	if stats != nil {
		mux.Handle("GET /api/stats", stats)
	}

	// 5. Logs Endpoints
	mux.HandleFunc("GET /api/log/latest", handleLatestLog)
	mux.HandleFunc("GET /api/log/events", handleEventLog)

	// 6. Race Control Endpoints
	if control != nil {
		mux.HandleFunc("POST /api/pit/{vehicle}", control.HandlePit)
		mux.HandleFunc("DELETE /api/pit/{vehicle}", control.HandlePit)
		mux.HandleFunc("POST /api/session/reset", control.HandleReset)
	}

	// 7. Session Endpoints
	if sessions != nil {
		mux.HandleFunc("GET /api/session", sessions.HandleSession)
		mux.HandleFunc("GET /api/replays", sessions.HandleReplays)
	}

	// 8. Shutdown Endpoint
	mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
		slog.Info("Graceful shutdown initiated via API")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("Shutting down...")); err != nil {
			slog.Error("Failed to write shutdown response", "error", err)
		}
		// Call shutdown in a goroutine to allow response to flush
		go func() {
			time.Sleep(100 * time.Millisecond)
			shutdown()
		}()
	})

	return &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: the status stream is long lived and sets its own deadlines.
		IdleTimeout: 60 * time.Second,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": "%s"}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}
