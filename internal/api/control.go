package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"racecore/pkg/core"
)

// RaceControl is the part of the scheduler the API may drive.
type RaceControl interface {
	RequestPit(ctx context.Context, vehicle int) (bool, error)
	AbortPit(ctx context.Context, vehicle int) (bool, error)
	ResetSession(ctx context.Context) error
}

// ControlHandler handles race control commands.
type ControlHandler struct {
	race    RaceControl
	timeout time.Duration
}

// NewControlHandler creates a new ControlHandler. Returns nil without a race.
func NewControlHandler(race RaceControl) *ControlHandler {
	if race == nil {
		return nil
	}
	return &ControlHandler{race: race, timeout: 2 * time.Second}
}

type pitResponse struct {
	Vehicle  int  `json:"vehicle"`
	Accepted bool `json:"accepted"`
}

// HandlePit requests (POST) or aborts (DELETE) a pit stop.
// POST|DELETE /api/pit/{vehicle}
func (h *ControlHandler) HandlePit(w http.ResponseWriter, r *http.Request) {
	vehicle, err := strconv.Atoi(r.PathValue("vehicle"))
	if err != nil {
		http.Error(w, "invalid vehicle", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var accepted bool
	if r.Method == http.MethodDelete {
		accepted, err = h.race.AbortPit(ctx, vehicle)
	} else {
		accepted, err = h.race.RequestPit(ctx, vehicle)
	}
	switch {
	case errors.Is(err, core.ErrUnknownVehicle):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		slog.Error("Pit command failed", "vehicle", vehicle, "error", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !accepted {
		w.WriteHeader(http.StatusConflict)
	}
	if err := json.NewEncoder(w).Encode(pitResponse{Vehicle: vehicle, Accepted: accepted}); err != nil {
		slog.Error("Failed to encode pit response", "error", err)
	}
}

// HandleReset restarts the session.
// POST /api/session/reset
func (h *ControlHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	slog.Info("Session reset requested via API")
	if err := h.race.ResetSession(ctx); err != nil {
		slog.Error("Session reset failed", "error", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
