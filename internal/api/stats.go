package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"

	"racecore/pkg/tracker"
)

type StatsHandler struct {
	tracker *tracker.Tracker
}

func NewStatsHandler(t *tracker.Tracker) *StatsHandler {
	return &StatsHandler{tracker: t}
}

type ComponentStats struct {
	Name       string `json:"name"`
	MemoryMB   uint64 `json:"memory_mb"`
	Goroutines int    `json:"goroutines"`
}

type StatsResponse struct {
	Diagnostics []ComponentStats                `json:"diagnostics"`
	Vehicles    map[string]tracker.VehicleStats `json:"vehicles"`
	Totals      tracker.VehicleStats            `json:"totals"`
}

// ServeHTTP returns the race counters per vehicle.
// GET /api/stats
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snapshot := h.tracker.Snapshot()

	resp := StatsResponse{
		Diagnostics: gatherDiagnostics(),
		Vehicles:    make(map[string]tracker.VehicleStats, len(snapshot)),
	}

	for vehicle, stats := range snapshot {
		resp.Vehicles[strconv.Itoa(vehicle)] = stats
		resp.Totals.DRSActivations += stats.DRSActivations
		resp.Totals.PitStops += stats.PitStops
		resp.Totals.TireChanges += stats.TireChanges
		resp.Totals.Laps += stats.Laps
		if stats.BestLapMillis > 0 && (resp.Totals.BestLapMillis == 0 || stats.BestLapMillis < resp.Totals.BestLapMillis) {
			resp.Totals.BestLapMillis = stats.BestLapMillis
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func gatherDiagnostics() []ComponentStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return []ComponentStats{{
		Name:       "Server",
		MemoryMB:   bToMb(m.Sys),
		Goroutines: runtime.NumGoroutine(),
	}}
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
