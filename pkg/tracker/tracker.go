// Package tracker counts race events per vehicle.
package tracker

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Tracker tracks race event counters per vehicle. Safe for concurrent use.
type Tracker struct {
	mu    sync.RWMutex
	stats map[int]*VehicleStats
}

// VehicleStats holds the counters for one vehicle.
// Fields are accessed atomically.
type VehicleStats struct {
	DRSActivations int64 `json:"drs_activations"`
	PitStops       int64 `json:"pit_stops"`
	TireChanges    int64 `json:"tire_changes"`
	Laps           int64 `json:"laps"`
	BestLapMillis  int64 `json:"best_lap_ms"`
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats: make(map[int]*VehicleStats),
	}
}

// getStats returns the stats object for a vehicle, creating it if needed.
func (t *Tracker) getStats(vehicle int) *VehicleStats {
	t.mu.RLock()
	s, ok := t.stats[vehicle]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Double check
	if s, ok = t.stats[vehicle]; ok {
		return s
	}
	s = &VehicleStats{}
	t.stats[vehicle] = s
	return s
}

// TrackDRSActivation counts a DRS opening.
func (t *Tracker) TrackDRSActivation(vehicle int) {
	atomic.AddInt64(&t.getStats(vehicle).DRSActivations, 1)
}

// TrackPitStop counts a completed pit stop (car rejoined the race).
func (t *Tracker) TrackPitStop(vehicle int) {
	atomic.AddInt64(&t.getStats(vehicle).PitStops, 1)
}

// TrackTireChange counts a fitted set.
func (t *Tracker) TrackTireChange(vehicle int) {
	atomic.AddInt64(&t.getStats(vehicle).TireChanges, 1)
}

// TrackLap counts a completed lap and keeps the best lap time.
func (t *Tracker) TrackLap(vehicle int, lapMillis int64) {
	s := t.getStats(vehicle)
	atomic.AddInt64(&s.Laps, 1)
	for {
		best := atomic.LoadInt64(&s.BestLapMillis)
		if best != 0 && best <= lapMillis {
			return
		}
		if atomic.CompareAndSwapInt64(&s.BestLapMillis, best, lapMillis) {
			return
		}
	}
}

// Reset clears all counters.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats = make(map[int]*VehicleStats)
}

// Vehicles returns the ids with recorded stats in ascending order.
func (t *Tracker) Vehicles() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]int, 0, len(t.stats))
	for id := range t.stats {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() map[int]VehicleStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[int]VehicleStats, len(t.stats))
	for k, v := range t.stats {
		result[k] = VehicleStats{
			DRSActivations: atomic.LoadInt64(&v.DRSActivations),
			PitStops:       atomic.LoadInt64(&v.PitStops),
			TireChanges:    atomic.LoadInt64(&v.TireChanges),
			Laps:           atomic.LoadInt64(&v.Laps),
			BestLapMillis:  atomic.LoadInt64(&v.BestLapMillis),
		}
	}
	return result
}
