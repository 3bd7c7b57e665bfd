package core

import (
	"context"

	"racecore/pkg/race"
	"racecore/pkg/sim"
)

// SessionResettable is an interface for components that keep per-session state
// (recordings, counters) and need to start over when the session is reset.
type SessionResettable interface {
	ResetSession(ctx context.Context)
}

// StatusSink receives the published state once per frame.
type StatusSink interface {
	Update(snap *Snapshot)
}

// FrameRecorder persists every frame that reaches the core.
type FrameRecorder interface {
	RecordFrame(ctx context.Context, index int64, f *sim.Frame) error
}

// Snapshot is what the scheduler publishes after a frame. It is built fresh
// every frame and never mutated afterwards.
type Snapshot struct {
	Frame    int64         `json:"frame"`
	SimTime  float64       `json:"sim_time"`
	HUDs     []race.HUD    `json:"huds"`
	Statuses []race.Status `json:"statuses"`
	Laps     int           `json:"laps"` // total over all cars
}
