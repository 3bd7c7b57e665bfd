// Package replay records the input frames of a run into the replay store and
// plays them back as an input source.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"racecore/pkg/sim"
	"racecore/pkg/store"
)

// Store is the part of the replay store the recorder and player need.
type Store interface {
	store.SessionStore
	store.FrameStore
}

const defaultBatch = 120

// Recorder buffers frames and writes them in batches. A session is created on
// the first frame and a new one after every session reset.
type Recorder struct {
	store  Store
	track  string
	cars   int
	batch  int
	logger *slog.Logger

	mu      sync.Mutex
	session string
	pending []store.Frame
}

// NewRecorder creates a recorder for runs on the named track.
func NewRecorder(s Store, track string, cars int) *Recorder {
	return &Recorder{
		store:  s,
		track:  track,
		cars:   cars,
		batch:  defaultBatch,
		logger: slog.Default().With("component", "replay"),
	}
}

// SessionID returns the session being written, or "" before the first frame.
func (r *Recorder) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// RecordFrame buffers one frame, flushing when the batch is full.
func (r *Recorder) RecordFrame(ctx context.Context, index int64, f *sim.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == "" {
		id := uuid.New().String()
		if err := r.store.CreateSession(ctx, &store.Session{ID: id, Track: r.track, Cars: r.cars}); err != nil {
			return fmt.Errorf("failed to create replay session: %w", err)
		}
		r.session = id
		r.logger.Info("Recording session", "session", id)
	}

	// Stored normalized; the core normalizes on entry, so playback is unchanged
	// and NaN axes stay encodable.
	normalized := make([]sim.Input, len(f.Inputs))
	for i, in := range f.Inputs {
		normalized[i] = in.Normalize()
	}
	inputs, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("failed to encode frame %d: %w", index, err)
	}
	rec := store.Frame{Index: index, Dt: f.Dt, Inputs: inputs}
	if len(f.Commands) > 0 {
		if rec.Commands, err = json.Marshal(f.Commands); err != nil {
			return fmt.Errorf("failed to encode commands of frame %d: %w", index, err)
		}
	}
	r.pending = append(r.pending, rec)

	if len(r.pending) >= r.batch {
		return r.flushLocked(ctx)
	}
	return nil
}

// Flush writes buffered frames.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked(ctx)
}

func (r *Recorder) flushLocked(ctx context.Context) error {
	if len(r.pending) == 0 || r.session == "" {
		return nil
	}
	if err := r.store.AppendFrames(ctx, r.session, r.pending); err != nil {
		return fmt.Errorf("failed to write %d frames: %w", len(r.pending), err)
	}
	r.pending = r.pending[:0]
	return nil
}

// ResetSession closes the current session. The next frame opens a new one.
func (r *Recorder) ResetSession(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.flushLocked(ctx); err != nil {
		r.logger.Error("Failed to flush on reset", "session", r.session, "error", err)
	}
	r.session = ""
	r.pending = r.pending[:0]
}
