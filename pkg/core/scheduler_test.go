package core

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"racecore/pkg/config"
	"racecore/pkg/sim"
	"racecore/pkg/track"
	"racecore/pkg/tracker"
)

// mockSource hands out the same input every frame until limit frames were served.
type mockSource struct {
	mu     sync.Mutex
	input  sim.Input
	dt     float64
	limit  int
	served int
	err    error
}

func (m *mockSource) NextFrame(ctx context.Context) (sim.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return sim.Frame{}, m.err
	}
	if m.limit > 0 && m.served >= m.limit {
		return sim.Frame{}, sim.ErrExhausted
	}
	m.served++
	return sim.Frame{Dt: m.dt, Inputs: []sim.Input{m.input}}, nil
}

func (m *mockSource) Close() error { return nil }

type mockSink struct {
	mu    sync.Mutex
	snaps []*Snapshot
}

func (m *mockSink) Update(snap *Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, snap)
}

func (m *mockSink) last() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.snaps) == 0 {
		return nil
	}
	return m.snaps[len(m.snaps)-1]
}

type mockRecorder struct {
	dts []float64
}

func (m *mockRecorder) RecordFrame(ctx context.Context, index int64, f *sim.Frame) error {
	if int(index) != len(m.dts) {
		return errors.New("out of order")
	}
	m.dts = append(m.dts, f.Dt)
	return nil
}

// frameLog keeps full copies of recorded frames and plays them back.
type frameLog struct {
	frames []sim.Frame
	next   int
}

func (l *frameLog) RecordFrame(ctx context.Context, index int64, f *sim.Frame) error {
	cp := sim.Frame{Dt: f.Dt}
	cp.Inputs = append(cp.Inputs, f.Inputs...)
	cp.Commands = append(cp.Commands, f.Commands...)
	l.frames = append(l.frames, cp)
	return nil
}

func (l *frameLog) NextFrame(ctx context.Context) (sim.Frame, error) {
	if l.next >= len(l.frames) {
		return sim.Frame{}, sim.ErrExhausted
	}
	f := l.frames[l.next]
	l.next++
	return f, nil
}

func (l *frameLog) Close() error { return nil }

type mockResettable struct {
	resets atomic.Int32
}

func (m *mockResettable) ResetSession(ctx context.Context) { m.resets.Add(1) }

type countingJob struct {
	BaseJob
	runs atomic.Int32
}

func (j *countingJob) ShouldFire(snap *Snapshot) bool { return snap.Frame%10 == 0 }

func (j *countingJob) Run(ctx context.Context, snap *Snapshot) {
	j.runs.Add(1)
}

func newTestScheduler(t *testing.T, src sim.InputSource, sink StatusSink) *Scheduler {
	t.Helper()
	cfg := config.DefaultConfig()
	layout, err := track.FromConfig(&cfg.Track)
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	s, err := NewScheduler(cfg, layout, src, sink)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return s
}

func TestClampStep(t *testing.T) {
	tests := []struct {
		name string
		dt   float64
		want float64
	}{
		{"Normal", 0.01, 0.01},
		{"Negative", -0.5, 0},
		{"NaN", math.NaN(), 0},
		{"Spike", 0.5, 1.0 / 30},
		{"AtMax", 1.0 / 30, 1.0 / 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clampStep(tt.dt, 1.0/30); got != tt.want {
				t.Errorf("clampStep(%v) = %v, want %v", tt.dt, got, tt.want)
			}
		})
	}
}

func TestScheduler_RunPublishesSnapshots(t *testing.T) {
	src := &mockSource{input: sim.Input{Throttle: 1}, dt: 1.0 / 60, limit: 120}
	sink := &mockSink{}
	s := newTestScheduler(t, src, sink)

	if err := s.Run(context.Background(), 0); err != nil {
		t.Fatalf("Run: %v", err)
	}

	snap := sink.last()
	if snap == nil {
		t.Fatal("sink received no snapshot")
	}
	if snap.Frame != 120 {
		t.Errorf("frame = %d, want 120", snap.Frame)
	}
	if math.Abs(snap.SimTime-2) > 1e-9 {
		t.Errorf("sim time = %v, want 2", snap.SimTime)
	}
	if len(snap.HUDs) != 1 || snap.HUDs[0].SpeedKPH <= 0 {
		t.Errorf("expected one moving car, got %+v", snap.HUDs)
	}
	if snap.HUDs[0].Lap != 1 {
		t.Errorf("lap = %d, want 1", snap.HUDs[0].Lap)
	}
	if s.Latest() != snap {
		t.Error("Latest should return the last published snapshot")
	}
}

func TestScheduler_ClampsAndRecords(t *testing.T) {
	src := &mockSource{dt: 0.5, limit: 3}
	s := newTestScheduler(t, src, nil)
	rec := &mockRecorder{}
	s.SetRecorder(rec)

	if err := s.Run(context.Background(), 0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rec.dts) != 3 {
		t.Fatalf("recorded %d frames, want 3", len(rec.dts))
	}
	for i, dt := range rec.dts {
		if dt != 1.0/30 {
			t.Errorf("frame %d dt = %v, want clamped 1/30", i, dt)
		}
	}
}

func TestScheduler_SourceError(t *testing.T) {
	src := &mockSource{err: errors.New("device gone")}
	s := newTestScheduler(t, src, nil)

	err := s.Run(context.Background(), 5)
	if err == nil {
		t.Fatal("expected error from failing source")
	}
}

func TestScheduler_CountsLaps(t *testing.T) {
	src := &mockSource{input: sim.Input{Throttle: 1}, dt: 1.0 / 30, limit: 6000}
	sink := &mockSink{}
	s := newTestScheduler(t, src, sink)
	tr := tracker.New()
	s.SetTracker(tr)

	if err := s.Run(context.Background(), 0); err != nil {
		t.Fatalf("Run: %v", err)
	}

	stats := tr.Snapshot()[1]
	if stats.Laps < 1 {
		t.Fatalf("expected at least one lap, got %d", stats.Laps)
	}
	if stats.BestLapMillis <= 0 {
		t.Errorf("best lap not recorded: %d", stats.BestLapMillis)
	}
	if snap := sink.last(); snap.Laps != int(stats.Laps) {
		t.Errorf("snapshot laps = %d, tracker laps = %d", snap.Laps, stats.Laps)
	}
}

func TestScheduler_RequestPit(t *testing.T) {
	s := newTestScheduler(t, &mockSource{dt: 1.0 / 60}, nil)
	ctx := context.Background()

	if _, err := s.RequestPit(ctx, 9); !errors.Is(err, ErrUnknownVehicle) {
		t.Errorf("expected ErrUnknownVehicle, got %v", err)
	}
	ok, err := s.RequestPit(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("RequestPit = %v, %v; want true, nil", ok, err)
	}
	ok, err = s.AbortPit(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("AbortPit = %v, %v; want true, nil", ok, err)
	}
}

func TestScheduler_PitRequestIsRecordedAndReplayed(t *testing.T) {
	ctx := context.Background()
	live := newTestScheduler(t, &mockSource{input: sim.Input{Throttle: 1}, dt: 1.0 / 60, limit: 30}, nil)
	rec := &frameLog{}
	live.SetRecorder(rec)

	if err := live.Run(ctx, 10); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ok, err := live.RequestPit(ctx, 1); err != nil || !ok {
		t.Fatalf("RequestPit = %v, %v; want true, nil", ok, err)
	}
	if _, err := live.RequestPit(ctx, 9); !errors.Is(err, ErrUnknownVehicle) {
		t.Fatalf("expected ErrUnknownVehicle, got %v", err)
	}
	if err := live.Run(ctx, 0); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(rec.frames) != 30 {
		t.Fatalf("recorded %d frames, want 30", len(rec.frames))
	}
	want := []sim.Command{{Vehicle: 1, Kind: sim.CommandPitRequest}}
	if got := rec.frames[10].Commands; len(got) != 1 || got[0] != want[0] {
		t.Fatalf("frame 10 commands = %v, want %v", got, want)
	}
	for i, f := range rec.frames {
		if i != 10 && len(f.Commands) != 0 {
			t.Errorf("frame %d carries commands %v", i, f.Commands)
		}
	}

	replayed := newTestScheduler(t, rec, nil)
	if err := replayed.Run(ctx, 0); err != nil {
		t.Fatalf("replay Run: %v", err)
	}

	liveHUD, replayHUD := live.Latest().HUDs[0], replayed.Latest().HUDs[0]
	if liveHUD.PitState != "approaching_pit" {
		t.Fatalf("live pit state = %q, want approaching_pit", liveHUD.PitState)
	}
	if replayHUD.PitState != liveHUD.PitState || replayHUD.Limiter != liveHUD.Limiter {
		t.Errorf("replay pit state %q limiter %v, live %q %v", replayHUD.PitState, replayHUD.Limiter, liveHUD.PitState, liveHUD.Limiter)
	}
	liveState, _ := live.Engine().State(1)
	replayState, _ := replayed.Engine().State(1)
	if liveState != replayState {
		t.Errorf("replay diverged: live %+v, replay %+v", liveState, replayState)
	}
}

func TestScheduler_RequestPitWhileRunning(t *testing.T) {
	src := &mockSource{dt: 1.0 / 60}
	s := newTestScheduler(t, src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !s.running.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	reqCtx, reqCancel := context.WithTimeout(ctx, 2*time.Second)
	ok, err := s.RequestPit(reqCtx, 1)
	reqCancel()
	if err != nil || !ok {
		t.Errorf("RequestPit = %v, %v; want true, nil", ok, err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Start returned %v", err)
	}
}

func TestScheduler_ResetSession(t *testing.T) {
	src := &mockSource{input: sim.Input{Throttle: 1}, dt: 1.0 / 60, limit: 60}
	s := newTestScheduler(t, src, nil)
	tr := tracker.New()
	s.SetTracker(tr)
	tr.TrackDRSActivation(1)
	res := &mockResettable{}
	s.AddResettable(res)

	if err := s.Run(context.Background(), 0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := s.ResetSession(context.Background()); err != nil {
		t.Fatalf("ResetSession: %v", err)
	}

	st, _ := s.Engine().State(1)
	if st.Speed() != 0 || st.Position.Z() != 0 {
		t.Errorf("car not back on the grid: pos %v speed %v", st.Position, st.Speed())
	}
	if s.frame != 0 || s.simTime != 0 {
		t.Errorf("frame counters not reset: %d %v", s.frame, s.simTime)
	}
	if len(tr.Vehicles()) != 0 {
		t.Error("tracker not reset")
	}
	if res.resets.Load() != 1 {
		t.Errorf("resettable called %d times, want 1", res.resets.Load())
	}
}

func TestScheduler_ResetSessionTimesOut(t *testing.T) {
	s := newTestScheduler(t, &mockSource{dt: 1.0 / 60}, nil)
	res := &mockResettable{}
	s.AddResettable(res)

	// The loop is marked running but never drains the queue.
	s.running.Store(true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.ResetSession(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("ResetSession = %v, want context.Canceled", err)
	}

	s.running.Store(false)
	s.drainCommands()
	if res.resets.Load() != 0 {
		t.Error("a reset whose caller gave up must not run later")
	}
}

func TestScheduler_FiresJobs(t *testing.T) {
	src := &mockSource{dt: 1.0 / 60, limit: 30}
	s := newTestScheduler(t, src, nil)
	job := &countingJob{BaseJob: BaseJob{name: "counter"}}
	s.AddJob(job)

	if err := s.Run(context.Background(), 0); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Frames 10, 20 and 30 qualify. Run returns only after their goroutines finish.
	if got := job.runs.Load(); got != 3 {
		t.Errorf("job ran %d times, want 3", got)
	}
}
