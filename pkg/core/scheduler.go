// Package core runs the frame loop around the race core: it pulls input,
// clamps the step, ticks every car and publishes the result.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/paulmach/orb"

	"racecore/pkg/config"
	"racecore/pkg/drs"
	"racecore/pkg/dynamics"
	"racecore/pkg/logging"
	"racecore/pkg/pitstop"
	"racecore/pkg/race"
	"racecore/pkg/sim"
	"racecore/pkg/track"
	"racecore/pkg/tracker"
)

// ErrUnknownVehicle is returned for commands addressed to a car not on the grid.
var ErrUnknownVehicle = errors.New("unknown vehicle")

type car struct {
	id      dynamics.VehicleID
	coord   *race.Coordinator
	pit     *pitstop.Machine
	start   mgl64.Vec3
	laps    int
	lapIdx  int // highest lap index reached, so reversing over the line does not count twice
	lapTime float64
	inPit   bool
}

// Scheduler owns the frame loop. The core itself is single threaded; every
// call into it happens on the goroutine running Start, Run or Step.
type Scheduler struct {
	cfg      *config.Config
	layout   *track.Layout
	engine   *dynamics.Engine
	source   sim.InputSource
	sink     StatusSink
	recorder FrameRecorder
	tracker  *tracker.Tracker
	eventLog race.EventLog
	jobs     []Job
	jobsWG   sync.WaitGroup
	resets   []SessionResettable
	cars     []*car
	metrics  *schedulerMetrics

	maxStep  float64
	frame    int64
	simTime  float64
	inPit    atomic.Int64
	latest   atomic.Pointer[Snapshot]
	running  atomic.Bool
	commands chan func()
	issued   []sim.Command // race control applied since the last frame, recorded with the next one
}

// NewScheduler builds the engine and one coordinator per grid slot.
func NewScheduler(cfg *config.Config, layout *track.Layout, source sim.InputSource, sink StatusSink) (*Scheduler, error) {
	s := &Scheduler{
		cfg:      cfg,
		layout:   layout,
		engine:   dynamics.NewEngine(dynamics.ParamsFromConfig(&cfg.Vehicle), slog.Default()),
		source:   source,
		sink:     sink,
		maxStep:  cfg.Ticker.MaxStep.Seconds(),
		commands: make(chan func(), 16),
	}
	if s.maxStep <= 0 {
		s.maxStep = 1.0 / 30
	}

	m, err := newSchedulerMetrics(s.inPit.Load)
	if err != nil {
		return nil, err
	}
	s.metrics = m

	drsParams := drs.ParamsFromConfig(&cfg.DRS)
	pitParams := pitstop.ParamsFromConfig(&cfg.Pit, &cfg.Tires)
	cars := max(cfg.Grid.Cars, 1)
	for i := 0; i < cars; i++ {
		id := dynamics.VehicleID(i + 1)
		// Grid slot 0 is on pole, the rest line up behind it.
		start := mgl64.Vec3{0, cfg.Vehicle.RideHeight, float64(cars-1-i) * cfg.Grid.Spacing.Meters()}
		s.engine.Register(id, dynamics.NewState(start))

		pit := pitstop.New(layout, pitParams)
		c := &car{
			id:    id,
			pit:   pit,
			start: start,
		}
		c.coord = race.NewCoordinator(s.engine, id, drs.New(layout, drsParams), pit, race.WithEvents(s), race.WithEventLog(s))
		s.cars = append(s.cars, c)
	}
	return s, nil
}

// SetRecorder installs a recorder that receives every frame.
func (s *Scheduler) SetRecorder(r FrameRecorder) {
	s.recorder = r
}

// SetTracker installs the race event counters.
func (s *Scheduler) SetTracker(t *tracker.Tracker) {
	s.tracker = t
}

// SetEventLog sends race events to l. Without one they go straight to the
// events log.
func (s *Scheduler) SetEventLog(l race.EventLog) {
	s.eventLog = l
}

// AddJob registers a job.
func (s *Scheduler) AddJob(j Job) {
	s.jobs = append(s.jobs, j)
}

// AddResettable registers a component reset alongside the session.
func (s *Scheduler) AddResettable(r SessionResettable) {
	s.resets = append(s.resets, r)
}

// Engine exposes the dynamics engine for inspection.
func (s *Scheduler) Engine() *dynamics.Engine {
	return s.engine
}

// Latest returns the most recent snapshot, or nil before the first frame.
func (s *Scheduler) Latest() *Snapshot {
	return s.latest.Load()
}

// Start runs the main loop. It blocks until the context is cancelled or the
// input source runs out, and returns once jobs it started have finished.
func (s *Scheduler) Start(ctx context.Context) error {
	interval := time.Duration(s.cfg.Ticker.FrameInterval)
	if interval <= 0 {
		interval = time.Second / 60
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.running.Store(true)
	defer s.running.Store(false)
	defer s.jobsWG.Wait()

	slog.Info("Scheduler started", "interval", interval, "cars", len(s.cars))

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
			if err := s.Step(ctx); err != nil {
				return s.stopOn(ctx, err)
			}
		}
	}
}

// Run steps as fast as possible for the given number of frames, or until the
// source runs out when frames is 0.
func (s *Scheduler) Run(ctx context.Context, frames int) error {
	s.running.Store(true)
	defer s.running.Store(false)
	defer s.jobsWG.Wait()

	for i := 0; frames <= 0 || i < frames; i++ {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.Step(ctx); err != nil {
			return s.stopOn(ctx, err)
		}
	}
	return nil
}

func (s *Scheduler) stopOn(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, sim.ErrExhausted):
		slog.Info("Input source exhausted", "frames", s.frame)
		return nil
	case ctx.Err() != nil:
		return nil
	default:
		return fmt.Errorf("frame %d: %w", s.frame, err)
	}
}

// Step pulls one frame and ticks every car.
func (s *Scheduler) Step(ctx context.Context) error {
	s.drainCommands()

	frame, err := s.source.NextFrame(ctx)
	if err != nil {
		return err
	}
	frame.Dt = clampStep(frame.Dt, s.maxStep)

	// Commands carried by a replayed frame are reissued before the cars tick,
	// where the live run applied them.
	for _, cmd := range frame.Commands {
		if _, err := s.applyCommand(cmd); err != nil {
			slog.Warn("Skipping replayed command", "vehicle", cmd.Vehicle, "kind", cmd.Kind, "error", err)
		}
	}
	frame.Commands = append(frame.Commands, s.issued...)
	s.issued = s.issued[:0]

	if s.recorder != nil {
		if err := s.recorder.RecordFrame(ctx, s.frame, &frame); err != nil {
			slog.Warn("Failed to record frame", "frame", s.frame, "error", err)
		}
	}

	for i, c := range s.cars {
		if err := s.tickCar(ctx, c, frame.Dt, frame.Input(i)); err != nil {
			return err
		}
	}

	s.frame++
	s.simTime += frame.Dt
	s.metrics.recordFrame(ctx, frame.Dt)

	snap := s.snapshot()
	s.latest.Store(snap)
	if s.sink != nil {
		s.sink.Update(snap)
	}
	logging.Trace(slog.Default(), "Frame", "frame", snap.Frame, "dt", frame.Dt)

	for _, job := range s.jobs {
		if job.ShouldFire(snap) {
			s.jobsWG.Add(1)
			go func(j Job) {
				defer s.jobsWG.Done()
				j.Run(ctx, snap)
			}(job)
		}
	}
	return nil
}

func (s *Scheduler) tickCar(ctx context.Context, c *car, dt float64, in sim.Input) error {
	st, ok := s.engine.State(c.id)
	if !ok {
		return fmt.Errorf("vehicle %d: %w", c.id, dynamics.ErrVehicleNotFound)
	}
	d := s.layout.Wrap(st.Position.Z())
	if err := c.coord.Tick(race.TickInput{
		Dt:       dt,
		Distance: d,
		Position: orb.Point{st.Position.X(), d},
		Input:    in,
	}); err != nil {
		return err
	}
	c.lapTime += dt

	after, _ := s.engine.State(c.id)
	if idx := int(math.Floor(after.Position.Z() / s.layout.Length)); idx > c.lapIdx {
		c.lapIdx = idx
		s.completeLap(ctx, c)
	}

	if inPit := c.pit.InPitLane(); inPit != c.inPit {
		c.inPit = inPit
		if inPit {
			s.inPit.Add(1)
		} else {
			s.inPit.Add(-1)
		}
	}
	return nil
}

func (s *Scheduler) completeLap(ctx context.Context, c *car) {
	c.laps++
	lap := time.Duration(c.lapTime * float64(time.Second))
	c.lapTime = 0

	if s.tracker != nil {
		s.tracker.TrackLap(int(c.id), lap.Milliseconds())
	}
	s.metrics.recordLap(ctx, int(c.id))
	s.AddEvent(&logging.Event{
		Vehicle: int(c.id),
		Type:    logging.EventLap,
		Title:   fmt.Sprintf("Lap %d completed", c.laps),
		Detail:  race.FormatLapTime(lap),
	})
}

func (s *Scheduler) snapshot() *Snapshot {
	snap := &Snapshot{
		Frame:    s.frame,
		SimTime:  s.simTime,
		HUDs:     make([]race.HUD, 0, len(s.cars)),
		Statuses: make([]race.Status, 0, len(s.cars)),
	}
	for _, c := range s.cars {
		hud := c.coord.HUD(time.Duration(c.lapTime * float64(time.Second)))
		hud.Lap = c.laps + 1
		snap.HUDs = append(snap.HUDs, hud)
		snap.Statuses = append(snap.Statuses, c.coord.Status())
		snap.Laps += c.laps
	}
	return snap
}

// clampStep keeps dt in [0, maxStep]. NaN reads as zero.
func clampStep(dt, maxStep float64) float64 {
	if math.IsNaN(dt) || dt < 0 {
		return 0
	}
	return math.Min(dt, maxStep)
}

// RequestPit asks a car to pit at the next entry. It is safe to call from any
// goroutine; the request runs on the loop goroutine before the next frame.
func (s *Scheduler) RequestPit(ctx context.Context, vehicle int) (bool, error) {
	return s.issue(ctx, sim.Command{Vehicle: vehicle, Kind: sim.CommandPitRequest})
}

// AbortPit cancels a pending pit request.
func (s *Scheduler) AbortPit(ctx context.Context, vehicle int) (bool, error) {
	return s.issue(ctx, sim.Command{Vehicle: vehicle, Kind: sim.CommandPitAbort})
}

// issue applies a race control command on the loop goroutine and keeps it for
// the recorder, rejected or not, so a replay reaches the same decision.
func (s *Scheduler) issue(ctx context.Context, cmd sim.Command) (bool, error) {
	var accepted bool
	err := s.do(ctx, func() error {
		ok, err := s.applyCommand(cmd)
		if err != nil {
			return err
		}
		accepted = ok
		s.issued = append(s.issued, cmd)
		return nil
	})
	return accepted, err
}

func (s *Scheduler) applyCommand(cmd sim.Command) (bool, error) {
	c := s.carByID(cmd.Vehicle)
	if c == nil {
		return false, ErrUnknownVehicle
	}
	switch cmd.Kind {
	case sim.CommandPitRequest:
		return c.coord.RequestPitEntry(), nil
	case sim.CommandPitAbort:
		return c.coord.AbortPitEntry(), nil
	default:
		return false, fmt.Errorf("unknown command %q", cmd.Kind)
	}
}

// ResetSession puts every car back on the grid with fresh machines and clears
// lap timing and counters. It fails with the context error when the loop did
// not get to the reset in time; the reset is then dropped.
func (s *Scheduler) ResetSession(ctx context.Context) error {
	return s.do(ctx, func() error {
		for _, c := range s.cars {
			s.engine.Register(c.id, dynamics.NewState(c.start))
			if err := c.coord.Reset(); err != nil {
				slog.Error("Failed to reset vehicle", "vehicle", c.id, "error", err)
			}
			c.laps, c.lapIdx, c.lapTime = 0, 0, 0
			if c.inPit {
				s.inPit.Add(-1)
				c.inPit = false
			}
		}
		s.frame, s.simTime = 0, 0
		// The new recording starts from the grid; earlier commands belong to the old one.
		s.issued = s.issued[:0]
		if s.tracker != nil {
			s.tracker.Reset()
		}
		for _, r := range s.resets {
			r.ResetSession(ctx)
		}
		s.AddEvent(&logging.Event{Type: logging.EventSessionInit, Title: "Session reset"})
		slog.Info("Session reset")
		return nil
	})
}

// do runs fn on the loop goroutine when the loop is running, inline otherwise.
// A queued command whose context ended before the loop reached it is skipped.
func (s *Scheduler) do(ctx context.Context, fn func() error) error {
	if !s.running.Load() {
		return fn()
	}
	done := make(chan error, 1)
	cmd := func() {
		if err := ctx.Err(); err != nil {
			done <- err
			return
		}
		done <- fn()
	}
	select {
	case s.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) drainCommands() {
	for {
		select {
		case cmd := <-s.commands:
			cmd()
		default:
			return
		}
	}
}

func (s *Scheduler) carByID(vehicle int) *car {
	for _, c := range s.cars {
		if int(c.id) == vehicle {
			return c
		}
	}
	return nil
}

// TrackDRSActivation forwards to the tracker when one is installed.
func (s *Scheduler) TrackDRSActivation(vehicle int) {
	if s.tracker != nil {
		s.tracker.TrackDRSActivation(vehicle)
	}
}

// TrackPitStop forwards to the tracker when one is installed.
func (s *Scheduler) TrackPitStop(vehicle int) {
	if s.tracker != nil {
		s.tracker.TrackPitStop(vehicle)
	}
}

// TrackTireChange forwards to the tracker when one is installed.
func (s *Scheduler) TrackTireChange(vehicle int) {
	if s.tracker != nil {
		s.tracker.TrackTireChange(vehicle)
	}
}

// AddEvent forwards to the installed event log.
func (s *Scheduler) AddEvent(e *logging.Event) {
	if s.eventLog != nil {
		s.eventLog.AddEvent(e)
		return
	}
	logging.LogEvent(e)
}
