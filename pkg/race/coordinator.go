// Package race couples the dynamics engine with the DRS and pit-stop machines
// of one vehicle and publishes their combined state.
package race

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/paulmach/orb"

	"racecore/pkg/drs"
	"racecore/pkg/dynamics"
	"racecore/pkg/logging"
	"racecore/pkg/pitstop"
	"racecore/pkg/sim"
)

// EventRecorder receives race events. *tracker.Tracker satisfies it.
type EventRecorder interface {
	TrackDRSActivation(vehicle int)
	TrackPitStop(vehicle int)
	TrackTireChange(vehicle int)
}

// EventLog receives race events for the session timeline. *session.Manager
// satisfies it.
type EventLog interface {
	AddEvent(e *logging.Event)
}

// TickInput is everything one vehicle needs for a frame. Position is in the
// track frame (x lateral offset, y lap distance).
type TickInput struct {
	Dt       float64
	Distance float64
	Position orb.Point
	Input    sim.Input
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithEvents reports DRS activations, tire changes and pit stops to r.
func WithEvents(r EventRecorder) Option {
	return func(c *Coordinator) { c.events = r }
}

// WithEventLog sends race events to l instead of straight to the events log.
func WithEventLog(l EventLog) Option {
	return func(c *Coordinator) { c.eventLog = l }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// Coordinator runs the race systems of one vehicle, once per frame.
type Coordinator struct {
	engine   *dynamics.Engine
	id       dynamics.VehicleID
	drs      *drs.Machine
	pit      *pitstop.Machine
	events   EventRecorder
	eventLog EventLog
	logger   *slog.Logger
}

// NewCoordinator wires the machines of one vehicle to the engine.
func NewCoordinator(engine *dynamics.Engine, id dynamics.VehicleID, drsMachine *drs.Machine, pitMachine *pitstop.Machine, opts ...Option) *Coordinator {
	c := &Coordinator{
		engine: engine,
		id:     id,
		drs:    drsMachine,
		pit:    pitMachine,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("vehicle", int(id))

	drsMachine.OnTransition = c.onDRSTransition
	pitMachine.OnTransition = c.onPitTransition
	return c
}

// ID returns the vehicle this coordinator drives.
func (c *Coordinator) ID() dynamics.VehicleID { return c.id }

// Tick runs one frame: machines first, then modifiers into the engine, then
// input and integration. The only error is an unregistered vehicle.
func (c *Coordinator) Tick(in TickInput) error {
	speed, ok := c.engine.Speed(c.id)
	if !ok {
		return fmt.Errorf("tick vehicle %d: %w", c.id, dynamics.ErrVehicleNotFound)
	}
	input := in.Input.Normalize()
	dt := math.Max(in.Dt, 0)

	c.drs.Update(drs.Input{
		Distance: in.Distance,
		Button:   input.DRSButton,
		Brake:    input.Brake,
		Steering: input.Steering,
	}, dt)
	c.pit.Update(pitstop.Input{
		Distance:  in.Distance,
		Position:  in.Position,
		Speed:     speed,
		PitButton: input.PitButton,
	}, dt)
	if input.CycleButton {
		c.pit.CycleCompound()
	}

	if err := c.pushModifiers(); err != nil {
		return err
	}
	if err := c.engine.ApplyInput(c.id, dynamics.Controls{
		Throttle:  input.Throttle,
		Brake:     input.Brake,
		Steering:  input.Steering,
		Handbrake: input.Handbrake,
	}, dt); err != nil {
		return err
	}
	return c.engine.Advance(c.id, dt)
}

func (c *Coordinator) pushModifiers() error {
	if err := c.engine.SetDragMultiplier(c.id, c.drs.DragMultiplier()); err != nil {
		return err
	}
	if err := c.engine.SetTopSpeedBonus(c.id, c.drs.TopSpeedBonus()); err != nil {
		return err
	}
	if err := c.engine.SetGripMultiplier(c.id, c.pit.GripMultiplier()); err != nil {
		return err
	}
	return c.engine.ApplySpeedCap(c.id, c.pit.SpeedCap())
}

// RequestPitEntry commits the car to the next pit entry.
func (c *Coordinator) RequestPitEntry() bool {
	ok := c.pit.RequestPitEntry()
	if ok {
		c.logger.Info("Pit entry requested")
	}
	return ok
}

// AbortPitEntry cancels a pending pit request.
func (c *Coordinator) AbortPitEntry() bool {
	ok := c.pit.AbortPitEntry()
	if ok {
		c.logger.Info("Pit entry aborted")
	}
	return ok
}

// Reset puts both machines back to their initial state and restores the
// engine's default modifiers. The kinematic state is left alone.
func (c *Coordinator) Reset() error {
	c.drs.Reset()
	c.pit.Reset()
	if err := c.engine.ResetModifiers(c.id); err != nil {
		return fmt.Errorf("reset vehicle %d: %w", c.id, err)
	}
	return nil
}

func (c *Coordinator) onDRSTransition(from, to drs.State) {
	if to != drs.StateActive {
		return
	}
	if c.events != nil {
		c.events.TrackDRSActivation(int(c.id))
	}
	zone := ""
	if z := c.drs.ActiveZone(); z != nil {
		zone = z.Name
	}
	c.emit(&logging.Event{Vehicle: int(c.id), Type: logging.EventDRS, Title: "DRS open", Detail: zone})
}

func (c *Coordinator) onPitTransition(from, to pitstop.State) {
	switch {
	case to == pitstop.StateReleasing:
		tire := c.pit.Tire()
		if c.events != nil {
			c.events.TrackTireChange(int(c.id))
		}
		c.emit(&logging.Event{Vehicle: int(c.id), Type: logging.EventTireChange, Title: "Tires fitted", Detail: string(tire.Compound)})
	case to == pitstop.StateRacing && from == pitstop.StatePitLaneExit:
		if c.events != nil {
			c.events.TrackPitStop(int(c.id))
		}
		c.emit(&logging.Event{Vehicle: int(c.id), Type: logging.EventPitStop, Title: "Rejoined from the pits"})
	case to == pitstop.StateApproachingPit:
		c.logger.Debug("Approaching pit entry")
	}
}

func (c *Coordinator) emit(e *logging.Event) {
	if c.eventLog != nil {
		c.eventLog.AddEvent(e)
		return
	}
	logging.LogEvent(e)
}
