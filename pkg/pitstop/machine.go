// Package pitstop implements the pit-stop sequence and the tire model it services.
package pitstop

import (
	"log/slog"
	"math"

	"github.com/paulmach/orb"
	opt "github.com/repeale/fp-go/option"

	"racecore/pkg/config"
	"racecore/pkg/logging"
	"racecore/pkg/track"
)

// State is a step of the pit-stop sequence.
type State string

const (
	StateRacing         State = "racing"
	StateApproachingPit State = "approaching_pit"
	StatePitLaneEntry   State = "pit_lane_entry"
	StatePitLane        State = "pit_lane"
	StateStopping       State = "stopping"
	StateStopped        State = "stopped"
	StateTireChange     State = "tire_change"
	StateReleasing      State = "releasing"
	StatePitLaneExit    State = "pit_lane_exit"
)

// Params tunes the stop.
type Params struct {
	BaseStopTime  float64 // s
	ChangeTime    float64 // s per tire set
	ReleaseDelay  float64 // s
	SpeedMargin   float64 // m/s tolerated above the pit limit on entry
	StopSpeed     float64 // m/s below which the car counts as stopped
	StartCompound Compound
	Tires         TireParams
}

// DefaultParams returns the parameters of the default configuration.
func DefaultParams() Params {
	cfg := config.DefaultConfig()
	return ParamsFromConfig(&cfg.Pit, &cfg.Tires)
}

// ParamsFromConfig converts the pit and tires config sections.
func ParamsFromConfig(pit *config.PitConfig, tires *config.TireConfig) Params {
	start, err := ParseCompound(tires.StartCompound)
	if err != nil {
		start = CompoundMedium
	}
	return Params{
		BaseStopTime:  pit.BaseStopTime.Seconds(),
		ChangeTime:    pit.ChangeTime.Seconds(),
		ReleaseDelay:  pit.ReleaseDelay.Seconds(),
		SpeedMargin:   pit.SpeedMargin.MPS(),
		StopSpeed:     pit.StopSpeed.MPS(),
		StartCompound: start,
		Tires:         TireParamsFromConfig(tires),
	}
}

// ServiceTime is how long the car sits in tire_change.
func (p *Params) ServiceTime() float64 {
	return p.BaseStopTime + p.ChangeTime
}

// Input is what the machine needs from one frame. Position is in the track frame.
type Input struct {
	Distance  float64
	Position  orb.Point
	Speed     float64
	PitButton bool
}

// Machine runs the pit-stop sequence and owns the tire state of one vehicle.
type Machine struct {
	layout *track.Layout
	params Params
	logger *slog.Logger

	state      State
	elapsed    float64
	progress   float64
	selected   Compound
	tire       Tire
	seenWindow bool

	// OnTransition is called after every state change.
	OnTransition func(from, to State)
}

// New creates a machine in the racing state on a fresh set of the start compound.
func New(layout *track.Layout, params Params) *Machine {
	m := &Machine{
		layout: layout,
		params: params,
		logger: slog.Default().With("component", "pitstop"),
	}
	m.Reset()
	return m
}

// Update advances the machine by dt seconds. At most one transition happens per call.
func (m *Machine) Update(in Input, dt float64) {
	if dt < 0 {
		dt = 0
	}
	m.tire.Update(in.Speed, dt, &m.params.Tires)
	m.elapsed += dt

	pit := &m.layout.Pit
	switch m.state {
	case StateRacing:
		if in.PitButton && m.layout.InEntryWindow(in.Distance) {
			m.transition(StateApproachingPit)
		}
	case StateApproachingPit:
		inWindow := m.layout.InEntryWindow(in.Distance)
		switch {
		case pit.InCorridor(in.Position):
			m.transition(StatePitLaneEntry)
		case inWindow:
			m.seenWindow = true
		case m.seenWindow:
			// Drove past the entry without turning in.
			m.transition(StateRacing)
		}
	case StatePitLaneEntry:
		if in.Speed <= pit.SpeedLimit+m.params.SpeedMargin {
			m.transition(StatePitLane)
		}
	case StatePitLane:
		if pit.AtBox(in.Position) {
			m.transition(StateStopping)
		}
	case StateStopping:
		if in.Speed < m.params.StopSpeed {
			m.transition(StateStopped)
		}
	case StateStopped:
		if in.PitButton {
			m.transition(StateTireChange)
		}
	case StateTireChange:
		total := m.params.ServiceTime()
		if total > 0 {
			m.progress = math.Min(m.elapsed/total, 1)
		} else {
			m.progress = 1
		}
		if m.elapsed >= total {
			m.tire.Fit(m.selected, &m.params.Tires)
			m.progress = 1
			m.transition(StateReleasing)
		}
	case StateReleasing:
		if m.elapsed >= m.params.ReleaseDelay {
			m.transition(StatePitLaneExit)
		}
	case StatePitLaneExit:
		if !pit.InCorridor(in.Position) {
			m.transition(StateRacing)
		}
	}
}

func (m *Machine) transition(to State) {
	from := m.state
	m.state = to
	m.elapsed = 0
	switch to {
	case StateApproachingPit:
		m.seenWindow = false
	case StateTireChange:
		m.progress = 0
	case StateRacing:
		m.progress = 0
		m.seenWindow = false
	}
	logging.Trace(m.logger, "Pit transition", "from", from, "to", to)
	if m.OnTransition != nil {
		m.OnTransition(from, to)
	}
}

// RequestPitEntry commits to the next pit entry. Only valid while racing.
func (m *Machine) RequestPitEntry() bool {
	if m.state != StateRacing {
		return false
	}
	m.transition(StateApproachingPit)
	return true
}

// AbortPitEntry cancels a pending request. Only valid while approaching the pit.
func (m *Machine) AbortPitEntry() bool {
	if m.state != StateApproachingPit {
		return false
	}
	m.transition(StateRacing)
	return true
}

// CycleCompound moves the pending selection to the next compound while the car
// is stopped in its box. Otherwise the selection is returned unchanged.
func (m *Machine) CycleCompound() Compound {
	if m.state == StateStopped {
		m.selected = m.selected.Next()
		m.logger.Debug("Compound selected", "compound", m.selected)
	}
	return m.selected
}

// Reset returns to racing on a fresh set of the start compound.
func (m *Machine) Reset() {
	m.state = StateRacing
	m.elapsed = 0
	m.progress = 0
	m.seenWindow = false
	m.selected = m.params.StartCompound
	m.tire = NewTire(m.params.StartCompound, &m.params.Tires)
}

// State returns the current step of the sequence.
func (m *Machine) State() State { return m.state }

// Elapsed returns the seconds spent in the current state.
func (m *Machine) Elapsed() float64 { return m.elapsed }

// Progress returns the tire change progress in [0,1].
func (m *Machine) Progress() float64 { return m.progress }

// SelectedCompound returns the compound that will be fitted at the next change.
func (m *Machine) SelectedCompound() Compound { return m.selected }

// Tire returns a copy of the fitted set.
func (m *Machine) Tire() Tire { return m.tire }

// LimiterOn reports whether the pit speed limiter is engaged.
func (m *Machine) LimiterOn() bool { return m.state != StateRacing }

// InPitLane reports whether the car is anywhere between entry and exit.
func (m *Machine) InPitLane() bool {
	return m.state != StateRacing && m.state != StateApproachingPit
}

// SpeedCap returns the pit limit while the limiter is on.
func (m *Machine) SpeedCap() opt.Option[float64] {
	if m.LimiterOn() {
		return opt.Some(m.layout.Pit.SpeedLimit)
	}
	return opt.None[float64]()
}

// GripMultiplier is the grip of the fitted set.
func (m *Machine) GripMultiplier() float64 { return m.tire.Grip }
