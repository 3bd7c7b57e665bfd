// Package drs implements the drag-reduction system state machine.
package drs

import (
	"log/slog"
	"math"

	"racecore/pkg/config"
	"racecore/pkg/logging"
	"racecore/pkg/track"
)

// State is the regulation state of the drag-reduction system.
type State string

const (
	StateUnavailable State = "unavailable"
	StateAvailable   State = "available"
	StateActive      State = "active"
	StateCooldown    State = "cooldown"
)

// maxCascade bounds the transitions evaluated in one Update. The longest chain
// is cooldown -> unavailable -> available -> active.
const maxCascade = 4

// Params tunes the machine.
type Params struct {
	Cooldown      float64 // s
	OpenRate      float64 // wing fraction per second
	CloseRate     float64 // wing fraction per second
	DragReduction float64 // drag multiplier reduction at a fully open wing
	TopSpeedBonus float64 // m/s at a fully open wing
	MaxBrake      float64 // safety gate: brake must stay below
	MaxSteering   float64 // safety gate: |steering| must stay below
}

// DefaultParams returns the parameters of the default configuration.
func DefaultParams() Params {
	return ParamsFromConfig(&config.DefaultConfig().DRS)
}

// ParamsFromConfig converts the drs config section.
func ParamsFromConfig(cfg *config.DRSConfig) Params {
	return Params{
		Cooldown:      cfg.Cooldown.Seconds(),
		OpenRate:      cfg.OpenRate,
		CloseRate:     cfg.CloseRate,
		DragReduction: cfg.DragReduction,
		TopSpeedBonus: cfg.TopSpeedBonus.MPS(),
		MaxBrake:      cfg.MaxBrake,
		MaxSteering:   cfg.MaxSteering,
	}
}

// Input is what the machine needs from one frame.
type Input struct {
	Distance float64 // lap distance in metres
	Button   bool
	Brake    float64
	Steering float64
}

// Machine tracks DRS for one vehicle.
type Machine struct {
	layout *track.Layout
	params Params
	logger *slog.Logger

	state        State
	wing         float64
	zone         *track.Zone
	cooldownLeft float64
	open         bool

	// OnTransition is called after every state change.
	OnTransition func(from, to State)
}

// New creates a machine in the unavailable state.
func New(layout *track.Layout, params Params) *Machine {
	return &Machine{
		layout: layout,
		params: params,
		logger: slog.Default().With("component", "drs"),
		state:  StateUnavailable,
	}
}

// Update advances the machine by dt seconds. Transitions cascade within one
// call so a car that reaches a zone with the button held is active on that frame.
func (m *Machine) Update(in Input, dt float64) {
	if dt < 0 {
		dt = 0
	}
	if m.state == StateCooldown {
		m.cooldownLeft = math.Max(m.cooldownLeft-dt, 0)
	}

	for i := 0; i < maxCascade; i++ {
		if !m.step(&in) {
			break
		}
	}

	m.animate(dt)
}

func (m *Machine) step(in *Input) bool {
	switch m.state {
	case StateUnavailable:
		if z, ok := m.layout.ZoneAt(in.Distance); ok {
			m.zone = z
			m.transition(StateAvailable)
			return true
		}
	case StateAvailable:
		z, ok := m.layout.ZoneAt(in.Distance)
		if !ok {
			m.zone = nil
			m.transition(StateUnavailable)
			return true
		}
		m.zone = z
		if in.Button && m.gate(in) {
			m.open = true
			m.transition(StateActive)
			return true
		}
	case StateActive:
		// Regulation wins over the button: leaving the zone or failing the gate closes the wing.
		if !m.gate(in) || m.zone == nil || !m.zone.Contains(in.Distance) {
			m.open = false
			m.cooldownLeft = m.params.Cooldown
			m.transition(StateCooldown)
			return true
		}
	case StateCooldown:
		if m.cooldownLeft <= 0 {
			m.zone = nil
			m.transition(StateUnavailable)
			return true
		}
	}
	return false
}

func (m *Machine) gate(in *Input) bool {
	return in.Brake < m.params.MaxBrake && math.Abs(in.Steering) < m.params.MaxSteering
}

func (m *Machine) animate(dt float64) {
	if m.open {
		m.wing = math.Min(m.wing+m.params.OpenRate*dt, 1)
	} else {
		m.wing = math.Max(m.wing-m.params.CloseRate*dt, 0)
	}
}

func (m *Machine) transition(to State) {
	from := m.state
	m.state = to
	logging.Trace(m.logger, "DRS transition", "from", from, "to", to)
	if m.OnTransition != nil {
		m.OnTransition(from, to)
	}
}

// Reset returns to unavailable with the wing closed.
func (m *Machine) Reset() {
	m.state = StateUnavailable
	m.wing = 0
	m.zone = nil
	m.cooldownLeft = 0
	m.open = false
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// WingFraction returns how far open the wing is, in [0,1].
func (m *Machine) WingFraction() float64 { return m.wing }

// IsOpen reports whether the wing has been commanded open.
func (m *Machine) IsOpen() bool { return m.open }

// ActiveZone returns the zone the machine is tracking, or nil.
func (m *Machine) ActiveZone() *track.Zone { return m.zone }

// CooldownRemaining returns the seconds left before DRS can re-arm.
func (m *Machine) CooldownRemaining() float64 { return m.cooldownLeft }

// Available reports whether DRS may be activated now.
func (m *Machine) Available() bool { return m.state == StateAvailable }

// Active reports whether DRS is in use.
func (m *Machine) Active() bool { return m.state == StateActive }

// DragMultiplier is the factor applied to aerodynamic drag.
func (m *Machine) DragMultiplier() float64 {
	return math.Max(1-m.params.DragReduction*m.wing, 0)
}

// TopSpeedBonus is the top-speed increase in m/s.
func (m *Machine) TopSpeedBonus() float64 {
	return math.Max(m.params.TopSpeedBonus*m.wing, 0)
}
