// Package dynamics integrates the motion of the vehicles on track.
package dynamics

import (
	"errors"
	"log/slog"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	opt "github.com/repeale/fp-go/option"
)

// ErrVehicleNotFound is returned for operations on an unregistered vehicle.
var ErrVehicleNotFound = errors.New("vehicle not registered")

type slot struct {
	id    VehicleID
	state State
	mods  Modifiers
}

// Engine owns the kinematic state and modifiers of every registered vehicle.
// Vehicles live in a flat slice; the index map gives O(1) lookup and the slice
// gives a stable iteration order. Not safe for concurrent use.
type Engine struct {
	params Params
	logger *slog.Logger
	slots  []slot
	index  map[VehicleID]int
}

// NewEngine creates an engine. A nil logger uses slog.Default().
func NewEngine(params Params, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		params: params,
		logger: logger.With("component", "dynamics"),
		index:  make(map[VehicleID]int),
	}
}

// Params returns the vehicle parameters.
func (e *Engine) Params() Params {
	return e.params
}

// Register creates or replaces the vehicle with the given initial state and
// default modifiers. The state is stored as supplied; a zero orientation reads
// as identity until the first Advance writes a rotation.
func (e *Engine) Register(id VehicleID, initial State) {
	if i, ok := e.index[id]; ok {
		e.slots[i].state = initial
		e.slots[i].mods = DefaultModifiers()
		e.logger.Debug("Vehicle re-registered", "id", id)
		return
	}
	e.index[id] = len(e.slots)
	e.slots = append(e.slots, slot{id: id, state: initial, mods: DefaultModifiers()})
	e.logger.Debug("Vehicle registered", "id", id)
}

// Vehicles returns the registered ids in registration order.
func (e *Engine) Vehicles() []VehicleID {
	ids := make([]VehicleID, len(e.slots))
	for i := range e.slots {
		ids[i] = e.slots[i].id
	}
	return ids
}

// State returns a copy of the vehicle's kinematic state.
func (e *Engine) State(id VehicleID) (State, bool) {
	s := e.lookup(id)
	if s == nil {
		return State{}, false
	}
	return s.state, true
}

// Modifiers returns a copy of the vehicle's modifiers.
func (e *Engine) Modifiers(id VehicleID) (Modifiers, bool) {
	s := e.lookup(id)
	if s == nil {
		return Modifiers{}, false
	}
	return s.mods, true
}

// Speed returns the vehicle speed in m/s.
func (e *Engine) Speed(id VehicleID) (float64, bool) {
	s := e.lookup(id)
	if s == nil {
		return 0, false
	}
	return s.state.Speed(), true
}

func (e *Engine) lookup(id VehicleID) *slot {
	i, ok := e.index[id]
	if !ok {
		return nil
	}
	return &e.slots[i]
}

// SetDragMultiplier scales aerodynamic drag. Negative values clamp to 0.
func (e *Engine) SetDragMultiplier(id VehicleID, m float64) error {
	return e.modify(id, func(mods *Modifiers) { mods.DragMultiplier = math.Max(m, 0) })
}

// SetGripMultiplier scales tire grip. Negative values clamp to 0.
func (e *Engine) SetGripMultiplier(id VehicleID, m float64) error {
	return e.modify(id, func(mods *Modifiers) { mods.GripMultiplier = math.Max(m, 0) })
}

// SetTopSpeedBonus raises the baseline top speed. Negative values clamp to 0.
func (e *Engine) SetTopSpeedBonus(id VehicleID, bonus float64) error {
	return e.modify(id, func(mods *Modifiers) { mods.TopSpeedBonus = math.Max(bonus, 0) })
}

// SetSpeedCap sets a hard speed limit in m/s. Negative values clamp to 0.
func (e *Engine) SetSpeedCap(id VehicleID, limit float64) error {
	return e.modify(id, func(mods *Modifiers) { mods.SpeedCap = opt.Some(math.Max(limit, 0)) })
}

// ClearSpeedCap removes the hard speed limit.
func (e *Engine) ClearSpeedCap(id VehicleID) error {
	return e.modify(id, func(mods *Modifiers) { mods.SpeedCap = opt.None[float64]() })
}

// ApplySpeedCap sets or clears the limit depending on whether c holds a value.
func (e *Engine) ApplySpeedCap(id VehicleID, c SpeedCap) error {
	if opt.IsSome(c) {
		return e.SetSpeedCap(id, c.Value)
	}
	return e.ClearSpeedCap(id)
}

// ResetModifiers restores the default modifiers.
func (e *Engine) ResetModifiers(id VehicleID) error {
	return e.modify(id, func(mods *Modifiers) { *mods = DefaultModifiers() })
}

func (e *Engine) modify(id VehicleID, fn func(*Modifiers)) error {
	s := e.lookup(id)
	if s == nil {
		return ErrVehicleNotFound
	}
	fn(&s.mods)
	return nil
}

// effectiveCap is the speed the vehicle may not exceed this frame.
func (e *Engine) effectiveCap(mods *Modifiers) float64 {
	if opt.IsSome(mods.SpeedCap) {
		return mods.SpeedCap.Value
	}
	return e.params.TopSpeed + mods.TopSpeedBonus
}

// ApplyInput converts driver controls into velocity and yaw changes.
func (e *Engine) ApplyInput(id VehicleID, c Controls, dt float64) error {
	s := e.lookup(id)
	if s == nil {
		return ErrVehicleNotFound
	}
	if dt <= 0 {
		return nil
	}
	st := &s.state
	p := &e.params

	speed := st.Speed()
	top := math.Max(p.TopSpeed, minDivisor)
	ratio := math.Min(speed/top, 1)
	grip := s.mods.GripMultiplier

	if c.Throttle > 0 {
		power := math.Max(1-0.3*speed/top, 0)
		// Near an active cap the engine cuts to 10% so the limiter holds.
		if opt.IsSome(s.mods.SpeedCap) && speed >= 0.9*s.mods.SpeedCap.Value {
			power *= 0.1
		}
		accel := c.Throttle * p.EngineForce * power / math.Max(p.Mass, minDivisor)
		st.Velocity = st.Velocity.Add(st.Forward().Mul(accel * dt))
	}

	if c.Brake > 0 {
		st.Velocity = decelerate(st.Velocity, c.Brake*p.BrakeDecel*dt)
	}

	// Steering sets the yaw rate about local up; other rotation components are kept.
	up := st.Up()
	yawRate := c.Steering * p.MaxYawRate * (1 - 0.5*ratio) * grip
	st.AngularVelocity = st.AngularVelocity.Sub(up.Mul(st.AngularVelocity.Dot(up))).Add(up.Mul(yawRate))
	if c.Steering != 0 {
		lateral := c.Steering * p.LateralAccel * grip * ratio
		st.Velocity = st.Velocity.Add(st.Right().Mul(lateral * dt))
	}

	if c.Handbrake {
		st.Velocity = st.Velocity.Mul(0.95)
		st.AngularVelocity = st.AngularVelocity.Mul(1.5)
	}
	return nil
}

// Advance integrates one step of dt seconds.
func (e *Engine) Advance(id VehicleID, dt float64) error {
	s := e.lookup(id)
	if s == nil {
		return ErrVehicleNotFound
	}
	if dt <= 0 {
		return nil
	}
	st := &s.state
	p := &e.params
	mass := math.Max(p.Mass, minDivisor)

	speed := st.Speed()
	normalLoad := p.Mass*Gravity + p.DownforceCoefficient*speed*speed

	drag := p.DragCoefficient * s.mods.DragMultiplier * speed * speed / mass
	st.Velocity = decelerate(st.Velocity, drag*dt)

	if st.Position.Y() <= p.RideHeight {
		friction := p.RollingResistance * s.mods.GripMultiplier * normalLoad / mass
		st.Velocity = decelerate(st.Velocity, friction*dt)
		if st.Velocity.Y() < 0 {
			st.Velocity[1] = 0
		}
		st.Position[1] = p.RideHeight
	} else {
		st.Velocity[1] -= Gravity * dt
	}

	st.Position = st.Position.Add(st.Velocity.Mul(dt))

	if w := st.AngularVelocity.Len(); w > 0 {
		dq := mgl64.QuatRotate(w*dt, st.AngularVelocity.Mul(1/w))
		st.Orientation = dq.Mul(st.Rotation()).Normalize()
	}
	st.AngularVelocity = st.AngularVelocity.Mul(angularDamping)

	limit := e.effectiveCap(&s.mods)
	if v := st.Velocity.Len(); v > limit {
		if v > 0 {
			st.Velocity = st.Velocity.Mul(limit / v)
		}
	}
	return nil
}

// decelerate reduces |v| by amount without reversing its direction.
func decelerate(v mgl64.Vec3, amount float64) mgl64.Vec3 {
	speed := v.Len()
	if amount <= 0 || speed == 0 {
		return v
	}
	if amount >= speed {
		return mgl64.Vec3{}
	}
	return v.Mul((speed - amount) / speed)
}
