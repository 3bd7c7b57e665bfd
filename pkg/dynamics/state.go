package dynamics

import (
	"github.com/go-gl/mathgl/mgl64"
	opt "github.com/repeale/fp-go/option"
)

// VehicleID identifies a registered vehicle.
type VehicleID int

// State is the kinematic state of one vehicle. The frame is Y-up; a vehicle's
// local forward is +Z, right is +X and up is +Y.
type State struct {
	Position        mgl64.Vec3
	Orientation     mgl64.Quat
	Velocity        mgl64.Vec3
	AngularVelocity mgl64.Vec3
}

// NewState returns a vehicle at rest at pos facing +Z.
func NewState(pos mgl64.Vec3) State {
	return State{Position: pos, Orientation: mgl64.QuatIdent()}
}

// Speed is the magnitude of the velocity.
func (s *State) Speed() float64 {
	return s.Velocity.Len()
}

// Rotation returns the normalized orientation. A zero quaternion, as in a
// State{} literal, reads as identity.
func (s *State) Rotation() mgl64.Quat {
	if s.Orientation.Len() == 0 {
		return mgl64.QuatIdent()
	}
	return s.Orientation.Normalize()
}

// Forward returns the unit forward vector.
func (s *State) Forward() mgl64.Vec3 {
	return s.Rotation().Rotate(mgl64.Vec3{0, 0, 1})
}

// Right returns the unit right vector.
func (s *State) Right() mgl64.Vec3 {
	return s.Rotation().Rotate(mgl64.Vec3{1, 0, 0})
}

// Up returns the unit up vector.
func (s *State) Up() mgl64.Vec3 {
	return s.Rotation().Rotate(mgl64.Vec3{0, 1, 0})
}

// SpeedCap is an optional hard speed limit in m/s. None means unlimited.
type SpeedCap = opt.Option[float64]

// Modifiers are the external adjustments the race systems push into the engine.
type Modifiers struct {
	DragMultiplier float64
	GripMultiplier float64
	TopSpeedBonus  float64 // m/s added to the baseline top speed
	SpeedCap       SpeedCap
}

// DefaultModifiers leaves the baseline model untouched.
func DefaultModifiers() Modifiers {
	return Modifiers{
		DragMultiplier: 1,
		GripMultiplier: 1,
		SpeedCap:       opt.None[float64](),
	}
}

// Controls is one frame of driver input, already normalized by the caller.
type Controls struct {
	Throttle  float64
	Brake     float64
	Steering  float64
	Handbrake bool
}
