package dynamics

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	opt "github.com/repeale/fp-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const frame = 1.0 / 60

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(DefaultParams(), nil)
	e.Register(1, NewState(mgl64.Vec3{0, DefaultParams().RideHeight, 0}))
	return e
}

func movingState(speed float64) State {
	s := NewState(mgl64.Vec3{0, DefaultParams().RideHeight, 0})
	s.Velocity = mgl64.Vec3{0, 0, speed}
	return s
}

func TestRegister_ReturnsExactState(t *testing.T) {
	e := NewEngine(DefaultParams(), nil)
	initial := State{
		Position:        mgl64.Vec3{12.5, 0.05, -3},
		Orientation:     mgl64.QuatIdent(),
		Velocity:        mgl64.Vec3{1, 0, 20},
		AngularVelocity: mgl64.Vec3{0, 0.2, 0},
	}
	e.Register(7, initial)

	got, ok := e.State(7)
	require.True(t, ok)
	assert.Equal(t, initial, got)

	mods, ok := e.Modifiers(7)
	require.True(t, ok)
	assert.Equal(t, 1.0, mods.DragMultiplier)
	assert.Equal(t, 1.0, mods.GripMultiplier)
	assert.Equal(t, 0.0, mods.TopSpeedBonus)
	assert.True(t, opt.IsNone(mods.SpeedCap))
}

func TestRegister_ZeroValueStateKeptExactly(t *testing.T) {
	e := NewEngine(DefaultParams(), nil)
	initial := State{Position: mgl64.Vec3{0, DefaultParams().RideHeight, 0}}
	e.Register(3, initial)

	got, ok := e.State(3)
	require.True(t, ok)
	assert.Equal(t, initial, got)

	// The zero orientation still drives forward along +Z.
	require.NoError(t, e.ApplyInput(3, Controls{Throttle: 1}, frame))
	got, _ = e.State(3)
	assert.Greater(t, got.Velocity.Z(), 0.0)
	assert.InDelta(t, 0, got.Velocity.X(), 1e-12)
}

func TestRegister_ReplacesAndResetsModifiers(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.SetDragMultiplier(1, 0.5))
	require.NoError(t, e.SetSpeedCap(1, 10))

	e.Register(1, movingState(30))

	mods, _ := e.Modifiers(1)
	assert.Equal(t, DefaultModifiers(), mods)
	speed, ok := e.Speed(1)
	require.True(t, ok)
	assert.InDelta(t, 30, speed, 1e-9)
	assert.Equal(t, []VehicleID{1}, e.Vehicles())
}

func TestVehicles_RegistrationOrder(t *testing.T) {
	e := NewEngine(DefaultParams(), nil)
	for _, id := range []VehicleID{5, 2, 9} {
		e.Register(id, NewState(mgl64.Vec3{}))
	}
	assert.Equal(t, []VehicleID{5, 2, 9}, e.Vehicles())
}

func TestUnknownVehicle(t *testing.T) {
	e := NewEngine(DefaultParams(), nil)

	_, ok := e.State(3)
	assert.False(t, ok)
	_, ok = e.Modifiers(3)
	assert.False(t, ok)

	assert.ErrorIs(t, e.Advance(3, frame), ErrVehicleNotFound)
	assert.ErrorIs(t, e.ApplyInput(3, Controls{Throttle: 1}, frame), ErrVehicleNotFound)
	assert.ErrorIs(t, e.SetDragMultiplier(3, 1), ErrVehicleNotFound)
	assert.ErrorIs(t, e.SetGripMultiplier(3, 1), ErrVehicleNotFound)
	assert.ErrorIs(t, e.SetTopSpeedBonus(3, 1), ErrVehicleNotFound)
	assert.ErrorIs(t, e.SetSpeedCap(3, 1), ErrVehicleNotFound)
	assert.ErrorIs(t, e.ClearSpeedCap(3), ErrVehicleNotFound)
	assert.ErrorIs(t, e.ResetModifiers(3), ErrVehicleNotFound)
}

func TestSetters_ClampNegative(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.SetDragMultiplier(1, -2))
	require.NoError(t, e.SetGripMultiplier(1, -0.1))
	require.NoError(t, e.SetTopSpeedBonus(1, -5))
	require.NoError(t, e.SetSpeedCap(1, -1))

	mods, _ := e.Modifiers(1)
	assert.Equal(t, 0.0, mods.DragMultiplier)
	assert.Equal(t, 0.0, mods.GripMultiplier)
	assert.Equal(t, 0.0, mods.TopSpeedBonus)
	require.True(t, opt.IsSome(mods.SpeedCap))
	assert.Equal(t, 0.0, mods.SpeedCap.Value)

	require.NoError(t, e.ClearSpeedCap(1))
	mods, _ = e.Modifiers(1)
	assert.True(t, opt.IsNone(mods.SpeedCap), "cleared cap means unlimited, not zero")

	require.NoError(t, e.ResetModifiers(1))
	mods, _ = e.Modifiers(1)
	assert.Equal(t, DefaultModifiers(), mods)
}

func TestAdvance_SpeedCapClamps(t *testing.T) {
	e := NewEngine(DefaultParams(), nil)
	e.Register(1, movingState(200/3.6))
	limit := 80 / 3.6
	require.NoError(t, e.ApplySpeedCap(1, opt.Some(limit)))

	require.NoError(t, e.Advance(1, frame))

	st, _ := e.State(1)
	assert.LessOrEqual(t, st.Speed(), limit+1e-9)
	assert.Greater(t, st.Velocity.Z(), 0.0, "direction preserved")
	assert.InDelta(t, 0, st.Velocity.X(), 1e-9)
}

func TestAdvance_TopSpeedWithBonus(t *testing.T) {
	p := DefaultParams()
	p.DragCoefficient = 0
	p.RollingResistance = 0
	e := NewEngine(p, nil)
	e.Register(1, movingState(p.TopSpeed+20))

	require.NoError(t, e.Advance(1, frame))
	speed, _ := e.Speed(1)
	assert.InDelta(t, p.TopSpeed, speed, 1e-9)

	e.Register(1, movingState(p.TopSpeed+20))
	require.NoError(t, e.SetTopSpeedBonus(1, 4))
	require.NoError(t, e.Advance(1, frame))
	speed, _ = e.Speed(1)
	assert.InDelta(t, p.TopSpeed+4, speed, 1e-9)
}

func TestAdvance_DragNeverReverses(t *testing.T) {
	p := DefaultParams()
	p.DragCoefficient = 1e6
	e := NewEngine(p, nil)
	e.Register(1, movingState(10))

	require.NoError(t, e.Advance(1, 1))
	st, _ := e.State(1)
	assert.Equal(t, 0.0, st.Speed())
}

func TestAdvance_DragMultiplierReducesLoss(t *testing.T) {
	run := func(mult float64) float64 {
		e := NewEngine(DefaultParams(), nil)
		e.Register(1, movingState(60))
		require.NoError(t, e.SetDragMultiplier(1, mult))
		require.NoError(t, e.Advance(1, frame))
		s, _ := e.Speed(1)
		return s
	}
	assert.Greater(t, run(0.75), run(1.0))
}

func TestAdvance_AirborneFallsWithoutFriction(t *testing.T) {
	e := NewEngine(DefaultParams(), nil)
	s := NewState(mgl64.Vec3{0, 5, 0})
	s.Velocity = mgl64.Vec3{0, 0, 10}
	e.Register(1, s)

	require.NoError(t, e.Advance(1, 0.1))
	st, _ := e.State(1)
	assert.Less(t, st.Velocity.Y(), 0.0)
	assert.Less(t, st.Position.Y(), 5.0)
}

func TestAdvance_IntegratesOrientation(t *testing.T) {
	e := newTestEngine(t)
	s, _ := e.State(1)
	s.AngularVelocity = mgl64.Vec3{0, 1, 0}
	e.Register(1, s)

	for i := 0; i < 60; i++ {
		require.NoError(t, e.Advance(1, frame))
	}
	st, _ := e.State(1)
	assert.InDelta(t, 1, st.Orientation.Len(), 1e-9, "orientation stays unit length")
	assert.Greater(t, st.Forward().X(), 0.0, "positive yaw turns toward +X")
	assert.InDelta(t, math.Pow(0.98, 60), st.AngularVelocity.Y(), 1e-9)
}

func TestApplyInput_ThrottleAccelerates(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.ApplyInput(1, Controls{Throttle: 1}, frame))

	st, _ := e.State(1)
	p := DefaultParams()
	assert.InDelta(t, p.EngineForce/p.Mass*frame, st.Velocity.Z(), 1e-9)
}

func TestApplyInput_PowerTapersNearCap(t *testing.T) {
	p := DefaultParams()
	gain := func(speed float64) float64 {
		e := NewEngine(p, nil)
		e.Register(1, movingState(speed))
		require.NoError(t, e.SetSpeedCap(1, 20))
		require.NoError(t, e.ApplyInput(1, Controls{Throttle: 1}, frame))
		s, _ := e.Speed(1)
		return s - speed
	}
	below := gain(10)
	near := gain(19)
	assert.Less(t, near, below*0.2)
}

func TestApplyInput_UncappedFollowsPowerCurve(t *testing.T) {
	p := DefaultParams()
	speed := 0.95 * p.TopSpeed

	e := NewEngine(p, nil)
	e.Register(1, movingState(speed))
	require.NoError(t, e.ApplyInput(1, Controls{Throttle: 1}, frame))

	got, _ := e.Speed(1)
	want := p.EngineForce * (1 - 0.3*speed/p.TopSpeed) / p.Mass * frame
	assert.InDelta(t, want, got-speed, 1e-9)
}

func TestApplyInput_BrakeNeverReverses(t *testing.T) {
	e := NewEngine(DefaultParams(), nil)
	e.Register(1, movingState(0.2))
	require.NoError(t, e.ApplyInput(1, Controls{Brake: 1}, frame))
	st, _ := e.State(1)
	assert.Equal(t, 0.0, st.Speed())
}

func TestApplyInput_SteeringScalesWithGrip(t *testing.T) {
	yaw := func(grip float64) float64 {
		e := NewEngine(DefaultParams(), nil)
		e.Register(1, movingState(30))
		require.NoError(t, e.SetGripMultiplier(1, grip))
		require.NoError(t, e.ApplyInput(1, Controls{Steering: 1}, frame))
		st, _ := e.State(1)
		return st.AngularVelocity.Y()
	}
	assert.Greater(t, yaw(1), 0.0)
	assert.InDelta(t, yaw(1)*0.5, yaw(0.5), 1e-9)
	assert.Equal(t, 0.0, yaw(0))
}

func TestApplyInput_Handbrake(t *testing.T) {
	e := NewEngine(DefaultParams(), nil)
	s := movingState(20)
	s.AngularVelocity = mgl64.Vec3{0, 0.4, 0}
	e.Register(1, s)

	require.NoError(t, e.ApplyInput(1, Controls{Handbrake: true, Steering: 0.5}, frame))
	st, _ := e.State(1)
	assert.Less(t, st.Speed(), 20.0)
	assert.Greater(t, st.AngularVelocity.Y(), 0.0)
}

func TestApplyInput_StationaryStaysFinite(t *testing.T) {
	p := DefaultParams()
	p.TopSpeed = 0
	e := NewEngine(p, nil)
	e.Register(1, NewState(mgl64.Vec3{}))

	require.NoError(t, e.ApplyInput(1, Controls{Throttle: 1, Steering: -1}, frame))
	require.NoError(t, e.Advance(1, frame))
	st, _ := e.State(1)
	for _, v := range []float64{st.Velocity.X(), st.Velocity.Y(), st.Velocity.Z(), st.AngularVelocity.Y()} {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	}
}
