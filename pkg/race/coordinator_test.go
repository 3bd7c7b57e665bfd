package race

import (
	"math/rand"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/paulmach/orb"
	opt "github.com/repeale/fp-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"racecore/pkg/drs"
	"racecore/pkg/dynamics"
	"racecore/pkg/logging"
	"racecore/pkg/pitstop"
	"racecore/pkg/sim"
	"racecore/pkg/track"
)

const frame = 1.0 / 60

type countingRecorder struct {
	drs, pits, tires int
}

func (r *countingRecorder) TrackDRSActivation(int) { r.drs++ }
func (r *countingRecorder) TrackPitStop(int)       { r.pits++ }
func (r *countingRecorder) TrackTireChange(int)    { r.tires++ }

type fixture struct {
	engine *dynamics.Engine
	coord  *Coordinator
	events *countingRecorder
}

func newFixture(t *testing.T, speed float64) *fixture {
	t.Helper()
	layout, err := track.New("Test", 5000, []track.Zone{
		{ID: 1, Name: "Main", Detection: 1250, ActivationStart: 1400, ActivationEnd: 2100},
	}, track.PitLane{
		Entry:          4500,
		Exit:           4900,
		EntryTolerance: 50,
		Corridor:       track.Rect(-20, 4500, 20, 4900),
		Box:            orb.Point{0, 4700},
		BoxRadius:      5,
		SpeedLimit:     80 / 3.6,
	})
	require.NoError(t, err)

	engine := dynamics.NewEngine(dynamics.DefaultParams(), nil)
	st := dynamics.NewState(mgl64.Vec3{0, dynamics.DefaultParams().RideHeight, 0})
	st.Velocity = mgl64.Vec3{0, 0, speed}
	engine.Register(1, st)

	events := &countingRecorder{}
	coord := NewCoordinator(engine, 1,
		drs.New(layout, drs.DefaultParams()),
		pitstop.New(layout, pitstop.DefaultParams()),
		WithEvents(events))
	return &fixture{engine: engine, coord: coord, events: events}
}

func (f *fixture) tick(t *testing.T, d float64, in sim.Input, dt float64) {
	t.Helper()
	require.NoError(t, f.coord.Tick(TickInput{Dt: dt, Distance: d, Position: orb.Point{0, d}, Input: in}))
}

func TestTick_DRSActivatesAndReachesEngine(t *testing.T) {
	f := newFixture(t, 70)

	f.tick(t, 1300, sim.Input{Throttle: 1, DRSButton: true}, frame)
	assert.Equal(t, string(drs.StateUnavailable), f.coord.Status().DRSState)

	f.tick(t, 1500, sim.Input{Throttle: 1, DRSButton: true}, frame)
	st := f.coord.Status()
	assert.Equal(t, string(drs.StateActive), st.DRSState)
	assert.True(t, st.DRSActive)
	assert.Equal(t, 1, st.DRSZone)
	assert.Equal(t, 1, f.events.drs)

	mods, ok := f.engine.Modifiers(1)
	require.True(t, ok)
	assert.Less(t, mods.DragMultiplier, 1.0)
	assert.Greater(t, mods.TopSpeedBonus, 0.0)
}

func TestTick_PitLimiterCapsSpeed(t *testing.T) {
	f := newFixture(t, 200/3.6)
	require.True(t, f.coord.RequestPitEntry())

	f.tick(t, 3000, sim.Input{Throttle: 1}, frame)

	speed, _ := f.engine.Speed(1)
	assert.LessOrEqual(t, speed, 80/3.6+1e-9)
	st := f.coord.Status()
	assert.True(t, st.Limiter)
	require.NotNil(t, st.SpeedCap)
	assert.InDelta(t, 80/3.6, *st.SpeedCap, 1e-9)

	require.True(t, f.coord.AbortPitEntry())
	f.tick(t, 3001, sim.Input{}, frame)
	mods, _ := f.engine.Modifiers(1)
	assert.True(t, opt.IsNone(mods.SpeedCap))
	assert.Nil(t, f.coord.Status().SpeedCap)
}

func TestTick_GripFollowsTires(t *testing.T) {
	f := newFixture(t, 50)
	f.tick(t, 100, sim.Input{Throttle: 0.5}, frame)

	mods, _ := f.engine.Modifiers(1)
	assert.Equal(t, f.coord.Status().Grip, mods.GripMultiplier)
}

func TestTick_FullPitStop(t *testing.T) {
	f := newFixture(t, 0)
	require.True(t, f.coord.RequestPitEntry())

	f.tick(t, 4510, sim.Input{}, frame)
	f.tick(t, 4520, sim.Input{}, frame)
	f.tick(t, 4700, sim.Input{}, frame)
	f.tick(t, 4700, sim.Input{}, frame)
	require.Equal(t, string(pitstop.StateStopped), f.coord.Status().PitState)

	f.tick(t, 4700, sim.Input{CycleButton: true}, frame)
	assert.Equal(t, "hard", f.coord.Status().SelectedCompound)

	f.tick(t, 4700, sim.Input{PitButton: true}, frame)
	require.Equal(t, string(pitstop.StateTireChange), f.coord.Status().PitState)

	f.tick(t, 4700, sim.Input{}, 1.0)
	assert.InDelta(t, 0.4, f.coord.Status().PitProgress, 1e-9)

	f.tick(t, 4700, sim.Input{}, 2.0)
	st := f.coord.Status()
	require.Equal(t, string(pitstop.StateReleasing), st.PitState)
	assert.Equal(t, "hard", st.Compound)
	assert.Equal(t, 0.0, st.TireWear)
	assert.Equal(t, 1, f.events.tires)

	f.tick(t, 4700, sim.Input{}, 1.0)
	f.tick(t, 4950, sim.Input{}, frame)
	assert.Equal(t, string(pitstop.StateRacing), f.coord.Status().PitState)
	assert.False(t, f.coord.Status().Limiter)
	assert.Equal(t, 1, f.events.pits)
}

type capturedLog struct {
	events []logging.Event
}

func (l *capturedLog) AddEvent(e *logging.Event) { l.events = append(l.events, *e) }

func TestTick_EventsReachEventLog(t *testing.T) {
	f := newFixture(t, 70)
	log := &capturedLog{}
	WithEventLog(log)(f.coord)

	f.tick(t, 1500, sim.Input{Throttle: 1, DRSButton: true}, frame)

	require.Len(t, log.events, 1)
	assert.Equal(t, logging.EventDRS, log.events[0].Type)
	assert.Equal(t, 1, log.events[0].Vehicle)
	assert.Equal(t, "Main", log.events[0].Detail)
}

func TestReset(t *testing.T) {
	f := newFixture(t, 70)
	f.tick(t, 1500, sim.Input{DRSButton: true}, frame)
	require.True(t, f.coord.RequestPitEntry())
	f.tick(t, 1510, sim.Input{DRSButton: true}, frame)

	require.NoError(t, f.coord.Reset())

	st := f.coord.Status()
	assert.Equal(t, string(drs.StateUnavailable), st.DRSState)
	assert.Equal(t, 0.0, st.WingFraction)
	assert.Equal(t, string(pitstop.StateRacing), st.PitState)
	assert.False(t, st.Limiter)
	mods, _ := f.engine.Modifiers(1)
	assert.Equal(t, dynamics.DefaultModifiers(), mods)
}

func TestTick_UnknownVehicle(t *testing.T) {
	f := newFixture(t, 0)
	other := NewCoordinator(f.engine, 99, drs.New(mustLayout(t), drs.DefaultParams()), pitstop.New(mustLayout(t), pitstop.DefaultParams()))

	err := other.Tick(TickInput{Dt: frame})
	assert.ErrorIs(t, err, dynamics.ErrVehicleNotFound)
	assert.ErrorIs(t, other.Reset(), dynamics.ErrVehicleNotFound)
}

func TestTick_InvariantsHoldUnderRandomInput(t *testing.T) {
	f := newFixture(t, 40)
	rng := rand.New(rand.NewSource(7))

	d := 0.0
	for i := 0; i < 5000; i++ {
		in := sim.Input{
			Throttle:    rng.Float64()*3 - 1,
			Brake:       rng.Float64()*3 - 1,
			Steering:    rng.Float64()*4 - 2,
			Handbrake:   rng.Intn(20) == 0,
			DRSButton:   rng.Intn(2) == 0,
			PitButton:   rng.Intn(50) == 0,
			CycleButton: rng.Intn(50) == 0,
		}
		d = float64(int(d+rng.Float64()*40) % 5000)
		pos := orb.Point{rng.Float64()*60 - 30, d}
		require.NoError(t, f.coord.Tick(TickInput{Dt: rng.Float64() * 0.05, Distance: d, Position: pos, Input: in}))

		st := f.coord.Status()
		mods, _ := f.engine.Modifiers(1)
		require.GreaterOrEqual(t, mods.DragMultiplier, 0.0)
		require.GreaterOrEqual(t, mods.GripMultiplier, 0.0)
		require.GreaterOrEqual(t, st.Grip, pitstop.MinGrip)
		require.LessOrEqual(t, st.Grip, pitstop.MaxGrip)
		require.GreaterOrEqual(t, st.WingFraction, 0.0)
		require.LessOrEqual(t, st.WingFraction, 1.0)
		require.GreaterOrEqual(t, st.TireWear, 0.0)
		require.LessOrEqual(t, st.TireWear, 100.0)
		require.GreaterOrEqual(t, st.PitProgress, 0.0)
		require.LessOrEqual(t, st.PitProgress, 1.0)
		if opt.IsSome(mods.SpeedCap) {
			require.Greater(t, mods.SpeedCap.Value, 0.0, "an engaged cap is the pit limit, never zero")
		}
	}
}

func TestHUD(t *testing.T) {
	f := newFixture(t, 50)
	hud := f.coord.HUD(92410 * time.Millisecond)

	assert.Equal(t, 1, hud.Vehicle)
	assert.InDelta(t, 180, hud.SpeedKPH, 1e-9)
	assert.Equal(t, 4, hud.Gear)
	assert.Equal(t, "M", hud.Tire)
	assert.Equal(t, "1:32.410", hud.LapTime)
	assert.False(t, hud.Limiter)
}

func TestGearFor(t *testing.T) {
	tests := []struct {
		kph  float64
		want int
	}{
		{0, 0},
		{0.5, 0},
		{30, 1},
		{80, 2},
		{119.9, 2},
		{200, 5},
		{330, 8},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GearFor(tt.kph), "kph=%v", tt.kph)
	}
}

func TestFormatLapTime(t *testing.T) {
	assert.Equal(t, "0:00.000", FormatLapTime(0))
	assert.Equal(t, "0:00.000", FormatLapTime(-time.Second))
	assert.Equal(t, "0:59.999", FormatLapTime(59999*time.Millisecond))
	assert.Equal(t, "2:05.007", FormatLapTime(125007*time.Millisecond))
}

func mustLayout(t *testing.T) *track.Layout {
	t.Helper()
	l, err := track.New("Empty", 1000, nil, track.PitLane{})
	require.NoError(t, err)
	return l
}
