package dynamics

import "racecore/pkg/config"

// Gravity is the downward acceleration in m/s².
const Gravity = 9.81

// minDivisor floors every division by a speed so near-zero values stay finite.
const minDivisor = 0.1

// angularDamping is applied to the angular velocity once per Advance.
const angularDamping = 0.98

// Params holds the physical constants of a vehicle.
type Params struct {
	Mass                 float64 // kg
	TopSpeed             float64 // m/s
	EngineForce          float64 // N at full throttle
	BrakeDecel           float64 // m/s² at full brake
	DragCoefficient      float64 // N per (m/s)²
	DownforceCoefficient float64 // N per (m/s)²
	RollingResistance    float64 // fraction of normal load
	MaxYawRate           float64 // rad/s
	LateralAccel         float64 // m/s²
	RideHeight           float64 // m
}

// DefaultParams returns the parameters of the default configuration.
func DefaultParams() Params {
	return ParamsFromConfig(&config.DefaultConfig().Vehicle)
}

// ParamsFromConfig converts the vehicle config section.
func ParamsFromConfig(cfg *config.VehicleConfig) Params {
	return Params{
		Mass:                 cfg.Mass,
		TopSpeed:             cfg.TopSpeed.MPS(),
		EngineForce:          cfg.EngineForce,
		BrakeDecel:           cfg.BrakeDecel,
		DragCoefficient:      cfg.DragCoefficient,
		DownforceCoefficient: cfg.DownforceCoefficient,
		RollingResistance:    cfg.RollingResistance,
		MaxYawRate:           cfg.MaxYawRate,
		LateralAccel:         cfg.LateralAccel,
		RideHeight:           cfg.RideHeight,
	}
}
