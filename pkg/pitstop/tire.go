package pitstop

import (
	"fmt"
	"math"
	"strings"

	"racecore/pkg/config"
)

// Compound is a tire compound.
type Compound string

const (
	CompoundSoft   Compound = "soft"
	CompoundMedium Compound = "medium"
	CompoundHard   Compound = "hard"
)

// Grip is always kept inside these bounds.
const (
	MinGrip = 0.3
	MaxGrip = 1.2
)

// CompoundSpec holds the fixed characteristics of a compound.
type CompoundSpec struct {
	GripFactor  float64
	WearRate    float64 // multiplier on the base wear rate
	OptimalTemp float64 // °C
}

var compoundSpecs = map[Compound]CompoundSpec{
	CompoundSoft:   {GripFactor: 1.15, WearRate: 1.5, OptimalTemp: 90},
	CompoundMedium: {GripFactor: 1.0, WearRate: 1.0, OptimalTemp: 100},
	CompoundHard:   {GripFactor: 0.9, WearRate: 0.6, OptimalTemp: 110},
}

// ParseCompound accepts a compound name in any case.
func ParseCompound(s string) (Compound, error) {
	c := Compound(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := compoundSpecs[c]; !ok {
		return "", fmt.Errorf("unknown compound %q", s)
	}
	return c, nil
}

// Spec returns the compound characteristics. Unknown compounds read as medium.
func (c Compound) Spec() CompoundSpec {
	if s, ok := compoundSpecs[c]; ok {
		return s
	}
	return compoundSpecs[CompoundMedium]
}

// Next cycles soft -> medium -> hard -> soft.
func (c Compound) Next() Compound {
	switch c {
	case CompoundSoft:
		return CompoundMedium
	case CompoundMedium:
		return CompoundHard
	default:
		return CompoundSoft
	}
}

// Label is the single-letter HUD label.
func (c Compound) Label() string {
	switch c {
	case CompoundSoft:
		return "S"
	case CompoundHard:
		return "H"
	default:
		return "M"
	}
}

// TireParams tunes wear and temperature.
type TireParams struct {
	ReferenceSpeed       float64 // m/s at which the base rates apply
	BaseWearRate         float64 // percent per second
	TrackTemperature     float64 // °C
	HeatRange            float64 // °C above track temperature at reference speed
	HeatTimeConstant     float64 // s
	FreshTemperature     float64 // °C of a newly fitted set
	TemperatureTolerance float64 // ±°C around the optimum without penalty
}

// TireParamsFromConfig converts the tires config section.
func TireParamsFromConfig(cfg *config.TireConfig) TireParams {
	return TireParams{
		ReferenceSpeed:       cfg.ReferenceSpeed.MPS(),
		BaseWearRate:         cfg.BaseWearRate,
		TrackTemperature:     cfg.TrackTemperature,
		HeatRange:            cfg.HeatRange,
		HeatTimeConstant:     cfg.HeatTimeConstant.Seconds(),
		FreshTemperature:     cfg.FreshTemperature,
		TemperatureTolerance: cfg.TemperatureTolerance,
	}
}

// Tire is the state of the fitted set.
type Tire struct {
	Compound    Compound
	Wear        float64 // percent, [0,100]
	Temperature float64 // °C
	Grip        float64
}

// NewTire returns a fresh set of the given compound.
func NewTire(c Compound, p *TireParams) Tire {
	t := Tire{Compound: c}
	t.Fit(c, p)
	return t
}

// Fit replaces the set with a fresh one.
func (t *Tire) Fit(c Compound, p *TireParams) {
	t.Compound = c
	t.Wear = 0
	t.Temperature = p.FreshTemperature
	t.Grip = computeGrip(c, t.Wear, t.Temperature, p.TemperatureTolerance)
}

// Update wears and heats the tire for dt seconds at the given speed.
func (t *Tire) Update(speed, dt float64, p *TireParams) {
	if dt > 0 {
		ratio := math.Abs(speed) / math.Max(p.ReferenceSpeed, 0.1)
		spec := t.Compound.Spec()

		t.Wear = clamp(t.Wear+ratio*p.BaseWearRate*spec.WearRate*dt, 0, 100)

		target := p.TrackTemperature + ratio*p.HeatRange
		alpha := 1.0
		if p.HeatTimeConstant > 0 {
			alpha = 1 - math.Exp(-dt/p.HeatTimeConstant)
		}
		t.Temperature += (target - t.Temperature) * alpha
	}
	t.Grip = computeGrip(t.Compound, t.Wear, t.Temperature, p.TemperatureTolerance)
}

func computeGrip(c Compound, wear, temp, tolerance float64) float64 {
	spec := c.Spec()
	g := spec.GripFactor * (1 - wearPenalty(wear)) * (1 - temperaturePenalty(temp, spec.OptimalTemp, tolerance))
	return clamp(g, MinGrip, MaxGrip)
}

// wearPenalty is flat to 50%, rises gently to 70% and falls off a cliff after.
func wearPenalty(wear float64) float64 {
	switch {
	case wear < 50:
		return 0
	case wear < 70:
		return (wear - 50) / 20 * 0.1
	default:
		return 0.1 + (math.Min(wear, 100)-70)/30*0.5
	}
}

// temperaturePenalty grows 1% per degree outside the tolerance band, capped at 50%.
func temperaturePenalty(temp, optimal, tolerance float64) float64 {
	excess := math.Abs(temp-optimal) - tolerance
	if excess <= 0 {
		return 0
	}
	return math.Min(excess*0.01, 0.5)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
