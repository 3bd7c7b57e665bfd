package race

import (
	"fmt"
	"time"

	opt "github.com/repeale/fp-go/option"
)

// Status is the combined race-system state of one vehicle.
type Status struct {
	Vehicle          int      `json:"vehicle"`
	Speed            float64  `json:"speed"` // m/s
	DRSState         string   `json:"drs_state"`
	DRSAvailable     bool     `json:"drs_available"`
	DRSActive        bool     `json:"drs_active"`
	WingFraction     float64  `json:"wing_fraction"`
	DRSZone          int      `json:"drs_zone,omitempty"`
	Compound         string   `json:"compound"`
	SelectedCompound string   `json:"selected_compound"`
	TireWear         float64  `json:"tire_wear"`
	TireTemperature  float64  `json:"tire_temperature"`
	Grip             float64  `json:"grip"`
	PitState         string   `json:"pit_state"`
	PitProgress      float64  `json:"pit_progress"`
	Limiter          bool     `json:"limiter"`
	SpeedCap         *float64 `json:"speed_cap"` // m/s, nil when unlimited
}

// HUD is the display snapshot pushed once per frame.
type HUD struct {
	Vehicle      int     `json:"vehicle"`
	SpeedKPH     float64 `json:"speed_kph"`
	Gear         int     `json:"gear"` // 0 is neutral
	DRSAvailable bool    `json:"drs_available"`
	DRSActive    bool    `json:"drs_active"`
	Tire         string  `json:"tire"`
	TireWear     float64 `json:"tire_wear"`
	Limiter      bool    `json:"limiter"`
	PitState     string  `json:"pit_state"`
	Lap          int     `json:"lap"`
	LapTime      string  `json:"lap_time"`
}

// gearBreakpoints are the km/h at which each gear above first starts.
var gearBreakpoints = []float64{80, 120, 160, 200, 240, 280, 320}

// GearFor maps a speed in km/h to a gear index. Below 1 km/h is neutral.
func GearFor(kph float64) int {
	if kph < 1 {
		return 0
	}
	gear := 1
	for _, bp := range gearBreakpoints {
		if kph >= bp {
			gear++
		}
	}
	return gear
}

// FormatLapTime renders a lap time as m:ss.mmm.
func FormatLapTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	return fmt.Sprintf("%d:%02d.%03d", ms/60000, (ms/1000)%60, ms%1000)
}

// Status returns the combined state of the vehicle.
func (c *Coordinator) Status() Status {
	speed, _ := c.engine.Speed(c.id)
	tire := c.pit.Tire()
	s := Status{
		Vehicle:          int(c.id),
		Speed:            speed,
		DRSState:         string(c.drs.State()),
		DRSAvailable:     c.drs.Available(),
		DRSActive:        c.drs.Active(),
		WingFraction:     c.drs.WingFraction(),
		Compound:         string(tire.Compound),
		SelectedCompound: string(c.pit.SelectedCompound()),
		TireWear:         tire.Wear,
		TireTemperature:  tire.Temperature,
		Grip:             tire.Grip,
		PitState:         string(c.pit.State()),
		PitProgress:      c.pit.Progress(),
		Limiter:          c.pit.LimiterOn(),
	}
	if z := c.drs.ActiveZone(); z != nil {
		s.DRSZone = z.ID
	}
	if limit := c.pit.SpeedCap(); opt.IsSome(limit) {
		v := limit.Value
		s.SpeedCap = &v
	}
	return s
}

// HUD returns the display snapshot for the current lap time.
func (c *Coordinator) HUD(lapTime time.Duration) HUD {
	speed, _ := c.engine.Speed(c.id)
	kph := speed * 3.6
	tire := c.pit.Tire()
	return HUD{
		Vehicle:      int(c.id),
		SpeedKPH:     kph,
		Gear:         GearFor(kph),
		DRSAvailable: c.drs.Available(),
		DRSActive:    c.drs.Active(),
		Tire:         tire.Compound.Label(),
		TireWear:     tire.Wear,
		Limiter:      c.pit.LimiterOn(),
		PitState:     string(c.pit.State()),
		LapTime:      FormatLapTime(lapTime),
	}
}
