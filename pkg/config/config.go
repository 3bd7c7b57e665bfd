package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Ticker   TickerConfig   `yaml:"ticker"`
	Track    TrackConfig    `yaml:"track"`
	Vehicle  VehicleConfig  `yaml:"vehicle"`
	DRS      DRSConfig      `yaml:"drs"`
	Pit      PitConfig      `yaml:"pit"`
	Tires    TireConfig     `yaml:"tires"`
	Replay   ReplayConfig   `yaml:"replay"`
	Scenario ScenarioConfig `yaml:"scenario"`
	Grid     GridConfig     `yaml:"grid"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server LogSettings `yaml:"server"`
	Events LogSettings `yaml:"events"`
	Trace  bool        `yaml:"trace"` // per-frame debug output
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// TickerConfig holds frame loop settings.
type TickerConfig struct {
	FrameInterval Duration `yaml:"frame_interval"`
	MaxStep       Duration `yaml:"max_step"` // dt is clamped to this before reaching the core
}

// TrackConfig describes one circuit. It is data only; swapping it swaps the circuit.
type TrackConfig struct {
	Name     string       `yaml:"name"`
	Length   Distance     `yaml:"length"`
	DRSZones []ZoneConfig `yaml:"drs_zones"`
	PitLane  PitLane      `yaml:"pit_lane"`
}

// ZoneConfig describes a DRS zone by its track-distance markers.
type ZoneConfig struct {
	ID              int      `yaml:"id"`
	Name            string   `yaml:"name"`
	Detection       Distance `yaml:"detection"`
	ActivationStart Distance `yaml:"activation_start"`
	ActivationEnd   Distance `yaml:"activation_end"`
}

// PitLane holds the pit-lane geometry. Lateral offsets and the box position are
// in the track frame: x is the lateral offset, z the distance along the lap.
type PitLane struct {
	Entry          Distance `yaml:"entry"`
	Exit           Distance `yaml:"exit"`
	EntryTolerance Distance `yaml:"entry_tolerance"`
	LaneMinX       float64  `yaml:"lane_min_x"`
	LaneMaxX       float64  `yaml:"lane_max_x"`
	BoxX           float64  `yaml:"box_x"`
	BoxDistance    Distance `yaml:"box_distance"`
	BoxRadius      Distance `yaml:"box_radius"`
	SpeedLimit     Speed    `yaml:"speed_limit"`
}

// VehicleConfig holds the dynamics parameters shared by every car on the grid.
type VehicleConfig struct {
	Mass                 float64 `yaml:"mass"` // kg
	TopSpeed             Speed   `yaml:"top_speed"`
	EngineForce          float64 `yaml:"engine_force"`          // N at full throttle
	BrakeDecel           float64 `yaml:"brake_decel"`           // m/s² at full brake
	DragCoefficient      float64 `yaml:"drag_coefficient"`      // N per (m/s)²
	DownforceCoefficient float64 `yaml:"downforce_coefficient"` // N per (m/s)²
	RollingResistance    float64 `yaml:"rolling_resistance"`    // fraction of normal load
	MaxYawRate           float64 `yaml:"max_yaw_rate"`          // rad/s
	LateralAccel         float64 `yaml:"lateral_accel"`         // m/s²
	RideHeight           float64 `yaml:"ride_height"`           // m
}

// DRSConfig holds drag-reduction tuning.
type DRSConfig struct {
	Cooldown      Duration `yaml:"cooldown"`
	OpenRate      float64  `yaml:"open_rate"`  // wing fraction per second
	CloseRate     float64  `yaml:"close_rate"` // wing fraction per second
	DragReduction float64  `yaml:"drag_reduction"`
	TopSpeedBonus Speed    `yaml:"top_speed_bonus"`
	MaxBrake      float64  `yaml:"max_brake"`
	MaxSteering   float64  `yaml:"max_steering"`
}

// PitConfig holds pit-stop timing.
type PitConfig struct {
	BaseStopTime Duration `yaml:"base_stop_time"`
	ChangeTime   Duration `yaml:"change_time"`   // per tire set
	ReleaseDelay Duration `yaml:"release_delay"` // releasing -> pit_lane_exit
	SpeedMargin  Speed    `yaml:"speed_margin"`  // pit_lane_entry -> pit_lane tolerance
	StopSpeed    Speed    `yaml:"stop_speed"`    // stopping -> stopped threshold
}

// TireConfig holds tire model tuning.
type TireConfig struct {
	StartCompound        string   `yaml:"start_compound"`
	ReferenceSpeed       Speed    `yaml:"reference_speed"`
	BaseWearRate         float64  `yaml:"base_wear_rate"` // percent per second at reference speed
	TrackTemperature     float64  `yaml:"track_temperature"`
	HeatRange            float64  `yaml:"heat_range"`
	HeatTimeConstant     Duration `yaml:"heat_time_constant"`
	FreshTemperature     float64  `yaml:"fresh_temperature"`
	TemperatureTolerance float64  `yaml:"temperature_tolerance"`
}

// ReplayConfig holds input recording settings.
type ReplayConfig struct {
	Record    bool     `yaml:"record"`
	Path      string   `yaml:"path"`
	Retention Duration `yaml:"retention"` // sessions older than this are pruned at startup, 0 keeps all
}

// ScenarioConfig drives the scripted input source.
type ScenarioConfig struct {
	Loop  bool         `yaml:"loop"`
	Steps []StepConfig `yaml:"steps"`
}

// StepConfig holds one scripted input held for a duration.
type StepConfig struct {
	Name      string   `yaml:"name"`
	Duration  Duration `yaml:"duration"`
	Throttle  float64  `yaml:"throttle"`
	Brake     float64  `yaml:"brake"`
	Steering  float64  `yaml:"steering"`
	Handbrake bool     `yaml:"handbrake"`
	DRS       bool     `yaml:"drs"`
	Pit       bool     `yaml:"pit"`
	Cycle     bool     `yaml:"cycle"`
}

// GridConfig holds the number of simulated cars and their spacing.
type GridConfig struct {
	Cars    int      `yaml:"cars"`
	Spacing Distance `yaml:"spacing"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Events: LogSettings{
				Path:  "./logs/events.log",
				Level: "INFO",
			},
		},
		Server: ServerConfig{
			Enabled: true,
			Address: "localhost:1930",
		},
		Ticker: TickerConfig{
			FrameInterval: Duration(time.Second / 60),
			MaxStep:       Duration(time.Second / 30),
		},
		Track: TrackConfig{
			Name:   "Default Circuit",
			Length: Distance(5200),
			DRSZones: []ZoneConfig{
				{ID: 1, Name: "Main Straight", Detection: 1250, ActivationStart: 1400, ActivationEnd: 2100},
				{ID: 2, Name: "Back Straight", Detection: 3300, ActivationStart: 3450, ActivationEnd: 3950},
			},
			PitLane: PitLane{
				Entry:          Distance(4600),
				Exit:           Distance(5100),
				EntryTolerance: Distance(60),
				LaneMinX:       -20,
				LaneMaxX:       20,
				BoxX:           0,
				BoxDistance:    Distance(4850),
				BoxRadius:      Distance(6),
				SpeedLimit:     Speed(80 / 3.6),
			},
		},
		Vehicle: VehicleConfig{
			Mass:                 798,
			TopSpeed:             Speed(92),
			EngineForce:          12000,
			BrakeDecel:           45,
			DragCoefficient:      0.95,
			DownforceCoefficient: 3.2,
			RollingResistance:    0.015,
			MaxYawRate:           1.6,
			LateralAccel:         12,
			RideHeight:           0.05,
		},
		DRS: DRSConfig{
			Cooldown:      Duration(500 * time.Millisecond),
			OpenRate:      5.0,
			CloseRate:     2.5,
			DragReduction: 0.25,
			TopSpeedBonus: Speed(4),
			MaxBrake:      0.1,
			MaxSteering:   0.3,
		},
		Pit: PitConfig{
			BaseStopTime: Duration(2 * time.Second),
			ChangeTime:   Duration(500 * time.Millisecond),
			ReleaseDelay: Duration(500 * time.Millisecond),
			SpeedMargin:  Speed(1),
			StopSpeed:    Speed(0.5),
		},
		Tires: TireConfig{
			StartCompound:        "medium",
			ReferenceSpeed:       Speed(70),
			BaseWearRate:         0.05,
			TrackTemperature:     35,
			HeatRange:            75,
			HeatTimeConstant:     Duration(20 * time.Second),
			FreshTemperature:     80,
			TemperatureTolerance: 15,
		},
		Replay: ReplayConfig{
			Record:    false,
			Path:      "./data/replay.db",
			Retention: Duration(30 * 24 * time.Hour),
		},
		Scenario: ScenarioConfig{
			Loop: true,
			Steps: []StepConfig{
				{Name: "launch", Duration: Duration(20 * time.Second), Throttle: 1},
				{Name: "drs", Duration: Duration(8 * time.Second), Throttle: 1, DRS: true},
				{Name: "corner", Duration: Duration(3 * time.Second), Brake: 0.6, Steering: 0.4},
				{Name: "exit", Duration: Duration(10 * time.Second), Throttle: 0.8},
			},
		},
		Grid: GridConfig{
			Cars:    1,
			Spacing: Distance(8),
		},
	}
}

// compoundNames matches the tire compounds. Names are case-insensitive, as
// the pit machine reads them.
var compoundNames = regexp.MustCompile(`(?i)^\s*(soft|medium|hard)\s*$`)

// Validate checks the invariants the simulation relies on.
func (c *Config) Validate() error {
	var errs []error

	length := c.Track.Length.Meters()
	if length <= 0 {
		errs = append(errs, fmt.Errorf("track length must be positive, got %.1f", length))
	}
	for _, z := range c.Track.DRSZones {
		if z.ActivationStart > z.ActivationEnd {
			errs = append(errs, fmt.Errorf("drs zone %d: activation_start %.1f after activation_end %.1f", z.ID, z.ActivationStart.Meters(), z.ActivationEnd.Meters()))
		}
		if z.ActivationStart < 0 || z.ActivationEnd.Meters() > length {
			errs = append(errs, fmt.Errorf("drs zone %d lies outside the lap", z.ID))
		}
	}
	pl := c.Track.PitLane
	if pl.SpeedLimit < 0 {
		errs = append(errs, fmt.Errorf("pit speed limit must not be negative"))
	}
	if pl.Entry > pl.Exit {
		errs = append(errs, fmt.Errorf("pit entry %.1f after pit exit %.1f", pl.Entry.Meters(), pl.Exit.Meters()))
	}
	if pl.LaneMinX >= pl.LaneMaxX {
		errs = append(errs, fmt.Errorf("pit lane lateral bounds are empty"))
	}
	if c.Vehicle.Mass <= 0 {
		errs = append(errs, fmt.Errorf("vehicle mass must be positive"))
	}
	if c.Vehicle.TopSpeed <= 0 {
		errs = append(errs, fmt.Errorf("vehicle top speed must be positive"))
	}
	if !compoundNames.MatchString(c.Tires.StartCompound) {
		errs = append(errs, fmt.Errorf("unknown start compound %q", c.Tires.StartCompound))
	}
	if c.Grid.Cars < 1 {
		errs = append(errs, fmt.Errorf("grid needs at least one car"))
	}

	return errors.Join(errs...)
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, its values are merged over the defaults; the file is not rewritten.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if lvl := os.Getenv("RACECORE_LOG_LEVEL"); lvl != "" {
			cfg.Log.Server.Level = lvl
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}

	if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# racecore configuration
# ---------------------
# Supported Units:
#   Duration: ns, us, ms, s, m, h (bare numbers are seconds)
#   Distance: m, km, nm, ft (bare numbers are meters)
#   Speed:    m/s, km/h, mph, kn (bare numbers are m/s)

`)
	data = append(header, data...)

	reCompound := regexp.MustCompile(`(?m)^(\s+)start_compound:`)
	data = reCompound.ReplaceAll(data, []byte("${1}# Options: soft, medium, hard\n${1}start_compound:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
