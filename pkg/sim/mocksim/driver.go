// Package mocksim provides a scripted driver that plays configured input steps
// at a fixed frame interval.
package mocksim

import (
	"context"
	"sync"
	"time"

	"racecore/pkg/config"
	"racecore/pkg/sim"
)

// Step is one scripted input held for a duration.
type Step struct {
	Name      string
	Duration  time.Duration
	Throttle  float64
	Brake     float64
	Steering  float64
	Handbrake bool
	DRS       bool
	Pit       bool
	Cycle     bool
}

// Config holds the script and timing for the driver.
type Config struct {
	Steps         []Step
	Loop          bool
	FrameInterval time.Duration
	Cars          int
}

// ConfigFromScenario builds a driver config from the scenario section.
func ConfigFromScenario(sc *config.ScenarioConfig, frame time.Duration, cars int) Config {
	steps := make([]Step, 0, len(sc.Steps))
	for _, s := range sc.Steps {
		steps = append(steps, Step{
			Name:      s.Name,
			Duration:  time.Duration(s.Duration),
			Throttle:  s.Throttle,
			Brake:     s.Brake,
			Steering:  s.Steering,
			Handbrake: s.Handbrake,
			DRS:       s.DRS,
			Pit:       s.Pit,
			Cycle:     s.Cycle,
		})
	}
	return Config{Steps: steps, Loop: sc.Loop, FrameInterval: frame, Cars: cars}
}

// Driver implements sim.InputSource. Time advances by FrameInterval per frame,
// never by the wall clock, so runs are reproducible.
type Driver struct {
	mu          sync.Mutex
	config      Config
	stepIdx     int
	stepElapsed time.Duration
	pit         sim.EdgeDetector
	cycle       sim.EdgeDetector
	closed      bool
}

// NewDriver creates a scripted driver.
func NewDriver(cfg Config) *Driver {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = time.Second / 60
	}
	if cfg.Cars < 1 {
		cfg.Cars = 1
	}
	return &Driver{config: cfg}
}

// NextFrame returns the input for the current step and advances the script.
func (d *Driver) NextFrame(ctx context.Context) (sim.Frame, error) {
	if err := ctx.Err(); err != nil {
		return sim.Frame{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return sim.Frame{}, sim.ErrClosed
	}
	step, ok := d.current()
	if !ok {
		return sim.Frame{}, sim.ErrExhausted
	}

	in := sim.Input{
		Throttle:    step.Throttle,
		Brake:       step.Brake,
		Steering:    step.Steering,
		Handbrake:   step.Handbrake,
		DRSButton:   step.DRS,
		PitButton:   d.pit.Update(step.Pit),
		CycleButton: d.cycle.Update(step.Cycle),
	}
	inputs := make([]sim.Input, d.config.Cars)
	for i := range inputs {
		inputs[i] = in
	}

	d.advance()
	return sim.Frame{Dt: d.config.FrameInterval.Seconds(), Inputs: inputs}, nil
}

// current returns the active step, wrapping when looping.
func (d *Driver) current() (Step, bool) {
	if len(d.config.Steps) == 0 {
		return Step{}, false
	}
	if d.stepIdx >= len(d.config.Steps) {
		if !d.config.Loop {
			return Step{}, false
		}
		d.stepIdx = 0
	}
	return d.config.Steps[d.stepIdx], true
}

func (d *Driver) advance() {
	d.stepElapsed += d.config.FrameInterval
	if d.stepElapsed >= d.config.Steps[d.stepIdx].Duration {
		d.stepIdx++
		d.stepElapsed = 0
		// A new step presses its buttons afresh.
		d.pit.Reset()
		d.cycle.Reset()
	}
}

// StepName returns the name of the step that will play next.
func (d *Driver) StepName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.current(); ok {
		return s.Name
	}
	return ""
}

// Close stops the driver.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
