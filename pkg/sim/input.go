// Package sim defines the contract between the race core and whatever feeds it
// driver input: a scripted driver, a replay or a live controller.
package sim

import (
	"context"
	"errors"
	"math"
)

var (
	// ErrExhausted is returned when a finite source has no more frames.
	ErrExhausted = errors.New("input source exhausted")
	// ErrClosed is returned when a source is used after Close.
	ErrClosed = errors.New("input source closed")
)

// Input is one frame of driver input. Buttons are edges: true on the frame
// the button was pressed. A held DRS button may stay true.
type Input struct {
	Throttle    float64 `json:"throttle"`
	Brake       float64 `json:"brake"`
	Steering    float64 `json:"steering"`
	Handbrake   bool    `json:"handbrake"`
	DRSButton   bool    `json:"drs"`
	PitButton   bool    `json:"pit"`
	CycleButton bool    `json:"cycle"`
}

// Normalize clamps the analog axes to their ranges. NaN reads as zero.
func (in Input) Normalize() Input {
	in.Throttle = clampAxis(in.Throttle, 0, 1)
	in.Brake = clampAxis(in.Brake, 0, 1)
	in.Steering = clampAxis(in.Steering, -1, 1)
	return in
}

func clampAxis(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(v, hi))
}

// CommandKind names a race control command issued outside driver input.
type CommandKind string

const (
	CommandPitRequest CommandKind = "pit_request"
	CommandPitAbort   CommandKind = "pit_abort"
)

// Command is a race control call (the pit wall, the HTTP API) addressed to one
// vehicle. Commands travel with the frame they were applied before, so a
// replay reissues them at the same point.
type Command struct {
	Vehicle int         `json:"vehicle"`
	Kind    CommandKind `json:"kind"`
}

// Frame is one tick of input for the whole grid. Inputs are indexed by grid
// slot; a missing entry means no input for that car.
type Frame struct {
	Dt       float64   `json:"dt"`
	Inputs   []Input   `json:"inputs"`
	Commands []Command `json:"commands,omitempty"`
}

// Input returns the input for a grid slot.
func (f *Frame) Input(slot int) Input {
	if slot < 0 || slot >= len(f.Inputs) {
		return Input{}
	}
	return f.Inputs[slot]
}

// InputSource supplies frames to the scheduler.
type InputSource interface {
	// NextFrame returns the next frame, ErrExhausted at the end of a finite source.
	NextFrame(ctx context.Context) (Frame, error)
	// Close releases resources associated with the source.
	Close() error
}
