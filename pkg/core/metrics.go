package core

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "racecore/pkg/core"

type schedulerMetrics struct {
	frames  metric.Int64Counter
	laps    metric.Int64Counter
	frameDt metric.Float64Histogram
	pitLane metric.Int64ObservableGauge
}

// newSchedulerMetrics registers the scheduler instruments on the global
// provider, which is a no-op unless the host installs one.
func newSchedulerMetrics(inPitLane func() int64) (*schedulerMetrics, error) {
	m := otel.Meter(instrumentationName)
	sm := &schedulerMetrics{}

	var err error
	sm.frames, err = m.Int64Counter(
		"scheduler.frames",
		metric.WithDescription("Frames simulated"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating frames counter: %w", err)
	}

	sm.laps, err = m.Int64Counter(
		"scheduler.laps",
		metric.WithDescription("Laps completed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating laps counter: %w", err)
	}

	sm.frameDt, err = m.Float64Histogram(
		"scheduler.frame.dt",
		metric.WithDescription("Step size handed to the core after clamping"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating frame dt histogram: %w", err)
	}

	sm.pitLane, err = m.Int64ObservableGauge(
		"scheduler.pit_lane.cars",
		metric.WithDescription("Cars currently in the pit lane"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating pit lane gauge: %w", err)
	}
	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(sm.pitLane, inPitLane())
			return nil
		},
		sm.pitLane,
	)
	if err != nil {
		return nil, fmt.Errorf("registering pit lane callback: %w", err)
	}

	return sm, nil
}

func (sm *schedulerMetrics) recordFrame(ctx context.Context, dt float64) {
	sm.frames.Add(ctx, 1)
	sm.frameDt.Record(ctx, dt)
}

func (sm *schedulerMetrics) recordLap(ctx context.Context, vehicle int) {
	sm.laps.Add(ctx, 1, metric.WithAttributes(attribute.Int("vehicle", vehicle)))
}
