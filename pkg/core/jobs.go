package core

import (
	"context"
	"math"
	"sync/atomic"
)

// Job defines a task evaluated after every frame.
type Job interface {
	Name() string
	ShouldFire(s *Snapshot) bool
	Run(ctx context.Context, s *Snapshot)
}

// BaseJob provides atomic running state to prevent re-entry.
type BaseJob struct {
	name    string
	running int32 // 1 if running, 0 otherwise
}

func NewBaseJob(name string) BaseJob {
	return BaseJob{name: name}
}

func (b *BaseJob) Name() string {
	return b.name
}

// TryLock attempts to set running to 1. Returns true if successful.
func (b *BaseJob) TryLock() bool {
	return atomic.CompareAndSwapInt32(&b.running, 0, 1)
}

func (b *BaseJob) Unlock() {
	atomic.StoreInt32(&b.running, 0)
}

// LapJob fires whenever the total lap count grows.
type LapJob struct {
	BaseJob
	lastLaps atomic.Int64
	action   func(context.Context, *Snapshot)
}

func NewLapJob(name string, action func(context.Context, *Snapshot)) *LapJob {
	return &LapJob{
		BaseJob: NewBaseJob(name),
		action:  action,
	}
}

func (j *LapJob) ShouldFire(s *Snapshot) bool {
	if atomic.LoadInt32(&j.running) == 1 {
		return false
	}
	return int64(s.Laps) > j.lastLaps.Load()
}

func (j *LapJob) Run(ctx context.Context, s *Snapshot) {
	if !j.TryLock() {
		return
	}
	defer j.Unlock()

	j.lastLaps.Store(int64(s.Laps))
	j.action(ctx, s)
}

// TimeJob fires when simulated time elapsed exceeds threshold. Simulated time
// keeps headless runs and replays firing on the same frames as live runs.
// ShouldFire runs on the loop goroutine and Run on its own, so the last fire
// time is kept in atomics.
type TimeJob struct {
	BaseJob
	lastTime  atomic.Uint64 // float64 bits of the SimTime of the last run
	fired     atomic.Bool
	threshold float64 // seconds
	action    func(context.Context, *Snapshot)
}

func NewTimeJob(name string, thresholdSeconds float64, action func(context.Context, *Snapshot)) *TimeJob {
	return &TimeJob{
		BaseJob:   NewBaseJob(name),
		threshold: thresholdSeconds,
		action:    action,
	}
}

func (j *TimeJob) ShouldFire(s *Snapshot) bool {
	if atomic.LoadInt32(&j.running) == 1 {
		return false
	}

	if !j.fired.Load() {
		return true
	}

	return s.SimTime-math.Float64frombits(j.lastTime.Load()) >= j.threshold
}

func (j *TimeJob) Run(ctx context.Context, s *Snapshot) {
	if !j.TryLock() {
		return
	}
	defer j.Unlock()

	j.lastTime.Store(math.Float64bits(s.SimTime))
	j.fired.Store(true)

	j.action(ctx, s)
}
