package tracker

import (
	"sync"
	"testing"
)

func TestTracker(t *testing.T) {
	tr := New()

	// Test Initial State
	stats := tr.Snapshot()
	if len(stats) != 0 {
		t.Errorf("Expected empty stats, got %d", len(stats))
	}

	tr.TrackDRSActivation(1)
	tr.TrackPitStop(1)
	tr.TrackTireChange(1)
	tr.TrackLap(1, 92000)
	tr.TrackLap(1, 90500)
	tr.TrackLap(1, 91000)

	stats = tr.Snapshot()
	s, ok := stats[1]
	if !ok {
		t.Fatal("Expected stats for vehicle 1")
	}
	if s.DRSActivations != 1 {
		t.Errorf("Expected 1 DRS activation, got %d", s.DRSActivations)
	}
	if s.PitStops != 1 {
		t.Errorf("Expected 1 pit stop, got %d", s.PitStops)
	}
	if s.TireChanges != 1 {
		t.Errorf("Expected 1 tire change, got %d", s.TireChanges)
	}
	if s.Laps != 3 {
		t.Errorf("Expected 3 laps, got %d", s.Laps)
	}
	if s.BestLapMillis != 90500 {
		t.Errorf("Expected best lap 90500, got %d", s.BestLapMillis)
	}
}

func TestConcurrentTracking(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for v := 0; v < 4; v++ {
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				tr.TrackDRSActivation(id)
			}(v)
		}
	}
	wg.Wait()

	stats := tr.Snapshot()
	for v := 0; v < 4; v++ {
		if stats[v].DRSActivations != 50 {
			t.Errorf("vehicle %d: expected 50 activations, got %d", v, stats[v].DRSActivations)
		}
	}
	if got := tr.Vehicles(); len(got) != 4 || got[0] != 0 || got[3] != 3 {
		t.Errorf("unexpected vehicle list %v", got)
	}
}

func TestReset(t *testing.T) {
	tr := New()
	tr.TrackPitStop(2)
	tr.Reset()
	if len(tr.Snapshot()) != 0 {
		t.Error("Expected empty stats after reset")
	}
}
