// Package track holds the immutable description of a circuit: its length, the
// DRS zones along the lap and the pit-lane geometry.
//
// Positions handed to the pit-lane queries are in the track frame: x is the
// lateral offset from the racing line and y is the distance along the lap.
package track

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"racecore/pkg/config"
)

// ErrInvalidLayout is returned when track data is inconsistent.
var ErrInvalidLayout = errors.New("invalid track layout")

// Zone is a stretch of track where DRS may be used.
type Zone struct {
	ID              int
	Name            string
	Detection       float64
	ActivationStart float64
	ActivationEnd   float64
}

// Contains reports whether the lap distance d lies inside the activation window.
func (z Zone) Contains(d float64) bool {
	return d >= z.ActivationStart && d <= z.ActivationEnd
}

// PitLane describes the pit entry window, the lane corridor and the pit box.
type PitLane struct {
	Entry          float64
	Exit           float64
	EntryTolerance float64
	Corridor       orb.Polygon
	Box            orb.Point
	BoxRadius      float64
	SpeedLimit     float64 // m/s
}

// Layout is a circuit. It is built once and never mutated.
type Layout struct {
	Name   string
	Length float64
	zones  []Zone
	Pit    PitLane
}

// New validates the data and returns a layout with zones ordered by activation start.
func New(name string, length float64, zones []Zone, pit PitLane) (*Layout, error) {
	if length <= 0 {
		return nil, fmt.Errorf("%w: length %.1f", ErrInvalidLayout, length)
	}
	sorted := make([]Zone, len(zones))
	copy(sorted, zones)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ActivationStart < sorted[j].ActivationStart
	})
	for _, z := range sorted {
		if z.ActivationStart > z.ActivationEnd {
			return nil, fmt.Errorf("%w: zone %d starts after it ends", ErrInvalidLayout, z.ID)
		}
		if z.ActivationStart < 0 || z.ActivationEnd > length {
			return nil, fmt.Errorf("%w: zone %d outside the lap", ErrInvalidLayout, z.ID)
		}
	}
	if pit.SpeedLimit < 0 || pit.BoxRadius < 0 || pit.EntryTolerance < 0 {
		return nil, fmt.Errorf("%w: negative pit parameter", ErrInvalidLayout)
	}
	return &Layout{Name: name, Length: length, zones: sorted, Pit: pit}, nil
}

// FromConfig builds a layout from the track section of the configuration.
func FromConfig(cfg *config.TrackConfig) (*Layout, error) {
	zones := make([]Zone, 0, len(cfg.DRSZones))
	for _, z := range cfg.DRSZones {
		zones = append(zones, Zone{
			ID:              z.ID,
			Name:            z.Name,
			Detection:       z.Detection.Meters(),
			ActivationStart: z.ActivationStart.Meters(),
			ActivationEnd:   z.ActivationEnd.Meters(),
		})
	}
	pl := cfg.PitLane
	pit := PitLane{
		Entry:          pl.Entry.Meters(),
		Exit:           pl.Exit.Meters(),
		EntryTolerance: pl.EntryTolerance.Meters(),
		Corridor:       Rect(pl.LaneMinX, pl.Entry.Meters(), pl.LaneMaxX, pl.Exit.Meters()),
		Box:            orb.Point{pl.BoxX, pl.BoxDistance.Meters()},
		BoxRadius:      pl.BoxRadius.Meters(),
		SpeedLimit:     pl.SpeedLimit.MPS(),
	}
	return New(cfg.Name, cfg.Length.Meters(), zones, pit)
}

// Rect returns an axis-aligned corridor polygon in the track frame.
func Rect(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}}
}

// Zones returns a copy of the ordered zone list.
func (l *Layout) Zones() []Zone {
	out := make([]Zone, len(l.zones))
	copy(out, l.zones)
	return out
}

// ZoneAt returns the first zone containing d, if any.
func (l *Layout) ZoneAt(d float64) (*Zone, bool) {
	for i := range l.zones {
		if l.zones[i].Contains(d) {
			z := l.zones[i]
			return &z, true
		}
	}
	return nil, false
}

// InAnyZone reports whether d lies in some DRS zone.
func (l *Layout) InAnyZone(d float64) bool {
	_, ok := l.ZoneAt(d)
	return ok
}

// Wrap maps any distance travelled into [0, Length).
func (l *Layout) Wrap(d float64) float64 {
	w := math.Mod(d, l.Length)
	if w < 0 {
		w += l.Length
	}
	return w
}

// Gap returns the shortest distance between two lap positions, going either way round.
func (l *Layout) Gap(a, b float64) float64 {
	g := math.Abs(l.Wrap(a) - l.Wrap(b))
	return math.Min(g, l.Length-g)
}

// InEntryWindow reports whether the lap distance is close enough to the pit entry
// to commit to a stop.
func (l *Layout) InEntryWindow(d float64) bool {
	return l.Gap(d, l.Pit.Entry) <= l.Pit.EntryTolerance
}

// InCorridor reports whether a track-frame position lies inside the pit lane.
func (p *PitLane) InCorridor(pos orb.Point) bool {
	if len(p.Corridor) == 0 {
		return false
	}
	return planar.PolygonContains(p.Corridor, pos)
}

// DistanceToBox returns the planar distance from pos to the pit box.
func (p *PitLane) DistanceToBox(pos orb.Point) float64 {
	return planar.Distance(pos, p.Box)
}

// AtBox reports whether pos is within the box radius.
func (p *PitLane) AtBox(pos orb.Point) bool {
	return p.DistanceToBox(pos) <= p.BoxRadius
}
