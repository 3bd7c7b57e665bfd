package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can carry values like "500ms" or "2.5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Seconds returns the duration as float seconds, the unit the simulation runs in.
func (d Duration) Seconds() float64 {
	return time.Duration(d).Seconds()
}

// ParseDuration parses a duration string. A bare number is read as seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration format: %s", s)
	}
	return dur, nil
}

// Distance represents a distance in meters.
type Distance float64

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Distance) UnmarshalYAML(value *yaml.Node) error {
	f, err := decodeUnit(value, ParseDistance)
	if err != nil {
		return err
	}
	*d = Distance(f)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Distance) MarshalYAML() (interface{}, error) {
	return fmt.Sprintf("%.2fm", float64(d)), nil
}

// Meters returns the raw value.
func (d Distance) Meters() float64 { return float64(d) }

// ParseDistance parses "250m", "5.2km", "1nm" or "800ft" into meters.
// A unitless value is read as meters.
func ParseDistance(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	var mult float64
	var numStr string

	switch {
	case strings.HasSuffix(s, "km"):
		mult = 1000
		numStr = strings.TrimSuffix(s, "km")
	case strings.HasSuffix(s, "nm"):
		mult = 1852
		numStr = strings.TrimSuffix(s, "nm")
	case strings.HasSuffix(s, "ft"):
		mult = 0.3048
		numStr = strings.TrimSuffix(s, "ft")
	case strings.HasSuffix(s, "m"):
		mult = 1
		numStr = strings.TrimSuffix(s, "m")
	default:
		mult = 1
		numStr = s
	}

	val, err := strconv.ParseFloat(strings.TrimSpace(numStr), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid distance number: %w", err)
	}

	return val * mult, nil
}

// Speed represents a speed in meters per second.
type Speed float64

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Speed) UnmarshalYAML(value *yaml.Node) error {
	f, err := decodeUnit(value, ParseSpeed)
	if err != nil {
		return err
	}
	*s = Speed(f)
	return nil
}

// MarshalYAML implements yaml.Marshaler. Speeds are written in km/h since that
// is how pit limits are published.
func (s Speed) MarshalYAML() (interface{}, error) {
	return fmt.Sprintf("%.1fkm/h", float64(s)*3.6), nil
}

// MPS returns the raw value in meters per second.
func (s Speed) MPS() float64 { return float64(s) }

// ParseSpeed parses "80km/h", "22.2m/s", "50mph" or "30kn" into meters per second.
// A unitless value is read as meters per second.
func ParseSpeed(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	var mult float64
	var numStr string

	switch {
	case strings.HasSuffix(s, "km/h"):
		mult = 1 / 3.6
		numStr = strings.TrimSuffix(s, "km/h")
	case strings.HasSuffix(s, "kmh"):
		mult = 1 / 3.6
		numStr = strings.TrimSuffix(s, "kmh")
	case strings.HasSuffix(s, "m/s"):
		mult = 1
		numStr = strings.TrimSuffix(s, "m/s")
	case strings.HasSuffix(s, "mph"):
		mult = 0.44704
		numStr = strings.TrimSuffix(s, "mph")
	case strings.HasSuffix(s, "kn"):
		mult = 0.514444
		numStr = strings.TrimSuffix(s, "kn")
	default:
		mult = 1
		numStr = s
	}

	val, err := strconv.ParseFloat(strings.TrimSpace(numStr), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid speed number: %w", err)
	}

	return val * mult, nil
}

// decodeUnit accepts either a plain YAML number or a string with a unit suffix.
func decodeUnit(value *yaml.Node, parse func(string) (float64, error)) (float64, error) {
	var f float64
	if err := value.Decode(&f); err == nil {
		return f, nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return 0, err
	}
	return parse(s)
}
