package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "racecore.yaml")

	tests := []struct {
		name          string
		setup         func()
		validate      func(*testing.T, *Config)
		checkFile     func(*testing.T)
		expectedError bool
	}{
		{
			name:  "NewFile_Defaults",
			setup: func() {}, // No file
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Tires.StartCompound != "medium" {
					t.Errorf("expected default compound 'medium', got '%s'", cfg.Tires.StartCompound)
				}
				if len(cfg.Track.DRSZones) != 2 {
					t.Errorf("expected 2 default DRS zones, got %d", len(cfg.Track.DRSZones))
				}
				if time.Duration(cfg.DRS.Cooldown) != 500*time.Millisecond {
					t.Errorf("expected DRS cooldown 500ms, got %v", time.Duration(cfg.DRS.Cooldown))
				}
			},
			checkFile: func(t *testing.T) {
				content, err := os.ReadFile(configPath)
				if err != nil {
					t.Fatalf("failed to read config file: %v", err)
				}
				if !strings.Contains(string(content), "start_compound: medium") {
					t.Error("config file missing default values")
				}
				if !strings.Contains(string(content), "# Options: soft, medium, hard") {
					t.Error("config file missing compound options comment")
				}
				if !strings.Contains(string(content), "speed_limit: 80.0km/h") {
					t.Error("config file missing pit speed limit in km/h")
				}
			},
		},
		{
			name: "ExistingFile_Override",
			setup: func() {
				err := os.WriteFile(configPath, []byte("tires:\n  start_compound: soft\ntrack:\n  pit_lane:\n    speed_limit: 60km/h\n"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Tires.StartCompound != "soft" {
					t.Errorf("expected compound 'soft', got '%s'", cfg.Tires.StartCompound)
				}
				if got := cfg.Track.PitLane.SpeedLimit.MPS() * 3.6; got < 59.99 || got > 60.01 {
					t.Errorf("expected pit limit 60km/h, got %.2f", got)
				}
				// Untouched sections keep their defaults.
				if cfg.Vehicle.Mass != 798 {
					t.Errorf("expected default mass 798, got %v", cfg.Vehicle.Mass)
				}
			},
			checkFile: func(t *testing.T) {
				content, err := os.ReadFile(configPath)
				if err != nil {
					t.Fatalf("failed to read config file: %v", err)
				}
				if strings.Contains(string(content), "vehicle:") {
					t.Error("existing config file should not be rewritten")
				}
			},
		},
		{
			name: "Invalid_Zone",
			setup: func() {
				err := os.WriteFile(configPath, []byte("track:\n  drs_zones:\n    - id: 1\n      activation_start: 900\n      activation_end: 400\n"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			expectedError: true,
		},
		{
			name: "Invalid_YAML",
			setup: func() {
				err := os.WriteFile(configPath, []byte("track: [unclosed"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_ = os.Remove(configPath)
			tt.setup()

			cfg, err := Load(configPath)
			if tt.expectedError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
			if tt.checkFile != nil {
				tt.checkFile(t)
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "racecore.yaml")

	if err := GenerateDefault(path); err != nil {
		t.Fatalf("GenerateDefault failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	def := DefaultConfig()
	if cfg.Track.Length != def.Track.Length {
		t.Errorf("track length = %v, want %v", cfg.Track.Length, def.Track.Length)
	}
	if cfg.Track.DRSZones[1].ActivationEnd != def.Track.DRSZones[1].ActivationEnd {
		t.Errorf("zone end = %v, want %v", cfg.Track.DRSZones[1].ActivationEnd, def.Track.DRSZones[1].ActivationEnd)
	}
	if d := cfg.Vehicle.TopSpeed.MPS() - def.Vehicle.TopSpeed.MPS(); d > 0.05 || d < -0.05 {
		t.Errorf("top speed drifted by %v", d)
	}
	if len(cfg.Scenario.Steps) != len(def.Scenario.Steps) {
		t.Errorf("scenario steps = %d, want %d", len(cfg.Scenario.Steps), len(def.Scenario.Steps))
	}

	// A second call must not overwrite the file.
	if err := os.WriteFile(path, []byte("grid:\n  cars: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := GenerateDefault(path); err != nil {
		t.Fatalf("GenerateDefault failed: %v", err)
	}
	content, _ := os.ReadFile(path)
	if string(content) != "grid:\n  cars: 3\n" {
		t.Error("GenerateDefault overwrote an existing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"Defaults", func(*Config) {}, ""},
		{"ZeroLength", func(c *Config) { c.Track.Length = 0 }, "track length"},
		{"ZoneOutsideLap", func(c *Config) { c.Track.DRSZones[0].ActivationEnd = 9000 }, "outside the lap"},
		{"NegativeLimit", func(c *Config) { c.Track.PitLane.SpeedLimit = -1 }, "speed limit"},
		{"UnknownCompound", func(c *Config) { c.Tires.StartCompound = "wet" }, "unknown start compound"},
		{"CompoundMixedCase", func(c *Config) { c.Tires.StartCompound = "Soft" }, ""},
		{"CompoundUpperCasePadded", func(c *Config) { c.Tires.StartCompound = " HARD " }, ""},
		{"EmptyGrid", func(c *Config) { c.Grid.Cars = 0 }, "at least one car"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
