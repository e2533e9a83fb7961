// Package config loads the JSON configuration of a speed gate.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/speedgate/internal/units"
)

// DefaultConfigPath is the path to the canonical gate defaults file.
const DefaultConfigPath = "config/gate.defaults.json"

// GateConfig is the configuration of one gate and its pipeline. Omitted
// fields fall back to the defaults returned by the Get* accessors, so
// partial configs are safe.
type GateConfig struct {
	GateID *string `json:"gate_id,omitempty"`

	// Measurement
	DistanceMM        *uint32 `json:"distance_mm,omitempty"`
	InactivityTimeout *string `json:"inactivity_timeout,omitempty"` // duration string like "2000ms"
	EdgeBuffer        *int    `json:"edge_buffer,omitempty"`

	// Classification
	LightLimitKMH  *uint32 `json:"light_limit_kmh,omitempty"`
	HeavyLimitKMH  *uint32 `json:"heavy_limit_kmh,omitempty"`
	WarningPercent *uint32 `json:"warning_percent,omitempty"`
	PollInterval   *string `json:"poll_interval,omitempty"`

	// Queues
	TransitQueueCapacity *int `json:"transit_queue_capacity,omitempty"`
	DisplayQueueCapacity *int `json:"display_queue_capacity,omitempty"`
	TriggerCapacity      *int `json:"trigger_capacity,omitempty"`
	ResultCapacity       *int `json:"result_capacity,omitempty"`

	Units *string `json:"units,omitempty"`
}

// LoadGateConfig loads a GateConfig from a JSON file. The file must have a
// .json extension and be at most 1 MiB.
func LoadGateConfig(path string) (*GateConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &GateConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or one of its parents. Panics if the file cannot be loaded, intended for
// test setup.
func MustLoadDefaultConfig() *GateConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadGateConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set.
func (c *GateConfig) Validate() error {
	if c.GateID != nil && *c.GateID == "" {
		return fmt.Errorf("gate_id must not be empty")
	}
	if c.DistanceMM != nil && *c.DistanceMM == 0 {
		return fmt.Errorf("distance_mm must be positive")
	}
	if c.LightLimitKMH != nil && *c.LightLimitKMH == 0 {
		return fmt.Errorf("light_limit_kmh must be positive")
	}
	if c.HeavyLimitKMH != nil && *c.HeavyLimitKMH == 0 {
		return fmt.Errorf("heavy_limit_kmh must be positive")
	}
	if c.WarningPercent != nil && (*c.WarningPercent == 0 || *c.WarningPercent > 100) {
		return fmt.Errorf("warning_percent must be between 1 and 100, got %d", *c.WarningPercent)
	}

	for name, v := range map[string]*string{
		"inactivity_timeout": c.InactivityTimeout,
		"poll_interval":      c.PollInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}

	for name, v := range map[string]*int{
		"edge_buffer":            c.EdgeBuffer,
		"transit_queue_capacity": c.TransitQueueCapacity,
		"display_queue_capacity": c.DisplayQueueCapacity,
		"trigger_capacity":       c.TriggerCapacity,
		"result_capacity":        c.ResultCapacity,
	} {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, *v)
		}
	}

	if c.Units != nil && !units.IsValid(*c.Units) {
		return fmt.Errorf("invalid units %q; must be one of: %s", *c.Units, units.GetValidUnitsString())
	}
	return nil
}

// GetGateID returns the gate_id value or the default.
func (c *GateConfig) GetGateID() string {
	if c.GateID == nil {
		return "gate-1"
	}
	return *c.GateID
}

// GetDistanceMM returns the distance between the two sensor lines.
func (c *GateConfig) GetDistanceMM() uint32 {
	if c.DistanceMM == nil {
		return 3000
	}
	return *c.DistanceMM
}

func (c *GateConfig) GetLightLimitKMH() uint32 {
	if c.LightLimitKMH == nil {
		return 60
	}
	return *c.LightLimitKMH
}

func (c *GateConfig) GetHeavyLimitKMH() uint32 {
	if c.HeavyLimitKMH == nil {
		return 40
	}
	return *c.HeavyLimitKMH
}

func (c *GateConfig) GetWarningPercent() uint32 {
	if c.WarningPercent == nil {
		return 80
	}
	return *c.WarningPercent
}

// GetInactivityTimeout parses inactivity_timeout, falling back to 2s.
func (c *GateConfig) GetInactivityTimeout() time.Duration {
	return parseDurationOr(c.InactivityTimeout, 2000*time.Millisecond)
}

// GetPollInterval parses poll_interval, falling back to 10ms.
func (c *GateConfig) GetPollInterval() time.Duration {
	return parseDurationOr(c.PollInterval, 10*time.Millisecond)
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func (c *GateConfig) GetEdgeBuffer() int           { return intOr(c.EdgeBuffer, 32) }
func (c *GateConfig) GetTransitQueueCapacity() int { return intOr(c.TransitQueueCapacity, 10) }
func (c *GateConfig) GetDisplayQueueCapacity() int { return intOr(c.DisplayQueueCapacity, 10) }
func (c *GateConfig) GetTriggerCapacity() int      { return intOr(c.TriggerCapacity, 16) }
func (c *GateConfig) GetResultCapacity() int       { return intOr(c.ResultCapacity, 16) }

// GetUnits returns the display units for API output.
func (c *GateConfig) GetUnits() string {
	if c.Units == nil || *c.Units == "" {
		return units.KMPH
	}
	return *c.Units
}
