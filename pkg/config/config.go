// Package config provides configuration loading and management for volbrick.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"volbrick/internal/models"
)

// Sort orders accepted by Scheduler.Order.
const (
	OrderAscending  = "ascending"
	OrderDescending = "descending"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Brick decomposition parameters
	Bricks struct {
		// MaxEdge is the requested maximum brick edge in voxels
		MaxEdge int `yaml:"maxEdge"`

		// BackendMaxTexture is the largest texture edge the rendering backend accepts
		BackendMaxTexture int `yaml:"backendMaxTexture"`

		// ForcePow2 is set when the backend only accepts power-of-two textures
		ForcePow2 bool `yaml:"forcePow2"`

		// Channels is the number of interleaved channels per voxel
		Channels int `yaml:"channels"`

		// BytesPerChannel is the byte width of one channel
		BytesPerChannel int `yaml:"bytesPerChannel"`
	} `yaml:"bricks"`

	// Out-of-core streaming parameters
	OutOfCore struct {
		// Enabled switches the scheduler to quota-limited selection
		Enabled bool `yaml:"enabled"`

		// Quota is the maximum number of bricks resident per frame
		Quota int `yaml:"quota"`

		// SkipEmpty drops bricks estimated to be empty
		SkipEmpty bool `yaml:"skipEmpty"`

		// EmptyThreshold is the normalized value below which a brick counts as empty
		EmptyThreshold float64 `yaml:"emptyThreshold"`
	} `yaml:"outOfCore"`

	// Scheduler parameters
	Scheduler struct {
		// Order is "ascending" or "descending" brick distance
		Order string `yaml:"order"`
	} `yaml:"scheduler"`

	// Pyramid parameters
	Pyramid struct {
		// Levels is the number of resolution levels including the full one
		Levels int `yaml:"levels"`

		// Workers bounds the goroutines used to decimate levels
		Workers int `yaml:"workers"`

		// SpacingScale is a user override multiplied into the voxel spacing
		SpacingScale [3]float64 `yaml:"spacingScale"`
	} `yaml:"pyramid"`

	// Mask history parameters
	Mask struct {
		// MaxDepth is the undo depth, 0 disables undo
		MaxDepth int `yaml:"maxDepth"`
	} `yaml:"mask"`

	// Logging parameters
	Logging struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"maxSizeMB"`
		MaxAgeDays int    `yaml:"maxAgeDays"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Bricks.MaxEdge = 256
	cfg.Bricks.BackendMaxTexture = 2048
	cfg.Bricks.ForcePow2 = false
	cfg.Bricks.Channels = 1
	cfg.Bricks.BytesPerChannel = 1

	cfg.OutOfCore.Enabled = false
	cfg.OutOfCore.Quota = 64
	cfg.OutOfCore.SkipEmpty = true
	cfg.OutOfCore.EmptyThreshold = 0.02

	cfg.Scheduler.Order = OrderAscending

	cfg.Pyramid.Levels = 1
	cfg.Pyramid.Workers = runtime.NumCPU()
	cfg.Pyramid.SpacingScale = [3]float64{1, 1, 1}

	cfg.Mask.MaxDepth = 10

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	cfg.Logging.MaxSizeMB = 50
	cfg.Logging.MaxAgeDays = 14

	return cfg
}

// EffectiveEdge is the brick edge actually used for decomposition: the
// requested edge capped by the backend texture limit, rounded down to a
// power of two when the backend requires it.
func (c *Config) EffectiveEdge() int {
	edge := c.Bricks.MaxEdge
	if c.Bricks.BackendMaxTexture > 0 && edge > c.Bricks.BackendMaxTexture {
		edge = c.Bricks.BackendMaxTexture
	}
	if c.Bricks.ForcePow2 && edge > 1 {
		p := 1
		for p*2 <= edge {
			p *= 2
		}
		edge = p
	}
	return edge
}

// Validate checks the values that the engine cannot recover from.
func (c *Config) Validate() error {
	if c.Bricks.MaxEdge <= 1 {
		return &models.ConfigError{Param: "bricks.maxEdge", Value: c.Bricks.MaxEdge, Reason: "must be greater than 1"}
	}
	if c.Bricks.Channels <= 0 {
		return &models.ConfigError{Param: "bricks.channels", Value: c.Bricks.Channels, Reason: "must be positive"}
	}
	if c.Bricks.BytesPerChannel <= 0 {
		return &models.ConfigError{Param: "bricks.bytesPerChannel", Value: c.Bricks.BytesPerChannel, Reason: "must be positive"}
	}
	if c.OutOfCore.Quota < 0 {
		return &models.ConfigError{Param: "outOfCore.quota", Value: c.OutOfCore.Quota, Reason: "must not be negative"}
	}
	if c.Scheduler.Order != OrderAscending && c.Scheduler.Order != OrderDescending {
		return &models.ConfigError{Param: "scheduler.order", Value: c.Scheduler.Order, Reason: "must be ascending or descending"}
	}
	if c.Pyramid.Levels < 1 {
		return &models.ConfigError{Param: "pyramid.levels", Value: c.Pyramid.Levels, Reason: "must be at least 1"}
	}
	for i, s := range c.Pyramid.SpacingScale {
		if s <= 0 {
			return &models.ConfigError{Param: fmt.Sprintf("pyramid.spacingScale[%d]", i), Value: s, Reason: "must be positive"}
		}
	}
	if c.Mask.MaxDepth < 0 {
		return &models.ConfigError{Param: "mask.maxDepth", Value: c.Mask.MaxDepth, Reason: "must not be negative"}
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
