package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volbrick/internal/models"
)

// TestDefaultConfigIsValid verifies that the defaults pass validation
func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 256, cfg.EffectiveEdge())
}

func TestEffectiveEdge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bricks.MaxEdge = 4096
	cfg.Bricks.BackendMaxTexture = 1024
	assert.Equal(t, 1024, cfg.EffectiveEdge(), "backend limit caps the edge")

	cfg.Bricks.MaxEdge = 300
	cfg.Bricks.ForcePow2 = true
	assert.Equal(t, 256, cfg.EffectiveEdge(), "forcePow2 rounds down")

	cfg.Bricks.ForcePow2 = false
	assert.Equal(t, 300, cfg.EffectiveEdge())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"edge":    func(c *Config) { c.Bricks.MaxEdge = 1 },
		"order":   func(c *Config) { c.Scheduler.Order = "sideways" },
		"quota":   func(c *Config) { c.OutOfCore.Quota = -1 },
		"levels":  func(c *Config) { c.Pyramid.Levels = 0 },
		"scale":   func(c *Config) { c.Pyramid.SpacingScale[1] = 0 },
		"depth":   func(c *Config) { c.Mask.MaxDepth = -2 },
		"channel": func(c *Config) { c.Bricks.Channels = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrConfiguration))
		})
	}
}

// TestLoadSaveRoundTrip writes a modified config and reads it back
func TestLoadSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "volbrick.yaml")

	cfg := DefaultConfig()
	cfg.Bricks.MaxEdge = 128
	cfg.OutOfCore.Enabled = true
	cfg.OutOfCore.Quota = 12
	cfg.Mask.MaxDepth = 3
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 128, loaded.Bricks.MaxEdge)
	assert.True(t, loaded.OutOfCore.Enabled)
	assert.Equal(t, 12, loaded.OutOfCore.Quota)
	assert.Equal(t, 3, loaded.Mask.MaxDepth)
}

func TestLoadConfigMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Bricks.MaxEdge, cfg.Bricks.MaxEdge)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bricks:\n  maxEdge: 1\n"), 0644))
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrConfiguration))

	require.NoError(t, os.WriteFile(path, []byte("bricks: [unclosed"), 0644))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}
