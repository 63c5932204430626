// Package config provides configuration loading and management for obliquempr.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"obliquempr/internal/models"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores bounds the number of goroutines used by volume builds and sampling
		NumCores int `yaml:"numCores"`

		// ParallelThreshold is the element count below which a range is no longer split
		ParallelThreshold int `yaml:"parallelThreshold"`
	} `yaml:"processing"`

	// Volume store parameters
	Volume struct {
		// ScratchDir holds memory-mapped scratch files; empty means os.TempDir()
		ScratchDir string `yaml:"scratchDir"`

		// MaxInMemoryBytes is the largest dense allocation attempted before
		// falling back to a file-backed volume. 0 selects half of GOMEMLIMIT when
		// set, else 4 GiB; a negative value removes the cap.
		MaxInMemoryBytes int64 `yaml:"maxInMemoryBytes"`

		// DefaultSliceSpacing is used when slice positions carry no spacing
		DefaultSliceSpacing float64 `yaml:"defaultSliceSpacing"`
	} `yaml:"volume"`

	// MPR session parameters
	MPR struct {
		// Projection is the slab compositing mode: none, min, max or mean
		Projection string `yaml:"projection"`

		// Thickness is the initial slab half-width in voxels for every plane
		Thickness int `yaml:"thickness"`

		// FullDiagonal sizes every output raster to the volume diagonal
		FullDiagonal bool `yaml:"fullDiagonal"`
	} `yaml:"mpr"`

	// Controller parameters, in view pixels
	Controller struct {
		PickTolerance   float64 `yaml:"pickTolerance"`
		CrosshairRadius float64 `yaml:"crosshairRadius"`

		// RotateHandle and ExtendHandle place the handles along each
		// cross-line as a fraction of the view extent
		RotateHandle float64 `yaml:"rotateHandle"`
		ExtendHandle float64 `yaml:"extendHandle"`
	} `yaml:"controller"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// LogLevel is one of debug, info, warn, error
		LogLevel string `yaml:"logLevel"`

		// SliceFormat is the image format of exported slices: png or jpg
		SliceFormat string `yaml:"sliceFormat"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.ParallelThreshold = 1000

	// Set default volume parameters
	cfg.Volume.ScratchDir = ""
	cfg.Volume.MaxInMemoryBytes = 0
	cfg.Volume.DefaultSliceSpacing = 1.0

	// Set default MPR parameters
	cfg.MPR.Projection = models.ProjectionNone.String()
	cfg.MPR.Thickness = 0

	// Set default controller parameters
	cfg.Controller.PickTolerance = 7
	cfg.Controller.CrosshairRadius = 20
	cfg.Controller.RotateHandle = 0.35
	cfg.Controller.ExtendHandle = 0.2

	// Set default output parameters
	cfg.Output.Verbose = true
	cfg.Output.LogLevel = "info"
	cfg.Output.SliceFormat = "png"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate replaces out-of-range numeric values with their defaults and
// rejects unknown enumerations.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.Processing.NumCores <= 0 {
		c.Processing.NumCores = def.Processing.NumCores
	}
	if c.Processing.ParallelThreshold <= 0 {
		c.Processing.ParallelThreshold = def.Processing.ParallelThreshold
	}
	if c.Volume.DefaultSliceSpacing <= 0 {
		c.Volume.DefaultSliceSpacing = def.Volume.DefaultSliceSpacing
	}
	if c.MPR.Thickness < 0 {
		c.MPR.Thickness = 0
	}
	if c.Controller.PickTolerance <= 0 {
		c.Controller.PickTolerance = def.Controller.PickTolerance
	}
	if c.Controller.CrosshairRadius <= 0 {
		c.Controller.CrosshairRadius = def.Controller.CrosshairRadius
	}
	if c.Controller.RotateHandle <= 0 || c.Controller.RotateHandle > 0.5 {
		c.Controller.RotateHandle = def.Controller.RotateHandle
	}
	if c.Controller.ExtendHandle <= 0 || c.Controller.ExtendHandle > 0.5 {
		c.Controller.ExtendHandle = def.Controller.ExtendHandle
	}
	if _, err := models.ParseProjection(c.MPR.Projection); err != nil {
		return fmt.Errorf("invalid mpr section: %w", err)
	}
	switch strings.ToLower(c.Output.SliceFormat) {
	case "":
		c.Output.SliceFormat = def.Output.SliceFormat
	case "png", "jpg", "jpeg":
		c.Output.SliceFormat = strings.ToLower(c.Output.SliceFormat)
	default:
		return fmt.Errorf("invalid slice format: %q (must be png or jpg)", c.Output.SliceFormat)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// ProjectionType returns the configured slab projection.
func (c *Config) ProjectionType() models.Projection {
	p, err := models.ParseProjection(c.MPR.Projection)
	if err != nil {
		return models.ProjectionNone
	}
	return p
}

// Level returns the slog level for Output.LogLevel. A non-verbose
// configuration never logs below warn.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	switch strings.ToLower(c.Output.LogLevel) {
	case "debug":
		lvl = slog.LevelDebug
	case "", "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return 0, fmt.Errorf("invalid log level: %q", c.Output.LogLevel)
	}
	if !c.Output.Verbose && lvl < slog.LevelWarn {
		lvl = slog.LevelWarn
	}
	return lvl, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
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
