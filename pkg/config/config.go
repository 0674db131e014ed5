// Package config provides configuration loading and management for wavefront.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"wavefront/pkg/demodulation"
	"wavefront/pkg/units"
	"wavefront/pkg/unwrap"
	"wavefront/pkg/zernike"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("config: invalid value")

// Projection methods for the Zernike decomposition.
const (
	ProjectionSingle       = "single"
	ProjectionLeastSquares = "leastsquares"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many acquisition sets are processed concurrently
		NumCores int `yaml:"numCores"`

		// Period is the phase period of one fringe in radians
		Period float64 `yaml:"period"`

		// MaxOrder is the highest Zernike index computed
		MaxOrder int `yaml:"maxOrder"`

		// Projection selects single-term projection or a joint least-squares fit
		Projection string `yaml:"projection"`

		// Corrections lists the aberration groups subtracted from each surface
		Corrections []string `yaml:"corrections"`

		// MaskIndex selects the plane of the Masks stack applied to every set
		MaskIndex int `yaml:"maskIndex"`
	} `yaml:"processing"`

	// Calibration parameters
	Calibration struct {
		// WedgeFactor converts phase cycles into waves of surface error
		WedgeFactor float64 `yaml:"wedgeFactor"`

		// WavelengthNM enables micrometre reporting when positive
		WavelengthNM float64 `yaml:"wavelengthNM"`

		MinShiftDeg    float64 `yaml:"minShiftDeg"`
		MaxShiftDeg    float64 `yaml:"maxShiftDeg"`
		MaxShiftStdDeg float64 `yaml:"maxShiftStdDeg"`

		// ModulationFraction excludes low-signal pixels from the shift estimate
		ModulationFraction float64 `yaml:"modulationFraction"`
	} `yaml:"calibration"`

	// Unwrap parameters
	Unwrap struct {
		ToleranceFraction    float64 `yaml:"toleranceFraction"`
		MaxProblematicRatio  float64 `yaml:"maxProblematicRatio"`
		SecondaryRowDistance float64 `yaml:"secondaryRowDistance"`
	} `yaml:"unwrap"`

	// Output parameters
	Output struct {
		// ReportFile is where the YAML report is written; empty disables it
		ReportFile string `yaml:"reportFile"`

		// Verbose prints the per-set summary table
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`

	// Logging parameters
	Logging struct {
		// Level is a logrus level name
		Level string `yaml:"level"`

		// Format is "text" or "json"
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	demod := demodulation.DefaultOptions()
	unw := unwrap.DefaultOptions()

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.Period = 2 * math.Pi
	cfg.Processing.MaxOrder = zernike.DefaultMaxOrder
	cfg.Processing.Projection = ProjectionSingle
	cfg.Processing.Corrections = []string{"piston", "tilt", "defocus"}
	cfg.Processing.MaskIndex = 0

	cfg.Calibration.WedgeFactor = 1.0
	cfg.Calibration.WavelengthNM = 0
	cfg.Calibration.MinShiftDeg = demod.MinShiftDeg
	cfg.Calibration.MaxShiftDeg = demod.MaxShiftDeg
	cfg.Calibration.MaxShiftStdDeg = demod.MaxShiftStdDeg
	cfg.Calibration.ModulationFraction = demod.ModulationFraction

	cfg.Unwrap.ToleranceFraction = unw.ToleranceFraction
	cfg.Unwrap.MaxProblematicRatio = unw.MaxProblematicRatio
	cfg.Unwrap.SecondaryRowDistance = unw.SecondaryRowDistance

	cfg.Output.ReportFile = "report.yaml"
	cfg.Output.Verbose = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	return cfg
}

// Validate checks that every value is usable by the pipeline.
func (c *Config) Validate() error {
	switch {
	case c.Processing.NumCores < 1:
		return fmt.Errorf("%w: processing.numCores must be at least 1, got %d", ErrInvalid, c.Processing.NumCores)
	case !(c.Processing.Period > 0):
		return fmt.Errorf("%w: processing.period must be positive, got %g", ErrInvalid, c.Processing.Period)
	case c.Processing.MaxOrder < 0 || c.Processing.MaxOrder > zernike.DefaultMaxOrder:
		return fmt.Errorf("%w: processing.maxOrder must be in [0, %d], got %d",
			ErrInvalid, zernike.DefaultMaxOrder, c.Processing.MaxOrder)
	case c.Processing.Projection != ProjectionSingle && c.Processing.Projection != ProjectionLeastSquares:
		return fmt.Errorf("%w: processing.projection must be %q or %q, got %q",
			ErrInvalid, ProjectionSingle, ProjectionLeastSquares, c.Processing.Projection)
	case c.Processing.MaskIndex < 0:
		return fmt.Errorf("%w: processing.maskIndex must not be negative", ErrInvalid)
	case c.Calibration.WedgeFactor == 0:
		return fmt.Errorf("%w: calibration.wedgeFactor must not be zero", ErrInvalid)
	case c.Calibration.WavelengthNM < 0:
		return fmt.Errorf("%w: calibration.wavelengthNM must not be negative", ErrInvalid)
	case c.Calibration.MinShiftDeg >= c.Calibration.MaxShiftDeg:
		return fmt.Errorf("%w: calibration.minShiftDeg must be below maxShiftDeg", ErrInvalid)
	case c.Calibration.MaxShiftStdDeg < 0:
		return fmt.Errorf("%w: calibration.maxShiftStdDeg must not be negative", ErrInvalid)
	case c.Calibration.ModulationFraction < 0 || c.Calibration.ModulationFraction >= 1:
		return fmt.Errorf("%w: calibration.modulationFraction must be in [0, 1)", ErrInvalid)
	case !(c.Unwrap.ToleranceFraction > 0):
		return fmt.Errorf("%w: unwrap.toleranceFraction must be positive", ErrInvalid)
	case c.Unwrap.MaxProblematicRatio < 0 || c.Unwrap.MaxProblematicRatio > 1:
		return fmt.Errorf("%w: unwrap.maxProblematicRatio must be in [0, 1]", ErrInvalid)
	case c.Unwrap.SecondaryRowDistance < 0 || c.Unwrap.SecondaryRowDistance >= 1:
		return fmt.Errorf("%w: unwrap.secondaryRowDistance must be in [0, 1)", ErrInvalid)
	case c.Logging.Format != "text" && c.Logging.Format != "json":
		return fmt.Errorf("%w: logging.format must be text or json, got %q", ErrInvalid, c.Logging.Format)
	}

	for _, name := range c.Processing.Corrections {
		idx, ok := zernike.GroupIndices(name)
		if !ok {
			return fmt.Errorf("%w: unknown correction %q", ErrInvalid, name)
		}
		for _, i := range idx {
			if i > c.Processing.MaxOrder {
				return fmt.Errorf("%w: correction %q needs order %d above maxOrder %d",
					ErrInvalid, name, i, c.Processing.MaxOrder)
			}
		}
	}
	return nil
}

// DemodulationOptions returns the calibration tolerances for the demodulator.
func (c *Config) DemodulationOptions() demodulation.Options {
	return demodulation.Options{
		MinShiftDeg:        c.Calibration.MinShiftDeg,
		MaxShiftDeg:        c.Calibration.MaxShiftDeg,
		MaxShiftStdDeg:     c.Calibration.MaxShiftStdDeg,
		ModulationFraction: c.Calibration.ModulationFraction,
	}
}

// UnwrapOptions returns the unwrapper thresholds.
func (c *Config) UnwrapOptions() unwrap.Options {
	return unwrap.Options{
		ToleranceFraction:    c.Unwrap.ToleranceFraction,
		MaxProblematicRatio:  c.Unwrap.MaxProblematicRatio,
		SecondaryRowDistance: c.Unwrap.SecondaryRowDistance,
	}
}

// ZernikeOptions returns the decomposer options.
func (c *Config) ZernikeOptions() zernike.Options {
	return zernike.Options{MaxOrder: c.Processing.MaxOrder}
}

// Converter returns the reporting unit converter.
func (c *Config) Converter() units.Converter {
	return units.NewConverter(c.Processing.Period, c.Calibration.WedgeFactor, c.Calibration.WavelengthNM)
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

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

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// Marshal renders the configuration as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
