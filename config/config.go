// Package config loads the TOML run configuration: meshes, smearing,
// the temperature sweep, solver tolerances and resource limits.
package config

import (
	"fmt"
	"math"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Mesh contains the Brillouin-zone sampling.
type Mesh struct {
	Points [3]int `toml:"points"`
}

// Smearing contains the delta-function settings.
type Smearing struct {
	// Kind is "gaussian", "adaptive" or "tetrahedron".
	Kind string `toml:"kind"`
	// Width is the Gaussian broadening (ignored for tetrahedron).
	Width float64 `toml:"width"`
}

// Sweep contains the thermodynamic conditions of the run.
type Sweep struct {
	Temperatures       []float64 `toml:"temperatures"`
	ChemicalPotentials []float64 `toml:"chemical_potentials"`
}

// Solver contains the iterative-scheme controls.
type Solver struct {
	Tolerance     float64 `toml:"tolerance"`
	MaxIterations int     `toml:"max_iterations"`
}

// Resources contains parallelism and memory limits.
type Resources struct {
	Workers int `toml:"workers"`
	// MemoryCeilingGB bounds the coupling batch size; 0 defers to the
	// MAXMEM environment variable and then the built-in default.
	MemoryCeilingGB float64 `toml:"memory_ceiling_gb"`
	// DeviceMode is the OCCA backend ("CPU", "Serial", "OpenMP", "CUDA").
	DeviceMode string `toml:"device_mode"`
}

// Coupling contains debug overrides of the interaction.
type Coupling struct {
	// FixedConstant replaces every |g|² with a constant when set.
	FixedConstant *float64 `toml:"fixed_constant"`
}

// Config is the root of the run configuration.
type Config struct {
	Mesh      Mesh      `toml:"mesh"`
	Smearing  Smearing  `toml:"smearing"`
	Sweep     Sweep     `toml:"sweep"`
	Solver    Solver    `toml:"solver"`
	Resources Resources `toml:"resources"`
	Coupling  Coupling  `toml:"coupling"`
}

// Default returns the configuration used when a field is absent.
func Default() *Config {
	return &Config{
		Mesh:     Mesh{Points: [3]int{4, 4, 4}},
		Smearing: Smearing{Kind: "adaptive", Width: 1e-3},
		Solver:   Solver{Tolerance: 1e-5, MaxIterations: 50},
		Resources: Resources{
			DeviceMode: "CPU",
		},
	}
}

// Load reads and validates a TOML file, filling defaults first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	for _, n := range c.Mesh.Points {
		if n < 1 {
			return fmt.Errorf("config: mesh.points must be positive, got %v", c.Mesh.Points)
		}
	}
	switch c.Smearing.Kind {
	case "gaussian", "adaptive":
		if c.Smearing.Width <= 0 {
			return fmt.Errorf("config: smearing.width must be positive for %s", c.Smearing.Kind)
		}
	case "tetrahedron":
	default:
		return fmt.Errorf("config: unknown smearing.kind %q", c.Smearing.Kind)
	}
	if len(c.Sweep.Temperatures) == 0 {
		return fmt.Errorf("config: sweep.temperatures must not be empty")
	}
	for _, t := range c.Sweep.Temperatures {
		if t <= 0 {
			return fmt.Errorf("config: sweep temperature %g must be positive", t)
		}
	}
	if c.Solver.Tolerance <= 0 {
		return fmt.Errorf("config: solver.tolerance must be positive")
	}
	if c.Solver.MaxIterations < 1 {
		return fmt.Errorf("config: solver.max_iterations must be at least 1")
	}
	if c.Resources.Workers < 0 {
		return fmt.Errorf("config: resources.workers must not be negative")
	}
	if c.Resources.MemoryCeilingGB < 0 {
		return fmt.Errorf("config: resources.memory_ceiling_gb must not be negative")
	}
	return nil
}

// MemoryCeilingBytes converts the configured ceiling, 0 when unset.
func (c *Config) MemoryCeilingBytes() int64 {
	return int64(c.Resources.MemoryCeilingGB * 1e9)
}

// FixedCoupling returns the debug constant, NaN when disabled.
func (c *Config) FixedCoupling() float64 {
	if c.Coupling.FixedConstant == nil {
		return math.NaN()
	}
	return *c.Coupling.FixedConstant
}
