package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/recede/internal/dynamo"
)

const (
	DefaultDt       = 0.01
	DefaultDuration = 3.0
	DefaultHorizon  = 20
	DefaultTimeout  = time.Second
	DefaultBound    = 1e3
)

var ErrInvalid = fmt.Errorf("config: invalid value: %w", dynamo.ErrParameterBounds)

type Config struct {
	Controller string      `yaml:"controller"`
	Integrator string      `yaml:"integrator"`
	Plant      PlantConfig `yaml:"plant"`
	Cost       CostConfig  `yaml:"cost"`
	MPC        MPCConfig   `yaml:"mpc"`
	Sim        SimConfig   `yaml:"sim"`
}

type PlantConfig struct {
	CartMass   float64 `yaml:"cart_mass"`
	PoleMass   float64 `yaml:"pole_mass"`
	PoleLength float64 `yaml:"pole_length"`
	Gravity    float64 `yaml:"gravity"`
	// Discretization is "euler" or "zoh".
	Discretization string `yaml:"discretization"`
}

// CostConfig holds the diagonals of Q and R in continuous time.
type CostConfig struct {
	Q []float64 `yaml:"q"`
	R []float64 `yaml:"r"`
}

type MPCConfig struct {
	Horizon     int    `yaml:"horizon"`
	Formulation string `yaml:"formulation"`
	// Terminal picks the terminal weight: "care", "dare" or "none".
	Terminal string `yaml:"terminal"`
	// UMax bounds |u| when positive.
	UMax     float64       `yaml:"u_max"`
	XMin     []float64     `yaml:"x_min,omitempty"`
	XMax     []float64     `yaml:"x_max,omitempty"`
	Timeout  time.Duration `yaml:"timeout"`
	Fallback string        `yaml:"fallback"`
}

type SimConfig struct {
	Dt              float64         `yaml:"dt"`
	Duration        float64         `yaml:"duration"`
	DivergenceBound float64         `yaml:"divergence_bound"`
	InitState       InitStateConfig `yaml:"init_state"`
}

type InitStateConfig struct {
	Pos   float64 `yaml:"pos"`
	Vel   float64 `yaml:"vel"`
	Theta float64 `yaml:"theta"`
	Omega float64 `yaml:"omega"`
}

func DefaultConfig() *Config {
	return &Config{
		Controller: "mpc",
		Integrator: "euler",
		Plant: PlantConfig{
			CartMass:       1.0,
			PoleMass:       0.1,
			PoleLength:     1.0,
			Gravity:        9.8,
			Discretization: "euler",
		},
		Cost: CostConfig{
			Q: []float64{1, 100, 0.1, 1},
			R: []float64{0.001},
		},
		MPC: MPCConfig{
			Horizon:     DefaultHorizon,
			Formulation: "condensed",
			Terminal:    "care",
			Timeout:     DefaultTimeout,
			Fallback:    "none",
		},
		Sim: SimConfig{
			Dt:              DefaultDt,
			Duration:        DefaultDuration,
			DivergenceBound: DefaultBound,
			InitState:       InitStateConfig{Pos: 0.1, Theta: -1e-3},
		},
	}
}

func Load(path string) (*Config, error) {
	return LoadInto(path, DefaultConfig())
}

// LoadInto overlays the file at path onto a copy of base. Keys absent
// from the file keep base's values.
func LoadInto(path string, base *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := base.Clone()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Cost.Q = append([]float64(nil), c.Cost.Q...)
	out.Cost.R = append([]float64(nil), c.Cost.R...)
	out.MPC.XMin = cloneOptional(c.MPC.XMin)
	out.MPC.XMax = cloneOptional(c.MPC.XMax)
	return &out
}

func (c *Config) GetInitState() []float64 {
	s := c.Sim.InitState
	return []float64{s.Pos, s.Vel, s.Theta, s.Omega}
}

// Steps is the number of control intervals in the configured duration.
func (c *Config) Steps() int {
	return int(math.Round(c.Sim.Duration / c.Sim.Dt))
}

// Validate checks values that do not need the plant to be built.
func (c *Config) Validate() error {
	if err := oneOf("controller", c.Controller, "lqr", "mpc", "openloop", "none"); err != nil {
		return err
	}
	if err := oneOf("integrator", c.Integrator, "euler", "rk4"); err != nil {
		return err
	}
	if err := oneOf("plant.discretization", c.Plant.Discretization, "euler", "zoh"); err != nil {
		return err
	}
	if c.Sim.Dt <= 0 || math.IsNaN(c.Sim.Dt) {
		return fmt.Errorf("sim.dt must be positive, got %g: %w", c.Sim.Dt, ErrInvalid)
	}
	if c.Steps() < 1 {
		return fmt.Errorf("sim.duration %g is shorter than one step: %w", c.Sim.Duration, ErrInvalid)
	}
	if c.Sim.DivergenceBound < 0 {
		return fmt.Errorf("sim.divergence_bound must not be negative: %w", ErrInvalid)
	}
	if len(c.Cost.Q) == 0 || len(c.Cost.R) == 0 {
		return fmt.Errorf("cost.q and cost.r must be set: %w", ErrInvalid)
	}

	if c.Controller != "mpc" && c.Controller != "openloop" {
		return nil
	}
	m := c.MPC
	if m.Horizon <= 0 {
		return fmt.Errorf("mpc.horizon must be positive, got %d: %w", m.Horizon, ErrInvalid)
	}
	if err := oneOf("mpc.formulation", m.Formulation, "condensed", "sparse"); err != nil {
		return err
	}
	if err := oneOf("mpc.terminal", m.Terminal, "care", "dare", "none"); err != nil {
		return err
	}
	if err := oneOf("mpc.fallback", m.Fallback, "none", "zero", "hold"); err != nil {
		return err
	}
	if m.UMax < 0 {
		return fmt.Errorf("mpc.u_max must not be negative: %w", ErrInvalid)
	}
	if m.Timeout < 0 {
		return fmt.Errorf("mpc.timeout must not be negative: %w", ErrInvalid)
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s %q not one of %v: %w", field, value, allowed, ErrInvalid)
}

func cloneOptional(v []float64) []float64 {
	if v == nil {
		return nil
	}
	return append([]float64(nil), v...)
}
