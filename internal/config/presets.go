package config

import (
	"sort"
	"time"
)

var (
	defaultPlant = PlantConfig{CartMass: 1.0, PoleMass: 0.1, PoleLength: 1.0, Gravity: 9.8, Discretization: "euler"}
	defaultCost  = CostConfig{Q: []float64{1, 100, 0.1, 1}, R: []float64{0.001}}
)

var Presets = map[string]*Config{
	"balance": {
		Controller: "lqr", Integrator: "euler", Plant: defaultPlant, Cost: defaultCost,
		MPC: MPCConfig{Horizon: DefaultHorizon, Formulation: "condensed", Terminal: "care", Timeout: DefaultTimeout, Fallback: "none"},
		Sim: SimConfig{Dt: 1e-3, Duration: 10.0, DivergenceBound: 10, InitState: InitStateConfig{Pos: 0.1, Theta: -1e-3}},
	},
	"mpc": {
		Controller: "mpc", Integrator: "euler", Plant: defaultPlant, Cost: defaultCost,
		MPC: MPCConfig{Horizon: 20, Formulation: "condensed", Terminal: "care", Timeout: DefaultTimeout, Fallback: "none"},
		Sim: SimConfig{Dt: 0.01, Duration: 3.0, DivergenceBound: DefaultBound, InitState: InitStateConfig{Pos: 0.1, Theta: -1e-3}},
	},
	"naive": {
		Controller: "mpc", Integrator: "euler", Plant: defaultPlant, Cost: defaultCost,
		MPC: MPCConfig{Horizon: 10, Formulation: "condensed", Terminal: "none", Timeout: DefaultTimeout, Fallback: "none"},
		Sim: SimConfig{Dt: 0.01, Duration: 4.0, DivergenceBound: DefaultBound, InitState: InitStateConfig{Theta: 0.1}},
	},
	"constrained": {
		Controller: "mpc", Integrator: "euler", Plant: defaultPlant, Cost: defaultCost,
		MPC: MPCConfig{Horizon: 20, Formulation: "condensed", Terminal: "care", UMax: 25, Timeout: DefaultTimeout, Fallback: "hold"},
		Sim: SimConfig{Dt: 0.01, Duration: 3.0, DivergenceBound: DefaultBound, InitState: InitStateConfig{Theta: 0.1}},
	},
	"sparse": {
		Controller: "mpc", Integrator: "euler", Plant: defaultPlant, Cost: defaultCost,
		MPC: MPCConfig{Horizon: 10, Formulation: "sparse", Terminal: "care", UMax: 25, Timeout: 2 * time.Second, Fallback: "zero"},
		Sim: SimConfig{Dt: 0.01, Duration: 1.0, DivergenceBound: DefaultBound, InitState: InitStateConfig{Theta: 0.1}},
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(name string) *Config {
	cfg, ok := Presets[name]
	if !ok {
		return nil
	}
	return cfg.Clone()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
