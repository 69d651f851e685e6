package optim

import (
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/recede/internal/config"
	"github.com/san-kum/recede/internal/experiment"
)

// setters maps tunable parameter names to the config field they write.
var setters = map[string]func(cfg *config.Config, v float64){
	"horizon": func(cfg *config.Config, v float64) { cfg.MPC.Horizon = int(math.Round(v)) },
	"u_max":   func(cfg *config.Config, v float64) { cfg.MPC.UMax = v },
	"r":       func(cfg *config.Config, v float64) { setWeight(cfg.Cost.R, 0, v) },
	"q_pos":   func(cfg *config.Config, v float64) { setWeight(cfg.Cost.Q, 0, v) },
	"q_vel":   func(cfg *config.Config, v float64) { setWeight(cfg.Cost.Q, 1, v) },
	"q_theta": func(cfg *config.Config, v float64) { setWeight(cfg.Cost.Q, 2, v) },
	"q_omega": func(cfg *config.Config, v float64) { setWeight(cfg.Cost.Q, 3, v) },
	"dt":      func(cfg *config.Config, v float64) { cfg.Sim.Dt = v },
}

func setWeight(w []float64, i int, v float64) {
	if i < len(w) {
		w[i] = v
	}
}

// Parameters lists the names Apply understands.
func Parameters() []string {
	names := make([]string, 0, len(setters))
	for name := range setters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply returns a copy of base with the named parameters overwritten.
func Apply(base *config.Config, params map[string]float64) (*config.Config, error) {
	cfg := base.Clone()
	for name, v := range params {
		set, ok := setters[name]
		if !ok {
			return nil, fmt.Errorf("optim: unknown parameter %q, want one of %v: %w", name, Parameters(), config.ErrInvalid)
		}
		set(cfg, v)
	}
	return cfg, nil
}

// ConfigBuilder returns a build function for Search that applies each
// combination to base and sets up the experiment with reg.
func ConfigBuilder(base *config.Config, reg *experiment.Registry) BuildFunc {
	return func(params map[string]float64) (*experiment.Experiment, error) {
		cfg, err := Apply(base, params)
		if err != nil {
			return nil, err
		}
		return reg.Build(cfg)
	}
}
