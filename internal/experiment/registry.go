package experiment

import (
	"context"
	"fmt"
	"sort"

	"github.com/san-kum/recede/internal/config"
	"github.com/san-kum/recede/internal/control"
	"github.com/san-kum/recede/internal/dynamo"
	"github.com/san-kum/recede/internal/integrators"
)

// ControllerBuilder makes a controller for a set-up experiment.
type ControllerBuilder func(e *Experiment) (dynamo.Controller, error)

type Registry struct {
	integrators map[string]func() dynamo.Integrator
	controllers map[string]ControllerBuilder
}

func NewRegistry() *Registry {
	r := &Registry{
		integrators: make(map[string]func() dynamo.Integrator),
		controllers: make(map[string]ControllerBuilder),
	}

	r.integrators["euler"] = func() dynamo.Integrator { return integrators.NewEuler() }
	r.integrators["rk4"] = func() dynamo.Integrator { return integrators.NewRK4() }

	r.controllers["none"] = func(e *Experiment) (dynamo.Controller, error) {
		return control.NewNone(e.Plant().ControlDim()), nil
	}
	// lqr saturates at mpc.u_max when set, the baseline for constrained MPC.
	r.controllers["lqr"] = func(e *Experiment) (dynamo.Controller, error) {
		fb := control.NewLQR(e.Design().K, nil)
		if limit := e.Config().MPC.UMax; limit > 0 {
			return control.NewSaturate(fb, limit), nil
		}
		return fb, nil
	}
	r.controllers["mpc"] = func(e *Experiment) (dynamo.Controller, error) {
		return e.NewMPC()
	}
	r.controllers["openloop"] = func(e *Experiment) (dynamo.Controller, error) {
		return e.NewOpenLoop(context.Background())
	}

	return r
}

// RegisterController adds or replaces a named controller.
func (r *Registry) RegisterController(name string, build ControllerBuilder) {
	r.controllers[name] = build
}

func (r *Registry) GetIntegrator(name string) (dynamo.Integrator, error) {
	fn, ok := r.integrators[name]
	if !ok {
		return nil, fmt.Errorf("unknown integrator: %s", name)
	}
	return fn(), nil
}

func (r *Registry) GetController(name string, e *Experiment) (dynamo.Controller, error) {
	fn, ok := r.controllers[name]
	if !ok {
		return nil, fmt.Errorf("unknown controller: %s", name)
	}
	return fn(e)
}

func (r *Registry) ListControllers() []string {
	names := make([]string, 0, len(r.controllers))
	for name := range r.controllers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build creates and sets up an experiment in one call.
func (r *Registry) Build(cfg *config.Config) (*Experiment, error) {
	e := New(cfg)
	if err := e.Setup(r); err != nil {
		return nil, err
	}
	return e, nil
}
