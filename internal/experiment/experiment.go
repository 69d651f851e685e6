package experiment

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/recede/internal/config"
	"github.com/san-kum/recede/internal/control"
	"github.com/san-kum/recede/internal/cost"
	"github.com/san-kum/recede/internal/dynamo"
	"github.com/san-kum/recede/internal/lqr"
	"github.com/san-kum/recede/internal/metrics"
	"github.com/san-kum/recede/internal/mpc"
	"github.com/san-kum/recede/internal/plant"
)

// Experiment is one configured closed-loop run of the linearized cart-pole.
type Experiment struct {
	cfg *config.Config

	plant    *plant.Linear
	disc     *plant.Discrete
	weights  *cost.Model
	design   *lqr.Design
	terminal *mat.SymDense

	controller dynamo.Controller
	mpc        *mpc.Controller
	simulator  *dynamo.Simulator
	value      *metrics.ValueFunction
}

func New(cfg *config.Config) *Experiment {
	return &Experiment{cfg: cfg}
}

// Setup validates the config, designs the regulator and builds the
// controller, integrator and metrics named in it.
func (e *Experiment) Setup(reg *Registry) error {
	if err := e.cfg.Validate(); err != nil {
		return err
	}

	cp := &plant.CartPole{
		CartMass:   e.cfg.Plant.CartMass,
		PoleMass:   e.cfg.Plant.PoleMass,
		PoleLength: e.cfg.Plant.PoleLength,
		Gravity:    e.cfg.Plant.Gravity,
	}
	lin, err := cp.Linearize()
	if err != nil {
		return err
	}
	method, err := plant.ParseMethod(e.cfg.Plant.Discretization)
	if err != nil {
		return err
	}
	disc, err := lin.Discretize(e.cfg.Sim.Dt, method)
	if err != nil {
		return err
	}

	weights, err := cost.New(cost.Diagonal(e.cfg.Cost.Q...), cost.Diagonal(e.cfg.Cost.R...))
	if err != nil {
		return err
	}
	design, err := lqr.Solve(lin, weights)
	if err != nil {
		return fmt.Errorf("lqr design: %w", err)
	}
	e.plant, e.disc, e.weights, e.design = lin, disc, weights, design

	if e.cfg.Controller == "mpc" || e.cfg.Controller == "openloop" {
		if e.terminal, err = e.terminalWeight(); err != nil {
			return err
		}
	}

	integ, err := reg.GetIntegrator(e.cfg.Integrator)
	if err != nil {
		return err
	}
	ctrl, err := reg.GetController(e.cfg.Controller, e)
	if err != nil {
		return err
	}
	e.controller = ctrl
	if m, ok := ctrl.(*mpc.Controller); ok {
		e.mpc = m
	}

	e.simulator = dynamo.New(lin, integ, ctrl)
	for _, m := range e.DefaultMetrics() {
		if v, ok := m.(*metrics.ValueFunction); ok {
			e.value = v
		}
		e.simulator.AddMetric(m)
	}
	return nil
}

func (e *Experiment) Run(ctx context.Context) (*dynamo.Result, error) {
	if e.simulator == nil {
		return nil, fmt.Errorf("experiment not setup")
	}
	return e.simulator.Run(ctx, dynamo.State(e.cfg.GetInitState()), e.SimConfig())
}

func (e *Experiment) SimConfig() dynamo.Config {
	return dynamo.Config{
		Dt:              e.cfg.Sim.Dt,
		Steps:           e.cfg.Steps(),
		DivergenceBound: e.cfg.Sim.DivergenceBound,
		ValidateState:   true,
	}
}

// DefaultMetrics returns fresh metrics for one run.
func (e *Experiment) DefaultMetrics() []dynamo.Metric {
	var uMin, uMax []float64
	if e.cfg.MPC.UMax > 0 && e.cfg.Controller != "none" {
		uMin, uMax = []float64{-e.cfg.MPC.UMax}, []float64{e.cfg.MPC.UMax}
	}
	return []dynamo.Metric{
		metrics.NewStageCost(e.weights.Scaled(e.cfg.Sim.Dt)),
		metrics.NewValueFunction(e.design.P),
		metrics.NewControlEffort(),
		metrics.NewStability(10.0),
		metrics.NewConstraintViolation(uMin, uMax, e.cfg.MPC.XMin, e.cfg.MPC.XMax),
	}
}

// NewMPC builds a fresh MPC controller on its own program. Controllers
// from separate calls share nothing and may run on different goroutines.
func (e *Experiment) NewMPC() (*mpc.Controller, error) {
	m := e.cfg.MPC
	form, err := mpc.ParseFormulation(m.Formulation)
	if err != nil {
		return nil, err
	}
	fallback, err := mpc.ParseFallback(m.Fallback)
	if err != nil {
		return nil, err
	}

	var bounds mpc.Bounds
	if m.UMax > 0 {
		bounds = mpc.SymmetricInput(e.disc.ControlDim(), m.UMax)
	}
	bounds.XMin, bounds.XMax = m.XMin, m.XMax

	cfg := mpc.Config{Horizon: m.Horizon, Formulation: form, Bounds: bounds}
	var prog *mpc.Program
	if e.terminal != nil {
		prog, err = mpc.NewProgram(e.disc, e.weights.Scaled(e.cfg.Sim.Dt), e.terminal, cfg, nil)
	} else {
		prog, err = mpc.NewProgram(e.disc, e.weights.Scaled(e.cfg.Sim.Dt), nil, cfg, nil)
	}
	if err != nil {
		return nil, err
	}
	return mpc.NewController(prog, mpc.WithTimeout(m.Timeout), mpc.WithFallback(fallback)), nil
}

// NewOpenLoop solves the MPC program once from the initial state and
// replays its controls without feedback, zero after the horizon.
func (e *Experiment) NewOpenLoop(ctx context.Context) (*control.Sequence, error) {
	ctrl, err := e.NewMPC()
	if err != nil {
		return nil, err
	}
	plan, err := ctrl.Program().Solve(ctx, dynamo.State(e.cfg.GetInitState()))
	if err != nil {
		return nil, fmt.Errorf("open-loop plan: %w", err)
	}
	return control.NewSequence(e.disc.ControlDim(), plan.Controls), nil
}

func (e *Experiment) terminalWeight() (*mat.SymDense, error) {
	switch e.cfg.MPC.Terminal {
	case "care":
		return e.design.P, nil
	case "dare":
		scaled := e.weights.Scaled(e.cfg.Sim.Dt)
		p, err := lqr.SolveDARE(e.disc.Ad(), e.disc.Bd(), scaled.Q(), scaled.R())
		if err != nil {
			return nil, fmt.Errorf("terminal weight: %w", err)
		}
		return p, nil
	}
	return nil, nil
}

// ControllerFactory returns constructors for independent copies of the
// configured controller, for ensemble runs.
func (e *Experiment) ControllerFactory(reg *Registry) dynamo.ControllerFactory {
	return func() (dynamo.Controller, error) {
		return reg.GetController(e.cfg.Controller, e)
	}
}

func (e *Experiment) Config() *config.Config        { return e.cfg }
func (e *Experiment) Plant() *plant.Linear          { return e.plant }
func (e *Experiment) Discrete() *plant.Discrete     { return e.disc }
func (e *Experiment) Weights() *cost.Model          { return e.weights }
func (e *Experiment) Design() *lqr.Design           { return e.design }
func (e *Experiment) Controller() dynamo.Controller { return e.controller }

// MPC returns the MPC controller, nil for other controller types.
func (e *Experiment) MPC() *mpc.Controller { return e.mpc }

// Terminal returns the MPC terminal weight, nil when there is none.
func (e *Experiment) Terminal() *mat.SymDense { return e.terminal }

// Value returns the value-function metric attached by Setup.
func (e *Experiment) Value() *metrics.ValueFunction { return e.value }

// GetSimulator returns the underlying simulator for adding observers
func (e *Experiment) GetSimulator() *dynamo.Simulator {
	return e.simulator
}
