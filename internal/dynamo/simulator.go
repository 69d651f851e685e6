package dynamo

import (
	"context"
	"errors"
	"fmt"
)

type Simulator struct {
	dyn        System
	integrator Integrator
	controller Controller
	metrics    []Metric
	observers  []Observer
}

// New builds a simulator. A nil controller applies zero input.
func New(dyn System, integrator Integrator, controller Controller) *Simulator {
	return &Simulator{
		dyn:        dyn,
		integrator: integrator,
		controller: controller,
		metrics:    make([]Metric, 0),
		observers:  make([]Observer, 0),
	}
}

func (s *Simulator) AddMetric(m Metric)     { s.metrics = append(s.metrics, m) }
func (s *Simulator) AddObserver(o Observer) { s.observers = append(s.observers, o) }

// Run integrates the closed loop for cfg.Steps steps starting from x0.
//
// Recoverable controller errors are collected in Result.Errors and the run
// continues with the control they came with. Any other controller error
// ends the run and is returned as a *SimulationError alongside the partial
// result. Leaving the divergence bound or producing NaN/Inf ends the run
// without an error; Result.Diverged is set and the cause is recorded.
func (s *Simulator) Run(ctx context.Context, x0 State, cfg Config) (*Result, error) {
	if err := s.validateConfig(cfg); err != nil {
		return nil, err
	}
	if len(x0) != s.dyn.StateDim() {
		return nil, fmt.Errorf("initial state has %d entries, system has %d: %w", len(x0), s.dyn.StateDim(), ErrShapeMismatch)
	}

	result := &Result{
		States:   make([]State, 0, cfg.Steps+1),
		Controls: make([]Control, 0, cfg.Steps),
		Times:    make([]float64, 0, cfg.Steps+1),
		Metrics:  make(map[string]float64),
		Errors:   make([]error, 0),
	}

	for _, m := range s.metrics {
		m.Reset()
	}

	x := x0.Clone()
	t := 0.0

	result.States = append(result.States, x.Clone())
	result.Times = append(result.Times, t)

	for i := 0; i < cfg.Steps; i++ {
		if err := ctx.Err(); err != nil {
			s.collect(result)
			return result, err
		}

		u, err := s.compute(ctx, x, t)
		if err != nil {
			var rec Recoverable
			if !errors.As(err, &rec) || !rec.Recoverable() {
				s.collect(result)
				return result, &SimulationError{Step: i, Time: t, State: x.Clone(), Wrapped: err}
			}
			result.Errors = append(result.Errors, &SimulationError{Step: i, Time: t, State: x.Clone(), Wrapped: err})
		}
		if len(u) != s.dyn.ControlDim() {
			s.collect(result)
			return result, &SimulationError{
				Step:    i,
				Time:    t,
				State:   x.Clone(),
				Wrapped: fmt.Errorf("control has %d entries, system has %d: %w", len(u), s.dyn.ControlDim(), ErrShapeMismatch),
			}
		}

		for _, m := range s.metrics {
			m.Observe(x, u, t)
		}
		for _, obs := range s.observers {
			obs.OnStep(x, u, t)
		}

		newX := s.integrator.Step(s.dyn, x, u, t, cfg.Dt)
		tNext := float64(i+1) * cfg.Dt

		if cfg.ValidateState && !newX.IsValid() {
			result.Errors = append(result.Errors, &SimulationError{Step: i, Time: tNext, State: newX, Wrapped: ErrInvalidState})
			result.Diverged = true
			break
		}

		x = newX
		t = tNext
		result.StepsTaken++

		result.States = append(result.States, x.Clone())
		result.Controls = append(result.Controls, u.Clone())
		result.Times = append(result.Times, t)

		if cfg.DivergenceBound > 0 && x.MaxAbs() > cfg.DivergenceBound {
			result.Errors = append(result.Errors, &SimulationError{Step: i, Time: t, State: x.Clone(), Wrapped: ErrUnstable})
			result.Diverged = true
			break
		}
	}

	s.collect(result)
	return result, nil
}

func (s *Simulator) compute(ctx context.Context, x State, t float64) (Control, error) {
	if s.controller == nil {
		return make(Control, s.dyn.ControlDim()), nil
	}
	return s.controller.Compute(ctx, x, t)
}

func (s *Simulator) collect(result *Result) {
	for _, m := range s.metrics {
		result.Metrics[m.Name()] = m.Value()
	}
}

func (s *Simulator) validateConfig(cfg Config) error {
	if cfg.Dt <= 0 {
		return fmt.Errorf("dt must be positive, got %f: %w", cfg.Dt, ErrParameterBounds)
	}
	if cfg.Steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d: %w", cfg.Steps, ErrParameterBounds)
	}
	if cfg.DivergenceBound < 0 {
		return fmt.Errorf("divergence bound must not be negative, got %f: %w", cfg.DivergenceBound, ErrParameterBounds)
	}
	return nil
}
