package dynamo

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ControllerFactory builds a controller for one run of an ensemble.
type ControllerFactory func() (Controller, error)

// Ensemble runs independent closed loops from different initial states.
// Each run owns its integrator, controller and metrics.
type Ensemble struct {
	dyn           System
	newIntegrator func() Integrator
	newController ControllerFactory
	newMetrics    func() []Metric
	workers       int
}

func NewEnsemble(dyn System, newIntegrator func() Integrator, newController ControllerFactory) *Ensemble {
	return &Ensemble{
		dyn:           dyn,
		newIntegrator: newIntegrator,
		newController: newController,
		workers:       runtime.GOMAXPROCS(0),
	}
}

// WithMetrics sets the per-run metric constructor.
func (e *Ensemble) WithMetrics(fn func() []Metric) *Ensemble {
	e.newMetrics = fn
	return e
}

// WithWorkers caps the number of concurrent runs.
func (e *Ensemble) WithWorkers(n int) *Ensemble {
	if n > 0 {
		e.workers = n
	}
	return e
}

// Run simulates every initial state and returns results in input order.
// The first failing run cancels the rest.
func (e *Ensemble) Run(ctx context.Context, x0s []State, cfg Config) ([]*Result, error) {
	results := make([]*Result, len(x0s))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, x0 := range x0s {
		i, x0 := i, x0
		g.Go(func() error {
			var ctrl Controller
			if e.newController != nil {
				c, err := e.newController()
				if err != nil {
					return err
				}
				ctrl = c
			}

			s := New(e.dyn, e.newIntegrator(), ctrl)
			if e.newMetrics != nil {
				for _, m := range e.newMetrics() {
					s.AddMetric(m)
				}
			}

			res, err := s.Run(ctx, x0, cfg)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
