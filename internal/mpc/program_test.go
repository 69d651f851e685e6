package mpc

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/recede/internal/cost"
	"github.com/san-kum/recede/internal/dynamo"
	"github.com/san-kum/recede/internal/integrators"
	"github.com/san-kum/recede/internal/lqr"
	"github.com/san-kum/recede/internal/plant"
)

const dt = 0.01

var (
	nearUpright = dynamo.State{0.1, 0, -1e-3, 0}
	tilted      = dynamo.State{0, 0, 0.1, 0}
)

type fixture struct {
	lin    *plant.Linear
	disc   *plant.Discrete
	stage  *cost.Model
	design *lqr.Design
}

// cartPole linearizes the default cart-pole, designs the continuous LQR
// and scales the weights to the sampling interval.
func cartPole() (*fixture, error) {
	lin, err := plant.NewCartPole().Linearize()
	if err != nil {
		return nil, err
	}
	weights, err := cost.New(cost.Diagonal(1, 100, 0.1, 1), cost.Diagonal(0.001))
	if err != nil {
		return nil, err
	}
	design, err := lqr.Solve(lin, weights)
	if err != nil {
		return nil, err
	}
	disc, err := lin.Discretize(dt, plant.Euler)
	if err != nil {
		return nil, err
	}
	return &fixture{lin: lin, disc: disc, stage: weights.Scaled(dt), design: design}, nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f, err := cartPole()
	require.NoError(t, err)
	return f
}

func (f *fixture) program(t *testing.T, cfg Config, terminal bool) *Program {
	t.Helper()
	var p *Program
	var err error
	if terminal {
		p, err = NewProgram(f.disc, f.stage, f.design.P, cfg, nil)
	} else {
		p, err = NewProgram(f.disc, f.stage, nil, cfg, nil)
	}
	require.NoError(t, err)
	return p
}

func TestNewProgramRejectsHorizon(t *testing.T) {
	f := newFixture(t)
	for _, n := range []int{0, -3} {
		_, err := NewProgram(f.disc, f.stage, f.design.P, Config{Horizon: n}, nil)
		assert.ErrorIs(t, err, ErrInvalidHorizon)
		assert.ErrorIs(t, err, dynamo.ErrParameterBounds)
	}
}

func TestNewProgramShapeMismatch(t *testing.T) {
	f := newFixture(t)

	small, err := cost.New(cost.Diagonal(1, 1), cost.Diagonal(1))
	require.NoError(t, err)
	_, err = NewProgram(f.disc, small, nil, Config{Horizon: 5}, nil)
	assert.ErrorIs(t, err, dynamo.ErrShapeMismatch)

	_, err = NewProgram(f.disc, f.stage, cost.Diagonal(1, 1), Config{Horizon: 5}, nil)
	assert.ErrorIs(t, err, dynamo.ErrShapeMismatch)

	bad := Config{Horizon: 5, Bounds: Bounds{XMax: []float64{1, 1}}}
	_, err = NewProgram(f.disc, f.stage, nil, bad, nil)
	assert.ErrorIs(t, err, dynamo.ErrShapeMismatch)
}

func TestNewProgramRejectsCrossedBounds(t *testing.T) {
	f := newFixture(t)
	cfg := Config{Horizon: 5, Bounds: Bounds{UMin: []float64{1}, UMax: []float64{-1}}}
	_, err := NewProgram(f.disc, f.stage, nil, cfg, nil)
	assert.ErrorIs(t, err, dynamo.ErrInfeasible)
}

func TestSparseNeedsPositiveDefiniteTerminal(t *testing.T) {
	f := newFixture(t)
	_, err := NewProgram(f.disc, f.stage, nil, Config{Horizon: 5, Formulation: Sparse}, nil)
	assert.ErrorIs(t, err, cost.ErrNotPositiveDefinite)
	assert.ErrorIs(t, err, dynamo.ErrParameterBounds)
}

func TestSolveTracksValueFunction(t *testing.T) {
	f := newFixture(t)
	p := f.program(t, Config{Horizon: 20}, true)

	plan, err := p.Solve(context.Background(), nearUpright)
	require.NoError(t, err)

	require.Len(t, plan.States, 21)
	require.Len(t, plan.Controls, 20)
	assert.InDeltaSlice(t, nearUpright, plan.States[0], 1e-15)
	assert.InDelta(t, 0.27648, plan.First()[0], 1e-4)

	v0 := f.design.Value(nearUpright)
	assert.InDelta(t, 0.102934, v0, 1e-5)
	assert.InDelta(t, 0.102974, plan.Cost, 1e-5)
	assert.InEpsilon(t, v0, plan.Cost, 0.01)

	// Cost reported by the solver equals the forward-simulated objective.
	assert.InEpsilon(t, p.Cost(nearUpright, plan.Controls), plan.Cost, 1e-9)
}

func TestPlanFollowsDynamics(t *testing.T) {
	f := newFixture(t)
	for _, form := range []Formulation{Condensed, Sparse} {
		t.Run(form.String(), func(t *testing.T) {
			p := f.program(t, Config{Horizon: 10, Formulation: form}, true)
			plan, err := p.Solve(context.Background(), tilted)
			require.NoError(t, err)

			for k := 0; k < 10; k++ {
				next, err := f.disc.Next(plan.States[k], plan.Controls[k])
				require.NoError(t, err)
				for i := range next {
					assert.InDelta(t, next[i], plan.States[k+1][i], 1e-8, "x_%d[%d]", k+1, i)
				}
			}
		})
	}
}

func TestSolveIsIdempotent(t *testing.T) {
	f := newFixture(t)
	p := f.program(t, Config{Horizon: 15, Bounds: SymmetricInput(1, 5)}, true)

	first, err := p.Solve(context.Background(), tilted)
	require.NoError(t, err)

	// Another state in between must not leak into the next solve.
	_, err = p.Solve(context.Background(), nearUpright)
	require.NoError(t, err)

	second, err := p.Solve(context.Background(), tilted)
	require.NoError(t, err)
	assert.Equal(t, first.Controls, second.Controls)
	assert.Equal(t, first.Cost, second.Cost)
}

func TestSolveReusesStructure(t *testing.T) {
	f := newFixture(t)
	p := f.program(t, Config{Horizon: 10}, true)
	hess, cons := p.Problem().Hessian, p.Problem().Constraints

	_, err := p.Solve(context.Background(), tilted)
	require.NoError(t, err)
	_, err = p.Solve(context.Background(), nearUpright)
	require.NoError(t, err)

	assert.Same(t, hess, p.Problem().Hessian)
	assert.Equal(t, cons, p.Problem().Constraints)
}

func TestSparseMatchesCondensed(t *testing.T) {
	f := newFixture(t)
	configs := map[string]Bounds{
		"unconstrained": {},
		"input":         SymmetricInput(1, 5),
		"state": {
			XMin: []float64{math.Inf(-1), -0.3, math.Inf(-1), math.Inf(-1)},
			XMax: []float64{math.Inf(1), 0.3, math.Inf(1), math.Inf(1)},
		},
	}
	for name, b := range configs {
		t.Run(name, func(t *testing.T) {
			dense := f.program(t, Config{Horizon: 10, Bounds: b}, true)
			sparse := f.program(t, Config{Horizon: 10, Formulation: Sparse, Bounds: b}, true)

			for _, x0 := range []dynamo.State{nearUpright, tilted} {
				a, err := dense.Solve(context.Background(), x0)
				require.NoError(t, err)
				s, err := sparse.Solve(context.Background(), x0)
				require.NoError(t, err)

				assert.InEpsilon(t, a.Cost, s.Cost, 1e-6)
				for k := range a.Controls {
					assert.InDelta(t, a.Controls[k][0], s.Controls[k][0], 1e-5*(1+math.Abs(a.Controls[k][0])), "u_%d", k)
				}
			}
		})
	}

	dense := f.program(t, Config{Horizon: 10}, true)
	plan, err := dense.Solve(context.Background(), nearUpright)
	require.NoError(t, err)
	assert.InDelta(t, 0.2716521, plan.First()[0], 1e-6)
}

func TestInputBoundsHoldExactly(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		limit  float64
		first  float64
		allSat bool
	}{
		{"tight", 0.5, 0.5, true},
		{"moderate", 5, 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := f.program(t, Config{Horizon: 20, Bounds: SymmetricInput(1, tt.limit)}, true)
			plan, err := p.Solve(context.Background(), tilted)
			require.NoError(t, err)

			assert.InDelta(t, tt.first, plan.First()[0], 1e-9)
			for k, u := range plan.Controls {
				assert.LessOrEqual(t, math.Abs(u[0]), tt.limit, "u_%d", k)
				if tt.allSat {
					assert.InDelta(t, tt.limit, math.Abs(u[0]), 1e-9, "u_%d", k)
				}
			}
		})
	}
}

func TestInfeasibleStateBounds(t *testing.T) {
	f := newFixture(t)
	// θ_1 = θ_0 under Euler, so no input can bring it below 0.05.
	b := SymmetricInput(1, 0.5)
	b.XMax = []float64{math.Inf(1), math.Inf(1), 0.05, math.Inf(1)}

	for _, form := range []Formulation{Condensed, Sparse} {
		t.Run(form.String(), func(t *testing.T) {
			p := f.program(t, Config{Horizon: 10, Formulation: form, Bounds: b}, true)
			_, err := p.Solve(context.Background(), tilted)
			assert.ErrorIs(t, err, dynamo.ErrInfeasible)
		})
	}
}

func TestSolveExpiredContext(t *testing.T) {
	f := newFixture(t)
	p := f.program(t, Config{Horizon: 10, Bounds: SymmetricInput(1, 1)}, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Solve(ctx, tilted)
	assert.ErrorIs(t, err, dynamo.ErrSolveFailure)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSolveRejectsBadState(t *testing.T) {
	f := newFixture(t)
	p := f.program(t, Config{Horizon: 5}, true)

	_, err := p.Solve(context.Background(), dynamo.State{1, 2})
	assert.ErrorIs(t, err, dynamo.ErrShapeMismatch)

	_, err = p.Solve(context.Background(), dynamo.State{0, math.NaN(), 0, 0})
	assert.ErrorIs(t, err, dynamo.ErrInvalidState)
}

func closedLoop(t *testing.T, f *fixture, ctrl *Controller, x0 dynamo.State, steps int) *dynamo.Result {
	t.Helper()
	sim := dynamo.New(f.lin, integrators.NewEuler(), ctrl)
	result, err := sim.Run(context.Background(), x0, dynamo.Config{
		Dt:              dt,
		Steps:           steps,
		DivergenceBound: 1e3,
		ValidateState:   true,
	})
	require.NoError(t, err)
	return result
}

func TestClosedLoopWithTerminalCost(t *testing.T) {
	f := newFixture(t)
	ctrl := NewController(f.program(t, Config{Horizon: 20}, true))

	result := closedLoop(t, f, ctrl, nearUpright, 300)
	require.False(t, result.Diverged)
	require.Equal(t, 300, result.StepsTaken)

	costs := ctrl.Stats().Costs
	require.Len(t, costs, 300)
	prev := math.Inf(1)
	for k, j := range costs {
		v := f.design.Value(result.States[k])
		assert.InEpsilon(t, v, j, 0.01, "step %d", k)
		assert.Less(t, v, prev, "step %d: value function increased", k)
		prev = v
	}
}

func TestClosedLoopWithoutTerminalCost(t *testing.T) {
	f := newFixture(t)
	ctrl := NewController(f.program(t, Config{Horizon: 10}, false))

	result := closedLoop(t, f, ctrl, tilted, 400)

	increased := false
	for k := 1; k < len(result.States); k++ {
		if f.design.Value(result.States[k]) > f.design.Value(result.States[k-1]) {
			increased = true
			break
		}
	}
	assert.True(t, result.Diverged || increased, "short horizon without terminal cost should not regulate")
}

func TestClosedLoopRespectsInputLimit(t *testing.T) {
	f := newFixture(t)

	for _, limit := range []float64{0.5, 25} {
		ctrl := NewController(f.program(t, Config{Horizon: 20, Bounds: SymmetricInput(1, limit)}, true))
		result := closedLoop(t, f, ctrl, tilted, 300)

		for k, u := range result.Controls {
			require.LessOrEqual(t, math.Abs(u[0]), limit, "limit %g, step %d", limit, k)
		}
		if limit == 25 {
			assert.False(t, result.Diverged)
			assert.Less(t, f.design.Value(result.Final()), f.design.Value(tilted))
		}
	}
}
