package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/recede/internal/dynamo"
)

// DecreaseReport summarizes a Lyapunov candidate along a trajectory.
type DecreaseReport struct {
	Steps int
	// Increases counts steps where V(x_{k+1}) >= V(x_k).
	Increases     int
	FirstIncrease int
	Initial       float64
	Final         float64
	// MaxRatio is the largest V(x_{k+1}) / V(x_k).
	MaxRatio float64
}

func (r DecreaseReport) Monotone() bool { return r.Increases == 0 }

// CheckDecrease evaluates v on consecutive states. FirstIncrease is -1 when
// v decreased on every step.
func CheckDecrease(states []dynamo.State, v func(dynamo.State) float64) DecreaseReport {
	r := DecreaseReport{FirstIncrease: -1}
	if len(states) == 0 {
		return r
	}

	prev := v(states[0])
	r.Initial, r.Final = prev, prev
	for k := 1; k < len(states); k++ {
		cur := v(states[k])
		r.Steps++
		if cur >= prev {
			r.Increases++
			if r.FirstIncrease < 0 {
				r.FirstIncrease = k - 1
			}
		}
		if prev > 0 {
			r.MaxRatio = math.Max(r.MaxRatio, cur/prev)
		}
		prev = cur
	}
	r.Final = prev
	return r
}

// ClosedLoopExponent estimates the largest Lyapunov exponent of the system
// under ctrl by following a reference and a perturbed trajectory and
// renormalizing their separation every step. A negative value means nearby
// trajectories converge; for a linear loop it approaches the largest real
// part of the closed-loop poles.
//
// ctrl is queried for both trajectories, so stateful controllers see an
// interleaved sequence of states.
func ClosedLoopExponent(
	ctx context.Context,
	dyn dynamo.System,
	integ dynamo.Integrator,
	ctrl dynamo.Controller,
	x0 dynamo.State,
	dt, duration float64,
	perturbation float64,
) (float64, error) {
	if len(x0) == 0 || dt <= 0 || duration <= 0 || perturbation <= 0 {
		return 0, fmt.Errorf("analysis: exponent needs a state, positive dt, duration and perturbation: %w", dynamo.ErrParameterBounds)
	}

	x := x0.Clone()
	xp := x0.Clone()
	xp[0] += perturbation
	d0 := perturbation

	input := func(s dynamo.State, t float64) (dynamo.Control, error) {
		if ctrl == nil {
			return make(dynamo.Control, dyn.ControlDim()), nil
		}
		u, err := ctrl.Compute(ctx, s, t)
		var rec dynamo.Recoverable
		if err != nil && (!errors.As(err, &rec) || !rec.Recoverable()) {
			return nil, err
		}
		return u, nil
	}

	steps := int(math.Round(duration / dt))
	sumLog := 0.0
	t := 0.0
	for k := 0; k < steps; k++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		u, err := input(x, t)
		if err != nil {
			return 0, err
		}
		up, err := input(xp, t)
		if err != nil {
			return 0, err
		}
		x = integ.Step(dyn, x, u, t, dt)
		xp = integ.Step(dyn, xp, up, t, dt)
		t += dt

		sep := xp.Sub(x).Norm()
		if sep == 0 || math.IsNaN(sep) || math.IsInf(sep, 0) {
			return 0, fmt.Errorf("analysis: separation degenerated at t=%.4f: %w", t, dynamo.ErrInvalidState)
		}
		sumLog += math.Log(sep / d0)

		scale := d0 / sep
		for i := range xp {
			xp[i] = x[i] + (xp[i]-x[i])*scale
		}
	}
	return sumLog / (float64(steps) * dt), nil
}
