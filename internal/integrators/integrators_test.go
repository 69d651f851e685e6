package integrators

import (
	"math"
	"testing"

	"github.com/san-kum/recede/internal/dynamo"
)

type oscillator struct{}

func (oscillator) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	return dynamo.State{x[1], -x[0] + u[0]}
}

func (oscillator) StateDim() int   { return 2 }
func (oscillator) ControlDim() int { return 1 }

func integrate(integ dynamo.Integrator, steps int, dt float64) dynamo.State {
	x := dynamo.State{1.0, 0.0}
	u := dynamo.Control{0}
	for i := 0; i < steps; i++ {
		x = integ.Step(oscillator{}, x, u, float64(i)*dt, dt)
	}
	return x
}

func TestRK4Accuracy(t *testing.T) {
	x := integrate(NewRK4(), 100, 0.01)

	if math.Abs(x[0]-math.Cos(1)) > 1e-8 {
		t.Errorf("position error too large: got %.10f, expected %.10f", x[0], math.Cos(1))
	}
	if math.Abs(x[1]+math.Sin(1)) > 1e-8 {
		t.Errorf("velocity error too large: got %.10f, expected %.10f", x[1], -math.Sin(1))
	}
}

func TestEulerSingleStep(t *testing.T) {
	x := NewEuler().Step(oscillator{}, dynamo.State{1, 2}, dynamo.Control{3}, 0, 0.1)

	want := dynamo.State{1.2, 2.2}
	for i := range want {
		if math.Abs(x[i]-want[i]) > 1e-12 {
			t.Errorf("x[%d] = %v, want %v", i, x[i], want[i])
		}
	}
}

func TestEulerLessAccurateThanRK4(t *testing.T) {
	exact := dynamo.State{math.Cos(1), -math.Sin(1)}

	eulerErr := integrate(NewEuler(), 100, 0.01).Sub(exact).Norm()
	rk4Err := integrate(NewRK4(), 100, 0.01).Sub(exact).Norm()

	if eulerErr < 1e-3 {
		t.Errorf("euler error unexpectedly small: %g", eulerErr)
	}
	if rk4Err > eulerErr*1e-4 {
		t.Errorf("rk4 error %g not well below euler error %g", rk4Err, eulerErr)
	}
}
