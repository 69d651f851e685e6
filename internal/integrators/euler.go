package integrators

import "github.com/san-kum/recede/internal/dynamo"

// Euler is the explicit forward step x + dt*f(x, u, t). Applied to a linear
// plant it reproduces the Euler discretization Ad = I + A*dt, Bd = B*dt.
type Euler struct{}

func NewEuler() *Euler {
	return &Euler{}
}

func (e *Euler) Step(dyn dynamo.System, x dynamo.State, u dynamo.Control, t float64, dt float64) dynamo.State {
	dx := dyn.Derive(x, u, t)
	result := make(dynamo.State, len(x))
	for i := range x {
		result[i] = x[i] + dt*dx[i]
	}
	return result
}
