package integrators

import "github.com/san-kum/recede/internal/dynamo"

// RK4 is the classical fourth-order Runge-Kutta step with the control held
// constant over the interval. Used to check how far the Euler closed loop
// drifts from an accurate integration of the same plant.
type RK4 struct {
	stage dynamo.State
	acc   dynamo.State
}

func NewRK4() *RK4 {
	return &RK4{}
}

func (r *RK4) Step(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) dynamo.State {
	n := len(x)
	if len(r.stage) != n {
		r.stage = make(dynamo.State, n)
		r.acc = make(dynamo.State, n)
	}

	k := dyn.Derive(x, u, t)
	for i := range x {
		r.acc[i] = k[i]
		r.stage[i] = x[i] + 0.5*dt*k[i]
	}

	k = dyn.Derive(r.stage, u, t+0.5*dt)
	for i := range x {
		r.acc[i] += 2 * k[i]
		r.stage[i] = x[i] + 0.5*dt*k[i]
	}

	k = dyn.Derive(r.stage, u, t+0.5*dt)
	for i := range x {
		r.acc[i] += 2 * k[i]
		r.stage[i] = x[i] + dt*k[i]
	}

	k = dyn.Derive(r.stage, u, t+dt)
	result := make(dynamo.State, n)
	for i := range x {
		result[i] = x[i] + dt/6*(r.acc[i]+k[i])
	}
	return result
}
