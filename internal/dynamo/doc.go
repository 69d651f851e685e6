// Package dynamo provides core simulation primitives for controlled
// dynamical systems.
//
// The package defines the interfaces and types shared by plants,
// controllers and the simulation loop:
//
//   - [State], [Control]: plain float vectors
//   - [System]: continuous dynamics dx/dt = f(x, u, t)
//   - [Integrator]: numerical time stepping
//   - [Controller]: feedback law or receding-horizon loop
//   - [Simulator]: runs a closed loop for a fixed number of steps
//   - [Ensemble]: runs many independent closed loops concurrently
//
// Errors returned by the packages built on dynamo wrap the sentinels in
// this package, so callers can test them with errors.Is.
//
// # Example
//
//	lin := plant.NewCartPole().Linearize()
//	sim := dynamo.New(lin, integrators.NewEuler(), ctrl)
//	result, err := sim.Run(ctx, x0, dynamo.Config{Dt: 1e-3, Steps: 10000})
//
// # Thread Safety
//
// Simulator instances are NOT thread-safe, and most controllers keep
// per-run state. [Ensemble] builds a fresh controller per run.
package dynamo
