// Package control provides control sources for the simulator.
//
// Each type implements [dynamo.Controller]:
//
//   - [LQR]: static state feedback u = −K(x − target)
//   - [Sequence]: a fixed open-loop input sequence
//   - [None]: zero input
//   - [Saturate]: clamps the output of another controller
//
// The receding-horizon controller lives in package mpc.
//
// # Usage
//
//	d, _ := lqr.Solve(lin, weights)
//	sim := dynamo.New(lin, integrators.NewEuler(), control.NewLQR(d.K, nil))
package control
