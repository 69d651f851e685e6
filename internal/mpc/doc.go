// Package mpc implements receding-horizon control of a discrete linear
// plant.
//
// A [Program] is the finite-horizon problem
//
//	minimize   Σ_{k<N} x_kᵀQx_k + u_kᵀRu_k + x_NᵀPx_N
//	subject to x_0 = x_init, x_{k+1} = Ad x_k + Bd u_k,
//	           UMin ≤ u_k ≤ UMax, XMin ≤ x_k ≤ XMax (k ≥ 1)
//
// built once for a fixed horizon and re-solved for each measured state.
// Only the parameter slots that depend on x_init change between solves, so the
// solver keeps its factorization across ticks.
//
// A [Controller] wraps a Program in the per-tick cycle
//
//	Idle → Solving → Applying → Idle
//
// and applies only the first control of each plan. With P set to the LQR
// value matrix the finite-horizon cost tracks xᵀPx and the closed loop
// inherits the LQR stability; without a terminal weight a short horizon
// can be unstable.
package mpc
