// Package lqr computes infinite-horizon linear-quadratic regulators.
//
// [SolveCARE] solves the continuous algebraic Riccati equation
//
//	AᵀP + PA − PBR⁻¹BᵀP + Q = 0
//
// for the stabilizing P using the matrix sign function of the associated
// Hamiltonian. [Gain] turns P into the state-feedback gain K = R⁻¹BᵀP, so
// that u = −Kx minimizes ∫ xᵀQx + uᵀRu dt and V(x) = xᵀPx is the optimal
// cost-to-go. [SolveDARE] is the discrete-time counterpart, useful as a
// terminal weight matched to a discretized plant.
package lqr
