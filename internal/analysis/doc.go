// Package analysis checks closed-loop trajectories after the fact.
//
//   - [CheckDecrease]: whether a Lyapunov candidate such as xᵀPx decreased
//     along a trajectory
//   - [CompareCostToGo]: how closely finite-horizon optimal costs track the
//     infinite-horizon value xᵀPx
//   - [ClosedLoopExponent]: largest Lyapunov exponent of a controlled system
//     via trajectory separation
//
// # Stability Check
//
// For an LQR or terminal-weighted MPC loop V(x) = xᵀPx should fall at every
// step:
//
//	report := analysis.CheckDecrease(result.States, design.Value)
//	if !report.Monotone() {
//	    // first failure at report.FirstIncrease
//	}
package analysis
