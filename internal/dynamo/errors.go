package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for plant construction, controller design and solving.
var (
	// ErrShapeMismatch indicates matrix or vector dimensions that do not agree.
	ErrShapeMismatch = errors.New("dynamo: shape mismatch")

	// ErrNonStabilizable indicates no stabilizing Riccati solution exists.
	ErrNonStabilizable = errors.New("dynamo: system not stabilizable")

	// ErrInfeasible indicates constraints that no input sequence satisfies.
	ErrInfeasible = errors.New("dynamo: problem infeasible")

	// ErrSolveFailure indicates the solver did not converge or ran out of time.
	ErrSolveFailure = errors.New("dynamo: solve failed")

	// ErrInvalidState indicates a state vector with NaN or Inf entries.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")

	// ErrUnstable indicates the state left the divergence bound.
	ErrUnstable = errors.New("dynamo: simulation unstable (state diverged)")

	// ErrParameterBounds indicates a parameter value is outside valid range.
	ErrParameterBounds = errors.New("dynamo: parameter out of valid bounds")
)

// SimulationError wraps an error with simulation context.
type SimulationError struct {
	Step    int
	Time    float64
	State   State
	Wrapped error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("step %d (t=%.4f): %v", e.Step, e.Time, e.Wrapped)
}

func (e *SimulationError) Unwrap() error {
	return e.Wrapped
}
