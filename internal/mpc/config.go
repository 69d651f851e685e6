package mpc

import (
	"fmt"
	"math"
	"strings"

	"github.com/san-kum/recede/internal/dynamo"
)

var ErrInvalidHorizon = fmt.Errorf("mpc: horizon must be positive: %w", dynamo.ErrParameterBounds)

// Formulation selects the decision variables of the program.
type Formulation int

const (
	// Condensed eliminates the states through the dynamics; the controls
	// are the only decision variables.
	Condensed Formulation = iota
	// Sparse keeps states and controls as variables with the dynamics as
	// equality constraints. It needs positive-definite Q and P.
	Sparse
)

func (f Formulation) String() string {
	switch f {
	case Condensed:
		return "condensed"
	case Sparse:
		return "sparse"
	default:
		return fmt.Sprintf("formulation(%d)", int(f))
	}
}

func ParseFormulation(s string) (Formulation, error) {
	switch strings.ToLower(s) {
	case "", "condensed":
		return Condensed, nil
	case "sparse":
		return Sparse, nil
	default:
		return 0, fmt.Errorf("mpc: unknown formulation %q: %w", s, dynamo.ErrParameterBounds)
	}
}

// Bounds are elementwise limits. A nil slice leaves that quantity
// unbounded; individual entries may be ±Inf.
type Bounds struct {
	UMin, UMax []float64
	XMin, XMax []float64
}

// SymmetricInput returns |u_i| ≤ limit for m inputs.
func SymmetricInput(m int, limit float64) Bounds {
	lo := make([]float64, m)
	hi := make([]float64, m)
	for i := range lo {
		lo[i], hi[i] = -limit, limit
	}
	return Bounds{UMin: lo, UMax: hi}
}

type Config struct {
	Horizon     int
	Formulation Formulation
	Bounds      Bounds
}

func (b Bounds) check(n, m int) error {
	pairs := []struct {
		name   string
		lo, hi []float64
		dim    int
	}{
		{"input", b.UMin, b.UMax, m},
		{"state", b.XMin, b.XMax, n},
	}
	for _, p := range pairs {
		if (p.lo != nil && len(p.lo) != p.dim) || (p.hi != nil && len(p.hi) != p.dim) {
			return fmt.Errorf("mpc: %s bounds must have %d entries: %w", p.name, p.dim, dynamo.ErrShapeMismatch)
		}
		for i := 0; i < p.dim; i++ {
			lo, hi := bound(p.lo, i, math.Inf(-1)), bound(p.hi, i, math.Inf(1))
			if math.IsNaN(lo) || math.IsNaN(hi) {
				return fmt.Errorf("mpc: %s bound %d is NaN: %w", p.name, i, dynamo.ErrParameterBounds)
			}
			if lo > hi {
				return fmt.Errorf("mpc: %s bound %d has min %g above max %g: %w", p.name, i, lo, hi, dynamo.ErrInfeasible)
			}
		}
	}
	return nil
}

func (b Bounds) hasState() bool {
	for i := range b.XMin {
		if !math.IsInf(b.XMin[i], -1) {
			return true
		}
	}
	for i := range b.XMax {
		if !math.IsInf(b.XMax[i], 1) {
			return true
		}
	}
	return false
}

func bound(v []float64, i int, def float64) float64 {
	if v == nil {
		return def
	}
	return v[i]
}
