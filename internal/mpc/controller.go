package mpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/san-kum/recede/internal/dynamo"
	"github.com/san-kum/recede/internal/monitoring"
)

const DefaultTimeout = time.Second

type Phase int

const (
	Idle Phase = iota
	Solving
	Applying
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Solving:
		return "solving"
	case Applying:
		return "applying"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// FallbackPolicy decides what a Controller applies when a solve fails.
type FallbackPolicy int

const (
	// FallbackNone returns the failure and no control.
	FallbackNone FallbackPolicy = iota
	// FallbackZero applies u = 0.
	FallbackZero
	// FallbackHold re-applies the last successfully computed control, or
	// zero before the first success.
	FallbackHold
)

func (f FallbackPolicy) String() string {
	switch f {
	case FallbackNone:
		return "none"
	case FallbackZero:
		return "zero"
	case FallbackHold:
		return "hold"
	default:
		return fmt.Sprintf("fallback(%d)", int(f))
	}
}

func ParseFallback(s string) (FallbackPolicy, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return FallbackNone, nil
	case "zero":
		return FallbackZero, nil
	case "hold":
		return FallbackHold, nil
	default:
		return 0, fmt.Errorf("mpc: unknown fallback %q: %w", s, dynamo.ErrParameterBounds)
	}
}

// StepError is a failed solve at a given control step.
type StepError struct {
	Step int
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("mpc: step %d: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// FallbackError reports that Control was applied in place of a solution.
// It is recoverable: the simulator records it and keeps going.
type FallbackError struct {
	Step    int
	Policy  FallbackPolicy
	Control dynamo.Control
	Err     error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("mpc: step %d: %s fallback applied: %v", e.Step, e.Policy, e.Err)
}

func (e *FallbackError) Unwrap() error     { return e.Err }
func (e *FallbackError) Recoverable() bool { return true }

type Stats struct {
	Solves    int
	Failures  int
	Fallbacks int

	TotalSolveTime time.Duration
	MaxSolveTime   time.Duration

	LastCost float64
	// Costs holds J* of every successful solve in order.
	Costs []float64
}

func (s Stats) MeanSolveTime() time.Duration {
	if s.Solves == 0 {
		return 0
	}
	return s.TotalSolveTime / time.Duration(s.Solves)
}

type Option func(*Controller)

// WithTimeout bounds each solve. Zero or negative disables the limit.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

func WithFallback(p FallbackPolicy) Option {
	return func(c *Controller) { c.fallback = p }
}

// WithLogger replaces monitoring.Logf for this controller. nil silences it.
func WithLogger(f func(format string, v ...interface{})) Option {
	return func(c *Controller) {
		if f == nil {
			f = func(string, ...interface{}) {}
		}
		c.logf = f
	}
}

// WithTransitions installs a hook called on every phase change.
func WithTransitions(f func(from, to Phase)) Option {
	return func(c *Controller) { c.onTransition = f }
}

// Controller re-solves a Program at every control step and applies the
// first control of the plan. It implements dynamo.Controller and, like
// its Program, is not safe for concurrent use.
type Controller struct {
	program      *Program
	timeout      time.Duration
	fallback     FallbackPolicy
	logf         func(format string, v ...interface{})
	onTransition func(from, to Phase)

	phase Phase
	step  int
	last  dynamo.Control
	plan  *Plan
	stats Stats
}

func NewController(program *Program, opts ...Option) *Controller {
	c := &Controller{
		program: program,
		timeout: DefaultTimeout,
		logf: func(format string, v ...interface{}) {
			monitoring.Logf(format, v...)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTransitions replaces the phase-change hook installed by WithTransitions.
func (c *Controller) SetTransitions(f func(from, to Phase)) { c.onTransition = f }

func (c *Controller) Program() *Program { return c.program }
func (c *Controller) Phase() Phase      { return c.phase }

// LastPlan returns the plan of the most recent successful solve.
func (c *Controller) LastPlan() *Plan { return c.plan }

// Stats returns a snapshot of the solve statistics.
func (c *Controller) Stats() Stats {
	s := c.stats
	s.Costs = append([]float64(nil), c.stats.Costs...)
	return s
}

// Reset returns the controller to its initial state.
func (c *Controller) Reset() {
	c.phase = Idle
	c.step = 0
	c.last = nil
	c.plan = nil
	c.stats = Stats{}
}

// Step runs one Idle → Solving → Applying → Idle cycle for the measured
// state x and returns u*_0 with the plan it came from.
//
// On an infeasible or failed solve the fallback policy applies. With
// FallbackNone the error is returned as a *StepError and no control. With
// the other policies the fallback control is returned together with a
// *FallbackError and a nil plan.
func (c *Controller) Step(ctx context.Context, x dynamo.State) (dynamo.Control, *Plan, error) {
	if len(x) != c.program.StateDim() {
		return nil, nil, fmt.Errorf("mpc: state has %d entries, program has %d: %w", len(x), c.program.StateDim(), dynamo.ErrShapeMismatch)
	}

	c.transition(Solving)
	solveCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.timeout > 0 {
		solveCtx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	start := time.Now()
	plan, err := c.program.Solve(solveCtx, x)
	elapsed := time.Since(start)
	cancel()

	step := c.step
	c.step++
	c.stats.TotalSolveTime += elapsed
	if elapsed > c.stats.MaxSolveTime {
		c.stats.MaxSolveTime = elapsed
	}

	if err != nil {
		c.stats.Failures++
		c.transition(Idle)
		return c.fallbackFor(step, &StepError{Step: step, Err: err})
	}

	c.stats.Solves++
	c.stats.LastCost = plan.Cost
	c.stats.Costs = append(c.stats.Costs, plan.Cost)

	c.transition(Applying)
	u := plan.First()
	c.last = u.Clone()
	c.plan = plan
	c.transition(Idle)
	return u, plan, nil
}

// Compute implements dynamo.Controller.
func (c *Controller) Compute(ctx context.Context, x dynamo.State, t float64) (dynamo.Control, error) {
	u, _, err := c.Step(ctx, x)
	return u, err
}

func (c *Controller) fallbackFor(step int, err *StepError) (dynamo.Control, *Plan, error) {
	recoverable := errors.Is(err, dynamo.ErrInfeasible) || errors.Is(err, dynamo.ErrSolveFailure)
	if c.fallback == FallbackNone || !recoverable {
		c.logf("mpc: step %d: solve failed: %v", step, err.Err)
		return nil, nil, err
	}

	u := make(dynamo.Control, c.program.ControlDim())
	if c.fallback == FallbackHold && c.last != nil {
		copy(u, c.last)
	}
	c.stats.Fallbacks++
	c.logf("mpc: step %d: %v, applying %s fallback %v", step, err.Err, c.fallback, u)
	return u, nil, &FallbackError{Step: step, Policy: c.fallback, Control: u.Clone(), Err: err}
}

func (c *Controller) transition(to Phase) {
	from := c.phase
	c.phase = to
	if c.onTransition != nil {
		c.onTransition(from, to)
	}
}
