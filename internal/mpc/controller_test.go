package mpc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/recede/internal/dynamo"
	"github.com/san-kum/recede/internal/integrators"
	"github.com/san-kum/recede/internal/qp"
)

// recordingSolver remembers the deadline of the last solve.
type recordingSolver struct {
	inner       qp.Solver
	deadline    time.Time
	hasDeadline bool
}

func (r *recordingSolver) Solve(ctx context.Context, p *qp.Problem) (*qp.Solution, error) {
	r.deadline, r.hasDeadline = ctx.Deadline()
	return r.inner.Solve(ctx, p)
}

// blockingSolver never finishes before its context does.
type blockingSolver struct{}

func (blockingSolver) Solve(ctx context.Context, p *qp.Problem) (*qp.Solution, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("%w: %w", dynamo.ErrSolveFailure, ctx.Err())
}

var _ = Describe("Controller", func() {
	var (
		f *fixture
		// tiltLimit makes every plan from tilted infeasible: an angle bound
		// below the initial angle that x_1 cannot escape.
		tiltLimit Bounds
	)

	BeforeEach(func() {
		var err error
		f, err = cartPole()
		Expect(err).NotTo(HaveOccurred())

		tiltLimit = Bounds{XMax: []float64{math.Inf(1), math.Inf(1), 0.05, math.Inf(1)}}
	})

	newProgram := func(b Bounds, solver qp.Solver) *Program {
		p, err := NewProgram(f.disc, f.stage, f.design.P, Config{Horizon: 10, Bounds: b}, solver)
		Expect(err).NotTo(HaveOccurred())
		return p
	}

	Describe("a successful step", func() {
		var (
			ctrl        *Controller
			transitions []string
		)

		BeforeEach(func() {
			transitions = nil
			ctrl = NewController(newProgram(Bounds{}, nil), WithTransitions(func(from, to Phase) {
				transitions = append(transitions, from.String()+"->"+to.String())
			}))
		})

		It("starts idle", func() {
			Expect(ctrl.Phase()).To(Equal(Idle))
			Expect(ctrl.LastPlan()).To(BeNil())
		})

		It("cycles idle, solving, applying and back to idle", func() {
			_, _, err := ctrl.Step(context.Background(), nearUpright)
			Expect(err).NotTo(HaveOccurred())
			Expect(transitions).To(Equal([]string{"idle->solving", "solving->applying", "applying->idle"}))
			Expect(ctrl.Phase()).To(Equal(Idle))
		})

		It("applies only the first control of the plan", func() {
			u, plan, err := ctrl.Step(context.Background(), nearUpright)
			Expect(err).NotTo(HaveOccurred())
			Expect(plan.Controls).To(HaveLen(10))
			Expect(u).To(Equal(plan.Controls[0]))
			Expect(ctrl.LastPlan()).To(BeIdenticalTo(plan))

			u[0] = 42
			Expect(plan.Controls[0][0]).NotTo(Equal(42.0))
		})

		It("records solve statistics", func() {
			var last *Plan
			for i := 0; i < 3; i++ {
				_, plan, err := ctrl.Step(context.Background(), nearUpright)
				Expect(err).NotTo(HaveOccurred())
				last = plan
			}

			stats := ctrl.Stats()
			Expect(stats.Solves).To(Equal(3))
			Expect(stats.Failures).To(BeZero())
			Expect(stats.Fallbacks).To(BeZero())
			Expect(stats.Costs).To(HaveLen(3))
			Expect(stats.LastCost).To(Equal(last.Cost))
			Expect(stats.MaxSolveTime).To(BeNumerically(">=", stats.MeanSolveTime()))

			stats.Costs[0] = -1
			Expect(ctrl.Stats().Costs[0]).NotTo(Equal(-1.0))
		})

		It("forgets everything on Reset", func() {
			_, _, err := ctrl.Step(context.Background(), nearUpright)
			Expect(err).NotTo(HaveOccurred())

			ctrl.Reset()
			Expect(ctrl.Stats()).To(Equal(Stats{}))
			Expect(ctrl.LastPlan()).To(BeNil())
			Expect(ctrl.Phase()).To(Equal(Idle))
		})

		It("rejects a state of the wrong length without solving", func() {
			_, _, err := ctrl.Step(context.Background(), dynamo.State{1})
			Expect(err).To(MatchError(dynamo.ErrShapeMismatch))

			var stepErr *StepError
			Expect(errors.As(err, &stepErr)).To(BeFalse())
			Expect(transitions).To(BeEmpty())
		})
	})

	Describe("the solve timeout", func() {
		It("bounds each solve by the configured duration", func() {
			rec := &recordingSolver{inner: qp.NewActiveSet()}
			ctrl := NewController(newProgram(Bounds{}, rec), WithTimeout(250*time.Millisecond))

			before := time.Now()
			_, _, err := ctrl.Step(context.Background(), nearUpright)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.hasDeadline).To(BeTrue())
			Expect(rec.deadline).To(BeTemporally("~", before.Add(250*time.Millisecond), 200*time.Millisecond))
		})

		It("defaults to one second", func() {
			rec := &recordingSolver{inner: qp.NewActiveSet()}
			ctrl := NewController(newProgram(Bounds{}, rec))

			before := time.Now()
			_, _, err := ctrl.Step(context.Background(), nearUpright)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.deadline).To(BeTemporally("~", before.Add(DefaultTimeout), 500*time.Millisecond))
		})

		It("can be disabled", func() {
			rec := &recordingSolver{inner: qp.NewActiveSet()}
			ctrl := NewController(newProgram(Bounds{}, rec), WithTimeout(0))

			_, _, err := ctrl.Step(context.Background(), nearUpright)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.hasDeadline).To(BeFalse())
		})

		It("turns an overrun into a solve failure", func() {
			ctrl := NewController(newProgram(Bounds{}, blockingSolver{}),
				WithTimeout(10*time.Millisecond), WithLogger(nil))

			u, plan, err := ctrl.Step(context.Background(), nearUpright)
			Expect(u).To(BeNil())
			Expect(plan).To(BeNil())
			Expect(err).To(MatchError(dynamo.ErrSolveFailure))
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
			Expect(ctrl.Stats().Failures).To(Equal(1))
		})
	})

	Describe("a failed step", func() {
		var logged []string

		logger := func(format string, v ...interface{}) {
			logged = append(logged, fmt.Sprintf(format, v...))
		}

		BeforeEach(func() {
			logged = nil
		})

		It("propagates the failure without a control by default", func() {
			var transitions []Phase
			ctrl := NewController(newProgram(tiltLimit, nil), WithLogger(logger),
				WithTransitions(func(from, to Phase) { transitions = append(transitions, to) }))

			u, plan, err := ctrl.Step(context.Background(), tilted)
			Expect(u).To(BeNil())
			Expect(plan).To(BeNil())
			Expect(err).To(MatchError(dynamo.ErrInfeasible))

			var stepErr *StepError
			Expect(errors.As(err, &stepErr)).To(BeTrue())
			Expect(stepErr.Step).To(Equal(0))

			var rec dynamo.Recoverable
			Expect(errors.As(err, &rec)).To(BeFalse())

			Expect(transitions).To(Equal([]Phase{Solving, Idle}))
			Expect(ctrl.Stats().Failures).To(Equal(1))
			Expect(ctrl.Stats().Fallbacks).To(BeZero())
			Expect(logged).To(HaveLen(1))
		})

		It("applies zero input under FallbackZero", func() {
			ctrl := NewController(newProgram(tiltLimit, nil), WithFallback(FallbackZero), WithLogger(logger))

			u, plan, err := ctrl.Step(context.Background(), tilted)
			Expect(u).To(Equal(dynamo.Control{0}))
			Expect(plan).To(BeNil())
			Expect(err).To(MatchError(dynamo.ErrInfeasible))

			var fb *FallbackError
			Expect(errors.As(err, &fb)).To(BeTrue())
			Expect(fb.Policy).To(Equal(FallbackZero))
			Expect(fb.Control).To(Equal(u))
			Expect(fb.Recoverable()).To(BeTrue())
			Expect(ctrl.Stats().Fallbacks).To(Equal(1))
			Expect(logged).To(HaveLen(1))
		})

		It("re-applies the last good control under FallbackHold", func() {
			ctrl := NewController(newProgram(tiltLimit, nil), WithFallback(FallbackHold), WithLogger(logger))

			good, _, err := ctrl.Step(context.Background(), nearUpright)
			Expect(err).NotTo(HaveOccurred())

			u, _, err := ctrl.Step(context.Background(), tilted)
			Expect(err).To(MatchError(dynamo.ErrInfeasible))
			Expect(u).To(Equal(good))

			var fb *FallbackError
			Expect(errors.As(err, &fb)).To(BeTrue())
			Expect(fb.Step).To(Equal(1))
		})

		It("holds zero before any solve succeeded", func() {
			ctrl := NewController(newProgram(tiltLimit, nil), WithFallback(FallbackHold), WithLogger(nil))

			u, _, err := ctrl.Step(context.Background(), tilted)
			Expect(err).To(HaveOccurred())
			Expect(u).To(Equal(dynamo.Control{0}))
		})

		It("falls back when the caller's context is already done", func() {
			ctrl := NewController(newProgram(SymmetricInput(1, 1), nil), WithFallback(FallbackZero), WithLogger(nil))

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			u, _, err := ctrl.Step(ctx, tilted)
			Expect(u).To(Equal(dynamo.Control{0}))
			Expect(err).To(MatchError(dynamo.ErrSolveFailure))
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		})

		It("keeps a simulation running through fallbacks", func() {
			ctrl := NewController(newProgram(tiltLimit, nil), WithFallback(FallbackZero), WithLogger(nil))
			sim := dynamo.New(f.lin, integrators.NewEuler(), ctrl)

			result, err := sim.Run(context.Background(), tilted, dynamo.Config{Dt: dt, Steps: 5})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.StepsTaken).To(Equal(5))
			Expect(result.Errors).To(HaveLen(5))
			for _, u := range result.Controls {
				Expect(u).To(Equal(dynamo.Control{0}))
			}
		})

		It("stops a simulation when no fallback is configured", func() {
			ctrl := NewController(newProgram(tiltLimit, nil), WithLogger(nil))
			sim := dynamo.New(f.lin, integrators.NewEuler(), ctrl)

			result, err := sim.Run(context.Background(), tilted, dynamo.Config{Dt: dt, Steps: 5})
			Expect(err).To(MatchError(dynamo.ErrInfeasible))

			var simErr *dynamo.SimulationError
			Expect(errors.As(err, &simErr)).To(BeTrue())
			Expect(simErr.Step).To(Equal(0))
			Expect(result.StepsTaken).To(BeZero())
		})
	})

	DescribeTable("ParseFallback",
		func(in string, want FallbackPolicy) {
			got, err := ParseFallback(in)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(want))
			if in != "" {
				Expect(got.String()).To(Equal(in))
			}
		},
		Entry("empty", "", FallbackNone),
		Entry("none", "none", FallbackNone),
		Entry("zero", "zero", FallbackZero),
		Entry("hold", "hold", FallbackHold),
	)

	It("rejects unknown fallbacks and formulations", func() {
		_, err := ParseFallback("brake")
		Expect(err).To(MatchError(dynamo.ErrParameterBounds))
		_, err = ParseFormulation("banded")
		Expect(err).To(MatchError(dynamo.ErrParameterBounds))
	})

	It("names its phases", func() {
		Expect([]string{Idle.String(), Solving.String(), Applying.String()}).
			To(Equal([]string{"idle", "solving", "applying"}))
	})
})
