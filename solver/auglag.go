package solver

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"gonum.org/v1/gonum/optimize"

	"go.viam.com/mpc/autodiff"
	"go.viam.com/mpc/logging"
	"go.viam.com/mpc/utils"
)

const (
	augLagInitialPenalty = 10.
	augLagMaxPenalty     = 1e8
	augLagPenaltyGrowth  = 100.
	augLagMaxOuter       = 40
	augLagMaxInner       = 2000
	augLagStallLimit     = 3
	// stationarity accepted, relative to the gradient at the initial point.
	augLagOptimality = 1e-6
	// keeps tanh reparametrised variables off their asymptotes at the start.
	augLagEdge = 1 - 1e-9
)

// AugLagEngine solves problems with an augmented Lagrangian method written in Go. Constraints
// are moved into a penalised objective whose multipliers are refined between unconstrained
// BFGS minimisations. Each minimisation stops at a gradient threshold that tightens with the
// penalty, and the solve succeeds once the point is both feasible and stationary. Variables bounded on both sides are reparametrised through tanh so the
// inner problem is unconstrained; fixed variables are removed.
type AugLagEngine struct {
	logger    logging.Logger
	clock     clock.Clock
	tolerance float64
}

// AugLagOption configures an AugLagEngine.
type AugLagOption func(*AugLagEngine)

// WithAugLagClock sets the clock used to enforce the time limit.
func WithAugLagClock(c clock.Clock) AugLagOption {
	return func(e *AugLagEngine) { e.clock = c }
}

// WithAugLagTolerance sets the largest constraint violation accepted as converged.
func WithAugLagTolerance(tol float64) AugLagOption {
	return func(e *AugLagEngine) { e.tolerance = tol }
}

// NewAugLagEngine returns an engine that needs no native libraries.
func NewAugLagEngine(logger logging.Logger, opts ...AugLagOption) *AugLagEngine {
	e := &AugLagEngine{
		logger:    logger,
		clock:     clock.New(),
		tolerance: DefaultTolerance,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type varKind int

const (
	varFree varKind = iota
	varFixed
	varBoxed
)

// augLagState holds everything one solve needs. It maps the reduced variables z seen by the
// inner minimiser to the full variables x of the problem.
type augLagState struct {
	p       *Problem
	n, m    int
	kind    []varKind
	mid     []float64
	half    []float64
	reduced []int

	x      []float64
	out    []float64
	full   []float64
	sparse *autodiff.Sparse

	lambda  []float64
	penalty float64
}

func newAugLagState(p *Problem) *augLagState {
	n, m := p.FG.NumVars(), p.FG.NumConstraints()
	s := &augLagState{
		p:       p,
		n:       n,
		m:       m,
		kind:    make([]varKind, n),
		mid:     make([]float64, n),
		half:    make([]float64, n),
		x:       make([]float64, n),
		out:     make([]float64, m+1),
		full:    make([]float64, n),
		sparse:  autodiff.NewSparse(p.FG),
		lambda:  make([]float64, m),
		penalty: augLagInitialPenalty,
	}
	for i := 0; i < n; i++ {
		lo, hi := p.VarLower[i], p.VarUpper[i]
		switch {
		case lo == hi:
			s.kind[i] = varFixed
			s.x[i] = lo
		case !IsInfinite(lo) && !IsInfinite(hi):
			s.kind[i] = varBoxed
			s.mid[i] = (lo + hi) / 2
			s.half[i] = (hi - lo) / 2
			s.reduced = append(s.reduced, i)
		default:
			s.reduced = append(s.reduced, i)
		}
	}
	return s
}

// initialZ maps the problem's initial point into reduced coordinates.
func (s *augLagState) initialZ() []float64 {
	z := make([]float64, len(s.reduced))
	for k, i := range s.reduced {
		x0 := s.p.Initial[i]
		if s.kind[i] == varBoxed {
			r := (x0 - s.mid[i]) / s.half[i]
			z[k] = math.Atanh(math.Max(-augLagEdge, math.Min(augLagEdge, r)))
			continue
		}
		z[k] = x0
	}
	return z
}

func (s *augLagState) setX(z []float64) {
	for k, i := range s.reduced {
		if s.kind[i] == varBoxed {
			s.x[i] = s.mid[i] + s.half[i]*math.Tanh(z[k])
			continue
		}
		s.x[i] = z[k]
	}
}

// values evaluates the objective and constraints at z without derivatives.
func (s *augLagState) values(z []float64) {
	s.setX(z)
	s.p.FG.EvalFG(s.out, s.x)
}

// shifted returns how far the multiplier shifted value of constraint j lies outside its range.
func (s *augLagState) shifted(j int) float64 {
	v := s.out[j+1] + s.lambda[j]/s.penalty
	lo, hi := s.p.ConLower[j], s.p.ConUpper[j]
	switch {
	case v < lo && !IsInfinite(lo):
		return v - lo
	case v > hi && !IsInfinite(hi):
		return v - hi
	default:
		return 0
	}
}

func (s *augLagState) lagrangian(z []float64) float64 {
	s.values(z)
	l := s.out[0]
	for j := 0; j < s.m; j++ {
		r := s.shifted(j)
		l += s.penalty/2*r*r - s.lambda[j]*s.lambda[j]/(2*s.penalty)
	}
	return l
}

// gradient writes the gradient of the lagrangian with respect to z. It also refreshes the
// function values at z.
func (s *augLagState) gradient(grad, z []float64) {
	s.setX(z)
	// dimensions are validated before the solve starts.
	//nolint:errcheck
	s.sparse.Eval(s.x, s.out, s.full)
	for j := 0; j < s.m; j++ {
		r := s.shifted(j)
		if r == 0 {
			continue
		}
		vars, derivs := s.sparse.Row(j)
		for k, v := range vars {
			s.full[v] += s.penalty * r * derivs[k]
		}
	}
	for k, i := range s.reduced {
		if s.kind[i] == varBoxed {
			t := math.Tanh(z[k])
			grad[k] = s.full[i] * s.half[i] * (1 - t*t)
			continue
		}
		grad[k] = s.full[i]
	}
}

// stationarity returns the largest gradient component of the lagrangian at z.
func (s *augLagState) stationarity(z []float64) float64 {
	grad := make([]float64, len(z))
	s.gradient(grad, z)
	var norm float64
	for _, g := range grad {
		norm = math.Max(norm, math.Abs(g))
	}
	return norm
}

// updateMultipliers applies the first order multiplier update at the current point.
func (s *augLagState) updateMultipliers() {
	for j := 0; j < s.m; j++ {
		s.lambda[j] = s.penalty * s.shifted(j)
	}
}

func (s *augLagState) violation() float64 {
	return rangeViolation(s.out[1:], s.p.ConLower, s.p.ConUpper)
}

// Solve minimises the problem within timeLimit.
func (e *AugLagEngine) Solve(p *Problem, timeLimit time.Duration) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	start := e.clock.Now()
	deadline := start.Add(timeLimit)
	expired := func() bool { return !e.clock.Now().Before(deadline) }

	s := newAugLagState(p)
	z := s.initialZ()

	res := &Result{Status: StatusIterationLimit}
	finish := func(status Status) (*Result, error) {
		s.values(z)
		res.Status = status
		res.X = append([]float64(nil), s.x...)
		res.Objective = s.out[0]
		res.ConstraintViolation = s.violation()
		res.Elapsed = e.clock.Since(start)
		e.logger.Debugw("augmented lagrangian solve finished",
			"status", status,
			"iterations", res.Iterations,
			"penalty", s.penalty,
			"objective", res.Objective,
			"violation", res.ConstraintViolation,
			"elapsed", res.Elapsed,
		)
		return res, nil
	}

	// thresholds scale with the gradient at the start so badly scaled costs converge alike.
	scale := math.Max(1, s.stationarity(z))
	optimality := augLagOptimality * scale
	omega := scale / s.penalty
	eta := math.Pow(s.penalty, -0.1)
	inner := optimize.Problem{
		Func: s.lagrangian,
		Grad: s.gradient,
		Status: func() (optimize.Status, error) {
			if expired() {
				return optimize.RuntimeLimit, nil
			}
			return optimize.NotTerminated, nil
		},
	}

	stalled := 0
	for outer := 0; outer < augLagMaxOuter; outer++ {
		if expired() {
			return finish(StatusTimeLimit)
		}

		if len(z) > 0 {
			result, err := optimize.Minimize(inner, z, &optimize.Settings{
				GradientThreshold: math.Max(omega, optimality),
				MajorIterations:   augLagMaxInner,
			}, &optimize.BFGS{})
			if result == nil {
				e.logger.Debugw("inner minimisation failed", "error", err)
				return finish(StatusNumericalFailure)
			}
			if err != nil {
				e.logger.Debugw("inner minimisation stopped early", "error", err, "status", result.Status)
			}
			res.Iterations += result.Stats.MajorIterations
			z = append(z[:0], result.X...)
		}

		gradNorm := s.stationarity(z)
		if !utils.AllFinite(s.out...) || !utils.AllFinite(gradNorm) {
			return finish(StatusNumericalFailure)
		}
		violation := s.violation()

		if violation <= math.Max(eta, e.tolerance) {
			if violation <= e.tolerance && gradNorm <= optimality {
				return finish(StatusSuccess)
			}
			s.updateMultipliers()
			eta = math.Max(eta/math.Pow(s.penalty, 0.9), e.tolerance)
			omega = math.Max(omega/s.penalty, optimality)
		} else {
			if s.penalty >= augLagMaxPenalty {
				stalled++
				if stalled >= augLagStallLimit {
					return finish(StatusInfeasible)
				}
			}
			s.penalty = math.Min(s.penalty*augLagPenaltyGrowth, augLagMaxPenalty)
			eta = math.Pow(s.penalty, -0.1)
			omega = scale / s.penalty
		}
	}
	if expired() {
		return finish(StatusTimeLimit)
	}
	return finish(StatusIterationLimit)
}
