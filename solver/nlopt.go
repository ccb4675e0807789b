//go:build !no_cgo

package solver

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-nlopt/nlopt"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/floats"

	"go.viam.com/mpc/autodiff"
	"go.viam.com/mpc/logging"
)

const (
	nloptMaxEval  = 20000
	nloptXtolRel  = 1e-10
	nloptFtolRel  = 1e-12
	nloptWatchdog = 2
)

// NLoptEngine solves problems with nlopt's sequential quadratic programming algorithm (SLSQP).
// Constraint rows with equal bounds become equality constraints; the finite sides of the other
// rows become inequality constraints.
type NLoptEngine struct {
	logger    logging.Logger
	clock     clock.Clock
	tolerance float64
	algorithm int
}

// NewNLoptEngine returns an engine backed by the nlopt C library.
func NewNLoptEngine(logger logging.Logger) (*NLoptEngine, error) {
	return &NLoptEngine{
		logger:    logger,
		clock:     clock.New(),
		tolerance: DefaultTolerance,
		algorithm: nlopt.LD_SLSQP,
	}, nil
}

type optimizeReturn struct {
	solution []float64
	score    float64
	err      error
}

// cachedFG memoises the function values and derivatives at the last point nlopt asked about,
// since the objective and each constraint group are requested separately at the same point.
type cachedFG struct {
	fg       autodiff.FG
	sparse   *autodiff.Sparse
	x        []float64
	out      []float64
	grad     []float64
	withGrad bool
}

func newCachedFG(fg autodiff.FG) *cachedFG {
	return &cachedFG{
		fg:     fg,
		sparse: autodiff.NewSparse(fg),
		out:    make([]float64, fg.NumConstraints()+1),
		grad:   make([]float64, fg.NumVars()),
	}
}

func (c *cachedFG) at(x []float64, needGrad bool) {
	if c.x != nil && floats.Equal(c.x, x) && (c.withGrad || !needGrad) {
		return
	}
	if needGrad {
		//nolint:errcheck
		c.sparse.Eval(x, c.out, c.grad)
	} else {
		c.fg.EvalFG(c.out, x)
	}
	c.x = append(c.x[:0], x...)
	c.withGrad = needGrad
}

// row writes sign times the derivative of constraint j into the dense row dst.
func (c *cachedFG) row(dst []float64, j int, sign float64) {
	for i := range dst {
		dst[i] = 0
	}
	vars, derivs := c.sparse.Row(j)
	for k, v := range vars {
		dst[v] = sign * derivs[k]
	}
}

// Solve minimises the problem within timeLimit.
func (e *NLoptEngine) Solve(p *Problem, timeLimit time.Duration) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n := p.FG.NumVars()
	if n == 0 {
		return nil, errors.Wrap(ErrDimension, "nlopt needs at least one variable")
	}

	opt, err := nlopt.NewNLopt(e.algorithm, uint(n))
	if err != nil {
		return nil, errors.Wrap(err, "nlopt creation error")
	}
	defer opt.Destroy()

	cache := newCachedFG(p.FG)
	evaluations := 0
	objective := func(x, gradient []float64) float64 {
		evaluations++
		cache.at(x, len(gradient) > 0)
		if len(gradient) > 0 {
			copy(gradient, cache.grad)
		}
		return cache.out[0]
	}

	var equalities, lowers, uppers []int
	for i := range p.ConLower {
		lo, hi := p.ConLower[i], p.ConUpper[i]
		if lo == hi {
			equalities = append(equalities, i)
			continue
		}
		if !IsInfinite(lo) {
			lowers = append(lowers, i)
		}
		if !IsInfinite(hi) {
			uppers = append(uppers, i)
		}
	}

	// nlopt wants h(x) = 0 and c(x) <= 0.
	equalityFunc := func(result, x, gradient []float64) {
		cache.at(x, len(gradient) > 0)
		for k, i := range equalities {
			result[k] = cache.out[i+1] - p.ConLower[i]
			if len(gradient) > 0 {
				cache.row(gradient[k*n:(k+1)*n], i, 1)
			}
		}
	}
	inequalityFunc := func(result, x, gradient []float64) {
		cache.at(x, len(gradient) > 0)
		for k, i := range lowers {
			result[k] = p.ConLower[i] - cache.out[i+1]
			if len(gradient) > 0 {
				cache.row(gradient[k*n:(k+1)*n], i, -1)
			}
		}
		for k, i := range uppers {
			r := len(lowers) + k
			result[r] = cache.out[i+1] - p.ConUpper[i]
			if len(gradient) > 0 {
				cache.row(gradient[r*n:(r+1)*n], i, 1)
			}
		}
	}

	err = multierr.Combine(
		opt.SetLowerBounds(nloptBounds(p.VarLower)),
		opt.SetUpperBounds(nloptBounds(p.VarUpper)),
		opt.SetMinObjective(objective),
		opt.SetXtolRel(nloptXtolRel),
		opt.SetFtolRel(nloptFtolRel),
		opt.SetMaxEval(nloptMaxEval),
		opt.SetMaxTime(timeLimit.Seconds()),
	)
	if len(equalities) > 0 {
		err = multierr.Combine(err, opt.AddEqualityMConstraint(equalityFunc, tolerances(len(equalities), e.tolerance)))
	}
	if len(lowers)+len(uppers) > 0 {
		err = multierr.Combine(err, opt.AddInequalityMConstraint(inequalityFunc, tolerances(len(lowers)+len(uppers), e.tolerance)))
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to configure nlopt")
	}

	start := e.clock.Now()
	solveChan := make(chan *optimizeReturn, 1)
	initial := clampToBounds(p.Initial, p.VarLower, p.VarUpper)
	utils.PanicCapturingGo(func() {
		solution, score, nloptErr := opt.Optimize(initial)
		solveChan <- &optimizeReturn{solution, score, nloptErr}
	})

	var ret *optimizeReturn
	select {
	case ret = <-solveChan:
	case <-e.clock.After(nloptWatchdog * timeLimit):
		// nlopt checks its time limit between evaluations only.
		if stopErr := opt.ForceStop(); stopErr != nil {
			e.logger.Warnw("nlopt force stop failed", "error", stopErr)
		}
		ret = <-solveChan
	}

	res := &Result{Elapsed: e.clock.Since(start), Iterations: evaluations}
	res.X = ret.solution
	if res.X == nil {
		res.X = initial
	}
	var violation float64
	res.Objective, violation = p.Violation(res.X)
	res.ConstraintViolation = violation

	switch {
	case res.Elapsed >= timeLimit:
		res.Status = StatusTimeLimit
	case math.IsNaN(res.Objective) || math.IsInf(violation, 0):
		res.Status = StatusNumericalFailure
	case violation > e.tolerance && ret.err != nil:
		res.Status = StatusNumericalFailure
	case violation > e.tolerance && evaluations >= nloptMaxEval:
		res.Status = StatusIterationLimit
	case violation > e.tolerance:
		res.Status = StatusInfeasible
	default:
		res.Status = StatusSuccess
	}
	e.logger.Debugw("nlopt solve finished",
		"status", res.Status,
		"evaluations", evaluations,
		"objective", res.Objective,
		"violation", violation,
		"elapsed", res.Elapsed,
		"error", ret.err,
	)
	return res, nil
}

func nloptBounds(bounds []float64) []float64 {
	out := make([]float64, len(bounds))
	for i, b := range bounds {
		switch {
		case b >= Infinity:
			out[i] = math.Inf(1)
		case b <= -Infinity:
			out[i] = math.Inf(-1)
		default:
			out[i] = b
		}
	}
	return out
}

func tolerances(count int, tol float64) []float64 {
	out := make([]float64, count)
	for i := range out {
		out[i] = tol
	}
	return out
}
