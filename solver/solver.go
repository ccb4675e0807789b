// Package solver defines the contract between a nonlinear program and the engines that solve it.
//
// A Problem packs its objective and constraints into one function whose first output is the
// objective and whose remaining outputs are constraint values, each bounded by a [lower, upper]
// range. Variables are bounded the same way. A bound at or beyond Infinity is unbounded.
package solver

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/mpc/autodiff"
)

// Infinity is the magnitude at which a bound is treated as absent.
const Infinity = 1e19

// DefaultTimeLimit is the wall clock budget of one solve unless configured otherwise.
const DefaultTimeLimit = 500 * time.Millisecond

// DefaultTolerance is the largest constraint violation a successful solve may have.
const DefaultTolerance = 1e-6

// Status is the outcome of a solve. Every outcome of a well formed problem is a status; errors
// are reserved for malformed problems.
type Status int

const (
	// StatusSuccess means the returned point satisfies every constraint within tolerance.
	StatusSuccess Status = iota
	// StatusInfeasible means the engine could not reduce the constraint violation to tolerance.
	StatusInfeasible
	// StatusTimeLimit means the time limit was reached before convergence.
	StatusTimeLimit
	// StatusIterationLimit means the engine ran out of iterations before convergence.
	StatusIterationLimit
	// StatusNumericalFailure means the engine hit a non-finite value or an internal failure.
	StatusNumericalFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusInfeasible:
		return "infeasible"
	case StatusTimeLimit:
		return "time_limit"
	case StatusIterationLimit:
		return "iteration_limit"
	case StatusNumericalFailure:
		return "numerical_failure"
	default:
		return "unknown"
	}
}

// Problem is a nonlinear program with bounded variables and range constraints.
type Problem struct {
	FG       autodiff.FG
	Initial  []float64
	VarLower []float64
	VarUpper []float64
	ConLower []float64
	ConUpper []float64
}

// Result is what an engine returns for a well formed problem. X is nil only when the engine
// could not produce any point.
type Result struct {
	Status              Status
	X                   []float64
	Objective           float64
	ConstraintViolation float64
	Elapsed             time.Duration
	Iterations          int
}

// Engine solves nonlinear programs. A solve returns within roughly the time limit; a breach is
// reported as StatusTimeLimit.
type Engine interface {
	Solve(p *Problem, timeLimit time.Duration) (*Result, error)
}

// ErrDimension is returned for problems whose vectors disagree with the FG dimensions.
var ErrDimension = autodiff.ErrDimension

// Validate checks that every vector of the problem has the dimension its FG declares and that
// no lower bound exceeds its upper bound.
func (p *Problem) Validate() error {
	if p == nil || p.FG == nil {
		return errors.New("problem has no objective and constraint function")
	}
	n, m := p.FG.NumVars(), p.FG.NumConstraints()
	for _, check := range []struct {
		name string
		got  int
		want int
	}{
		{"initial point", len(p.Initial), n},
		{"variable lower bounds", len(p.VarLower), n},
		{"variable upper bounds", len(p.VarUpper), n},
		{"constraint lower bounds", len(p.ConLower), m},
		{"constraint upper bounds", len(p.ConUpper), m},
	} {
		if check.got != check.want {
			return errors.Wrapf(ErrDimension, "%s has length %d, want %d", check.name, check.got, check.want)
		}
	}
	for i := range p.VarLower {
		if p.VarLower[i] > p.VarUpper[i] {
			return errors.Errorf("variable %d has lower bound %v above upper bound %v", i, p.VarLower[i], p.VarUpper[i])
		}
	}
	for i := range p.ConLower {
		if p.ConLower[i] > p.ConUpper[i] {
			return errors.Errorf("constraint %d has lower bound %v above upper bound %v", i, p.ConLower[i], p.ConUpper[i])
		}
	}
	return nil
}

// Violation returns the largest amount by which x breaks its variable bounds or the constraints
// evaluated at x break theirs. It also returns the objective at x. NaN values count as an
// infinite violation.
func (p *Problem) Violation(x []float64) (objective, violation float64) {
	out := make([]float64, p.FG.NumConstraints()+1)
	p.FG.EvalFG(out, x)
	violation = math.Max(
		rangeViolation(x, p.VarLower, p.VarUpper),
		rangeViolation(out[1:], p.ConLower, p.ConUpper),
	)
	return out[0], violation
}

func rangeViolation(values, lower, upper []float64) float64 {
	var worst float64
	for i, v := range values {
		if math.IsNaN(v) {
			return math.Inf(1)
		}
		switch {
		case v < lower[i] && lower[i] > -Infinity:
			worst = math.Max(worst, lower[i]-v)
		case v > upper[i] && upper[i] < Infinity:
			worst = math.Max(worst, v-upper[i])
		}
	}
	return worst
}

// IsInfinite reports whether a bound is at or beyond Infinity.
func IsInfinite(bound float64) bool {
	return math.Abs(bound) >= Infinity
}

// clampToBounds returns a copy of x moved inside [lower, upper].
func clampToBounds(x, lower, upper []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Max(lower[i], math.Min(upper[i], v))
	}
	return out
}
