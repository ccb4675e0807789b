package solver

import (
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/dual"

	"go.viam.com/mpc/autodiff"
	"go.viam.com/mpc/logging"
)

// quadratic is sum((x_i - target_i)^2) subject to linear constraints rows·x.
type quadratic struct {
	target []float64
	rows   [][]float64
}

func (q *quadratic) NumVars() int        { return len(q.target) }
func (q *quadratic) NumConstraints() int { return len(q.rows) }

func (q *quadratic) EvalFG(out, x []float64) { evalQuadratic[float64](autodiff.Real{}, q, out, x) }

func (q *quadratic) EvalFGDual(out, x []dual.Number) {
	evalQuadratic[dual.Number](autodiff.Dual{}, q, out, x)
}

func evalQuadratic[T any](f autodiff.Field[T], q *quadratic, out, x []T) {
	out[0] = f.Const(0)
	for i, target := range q.target {
		out[0] = f.Add(out[0], autodiff.Square(f, f.Sub(x[i], f.Const(target))))
	}
	for j, row := range q.rows {
		out[j+1] = f.Const(0)
		for i, a := range row {
			out[j+1] = f.Add(out[j+1], f.Scale(a, x[i]))
		}
	}
}

func unbounded(n int) ([]float64, []float64) {
	lo, hi := make([]float64, n), make([]float64, n)
	for i := range lo {
		lo[i], hi[i] = -Infinity, Infinity
	}
	return lo, hi
}

func equalityProblem() *Problem {
	lo, hi := unbounded(2)
	return &Problem{
		FG:       &quadratic{target: []float64{1, 2}, rows: [][]float64{{1, 1}}},
		Initial:  []float64{0, 0},
		VarLower: lo,
		VarUpper: hi,
		ConLower: []float64{1},
		ConUpper: []float64{1},
	}
}

func TestAugLagEquality(t *testing.T) {
	engine := NewAugLagEngine(logging.NewTestLogger(t))
	res, err := engine.Solve(equalityProblem(), 5*time.Second)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldEqual, StatusSuccess)
	test.That(t, res.X[0], test.ShouldAlmostEqual, 0, 1e-4)
	test.That(t, res.X[1], test.ShouldAlmostEqual, 1, 1e-4)
	test.That(t, res.Objective, test.ShouldAlmostEqual, 2, 1e-3)
	test.That(t, res.ConstraintViolation, test.ShouldBeLessThanOrEqualTo, DefaultTolerance)
	test.That(t, res.Iterations, test.ShouldBeGreaterThan, 0)
}

func TestAugLagBounds(t *testing.T) {
	engine := NewAugLagEngine(logging.NewTestLogger(t))
	p := &Problem{
		FG:       &quadratic{target: []float64{3, -5, 0.25}},
		Initial:  []float64{0, 4, 0},
		VarLower: []float64{-1, 4, -1},
		VarUpper: []float64{1, 4, 1},
		ConLower: []float64{},
		ConUpper: []float64{},
	}
	res, err := engine.Solve(p, 5*time.Second)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldEqual, StatusSuccess)
	// pushed against the upper bound
	test.That(t, res.X[0], test.ShouldAlmostEqual, 1, 1e-3)
	test.That(t, res.X[0], test.ShouldBeLessThanOrEqualTo, 1)
	// fixed variables keep their value exactly
	test.That(t, res.X[1], test.ShouldEqual, 4)
	// interior optimum
	test.That(t, res.X[2], test.ShouldAlmostEqual, 0.25, 1e-4)
}

func TestAugLagRangeConstraint(t *testing.T) {
	engine := NewAugLagEngine(logging.NewTestLogger(t))
	lo, hi := unbounded(2)
	p := &Problem{
		FG:       &quadratic{target: []float64{2, 2}, rows: [][]float64{{1, 1}, {1, -1}}},
		Initial:  []float64{0, 0},
		VarLower: lo,
		VarUpper: hi,
		// x0 + x1 <= 2 and x0 - x1 >= 1
		ConLower: []float64{-Infinity, 1},
		ConUpper: []float64{2, Infinity},
	}
	res, err := engine.Solve(p, 5*time.Second)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldEqual, StatusSuccess)
	test.That(t, res.X[0], test.ShouldAlmostEqual, 1.5, 1e-4)
	test.That(t, res.X[1], test.ShouldAlmostEqual, 0.5, 1e-4)
}

func TestAugLagInfeasible(t *testing.T) {
	engine := NewAugLagEngine(logging.NewTestLogger(t))
	lo, hi := unbounded(1)
	p := &Problem{
		FG:       &quadratic{target: []float64{0}, rows: [][]float64{{1}, {1}}},
		Initial:  []float64{0},
		VarLower: lo,
		VarUpper: hi,
		ConLower: []float64{1, 2},
		ConUpper: []float64{1, 2},
	}
	res, err := engine.Solve(p, 5*time.Second)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldNotEqual, StatusSuccess)
	test.That(t, res.ConstraintViolation, test.ShouldBeGreaterThan, 0.1)
}

func TestAugLagTimeLimit(t *testing.T) {
	mockClock := clock.NewMock()
	engine := NewAugLagEngine(logging.NewTestLogger(t), WithAugLagClock(mockClock))
	res, err := engine.Solve(equalityProblem(), 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldEqual, StatusTimeLimit)
	test.That(t, res.X, test.ShouldResemble, []float64{0, 0})
	test.That(t, res.ConstraintViolation, test.ShouldAlmostEqual, 1)
}

func TestAugLagDeterministic(t *testing.T) {
	engine := NewAugLagEngine(logging.NewTestLogger(t))
	first, err := engine.Solve(equalityProblem(), 5*time.Second)
	test.That(t, err, test.ShouldBeNil)
	second, err := engine.Solve(equalityProblem(), 5*time.Second)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second.X, test.ShouldResemble, first.X)
	test.That(t, second.Status, test.ShouldEqual, first.Status)
}

func TestValidate(t *testing.T) {
	engine := NewAugLagEngine(logging.NewTestLogger(t))

	p := equalityProblem()
	p.Initial = []float64{0}
	_, err := engine.Solve(p, time.Second)
	test.That(t, errors.Is(err, ErrDimension), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "initial point")

	p = equalityProblem()
	p.ConUpper = nil
	_, err = engine.Solve(p, time.Second)
	test.That(t, errors.Is(err, ErrDimension), test.ShouldBeTrue)

	p = equalityProblem()
	p.VarLower[1] = 3
	p.VarUpper[1] = 2
	_, err = engine.Solve(p, time.Second)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "variable 1")

	_, err = engine.Solve(&Problem{}, time.Second)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestViolation(t *testing.T) {
	p := equalityProblem()
	objective, violation := p.Violation([]float64{1, 2})
	test.That(t, objective, test.ShouldEqual, 0)
	test.That(t, violation, test.ShouldEqual, 2)

	p.VarUpper[0] = 0.5
	_, violation = p.Violation([]float64{1, 0})
	test.That(t, violation, test.ShouldEqual, 0.5)

	_, violation = p.Violation([]float64{math.NaN(), 0})
	test.That(t, math.IsInf(violation, 1), test.ShouldBeTrue)
}

func TestStatusString(t *testing.T) {
	test.That(t, StatusSuccess.String(), test.ShouldEqual, "success")
	test.That(t, StatusTimeLimit.String(), test.ShouldEqual, "time_limit")
	test.That(t, Status(42).String(), test.ShouldEqual, "unknown")
	test.That(t, IsInfinite(Infinity), test.ShouldBeTrue)
	test.That(t, IsInfinite(-2e19), test.ShouldBeTrue)
	test.That(t, IsInfinite(1e18), test.ShouldBeFalse)
}

func TestAugLagFeasibleStartStillOptimises(t *testing.T) {
	engine := NewAugLagEngine(logging.NewTestLogger(t))
	p := equalityProblem()
	p.Initial = []float64{1, 0}
	res, err := engine.Solve(p, 5*time.Second)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldEqual, StatusSuccess)
	test.That(t, res.X[0], test.ShouldAlmostEqual, 0, 1e-4)
	test.That(t, res.X[1], test.ShouldAlmostEqual, 1, 1e-4)
}
