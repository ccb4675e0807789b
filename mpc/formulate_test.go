package mpc

import (
	"math"
	"testing"
	"time"

	"go.viam.com/test"
	"gonum.org/v1/gonum/num/dual"

	"go.viam.com/mpc/autodiff"
	"go.viam.com/mpc/config"
	"go.viam.com/mpc/logging"
	"go.viam.com/mpc/solver"
	"go.viam.com/mpc/trajectory"
)

func shortConfig(n int) config.PlanningConfig {
	cfg := config.Default()
	cfg.Horizon = n
	return cfg
}

func TestFormulateBounds(t *testing.T) {
	cfg := config.Default()
	state := VehicleState{V: 4, CTE: 0.5, EPsi: -0.1}
	f, err := Formulate(cfg, state, trajectory.Polynomial{0.5, 0.1, 0, 0})
	test.That(t, err, test.ShouldBeNil)
	l := f.Layout

	test.That(t, f.Initial, test.ShouldHaveLength, 78)
	test.That(t, f.ConLower, test.ShouldHaveLength, 60)
	for i := 0; i < l.End(FieldEPsi); i++ {
		test.That(t, f.VarLower[i], test.ShouldEqual, -solver.Infinity)
		test.That(t, f.VarUpper[i], test.ShouldEqual, solver.Infinity)
	}
	for i := l.Start(FieldDelta); i < l.End(FieldDelta); i++ {
		test.That(t, f.VarLower[i], test.ShouldAlmostEqual, -25*math.Pi/180)
		test.That(t, f.VarUpper[i], test.ShouldAlmostEqual, 25*math.Pi/180)
	}
	for i := l.Start(FieldA); i < l.End(FieldA); i++ {
		test.That(t, f.VarLower[i], test.ShouldEqual, -0.5)
		test.That(t, f.VarUpper[i], test.ShouldEqual, 0.5)
	}

	pinned := map[int]float64{
		l.Start(FieldV):    4,
		l.Start(FieldCTE):  0.5,
		l.Start(FieldEPsi): -0.1,
	}
	for i := range f.ConLower {
		test.That(t, f.ConLower[i], test.ShouldEqual, pinned[i])
		test.That(t, f.ConUpper[i], test.ShouldEqual, pinned[i])
	}
	for i := range f.Initial {
		test.That(t, f.Initial[i], test.ShouldEqual, pinned[i])
	}
}

func TestFormulateRejects(t *testing.T) {
	_, err := Formulate(shortConfig(1), VehicleState{}, trajectory.Polynomial{0, 0})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = Formulate(shortConfig(5), VehicleState{}, nil)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = Formulate(shortConfig(5), VehicleState{V: math.NaN()}, trajectory.Polynomial{0, 0})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = Formulate(shortConfig(5), VehicleState{}, trajectory.Polynomial{math.Inf(1)})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestEvalAtInitialGuess(t *testing.T) {
	cfg := shortConfig(3)
	path := trajectory.Polynomial{0.5, 0.2, 0, 0}
	f, err := Formulate(cfg, VehicleState{V: 2, CTE: 0.5, EPsi: 0.1}, path)
	test.That(t, err, test.ShouldBeNil)
	l := f.Layout

	out := make([]float64, l.NumConstraints()+1)
	f.EvalFG(out, f.Initial)

	// (v - 10)² dominates: 64 at t=0 and 100 at the two zero-speed steps
	test.That(t, out[0], test.ShouldAlmostEqual, 0.25+0.01+64+100+100)

	g := out[1:]
	test.That(t, g[l.Start(FieldV)], test.ShouldEqual, 2)
	test.That(t, g[l.Start(FieldCTE)], test.ShouldEqual, 0.5)
	test.That(t, g[l.Start(FieldEPsi)], test.ShouldEqual, 0.1)

	dt := cfg.StepSeconds()
	test.That(t, g[l.Index(FieldX, 1)], test.ShouldAlmostEqual, -2*dt)
	test.That(t, g[l.Index(FieldY, 1)], test.ShouldAlmostEqual, 0)
	test.That(t, g[l.Index(FieldPsi, 1)], test.ShouldAlmostEqual, 0)
	test.That(t, g[l.Index(FieldV, 1)], test.ShouldAlmostEqual, -2)
	test.That(t, g[l.Index(FieldCTE, 1)], test.ShouldAlmostEqual, -(0.5 + 2*math.Sin(0.1)*dt))
	test.That(t, g[l.Index(FieldEPsi, 1)], test.ShouldAlmostEqual, math.Atan(0.2))
	// step 2 starts from the all zero step 1
	test.That(t, g[l.Index(FieldCTE, 2)], test.ShouldAlmostEqual, -0.5)
	test.That(t, g[l.Index(FieldEPsi, 2)], test.ShouldAlmostEqual, math.Atan(0.2))
}

// rollout integrates the model from the formulation's initial state with the given actuations,
// producing a decision vector whose dynamics residuals are all zero.
func rollout(f *Formulation, delta, accel float64) []float64 {
	l := f.Layout
	vars := append([]float64(nil), f.Initial...)
	for t := 0; t < l.Steps(FieldDelta); t++ {
		vars[l.Index(FieldDelta, t)] = delta * float64(t+1) / 10
		vars[l.Index(FieldA, t)] = accel
	}
	for t := 1; t < l.Horizon(); t++ {
		x0, y0, psi0 := vars[l.Index(FieldX, t-1)], vars[l.Index(FieldY, t-1)], vars[l.Index(FieldPsi, t-1)]
		v0, epsi0 := vars[l.Index(FieldV, t-1)], vars[l.Index(FieldEPsi, t-1)]
		d0, a0 := vars[l.Index(FieldDelta, t-1)], vars[l.Index(FieldA, t-1)]
		vars[l.Index(FieldX, t)] = x0 + v0*math.Cos(psi0)*f.dt
		vars[l.Index(FieldY, t)] = y0 + v0*math.Sin(psi0)*f.dt
		vars[l.Index(FieldPsi, t)] = psi0 + v0*d0/f.lf*f.dt
		vars[l.Index(FieldV, t)] = v0 + a0*f.dt
		vars[l.Index(FieldCTE, t)] = f.Path.Eval(x0) - y0 + v0*math.Sin(epsi0)*f.dt
		vars[l.Index(FieldEPsi, t)] = psi0 - math.Atan(f.Path.Slope(x0)) + v0*d0/f.lf*f.dt
	}
	return vars
}

func TestRolloutSatisfiesDynamics(t *testing.T) {
	f, err := Formulate(config.Default(), VehicleState{V: 7, CTE: -0.3, EPsi: 0.05}, trajectory.Polynomial{-0.3, 0.02, 0.01, -0.001})
	test.That(t, err, test.ShouldBeNil)

	vars := rollout(f, 0.2, 0.3)
	_, violation := f.Problem().Violation(vars)
	test.That(t, violation, test.ShouldAlmostEqual, 0, 1e-12)
}

func TestDualMatchesFiniteDifferences(t *testing.T) {
	f, err := Formulate(shortConfig(4), VehicleState{V: 5, CTE: 0.4, EPsi: 0.2}, trajectory.Polynomial{0.4, -0.1, 0.03, 0.002})
	test.That(t, err, test.ShouldBeNil)

	x := rollout(f, -0.1, 0.2)
	for i := range x {
		x[i] += 0.01 * float64(i%7)
	}
	rows, n := f.NumConstraints()+1, f.NumVars()
	out := make([]float64, rows)
	grad := make([]float64, n)
	sparse := autodiff.NewSparse(f)
	test.That(t, sparse.Eval(x, out, grad), test.ShouldBeNil)

	jac := make([]float64, rows*n)
	copy(jac, grad)
	for j := 0; j < f.NumConstraints(); j++ {
		vars, derivs := sparse.Row(j)
		for k, v := range vars {
			jac[(j+1)*n+v] = derivs[k]
		}
	}

	const h = 1e-6
	up, down := make([]float64, rows), make([]float64, rows)
	for j := 0; j < n; j++ {
		xu := append([]float64(nil), x...)
		xd := append([]float64(nil), x...)
		xu[j] += h
		xd[j] -= h
		f.EvalFG(up, xu)
		f.EvalFG(down, xd)
		for i := 0; i < rows; i++ {
			test.That(t, jac[i*n+j], test.ShouldAlmostEqual, (up[i]-down[i])/(2*h), 1e-4)
		}
	}
}

func TestCostTermsSumToObjective(t *testing.T) {
	f, err := Formulate(config.Default(), VehicleState{V: 5, CTE: 0.4, EPsi: 0.2}, trajectory.Polynomial{0.4, -0.1, 0.03, 0.002})
	test.That(t, err, test.ShouldBeNil)
	x := rollout(f, 0.1, -0.2)

	terms := make([]dual.Number, f.NumTerms()+f.NumConstraints())
	xd := make([]dual.Number, len(x))
	for i, v := range x {
		xd[i] = dual.Number{Real: v}
	}
	f.EvalTermsDual(terms, xd)

	out := make([]float64, f.NumConstraints()+1)
	f.EvalFG(out, x)
	sum := 0.
	for _, c := range terms[:f.NumTerms()] {
		sum += c.Real
	}
	test.That(t, sum, test.ShouldAlmostEqual, out[0], 1e-9)
	for j := 0; j < f.NumConstraints(); j++ {
		test.That(t, terms[f.NumTerms()+j].Real, test.ShouldAlmostEqual, out[1+j])
	}

	// each step only couples neighbouring instants, so a few passes cover all 78 variables.
	test.That(t, autodiff.NewSparse(f).Passes(), test.ShouldBeLessThanOrEqualTo, 8)
}

func TestSolvedHorizonKeepsPinnedState(t *testing.T) {
	cfg := config.Default()
	path := trajectory.Polynomial{0.3, 0, 0, 0}
	state := NewVehicleState(4.47, path, 0)
	f, err := Formulate(cfg, state, path)
	test.That(t, err, test.ShouldBeNil)

	engine := solver.NewAugLagEngine(logging.NewTestLogger(t))
	res, err := engine.Solve(f.Problem(), 10*time.Second)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldEqual, solver.StatusSuccess)

	l := f.Layout
	for _, field := range StateFields {
		test.That(t, res.X[l.Start(field)], test.ShouldAlmostEqual, state.Get(field), 1e-3)
	}
	for i := l.Start(FieldDelta); i < l.End(FieldA); i++ {
		test.That(t, res.X[i], test.ShouldBeGreaterThanOrEqualTo, f.VarLower[i])
		test.That(t, res.X[i], test.ShouldBeLessThanOrEqualTo, f.VarUpper[i])
	}
}
