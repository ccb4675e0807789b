// Package mpc formulates the path tracking model predictive control problem and turns a solved
// horizon into an actuation command.
package mpc

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/dual"

	"go.viam.com/mpc/autodiff"
	"go.viam.com/mpc/config"
	"go.viam.com/mpc/solver"
	"go.viam.com/mpc/trajectory"
	"go.viam.com/mpc/utils"
)

// Formulation is one cycle's nonlinear program: a weighted tracking cost over the horizon,
// kinematic bicycle model dynamics as equality constraints, and actuator bounds. It implements
// autodiff.Terms with out[0] the cost and out[1:] the constraint vector.
type Formulation struct {
	Layout Layout
	State  VehicleState
	Path   trajectory.Polynomial

	Initial  []float64
	VarLower []float64
	VarUpper []float64
	ConLower []float64
	ConUpper []float64

	weights     config.CostWeights
	dt          float64
	lf          float64
	targetSpeed float64
	slope       trajectory.Polynomial
}

// Formulate builds the program for the horizon starting at state, tracking path.
func Formulate(cfg config.PlanningConfig, state VehicleState, path trajectory.Polynomial) (*Formulation, error) {
	layout, err := NewLayout(cfg.Horizon)
	if err != nil {
		return nil, err
	}
	if len(path) == 0 {
		return nil, errors.New("cannot formulate against an empty path")
	}
	if !utils.AllFinite(state.X, state.Y, state.Psi, state.V, state.CTE, state.EPsi) {
		return nil, errors.Errorf("initial state is not finite: %+v", state)
	}
	if !utils.AllFinite(path...) {
		return nil, errors.Errorf("path coefficients are not finite: %v", path)
	}

	n := layout.NumVars()
	m := layout.NumConstraints()
	f := &Formulation{
		Layout:      layout,
		State:       state,
		Path:        append(trajectory.Polynomial(nil), path...),
		Initial:     make([]float64, n),
		VarLower:    make([]float64, n),
		VarUpper:    make([]float64, n),
		ConLower:    make([]float64, m),
		ConUpper:    make([]float64, m),
		weights:     cfg.Weights,
		dt:          cfg.StepSeconds(),
		lf:          cfg.Lf,
		targetSpeed: cfg.TargetSpeed,
		slope:       path.Derivative(),
	}

	for i := 0; i < layout.End(FieldEPsi); i++ {
		f.VarLower[i] = -solver.Infinity
		f.VarUpper[i] = solver.Infinity
	}
	for i := layout.Start(FieldDelta); i < layout.End(FieldDelta); i++ {
		f.VarLower[i] = -cfg.SteerLimit
		f.VarUpper[i] = cfg.SteerLimit
	}
	for i := layout.Start(FieldA); i < layout.End(FieldA); i++ {
		f.VarLower[i] = -cfg.AccelLimit
		f.VarUpper[i] = cfg.AccelLimit
	}

	// every dynamics residual must vanish; the first state of each field is pinned.
	for _, field := range StateFields {
		v := state.Get(field)
		f.Initial[layout.Start(field)] = v
		f.ConLower[layout.Start(field)] = v
		f.ConUpper[layout.Start(field)] = v
	}
	return f, nil
}

// NumVars returns the length of the decision vector.
func (f *Formulation) NumVars() int {
	return f.Layout.NumVars()
}

// NumConstraints returns the length of the constraint vector.
func (f *Formulation) NumConstraints() int {
	return f.Layout.NumConstraints()
}

// NumTerms returns how many squared terms the cost sums.
func (f *Formulation) NumTerms() int {
	n := f.Layout.Horizon()
	return 3*n + 2*(n-1) + 2*(n-2)
}

// EvalFG evaluates the cost and constraints at vars.
func (f *Formulation) EvalFG(out, vars []float64) {
	out[0] = 0
	evalModel[float64](autodiff.Real{}, f, func(c float64) { out[0] += c }, out[1:], vars)
}

// EvalFGDual evaluates the cost and constraints at dual valued vars.
func (f *Formulation) EvalFGDual(out, vars []dual.Number) {
	fd := autodiff.Dual{}
	out[0] = fd.Const(0)
	evalModel[dual.Number](fd, f, func(c dual.Number) { out[0] = fd.Add(out[0], c) }, out[1:], vars)
}

// EvalTermsDual writes each cost term, then the constraints, at dual valued vars.
func (f *Formulation) EvalTermsDual(out, vars []dual.Number) {
	k := 0
	evalModel[dual.Number](autodiff.Dual{}, f, func(c dual.Number) {
		out[k] = c
		k++
	}, out[f.NumTerms():], vars)
}

// Problem returns the program in the form engines consume.
func (f *Formulation) Problem() *solver.Problem {
	return &solver.Problem{
		FG:       f,
		Initial:  f.Initial,
		VarLower: f.VarLower,
		VarUpper: f.VarUpper,
		ConLower: f.ConLower,
		ConUpper: f.ConUpper,
	}
}

// evalModel passes each cost term to cost in a fixed order and writes the constraints into cons.
func evalModel[T any](fd autodiff.Field[T], f *Formulation, cost func(T), cons, vars []T) {
	l := f.Layout
	n := l.Horizon()
	w := f.weights
	at := func(field Field, t int) T { return vars[l.Index(field, t)] }

	for t := 0; t < n; t++ {
		cost(fd.Scale(w.CrossTrack, autodiff.Square(fd, at(FieldCTE, t))))
		cost(fd.Scale(w.HeadingError, autodiff.Square(fd, at(FieldEPsi, t))))
		cost(fd.Scale(w.Speed, autodiff.Square(fd, fd.Sub(at(FieldV, t), fd.Const(f.targetSpeed)))))
	}
	for t := 0; t < n-1; t++ {
		cost(fd.Scale(w.Steer, autodiff.Square(fd, at(FieldDelta, t))))
		cost(fd.Scale(w.Accel, autodiff.Square(fd, at(FieldA, t))))
	}
	for t := 0; t < n-2; t++ {
		cost(fd.Scale(w.SteerRate, autodiff.Square(fd, fd.Sub(at(FieldDelta, t+1), at(FieldDelta, t)))))
		cost(fd.Scale(w.AccelRate, autodiff.Square(fd, fd.Sub(at(FieldA, t+1), at(FieldA, t)))))
	}

	for _, field := range StateFields {
		cons[l.Start(field)] = at(field, 0)
	}

	dt := f.dt
	for t := 1; t < n; t++ {
		x0, y0, psi0 := at(FieldX, t-1), at(FieldY, t-1), at(FieldPsi, t-1)
		v0, epsi0 := at(FieldV, t-1), at(FieldEPsi, t-1)
		delta0, a0 := at(FieldDelta, t-1), at(FieldA, t-1)

		pathY := autodiff.Polyval(fd, f.Path, x0)
		pathHeading := fd.Atan(autodiff.Polyval(fd, f.slope, x0))
		// v * delta / Lf * dt
		yaw := fd.Scale(dt/f.lf, fd.Mul(v0, delta0))

		cons[l.Index(FieldX, t)] = fd.Sub(at(FieldX, t), fd.Add(x0, fd.Scale(dt, fd.Mul(v0, fd.Cos(psi0)))))
		cons[l.Index(FieldY, t)] = fd.Sub(at(FieldY, t), fd.Add(y0, fd.Scale(dt, fd.Mul(v0, fd.Sin(psi0)))))
		cons[l.Index(FieldPsi, t)] = fd.Sub(at(FieldPsi, t), fd.Add(psi0, yaw))
		cons[l.Index(FieldV, t)] = fd.Sub(at(FieldV, t), fd.Add(v0, fd.Scale(dt, a0)))
		cons[l.Index(FieldCTE, t)] = fd.Sub(at(FieldCTE, t),
			fd.Add(fd.Sub(pathY, y0), fd.Scale(dt, fd.Mul(v0, fd.Sin(epsi0)))))
		cons[l.Index(FieldEPsi, t)] = fd.Sub(at(FieldEPsi, t), fd.Add(fd.Sub(psi0, pathHeading), yaw))
	}
}
