package mpc

import (
	"github.com/pkg/errors"
)

// Field names one block of the decision vector.
type Field int

// The decision vector is field-major: every step of FieldX, then every step of FieldY, and so
// on. The six state fields have one entry per predicted state; the two actuator fields have one
// entry per transition.
const (
	FieldX Field = iota
	FieldY
	FieldPsi
	FieldV
	FieldCTE
	FieldEPsi
	FieldDelta
	FieldA
)

// StateFields lists the fields of a predicted state in layout order.
var StateFields = []Field{FieldX, FieldY, FieldPsi, FieldV, FieldCTE, FieldEPsi}

const numStateFields = 6

// MinHorizon is the smallest horizon with at least one transition.
const MinHorizon = 2

func (f Field) String() string {
	switch f {
	case FieldX:
		return "x"
	case FieldY:
		return "y"
	case FieldPsi:
		return "psi"
	case FieldV:
		return "v"
	case FieldCTE:
		return "cte"
	case FieldEPsi:
		return "epsi"
	case FieldDelta:
		return "delta"
	case FieldA:
		return "a"
	default:
		return "unknown"
	}
}

// IsActuator reports whether the field is a control input rather than a state.
func (f Field) IsActuator() bool {
	return f == FieldDelta || f == FieldA
}

// Layout addresses the decision and constraint vectors of a horizon. The constraint vector
// shares the decision vector's indices for the state fields.
type Layout struct {
	horizon int
}

// NewLayout returns the layout of a horizon with n predicted states.
func NewLayout(n int) (Layout, error) {
	if n < MinHorizon {
		return Layout{}, errors.Errorf("horizon must be at least %d, got %d", MinHorizon, n)
	}
	return Layout{horizon: n}, nil
}

// Horizon returns the number of predicted states N.
func (l Layout) Horizon() int {
	return l.horizon
}

// Steps returns how many entries the field has: N for states and N-1 for actuators.
func (l Layout) Steps(f Field) int {
	if f.IsActuator() {
		return l.horizon - 1
	}
	return l.horizon
}

// Start returns the index of the field's first entry.
func (l Layout) Start(f Field) int {
	switch f {
	case FieldDelta:
		return numStateFields * l.horizon
	case FieldA:
		return numStateFields*l.horizon + l.horizon - 1
	default:
		return int(f) * l.horizon
	}
}

// End returns one past the index of the field's last entry.
func (l Layout) End(f Field) int {
	return l.Start(f) + l.Steps(f)
}

// Index returns the position of the field at step t.
func (l Layout) Index(f Field, t int) int {
	return l.Start(f) + t
}

// NumVars returns the length of the decision vector, 6N + 2(N-1).
func (l Layout) NumVars() int {
	return numStateFields*l.horizon + 2*(l.horizon-1)
}

// NumConstraints returns the length of the constraint vector, 6N.
func (l Layout) NumConstraints() int {
	return numStateFields * l.horizon
}
