package mpc

import (
	"math"

	"go.viam.com/mpc/trajectory"
)

// VehicleState is the state the horizon starts from, expressed in the vehicle frame. The vehicle
// sits at the origin facing +x, so X, Y and Psi are zero.
type VehicleState struct {
	X    float64
	Y    float64
	Psi  float64
	V    float64
	CTE  float64
	EPsi float64
}

// NewVehicleState builds the initial state for speed v (m/s) against the fitted path. The cross
// track error is the path's offset at the vehicle; the heading error is taken against the
// path's tangent at headingRefX.
func NewVehicleState(v float64, path trajectory.Polynomial, headingRefX float64) VehicleState {
	return VehicleState{
		V:    v,
		CTE:  path.Eval(0),
		EPsi: -math.Atan(path.Slope(headingRefX)),
	}
}

// Get returns the value of a state field.
func (s VehicleState) Get(f Field) float64 {
	switch f {
	case FieldX:
		return s.X
	case FieldY:
		return s.Y
	case FieldPsi:
		return s.Psi
	case FieldV:
		return s.V
	case FieldCTE:
		return s.CTE
	case FieldEPsi:
		return s.EPsi
	default:
		return 0
	}
}
