// Package autodiff lets a numeric function be written once and evaluated either on plain floats
// or on dual numbers, which carry a directional derivative alongside each value.
package autodiff

import (
	"math"

	"gonum.org/v1/gonum/num/dual"
)

// Field is the arithmetic a differentiable function may use on values of type T.
type Field[T any] interface {
	Const(v float64) T
	Add(a, b T) T
	Sub(a, b T) T
	Mul(a, b T) T
	Scale(f float64, a T) T
	Sin(a T) T
	Cos(a T) T
	Atan(a T) T
}

// Real is the Field of plain float64 values.
type Real struct{}

// Const returns v.
func (Real) Const(v float64) float64 { return v }

// Add returns a + b.
func (Real) Add(a, b float64) float64 { return a + b }

// Sub returns a - b.
func (Real) Sub(a, b float64) float64 { return a - b }

// Mul returns a * b.
func (Real) Mul(a, b float64) float64 { return a * b }

// Scale returns f * a.
func (Real) Scale(f, a float64) float64 { return f * a }

// Sin returns sin(a).
func (Real) Sin(a float64) float64 { return math.Sin(a) }

// Cos returns cos(a).
func (Real) Cos(a float64) float64 { return math.Cos(a) }

// Atan returns atan(a).
func (Real) Atan(a float64) float64 { return math.Atan(a) }

// Dual is the Field of dual numbers. Evaluating a function with one input seeded with a unit
// Emag yields the partial derivative with respect to that input in the Emag of every output.
type Dual struct{}

// Const returns v with no derivative part.
func (Dual) Const(v float64) dual.Number { return dual.Number{Real: v} }

// Add returns a + b.
func (Dual) Add(a, b dual.Number) dual.Number {
	return dual.Number{Real: a.Real + b.Real, Emag: a.Emag + b.Emag}
}

// Sub returns a - b.
func (Dual) Sub(a, b dual.Number) dual.Number {
	return dual.Number{Real: a.Real - b.Real, Emag: a.Emag - b.Emag}
}

// Mul returns a * b.
func (Dual) Mul(a, b dual.Number) dual.Number { return dual.Mul(a, b) }

// Scale returns f * a.
func (Dual) Scale(f float64, a dual.Number) dual.Number { return dual.Scale(f, a) }

// Sin returns sin(a).
func (Dual) Sin(a dual.Number) dual.Number { return dual.Sin(a) }

// Cos returns cos(a).
func (Dual) Cos(a dual.Number) dual.Number { return dual.Cos(a) }

// Atan returns atan(a).
func (Dual) Atan(a dual.Number) dual.Number { return dual.Atan(a) }

// Square returns a * a in any field.
func Square[T any](f Field[T], a T) T {
	return f.Mul(a, a)
}

// Polyval evaluates the polynomial with coefficients coeffs, lowest degree first, at x.
func Polyval[T any](f Field[T], coeffs []float64, x T) T {
	y := f.Const(0)
	for i := len(coeffs) - 1; i >= 0; i-- {
		y = f.Add(f.Mul(y, x), f.Const(coeffs[i]))
	}
	return y
}
