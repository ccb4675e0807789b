package trajectory

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// CubicOrder is the polynomial order used to model the reference path ahead of the vehicle.
const CubicOrder = 3

var (
	// ErrBadOrder is returned when the requested order cannot be fit to the given points.
	ErrBadOrder = errors.New("polynomial order must be at least 1 and less than the number of points")
	// ErrMismatchedLengths is returned when the x and y samples differ in length.
	ErrMismatchedLengths = errors.New("x and y samples differ in length")
)

// Fit returns the least squares polynomial of the given order through the points (xs[i], ys[i]).
// The system is solved through a QR factorization of the Vandermonde matrix.
func Fit(xs, ys []float64, order int) (Polynomial, error) {
	if len(xs) != len(ys) {
		return nil, errors.Wrapf(ErrMismatchedLengths, "%d x samples, %d y samples", len(xs), len(ys))
	}
	if order < 1 || order > len(xs)-1 {
		return nil, errors.Wrapf(ErrBadOrder, "order %d with %d points", order, len(xs))
	}

	vandermonde := mat.NewDense(len(xs), order+1, nil)
	for i, x := range xs {
		term := 1.
		for j := 0; j <= order; j++ {
			vandermonde.Set(i, j, term)
			term *= x
		}
	}

	var qr mat.QR
	qr.Factorize(vandermonde)

	var coeffs mat.VecDense
	if err := qr.SolveVecTo(&coeffs, false, mat.NewVecDense(len(ys), append([]float64(nil), ys...))); err != nil {
		return nil, errors.Wrap(err, "least squares solve failed")
	}

	poly := make(Polynomial, order+1)
	for i := range poly {
		poly[i] = coeffs.AtVec(i)
	}
	return poly, nil
}
