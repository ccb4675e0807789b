package trajectory

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestFitRecoversCubic(t *testing.T) {
	truth := Polynomial{1, 2, 3, 4}
	xs := []float64{-2, -1, -0.5, 0, 0.5, 1, 1.5, 2, 3}
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = truth.Eval(x)
	}

	poly, err := Fit(xs, ys, CubicOrder)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, poly, test.ShouldHaveLength, 4)
	for i := range truth {
		test.That(t, poly[i], test.ShouldAlmostEqual, truth[i], 1e-6)
	}
}

func TestFitLeastSquaresLine(t *testing.T) {
	// symmetric noise around y = 2x + 1 cancels out in the least squares sense
	xs := []float64{0, 0, 1, 1, 2, 2}
	ys := []float64{0.5, 1.5, 2.5, 3.5, 4.5, 5.5}
	poly, err := Fit(xs, ys, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, poly[0], test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, poly[1], test.ShouldAlmostEqual, 2, 1e-9)
}

func TestFitErrors(t *testing.T) {
	_, err := Fit([]float64{0, 1, 2}, []float64{0, 1}, 1)
	test.That(t, errors.Is(err, ErrMismatchedLengths), test.ShouldBeTrue)

	for _, order := range []int{0, 3, -1} {
		_, err = Fit([]float64{0, 1, 2}, []float64{0, 1, 4}, order)
		test.That(t, errors.Is(err, ErrBadOrder), test.ShouldBeTrue)
	}

	_, err = Fit(nil, nil, CubicOrder)
	test.That(t, errors.Is(err, ErrBadOrder), test.ShouldBeTrue)
}
