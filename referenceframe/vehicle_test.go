package referenceframe

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestToVehicleFrameCentersVehicle(t *testing.T) {
	pose := Pose{X: 10, Y: -4, Psi: math.Pi / 2}
	xs, ys, err := ToVehicleFrame([]float64{10, 10, 8}, []float64{-4, 1, -4}, pose)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, xs, test.ShouldHaveLength, 3)

	// the vehicle itself maps to the origin
	test.That(t, xs[0], test.ShouldAlmostEqual, 0)
	test.That(t, ys[0], test.ShouldAlmostEqual, 0)
	// straight ahead along the heading is +x
	test.That(t, xs[1], test.ShouldAlmostEqual, 5)
	test.That(t, ys[1], test.ShouldAlmostEqual, 0)
	// world -x is to the vehicle's right when it faces world +y
	test.That(t, xs[2], test.ShouldAlmostEqual, 0)
	test.That(t, ys[2], test.ShouldAlmostEqual, 2)
}

func TestToVehicleFrameIsometry(t *testing.T) {
	//nolint:gosec
	rnd := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		n := 2 + rnd.Intn(10)
		ptsX := make([]float64, n)
		ptsY := make([]float64, n)
		for i := range ptsX {
			ptsX[i] = rnd.Float64()*200 - 100
			ptsY[i] = rnd.Float64()*200 - 100
		}
		pose := Pose{X: rnd.Float64()*50 - 25, Y: rnd.Float64()*50 - 25, Psi: rnd.Float64()*4*math.Pi - 2*math.Pi}

		xs, ys, err := ToVehicleFrame(ptsX, ptsY, pose)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, xs, test.ShouldHaveLength, n)
		test.That(t, ys, test.ShouldHaveLength, n)
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				before := r2.Point{X: ptsX[i], Y: ptsY[i]}.Sub(r2.Point{X: ptsX[j], Y: ptsY[j]}).Norm()
				after := r2.Point{X: xs[i], Y: ys[i]}.Sub(r2.Point{X: xs[j], Y: ys[j]}).Norm()
				test.That(t, after, test.ShouldAlmostEqual, before, 1e-9)
			}
		}
	}
}

func TestPoseToVehicle(t *testing.T) {
	pose := Pose{X: -3, Y: 7, Psi: math.Pi / 2}
	// one unit along the heading, two to its right
	local := pose.ToVehicle(r2.Point{X: -1, Y: 8})
	test.That(t, local.X, test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, local.Y, test.ShouldAlmostEqual, -2, 1e-12)
}

func TestToVehicleFrameErrors(t *testing.T) {
	_, _, err := ToVehicleFrame([]float64{1, 2}, []float64{1}, Pose{})
	test.That(t, errors.Is(err, ErrMismatchedWaypoints), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "2 x values, 1 y values")

	_, _, err = ToVehicleFrame(nil, nil, Pose{})
	test.That(t, err, test.ShouldBeError, ErrNoWaypoints)
}
