package utils

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestAngleConversions(t *testing.T) {
	test.That(t, DegToRad(180), test.ShouldAlmostEqual, math.Pi)
	test.That(t, RadToDeg(math.Pi/2), test.ShouldAlmostEqual, 90.)
	test.That(t, RadToDeg(DegToRad(25)), test.ShouldAlmostEqual, 25.)
}

func TestSpeedConversions(t *testing.T) {
	test.That(t, MPHToMPS(10), test.ShouldAlmostEqual, 4.4704)
	test.That(t, MPSToMPH(MPHToMPS(37.5)), test.ShouldAlmostEqual, 37.5)
}

func TestClamp(t *testing.T) {
	test.That(t, Clamp(2, -1, 1), test.ShouldEqual, 1.)
	test.That(t, Clamp(-2, -1, 1), test.ShouldEqual, -1.)
	test.That(t, Clamp(0.25, -1, 1), test.ShouldEqual, 0.25)
}

func TestAllFinite(t *testing.T) {
	test.That(t, AllFinite(), test.ShouldBeTrue)
	test.That(t, AllFinite(1, -2, 3e300), test.ShouldBeTrue)
	test.That(t, AllFinite(1, math.NaN()), test.ShouldBeFalse)
	test.That(t, AllFinite(math.Inf(-1)), test.ShouldBeFalse)
	test.That(t, Float64AlmostEqual(1, 1+1e-9, 1e-6), test.ShouldBeTrue)
}
