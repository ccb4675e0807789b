// Package utils contains small numeric helpers shared across the controller.
package utils

import "math"

// metersPerSecondPerMPH converts miles per hour into meters per second.
const metersPerSecondPerMPH = 0.44704

// DegToRad converts degrees to radians.
func DegToRad(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// RadToDeg converts radians to degrees.
func RadToDeg(radians float64) float64 {
	return radians * 180 / math.Pi
}

// MPHToMPS converts a speed in miles per hour to meters per second.
func MPHToMPS(mph float64) float64 {
	return mph * metersPerSecondPerMPH
}

// MPSToMPH converts a speed in meters per second to miles per hour.
func MPSToMPH(mps float64) float64 {
	return mps / metersPerSecondPerMPH
}

// Clamp returns value limited to [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Square returns the square of n.
func Square(n float64) float64 {
	return n * n
}

// Float64AlmostEqual compares two float64s and returns if the difference between them is less
// than epsilon.
func Float64AlmostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

// AllFinite reports whether every value is neither NaN nor infinite.
func AllFinite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
