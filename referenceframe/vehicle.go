// Package referenceframe maps reference waypoints between the world frame and the vehicle frame.
package referenceframe

import (
	"math"

	"github.com/golang/geo/r2"
)

// Pose is a planar vehicle pose in the world frame. Psi is the heading in radians, measured
// counter-clockwise from the world x axis.
type Pose struct {
	X   float64
	Y   float64
	Psi float64
}

// Point returns the position of the pose.
func (p Pose) Point() r2.Point {
	return r2.Point{X: p.X, Y: p.Y}
}

// ToVehicle maps a world frame point into the frame centered on the pose, with the x axis
// pointing along the heading.
func (p Pose) ToVehicle(world r2.Point) r2.Point {
	return rotate(world.Sub(p.Point()), -p.Psi)
}

// ToVehicleFrame transforms world frame waypoints, given as parallel coordinate lists, into the
// frame of the vehicle at pose. Point count and order are preserved.
func ToVehicleFrame(ptsX, ptsY []float64, pose Pose) ([]float64, []float64, error) {
	if len(ptsX) != len(ptsY) {
		return nil, nil, NewMismatchedWaypointsError(len(ptsX), len(ptsY))
	}
	if len(ptsX) == 0 {
		return nil, nil, ErrNoWaypoints
	}

	xs := make([]float64, len(ptsX))
	ys := make([]float64, len(ptsY))
	for i := range ptsX {
		local := pose.ToVehicle(r2.Point{X: ptsX[i], Y: ptsY[i]})
		xs[i], ys[i] = local.X, local.Y
	}
	return xs, ys, nil
}

func rotate(p r2.Point, theta float64) r2.Point {
	sin, cos := math.Sincos(theta)
	return r2.Point{
		X: p.X*cos - p.Y*sin,
		Y: p.X*sin + p.Y*cos,
	}
}
