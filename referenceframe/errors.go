package referenceframe

import "github.com/pkg/errors"

var (
	// ErrNoWaypoints is returned when a reference path has no points to transform.
	ErrNoWaypoints = errors.New("reference path has no waypoints")
	// ErrMismatchedWaypoints is returned when the x and y coordinate lists differ in length.
	ErrMismatchedWaypoints = errors.New("waypoint x and y lists differ in length")
)

// NewMismatchedWaypointsError returns an error wrapping ErrMismatchedWaypoints with the lengths.
func NewMismatchedWaypointsError(xs, ys int) error {
	return errors.Wrapf(ErrMismatchedWaypoints, "%d x values, %d y values", xs, ys)
}
