// Package telemetry defines what the vehicle reports each cycle and the command sent back, along
// with the socket.io event framing both travel in.
package telemetry

import (
	"encoding/json"

	"github.com/pkg/errors"

	"go.viam.com/mpc/referenceframe"
	"go.viam.com/mpc/utils"
)

var (
	// ErrMissingField is returned when a telemetry message omits a required field.
	ErrMissingField = errors.New("telemetry field missing")
	// ErrMismatchedWaypoints is returned when ptsx and ptsy differ in length.
	ErrMismatchedWaypoints = referenceframe.ErrMismatchedWaypoints
	// ErrNotFinite is returned when a telemetry value is NaN or infinite.
	ErrNotFinite = errors.New("telemetry value is not finite")
)

// Telemetry is one cycle of vehicle state in the world frame. Speed is in miles per hour as
// reported by the simulator.
type Telemetry struct {
	PtsX  []float64 `json:"ptsx"`
	PtsY  []float64 `json:"ptsy"`
	X     float64   `json:"x"`
	Y     float64   `json:"y"`
	Psi   float64   `json:"psi"`
	Speed float64   `json:"speed"`
}

// Pose returns the vehicle pose.
func (t Telemetry) Pose() referenceframe.Pose {
	return referenceframe.Pose{X: t.X, Y: t.Y, Psi: t.Psi}
}

// SpeedMPS returns the speed in meters per second.
func (t Telemetry) SpeedMPS() float64 {
	return utils.MPHToMPS(t.Speed)
}

// Validate checks that the waypoint lists pair up and that every value is finite.
func (t Telemetry) Validate() error {
	if len(t.PtsX) != len(t.PtsY) {
		return referenceframe.NewMismatchedWaypointsError(len(t.PtsX), len(t.PtsY))
	}
	if !utils.AllFinite(t.X, t.Y, t.Psi, t.Speed) {
		return errors.Wrapf(ErrNotFinite, "pose (%v, %v, %v) speed %v", t.X, t.Y, t.Psi, t.Speed)
	}
	if !utils.AllFinite(t.PtsX...) || !utils.AllFinite(t.PtsY...) {
		return errors.Wrap(ErrNotFinite, "waypoints")
	}
	return nil
}

type rawTelemetry struct {
	PtsX  []float64 `json:"ptsx"`
	PtsY  []float64 `json:"ptsy"`
	X     *float64  `json:"x"`
	Y     *float64  `json:"y"`
	Psi   *float64  `json:"psi"`
	Speed *float64  `json:"speed"`
}

// Decode parses and validates the JSON data of a telemetry event.
func Decode(data []byte) (Telemetry, error) {
	var raw rawTelemetry
	if err := json.Unmarshal(data, &raw); err != nil {
		return Telemetry{}, errors.Wrap(err, "malformed telemetry")
	}
	for _, field := range []struct {
		name    string
		present bool
	}{
		{"ptsx", raw.PtsX != nil},
		{"ptsy", raw.PtsY != nil},
		{"x", raw.X != nil},
		{"y", raw.Y != nil},
		{"psi", raw.Psi != nil},
		{"speed", raw.Speed != nil},
	} {
		if !field.present {
			return Telemetry{}, errors.Wrapf(ErrMissingField, "%q", field.name)
		}
	}
	t := Telemetry{
		PtsX:  raw.PtsX,
		PtsY:  raw.PtsY,
		X:     *raw.X,
		Y:     *raw.Y,
		Psi:   *raw.Psi,
		Speed: *raw.Speed,
	}
	if err := t.Validate(); err != nil {
		return Telemetry{}, err
	}
	return t, nil
}

// Command is the actuation and diagnostics sent back for one cycle. MPCX/MPCY are the predicted
// path and NextX/NextY the reference path, both in the vehicle frame.
type Command struct {
	SteeringAngle float64   `json:"steering_angle"`
	Throttle      float64   `json:"throttle"`
	MPCX          []float64 `json:"mpc_x"`
	MPCY          []float64 `json:"mpc_y"`
	NextX         []float64 `json:"next_x"`
	NextY         []float64 `json:"next_y"`
}
