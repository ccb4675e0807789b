package mpc

import (
	"github.com/pkg/errors"

	"go.viam.com/mpc/config"
	"go.viam.com/mpc/solver"
	"go.viam.com/mpc/utils"
)

// ActuationStep is the index of the actuation that is emitted. The actuation at step 0 would
// already be stale by the time the actuator applies it, so the next one is used.
const ActuationStep = 1

// ErrSolveFailed is returned when a solve did not succeed, so no actuation can be read from it.
var ErrSolveFailed = errors.New("solve did not succeed")

// Solution is the actuation chosen from a solved horizon along with the predicted path.
type Solution struct {
	// Steer is the normalised steering command in [-1, 1]. Positive steers right, the opposite of
	// the model's steering angle.
	Steer float64
	// Throttle is the acceleration actuation.
	Throttle   float64
	PredictedX []float64
	PredictedY []float64
	Objective  float64
}

// SelectAction reads the latency compensated actuation from a solve result. A result whose
// status is not success is rejected before any of its values are read.
func SelectAction(cfg config.PlanningConfig, layout Layout, res *solver.Result) (*Solution, error) {
	if res == nil {
		return nil, errors.Wrap(ErrSolveFailed, "no result")
	}
	if res.Status != solver.StatusSuccess {
		return nil, errors.Wrapf(ErrSolveFailed, "status %s", res.Status)
	}
	if len(res.X) != layout.NumVars() {
		return nil, errors.Wrapf(solver.ErrDimension, "solution has %d values, want %d", len(res.X), layout.NumVars())
	}
	if layout.Steps(FieldDelta) <= ActuationStep {
		return nil, errors.Errorf("horizon %d has no actuation at step %d", layout.Horizon(), ActuationStep)
	}

	delta := res.X[layout.Index(FieldDelta, ActuationStep)]
	sol := &Solution{
		Steer:      utils.Clamp(-delta/cfg.SteerLimit, -1, 1),
		Throttle:   res.X[layout.Index(FieldA, ActuationStep)],
		PredictedX: append([]float64(nil), res.X[layout.Start(FieldX):layout.End(FieldX)]...),
		PredictedY: append([]float64(nil), res.X[layout.Start(FieldY):layout.End(FieldY)]...),
		Objective:  res.Objective,
	}
	return sol, nil
}
