// Package control runs the per-cycle pipeline that turns vehicle telemetry into an actuation
// command: frame transform, path fit, problem formulation, solve, action selection and latency
// injection.
package control

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/mpc/config"
	"go.viam.com/mpc/logging"
	"go.viam.com/mpc/mpc"
	"go.viam.com/mpc/referenceframe"
	"go.viam.com/mpc/solver"
	"go.viam.com/mpc/telemetry"
	"go.viam.com/mpc/trajectory"
)

var (
	// ErrInput is returned for cycles whose telemetry cannot be used. No command is emitted.
	ErrInput = errors.New("invalid telemetry")
	// ErrFit is returned for cycles whose reference path cannot be modelled. No command is
	// emitted.
	ErrFit = errors.New("reference path fit failed")
	// ErrSolve is returned for cycles whose solve failed under the skip policy.
	ErrSolve = errors.New("solve failed")
)

// CycleReport describes one completed cycle.
type CycleReport struct {
	Started time.Time
	Pose    referenceframe.Pose
	// ReferenceX and ReferenceY are the waypoints in the vehicle frame.
	ReferenceX []float64
	ReferenceY []float64
	Path       trajectory.Polynomial
	State      mpc.VehicleState
	Status     solver.Status
	Solution   *mpc.Solution
	Command    *telemetry.Command
	// Fallback is set when Command came from the failure policy rather than a solve.
	Fallback  bool
	SolveTime time.Duration
	Elapsed   time.Duration
	Err       error
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock sets the clock used for latency injection and timing.
func WithClock(c clock.Clock) Option {
	return func(l *Loop) { l.clock = c }
}

// WithoutLatencyInjection emits commands as soon as they are computed.
func WithoutLatencyInjection() Option {
	return func(l *Loop) { l.noLatency = true }
}

// WithCycleObserver registers a function called with the report of every cycle, including
// failed ones. It runs synchronously before Step returns.
func WithCycleObserver(observer func(CycleReport)) Option {
	return func(l *Loop) { l.observers = append(l.observers, observer) }
}

// Loop runs control cycles for one vehicle. Cycles are serialised; the only state carried
// between them is the last command produced by a successful solve and solve timing samples.
type Loop struct {
	cfg       config.PlanningConfig
	engine    solver.Engine
	logger    logging.Logger
	clock     clock.Clock
	noLatency bool
	latency   *LatencyInjector
	observers []func(CycleReport)

	mu       sync.Mutex
	lastGood *telemetry.Command
	stats    solveStats
}

// NewLoop returns a loop planning with cfg and solving with engine.
func NewLoop(cfg config.PlanningConfig, engine solver.Engine, logger logging.Logger, opts ...Option) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if engine == nil {
		return nil, errors.New("control loop needs a solver engine")
	}
	l := &Loop{
		cfg:    cfg,
		engine: engine,
		logger: logger,
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.latency = NewLatencyInjector(l.clock, cfg.ActuatorLatency)
	return l, nil
}

// SolveStats summarises recent solve times.
func (l *Loop) SolveStats() SolveSummary {
	return l.stats.summary()
}

// Step runs one cycle. It returns the command to emit, or an error and no command when the
// cycle is skipped. A failed solve under the hold or decelerate policy still yields a command.
func (l *Loop) Step(ctx context.Context, tel telemetry.Telemetry) (*telemetry.Command, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	report := CycleReport{Started: l.clock.Now(), Pose: tel.Pose()}
	cmd, err := l.plan(&report, tel)
	if err == nil && cmd != nil && !l.noLatency {
		err = l.latency.Inject(ctx)
		if err != nil {
			cmd = nil
		}
	}
	report.Command = cmd
	report.Err = err
	report.Elapsed = l.clock.Since(report.Started)

	if err != nil {
		l.logger.Warnw("control cycle skipped", "error", err, "status", report.Status)
	} else {
		l.logger.Debugw("control cycle complete",
			"steer", cmd.SteeringAngle,
			"throttle", cmd.Throttle,
			"cte", report.State.CTE,
			"epsi", report.State.EPsi,
			"solve_time", report.SolveTime,
			"fallback", report.Fallback,
		)
	}
	for _, observer := range l.observers {
		observer(report)
	}
	return cmd, err
}

func (l *Loop) plan(report *CycleReport, tel telemetry.Telemetry) (*telemetry.Command, error) {
	if err := tel.Validate(); err != nil {
		return nil, cycleError(ErrInput, err)
	}
	xs, ys, err := referenceframe.ToVehicleFrame(tel.PtsX, tel.PtsY, tel.Pose())
	if err != nil {
		return nil, cycleError(ErrInput, err)
	}
	report.ReferenceX, report.ReferenceY = xs, ys

	path, err := trajectory.Fit(xs, ys, trajectory.CubicOrder)
	if err != nil {
		return nil, cycleError(ErrFit, err)
	}
	report.Path = path
	report.State = mpc.NewVehicleState(tel.SpeedMPS(), path, l.headingReferenceX(tel.Pose()))

	formulation, err := mpc.Formulate(l.cfg, report.State, path)
	if err != nil {
		return nil, cycleError(ErrFit, err)
	}

	res, err := l.engine.Solve(formulation.Problem(), l.cfg.SolverTimeLimit)
	if err != nil {
		report.Status = solver.StatusNumericalFailure
		return l.onSolveFailure(report, errors.Wrap(err, "engine rejected problem"))
	}
	report.Status = res.Status
	report.SolveTime = res.Elapsed
	l.stats.add(res.Elapsed)

	sol, err := mpc.SelectAction(l.cfg, formulation.Layout, res)
	if err != nil {
		return l.onSolveFailure(report, err)
	}
	report.Solution = sol

	cmd := &telemetry.Command{
		SteeringAngle: sol.Steer,
		Throttle:      sol.Throttle,
		MPCX:          sol.PredictedX,
		MPCY:          sol.PredictedY,
		NextX:         xs,
		NextY:         ys,
	}
	l.lastGood = cmd
	return cmd, nil
}

// onSolveFailure applies the configured failure policy.
func (l *Loop) onSolveFailure(report *CycleReport, cause error) (*telemetry.Command, error) {
	policy := l.cfg.FailurePolicy
	l.logger.Warnw("solve failed", "error", cause, "status", report.Status, "policy", policy)

	var cmd telemetry.Command
	switch {
	case policy == config.FailureSkip:
		return nil, cycleError(ErrSolve, cause)
	case policy == config.FailureHold && l.lastGood != nil:
		cmd = *l.lastGood
	default:
		cmd = telemetry.Command{SteeringAngle: 0, Throttle: -l.cfg.AccelLimit}
	}
	cmd.MPCX, cmd.MPCY = []float64{}, []float64{}
	cmd.NextX, cmd.NextY = report.ReferenceX, report.ReferenceY
	report.Fallback = true
	return &cmd, nil
}

func (l *Loop) headingReferenceX(pose referenceframe.Pose) float64 {
	if l.cfg.HeadingErrorReference == config.HeadingAtWorldX {
		return pose.X
	}
	return 0
}

// cycleError tags cause with the kind of cycle failure; both match errors.Is.
func cycleError(kind, cause error) error {
	return fmt.Errorf("%w: %w", kind, cause)
}
