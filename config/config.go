// Package config defines the planning configuration of the controller and how it is read.
package config

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/mpc/utils"
)

// HeadingErrorReference selects the x coordinate at which the reference path slope is sampled
// when computing the initial heading error.
type HeadingErrorReference string

const (
	// HeadingAtWorldX samples the fitted path at the vehicle's world-frame x coordinate. The
	// polynomial lives in the vehicle frame, so this is only exact when the vehicle sits at the
	// world origin; it is kept as the default because the tuned cost weights were found with it.
	HeadingAtWorldX HeadingErrorReference = "world_x"
	// HeadingAtVehicleOrigin samples the fitted path at the vehicle-frame origin (x = 0).
	HeadingAtVehicleOrigin HeadingErrorReference = "vehicle_origin"
)

// FailurePolicy decides what a control cycle emits when the solver does not succeed.
type FailurePolicy string

const (
	// FailureHold re-emits the last command produced by a successful solve, falling back to
	// FailureDecelerate when there is none.
	FailureHold FailurePolicy = "hold"
	// FailureDecelerate emits a centered steering command with full braking.
	FailureDecelerate FailurePolicy = "decelerate"
	// FailureSkip emits nothing for the cycle.
	FailureSkip FailurePolicy = "skip"
)

// CostWeights scales each term of the MPC objective.
type CostWeights struct {
	CrossTrack   float64 `json:"cross_track"`
	HeadingError float64 `json:"heading_error"`
	Speed        float64 `json:"speed"`
	Steer        float64 `json:"steer"`
	Accel        float64 `json:"accel"`
	SteerRate    float64 `json:"steer_rate"`
	AccelRate    float64 `json:"accel_rate"`
}

// PlanningConfig holds every parameter of the planner. It is built once at startup and passed
// by value; nothing mutates it afterwards.
type PlanningConfig struct {
	// Horizon is the number of predicted states N.
	Horizon int `json:"horizon"`
	// StepDuration is the discretisation step dt between predicted states.
	StepDuration time.Duration `json:"step_duration"`
	// TargetSpeed is the reference speed in meters per second.
	TargetSpeed float64 `json:"target_speed_mps"`
	// SteerLimit bounds the steering angle, in radians. It also normalises the emitted steering
	// command.
	SteerLimit float64 `json:"steer_limit_rad"`
	// AccelLimit bounds the acceleration actuation.
	AccelLimit float64 `json:"accel_limit"`
	// Lf is the distance from the front axle to the center of gravity, in meters.
	Lf float64 `json:"lf"`
	// ActuatorLatency is the delay injected before a command is emitted.
	ActuatorLatency time.Duration `json:"actuator_latency"`
	// SolverTimeLimit is the wall clock budget of one solve.
	SolverTimeLimit time.Duration `json:"solver_time_limit"`

	Weights               CostWeights           `json:"weights"`
	HeadingErrorReference HeadingErrorReference `json:"heading_error_reference"`
	FailurePolicy         FailurePolicy         `json:"failure_policy"`
}

const (
	defaultHorizon         = 10
	defaultStepDuration    = 150 * time.Millisecond
	defaultTargetSpeed     = 10.
	defaultSteerLimitDeg   = 25.
	defaultAccelLimit      = 0.5
	defaultLf              = 2.67
	defaultActuatorLatency = 100 * time.Millisecond
	defaultSolverTimeLimit = 500 * time.Millisecond

	// minHorizon is the smallest horizon with an actuation at the latency compensated step.
	minHorizon = 3
)

// Default returns the configuration the controller was tuned with.
func Default() PlanningConfig {
	return PlanningConfig{
		Horizon:         defaultHorizon,
		StepDuration:    defaultStepDuration,
		TargetSpeed:     defaultTargetSpeed,
		SteerLimit:      utils.DegToRad(defaultSteerLimitDeg),
		AccelLimit:      defaultAccelLimit,
		Lf:              defaultLf,
		ActuatorLatency: defaultActuatorLatency,
		SolverTimeLimit: defaultSolverTimeLimit,
		Weights: CostWeights{
			CrossTrack:   1,
			HeadingError: 1,
			Speed:        1,
			Steer:        1,
			Accel:        1,
			SteerRate:    1,
			AccelRate:    1,
		},
		HeadingErrorReference: HeadingAtWorldX,
		FailurePolicy:         FailureHold,
	}
}

// StepSeconds returns the discretisation step in seconds.
func (cfg PlanningConfig) StepSeconds() float64 {
	return cfg.StepDuration.Seconds()
}

// Validate returns every problem with the configuration combined into one error.
func (cfg PlanningConfig) Validate() error {
	var errs error
	if cfg.Horizon < minHorizon {
		errs = multierr.Append(errs, NewConfigValidationError("horizon",
			errors.Errorf("must be at least %d, got %d", minHorizon, cfg.Horizon)))
	}
	if cfg.StepDuration <= 0 {
		errs = multierr.Append(errs, NewConfigValidationError("step_duration", errors.New("must be positive")))
	}
	errs = multierr.Append(errs, validatePositive("steer_limit_rad", cfg.SteerLimit))
	errs = multierr.Append(errs, validatePositive("accel_limit", cfg.AccelLimit))
	errs = multierr.Append(errs, validatePositive("lf", cfg.Lf))
	if math.IsNaN(cfg.TargetSpeed) || math.IsInf(cfg.TargetSpeed, 0) {
		errs = multierr.Append(errs, NewConfigValidationError("target_speed_mps", errors.New("must be finite")))
	}
	if cfg.ActuatorLatency < 0 {
		errs = multierr.Append(errs, NewConfigValidationError("actuator_latency", errors.New("must not be negative")))
	}
	if cfg.SolverTimeLimit <= 0 {
		errs = multierr.Append(errs, NewConfigValidationError("solver_time_limit", errors.New("must be positive")))
	}
	errs = multierr.Append(errs, cfg.Weights.Validate("weights"))

	switch cfg.HeadingErrorReference {
	case HeadingAtWorldX, HeadingAtVehicleOrigin:
	default:
		errs = multierr.Append(errs, NewConfigValidationError("heading_error_reference",
			errors.Errorf("unknown reference %q", cfg.HeadingErrorReference)))
	}
	switch cfg.FailurePolicy {
	case FailureHold, FailureDecelerate, FailureSkip:
	default:
		errs = multierr.Append(errs, NewConfigValidationError("failure_policy",
			errors.Errorf("unknown policy %q", cfg.FailurePolicy)))
	}
	return errs
}

// Validate ensures all weights are finite and non-negative.
func (w CostWeights) Validate(path string) error {
	var errs error
	for _, term := range []struct {
		name   string
		weight float64
	}{
		{"cross_track", w.CrossTrack},
		{"heading_error", w.HeadingError},
		{"speed", w.Speed},
		{"steer", w.Steer},
		{"accel", w.Accel},
		{"steer_rate", w.SteerRate},
		{"accel_rate", w.AccelRate},
	} {
		if term.weight < 0 || math.IsNaN(term.weight) || math.IsInf(term.weight, 0) {
			errs = multierr.Append(errs, NewConfigValidationError(path+"."+term.name,
				errors.Errorf("must be a finite non-negative number, got %v", term.weight)))
		}
	}
	return errs
}

func validatePositive(path string, value float64) error {
	if !(value > 0) || math.IsInf(value, 0) {
		return NewConfigValidationError(path, errors.Errorf("must be a finite positive number, got %v", value))
	}
	return nil
}

// NewConfigValidationError returns an error specifying that there was an error validating the
// field at the given path.
func NewConfigValidationError(path string, err error) error {
	return errors.Wrapf(err, "error validating %q", path)
}
