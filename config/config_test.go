package config

import (
	"math"
	"testing"
	"time"

	"go.viam.com/test"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	test.That(t, cfg.StepSeconds(), test.ShouldAlmostEqual, 0.15)
	test.That(t, cfg.SteerLimit, test.ShouldAlmostEqual, 25*math.Pi/180)
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name     string
		mutate   func(cfg *PlanningConfig)
		expected string
	}{
		{"short horizon", func(cfg *PlanningConfig) { cfg.Horizon = 2 }, `"horizon"`},
		{"zero step", func(cfg *PlanningConfig) { cfg.StepDuration = 0 }, `"step_duration"`},
		{"negative steer limit", func(cfg *PlanningConfig) { cfg.SteerLimit = -1 }, `"steer_limit_rad"`},
		{"nan accel limit", func(cfg *PlanningConfig) { cfg.AccelLimit = math.NaN() }, `"accel_limit"`},
		{"zero lf", func(cfg *PlanningConfig) { cfg.Lf = 0 }, `"lf"`},
		{"infinite target speed", func(cfg *PlanningConfig) { cfg.TargetSpeed = math.Inf(1) }, `"target_speed_mps"`},
		{"negative latency", func(cfg *PlanningConfig) { cfg.ActuatorLatency = -time.Millisecond }, `"actuator_latency"`},
		{"no time limit", func(cfg *PlanningConfig) { cfg.SolverTimeLimit = 0 }, `"solver_time_limit"`},
		{"negative weight", func(cfg *PlanningConfig) { cfg.Weights.AccelRate = -1 }, `"weights.accel_rate"`},
		{"bad heading reference", func(cfg *PlanningConfig) { cfg.HeadingErrorReference = "rear_axle" }, "rear_axle"},
		{"bad policy", func(cfg *PlanningConfig) { cfg.FailurePolicy = "retry" }, "retry"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.expected)
		})
	}
}

func TestValidateCombinesErrors(t *testing.T) {
	cfg := Default()
	cfg.Horizon = 0
	cfg.Lf = 0
	err := cfg.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"horizon"`)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"lf"`)
}
