// Package main runs the MPC controller as a websocket server for a vehicle simulator.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/mpc/config"
	"go.viam.com/mpc/control"
	"go.viam.com/mpc/logging"
	"go.viam.com/mpc/session"
	"go.viam.com/mpc/solver"
	"go.viam.com/mpc/viz"
)

const (
	flagConfig    = "config"
	flagPort      = "port"
	flagLogLevel  = "log-level"
	flagEngine    = "engine"
	flagNoLatency = "no-latency"
	flagPlotDir   = "plot-dir"
	flagPlotEvery = "plot-every"
	flagHeartbeat = "heartbeat-window"

	engineNLopt  = "nlopt"
	engineAugLag = "auglag"
)

func main() {
	app := &cli.App{
		Name:  "mpc-server",
		Usage: "steer a simulated vehicle along its reference path with model predictive control",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load planning configuration from `FILE`",
			},
			&cli.IntFlag{
				Name:  flagPort,
				Value: session.DefaultPort,
				Usage: "port to accept vehicle connections on",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Value: "info",
				Usage: "one of debug, info, warn, error",
			},
			&cli.StringFlag{
				Name:  flagEngine,
				Value: engineNLopt,
				Usage: fmt.Sprintf("solver engine, %q or %q", engineNLopt, engineAugLag),
			},
			&cli.BoolFlag{
				Name:  flagNoLatency,
				Usage: "emit commands without injecting the actuator latency",
			},
			&cli.StringFlag{
				Name:  flagPlotDir,
				Usage: "save a plot of the reference and predicted paths into `DIR`",
			},
			&cli.DurationFlag{
				Name:  flagHeartbeat,
				Value: session.DefaultHeartbeatWindow,
				Usage: "drop a vehicle that sends nothing for this long",
			},
			&cli.IntFlag{
				Name:  flagPlotEvery,
				Value: 10,
				Usage: "plot one cycle out of every `N`",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger := logging.NewLogger("mpc")
	level, err := logging.LevelFromString(c.String(flagLogLevel))
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		cfg, err = config.Read(path)
		if err != nil {
			return err
		}
	}

	engine, err := newEngine(c.String(flagEngine), logger.Sublogger("solver"))
	if err != nil {
		return err
	}

	var loopOpts []control.Option
	if c.Bool(flagNoLatency) {
		loopOpts = append(loopOpts, control.WithoutLatencyInjection())
	}
	if dir := c.String(flagPlotDir); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return errors.Wrap(err, "cannot create plot directory")
		}
		recorder := viz.NewCycleRecorder(dir, c.Int(flagPlotEvery), logger.Sublogger("viz"))
		loopOpts = append(loopOpts, control.WithCycleObserver(recorder.Observe))
	}

	srv, err := session.NewServer(cfg, engine, logger,
		session.WithLoopOptions(loopOpts...),
		session.WithHeartbeatWindow(c.Duration(flagHeartbeat)),
	)
	if err != nil {
		return err
	}
	if _, err := srv.Start(fmt.Sprintf(":%d", c.Int(flagPort))); err != nil {
		return err
	}
	logger.Infow("controller ready",
		"engine", c.String(flagEngine),
		"horizon", cfg.Horizon,
		"step", cfg.StepDuration,
		"target_speed", cfg.TargetSpeed,
		"latency", cfg.ActuatorLatency,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("shutting down")
	return srv.Close()
}

func newEngine(name string, logger logging.Logger) (solver.Engine, error) {
	switch name {
	case engineNLopt:
		engine, err := solver.NewNLoptEngine(logger)
		if err != nil {
			return nil, err
		}
		return engine, nil
	case engineAugLag:
		return solver.NewAugLagEngine(logger), nil
	default:
		return nil, errors.Errorf("unknown engine %q", name)
	}
}
