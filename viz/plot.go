// Package viz renders control cycles as plots of the reference path against the predicted one.
package viz

import (
	"fmt"
	"image/color"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"go.viam.com/mpc/control"
	"go.viam.com/mpc/logging"
)

const (
	plotWidth  = 6 * vg.Inch
	plotHeight = 4 * vg.Inch
	fitSamples = 50
)

var (
	referenceColor  = color.RGBA{R: 200, G: 120, B: 0, A: 255}
	predictionColor = color.RGBA{G: 160, B: 60, A: 255}
	fitColor        = color.RGBA{B: 200, A: 255}
)

// PlotCycle draws the vehicle frame reference waypoints, the fitted path and the predicted
// trajectory of one cycle and saves the plot to path. The format follows the file extension.
func PlotCycle(report control.CycleReport, path string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("cycle at %s", report.Started.Format("15:04:05.000"))
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"
	p.Legend.Top = true

	if len(report.ReferenceX) > 0 {
		refPts := xys(report.ReferenceX, report.ReferenceY)
		scatter, err := plotter.NewScatter(refPts)
		if err != nil {
			return errors.Wrap(err, "could not plot reference waypoints")
		}
		scatter.Color = referenceColor
		p.Add(scatter)
		p.Legend.Add("reference", scatter)

		if len(report.Path) > 0 {
			fitLine, err := plotter.NewLine(sampleFit(report, refPts))
			if err != nil {
				return errors.Wrap(err, "could not plot fitted path")
			}
			fitLine.Color = fitColor
			fitLine.Width = vg.Points(1)
			p.Add(fitLine)
			p.Legend.Add("fit", fitLine)
		}
	}

	if report.Solution != nil && len(report.Solution.PredictedX) > 0 {
		line, err := plotter.NewLine(xys(report.Solution.PredictedX, report.Solution.PredictedY))
		if err != nil {
			return errors.Wrap(err, "could not plot prediction")
		}
		line.Color = predictionColor
		line.Width = vg.Points(2)
		p.Add(line)
		p.Legend.Add("prediction", line)
	}

	return p.Save(plotWidth, plotHeight, path)
}

func xys(xs, ys []float64) plotter.XYs {
	pts := make(plotter.XYs, 0, len(xs))
	for i := range xs {
		pts = append(pts, plotter.XY{X: xs[i], Y: ys[i]})
	}
	return pts
}

func sampleFit(report control.CycleReport, refPts plotter.XYs) plotter.XYs {
	xmin, xmax, _, _ := plotter.XYRange(refPts)
	pts := make(plotter.XYs, fitSamples)
	for i := range pts {
		x := xmin + (xmax-xmin)*float64(i)/float64(fitSamples-1)
		pts[i] = plotter.XY{X: x, Y: report.Path.Eval(x)}
	}
	return pts
}

// CycleRecorder saves a plot every Every cycles into a directory. Its Observe method is meant to
// be registered with control.WithCycleObserver.
type CycleRecorder struct {
	dir    string
	every  int
	logger logging.Logger

	mu    sync.Mutex
	count int
}

// NewCycleRecorder returns a recorder writing PNG files into dir.
func NewCycleRecorder(dir string, every int, logger logging.Logger) *CycleRecorder {
	if every < 1 {
		every = 1
	}
	return &CycleRecorder{dir: dir, every: every, logger: logger}
}

// Observe plots the cycle if it is due. Failed cycles are skipped.
func (r *CycleRecorder) Observe(report control.CycleReport) {
	r.mu.Lock()
	r.count++
	n := r.count
	r.mu.Unlock()

	if report.Err != nil || (n-1)%r.every != 0 {
		return
	}
	path := filepath.Join(r.dir, fmt.Sprintf("cycle-%06d.png", n))
	if err := PlotCycle(report, path); err != nil {
		r.logger.Warnw("failed to plot cycle", "error", err, "path", path)
	}
}
