//go:build no_cgo

package solver

import (
	"time"

	"github.com/pkg/errors"

	"go.viam.com/mpc/logging"
)

// NLoptEngine mimics the type in the cgo compiled code.
type NLoptEngine struct{}

// NewNLoptEngine is not supported on no_cgo builds.
func NewNLoptEngine(logger logging.Logger) (*NLoptEngine, error) {
	return nil, errors.New("nlopt is not supported on this build")
}

// Solve refuses to solve problems without cgo.
func (e *NLoptEngine) Solve(p *Problem, timeLimit time.Duration) (*Result, error) {
	return nil, errors.New("cannot solve with nlopt without cgo")
}
