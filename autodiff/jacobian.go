package autodiff

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/dual"
)

// FG is a vector valued function of n variables whose output packs an objective and m
// constraints: out[0] is the objective and out[1:] are the constraint values. It must be
// evaluable on both plain and dual inputs, typically by implementing both methods through one
// generic function over Field. Neither method may branch on the value of its inputs.
type FG interface {
	NumVars() int
	NumConstraints() int
	EvalFG(out, x []float64)
	EvalFGDual(out, x []dual.Number)
}

// Terms is an FG whose objective is a sum of terms that each touch few variables.
type Terms interface {
	FG
	// NumTerms returns how many terms the objective sums.
	NumTerms() int
	// EvalTermsDual writes the objective terms followed by the m constraint values into out.
	EvalTermsDual(out, x []dual.Number)
}

// ErrDimension is returned when a buffer does not match the dimensions of an FG.
var ErrDimension = errors.New("dimension mismatch")

type entry struct {
	row, pos int
}

// Sparse differentiates an FG using its sparsity. Each row of output is a constraint or, for a
// Terms FG, one objective term. Variables sharing no row are seeded in the same forward pass,
// so a banded problem costs a handful of passes however many variables it has.
type Sparse struct {
	n, m, terms int
	eval        func(out, x []dual.Number)

	rows   [][]int
	derivs [][]float64
	groups [][]int
	hits   [][]entry

	xd   []dual.Number
	outd []dual.Number
}

// NewSparse finds the row structure of fg and groups its variables. An FG that is not Terms
// is treated as a single objective term.
func NewSparse(fg FG) *Sparse {
	s := &Sparse{
		n:     fg.NumVars(),
		m:     fg.NumConstraints(),
		terms: 1,
		eval:  fg.EvalFGDual,
	}
	if t, ok := fg.(Terms); ok {
		s.terms = t.NumTerms()
		s.eval = t.EvalTermsDual
	}
	rows := s.terms + s.m
	s.rows = make([][]int, rows)
	s.derivs = make([][]float64, rows)
	s.xd = make([]dual.Number, s.n)
	s.outd = make([]dual.Number, rows)

	// a NaN seed survives every arithmetic step, so it marks each row the variable reaches.
	nan := dual.Number{Emag: math.NaN()}
	for i := 0; i < s.n; i++ {
		s.xd[i] = nan
		s.eval(s.outd, s.xd)
		s.xd[i] = dual.Number{}
		for r, o := range s.outd {
			if math.IsNaN(o.Emag) {
				s.rows[r] = append(s.rows[r], i)
			}
		}
	}
	for r := range s.rows {
		s.derivs[r] = make([]float64, len(s.rows[r]))
	}
	s.color(rows)
	return s
}

// color greedily assigns each variable the first group none of whose rows it touches.
func (s *Sparse) color(rows int) {
	touches := make([][]int, s.n)
	for r, vars := range s.rows {
		for _, v := range vars {
			touches[v] = append(touches[v], r)
		}
	}
	var claimed [][]bool
	for v := 0; v < s.n; v++ {
		if len(touches[v]) == 0 {
			continue
		}
		g := 0
		for ; g < len(s.groups); g++ {
			free := true
			for _, r := range touches[v] {
				if claimed[g][r] {
					free = false
					break
				}
			}
			if free {
				break
			}
		}
		if g == len(s.groups) {
			s.groups = append(s.groups, nil)
			claimed = append(claimed, make([]bool, rows))
		}
		s.groups[g] = append(s.groups[g], v)
		for _, r := range touches[v] {
			claimed[g][r] = true
		}
	}

	group := make([]int, s.n)
	for g, vars := range s.groups {
		for _, v := range vars {
			group[v] = g
		}
	}
	s.hits = make([][]entry, len(s.groups))
	for r, vars := range s.rows {
		for k, v := range vars {
			g := group[v]
			s.hits[g] = append(s.hits[g], entry{row: r, pos: k})
		}
	}
}

// Passes returns how many forward passes one Eval makes.
func (s *Sparse) Passes() int {
	if len(s.groups) == 0 {
		return 1
	}
	return len(s.groups)
}

// Eval writes the objective and constraint values at x into out, laid out as for FG, and the
// objective gradient into grad. Constraint derivatives are then available through Row.
func (s *Sparse) Eval(x, out, grad []float64) error {
	switch {
	case len(x) != s.n:
		return errors.Wrapf(ErrDimension, "got %d variables, want %d", len(x), s.n)
	case len(out) != s.m+1:
		return errors.Wrapf(ErrDimension, "got %d outputs, want %d", len(out), s.m+1)
	case len(grad) != s.n:
		return errors.Wrapf(ErrDimension, "got gradient of size %d, want %d", len(grad), s.n)
	}
	for i, v := range x {
		s.xd[i] = dual.Number{Real: v}
	}
	if len(s.groups) == 0 {
		s.eval(s.outd, s.xd)
	}
	for g, vars := range s.groups {
		for _, v := range vars {
			s.xd[v].Emag = 1
		}
		s.eval(s.outd, s.xd)
		for _, v := range vars {
			s.xd[v].Emag = 0
		}
		for _, e := range s.hits[g] {
			s.derivs[e.row][e.pos] = s.outd[e.row].Emag
		}
	}

	out[0] = 0
	for r := 0; r < s.terms; r++ {
		out[0] += s.outd[r].Real
	}
	for j := 0; j < s.m; j++ {
		out[1+j] = s.outd[s.terms+j].Real
	}
	for i := range grad {
		grad[i] = 0
	}
	for r := 0; r < s.terms; r++ {
		for k, v := range s.rows[r] {
			grad[v] += s.derivs[r][k]
		}
	}
	return nil
}

// Row returns the variables constraint j depends on and its derivatives with respect to them as
// of the last Eval. The slices are owned by s.
func (s *Sparse) Row(j int) ([]int, []float64) {
	return s.rows[s.terms+j], s.derivs[s.terms+j]
}
