// Package scattering builds the linearized collision operator of the
// Boltzmann transport equation in three interchangeable shapes: the full
// dense matrix, its diagonal (the linewidths), or the matrix-free action
// on a population vector. One builder run produces exactly one shape,
// chosen at construction.
package scattering

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/transportlab/bte/pool"
)

// ErrConfiguration reports an invalid builder setup, such as an unknown
// output mode or a matrix request over mismatched meshes.
var ErrConfiguration = errors.New("scattering: invalid configuration")

// ErrBandCount reports inconsistent band counts between a wavevector and
// its time-reversed image, which would break the operator's symmetry.
var ErrBandCount = errors.New("scattering: inconsistent band counts")

// Mode selects the builder output shape.
type Mode int

const (
	// ModeDiagonal computes only the linewidths.
	ModeDiagonal Mode = iota
	// ModeMatrix materializes the full dense operator plus its diagonal.
	ModeMatrix
	// ModeApply computes the operator's action on a given vector.
	ModeApply
)

func (m Mode) String() string {
	switch m {
	case ModeDiagonal:
		return "diagonal"
	case ModeMatrix:
		return "matrix"
	case ModeApply:
		return "apply"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func (m Mode) valid() bool {
	return m == ModeDiagonal || m == ModeMatrix || m == ModeApply
}

// Vector is a population-like quantity resolved over calculation indices
// and combined states, optionally with a Cartesian direction axis. The
// dimensionality is fixed at construction.
type Vector struct {
	numCalcs  int
	numStates int
	dims      int // 1 or 3
	data      []float64
}

// NewVector allocates a zero vector. dims must be 1 or 3.
func NewVector(numCalcs, numStates, dims int) (*Vector, error) {
	if numCalcs < 1 || numStates < 1 || (dims != 1 && dims != 3) {
		return nil, fmt.Errorf("%w: vector shape (%d, %d, %d)",
			ErrConfiguration, numCalcs, numStates, dims)
	}
	return &Vector{
		numCalcs:  numCalcs,
		numStates: numStates,
		dims:      dims,
		data:      make([]float64, numCalcs*numStates*dims),
	}, nil
}

// NumCalcs returns the calculation-axis length.
func (v *Vector) NumCalcs() int { return v.numCalcs }

// NumStates returns the state-axis length.
func (v *Vector) NumStates() int { return v.numStates }

// Dims returns 1 or 3.
func (v *Vector) Dims() int { return v.dims }

func (v *Vector) idx(ic, is, d int) int {
	return (ic*v.numStates+is)*v.dims + d
}

// At returns the entry (calc, state, direction).
func (v *Vector) At(ic, is, d int) float64 { return v.data[v.idx(ic, is, d)] }

// Set stores the entry (calc, state, direction).
func (v *Vector) Set(ic, is, d int, x float64) { v.data[v.idx(ic, is, d)] = x }

// AddAt accumulates into the entry (calc, state, direction).
func (v *Vector) AddAt(ic, is, d int, x float64) { v.data[v.idx(ic, is, d)] += x }

// Scale multiplies the whole vector by s.
func (v *Vector) Scale(s float64) {
	for i := range v.data {
		v.data[i] *= s
	}
}

// Add accumulates o into v. Shapes must match.
func (v *Vector) Add(o *Vector) error {
	return v.AddScaled(o, 1)
}

// AddScaled accumulates s*o into v. Shapes must match.
func (v *Vector) AddScaled(o *Vector, s float64) error {
	if !v.sameShape(o) {
		return fmt.Errorf("%w: vector shape mismatch", ErrConfiguration)
	}
	for i, x := range o.data {
		v.data[i] += s * x
	}
	return nil
}

// Norm returns the Euclidean norm over all entries.
func (v *Vector) Norm() float64 {
	s := 0.0
	for _, x := range v.data {
		s += x * x
	}
	return math.Sqrt(s)
}

// Clone returns a deep copy.
func (v *Vector) Clone() *Vector {
	c := *v
	c.data = append([]float64(nil), v.data...)
	return &c
}

// Zero resets every entry.
func (v *Vector) Zero() {
	for i := range v.data {
		v.data[i] = 0
	}
}

// Data exposes the flat storage, ordered (calc, state, direction). Used by
// the pool reductions and the solvers.
func (v *Vector) Data() []float64 { return v.data }

func (v *Vector) sameShape(o *Vector) bool {
	return o != nil && v.numCalcs == o.numCalcs &&
		v.numStates == o.numStates && v.dims == o.dims
}

// allReduce sums the vector across the pool.
func (v *Vector) allReduce(p *pool.Pool) error {
	return p.AllReduceSum(v.data)
}

// Matrix is the dense collision operator, one numStates x numStates block
// per calculation index. Only meaningful when inner and outer states run
// over the same band structure.
type Matrix struct {
	numCalcs  int
	numStates int
	blocks    []*mat.Dense
}

// NewMatrix allocates zero blocks.
func NewMatrix(numCalcs, numStates int) (*Matrix, error) {
	if numCalcs < 1 || numStates < 1 {
		return nil, fmt.Errorf("%w: matrix shape (%d, %d)",
			ErrConfiguration, numCalcs, numStates)
	}
	m := &Matrix{numCalcs: numCalcs, numStates: numStates}
	m.blocks = make([]*mat.Dense, numCalcs)
	for ic := range m.blocks {
		m.blocks[ic] = mat.NewDense(numStates, numStates, nil)
	}
	return m, nil
}

// NumCalcs returns the number of blocks.
func (m *Matrix) NumCalcs() int { return m.numCalcs }

// NumStates returns the block dimension.
func (m *Matrix) NumStates() int { return m.numStates }

// Block returns the dense operator of one calculation index.
func (m *Matrix) Block(ic int) *mat.Dense { return m.blocks[ic] }

// AddAt accumulates into entry (i, j) of block ic.
func (m *Matrix) AddAt(ic, i, j int, x float64) {
	m.blocks[ic].Set(i, j, m.blocks[ic].At(i, j)+x)
}

// allReduce sums every block across the pool.
func (m *Matrix) allReduce(p *pool.Pool) error {
	for _, b := range m.blocks {
		if err := p.AllReduceSum(b.RawMatrix().Data); err != nil {
			return err
		}
	}
	return nil
}
