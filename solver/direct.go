package solver

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/transportlab/bte/scattering"
)

// Direct solves the dense collision operator by spectral pseudo-inverse.
// The operator has an exact null space (particle conservation) plus
// near-null directions from finite smearing; both are projected out
// instead of failing the solve.
type Direct struct {
	// RelativeCutoff drops eigenvalues below this fraction of the
	// largest one. Zero selects the default.
	RelativeCutoff float64
	Logger         *slog.Logger
}

const defaultRelativeCutoff = 1e-10

// Solve returns the populations f with A f = b per calculation index and
// Cartesian direction. A is symmetrized before decomposition.
func (d *Direct) Solve(m *scattering.Matrix, source *scattering.Vector) (*scattering.Vector, error) {
	if m == nil || source == nil ||
		m.NumCalcs() != source.NumCalcs() || m.NumStates() != source.NumStates() {
		return nil, fmt.Errorf("%w: direct solve input shapes", scattering.ErrConfiguration)
	}
	cutoff := d.RelativeCutoff
	if cutoff <= 0 {
		cutoff = defaultRelativeCutoff
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ns := m.NumStates()
	f, err := scattering.NewVector(source.NumCalcs(), ns, source.Dims())
	if err != nil {
		return nil, err
	}

	for ic := 0; ic < m.NumCalcs(); ic++ {
		sym := mat.NewSymDense(ns, nil)
		a := m.Block(ic)
		for i := 0; i < ns; i++ {
			for j := i; j < ns; j++ {
				sym.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
			}
		}
		var eig mat.EigenSym
		if !eig.Factorize(sym, true) {
			return nil, fmt.Errorf("solver: eigendecomposition failed for calculation %d", ic)
		}
		vals := eig.Values(nil)
		var vecs mat.Dense
		eig.VectorsTo(&vecs)

		largest := 0.0
		for _, v := range vals {
			if math.Abs(v) > largest {
				largest = math.Abs(v)
			}
		}
		dropped := 0
		inv := make([]float64, ns)
		for i, v := range vals {
			if math.Abs(v) <= cutoff*largest {
				dropped++
				continue
			}
			inv[i] = 1 / v
		}
		if dropped > 0 {
			logger.Debug("projected out near-null directions",
				"calculation", ic, "count", dropped)
		}

		// f = V diag(inv) V^T b per direction
		b := make([]float64, ns)
		proj := make([]float64, ns)
		for dir := 0; dir < source.Dims(); dir++ {
			for is := 0; is < ns; is++ {
				b[is] = source.At(ic, is, dir)
			}
			for k := 0; k < ns; k++ {
				if inv[k] == 0 {
					proj[k] = 0
					continue
				}
				s := 0.0
				for is := 0; is < ns; is++ {
					s += vecs.At(is, k) * b[is]
				}
				proj[k] = s * inv[k]
			}
			for is := 0; is < ns; is++ {
				s := 0.0
				for k := 0; k < ns; k++ {
					s += vecs.At(is, k) * proj[k]
				}
				f.Set(ic, is, dir, s)
			}
		}
	}
	return f, nil
}
