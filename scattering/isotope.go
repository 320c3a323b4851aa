package scattering

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/transportlab/bte/bands"
	"github.com/transportlab/bte/pool"
	"github.com/transportlab/bte/smearing"
	"github.com/transportlab/bte/stats"
)

// Isotope computes the elastic mass-variance scattering rate on the
// diagonal of the collision operator:
//
//	Gamma1 += (pi/2) e1 e2 sum_a g2_a |<ev1(a)|ev2(a)>|² delta(e1 - e2)
//
// with g2 the Pearson mass-variance parameter per atom. The process is
// occupation-independent, so one rate serves every calculation index.
type Isotope struct {
	Pool  *pool.Pool
	Sweep *stats.Sweep
	Bands *bands.BandStructure
	Delta smearing.DeltaFunction
	// G2 is the mass-variance parameter per atom, length EigRows/3.
	G2 []float64
}

// Diagonal returns the isotope linewidth vector, shaped like the
// three-phonon diagonal so callers can Add the two.
func (s *Isotope) Diagonal() (*Vector, error) {
	if s.Sweep == nil || s.Bands == nil || s.Delta == nil {
		return nil, fmt.Errorf("%w: missing required inputs", ErrConfiguration)
	}
	if 3*len(s.G2) != s.Bands.EigRows() {
		return nil, fmt.Errorf("%w: %d mass variances for %d eigenvector rows",
			ErrConfiguration, len(s.G2), s.Bands.EigRows())
	}
	p := s.Pool
	if p == nil {
		p = pool.Single()
	}
	bs := s.Bands
	grid := bs.Grid()
	nq := grid.NumPoints()
	norm := deltaNorm(s.Delta, nq)
	nCalc := s.Sweep.NumCalculations()

	lw, err := NewVector(nCalc, bs.NumStates(), 1)
	if err != nil {
		return nil, err
	}

	start, stop := p.DivideWork(nq)
	for iq1 := start; iq1 < stop; iq1++ {
		e1s := bs.Energies(iq1)
		v1s := bs.Velocities(iq1)
		ev1 := bs.Eigenvectors(iq1)
		nb1 := len(e1s)
		for iq2 := 0; iq2 < nq; iq2++ {
			e2s := bs.Energies(iq2)
			v2s := bs.Velocities(iq2)
			ev2 := bs.Eigenvectors(iq2)
			nb2 := len(e2s)
			for ib1 := 0; ib1 < nb1; ib1++ {
				e1 := e1s[ib1]
				if e1 < energyCutoff {
					continue
				}
				is1 := bs.StateIndex(iq1, ib1)
				for ib2 := 0; ib2 < nb2; ib2++ {
					e2 := e2s[ib2]
					if e2 < energyCutoff {
						continue
					}
					var h smearing.Hint
					if v1s != nil && v2s != nil {
						h.VelocityDifference = v1s[ib1].Sub(v2s[ib2])
						h.HasVelocity = true
					}
					h.Point = iq2
					h.Band = ib2
					h.HasState = true
					w := s.Delta.Weight(e1-e2, h)
					if w == 0 {
						continue
					}
					rate := math.Pi / 2 * e1 * e2 * norm * w *
						massVarianceOverlap(ev1, nb1, ib1, ev2, nb2, ib2, s.G2)
					for ic := 0; ic < nCalc; ic++ {
						lw.AddAt(ic, is1, 0, rate)
					}
				}
			}
		}
	}
	if err := lw.allReduce(p); err != nil {
		return nil, err
	}
	return lw, nil
}

// massVarianceOverlap sums g2_a |sum_pol conj(ev1) ev2|² over the atoms.
func massVarianceOverlap(ev1 []complex128, nb1, ib1 int,
	ev2 []complex128, nb2, ib2 int, g2 []float64) float64 {

	total := 0.0
	for ia, g := range g2 {
		z := complex(0, 0)
		for pol := 0; pol < 3; pol++ {
			row := bands.EigRow(ia, pol)
			z += cmplx.Conj(ev1[row*nb1+ib1]) * ev2[row*nb2+ib2]
		}
		re, im := real(z), imag(z)
		total += g * (re*re + im*im)
	}
	return total
}
