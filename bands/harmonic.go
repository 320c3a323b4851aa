package bands

import (
	"math"

	"github.com/transportlab/bte/crystal"
	"github.com/transportlab/bte/mesh"
	"github.com/transportlab/bte/stats"
)

// Harmonic diagonalizes the harmonic Hamiltonian at an arbitrary Cartesian
// wavevector. The scattering builder only needs it when a folded q3 falls
// off the known inner mesh, e.g. when computing linewidths on a path.
type Harmonic interface {
	// NumBands returns the band count, constant across q.
	NumBands() int
	// DiagonalizeAtCoords returns band energies and the eigenvector
	// matrix (EigRows x NumBands, row-major) at Cartesian q.
	DiagonalizeAtCoords(q crystal.Vec3) (energies []float64, eigvecs []complex128)
}

// AnalyticHarmonic is a closed-form two-band toy model with sinusoidal
// dispersion, used by tests and examples. Band ib has energy
//
//	e_ib(q) = Offset[ib] + Amplitude[ib] * (3 - cos(a1.q) - cos(a2.q) - cos(a3.q)) / 3
//
// with a_i the direct lattice vectors, so the dispersion is periodic on the
// reciprocal lattice and smooth across the zone boundary.
type AnalyticHarmonic struct {
	DirectCell crystal.Mat3
	Offset     []float64
	Amplitude  []float64
}

// NumBands implements Harmonic.
func (h *AnalyticHarmonic) NumBands() int { return len(h.Offset) }

// DiagonalizeAtCoords implements Harmonic. Eigenvectors are the identity:
// the toy model carries no band mixing.
func (h *AnalyticHarmonic) DiagonalizeAtCoords(q crystal.Vec3) ([]float64, []complex128) {
	shape := 3.0
	for d := 0; d < 3; d++ {
		shape -= math.Cos(crystal.Dot(crystal.Vec3(h.DirectCell[d]), q))
	}
	shape /= 3.0

	nb := h.NumBands()
	energies := make([]float64, nb)
	eigvecs := make([]complex128, nb*nb)
	for ib := 0; ib < nb; ib++ {
		energies[ib] = h.Offset[ib] + h.Amplitude[ib]*shape
		eigvecs[ib*nb+ib] = 1
	}
	return energies, eigvecs
}

// Velocity returns the analytic group velocity of band ib at Cartesian q.
func (h *AnalyticHarmonic) Velocity(ib int, q crystal.Vec3) crystal.Vec3 {
	var v crystal.Vec3
	for d := 0; d < 3; d++ {
		a := crystal.Vec3(h.DirectCell[d])
		s := math.Sin(crystal.Dot(a, q)) * h.Amplitude[ib] / 3.0
		v = v.Add(a.Scale(s))
	}
	return v
}

// Populate diagonalizes h on every point of the grid and returns the frozen
// band structure, with analytic group velocities attached.
func (h *AnalyticHarmonic) Populate(grid mesh.Grid, particle stats.Particle, reciprocalCell crystal.Mat3) (*BandStructure, error) {
	b := NewBuilder(grid, particle, h.NumBands())
	for iq := 0; iq < grid.NumPoints(); iq++ {
		q := grid.Cartesian(iq, reciprocalCell)
		energies, eigvecs := h.DiagonalizeAtCoords(q)
		vels := make([]crystal.Vec3, len(energies))
		for ib := range vels {
			vels[ib] = h.Velocity(ib, q)
		}
		if err := b.SetPoint(iq, energies, vels, eigvecs); err != nil {
			return nil, err
		}
	}
	return b.Build()
}
