// Package bands holds the band structure consumed by the scattering
// builders: per-point energies, group velocities and eigenvectors, plus the
// combined (point, band) state indexing that flattens a variable number of
// bands per point into one stable global index.
package bands

import (
	"fmt"

	"github.com/transportlab/bte/crystal"
	"github.com/transportlab/bte/mesh"
	"github.com/transportlab/bte/stats"
)

// EigRow maps (atom, polarization) to the row of a phonon eigenvector
// matrix. Electron eigenvectors index Wannier orbitals directly.
func EigRow(iat, ipol int) int { return 3*iat + ipol }

// BandStructure stores the harmonic solution on a mesh. It is built once
// and read-only afterwards; the (point, band) -> state index bijection is
// computed at construction and stable for the lifetime of the object.
type BandStructure struct {
	grid     mesh.Grid
	particle stats.Particle

	energies   [][]float64       // [point][band]
	velocities [][]crystal.Vec3  // [point][band], nil when absent
	eigvecs    [][]complex128    // [point][row*nb + band], nil when absent
	eigRows    int               // rows of one eigenvector matrix

	offsets   []int // cumulative band offsets per point
	numStates int
}

// Builder collects per-point data; Build freezes it into a BandStructure.
type Builder struct {
	bs *BandStructure
}

// NewBuilder starts a band structure on the given grid. eigRows is the row
// count of the eigenvector matrices (3*numAtoms for phonons, numWannier for
// electrons); pass 0 when eigenvectors are not stored.
func NewBuilder(grid mesh.Grid, particle stats.Particle, eigRows int) *Builder {
	n := grid.NumPoints()
	return &Builder{bs: &BandStructure{
		grid:       grid,
		particle:   particle,
		energies:   make([][]float64, n),
		velocities: make([][]crystal.Vec3, n),
		eigvecs:    make([][]complex128, n),
		eigRows:    eigRows,
	}}
}

// SetPoint stores the bands at point iq. velocities and eigvecs may be nil.
func (b *Builder) SetPoint(iq int, energies []float64, velocities []crystal.Vec3, eigvecs []complex128) error {
	bs := b.bs
	if iq < 0 || iq >= len(bs.energies) {
		return fmt.Errorf("bands: point index %d out of range", iq)
	}
	if velocities != nil && len(velocities) != len(energies) {
		return fmt.Errorf("bands: %d velocities for %d bands at point %d",
			len(velocities), len(energies), iq)
	}
	if eigvecs != nil && len(eigvecs) != bs.eigRows*len(energies) {
		return fmt.Errorf("bands: eigenvector size %d != %d x %d at point %d",
			len(eigvecs), bs.eigRows, len(energies), iq)
	}
	bs.energies[iq] = energies
	bs.velocities[iq] = velocities
	bs.eigvecs[iq] = eigvecs
	return nil
}

// Build freezes the band structure and computes the combined indexing.
func (b *Builder) Build() (*BandStructure, error) {
	bs := b.bs
	bs.offsets = make([]int, len(bs.energies)+1)
	for iq, e := range bs.energies {
		if len(e) == 0 {
			return nil, fmt.Errorf("bands: point %d has no bands", iq)
		}
		bs.offsets[iq+1] = bs.offsets[iq] + len(e)
	}
	bs.numStates = bs.offsets[len(bs.energies)]
	b.bs = nil
	return bs, nil
}

// Grid returns the underlying mesh.
func (bs *BandStructure) Grid() mesh.Grid { return bs.grid }

// Particle returns the statistics kind of the bands.
func (bs *BandStructure) Particle() stats.Particle { return bs.particle }

// NumPoints returns the number of mesh points.
func (bs *BandStructure) NumPoints() int { return len(bs.energies) }

// NumStates returns the total state count, the sum over points of the
// bands per point.
func (bs *BandStructure) NumStates() int { return bs.numStates }

// NumBands returns the band count at point iq.
func (bs *BandStructure) NumBands(iq int) int { return len(bs.energies[iq]) }

// EigRows returns the row count of one eigenvector matrix.
func (bs *BandStructure) EigRows() int { return bs.eigRows }

// StateIndex returns the combined state index of (point, band).
func (bs *BandStructure) StateIndex(iq, ib int) int { return bs.offsets[iq] + ib }

// Bloch inverts StateIndex, returning (point, band) for a combined index.
func (bs *BandStructure) Bloch(is int) (iq, ib int) {
	// binary search over cumulative offsets
	lo, hi := 0, len(bs.offsets)-1
	for lo+1 < hi {
		mid := (lo + hi) / 2
		if bs.offsets[mid] <= is {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo, is - bs.offsets[lo]
}

// Energies returns the band energies at point iq. Callers must not mutate.
func (bs *BandStructure) Energies(iq int) []float64 { return bs.energies[iq] }

// Energy returns the energy of combined state is.
func (bs *BandStructure) Energy(is int) float64 {
	iq, ib := bs.Bloch(is)
	return bs.energies[iq][ib]
}

// Velocities returns the group velocities at point iq, or nil.
func (bs *BandStructure) Velocities(iq int) []crystal.Vec3 { return bs.velocities[iq] }

// Eigenvectors returns the eigenvector matrix at point iq (row-major,
// EigRows x NumBands), or nil.
func (bs *BandStructure) Eigenvectors(iq int) []complex128 { return bs.eigvecs[iq] }

// Same reports whether two band structures are the same object or carry
// identical states on the same grid. The scattering builder uses it to
// decide whether q3 lookups stay on the mesh, so matching shapes with
// different energies must not count as identical.
func (bs *BandStructure) Same(other *BandStructure) bool {
	if bs == other {
		return true
	}
	if other == nil || bs.grid != other.grid || bs.numStates != other.numStates {
		return false
	}
	for iq := range bs.energies {
		if len(bs.energies[iq]) != len(other.energies[iq]) {
			return false
		}
		for ib, e := range bs.energies[iq] {
			if e != other.energies[iq][ib] {
				return false
			}
		}
	}
	return true
}
