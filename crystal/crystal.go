// Package crystal holds the immutable description of the crystal structure
// consumed by the scattering engine: lattice vectors, atomic basis, species
// masses, and the dielectric metadata needed by the polar correction.
package crystal

import (
	"fmt"
	"math"
)

// Vec3 is a Cartesian 3-vector.
type Vec3 [3]float64

// Mat3 is a row-major 3x3 matrix.
type Mat3 [3][3]float64

// MulVec returns m * v.
func (m Mat3) MulVec(v Vec3) Vec3 {
	var out Vec3
	for i := 0; i < 3; i++ {
		out[i] = m[i][0]*v[0] + m[i][1]*v[1] + m[i][2]*v[2]
	}
	return out
}

// Dot returns the scalar product a . b.
func Dot(a, b Vec3) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

// Norm returns |v|.
func (v Vec3) Norm() float64 { return math.Sqrt(Dot(v, v)) }

// Add returns a + b.
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }

// Sub returns a - b.
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]} }

// Scale returns s * v.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{s * v[0], s * v[1], s * v[2]} }

// Crystal describes the unit cell. All quantities are in atomic units
// (Bohr, Rydberg) and the struct is read-only after construction.
type Crystal struct {
	DirectCell     Mat3 // rows are the direct lattice vectors
	ReciprocalCell Mat3 // rows are the reciprocal lattice vectors (2*pi included)
	Volume         float64

	AtomicPositions []Vec3    // Cartesian, length NumAtoms
	AtomicSpecies   []int     // species index per atom
	SpeciesMasses   []float64 // mass per species

	// Dielectric metadata for polar materials. Zero-valued when the
	// upstream parser found no dielectric tensor.
	DielectricTensor Mat3
	BornCharges      [][3][3]float64 // per atom: Z*(cartesian, polarization)
}

// New builds a Crystal from the direct cell and atomic basis, deriving the
// reciprocal cell and the cell volume.
func New(directCell Mat3, positions []Vec3, species []int, masses []float64) (*Crystal, error) {
	if len(positions) == 0 {
		return nil, fmt.Errorf("crystal: empty atomic basis")
	}
	if len(species) != len(positions) {
		return nil, fmt.Errorf("crystal: species length %d != positions length %d",
			len(species), len(positions))
	}
	for _, s := range species {
		if s < 0 || s >= len(masses) {
			return nil, fmt.Errorf("crystal: species index %d out of range", s)
		}
	}

	vol := tripleProduct(directCell)
	if math.Abs(vol) < 1e-14 {
		return nil, fmt.Errorf("crystal: degenerate direct cell, volume %g", vol)
	}

	c := &Crystal{
		DirectCell:      directCell,
		Volume:          math.Abs(vol),
		AtomicPositions: positions,
		AtomicSpecies:   species,
		SpeciesMasses:   masses,
	}
	c.ReciprocalCell = reciprocal(directCell, vol)
	return c, nil
}

// NumAtoms returns the number of atoms in the unit cell.
func (c *Crystal) NumAtoms() int { return len(c.AtomicPositions) }

// NumSpecies returns the number of distinct species.
func (c *Crystal) NumSpecies() int { return len(c.SpeciesMasses) }

// AtomMass returns the mass of atom ia.
func (c *Crystal) AtomMass(ia int) float64 {
	return c.SpeciesMasses[c.AtomicSpecies[ia]]
}

// HasPolarMetadata reports whether a polar long-range correction is
// meaningful: a non-negligible dielectric tensor, Born charges, and more
// than one species. A single-species cell has vanishing net correction.
func (c *Crystal) HasPolarMetadata() bool {
	if len(c.BornCharges) != c.NumAtoms() {
		return false
	}
	norm := 0.0
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			norm += c.DielectricTensor[i][j] * c.DielectricTensor[i][j]
		}
	}
	return norm > 1e-10 && c.NumSpecies() > 1
}

func tripleProduct(m Mat3) float64 {
	a, b, c := m[0], m[1], m[2]
	return a[0]*(b[1]*c[2]-b[2]*c[1]) -
		a[1]*(b[0]*c[2]-b[2]*c[0]) +
		a[2]*(b[0]*c[1]-b[1]*c[0])
}

// reciprocal returns the reciprocal lattice vectors, 2*pi convention.
func reciprocal(m Mat3, vol float64) Mat3 {
	cross := func(a, b Vec3) Vec3 {
		return Vec3{
			a[1]*b[2] - a[2]*b[1],
			a[2]*b[0] - a[0]*b[2],
			a[0]*b[1] - a[1]*b[0],
		}
	}
	rows := [3]Vec3{m[0], m[1], m[2]}
	var out Mat3
	for i := 0; i < 3; i++ {
		g := cross(rows[(i+1)%3], rows[(i+2)%3]).Scale(2 * math.Pi / vol)
		out[i] = [3]float64(g)
	}
	return out
}
