// Package mesh provides the Gamma-centered regular Brillouin-zone grid and
// the integer index arithmetic that makes momentum conservation exact:
// adding, subtracting and inverting wavevectors always folds the result
// back into the first zone (Umklapp) by modulo arithmetic on mesh indices.
package mesh

import (
	"fmt"

	"github.com/transportlab/bte/crystal"
)

// Grid is a regular N1 x N2 x N3 Gamma-centered mesh of the Brillouin zone.
type Grid struct {
	N [3]int
}

// NewGrid validates the mesh dimensions.
func NewGrid(n1, n2, n3 int) (Grid, error) {
	if n1 < 1 || n2 < 1 || n3 < 1 {
		return Grid{}, fmt.Errorf("mesh: invalid grid %dx%dx%d", n1, n2, n3)
	}
	return Grid{N: [3]int{n1, n2, n3}}, nil
}

// NumPoints returns the total number of mesh points.
func (g Grid) NumPoints() int { return g.N[0] * g.N[1] * g.N[2] }

// Index muxes integer coordinates into a flat point index. Coordinates are
// folded first, so any integer triple is a valid argument.
func (g Grid) Index(i, j, k int) int {
	i, j, k = fold(i, g.N[0]), fold(j, g.N[1]), fold(k, g.N[2])
	return (k*g.N[1]+j)*g.N[0] + i
}

// Unravel demuxes a flat point index into integer coordinates.
func (g Grid) Unravel(iq int) (i, j, k int) {
	i = iq % g.N[0]
	j = (iq / g.N[0]) % g.N[1]
	k = iq / (g.N[0] * g.N[1])
	return
}

// Add returns the index of q_a + q_b folded into the first zone.
func (g Grid) Add(iqa, iqb int) int {
	ai, aj, ak := g.Unravel(iqa)
	bi, bj, bk := g.Unravel(iqb)
	return g.Index(ai+bi, aj+bj, ak+bk)
}

// Sub returns the index of q_a - q_b folded into the first zone.
func (g Grid) Sub(iqa, iqb int) int {
	ai, aj, ak := g.Unravel(iqa)
	bi, bj, bk := g.Unravel(iqb)
	return g.Index(ai-bi, aj-bj, ak-bk)
}

// Invert returns the index of -q folded into the first zone, the
// time-reversed partner of iq.
func (g Grid) Invert(iq int) int {
	i, j, k := g.Unravel(iq)
	return g.Index(-i, -j, -k)
}

// Crystal returns the fractional (crystal) coordinates of point iq,
// each component in [0,1).
func (g Grid) Crystal(iq int) crystal.Vec3 {
	i, j, k := g.Unravel(iq)
	return crystal.Vec3{
		float64(i) / float64(g.N[0]),
		float64(j) / float64(g.N[1]),
		float64(k) / float64(g.N[2]),
	}
}

// Cartesian returns the Cartesian coordinates of point iq given the
// reciprocal cell (rows are reciprocal lattice vectors).
func (g Grid) Cartesian(iq int, reciprocalCell crystal.Mat3) crystal.Vec3 {
	c := g.Crystal(iq)
	var out crystal.Vec3
	for d := 0; d < 3; d++ {
		out[d] = c[0]*reciprocalCell[0][d] + c[1]*reciprocalCell[1][d] + c[2]*reciprocalCell[2][d]
	}
	return out
}

// MeshSpacing returns the Cartesian spacing vectors between neighboring mesh
// points along the three grid directions. Used by the adaptive smearing to
// scale the broadening with the local band dispersion.
func (g Grid) MeshSpacing(reciprocalCell crystal.Mat3) [3]crystal.Vec3 {
	var out [3]crystal.Vec3
	for a := 0; a < 3; a++ {
		for d := 0; d < 3; d++ {
			out[a][d] = reciprocalCell[a][d] / float64(g.N[a])
		}
	}
	return out
}

// fold maps any integer onto [0,n) with periodic wraparound.
func fold(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}
