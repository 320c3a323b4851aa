package smearing

import (
	"math"
	"sort"

	"github.com/transportlab/bte/bands"
	"github.com/transportlab/bte/mesh"
)

// Tetrahedron implements the linear tetrahedron method on the mesh
// tessellation. The weight of state (q, b) for delta(E - e_b(q)) is the
// sum, over the tetrahedra having q as a corner, of the analytic
// corner-resolved delta weights of the linearly interpolated band. It also
// exposes the density of states, which is the sum of all corner weights.
type Tetrahedron struct {
	bs   *bands.BandStructure
	tess *mesh.Tessellation

	// adjacency: for every point, which (tetrahedron, corner) pairs touch it
	adj [][]tetCorner
}

type tetCorner struct {
	tet    int
	corner int
}

// NewTetrahedron tessellates the band structure's grid and precomputes the
// corner adjacency.
func NewTetrahedron(bs *bands.BandStructure) *Tetrahedron {
	tess := mesh.Tessellate(bs.Grid())
	adj := make([][]tetCorner, bs.NumPoints())
	for it, tet := range tess.Tets {
		for c, iq := range tet {
			adj[iq] = append(adj[iq], tetCorner{tet: it, corner: c})
		}
	}
	return &Tetrahedron{bs: bs, tess: tess, adj: adj}
}

// Weight implements DeltaFunction. The hint must carry the state: the
// returned value approximates delta(E - e_band(point)) with
// E = e_band(point) + deltaE, interpolating band `band` over the
// tessellation.
func (t *Tetrahedron) Weight(deltaE float64, hint Hint) float64 {
	if !hint.HasState {
		return 0
	}
	energy := t.bs.Energies(hint.Point)[hint.Band] + deltaE
	return t.StateWeight(energy, hint.Point, hint.Band)
}

// StateWeight returns the delta weight of state (iq, ib) at the given
// absolute energy.
func (t *Tetrahedron) StateWeight(energy float64, iq, ib int) float64 {
	total := 0.0
	for _, tc := range t.adj[iq] {
		var corners [4]float64
		for c, ip := range t.tess.Tets[tc.tet] {
			e := t.bs.Energies(ip)
			if ib >= len(e) {
				return 0
			}
			corners[c] = e[ib]
		}
		w := cornerDeltaWeights(energy, corners, t.tess.VolumeFraction)
		total += w[tc.corner]
	}
	if total < 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return 0
	}
	return total
}

// DOS returns the density of states per unit cell at the given energy.
func (t *Tetrahedron) DOS(energy float64) float64 {
	total := 0.0
	maxBands := 0
	for iq := 0; iq < t.bs.NumPoints(); iq++ {
		if nb := t.bs.NumBands(iq); nb > maxBands {
			maxBands = nb
		}
	}
	for ib := 0; ib < maxBands; ib++ {
		for _, tet := range t.tess.Tets {
			var corners [4]float64
			ok := true
			for c, ip := range tet {
				e := t.bs.Energies(ip)
				if ib >= len(e) {
					ok = false
					break
				}
				corners[c] = e[ib]
			}
			if !ok {
				continue
			}
			sorted := corners
			sort.Float64s(sorted[:])
			total += tetDOS(energy, sorted, t.tess.VolumeFraction)
		}
	}
	if total < 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return 0
	}
	return total
}

// degenTol guards the divided differences of nearly flat tetrahedra.
const degenTol = 1e-12

// tetDOS is the density of states of one tetrahedron with sorted corner
// energies e[0] <= e[1] <= e[2] <= e[3] and volume vt.
func tetDOS(x float64, e [4]float64, vt float64) float64 {
	if x <= e[0] || x >= e[3] {
		return 0
	}
	e21, e31, e41 := e[1]-e[0], e[2]-e[0], e[3]-e[0]
	e32, e42, e43 := e[2]-e[1], e[3]-e[1], e[3]-e[2]
	switch {
	case x < e[1]:
		d := e21 * e31 * e41
		if d < degenTol {
			return degenFallback(x, e, vt)
		}
		dx := x - e[0]
		return 3 * vt * dx * dx / d
	case x < e[2]:
		d := e31 * e41
		if d < degenTol || e32 < degenTol || e42 < degenTol {
			return degenFallback(x, e, vt)
		}
		dx := x - e[1]
		return 3 * vt / d * (e21 + 2*dx - (e31+e42)*dx*dx/(e32*e42))
	default:
		d := e41 * e42 * e43
		if d < degenTol {
			return degenFallback(x, e, vt)
		}
		dx := e[3] - x
		return 3 * vt * dx * dx / d
	}
}

// degenFallback replaces the divided-difference formulas with a narrow
// Gaussian when the tetrahedron is energetically flat, so flat bands
// contribute a finite spike instead of NaN.
func degenFallback(x float64, e [4]float64, vt float64) float64 {
	mean := (e[0] + e[1] + e[2] + e[3]) / 4
	width := e[3] - e[0]
	if width < widthFloor {
		width = widthFloor
	}
	u := (x - mean) / width
	if u > 20 || u < -20 {
		return 0
	}
	return vt * math.Exp(-u*u) * invSqrtPi / width
}

// cornerDeltaWeights returns the delta weight of each (unsorted) corner of
// a tetrahedron with corner energies e at energy x. The weights are the
// energy derivatives of the Bloechl integration weights; their sum equals
// the tetrahedron DOS.
func cornerDeltaWeights(x float64, e [4]float64, vt float64) [4]float64 {
	var out [4]float64

	// sort corners, remembering the permutation
	order := [4]int{0, 1, 2, 3}
	for i := 1; i < 4; i++ {
		for j := i; j > 0 && e[order[j]] < e[order[j-1]]; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
	var s [4]float64
	for i, o := range order {
		s[i] = e[o]
	}

	if x <= s[0] || x >= s[3] {
		return out
	}

	e21, e31, e41 := s[1]-s[0], s[2]-s[0], s[3]-s[0]
	e32, e42, e43 := s[2]-s[1], s[3]-s[1], s[3]-s[2]

	var w [4]float64 // in sorted order
	switch {
	case x < s[1]:
		d := e21 * e31 * e41
		if d < degenTol {
			g := degenFallback(x, s, vt) / 4
			w = [4]float64{g, g, g, g}
			break
		}
		dos := 3 * vt * (x - s[0]) * (x - s[0]) / d
		t2 := (x - s[0]) / e21
		t3 := (x - s[0]) / e31
		t4 := (x - s[0]) / e41
		w[0] = dos / 3 * (3 - t2 - t3 - t4)
		w[1] = dos / 3 * t2
		w[2] = dos / 3 * t3
		w[3] = dos / 3 * t4
	case x < s[2]:
		if e31 < degenTol || e41 < degenTol || e32 < degenTol || e42 < degenTol {
			g := degenFallback(x, s, vt) / 4
			w = [4]float64{g, g, g, g}
			break
		}
		// derivatives of Bloechl's A7-A10 middle-region weights
		q := vt / 4
		c1 := q * (x - s[0]) * (x - s[0]) / (e41 * e31)
		c1p := q * 2 * (x - s[0]) / (e41 * e31)
		c2 := q * (x - s[0]) * (x - s[1]) * (s[2] - x) / (e41 * e32 * e31)
		c2p := q * ((x-s[1])*(s[2]-x) + (x-s[0])*(s[2]-x) - (x-s[0])*(x-s[1])) /
			(e41 * e32 * e31)
		c3 := q * (x - s[1]) * (x - s[1]) * (s[3] - x) / (e42 * e32 * e41)
		c3p := q * (2*(x-s[1])*(s[3]-x) - (x-s[1])*(x-s[1])) / (e42 * e32 * e41)

		w[0] = c1p + (c1p+c2p)*(s[2]-x)/e31 - (c1+c2)/e31 +
			(c1p+c2p+c3p)*(s[3]-x)/e41 - (c1+c2+c3)/e41
		w[1] = c1p + c2p + c3p + (c2p+c3p)*(s[2]-x)/e32 - (c2+c3)/e32 +
			c3p*(s[3]-x)/e42 - c3/e42
		w[2] = (c1p+c2p)*(x-s[0])/e31 + (c1+c2)/e31 +
			(c2p+c3p)*(x-s[1])/e32 + (c2+c3)/e32
		w[3] = (c1p+c2p+c3p)*(x-s[0])/e41 + (c1+c2+c3)/e41 +
			c3p*(x-s[1])/e42 + c3/e42
	default:
		d := e41 * e42 * e43
		if d < degenTol {
			g := degenFallback(x, s, vt) / 4
			w = [4]float64{g, g, g, g}
			break
		}
		dos := 3 * vt * (s[3] - x) * (s[3] - x) / d
		t1 := (s[3] - x) / e41
		t2 := (s[3] - x) / e42
		t3 := (s[3] - x) / e43
		w[0] = dos / 3 * t1
		w[1] = dos / 3 * t2
		w[2] = dos / 3 * t3
		w[3] = dos / 3 * (3 - t1 - t2 - t3)
	}

	for i, o := range order {
		v := w[i]
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		out[o] = v
	}
	return out
}
