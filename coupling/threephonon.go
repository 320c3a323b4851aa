package coupling

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/transportlab/bte/crystal"
	"github.com/transportlab/bte/device"
)

// Triplet is one anharmonic force-constant block: the third derivative of
// the lattice energy with one atom in the origin cell and the other two
// displaced by R2 and R3 (cartesian). D is flat [3na][3na][3na], indices
// being the band-structure eigenvector rows 3*atom+polarization.
type Triplet struct {
	R2, R3 crystal.Vec3
	D      []float64
}

// ThreePhonon computes |V±|² from force-constant triplets by staged phase
// sums and eigenvector rotations on a device.Contractor. The vertex is
// mass-normalized at construction; the "+" process conjugates ev3 only,
// the "-" process conjugates ev2 and ev3.
type ThreePhonon struct {
	con  device.Contractor
	nRow int // 3 * natoms

	r2, r3 []crystal.Vec3
	d3     []complex128 // [ntrip][i][j][k], mass-normalized

	// outer-state cache
	cached []complex128 // [ntrip][b1][j][k]
	nb1    int

	// scratch reused across Squared calls
	phases  []complex128
	summed  []complex128
	rotated []complex128
	final   []complex128
	u2t     []complex128
	u3t     []complex128
}

// NewThreePhonon folds the inverse square-root mass factors into the
// triplets and keeps them in the contraction-ready layout.
func NewThreePhonon(cr *crystal.Crystal, triplets []Triplet, con device.Contractor) (*ThreePhonon, error) {
	nRow := 3 * cr.NumAtoms()
	block := nRow * nRow * nRow
	t := &ThreePhonon{
		con:  con,
		nRow: nRow,
		r2:   make([]crystal.Vec3, len(triplets)),
		r3:   make([]crystal.Vec3, len(triplets)),
		d3:   make([]complex128, len(triplets)*block),
	}
	invSqrtMass := make([]float64, nRow)
	for i := 0; i < nRow; i++ {
		m := cr.AtomMass(i / 3)
		if m <= 0 {
			return nil, fmt.Errorf("coupling: nonpositive mass for atom %d", i/3)
		}
		invSqrtMass[i] = 1 / math.Sqrt(m)
	}
	for it, tr := range triplets {
		if len(tr.D) != block {
			return nil, fmt.Errorf("coupling: triplet %d has %d entries, want %d",
				it, len(tr.D), block)
		}
		t.r2[it], t.r3[it] = tr.R2, tr.R3
		base := it * block
		for i := 0; i < nRow; i++ {
			for j := 0; j < nRow; j++ {
				for k := 0; k < nRow; k++ {
					idx := (i*nRow+j)*nRow + k
					norm := invSqrtMass[i] * invSqrtMass[j] * invSqrtMass[k]
					t.d3[base+idx] = complex(tr.D[idx]*norm, 0)
				}
			}
		}
	}
	return t, nil
}

// CacheOuter implements PhCoupling: contracts ev1 into the first
// eigenvector index, leaving [ntrip][b1][j][k].
func (t *ThreePhonon) CacheOuter(ev1 []complex128, nb1 int) error {
	if len(ev1) != t.nRow*nb1 {
		return fmt.Errorf("coupling: outer eigenvector has %d entries, want %d",
			len(ev1), t.nRow*nb1)
	}
	ntrip := len(t.r2)
	u1t := make([]complex128, nb1*t.nRow)
	for i := 0; i < t.nRow; i++ {
		for b := 0; b < nb1; b++ {
			u1t[b*t.nRow+i] = ev1[i*nb1+b]
		}
	}
	t.cached = grow(t.cached, ntrip*nb1*t.nRow*t.nRow)
	t.nb1 = nb1
	return t.con.RotateMid(t.cached, t.d3, u1t, 1, ntrip, nb1, t.nRow, t.nRow*t.nRow)
}

// Squared implements PhCoupling.
func (t *ThreePhonon) Squared(q2, q3Plus, q3Minus crystal.Vec3,
	ev2 []complex128, nb2 int,
	ev3Plus []complex128, nb3Plus int,
	ev3Minus []complex128, nb3Minus int) (plus, minus []float64, err error) {

	if t.cached == nil {
		return nil, nil, fmt.Errorf("coupling: Squared before CacheOuter")
	}
	plus, err = t.vertex(q2, q3Plus, ev2, nb2, ev3Plus, nb3Plus, false)
	if err != nil {
		return nil, nil, err
	}
	minus, err = t.vertex(q2, q3Minus, ev2, nb2, ev3Minus, nb3Minus, true)
	if err != nil {
		return nil, nil, err
	}
	return plus, minus, nil
}

// vertex evaluates one sign of the process. conjEv2 distinguishes the
// decay ("-") branch, which also flips the q2 phase.
func (t *ThreePhonon) vertex(q2, q3 crystal.Vec3,
	ev2 []complex128, nb2 int,
	ev3 []complex128, nb3 int, conjEv2 bool) ([]float64, error) {

	nRow, nb1 := t.nRow, t.nb1
	ntrip := len(t.r2)
	if len(ev2) != nRow*nb2 || len(ev3) != nRow*nb3 {
		return nil, fmt.Errorf("coupling: inner eigenvector size mismatch")
	}

	sign2 := 1.0
	if conjEv2 {
		sign2 = -1
	}
	t.phases = grow(t.phases, ntrip)
	for it := range t.phases {
		arg := sign2*crystal.Dot(q2, t.r2[it]) - crystal.Dot(q3, t.r3[it])
		t.phases[it] = cmplx.Exp(complex(0, arg))
	}

	n := nb1 * nRow * nRow
	t.summed = grow(t.summed, n)
	if err := t.con.PhaseSum(t.summed, t.cached[:ntrip*n], t.phases, 1, n); err != nil {
		return nil, err
	}

	t.u2t = grow(t.u2t, nb2*nRow)
	for j := 0; j < nRow; j++ {
		for b := 0; b < nb2; b++ {
			v := ev2[j*nb2+b]
			if conjEv2 {
				v = cmplx.Conj(v)
			}
			t.u2t[b*nRow+j] = v
		}
	}
	t.rotated = grow(t.rotated, nb1*nb2*nRow)
	if err := t.con.RotateMid(t.rotated, t.summed, t.u2t, 1, nb1, nb2, nRow, nRow); err != nil {
		return nil, err
	}

	t.u3t = grow(t.u3t, nb3*nRow)
	for k := 0; k < nRow; k++ {
		for b := 0; b < nb3; b++ {
			t.u3t[b*nRow+k] = cmplx.Conj(ev3[k*nb3+b])
		}
	}
	t.final = grow(t.final, nb1*nb2*nb3)
	if err := t.con.RotateMid(t.final, t.rotated, t.u3t, 1, nb1*nb2, nb3, nRow, 1); err != nil {
		return nil, err
	}

	out := make([]float64, nb1*nb2*nb3)
	if err := t.con.SquaredNorm(out, t.final); err != nil {
		return nil, err
	}
	return out, nil
}

func grow(buf []complex128, n int) []complex128 {
	if cap(buf) < n {
		return make([]complex128, n)
	}
	return buf[:n]
}
