package coupling

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/transportlab/bte/crystal"
	"github.com/transportlab/bte/device"
	"github.com/transportlab/bte/pool"
)

// WannierElPh interpolates the electron-phonon coupling from its Wannier
// representation g(Re, Rp) by staged contractions on a device.Contractor:
// the electron phase sum and first rotation are cached per outer k, the
// phonon phase sum, the two remaining rotations, the polar correction and
// the squared norm run per batch of q points. Batches are sized so the
// transient tensors stay under the memory ceiling.
type WannierElPh struct {
	cr  *crystal.Crystal
	con device.Contractor

	nWann  int
	nModes int // 3 * natoms

	elVectors []crystal.Vec3 // Re, cartesian
	phVectors []crystal.Vec3 // Rp, cartesian
	// gWannier flat [nRe][nRp][nModes][nWann(k+q)][nWann(k)]
	gWannier []complex128

	memoryCeiling int64

	// NaN disables the debug constant; any other value short-circuits the
	// whole pipeline and fills |g|² with it.
	fixedConstant float64

	// outer-state cache: [nRp][nModes][nWann(k+q)][nb1]
	cached []complex128
	u1     []complex128
	nb1    int

	phases []complex128
	stage3 []complex128
	stage4 []complex128
	stage5 []complex128
	u2t    []complex128
	uPhT   []complex128
	gq     []complex128
}

// WannierData is the parsed interpolation input.
type WannierData struct {
	ElVectors []crystal.Vec3
	PhVectors []crystal.Vec3
	NumWann   int
	// G flat [len(ElVectors)][len(PhVectors)][3*natoms][NumWann][NumWann]
	G []complex128
}

// NewWannierElPh validates the tensor shape. memoryCeiling <= 0 falls back
// to the MAXMEM environment variable and then the built-in default.
// fixedConstant is the debug override; pass NaN for normal operation.
func NewWannierElPh(cr *crystal.Crystal, data WannierData, con device.Contractor,
	memoryCeiling int64, fixedConstant float64) (*WannierElPh, error) {

	nModes := 3 * cr.NumAtoms()
	want := len(data.ElVectors) * len(data.PhVectors) * nModes * data.NumWann * data.NumWann
	if len(data.G) != want {
		return nil, fmt.Errorf("coupling: wannier tensor has %d entries, want %d",
			len(data.G), want)
	}
	if len(data.ElVectors) == 0 || len(data.PhVectors) == 0 || data.NumWann == 0 {
		return nil, fmt.Errorf("coupling: empty wannier representation")
	}
	return &WannierElPh{
		cr:            cr,
		con:           con,
		nWann:         data.NumWann,
		nModes:        nModes,
		elVectors:     data.ElVectors,
		phVectors:     data.PhVectors,
		gWannier:      data.G,
		memoryCeiling: pool.MemoryCeiling(memoryCeiling),
		fixedConstant: fixedConstant,
	}, nil
}

// CacheOuter implements ElPhCoupling: sums the electron lattice phases and
// rotates the k Wannier index into the band basis.
func (w *WannierElPh) CacheOuter(k1 crystal.Vec3, u1 []complex128, nb1 int) error {
	if !math.IsNaN(w.fixedConstant) {
		w.nb1 = nb1
		return nil
	}
	if len(u1) != w.nWann*nb1 {
		return fmt.Errorf("coupling: outer rotation has %d entries, want %d",
			len(u1), w.nWann*nb1)
	}
	nRe, nRp := len(w.elVectors), len(w.phVectors)
	inner := nRp * w.nModes * w.nWann * w.nWann

	w.phases = grow(w.phases, nRe)
	for r, re := range w.elVectors {
		w.phases[r] = cmplx.Exp(complex(0, crystal.Dot(k1, re)))
	}
	summed := make([]complex128, inner)
	if err := w.con.PhaseSum(summed, w.gWannier, w.phases, 1, inner); err != nil {
		return err
	}

	// rotate the trailing k index: outer (rp, m, a), middle b, inner 1
	u1t := make([]complex128, nb1*w.nWann)
	for b := 0; b < w.nWann; b++ {
		for n := 0; n < nb1; n++ {
			u1t[n*w.nWann+b] = u1[b*nb1+n]
		}
	}
	w.cached = grow(w.cached, nRp*w.nModes*w.nWann*nb1)
	w.u1 = append(w.u1[:0], u1...)
	w.nb1 = nb1
	return w.con.RotateMid(w.cached, summed, u1t,
		1, nRp*w.nModes*w.nWann, nb1, w.nWann, 1)
}

// Squared implements ElPhCoupling.
func (w *WannierElPh) Squared(qs []crystal.Vec3,
	u2 [][]complex128, nb2 []int,
	phEvs [][]complex128, nPhBands []int) ([][]float64, error) {

	if len(u2) != len(qs) || len(nb2) != len(qs) ||
		len(phEvs) != len(qs) || len(nPhBands) != len(qs) {
		return nil, fmt.Errorf("coupling: batch slices have unequal lengths")
	}
	if !math.IsNaN(w.fixedConstant) {
		out := make([][]float64, len(qs))
		for i := range qs {
			t := make([]float64, nPhBands[i]*nb2[i]*w.nb1)
			for j := range t {
				t[j] = w.fixedConstant
			}
			out[i] = t
		}
		return out, nil
	}
	if w.cached == nil {
		return nil, fmt.Errorf("coupling: Squared before CacheOuter")
	}

	nM, nw := w.nModes, w.nWann
	for i := range qs {
		if len(u2[i]) != nw*nb2[i] {
			return nil, fmt.Errorf("coupling: inner rotation %d has %d entries, want %d",
				i, len(u2[i]), nw*nb2[i])
		}
		if len(phEvs[i]) != nM*nPhBands[i] {
			return nil, fmt.Errorf("coupling: phonon eigenvector %d has %d entries, want %d",
				i, len(phEvs[i]), nM*nPhBands[i])
		}
	}

	numBatches, err := w.estimateNumBatches(len(qs))
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(qs))
	for b := 0; b < numBatches; b++ {
		start := len(qs) * b / numBatches
		stop := len(qs) * (b + 1) / numBatches
		if start == stop {
			continue
		}
		if err := w.subBatch(qs[start:stop], u2[start:stop], nb2[start:stop],
			phEvs[start:stop], nPhBands[start:stop], out[start:stop]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// subBatch runs the pipeline stages for one sub-batch of q points as
// stacked tensors on the contractor. Variable band counts are padded to
// the mode/Wannier bounds with zero rotation rows, so every launch has
// uniform shape; the padded rows come out zero and are dropped when the
// per-q tensors are compacted. Scratch allocation is proportional to the
// sub-batch size, which is what the batch estimator budgets.
func (w *WannierElPh) subBatch(qs []crystal.Vec3,
	u2 [][]complex128, nb2 []int,
	phEvs [][]complex128, nPhBands []int, out [][]float64) error {

	nRp, nM, nw, nb1 := len(w.phVectors), w.nModes, w.nWann, w.nb1
	mB2 := nb2Bound(nw)
	nq := len(qs)

	// stage 3: phonon phase sum over Rp, one phase row per q, shared cache
	w.phases = grow(w.phases, nq*nRp)
	for i, q := range qs {
		for r, rp := range w.phVectors {
			w.phases[i*nRp+r] = cmplx.Exp(complex(0, crystal.Dot(q, rp)))
		}
	}
	n3 := nM * nw * nb1
	w.stage3 = grow(w.stage3, nq*n3)
	if err := w.con.PhaseSum(w.stage3, w.cached[:nRp*n3], w.phases, nq, n3); err != nil {
		return err
	}

	// stage 4: phonon-mode rotation on the leading index
	w.uPhT = grow(w.uPhT, nq*nM*nM)
	for i := range w.uPhT {
		w.uPhT[i] = 0
	}
	for i := range qs {
		nPh := nPhBands[i]
		base := i * nM * nM
		for m := 0; m < nM; m++ {
			for nu := 0; nu < nPh; nu++ {
				w.uPhT[base+nu*nM+m] = phEvs[i][m*nPh+nu]
			}
		}
	}
	w.stage4 = grow(w.stage4, nq*nM*nw*nb1)
	if err := w.con.RotateMid(w.stage4, w.stage3, w.uPhT, nq, 1, nM, nM, nw*nb1); err != nil {
		return err
	}

	// stage 5: conjugated k+q rotation on the middle Wannier index
	w.u2t = grow(w.u2t, nq*mB2*nw)
	for i := range w.u2t {
		w.u2t[i] = 0
	}
	for i := range qs {
		base := i * mB2 * nw
		for a := 0; a < nw; a++ {
			for m := 0; m < nb2[i]; m++ {
				w.u2t[base+m*nw+a] = cmplx.Conj(u2[i][a*nb2[i]+m])
			}
		}
	}
	w.stage5 = grow(w.stage5, nq*nM*mB2*nb1)
	if err := w.con.RotateMid(w.stage5, w.stage4, w.u2t, nq, nM, mB2, nw, nb1); err != nil {
		return err
	}

	// compact each q out of its padded block, correct, square
	for i, q := range qs {
		nPh, nbi := nPhBands[i], nb2[i]
		block := w.stage5[i*nM*mB2*nb1 : (i+1)*nM*mB2*nb1]
		w.gq = grow(w.gq, nPh*nbi*nb1)
		for nu := 0; nu < nPh; nu++ {
			for m := 0; m < nbi; m++ {
				copy(w.gq[(nu*nbi+m)*nb1:(nu*nbi+m+1)*nb1],
					block[(nu*mB2+m)*nb1:(nu*mB2+m)*nb1+nb1])
			}
		}
		if w.cr.HasPolarMetadata() && q.Norm() > polarQTol {
			addPolarCorrection(w.gq, w.cr, q, u2[i], nbi, w.u1, nb1, phEvs[i], nPh)
		}
		g2 := make([]float64, nPh*nbi*nb1)
		if err := w.con.SquaredNorm(g2, w.gq); err != nil {
			return err
		}
		out[i] = g2
	}
	return nil
}

// estimateNumBatches sizes the q batches against the memory ceiling. The
// cached tensors are persistent; the transient cost per q is the three
// stacked stage slabs each point occupies within its sub-batch.
func (w *WannierElPh) estimateNumBatches(nq int) (int, error) {
	if nq == 0 {
		return 1, nil
	}
	nRp, nM, nw, nb1 := len(w.phVectors), w.nModes, w.nWann, w.nb1
	persistent := int64(len(w.gWannier)+nRp*nM*nw*nb1) * 16
	perQ := int64(nM*nw*nb1+nM*nw*nb1+nM*nb2Bound(nw)*nb1) * 16

	avail := w.memoryCeiling - persistent
	if avail < perQ {
		return 0, fmt.Errorf("%w: need %d bytes per point, %d available",
			ErrResource, perQ, avail)
	}
	numBatches := int((int64(nq)*perQ + avail - 1) / avail)
	if numBatches < 1 {
		numBatches = 1
	}
	if numBatches > nq {
		numBatches = nq
	}
	return numBatches, nil
}

// nb2Bound bounds the number of inner bands by the Wannier count, the
// maximum the rotation can produce.
func nb2Bound(nWann int) int { return nWann }
