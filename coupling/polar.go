package coupling

import (
	"math"
	"math/cmplx"

	"github.com/transportlab/bte/crystal"
)

// polarQTol: below this wavevector norm the long-range term is singular
// and belongs to the excluded q=0 state anyway.
const polarQTol = 1e-8

// polarGShells: the coarse reciprocal-lattice sum runs over this many
// shells per direction. The Gaussian filter makes the sum converge fast.
const polarGShells = 2

// addPolarCorrection adds the dipole-dipole long-range part of the
// electron-phonon vertex to g (flat [nPh][nb2][nb1]) in place. The term
// factorizes into a mode-dependent scalar, the Born-charge projection of
// the phonon eigenvector summed over filtered q+G, and the electron
// overlap u2† u1.
func addPolarCorrection(g []complex128, cr *crystal.Crystal, q crystal.Vec3,
	u2 []complex128, nb2 int, u1 []complex128, nb1 int,
	phEv []complex128, nPh int) {

	nWann := len(u1) / nb1
	if nWann == 0 || len(u2) != nWann*nb2 {
		return
	}

	// overlap[m][n] = sum_w conj(u2[w][m]) u1[w][n]
	overlap := make([]complex128, nb2*nb1)
	for w := 0; w < nWann; w++ {
		for m := 0; m < nb2; m++ {
			c2 := cmplx.Conj(u2[w*nb2+m])
			for n := 0; n < nb1; n++ {
				overlap[m*nb1+n] += c2 * u1[w*nb1+n]
			}
		}
	}

	// modeFactor[nu] = sum_G f(q+G) sum_a e^{-i(q+G).tau_a} (q+G).Z_a.e_nu(a)
	modeFactor := make([]complex128, nPh)
	pref := 4 * math.Pi / cr.Volume
	for gx := -polarGShells; gx <= polarGShells; gx++ {
		for gy := -polarGShells; gy <= polarGShells; gy++ {
			for gz := -polarGShells; gz <= polarGShells; gz++ {
				var qg crystal.Vec3
				for d := 0; d < 3; d++ {
					qg[d] = q[d] +
						float64(gx)*cr.ReciprocalCell[0][d] +
						float64(gy)*cr.ReciprocalCell[1][d] +
						float64(gz)*cr.ReciprocalCell[2][d]
				}
				qEq := crystal.Dot(qg, cr.DielectricTensor.MulVec(qg))
				if qEq < polarQTol {
					continue
				}
				filter := pref * math.Exp(-qEq/4) / qEq
				for ia := 0; ia < cr.NumAtoms(); ia++ {
					phase := cmplx.Exp(complex(0, -crystal.Dot(qg, cr.AtomicPositions[ia])))
					var zq crystal.Vec3
					for beta := 0; beta < 3; beta++ {
						for alpha := 0; alpha < 3; alpha++ {
							zq[beta] += qg[alpha] * cr.BornCharges[ia][alpha][beta]
						}
					}
					for nu := 0; nu < nPh; nu++ {
						proj := complex(0, 0)
						for beta := 0; beta < 3; beta++ {
							proj += complex(zq[beta], 0) * phEv[(3*ia+beta)*nPh+nu]
						}
						modeFactor[nu] += complex(filter, 0) * phase * proj
					}
				}
			}
		}
	}

	for nu := 0; nu < nPh; nu++ {
		f := complex(0, 1) * modeFactor[nu]
		if f == 0 {
			continue
		}
		base := nu * nb2 * nb1
		for i, ov := range overlap {
			g[base+i] += f * ov
		}
	}
}
