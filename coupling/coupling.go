// Package coupling evaluates squared interaction matrix elements: the
// anharmonic three-phonon vertex |V±|² and the electron-phonon coupling
// |g|² interpolated from a Wannier representation. Both providers cache
// the part of the contraction that depends only on the outer state, then
// serve inner states in batches sized to a memory budget.
package coupling

import (
	"errors"

	"github.com/transportlab/bte/crystal"
)

// ErrResource reports that the memory budget cannot hold even a single
// inner state, so the batch cannot be subdivided further.
var ErrResource = errors.New("coupling: memory budget too small for one inner state")

// PhCoupling serves |V±|² for the three-phonon processes of one outer
// phonon state against inner states q2.
//
// Eigenvectors use the band-structure layout: row-major (3*natoms) x nb,
// entry [row*nb + band].
type PhCoupling interface {
	// CacheOuter fixes the outer state: its eigenvector is contracted
	// into the force-constant tensor once, ahead of the q2 loop.
	CacheOuter(ev1 []complex128, nb1 int) error

	// Squared returns |V+|² and |V-|² as flat [nb1][nb2][nb3±] tensors
	// for the coalescence (q3+ = q1+q2) and decay (q3- = q1-q2) partners.
	Squared(q2, q3Plus, q3Minus crystal.Vec3,
		ev2 []complex128, nb2 int,
		ev3Plus []complex128, nb3Plus int,
		ev3Minus []complex128, nb3Minus int) (plus, minus []float64, err error)
}

// ElPhCoupling serves |g|² for electron-phonon scattering of one outer
// electron state against batches of phonon wavevectors.
type ElPhCoupling interface {
	// CacheOuter fixes the outer electron state k1 with its Wannier
	// rotation matrix u1 (nWannier x nb1).
	CacheOuter(k1 crystal.Vec3, u1 []complex128, nb1 int) error

	// Squared returns, for each q in the batch, |g|² as a flat
	// [nModes][nb2][nb1] tensor. u2 are the k1+q electron rotations,
	// phEvs the phonon eigenvectors at q. The batch is internally
	// subdivided to respect the memory budget; ErrResource when even a
	// single q cannot fit.
	Squared(qs []crystal.Vec3,
		u2 [][]complex128, nb2 []int,
		phEvs [][]complex128, nPhBands []int) ([][]float64, error)
}
