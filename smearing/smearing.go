// Package smearing approximates the energy-conserving delta function that
// scores every scattering process. Three interchangeable variants are
// provided: fixed-width Gaussian, adaptive Gaussian (width set by the local
// band dispersion), and the parameter-free tetrahedron method.
package smearing

import "github.com/transportlab/bte/crystal"

// Hint carries the optional per-pair context a variant may need: the group
// velocity difference for the adaptive width, or the (point, band) state
// whose energy is interpolated by the tetrahedron method.
type Hint struct {
	VelocityDifference crystal.Vec3
	HasVelocity        bool

	Point    int
	Band     int
	HasState bool
}

// VelocityHint builds a Hint from a velocity difference.
func VelocityHint(dv crystal.Vec3) Hint {
	return Hint{VelocityDifference: dv, HasVelocity: true}
}

// StateHint builds a Hint from a (point, band) pair.
func StateHint(iq, ib int) Hint {
	return Hint{Point: iq, Band: ib, HasState: true}
}

// DeltaFunction scores energy conservation of a process. Weight returns a
// non-negative, finite approximation of delta(deltaE); degenerate inputs
// (vanishing width, flat tetrahedra) clamp rather than produce NaN or Inf.
type DeltaFunction interface {
	Weight(deltaE float64, hint Hint) float64
}

// widthFloor is the smallest broadening any variant will use. Keeps the
// 1/sigma prefactor finite when a width collapses.
const widthFloor = 1e-12
