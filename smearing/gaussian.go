package smearing

import (
	"math"

	"github.com/transportlab/bte/crystal"
	"github.com/transportlab/bte/mesh"
)

const invSqrtPi = 0.5641895835477563

// Gaussian is the fixed-width smearing: exp(-(dE/sigma)^2) / (sigma*sqrt(pi)).
type Gaussian struct {
	sigma float64
}

// NewGaussian builds a fixed-width Gaussian; non-positive widths clamp to
// the floor instead of failing.
func NewGaussian(sigma float64) *Gaussian {
	if sigma < widthFloor {
		sigma = widthFloor
	}
	return &Gaussian{sigma: sigma}
}

// Weight implements DeltaFunction.
func (g *Gaussian) Weight(deltaE float64, _ Hint) float64 {
	x := deltaE / g.sigma
	if x > 20 || x < -20 {
		return 0
	}
	return math.Exp(-x*x) * invSqrtPi / g.sigma
}

// AdaptiveGaussian scales the broadening with the local band dispersion:
// wide where bands disperse fast across a mesh cell, narrow near flat
// bands. The width for a pair is
//
//	sigma = sqrt( sum_a (dv . dq_a)^2 / 12 )
//
// with dq_a the mesh spacing vectors, clamped to [Floor, Cap]. Pairs with
// vanishing velocity difference fall back to the base width.
type AdaptiveGaussian struct {
	spacing [3]crystal.Vec3
	base    float64
	floor   float64
	cap     float64
}

// NewAdaptiveGaussian builds the adaptive smearing for a grid. base is the
// fallback width for flat bands; the clamp range defaults to
// [base/10, 10*base] when floor or cap are zero.
func NewAdaptiveGaussian(grid mesh.Grid, reciprocalCell crystal.Mat3, base, floor, cap float64) *AdaptiveGaussian {
	if base < widthFloor {
		base = widthFloor
	}
	if floor <= 0 {
		floor = base / 10
	}
	if cap <= 0 {
		cap = base * 10
	}
	return &AdaptiveGaussian{
		spacing: grid.MeshSpacing(reciprocalCell),
		base:    base,
		floor:   floor,
		cap:     cap,
	}
}

// Width returns the broadening used for a velocity difference.
func (a *AdaptiveGaussian) Width(dv crystal.Vec3) float64 {
	s2 := 0.0
	for d := 0; d < 3; d++ {
		p := crystal.Dot(dv, a.spacing[d])
		s2 += p * p
	}
	sigma := math.Sqrt(s2 / 12.0)
	if sigma < a.floor {
		// flat bands: fall back to the base width rather than
		// collapsing the delta to a spike
		if sigma < widthFloor {
			return a.base
		}
		return a.floor
	}
	if sigma > a.cap {
		return a.cap
	}
	return sigma
}

// Weight implements DeltaFunction.
func (a *AdaptiveGaussian) Weight(deltaE float64, hint Hint) float64 {
	sigma := a.base
	if hint.HasVelocity {
		sigma = a.Width(hint.VelocityDifference)
	}
	x := deltaE / sigma
	if x > 20 || x < -20 {
		return 0
	}
	return math.Exp(-x*x) * invSqrtPi / sigma
}
