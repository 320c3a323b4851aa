// Package stats provides equilibrium occupation functions for bosons and
// fermions and the (temperature, chemical potential) sweep over which every
// transport calculation is repeated.
package stats

import (
	"errors"
	"fmt"
	"math"
)

// ErrDomain reports a thermodynamically invalid argument, such as a
// non-positive temperature.
var ErrDomain = errors.New("stats: domain error")

// Kind selects the particle statistics.
type Kind uint8

const (
	Phonon Kind = iota // Bose-Einstein, no chemical potential
	Electron
)

// Particle evaluates equilibrium occupations for one statistics kind.
// It is a pure value; the zero value is a phonon.
type Particle struct {
	Kind Kind
}

// IsPhonon reports whether the particle obeys Bose statistics.
func (p Particle) IsPhonon() bool { return p.Kind == Phonon }

// expCutoff bounds the exponent so that exp never overflows; beyond it the
// occupation has saturated to its asymptotic value well below double
// precision.
const expCutoff = 700.0

// Occupation returns the equilibrium occupation of a state at the given
// energy. The chemical potential is ignored for phonons. Temperature must
// be positive.
func (p Particle) Occupation(energy, temperature, chemicalPotential float64) (float64, error) {
	if temperature <= 0 {
		return 0, fmt.Errorf("%w: temperature %g <= 0", ErrDomain, temperature)
	}
	if p.Kind == Phonon {
		x := energy / temperature
		if x > expCutoff {
			return 0, nil
		}
		// expm1 keeps precision for energy << kT
		return 1.0 / math.Expm1(x), nil
	}
	x := (energy - chemicalPotential) / temperature
	switch {
	case x > expCutoff:
		return 0, nil
	case x < -expCutoff:
		return 1, nil
	}
	return 1.0 / (math.Exp(x) + 1.0), nil
}

// OccupationPopulationFactor returns n(n+1) for bosons or f(1-f) for
// fermions, the thermal factor entering heat capacities and the
// symmetrization of the scattering matrix. Computed in a saturation-safe
// form.
func (p Particle) OccupationPopulationFactor(energy, temperature, chemicalPotential float64) (float64, error) {
	n, err := p.Occupation(energy, temperature, chemicalPotential)
	if err != nil {
		return 0, err
	}
	if p.Kind == Phonon {
		return n * (n + 1.0), nil
	}
	return n * (1.0 - n), nil
}
