// Package solver turns the scattering operator into phonon populations:
// the relaxation-time approximation, a direct dense solve of the full
// matrix, and the Omini-Sparavigna iterative scheme on the matrix-free
// action.
package solver

import (
	"fmt"

	"github.com/transportlab/bte/scattering"
)

// gammaFloor: states with linewidths below this are dropped from the
// inversion instead of producing infinite lifetimes.
const gammaFloor = 1e-14

// RTA returns the relaxation-time populations f = b / Gamma, entry by
// entry. States with vanishing linewidth get zero population.
func RTA(source, linewidths *scattering.Vector) (*scattering.Vector, error) {
	if source == nil || linewidths == nil ||
		source.NumCalcs() != linewidths.NumCalcs() ||
		source.NumStates() != linewidths.NumStates() ||
		linewidths.Dims() != 1 {
		return nil, fmt.Errorf("%w: RTA input shapes", scattering.ErrConfiguration)
	}
	f, err := scattering.NewVector(source.NumCalcs(), source.NumStates(), source.Dims())
	if err != nil {
		return nil, err
	}
	for ic := 0; ic < source.NumCalcs(); ic++ {
		for is := 0; is < source.NumStates(); is++ {
			g := linewidths.At(ic, is, 0)
			if g < gammaFloor {
				continue
			}
			for d := 0; d < source.Dims(); d++ {
				f.Set(ic, is, d, source.At(ic, is, d)/g)
			}
		}
	}
	return f, nil
}
