package stats

import "fmt"

// Calculation is one (temperature, chemical potential) pair of the sweep.
type Calculation struct {
	Temperature       float64
	ChemicalPotential float64
}

// Sweep is the ordered list of calculations a transport run is repeated
// over. It is immutable once built: every per-state container sizes its
// first dimension to NumCalculations.
type Sweep struct {
	calcs []Calculation
}

// NewSweep builds a sweep as the outer product of temperatures and chemical
// potentials, temperatures fastest. Phonon-only runs pass a single zero
// chemical potential.
func NewSweep(temperatures, chemicalPotentials []float64) (*Sweep, error) {
	if len(temperatures) == 0 {
		return nil, fmt.Errorf("%w: empty temperature list", ErrDomain)
	}
	for _, t := range temperatures {
		if t <= 0 {
			return nil, fmt.Errorf("%w: temperature %g <= 0", ErrDomain, t)
		}
	}
	if len(chemicalPotentials) == 0 {
		chemicalPotentials = []float64{0}
	}
	calcs := make([]Calculation, 0, len(temperatures)*len(chemicalPotentials))
	for _, mu := range chemicalPotentials {
		for _, t := range temperatures {
			calcs = append(calcs, Calculation{Temperature: t, ChemicalPotential: mu})
		}
	}
	return &Sweep{calcs: calcs}, nil
}

// NumCalculations returns the sweep size.
func (s *Sweep) NumCalculations() int { return len(s.calcs) }

// Calculation returns the parameters of calculation i.
func (s *Sweep) Calculation(i int) Calculation { return s.calcs[i] }
