// Package transport turns solved populations into Onsager transport
// coefficients. It consumes exactly what the builders and solvers
// produce: a band structure, the calculation sweep, and population or
// linewidth vectors over combined states.
package transport

import (
	"fmt"

	"github.com/transportlab/bte/bands"
	"github.com/transportlab/bte/scattering"
	"github.com/transportlab/bte/solver"
	"github.com/transportlab/bte/stats"
)

// energyCutoff mirrors the builders: near-zero modes carry no heat.
const energyCutoff = 1e-8

// PhononDrive builds the thermal-gradient source term of the BTE,
//
//	b_i = e v_i n(n+1) / T²
//
// per calculation index, with a Cartesian direction axis.
func PhononDrive(bs *bands.BandStructure, sweep *stats.Sweep) (*scattering.Vector, error) {
	nCalc := sweep.NumCalculations()
	b, err := scattering.NewVector(nCalc, bs.NumStates(), 3)
	if err != nil {
		return nil, err
	}
	particle := bs.Particle()
	for iq := 0; iq < bs.NumPoints(); iq++ {
		energies := bs.Energies(iq)
		vels := bs.Velocities(iq)
		if vels == nil {
			return nil, fmt.Errorf("transport: band structure carries no velocities")
		}
		for ib, e := range energies {
			if e < energyCutoff {
				continue
			}
			is := bs.StateIndex(iq, ib)
			for ic := 0; ic < nCalc; ic++ {
				calc := sweep.Calculation(ic)
				nn, err := particle.OccupationPopulationFactor(e, calc.Temperature, calc.ChemicalPotential)
				if err != nil {
					return nil, err
				}
				w := e * nn / (calc.Temperature * calc.Temperature)
				for d := 0; d < 3; d++ {
					b.AddAt(ic, is, d, w*vels[ib][d])
				}
			}
		}
	}
	return b, nil
}

// Conductivity contracts populations with the drive structure into the
// thermal conductivity tensor per calculation index,
//
//	kappa_ij = (1 / V N) sum_states e v_i f_j
//
// with V the cell volume and N the mesh point count.
func Conductivity(bs *bands.BandStructure, sweep *stats.Sweep, volume float64,
	populations *scattering.Vector) ([][3][3]float64, error) {

	if populations == nil || populations.Dims() != 3 ||
		populations.NumStates() != bs.NumStates() ||
		populations.NumCalcs() != sweep.NumCalculations() {
		return nil, fmt.Errorf("%w: population shape", scattering.ErrConfiguration)
	}
	if volume <= 0 {
		return nil, fmt.Errorf("transport: nonpositive cell volume %g", volume)
	}
	nCalc := sweep.NumCalculations()
	kappa := make([][3][3]float64, nCalc)
	norm := 1.0 / (volume * float64(bs.NumPoints()))

	for iq := 0; iq < bs.NumPoints(); iq++ {
		energies := bs.Energies(iq)
		vels := bs.Velocities(iq)
		if vels == nil {
			return nil, fmt.Errorf("transport: band structure carries no velocities")
		}
		for ib, e := range energies {
			if e < energyCutoff {
				continue
			}
			is := bs.StateIndex(iq, ib)
			for ic := 0; ic < nCalc; ic++ {
				for i := 0; i < 3; i++ {
					for j := 0; j < 3; j++ {
						kappa[ic][i][j] += norm * e * vels[ib][i] * populations.At(ic, is, j)
					}
				}
			}
		}
	}
	return kappa, nil
}

// RTAConductivity is the single-shot path: drive, relaxation-time
// populations from the linewidths, then the tensor contraction.
func RTAConductivity(bs *bands.BandStructure, sweep *stats.Sweep, volume float64,
	linewidths *scattering.Vector) ([][3][3]float64, error) {

	drive, err := PhononDrive(bs, sweep)
	if err != nil {
		return nil, err
	}
	f, err := solver.RTA(drive, linewidths)
	if err != nil {
		return nil, err
	}
	return Conductivity(bs, sweep, volume, f)
}
