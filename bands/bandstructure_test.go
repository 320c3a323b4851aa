package bands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transportlab/bte/crystal"
	"github.com/transportlab/bte/mesh"
	"github.com/transportlab/bte/stats"
)

func buildVariableBands(t *testing.T) *BandStructure {
	t.Helper()
	g, err := mesh.NewGrid(2, 2, 1)
	require.NoError(t, err)

	b := NewBuilder(g, stats.Particle{Kind: stats.Phonon}, 0)
	// variable band count per point
	for iq := 0; iq < g.NumPoints(); iq++ {
		n := 2 + iq%2
		e := make([]float64, n)
		for ib := range e {
			e[ib] = float64(iq) + 0.1*float64(ib)
		}
		require.NoError(t, b.SetPoint(iq, e, nil, nil))
	}
	bs, err := b.Build()
	require.NoError(t, err)
	return bs
}

func TestStateIndexBijection(t *testing.T) {
	bs := buildVariableBands(t)

	seen := make(map[int]bool)
	for iq := 0; iq < bs.NumPoints(); iq++ {
		for ib := 0; ib < bs.NumBands(iq); ib++ {
			is := bs.StateIndex(iq, ib)
			require.False(t, seen[is], "state index %d hit twice", is)
			seen[is] = true

			gotQ, gotB := bs.Bloch(is)
			assert.Equal(t, iq, gotQ)
			assert.Equal(t, ib, gotB)
		}
	}
	assert.Len(t, seen, bs.NumStates())
}

func TestEnergyByState(t *testing.T) {
	bs := buildVariableBands(t)
	for is := 0; is < bs.NumStates(); is++ {
		iq, ib := bs.Bloch(is)
		assert.Equal(t, bs.Energies(iq)[ib], bs.Energy(is))
	}
}

func TestSame(t *testing.T) {
	a := buildVariableBands(t)
	b := buildVariableBands(t)
	assert.True(t, a.Same(a))
	assert.True(t, a.Same(b), "identical states on the same grid")
	assert.False(t, a.Same(nil))
}

// Matching grid and band counts are not enough: shifted energies describe
// a different system and must not pass the identity check.
func TestSameRejectsDifferentEnergies(t *testing.T) {
	a := buildVariableBands(t)

	g, err := mesh.NewGrid(2, 2, 1)
	require.NoError(t, err)
	b := NewBuilder(g, stats.Particle{Kind: stats.Phonon}, 0)
	for iq := 0; iq < g.NumPoints(); iq++ {
		n := 2 + iq%2
		e := make([]float64, n)
		for ib := range e {
			e[ib] = float64(iq) + 0.1*float64(ib) + 0.5
		}
		require.NoError(t, b.SetPoint(iq, e, nil, nil))
	}
	shifted, err := b.Build()
	require.NoError(t, err)

	assert.Equal(t, a.NumStates(), shifted.NumStates())
	assert.False(t, a.Same(shifted))
	assert.False(t, shifted.Same(a))
}

func TestBuilderValidation(t *testing.T) {
	g, err := mesh.NewGrid(2, 1, 1)
	require.NoError(t, err)

	b := NewBuilder(g, stats.Particle{Kind: stats.Phonon}, 3)
	assert.Error(t, b.SetPoint(5, []float64{1}, nil, nil))
	assert.Error(t, b.SetPoint(0, []float64{1, 2}, make([]crystal.Vec3, 1), nil))
	assert.Error(t, b.SetPoint(0, []float64{1}, nil, make([]complex128, 2)))

	require.NoError(t, b.SetPoint(0, []float64{1}, nil, make([]complex128, 3)))
	_, err = b.Build()
	assert.Error(t, err, "point 1 has no bands")
}

func TestAnalyticHarmonic(t *testing.T) {
	cell := crystal.Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	cr, err := crystal.New(cell, []crystal.Vec3{{0, 0, 0}}, []int{0}, []float64{1})
	require.NoError(t, err)

	h := &AnalyticHarmonic{
		DirectCell: cell,
		Offset:     []float64{0.1, 0.2, 0.3},
		Amplitude:  []float64{1, 1, 2},
	}
	g, err := mesh.NewGrid(3, 3, 3)
	require.NoError(t, err)

	bs, err := h.Populate(g, stats.Particle{Kind: stats.Phonon}, cr.ReciprocalCell)
	require.NoError(t, err)
	assert.Equal(t, 3*g.NumPoints(), bs.NumStates())

	// gamma point sits at the band minimum with zero velocity
	e0 := bs.Energies(0)
	assert.InDelta(t, 0.1, e0[0], 1e-12)
	assert.InDelta(t, 0.2, e0[1], 1e-12)
	v0 := bs.Velocities(0)
	assert.InDelta(t, 0.0, v0[0].Norm(), 1e-12)

	// periodicity: energies repeat on reciprocal translation
	e, _ := h.DiagonalizeAtCoords(crystal.Vec3{0.3, 0, 0})
	shifted, _ := h.DiagonalizeAtCoords(crystal.Vec3{0.3 + 2*3.141592653589793, 0, 0})
	assert.InDelta(t, e[0], shifted[0], 1e-9)

	// every energy stays within the band's analytic range
	for iq := 0; iq < g.NumPoints(); iq++ {
		for ib, en := range bs.Energies(iq) {
			assert.GreaterOrEqual(t, en, h.Offset[ib]-1e-12)
			assert.LessOrEqual(t, en, h.Offset[ib]+2*h.Amplitude[ib]+1e-12)
		}
	}
}
