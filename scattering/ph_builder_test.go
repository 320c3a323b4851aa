package scattering

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transportlab/bte/bands"
	"github.com/transportlab/bte/coupling"
	"github.com/transportlab/bte/crystal"
	"github.com/transportlab/bte/device"
	"github.com/transportlab/bte/mesh"
	"github.com/transportlab/bte/pool"
	"github.com/transportlab/bte/smearing"
	"github.com/transportlab/bte/stats"
)

type phFixture struct {
	crystal *crystal.Crystal
	bands   *bands.BandStructure
	sweep   *stats.Sweep
	delta   smearing.DeltaFunction
}

func newPhFixture(t *testing.T, n int) *phFixture {
	t.Helper()
	cell := crystal.Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	cr, err := crystal.New(cell, []crystal.Vec3{{0, 0, 0}}, []int{0}, []float64{2})
	require.NoError(t, err)

	// offsets keep every mode above the energy cutoff
	h := &bands.AnalyticHarmonic{
		DirectCell: cell,
		Offset:     []float64{0.5, 0.8, 1.1},
		Amplitude:  []float64{1.0, 0.8, 0.6},
	}
	g, err := mesh.NewGrid(n, n, n)
	require.NoError(t, err)
	bs, err := h.Populate(g, stats.Particle{Kind: stats.Phonon}, cr.ReciprocalCell)
	require.NoError(t, err)

	sweep, err := stats.NewSweep([]float64{1.0, 2.0}, nil)
	require.NoError(t, err)

	return &phFixture{
		crystal: cr,
		bands:   bs,
		sweep:   sweep,
		delta:   smearing.NewGaussian(0.3),
	}
}

func (f *phFixture) coupling(t *testing.T) coupling.PhCoupling {
	t.Helper()
	trip := triplet27(1.0)
	displaced := triplet27(0.4)
	displaced.R2 = crystal.Vec3{1, 0, 0}
	displaced.R3 = crystal.Vec3{0, 0, 1}
	tp, err := coupling.NewThreePhonon(f.crystal,
		[]coupling.Triplet{trip, displaced}, device.CPU{})
	require.NoError(t, err)
	return tp
}

// triplet27 builds a deterministic onsite force-constant block scaled
// by amp.
func triplet27(amp float64) coupling.Triplet {
	d := make([]float64, 27)
	for i := range d {
		d[i] = amp * float64(1+i%7)
	}
	return coupling.Triplet{D: d}
}

func (f *phFixture) options(t *testing.T) PhOptions {
	return PhOptions{
		Sweep:          f.sweep,
		Outer:          f.bands,
		Inner:          f.bands,
		Coupling:       f.coupling(t),
		Delta:          f.delta,
		ReciprocalCell: f.crystal.ReciprocalCell,
		Workers:        2,
	}
}

func TestPhBuilderModeExclusivity(t *testing.T) {
	f := newPhFixture(t, 2)

	diag, err := NewPhBuilder(ModeDiagonal, f.options(t))
	require.NoError(t, err)
	_, _, err = diag.Matrix()
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = diag.Apply(nil)
	assert.ErrorIs(t, err, ErrConfiguration)

	mtx, err := NewPhBuilder(ModeMatrix, f.options(t))
	require.NoError(t, err)
	_, err = mtx.Diagonal()
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewPhBuilder(Mode(42), f.options(t))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestPhBuilderDiagonalMatchesMatrix(t *testing.T) {
	f := newPhFixture(t, 3)

	mb, err := NewPhBuilder(ModeMatrix, f.options(t))
	require.NoError(t, err)
	mtx, lwFromMatrix, err := mb.Matrix()
	require.NoError(t, err)

	db, err := NewPhBuilder(ModeDiagonal, f.options(t))
	require.NoError(t, err)
	lw, err := db.Diagonal()
	require.NoError(t, err)

	someRate := false
	for ic := 0; ic < lw.NumCalcs(); ic++ {
		for is := 0; is < lw.NumStates(); is++ {
			g := lw.At(ic, is, 0)
			assert.GreaterOrEqual(t, g, 0.0, "linewidth (%d,%d)", ic, is)
			if g > 0 {
				someRate = true
			}
			assert.InDelta(t, g, lwFromMatrix.At(ic, is, 0), 1e-12+1e-9*g)
			assert.InDelta(t, g, mtx.Block(ic).At(is, is), 1e-12+1e-9*g,
				"matrix diagonal (%d,%d)", ic, is)
		}
	}
	assert.True(t, someRate, "fixture must produce scattering")
}

func TestPhBuilderApplyEqualsMatrixProduct(t *testing.T) {
	f := newPhFixture(t, 3)

	mb, err := NewPhBuilder(ModeMatrix, f.options(t))
	require.NoError(t, err)
	mtx, _, err := mb.Matrix()
	require.NoError(t, err)

	ab, err := NewPhBuilder(ModeApply, f.options(t))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	in, err := NewVector(f.sweep.NumCalculations(), f.bands.NumStates(), 1)
	require.NoError(t, err)
	for ic := 0; ic < in.NumCalcs(); ic++ {
		for is := 0; is < in.NumStates(); is++ {
			in.Set(ic, is, 0, rng.NormFloat64())
		}
	}

	out, err := ab.Apply(in)
	require.NoError(t, err)

	for ic := 0; ic < in.NumCalcs(); ic++ {
		block := mtx.Block(ic)
		for i := 0; i < in.NumStates(); i++ {
			want := 0.0
			for j := 0; j < in.NumStates(); j++ {
				want += block.At(i, j) * in.At(ic, j, 0)
			}
			got := out.At(ic, i, 0)
			assert.InDelta(t, want, got, 1e-10+1e-8*abs(want),
				"calc %d state %d", ic, i)
		}
	}
}

func TestPhBuilderApplyIsLinear(t *testing.T) {
	f := newPhFixture(t, 2)

	ab, err := NewPhBuilder(ModeApply, f.options(t))
	require.NoError(t, err)

	nc, ns := f.sweep.NumCalculations(), f.bands.NumStates()
	rng := rand.New(rand.NewSource(11))
	x, _ := NewVector(nc, ns, 1)
	y, _ := NewVector(nc, ns, 1)
	for ic := 0; ic < nc; ic++ {
		for is := 0; is < ns; is++ {
			x.Set(ic, is, 0, rng.NormFloat64())
			y.Set(ic, is, 0, rng.NormFloat64())
		}
	}

	ax, err := ab.Apply(x)
	require.NoError(t, err)
	ay, err := ab.Apply(y)
	require.NoError(t, err)

	combo := x.Clone()
	combo.Scale(2)
	require.NoError(t, combo.AddScaled(y, -3))
	acombo, err := ab.Apply(combo)
	require.NoError(t, err)

	for ic := 0; ic < nc; ic++ {
		for is := 0; is < ns; is++ {
			want := 2*ax.At(ic, is, 0) - 3*ay.At(ic, is, 0)
			assert.InDelta(t, want, acombo.At(ic, is, 0), 1e-10+1e-8*abs(want))
		}
	}

	// the zero vector maps to zero
	zero, _ := NewVector(nc, ns, 1)
	azero, err := ab.Apply(zero)
	require.NoError(t, err)
	assert.Zero(t, azero.Norm())
}

// A distributed build must agree with the serial one: the outer loop is
// divided, the missing contributions arrive through the reduction.
func TestPhBuilderPoolMatchesSerial(t *testing.T) {
	f := newPhFixture(t, 2)

	serialBuilder, err := NewPhBuilder(ModeDiagonal, f.options(t))
	require.NoError(t, err)
	serial, err := serialBuilder.Diagonal()
	require.NoError(t, err)

	var distributed *Vector
	err = pool.Run(3, func(p *pool.Pool) error {
		opts := f.options(t)
		opts.Pool = p
		b, err := NewPhBuilder(ModeDiagonal, opts)
		if err != nil {
			return err
		}
		lw, err := b.Diagonal()
		if err != nil {
			return err
		}
		if p.IsHead() {
			distributed = lw
		}
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, distributed)

	for ic := 0; ic < serial.NumCalcs(); ic++ {
		for is := 0; is < serial.NumStates(); is++ {
			want := serial.At(ic, is, 0)
			assert.InDelta(t, want, distributed.At(ic, is, 0), 1e-12+1e-9*want)
		}
	}
}

func TestPhBuilderBandCountMismatch(t *testing.T) {
	f := newPhFixture(t, 2)

	// grid 3x1x1: point 1 and point 2 are time-reversed images; give
	// them different band counts
	g, err := mesh.NewGrid(3, 1, 1)
	require.NoError(t, err)
	bb := bands.NewBuilder(g, stats.Particle{Kind: stats.Phonon}, 3)
	counts := []int{3, 2, 3}
	for iq := 0; iq < 3; iq++ {
		nb := counts[iq]
		e := make([]float64, nb)
		ev := make([]complex128, 3*nb)
		for ib := 0; ib < nb; ib++ {
			e[ib] = 1 + 0.1*float64(ib)
			ev[ib] = 1
		}
		require.NoError(t, bb.SetPoint(iq, e, nil, ev))
	}
	bs, err := bb.Build()
	require.NoError(t, err)

	opts := f.options(t)
	opts.Outer = bs
	opts.Inner = bs
	b, err := NewPhBuilder(ModeDiagonal, opts)
	require.NoError(t, err)
	_, err = b.Diagonal()
	assert.ErrorIs(t, err, ErrBandCount)
}

func TestPhBuilderOffMeshNeedsHarmonic(t *testing.T) {
	f := newPhFixture(t, 2)
	other := newPhFixture(t, 3)

	opts := f.options(t)
	opts.Outer = other.bands // different mesh than Inner
	_, err := NewPhBuilder(ModeDiagonal, opts)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewPhBuilder(ModeMatrix, opts)
	assert.ErrorIs(t, err, ErrConfiguration)
}

// Outer and inner states on the same grid but with different energies are
// distinct systems; the full-operator modes must refuse them just like a
// grid mismatch.
func TestPhBuilderMatrixRejectsDifferentBands(t *testing.T) {
	f := newPhFixture(t, 2)

	cell := crystal.Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	h := &bands.AnalyticHarmonic{
		DirectCell: cell,
		Offset:     []float64{0.6, 0.9, 1.2},
		Amplitude:  []float64{1.0, 0.8, 0.6},
	}
	g, err := mesh.NewGrid(2, 2, 2)
	require.NoError(t, err)
	shifted, err := h.Populate(g, stats.Particle{Kind: stats.Phonon},
		f.crystal.ReciprocalCell)
	require.NoError(t, err)

	opts := f.options(t)
	opts.Outer = shifted
	_, err = NewPhBuilder(ModeMatrix, opts)
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = NewPhBuilder(ModeApply, opts)
	assert.ErrorIs(t, err, ErrConfiguration)
}

// Tetrahedron weights require the q3 partners on the inner mesh; in a
// mismatched build every partner is off mesh, so each weight would be zero
// and the linewidths would come out silently empty. That combination is
// rejected up front.
func TestPhBuilderOffMeshRejectsTetrahedron(t *testing.T) {
	f := newPhFixture(t, 2)
	outer := newPhFixture(t, 3)

	cell := crystal.Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	h := &bands.AnalyticHarmonic{
		DirectCell: cell,
		Offset:     []float64{0.5, 0.8, 1.1},
		Amplitude:  []float64{1.0, 0.8, 0.6},
	}
	opts := f.options(t)
	opts.Outer = outer.bands
	opts.Harmonic = h
	opts.Delta = smearing.NewTetrahedron(f.bands)
	_, err := NewPhBuilder(ModeDiagonal, opts)
	assert.ErrorIs(t, err, ErrConfiguration)

	// the same mismatched pair with analytic smearing stays legal
	opts.Delta = f.delta
	_, err = NewPhBuilder(ModeDiagonal, opts)
	require.NoError(t, err)
}

func TestPhBuilderOffMeshDiagonal(t *testing.T) {
	f := newPhFixture(t, 2)
	outer := newPhFixture(t, 3)

	cell := crystal.Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	h := &bands.AnalyticHarmonic{
		DirectCell: cell,
		Offset:     []float64{0.5, 0.8, 1.1},
		Amplitude:  []float64{1.0, 0.8, 0.6},
	}
	opts := f.options(t)
	opts.Outer = outer.bands
	opts.Harmonic = h
	b, err := NewPhBuilder(ModeDiagonal, opts)
	require.NoError(t, err)

	lw, err := b.Diagonal()
	require.NoError(t, err)
	assert.Equal(t, outer.bands.NumStates(), lw.NumStates())
	positive := false
	for is := 0; is < lw.NumStates(); is++ {
		g := lw.At(0, is, 0)
		assert.GreaterOrEqual(t, g, 0.0)
		if g > 0 {
			positive = true
		}
	}
	assert.True(t, positive)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
