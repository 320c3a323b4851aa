package coupling

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transportlab/bte/crystal"
	"github.com/transportlab/bte/device"
)

func testWannierData(rng *rand.Rand, nRe, nRp, nw, nModes int) WannierData {
	data := WannierData{
		ElVectors: make([]crystal.Vec3, nRe),
		PhVectors: make([]crystal.Vec3, nRp),
		NumWann:   nw,
		G:         make([]complex128, nRe*nRp*nModes*nw*nw),
	}
	for i := range data.ElVectors {
		data.ElVectors[i] = crystal.Vec3{float64(i), 0, 0}
	}
	for i := range data.PhVectors {
		data.PhVectors[i] = crystal.Vec3{0, float64(i), 0}
	}
	for i := range data.G {
		data.G[i] = complex(rng.NormFloat64(), rng.NormFloat64())
	}
	return data
}

func randomRotation(rng *rand.Rand, rows, cols int) []complex128 {
	u := make([]complex128, rows*cols)
	for i := range u {
		u[i] = complex(rng.NormFloat64(), rng.NormFloat64())
	}
	return u
}

func wannierBatch(rng *rand.Rand, nq, nw, nModes int) (qs []crystal.Vec3,
	u2 [][]complex128, nb2 []int, phEvs [][]complex128, nPh []int) {

	qs = make([]crystal.Vec3, nq)
	u2 = make([][]complex128, nq)
	nb2 = make([]int, nq)
	phEvs = make([][]complex128, nq)
	nPh = make([]int, nq)
	for i := 0; i < nq; i++ {
		qs[i] = crystal.Vec3{0.1 * float64(i), 0.2, 0.05 * float64(i)}
		nb2[i] = nw
		u2[i] = randomRotation(rng, nw, nw)
		nPh[i] = nModes
		phEvs[i] = randomRotation(rng, nModes, nModes)
	}
	return
}

func TestWannierFixedConstant(t *testing.T) {
	cr := testCrystal(t, 1.0)
	rng := rand.New(rand.NewSource(1))
	data := testWannierData(rng, 2, 2, 2, 3)

	w, err := NewWannierElPh(cr, data, device.CPU{}, 1<<40, 2.5)
	require.NoError(t, err)

	// the constant short-circuits the pipeline entirely; no rotations
	// are even touched
	require.NoError(t, w.CacheOuter(crystal.Vec3{}, nil, 2))
	qs, u2, nb2, phEvs, nPh := wannierBatch(rng, 3, 2, 3)
	out, err := w.Squared(qs, u2, nb2, phEvs, nPh)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for _, g2 := range out {
		require.Len(t, g2, 3*2*2)
		for _, v := range g2 {
			assert.Equal(t, 2.5, v)
		}
	}
}

// Splitting the batch under a tight memory ceiling must reproduce the
// unconstrained result exactly.
func TestWannierBatchSubdivision(t *testing.T) {
	cr := testCrystal(t, 1.0)
	rng := rand.New(rand.NewSource(2))
	const nRe, nRp, nw, nModes, nq = 2, 2, 2, 3, 5
	data := testWannierData(rng, nRe, nRp, nw, nModes)

	u1 := randomRotation(rng, nw, nw)
	qs, u2, nb2, phEvs, nPh := wannierBatch(rng, nq, nw, nModes)

	unconstrained, err := NewWannierElPh(cr, data, device.CPU{}, 1<<40, math.NaN())
	require.NoError(t, err)
	require.NoError(t, unconstrained.CacheOuter(crystal.Vec3{0.1, 0.2, 0.3}, u1, nw))
	want, err := unconstrained.Squared(qs, u2, nb2, phEvs, nPh)
	require.NoError(t, err)

	// ceiling that fits the persistent tensors plus a single point
	persistent := int64(len(data.G)+nRp*nModes*nw*nw) * 16
	perPoint := int64(3*nModes*nw*nw) * 16
	tight, err := NewWannierElPh(cr, data, device.CPU{}, persistent+perPoint, math.NaN())
	require.NoError(t, err)
	require.NoError(t, tight.CacheOuter(crystal.Vec3{0.1, 0.2, 0.3}, u1, nw))
	got, err := tight.Squared(qs, u2, nb2, phEvs, nPh)
	require.NoError(t, err)

	require.Len(t, got, nq)
	for i := range want {
		require.Len(t, got[i], len(want[i]), "point %d", i)
		for j := range want[i] {
			assert.InDelta(t, want[i][j], got[i][j], 1e-10, "point %d entry %d", i, j)
		}
	}
}

// Points with fewer active bands than the Wannier or mode count share a
// stacked launch with full-width points; the truncated tensors must match
// a run where each point is processed alone.
func TestWannierRaggedBandCounts(t *testing.T) {
	cr := testCrystal(t, 1.0)
	rng := rand.New(rand.NewSource(6))
	const nRe, nRp, nw, nModes = 2, 2, 3, 3
	data := testWannierData(rng, nRe, nRp, nw, nModes)

	u1 := randomRotation(rng, nw, nw)
	qs, u2, nb2, phEvs, nPh := wannierBatch(rng, 3, nw, nModes)
	nb2[0] = 2
	u2[0] = randomRotation(rng, nw, 2)
	nPh[1] = 2
	phEvs[1] = randomRotation(rng, nModes, 2)

	w, err := NewWannierElPh(cr, data, device.CPU{}, 1<<40, math.NaN())
	require.NoError(t, err)
	require.NoError(t, w.CacheOuter(crystal.Vec3{0.1, 0.2, 0.3}, u1, nw))
	stacked, err := w.Squared(qs, u2, nb2, phEvs, nPh)
	require.NoError(t, err)

	require.Len(t, stacked[0], nModes*2*nw)
	require.Len(t, stacked[1], 2*nw*nw)
	require.Len(t, stacked[2], nModes*nw*nw)
	for i := range qs {
		alone, err := w.Squared(qs[i:i+1], u2[i:i+1], nb2[i:i+1],
			phEvs[i:i+1], nPh[i:i+1])
		require.NoError(t, err)
		for j := range alone[0] {
			assert.InDelta(t, alone[0][j], stacked[i][j], 1e-10,
				"point %d entry %d", i, j)
		}
	}
}

func TestWannierResourceError(t *testing.T) {
	cr := testCrystal(t, 1.0)
	rng := rand.New(rand.NewSource(3))
	data := testWannierData(rng, 2, 2, 2, 3)

	w, err := NewWannierElPh(cr, data, device.CPU{}, 1, math.NaN())
	require.NoError(t, err)
	u1 := randomRotation(rng, 2, 2)
	require.NoError(t, w.CacheOuter(crystal.Vec3{}, u1, 2))

	qs, u2, nb2, phEvs, nPh := wannierBatch(rng, 2, 2, 3)
	_, err = w.Squared(qs, u2, nb2, phEvs, nPh)
	assert.ErrorIs(t, err, ErrResource)
}

func TestWannierRequiresCache(t *testing.T) {
	cr := testCrystal(t, 1.0)
	rng := rand.New(rand.NewSource(4))
	data := testWannierData(rng, 2, 2, 2, 3)

	w, err := NewWannierElPh(cr, data, device.CPU{}, 1<<40, math.NaN())
	require.NoError(t, err)
	qs, u2, nb2, phEvs, nPh := wannierBatch(rng, 1, 2, 3)
	_, err = w.Squared(qs, u2, nb2, phEvs, nPh)
	assert.Error(t, err)
}

func TestWannierShapeValidation(t *testing.T) {
	cr := testCrystal(t, 1.0)
	rng := rand.New(rand.NewSource(5))
	data := testWannierData(rng, 2, 2, 2, 3)
	data.G = data.G[:len(data.G)-1]
	_, err := NewWannierElPh(cr, data, device.CPU{}, 0, math.NaN())
	assert.Error(t, err)
}
