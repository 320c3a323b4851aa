package smearing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transportlab/bte/crystal"
	"github.com/transportlab/bte/mesh"
)

func TestGaussianNormalization(t *testing.T) {
	g := NewGaussian(0.1)

	// trapezoidal integral over +-6 sigma
	sum := 0.0
	h := 1e-4
	for x := -0.6; x <= 0.6; x += h {
		sum += g.Weight(x, Hint{}) * h
	}
	assert.InDelta(t, 1.0, sum, 1e-3)
}

func TestGaussianSymmetricAndClamped(t *testing.T) {
	g := NewGaussian(0.05)
	assert.Equal(t, g.Weight(0.02, Hint{}), g.Weight(-0.02, Hint{}))
	assert.Zero(t, g.Weight(10.0, Hint{}), "far tail truncates to zero")

	// non-positive width clamps instead of dividing by zero
	tiny := NewGaussian(0)
	w := tiny.Weight(0, Hint{})
	assert.False(t, math.IsInf(w, 0))
	assert.False(t, math.IsNaN(w))
}

func newTestAdaptive(t *testing.T, base float64) *AdaptiveGaussian {
	t.Helper()
	g, err := mesh.NewGrid(4, 4, 4)
	require.NoError(t, err)
	recip := crystal.Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	return NewAdaptiveGaussian(g, recip, base, 0, 0)
}

func TestAdaptiveWidthScalesWithVelocity(t *testing.T) {
	a := newTestAdaptive(t, 0.01)

	slow := a.Width(crystal.Vec3{0.1, 0, 0})
	fast := a.Width(crystal.Vec3{1.0, 0, 0})
	assert.Greater(t, fast, slow)

	// sigma = |dv . dq| / sqrt(12) for a single contributing direction
	want := 1.0 * 0.25 / math.Sqrt(12)
	assert.InDelta(t, want, fast, 1e-12)
}

func TestAdaptiveWidthClamps(t *testing.T) {
	a := newTestAdaptive(t, 0.01)

	// default clamp range is [base/10, 10*base]
	assert.Equal(t, 0.1, a.Width(crystal.Vec3{1e4, 0, 0}), "cap")
	assert.Equal(t, 0.001, a.Width(crystal.Vec3{1e-2, 0, 0}), "floor")
	assert.Equal(t, 0.01, a.Width(crystal.Vec3{}), "flat band falls back to base")
}

func TestAdaptiveWeightUsesHint(t *testing.T) {
	a := newTestAdaptive(t, 0.01)

	// no velocity hint: base width
	base := a.Weight(0, Hint{})
	assert.InDelta(t, invSqrtPi/0.01, base, 1e-9)

	// wide pair smears more, so the peak is lower
	wide := a.Weight(0, VelocityHint(crystal.Vec3{1, 1, 1}))
	assert.Less(t, wide, base)
}
