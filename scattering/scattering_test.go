package scattering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transportlab/bte/pool"
)

func TestModeString(t *testing.T) {
	assert.Equal(t, "diagonal", ModeDiagonal.String())
	assert.Equal(t, "matrix", ModeMatrix.String())
	assert.Equal(t, "apply", ModeApply.String())
	assert.Equal(t, "Mode(9)", Mode(9).String())
}

func TestVectorShapeValidation(t *testing.T) {
	_, err := NewVector(0, 4, 1)
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = NewVector(1, 0, 1)
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = NewVector(1, 4, 2)
	assert.ErrorIs(t, err, ErrConfiguration)

	v, err := NewVector(2, 4, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, v.NumCalcs())
	assert.Equal(t, 4, v.NumStates())
	assert.Equal(t, 3, v.Dims())
	assert.Len(t, v.Data(), 24)
}

func TestVectorArithmetic(t *testing.T) {
	v, err := NewVector(1, 3, 1)
	require.NoError(t, err)
	v.Set(0, 0, 0, 3)
	v.Set(0, 1, 0, 4)
	v.AddAt(0, 1, 0, -1)
	assert.Equal(t, 3.0, v.At(0, 1, 0))
	assert.InDelta(t, 4.242640687, v.Norm(), 1e-8)

	w := v.Clone()
	w.Scale(2)
	assert.Equal(t, 6.0, w.At(0, 0, 0))
	assert.Equal(t, 3.0, v.At(0, 0, 0), "clone must not alias")

	require.NoError(t, v.AddScaled(w, -0.5))
	assert.Zero(t, v.At(0, 0, 0))
	assert.Zero(t, v.At(0, 1, 0))

	v.Set(0, 2, 0, 7)
	v.Zero()
	assert.Zero(t, v.Norm())

	other, _ := NewVector(1, 4, 1)
	assert.ErrorIs(t, v.Add(other), ErrConfiguration)
	var nilVec *Vector
	assert.ErrorIs(t, v.AddScaled(nilVec, 1), ErrConfiguration)
}

func TestMatrixAccumulation(t *testing.T) {
	_, err := NewMatrix(0, 3)
	assert.ErrorIs(t, err, ErrConfiguration)

	m, err := NewMatrix(2, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, m.NumCalcs())
	assert.Equal(t, 3, m.NumStates())

	m.AddAt(0, 1, 2, 5)
	m.AddAt(0, 1, 2, 1)
	m.AddAt(1, 0, 0, -2)
	assert.Equal(t, 6.0, m.Block(0).At(1, 2))
	assert.Equal(t, -2.0, m.Block(1).At(0, 0))
	assert.Zero(t, m.Block(1).At(1, 2))
}

func TestVectorAllReduceAcrossPool(t *testing.T) {
	results := make([]*Vector, 3)
	err := pool.Run(3, func(p *pool.Pool) error {
		v, err := NewVector(1, 2, 1)
		if err != nil {
			return err
		}
		v.Set(0, 0, 0, float64(p.Rank()))
		v.Set(0, 1, 0, 1)
		if err := v.allReduce(p); err != nil {
			return err
		}
		results[p.Rank()] = v
		return nil
	})
	require.NoError(t, err)
	for r, v := range results {
		assert.Equal(t, 3.0, v.At(0, 0, 0), "rank %d", r)
		assert.Equal(t, 3.0, v.At(0, 1, 0), "rank %d", r)
	}
}
