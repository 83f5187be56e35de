package linear

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestDiagonalWhiten(t *testing.T) {
	d := NewDiagonalSigmas([]float64{0.5, 2})
	v := mat.NewVecDense(2, []float64{1, 4})

	d.WhitenInPlace(v)
	assert.InDelta(t, 2.0, v.AtVec(0), 1e-12)
	assert.InDelta(t, 2.0, v.AtVec(1), 1e-12)

	d.UnwhitenInPlace(v)
	assert.InDelta(t, 1.0, v.AtVec(0), 1e-12)
	assert.InDelta(t, 4.0, v.AtVec(1), 1e-12)
}

func TestDiagonalWhitenRows(t *testing.T) {
	d := NewDiagonalSigmas([]float64{0.5, 2})
	m := mat.NewDense(2, 2, []float64{1, 2, 4, 8})

	d.WhitenRows(m)
	assert.InDelta(t, 2.0, m.At(0, 0), 1e-12)
	assert.InDelta(t, 4.0, m.At(0, 1), 1e-12)
	assert.InDelta(t, 2.0, m.At(1, 0), 1e-12)
	assert.InDelta(t, 4.0, m.At(1, 1), 1e-12)
}

func TestDiagonalSigmasIsACopy(t *testing.T) {
	d := NewDiagonalSigmas([]float64{0.5, 2})
	s := d.Sigmas()
	assert.Equal(t, []float64{0.5, 2}, s.RawVector().Data)

	// Mutating the returned vector must not touch the model.
	s.SetVec(0, 99)
	v := mat.NewVecDense(2, []float64{1, 1})
	d.WhitenInPlace(v)
	assert.InDelta(t, 2.0, v.AtVec(0), 1e-12)
}

func TestUnit(t *testing.T) {
	u := Unit(3)
	assert.Equal(t, 3, u.Dim())
	v := mat.NewVecDense(3, []float64{1, 2, 3})
	u.WhitenInPlace(v)
	assert.Equal(t, []float64{1, 2, 3}, v.RawVector().Data)
}

func TestDiagonalEquals(t *testing.T) {
	a := NewDiagonalSigmas([]float64{1, 2})
	b := NewDiagonalSigmas([]float64{1, 2 + 1e-12})
	assert.True(t, a.Equals(b, 1e-9))
	assert.False(t, a.Equals(NewDiagonalSigmas([]float64{1}), 1e-9))
	assert.False(t, a.Equals(nil, 1e-9))
}
