package linear

import (
	"gonum.org/v1/gonum/mat"
)

// Diagonal is a diagonal Gaussian noise model: independent per-row
// standard deviations. Whitening divides each row by its sigma,
// normalizing residuals and coefficient rows to unit noise.
type Diagonal struct {
	sigmas    *mat.VecDense
	invSigmas *mat.VecDense
}

// NewDiagonalSigmas builds a model from per-row standard deviations.
// Sigmas must be strictly positive; this is not validated, matching the
// unchecked numeric preconditions elsewhere in the package.
func NewDiagonalSigmas(sigmas []float64) *Diagonal {
	n := len(sigmas)
	s := mat.NewVecDense(n, nil)
	inv := mat.NewVecDense(n, nil)
	for i, v := range sigmas {
		s.SetVec(i, v)
		inv.SetVec(i, 1/v)
	}
	return &Diagonal{sigmas: s, invSigmas: inv}
}

// Unit returns an n-dimensional model with all sigmas equal to one.
func Unit(n int) *Diagonal {
	sigmas := make([]float64, n)
	for i := range sigmas {
		sigmas[i] = 1
	}
	return NewDiagonalSigmas(sigmas)
}

// Dim returns the number of rows the model scales.
func (d *Diagonal) Dim() int { return d.sigmas.Len() }

// Sigmas returns a copy of the standard deviations.
func (d *Diagonal) Sigmas() *mat.VecDense { return mat.VecDenseCopyOf(d.sigmas) }

// WhitenInPlace scales v by the precisions: v[i] /= sigma[i].
func (d *Diagonal) WhitenInPlace(v *mat.VecDense) {
	for i := 0; i < v.Len(); i++ {
		v.SetVec(i, v.AtVec(i)*d.invSigmas.AtVec(i))
	}
}

// UnwhitenInPlace undoes WhitenInPlace: v[i] *= sigma[i].
func (d *Diagonal) UnwhitenInPlace(v *mat.VecDense) {
	for i := 0; i < v.Len(); i++ {
		v.SetVec(i, v.AtVec(i)*d.sigmas.AtVec(i))
	}
}

// WhitenRows scales each row of m by the corresponding precision.
func (d *Diagonal) WhitenRows(m *mat.Dense) {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		w := d.invSigmas.AtVec(i)
		for j := 0; j < c; j++ {
			m.Set(i, j, m.At(i, j)*w)
		}
	}
}

// Equals reports elementwise sigma agreement within tol.
func (d *Diagonal) Equals(o *Diagonal, tol float64) bool {
	if o == nil || d.sigmas.Len() != o.sigmas.Len() {
		return false
	}
	return mat.EqualApprox(d.sigmas, o.sigmas, tol)
}
