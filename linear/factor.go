package linear

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// JacobianFactor is one linear measurement factor: rows of A blocks over
// its variable scope and a right-hand side b, optionally row-scaled by a
// diagonal model. Factors are immutable once built.
type JacobianFactor struct {
	keys  []Key
	a     []*mat.Dense
	b     *mat.VecDense
	model *Diagonal
}

// NewJacobianFactor builds a factor from terms and right-hand side. All
// blocks must share b's row count; mismatches panic.
func NewJacobianFactor(terms []Term, b *mat.VecDense, model *Diagonal) *JacobianFactor {
	rows := b.Len()
	f := &JacobianFactor{
		keys:  make([]Key, 0, len(terms)),
		a:     make([]*mat.Dense, 0, len(terms)),
		b:     b,
		model: model,
	}
	for _, t := range terms {
		r, _ := t.A.Dims()
		if r != rows {
			panic(fmt.Sprintf("factor: block for %v has %d rows, b has %d", t.Key, r, rows))
		}
		f.keys = append(f.keys, t.Key)
		f.a = append(f.a, t.A)
	}
	if model != nil && model.Dim() != rows {
		panic(fmt.Sprintf("factor: model has %d rows, b has %d", model.Dim(), rows))
	}
	return f
}

// NewJacobianFactorFromConditional reinterprets a conditional as a factor
// over its frontal+parent scope: A = [R | S_1 ... S_k], b = d, model
// carried over. Coefficient data is copied so the two views stay
// independent.
func NewJacobianFactorFromConditional(c *GaussianConditional) *JacobianFactor {
	terms := make([]Term, 0, 1+len(c.Parents()))
	terms = append(terms, Term{Key: c.Frontal(), A: mat.DenseCopyOf(c.r)})
	for _, p := range c.Parents() {
		terms = append(terms, Term{Key: p.Key, A: mat.DenseCopyOf(p.A)})
	}
	return NewJacobianFactor(terms, mat.VecDenseCopyOf(c.d), c.Model())
}

// Keys returns the factor's variable scope in stored order.
func (f *JacobianFactor) Keys() []Key { return f.keys }

// Rows returns the number of measurement rows.
func (f *JacobianFactor) Rows() int { return f.b.Len() }

// Dim returns the column dimension of the block for key, or 0.
func (f *JacobianFactor) Dim(key Key) int {
	for i, k := range f.keys {
		if k == key {
			_, c := f.a[i].Dims()
			return c
		}
	}
	return 0
}

// unweightedError computes A*x - b.
func (f *JacobianFactor) unweightedError(x VectorValues) (*mat.VecDense, error) {
	e := mat.NewVecDense(f.Rows(), nil)
	e.ScaleVec(-1, f.b)
	var tmp mat.VecDense
	for i, k := range f.keys {
		xk, ok := x[k]
		if !ok {
			return nil, fmt.Errorf("factor over %v: variable %v: %w", f.keys, k, ErrMissingVariable)
		}
		tmp.MulVec(f.a[i], xk)
		e.AddVec(e, &tmp)
	}
	return e, nil
}

// WhitenedError computes W*(A*x - b).
func (f *JacobianFactor) WhitenedError(x VectorValues) (*mat.VecDense, error) {
	e, err := f.unweightedError(x)
	if err != nil {
		return nil, err
	}
	if f.model != nil {
		f.model.WhitenInPlace(e)
	}
	return e, nil
}

// Error computes 0.5 * ||W*(A*x - b)||^2.
func (f *JacobianFactor) Error(x VectorValues) (float64, error) {
	e, err := f.WhitenedError(x)
	if err != nil {
		return 0, err
	}
	return 0.5 * mat.Dot(e, e), nil
}

// MultiplyVec computes the whitened product W*A*x.
func (f *JacobianFactor) MultiplyVec(x VectorValues) (*mat.VecDense, error) {
	out := mat.NewVecDense(f.Rows(), nil)
	var tmp mat.VecDense
	for i, k := range f.keys {
		xk, ok := x[k]
		if !ok {
			return nil, fmt.Errorf("factor over %v: variable %v: %w", f.keys, k, ErrMissingVariable)
		}
		tmp.MulVec(f.a[i], xk)
		out.AddVec(out, &tmp)
	}
	if f.model != nil {
		f.model.WhitenInPlace(out)
	}
	return out, nil
}

// TransposeMultiplyAdd accumulates alpha * (W*A)^T * e into out,
// inserting zero blocks for scope variables out lacks. e is expected in
// whitened units, as produced by WhitenedError or MultiplyVec.
func (f *JacobianFactor) TransposeMultiplyAdd(alpha float64, e *mat.VecDense, out VectorValues) {
	we := mat.VecDenseCopyOf(e)
	if f.model != nil {
		f.model.WhitenInPlace(we)
	}
	for i, k := range f.keys {
		_, cols := f.a[i].Dims()
		acc, ok := out[k]
		if !ok {
			acc = mat.NewVecDense(cols, nil)
			out[k] = acc
		}
		tmp := mat.NewVecDense(cols, nil)
		tmp.MulVec(f.a[i].T(), we)
		acc.AddScaledVec(acc, alpha, tmp)
	}
}
