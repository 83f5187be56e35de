package linear

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
)

// Term pairs a parent key with its coupling block.
type Term struct {
	Key Key
	A   *mat.Dense
}

// GaussianConditional is one eliminated variable's linear relation to its
// later-eliminated parents:
//
//	R*x_f + S_1*x_p1 + ... + S_k*x_pk = d   (rows scaled by the model)
//
// R is upper triangular over the frontal block. Conditionals are built
// once by elimination and never mutated by the solvers here.
type GaussianConditional struct {
	frontal Key
	r       *mat.TriDense
	d       *mat.VecDense
	parents []Term
	model   *Diagonal
}

// NewConditional builds a conditional. R must be upper triangular with
// the frontal block's dimension; every parent block and the model (when
// present) must share R's row count. Mismatches panic, since they can
// only come from a broken elimination.
func NewConditional(frontal Key, r *mat.TriDense, d *mat.VecDense, parents []Term, model *Diagonal) *GaussianConditional {
	n, _ := r.Dims()
	if d.Len() != n {
		panic(fmt.Sprintf("conditional %v: d has %d rows, R has %d", frontal, d.Len(), n))
	}
	for _, p := range parents {
		pr, _ := p.A.Dims()
		if pr != n {
			panic(fmt.Sprintf("conditional %v: parent %v block has %d rows, R has %d", frontal, p.Key, pr, n))
		}
	}
	if model != nil && model.Dim() != n {
		panic(fmt.Sprintf("conditional %v: model has %d rows, R has %d", frontal, model.Dim(), n))
	}
	return &GaussianConditional{frontal: frontal, r: r, d: d, parents: parents, model: model}
}

// Frontal returns the variable this conditional solves for.
func (c *GaussianConditional) Frontal() Key { return c.frontal }

// Dim returns the frontal block dimension.
func (c *GaussianConditional) Dim() int {
	n, _ := c.r.Dims()
	return n
}

// Parents returns the parent terms in stored order.
func (c *GaussianConditional) Parents() []Term { return c.parents }

// Model returns the noise model, or nil.
func (c *GaussianConditional) Model() *Diagonal { return c.model }

// Solve computes the frontal value x_f = R^-1 (d - sum S_j x_j), reading
// parent values from x. The noise scaling cancels between the two sides,
// so the mean solve never touches the model. A parent absent from x is a
// fatal precondition violation.
func (c *GaussianConditional) Solve(x VectorValues) (*mat.VecDense, error) {
	rhs := mat.VecDenseCopyOf(c.d)
	if err := c.subtractParents(rhs, x); err != nil {
		return nil, err
	}
	blas64.Trsv(blas.NoTrans, c.r.RawTriangular(), rhs.RawVector())
	return rhs, nil
}

// SolveOtherRHS solves against a caller-supplied right-hand side instead
// of the stored constant: x_f = R^-1 (rhs_f - sum S_j x_j), with parent
// values taken from partial.
func (c *GaussianConditional) SolveOtherRHS(partial, rhs VectorValues) (*mat.VecDense, error) {
	fv, ok := rhs[c.frontal]
	if !ok {
		return nil, fmt.Errorf("conditional %v: rhs: %w", c.frontal, ErrMissingVariable)
	}
	out := mat.VecDenseCopyOf(fv)
	if err := c.subtractParents(out, partial); err != nil {
		return nil, err
	}
	blas64.Trsv(blas.NoTrans, c.r.RawTriangular(), out.RawVector())
	return out, nil
}

func (c *GaussianConditional) subtractParents(rhs *mat.VecDense, x VectorValues) error {
	var tmp mat.VecDense
	for _, p := range c.parents {
		xp, ok := x[p.Key]
		if !ok {
			return fmt.Errorf("conditional %v: parent %v: %w", c.frontal, p.Key, ErrMissingVariable)
		}
		tmp.MulVec(p.A, xp)
		rhs.AddScaledVec(rhs, -1, &tmp)
	}
	return nil
}

// SolveTransposeInPlace performs this conditional's column step of the
// transpose solve R^T gy = gx, mutating gy: the frontal block becomes
// R^-T gx_f (rescaled by sigmas when a model is attached) and each parent
// block is reduced by S_j^T of the solved column.
//
// A frontal or parent entry absent from gy is skipped, not treated as
// zero. That matches the historical behavior this solver reproduces; see
// GaussianBayesNet.BackSubstituteTranspose.
func (c *GaussianConditional) SolveTransposeInPlace(gy VectorValues) {
	fv, ok := gy[c.frontal]
	if !ok {
		return
	}
	u := mat.VecDenseCopyOf(fv)
	blas64.Trsv(blas.Trans, c.r.RawTriangular(), u.RawVector())
	for _, p := range c.parents {
		gp, ok := gy[p.Key]
		if !ok {
			continue
		}
		tmp := mat.NewVecDense(gp.Len(), nil)
		tmp.MulVec(p.A.T(), u)
		gp.AddScaledVec(gp, -1, tmp)
	}
	if c.model != nil {
		c.model.UnwhitenInPlace(u)
	}
	fv.CopyVec(u)
}

// RDiagonal returns the raw diagonal of the triangular block. Callers
// whiten it themselves when the conditional carries a model.
func (c *GaussianConditional) RDiagonal() *mat.VecDense {
	n := c.Dim()
	out := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		out.SetVec(i, c.r.At(i, i))
	}
	return out
}

// Equals reports elementwise agreement of scope and coefficients within tol.
func (c *GaussianConditional) Equals(o *GaussianConditional, tol float64) bool {
	if c.frontal != o.frontal || len(c.parents) != len(o.parents) {
		return false
	}
	if c.Dim() != o.Dim() || !mat.EqualApprox(c.r, o.r, tol) || !mat.EqualApprox(c.d, o.d, tol) {
		return false
	}
	for i, p := range c.parents {
		op := o.parents[i]
		if p.Key != op.Key || !mat.EqualApprox(p.A, op.A, tol) {
			return false
		}
	}
	if (c.model == nil) != (o.model == nil) {
		return false
	}
	if c.model != nil && !c.model.Equals(o.model, tol) {
		return false
	}
	return true
}
