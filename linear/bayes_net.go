package linear

import (
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

// GaussianBayesNet is an ordered sequence of conditionals representing a
// full triangular system, earliest-eliminated first. For every
// conditional, each parent is the frontal of some later conditional; the
// solvers rely on that ordering and surface ErrMissingVariable when it
// does not hold. The net itself is read-only and may be shared across
// concurrent solves, each call owning its own accumulator.
type GaussianBayesNet []*GaussianConditional

// Optimize solves the full triangular system by back-substitution and
// returns one value per frontal variable.
func (bn GaussianBayesNet) Optimize() (VectorValues, error) {
	return bn.OptimizeWithPartial(NewVectorValues())
}

// OptimizeWithPartial is Optimize seeded with values for variables the
// net does not cover; those pass through to the result unchanged. The
// net is traversed in reverse elimination order so every conditional
// finds its parents already solved.
func (bn GaussianBayesNet) OptimizeWithPartial(solutionForMissing VectorValues) (VectorValues, error) {
	start := time.Now()
	soln := solutionForMissing.Copy()
	for i := len(bn) - 1; i >= 0; i-- {
		cg := bn[i]
		x, err := cg.Solve(soln)
		if err != nil {
			return nil, err
		}
		soln.Insert(cg.Frontal(), x)
	}
	optimizeTotal.Inc()
	solveDuration.WithLabelValues("optimize").Observe(time.Since(start).Seconds())
	return soln, nil
}

// BackSubstitute solves R*x = rhs for an arbitrary right-hand side
// distinct from the constants baked into the conditionals. The result is
// accumulated into a fresh assignment; rhs only supplies the per-step
// target values.
func (bn GaussianBayesNet) BackSubstitute(rhs VectorValues) (VectorValues, error) {
	start := time.Now()
	result := NewVectorValues()
	for i := len(bn) - 1; i >= 0; i-- {
		cg := bn[i]
		x, err := cg.SolveOtherRHS(result, rhs)
		if err != nil {
			return nil, err
		}
		result.Insert(cg.Frontal(), x)
	}
	backSubstituteTotal.Inc()
	solveDuration.WithLabelValues("back_substitute").Observe(time.Since(start).Seconds())
	return result, nil
}

// BackSubstituteTranspose solves R^T*gy = gx, traversing forward since
// transposition reverses the dependency direction: column j of R^T can
// only be eliminated once columns before it are done.
//
// The working copy starts as gx and conditionals only modify entries in
// place; a variable in the net but absent from gx is skipped rather than
// treated as zero, so it never appears in the output. That skip is
// long-standing behavior preserved deliberately.
func (bn GaussianBayesNet) BackSubstituteTranspose(gx VectorValues) VectorValues {
	start := time.Now()
	gy := gx.Copy()
	for _, cg := range bn {
		cg.SolveTransposeInPlace(gy)
	}
	transposeSolveTotal.Inc()
	solveDuration.WithLabelValues("back_substitute_transpose").Observe(time.Since(start).Seconds())
	return gy
}

// LogDeterminant sums the logs of the (whitened, when a model is
// attached) diagonal entries over all conditionals. Order independent.
// Diagonals are assumed strictly positive, a property of any well-posed
// elimination; non-positive entries propagate as NaN or -Inf without a
// checked error.
func (bn GaussianBayesNet) LogDeterminant() float64 {
	var logDet float64
	for _, cg := range bn {
		diag := cg.RDiagonal()
		if m := cg.Model(); m != nil {
			m.WhitenInPlace(diag)
		}
		for i := 0; i < diag.Len(); i++ {
			logDet += math.Log(diag.AtVec(i))
		}
	}
	return logDet
}

// Determinant is exp(LogDeterminant).
func (bn GaussianBayesNet) Determinant() float64 {
	return math.Exp(bn.LogDeterminant())
}

// ToFactorGraph reinterprets the ordered conditionals as an equivalent
// factor graph: each conditional becomes one Jacobian factor over its
// frontal and parent scope, preserving variable identities exactly. The
// two views are distinct immutable structures over the same coefficients.
func (bn GaussianBayesNet) ToFactorGraph() GaussianFactorGraph {
	fg := make(GaussianFactorGraph, 0, len(bn))
	for _, cg := range bn {
		fg = append(fg, NewJacobianFactorFromConditional(cg))
	}
	return fg
}

// Gradient delegates to the factor-graph view: the gradient of the
// squared error at x0.
func (bn GaussianBayesNet) Gradient(x0 VectorValues) (VectorValues, error) {
	return bn.ToFactorGraph().Gradient(x0)
}

// GradientAtZero delegates to the factor-graph view.
func (bn GaussianBayesNet) GradientAtZero() VectorValues {
	return bn.ToFactorGraph().GradientAtZero()
}

// Error delegates to the factor-graph view: the summed squared error at x.
func (bn GaussianBayesNet) Error(x VectorValues) (float64, error) {
	return bn.ToFactorGraph().Error(x)
}

// OptimizeGradientSearch delegates to the factor-graph view: the
// steepest-descent point of the quadratic error surface.
func (bn GaussianBayesNet) OptimizeGradientSearch() (VectorValues, error) {
	return bn.ToFactorGraph().OptimizeGradientSearch()
}

// Matrix assembles the dense whitened system [A|b] of the factor-graph
// view and returns the coefficient matrix and right-hand side.
func (bn GaussianBayesNet) Matrix() (*mat.Dense, *mat.VecDense) {
	return bn.ToFactorGraph().Jacobian()
}

// Equals compares conditionals pairwise within tol. Sequence order is
// part of equality.
func (bn GaussianBayesNet) Equals(o GaussianBayesNet, tol float64) bool {
	if len(bn) != len(o) {
		return false
	}
	for i, cg := range bn {
		if !cg.Equals(o[i], tol) {
			return false
		}
	}
	return true
}
