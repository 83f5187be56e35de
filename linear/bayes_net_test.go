package linear

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// chainNet builds the two-variable chain used across the tests:
// conditional B (frontal x1, parent x2, R=[1], S=[1], d=[3]) eliminated
// first, conditional A (frontal x2, R=[2], d=[4]) eliminated last.
// The exact solution is x2 = 2, x1 = 1.
func chainNet() GaussianBayesNet {
	condB := NewConditional(X(1),
		mat.NewTriDense(1, mat.Upper, []float64{1}),
		mat.NewVecDense(1, []float64{3}),
		[]Term{{Key: X(2), A: mat.NewDense(1, 1, []float64{1})}},
		nil)
	condA := NewConditional(X(2),
		mat.NewTriDense(1, mat.Upper, []float64{2}),
		mat.NewVecDense(1, []float64{4}),
		nil, nil)
	return GaussianBayesNet{condB, condA}
}

// threeNet builds a 3-variable chain with 2-dimensional blocks.
func threeNet() GaussianBayesNet {
	r := func(d ...float64) *mat.TriDense { return mat.NewTriDense(2, mat.Upper, d) }
	c1 := NewConditional(X(1),
		r(2, 1, 0, 3),
		mat.NewVecDense(2, []float64{1, 2}),
		[]Term{
			{Key: X(2), A: mat.NewDense(2, 2, []float64{1, 0, 0.5, 1})},
			{Key: X(3), A: mat.NewDense(2, 2, []float64{0, 1, 1, 0})},
		}, nil)
	c2 := NewConditional(X(2),
		r(1, 0.5, 0, 2),
		mat.NewVecDense(2, []float64{-1, 3}),
		[]Term{{Key: X(3), A: mat.NewDense(2, 2, []float64{2, 0, 0, 2})}},
		nil)
	c3 := NewConditional(X(3),
		r(4, 1, 0, 1),
		mat.NewVecDense(2, []float64{2, -2}),
		nil, nil)
	return GaussianBayesNet{c1, c2, c3}
}

func TestOptimizeChain(t *testing.T) {
	soln, err := chainNet().Optimize()
	require.NoError(t, err)
	require.Len(t, soln, 2)
	assert.InDelta(t, 1.0, soln[X(1)].AtVec(0), 1e-12)
	assert.InDelta(t, 2.0, soln[X(2)].AtVec(0), 1e-12)
}

func TestOptimizeRoundTrip(t *testing.T) {
	bn := threeNet()
	soln, err := bn.Optimize()
	require.NoError(t, err)

	// R*x must reproduce d within floating point tolerance.
	a, b := bn.Matrix()
	x, err := soln.Vector([]Key{X(1), X(2), X(3)})
	require.NoError(t, err)
	var ax mat.VecDense
	ax.MulVec(a, x)
	assert.True(t, mat.EqualApprox(&ax, b, 1e-10), "R*x should equal d")
}

func TestOptimizeMissingPassthrough(t *testing.T) {
	missing := NewVectorValues()
	missing.Insert(L(9), mat.NewVecDense(2, []float64{7, -7}))

	soln, err := chainNet().OptimizeWithPartial(missing)
	require.NoError(t, err)
	require.Len(t, soln, 3)
	assert.InDelta(t, 7.0, soln[L(9)].AtVec(0), 0)
	assert.InDelta(t, -7.0, soln[L(9)].AtVec(1), 0)
	assert.InDelta(t, 1.0, soln[X(1)].AtVec(0), 1e-12)

	// The input assignment is not mutated.
	require.Len(t, missing, 1)
}

func TestOptimizeOrderPermutation(t *testing.T) {
	// x1 depends on two independent roots x2 and x3; the roots carry no
	// parents, so either can be eliminated last and both orders are valid.
	child := NewConditional(X(1),
		mat.NewTriDense(1, mat.Upper, []float64{2}),
		mat.NewVecDense(1, []float64{10}),
		[]Term{
			{Key: X(2), A: mat.NewDense(1, 1, []float64{1})},
			{Key: X(3), A: mat.NewDense(1, 1, []float64{-1})},
		}, nil)
	rootA := NewConditional(X(2),
		mat.NewTriDense(1, mat.Upper, []float64{2}),
		mat.NewVecDense(1, []float64{4}),
		nil, nil)
	rootB := NewConditional(X(3),
		mat.NewTriDense(1, mat.Upper, []float64{4}),
		mat.NewVecDense(1, []float64{4}),
		nil, nil)

	want, err := GaussianBayesNet{child, rootA, rootB}.Optimize()
	require.NoError(t, err)

	got, err := GaussianBayesNet{child, rootB, rootA}.Optimize()
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for k, v := range want {
		assert.True(t, mat.EqualApprox(v, got[k], 1e-12), "value for %v", k)
	}
	// x2 = 2, x3 = 1, x1 = (10 - 2 + 1)/2 = 4.5 in both orders.
	assert.InDelta(t, 4.5, got[X(1)].AtVec(0), 1e-12)
}

func TestOptimizeTopologicalViolation(t *testing.T) {
	bn := chainNet()
	// Put the root before the conditional that depends on it: the reverse
	// traversal now solves x1 before x2 exists.
	violated := GaussianBayesNet{bn[1], bn[0]}
	_, err := violated.Optimize()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingVariable))
}

func TestBackSubstitute(t *testing.T) {
	bn := chainNet()
	rhs := NewVectorValues()
	rhs.Insert(X(1), mat.NewVecDense(1, []float64{5}))
	rhs.Insert(X(2), mat.NewVecDense(1, []float64{6}))

	result, err := bn.BackSubstitute(rhs)
	require.NoError(t, err)
	// x2 = 6/2 = 3, x1 = (5 - 1*3)/1 = 2
	assert.InDelta(t, 3.0, result[X(2)].AtVec(0), 1e-12)
	assert.InDelta(t, 2.0, result[X(1)].AtVec(0), 1e-12)
}

func TestBackSubstituteMissingRHS(t *testing.T) {
	rhs := NewVectorValues()
	rhs.Insert(X(2), mat.NewVecDense(1, []float64{6}))
	_, err := chainNet().BackSubstitute(rhs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingVariable))
}

func TestBackSubstituteTranspose(t *testing.T) {
	bn := threeNet()
	gx := NewVectorValues()
	gx.Insert(X(1), mat.NewVecDense(2, []float64{1, 2}))
	gx.Insert(X(2), mat.NewVecDense(2, []float64{-1, 0.5}))
	gx.Insert(X(3), mat.NewVecDense(2, []float64{3, -2}))

	gy := bn.BackSubstituteTranspose(gx)

	// R^T * gy must reproduce gx.
	a, _ := bn.Matrix()
	gyVec, err := gy.Vector([]Key{X(1), X(2), X(3)})
	require.NoError(t, err)
	gxVec, err := gx.Vector([]Key{X(1), X(2), X(3)})
	require.NoError(t, err)
	var rty mat.VecDense
	rty.MulVec(a.T(), gyVec)
	assert.True(t, mat.EqualApprox(&rty, gxVec, 1e-10), "R^T*gy should equal gx")
}

func TestBackSubstituteTransposeChain(t *testing.T) {
	bn := chainNet()
	gx := NewVectorValues()
	gx.Insert(X(1), mat.NewVecDense(1, []float64{2}))
	gx.Insert(X(2), mat.NewVecDense(1, []float64{5}))

	gy := bn.BackSubstituteTranspose(gx)
	// Full R = [[1,1],[0,2]] over (x1,x2); R^T gy = gx gives gy = (2, 1.5).
	assert.InDelta(t, 2.0, gy[X(1)].AtVec(0), 1e-12)
	assert.InDelta(t, 1.5, gy[X(2)].AtVec(0), 1e-12)
}

func TestBackSubstituteTransposeSkipsAbsent(t *testing.T) {
	bn := chainNet()
	gx := NewVectorValues()
	gx.Insert(X(2), mat.NewVecDense(1, []float64{5}))

	gy := bn.BackSubstituteTranspose(gx)
	// x1 is absent from the input, so it is skipped, not zero-filled.
	_, ok := gy[X(1)]
	assert.False(t, ok)
	assert.InDelta(t, 2.5, gy[X(2)].AtVec(0), 1e-12)
}

func TestLogDeterminantIdentity(t *testing.T) {
	ident := GaussianBayesNet{
		NewConditional(X(1),
			mat.NewTriDense(2, mat.Upper, []float64{1, 0, 0, 1}),
			mat.NewVecDense(2, nil), nil, nil),
		NewConditional(X(2),
			mat.NewTriDense(1, mat.Upper, []float64{1}),
			mat.NewVecDense(1, nil), nil, nil),
	}
	assert.InDelta(t, 0.0, ident.LogDeterminant(), 1e-15)
	assert.InDelta(t, 1.0, ident.Determinant(), 1e-15)
}

func TestLogDeterminant(t *testing.T) {
	bn := chainNet()
	// Diagonals are 1 and 2, no models: logdet = log(2).
	assert.InDelta(t, math.Log(2), bn.LogDeterminant(), 1e-12)
	assert.InDelta(t, math.Exp(bn.LogDeterminant()), bn.Determinant(), 1e-12)
}

func TestLogDeterminantWhitened(t *testing.T) {
	bn := GaussianBayesNet{
		NewConditional(X(1),
			mat.NewTriDense(1, mat.Upper, []float64{2}),
			mat.NewVecDense(1, []float64{0}),
			nil, NewDiagonalSigmas([]float64{0.5})),
	}
	// Whitened diagonal is 2/0.5 = 4.
	assert.InDelta(t, math.Log(4), bn.LogDeterminant(), 1e-12)
}

func TestEquals(t *testing.T) {
	a, b := chainNet(), chainNet()
	assert.True(t, a.Equals(b, 1e-9))
	assert.False(t, a.Equals(b[:1], 1e-9))

	// Order matters.
	swapped := GaussianBayesNet{b[1], b[0]}
	assert.False(t, a.Equals(swapped, 1e-9))
}

func TestNetIsReadOnly(t *testing.T) {
	bn := chainNet()
	before := GaussianBayesNet{bn[0], bn[1]}
	_, err := bn.Optimize()
	require.NoError(t, err)
	_, err = bn.Error(mustOptimize(t, bn))
	require.NoError(t, err)
	assert.True(t, bn.Equals(before, 0))
}

func mustOptimize(t *testing.T, bn GaussianBayesNet) VectorValues {
	t.Helper()
	soln, err := bn.Optimize()
	require.NoError(t, err)
	return soln
}
