package linear

import (
	"sort"

	"gonum.org/v1/gonum/mat"
)

// GaussianFactorGraph is a collection of Jacobian factors describing the
// least-squares problem 0.5*sum ||W_i*(A_i*x - b_i)||^2. It is the
// delegation target for the Bayes net's gradient, error, and dense
// assembly operations.
type GaussianFactorGraph []*JacobianFactor

// Error sums the factor errors at x.
func (fg GaussianFactorGraph) Error(x VectorValues) (float64, error) {
	var total float64
	for _, f := range fg {
		e, err := f.Error(x)
		if err != nil {
			return 0, err
		}
		total += e
	}
	return total, nil
}

// Gradient computes the gradient of the summed error at x0:
// sum A_i^T W_i^2 (A_i*x0 - b_i), one block per variable in the graph.
func (fg GaussianFactorGraph) Gradient(x0 VectorValues) (VectorValues, error) {
	g := fg.zeroValues()
	for _, f := range fg {
		e, err := f.WhitenedError(x0)
		if err != nil {
			return nil, err
		}
		f.TransposeMultiplyAdd(1, e, g)
	}
	return g, nil
}

// GradientAtZero is Gradient at the origin, -sum A_i^T W_i^2 b_i,
// computed without a lookup pass.
func (fg GaussianFactorGraph) GradientAtZero() VectorValues {
	g := fg.zeroValues()
	for _, f := range fg {
		e := mat.VecDenseCopyOf(f.b)
		e.ScaleVec(-1, e)
		if f.model != nil {
			f.model.WhitenInPlace(e)
		}
		f.TransposeMultiplyAdd(1, e, g)
	}
	return g
}

// OptimizeGradientSearch returns the steepest-descent point of the
// quadratic error surface: g = gradient at zero, step = -|g|^2/|A*g|^2,
// result = step*g. A graph with zero gradient divides by zero and yields
// non-finite blocks; callers invoke this on well-posed systems only.
func (fg GaussianFactorGraph) OptimizeGradientSearch() (VectorValues, error) {
	grad := fg.GradientAtZero()
	gradSqNorm := grad.Dot(grad)
	var rgSq float64
	for _, f := range fg {
		rg, err := f.MultiplyVec(grad)
		if err != nil {
			return nil, err
		}
		rgSq += mat.Dot(rg, rg)
	}
	step := -gradSqNorm / rgSq
	grad.Scale(step)
	return grad, nil
}

// Jacobian assembles the dense whitened system: the stacked [A] over all
// factors with columns ordered by ascending key, and the stacked b.
func (fg GaussianFactorGraph) Jacobian() (*mat.Dense, *mat.VecDense) {
	_, offsets, cols := fg.columnLayout()
	var rows int
	for _, f := range fg {
		rows += f.Rows()
	}
	if rows == 0 || cols == 0 {
		return &mat.Dense{}, &mat.VecDense{}
	}
	a := mat.NewDense(rows, cols, nil)
	b := mat.NewVecDense(rows, nil)
	at := 0
	for _, f := range fg {
		wb := mat.VecDenseCopyOf(f.b)
		for i, k := range f.keys {
			blk := mat.DenseCopyOf(f.a[i])
			if f.model != nil {
				f.model.WhitenRows(blk)
			}
			br, bc := blk.Dims()
			off := offsets[k]
			for r := 0; r < br; r++ {
				for c := 0; c < bc; c++ {
					a.Set(at+r, off+c, a.At(at+r, off+c)+blk.At(r, c))
				}
			}
		}
		if f.model != nil {
			f.model.WhitenInPlace(wb)
		}
		for r := 0; r < wb.Len(); r++ {
			b.SetVec(at+r, wb.AtVec(r))
		}
		at += f.Rows()
	}
	return a, b
}

// zeroValues returns a zero assignment covering every variable in the graph.
func (fg GaussianFactorGraph) zeroValues() VectorValues {
	out := NewVectorValues()
	for _, f := range fg {
		for i, k := range f.keys {
			if _, ok := out[k]; !ok {
				_, c := f.a[i].Dims()
				out[k] = mat.NewVecDense(c, nil)
			}
		}
	}
	return out
}

// columnLayout computes the dense column ordering: keys ascending, one
// contiguous column range per variable.
func (fg GaussianFactorGraph) columnLayout() ([]Key, map[Key]int, int) {
	dims := make(map[Key]int)
	for _, f := range fg {
		for i, k := range f.keys {
			_, c := f.a[i].Dims()
			dims[k] = c
		}
	}
	keys := make([]Key, 0, len(dims))
	for k := range dims {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	offsets := make(map[Key]int, len(keys))
	var total int
	for _, k := range keys {
		offsets[k] = total
		total += dims[k]
	}
	return keys, offsets, total
}
