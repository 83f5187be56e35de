package linear

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"gonum.org/v1/gonum/mat"
)

// ErrMissingVariable is returned when a solve step needs a value that is
// not present in the accumulator. It indicates a non-topological net or a
// right-hand side that omits a required variable, and is never retried.
var ErrMissingVariable = errors.New("missing variable value")

// VectorValues maps variable keys to vector blocks. It serves as partial
// assignment, accumulating solution, right-hand side, and gradient
// container. Keys are unique; no ordering is implied.
type VectorValues map[Key]*mat.VecDense

// NewVectorValues returns an empty assignment.
func NewVectorValues() VectorValues {
	return make(VectorValues)
}

// Insert sets the block for key. Overwriting an existing entry is a
// caller error for assignments built by Optimize, but it is not
// validated here, matching the documented contract.
func (v VectorValues) Insert(key Key, val *mat.VecDense) {
	v[key] = val
}

// At returns the block for key.
func (v VectorValues) At(key Key) (*mat.VecDense, bool) {
	b, ok := v[key]
	return b, ok
}

// Copy returns a deep copy; the result can be mutated freely.
func (v VectorValues) Copy() VectorValues {
	out := make(VectorValues, len(v))
	for k, b := range v {
		out[k] = mat.VecDenseCopyOf(b)
	}
	return out
}

// Keys returns all keys in ascending order, for deterministic assembly.
func (v VectorValues) Keys() []Key {
	keys := make([]Key, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Dim returns the total dimension across all blocks.
func (v VectorValues) Dim() int {
	var n int
	for _, b := range v {
		n += b.Len()
	}
	return n
}

// Vector concatenates the blocks for keys, in the order given. A missing
// key yields ErrMissingVariable.
func (v VectorValues) Vector(keys []Key) (*mat.VecDense, error) {
	var n int
	for _, k := range keys {
		b, ok := v[k]
		if !ok {
			return nil, fmt.Errorf("variable %v: %w", k, ErrMissingVariable)
		}
		n += b.Len()
	}
	out := mat.NewVecDense(n, nil)
	at := 0
	for _, k := range keys {
		b := v[k]
		for i := 0; i < b.Len(); i++ {
			out.SetVec(at+i, b.AtVec(i))
		}
		at += b.Len()
	}
	return out, nil
}

// Dot returns the inner product over the common structure. Both sides
// must have identical keys and block dimensions.
func (v VectorValues) Dot(o VectorValues) float64 {
	var sum float64
	for k, b := range v {
		if ob, ok := o[k]; ok {
			sum += mat.Dot(b, ob)
		}
	}
	return sum
}

// Scale multiplies every block by alpha in place.
func (v VectorValues) Scale(alpha float64) {
	for _, b := range v {
		b.ScaleVec(alpha, b)
	}
}

// AddInPlace accumulates o into v, inserting blocks for keys v lacks.
func (v VectorValues) AddInPlace(o VectorValues) {
	for k, ob := range o {
		if b, ok := v[k]; ok {
			b.AddVec(b, ob)
		} else {
			v[k] = mat.VecDenseCopyOf(ob)
		}
	}
}

// wire form for the CBOR codec
type vvWire map[uint64][]float64

// MarshalCBOR encodes the assignment as a map of key to float64 slice.
func (v VectorValues) MarshalCBOR() ([]byte, error) {
	w := make(vvWire, len(v))
	for k, b := range v {
		raw := make([]float64, b.Len())
		copy(raw, b.RawVector().Data)
		w[uint64(k)] = raw
	}
	return cbor.Marshal(w)
}

// UnmarshalCBOR decodes the wire form produced by MarshalCBOR.
func (v *VectorValues) UnmarshalCBOR(data []byte) error {
	var w vvWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode vector values: %w", err)
	}
	out := make(VectorValues, len(w))
	for k, raw := range w {
		if len(raw) == 0 {
			return fmt.Errorf("decode vector values: empty block for key %d", k)
		}
		out[Key(k)] = mat.NewVecDense(len(raw), raw)
	}
	*v = out
	return nil
}
