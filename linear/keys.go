// Package linear solves the triangular systems produced by sparse
// elimination of a Gaussian factor graph: an ordered sequence of linear
// conditionals is consumed by back-substitution, transpose solves,
// determinant evaluation, and gradient computation through an equivalent
// factor-graph view.
package linear

import "fmt"

// Key identifies one variable block in a linear system. Keys are opaque
// to the solvers; they only need to be comparable and hashable.
type Key uint64

const symShift = 56

// Symbol packs a single-character tag and an index into a Key, so demo
// and test code can write X(1), L(7) instead of raw integers.
func Symbol(c byte, i uint64) Key {
	return Key(uint64(c)<<symShift | (i & (1<<symShift - 1)))
}

// X is shorthand for Symbol('x', i).
func X(i uint64) Key { return Symbol('x', i) }

// L is shorthand for Symbol('l', i).
func L(i uint64) Key { return Symbol('l', i) }

func (k Key) String() string {
	c := byte(k >> symShift)
	if c >= 'a' && c <= 'z' {
		return fmt.Sprintf("%c%d", c, uint64(k)&(1<<symShift-1))
	}
	return fmt.Sprintf("%d", uint64(k))
}
