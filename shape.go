package luma

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// MaxRank is the highest dimensionality an Array supports. The shader
// contract carries shape metadata as four unsigned 32-bit values; shorter
// shapes are padded with ones.
const MaxRank = 4

// Shape is an ordered sequence of dimension sizes.
type Shape []uint64

// Elems returns the total element count, the product of all dimensions.
// An empty shape has no elements.
func (s Shape) Elems() uint64 {
	if len(s) == 0 {
		return 0
	}
	n := uint64(1)
	for _, d := range s {
		n *= d
	}
	return n
}

// Rank returns the number of dimensions.
func (s Shape) Rank() int { return len(s) }

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// validate rejects shapes the dispatch contract cannot express.
func (s Shape) validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: empty shape", ErrShapeMismatch)
	}
	if len(s) > MaxRank {
		return fmt.Errorf("%w: rank %d exceeds %d", ErrShapeMismatch, len(s), MaxRank)
	}
	for i, d := range s {
		if d == 0 {
			return fmt.Errorf("%w: dimension %d is zero", ErrShapeMismatch, i)
		}
		// The dims buffer carries each dimension as a u32.
		if d > math.MaxUint32 {
			return fmt.Errorf("%w: dimension %d (%d) exceeds %d", ErrShapeMismatch, i, d, uint64(math.MaxUint32))
		}
	}
	return nil
}

// dimsBytes encodes the shape as the four little-endian u32 values bound at
// slot 1 of every operation dispatch. Missing dimensions pad with 1.
func (s Shape) dimsBytes() []byte {
	out := make([]byte, 4*MaxRank)
	for i := 0; i < MaxRank; i++ {
		d := uint32(1)
		if i < len(s) {
			d = uint32(s[i])
		}
		binary.LittleEndian.PutUint32(out[4*i:], d)
	}
	return out
}

// clone returns an independent copy so accessors cannot leak mutable state.
func (s Shape) clone() Shape {
	out := make(Shape, len(s))
	copy(out, s)
	return out
}
