package diag

import (
	"fmt"

	"github.com/x448/float16"
)

// Buffer is a runtime container value built to match a tensor descriptor: a
// scalar leaf, or an ordered sequence of buffers with nesting depth equal to
// the tensor's rank. Build is the only constructor that guarantees
// congruence with a shape/type pair.
type Buffer interface {
	isBuffer()
}

// FloatLeaf is a 32/64-bit float scalar leaf.
type FloatLeaf float64

// HalfLeaf is a half-precision float scalar leaf.
type HalfLeaf float16.Float16

// IntLeaf is an integer scalar leaf of any engine bit width.
type IntLeaf int64

// BoolLeaf is a boolean scalar leaf.
type BoolLeaf bool

// StringLeaf is a string scalar leaf.
type StringLeaf string

// Sequence is an ordered sequence of buffers, one nesting level of a tensor.
type Sequence []Buffer

func (FloatLeaf) isBuffer()  {}
func (HalfLeaf) isBuffer()   {}
func (IntLeaf) isBuffer()    {}
func (BoolLeaf) isBuffer()   {}
func (StringLeaf) isBuffer() {}
func (Sequence) isBuffer()   {}

// Build constructs a fresh, zero-valued buffer structurally congruent to the
// given shape and type bucket: nesting depth equals the shape's rank and
// each level's length equals the corresponding extent. A zero extent yields
// an empty sequence at that level. Build never fails and never mixes leaf
// kinds within one buffer.
func Build(shape Shape, typ TensorType) Buffer {
	if len(shape) == 0 {
		return zeroLeaf(typ)
	}

	extent := shape[0]
	if extent < 0 {
		extent = 0
	}
	seq := make(Sequence, extent)
	for i := range seq {
		seq[i] = Build(shape[1:], typ)
	}
	return seq
}

func zeroLeaf(typ TensorType) Buffer {
	switch typ {
	case TypeFloat16:
		return HalfLeaf(float16.Fromfloat32(0))
	case TypeInt:
		return IntLeaf(0)
	case TypeBool:
		return BoolLeaf(false)
	case TypeString:
		return StringLeaf("")
	default:
		return FloatLeaf(0)
	}
}

// Congruent verifies that a buffer's structure matches a shape/type pair:
// same depth, same per-level lengths, same leaf kind. Returns
// ErrShapeMismatch (wrapped with the divergence point) otherwise.
func Congruent(buffer Buffer, shape Shape, typ TensorType) error {
	if len(shape) == 0 {
		if !leafMatches(buffer, typ) {
			return fmt.Errorf("%w: expected %s leaf, got %T", ErrShapeMismatch, typ, buffer)
		}
		return nil
	}

	seq, ok := buffer.(Sequence)
	if !ok {
		return fmt.Errorf("%w: expected sequence of %d at depth %d, got %T", ErrShapeMismatch, shape[0], len(shape), buffer)
	}
	if int64(len(seq)) != shape[0] {
		return fmt.Errorf("%w: expected length %d, got %d", ErrShapeMismatch, shape[0], len(seq))
	}
	for _, child := range seq {
		if err := Congruent(child, shape[1:], typ); err != nil {
			return err
		}
	}
	return nil
}

func leafMatches(buffer Buffer, typ TensorType) bool {
	switch buffer.(type) {
	case FloatLeaf:
		return typ == TypeFloat32
	case HalfLeaf:
		return typ == TypeFloat16
	case IntLeaf:
		return typ == TypeInt
	case BoolLeaf:
		return typ == TypeBool
	case StringLeaf:
		return typ == TypeString
	default:
		return false
	}
}
