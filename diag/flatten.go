package diag

import (
	"fmt"

	"github.com/x448/float16"
)

// Flatten produces the canonical flat numeric sequence of a buffer:
// depth-first, left-to-right, every leaf coerced to float64. The traversal
// discovers depth by inspection and makes no rank assumption. A bool or
// string leaf fails fast with ErrNonNumeric.
func Flatten(buffer Buffer) ([]float64, error) {
	out := make([]float64, 0, flatSizeHint(buffer))
	out, err := appendFlattened(out, buffer)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func appendFlattened(dst []float64, buffer Buffer) ([]float64, error) {
	switch v := buffer.(type) {
	case FloatLeaf:
		return append(dst, float64(v)), nil
	case HalfLeaf:
		return append(dst, float64(float16.Float16(v).Float32())), nil
	case IntLeaf:
		return append(dst, float64(v)), nil
	case Sequence:
		var err error
		for _, child := range v {
			dst, err = appendFlattened(dst, child)
			if err != nil {
				return nil, err
			}
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrNonNumeric, buffer)
	}
}

func flatSizeHint(buffer Buffer) int {
	seq, ok := buffer.(Sequence)
	if !ok {
		return 1
	}
	if len(seq) == 0 {
		return 0
	}
	return len(seq) * flatSizeHint(seq[0])
}
