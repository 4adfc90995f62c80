// Package diag drives a loaded model through an opaque inference engine and
// checks output correctness properties: distinct inputs produce distinct
// outputs, identical inputs reproduce identical outputs, and a state reset
// restores a fresh output distribution for stateful models.
//
// The package is engine-agnostic: all native access goes through the Engine
// capability interface. See the tfliteengine package for the TensorFlow Lite
// implementation.
package diag

import "fmt"

// TensorType is the bucketed element kind of a tensor. The engine may expose
// finer-grained numeric subtypes; buffer construction only needs these five
// buckets.
type TensorType int

const (
	TypeFloat32 TensorType = iota
	TypeFloat16
	TypeInt
	TypeBool
	TypeString
)

// String returns a short name for the type bucket.
func (t TensorType) String() string {
	switch t {
	case TypeFloat32:
		return "float32"
	case TypeFloat16:
		return "float16"
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	default:
		return fmt.Sprintf("TensorType(%d)", int(t))
	}
}

// Shape is an ordered sequence of non-negative dimension extents. An empty
// shape denotes a scalar tensor.
type Shape []int64

// NewShape creates a new shape from dimensions.
func NewShape(dims ...int64) Shape {
	return Shape(dims)
}

// Clone returns a copy of the shape. Scalar shapes stay non-nil empty.
func (s Shape) Clone() Shape {
	if len(s) == 0 {
		return Shape{}
	}
	shapeCopy := make(Shape, len(s))
	copy(shapeCopy, s)
	return shapeCopy
}

// Equal reports whether two shapes have identical rank and extents.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// ElementCount returns the total element count for the shape: the product of
// all extents, 1 for a scalar, 0 when any extent is zero.
func (s Shape) ElementCount() (int, error) {
	maxInt := int(^uint(0) >> 1)

	count := 1
	for i, dim := range s {
		if dim < 0 {
			return 0, fmt.Errorf("invalid shape dimension at index %d: %d (must be >= 0)", i, dim)
		}
		if dim == 0 {
			count = 0
			continue
		}
		if count == 0 {
			continue
		}
		if dim > int64(maxInt) {
			return 0, fmt.Errorf("shape dimension at index %d is too large: %d", i, dim)
		}

		dimInt := int(dim)
		if count > maxInt/dimInt {
			return 0, fmt.Errorf("shape %v exceeds maximum supported element count", s)
		}
		count *= dimInt
	}

	return count, nil
}

// TensorDescriptor is the static metadata of one input or output tensor
// slot, queried once per handle generation.
type TensorDescriptor struct {
	Index int
	Name  string
	Shape Shape
	Type  TensorType
}

// Equal reports whether two descriptors describe the same tensor slot.
func (d TensorDescriptor) Equal(other TensorDescriptor) bool {
	return d.Index == other.Index &&
		d.Name == other.Name &&
		d.Type == other.Type &&
		d.Shape.Equal(other.Shape)
}

// String renders the descriptor for logging.
func (d TensorDescriptor) String() string {
	return fmt.Sprintf("tensor %d %q shape=%v type=%s", d.Index, d.Name, []int64(d.Shape), d.Type)
}
