package tfliteengine

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"

	"github.com/amikos-tech/pure-tflite/diag"
	"github.com/amikos-tech/pure-tflite/tflite"
)

// bucketType maps an exact TensorFlow Lite element type to the coarse bucket
// the diagnostic core works with. Buffer construction is type-bucketed, not
// bit-width-exact; the codec below keeps the exact width for the wire copy.
func bucketType(typ tflite.TensorType) (diag.TensorType, error) {
	switch typ {
	case tflite.TensorTypeFloat32, tflite.TensorTypeFloat64:
		return diag.TypeFloat32, nil
	case tflite.TensorTypeFloat16:
		return diag.TypeFloat16, nil
	case tflite.TensorTypeInt8, tflite.TensorTypeUInt8,
		tflite.TensorTypeInt16, tflite.TensorTypeUInt16,
		tflite.TensorTypeInt32, tflite.TensorTypeUInt32,
		tflite.TensorTypeInt64, tflite.TensorTypeUInt64:
		return diag.TypeInt, nil
	case tflite.TensorTypeBool:
		return diag.TypeBool, nil
	case tflite.TensorTypeString:
		return diag.TypeString, nil
	default:
		return 0, fmt.Errorf("unsupported tensor element type %s", typ)
	}
}

// encodeBuffer serializes a buffer's leaves depth-first into the tensor's
// exact wire representation.
func encodeBuffer(buffer diag.Buffer, typ tflite.TensorType) ([]byte, error) {
	elementSize := typ.ElementSize()
	if elementSize == 0 {
		return nil, fmt.Errorf("cannot encode tensor element type %s", typ)
	}

	out := make([]byte, 0, elementSize)
	out, err := appendEncoded(out, buffer, typ)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func appendEncoded(dst []byte, buffer diag.Buffer, typ tflite.TensorType) ([]byte, error) {
	if seq, ok := buffer.(diag.Sequence); ok {
		var err error
		for _, child := range seq {
			dst, err = appendEncoded(dst, child, typ)
			if err != nil {
				return nil, err
			}
		}
		return dst, nil
	}

	switch typ {
	case tflite.TensorTypeFloat32:
		leaf, ok := buffer.(diag.FloatLeaf)
		if !ok {
			return nil, leafKindError(buffer, typ)
		}
		return binary.LittleEndian.AppendUint32(dst, math.Float32bits(float32(leaf))), nil
	case tflite.TensorTypeFloat64:
		leaf, ok := buffer.(diag.FloatLeaf)
		if !ok {
			return nil, leafKindError(buffer, typ)
		}
		return binary.LittleEndian.AppendUint64(dst, math.Float64bits(float64(leaf))), nil
	case tflite.TensorTypeFloat16:
		leaf, ok := buffer.(diag.HalfLeaf)
		if !ok {
			return nil, leafKindError(buffer, typ)
		}
		return binary.LittleEndian.AppendUint16(dst, float16.Float16(leaf).Bits()), nil
	case tflite.TensorTypeInt8, tflite.TensorTypeUInt8:
		leaf, ok := buffer.(diag.IntLeaf)
		if !ok {
			return nil, leafKindError(buffer, typ)
		}
		return append(dst, byte(leaf)), nil
	case tflite.TensorTypeInt16, tflite.TensorTypeUInt16:
		leaf, ok := buffer.(diag.IntLeaf)
		if !ok {
			return nil, leafKindError(buffer, typ)
		}
		// #nosec G115 -- synthetic leaves are generated within int8 range.
		return binary.LittleEndian.AppendUint16(dst, uint16(leaf)), nil
	case tflite.TensorTypeInt32, tflite.TensorTypeUInt32:
		leaf, ok := buffer.(diag.IntLeaf)
		if !ok {
			return nil, leafKindError(buffer, typ)
		}
		// #nosec G115 -- synthetic leaves are generated within int8 range.
		return binary.LittleEndian.AppendUint32(dst, uint32(leaf)), nil
	case tflite.TensorTypeInt64, tflite.TensorTypeUInt64:
		leaf, ok := buffer.(diag.IntLeaf)
		if !ok {
			return nil, leafKindError(buffer, typ)
		}
		// #nosec G115 -- two's-complement reinterpretation is intentional.
		return binary.LittleEndian.AppendUint64(dst, uint64(leaf)), nil
	case tflite.TensorTypeBool:
		leaf, ok := buffer.(diag.BoolLeaf)
		if !ok {
			return nil, leafKindError(buffer, typ)
		}
		if leaf {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil
	default:
		return nil, fmt.Errorf("cannot encode tensor element type %s", typ)
	}
}

func leafKindError(buffer diag.Buffer, typ tflite.TensorType) error {
	return fmt.Errorf("%w: %T leaf cannot fill a %s tensor", diag.ErrShapeMismatch, buffer, typ)
}

// decodeBuffer parses a tensor's exact wire representation into a buffer
// structurally congruent with the given shape.
func decodeBuffer(raw []byte, shape diag.Shape, typ tflite.TensorType) (diag.Buffer, error) {
	elementSize := typ.ElementSize()
	if elementSize == 0 {
		return nil, fmt.Errorf("cannot decode tensor element type %s", typ)
	}

	elementCount, err := shape.ElementCount()
	if err != nil {
		return nil, err
	}
	if len(raw) != elementCount*elementSize {
		return nil, fmt.Errorf("%w: tensor holds %d bytes, shape %v wants %d", diag.ErrShapeMismatch, len(raw), []int64(shape), elementCount*elementSize)
	}

	leaves := make([]diag.Buffer, elementCount)
	for i := 0; i < elementCount; i++ {
		chunk := raw[i*elementSize : (i+1)*elementSize]
		leaf, err := decodeLeaf(chunk, typ)
		if err != nil {
			return nil, err
		}
		leaves[i] = leaf
	}

	buffer, rest := nestLeaves(leaves, shape)
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d leaves left over after nesting shape %v", diag.ErrShapeMismatch, len(rest), []int64(shape))
	}
	return buffer, nil
}

func decodeLeaf(chunk []byte, typ tflite.TensorType) (diag.Buffer, error) {
	switch typ {
	case tflite.TensorTypeFloat32:
		return diag.FloatLeaf(math.Float32frombits(binary.LittleEndian.Uint32(chunk))), nil
	case tflite.TensorTypeFloat64:
		return diag.FloatLeaf(math.Float64frombits(binary.LittleEndian.Uint64(chunk))), nil
	case tflite.TensorTypeFloat16:
		return diag.HalfLeaf(float16.Frombits(binary.LittleEndian.Uint16(chunk))), nil
	case tflite.TensorTypeInt8:
		return diag.IntLeaf(int8(chunk[0])), nil
	case tflite.TensorTypeUInt8:
		return diag.IntLeaf(chunk[0]), nil
	case tflite.TensorTypeInt16:
		// #nosec G115 -- reinterpreting the exact wire width is intentional.
		return diag.IntLeaf(int16(binary.LittleEndian.Uint16(chunk))), nil
	case tflite.TensorTypeUInt16:
		return diag.IntLeaf(binary.LittleEndian.Uint16(chunk)), nil
	case tflite.TensorTypeInt32:
		// #nosec G115 -- reinterpreting the exact wire width is intentional.
		return diag.IntLeaf(int32(binary.LittleEndian.Uint32(chunk))), nil
	case tflite.TensorTypeUInt32:
		return diag.IntLeaf(binary.LittleEndian.Uint32(chunk)), nil
	case tflite.TensorTypeInt64:
		// #nosec G115 -- reinterpreting the exact wire width is intentional.
		return diag.IntLeaf(int64(binary.LittleEndian.Uint64(chunk))), nil
	case tflite.TensorTypeUInt64:
		// #nosec G115 -- two's-complement reinterpretation is intentional.
		return diag.IntLeaf(int64(binary.LittleEndian.Uint64(chunk))), nil
	case tflite.TensorTypeBool:
		return diag.BoolLeaf(chunk[0] != 0), nil
	default:
		return nil, fmt.Errorf("cannot decode tensor element type %s", typ)
	}
}

// nestLeaves rebuilds the nested structure for a shape from a depth-first
// flat leaf sequence, returning the unconsumed remainder.
func nestLeaves(leaves []diag.Buffer, shape diag.Shape) (diag.Buffer, []diag.Buffer) {
	if len(shape) == 0 {
		return leaves[0], leaves[1:]
	}

	extent := shape[0]
	if extent < 0 {
		extent = 0
	}
	seq := make(diag.Sequence, extent)
	for i := range seq {
		seq[i], leaves = nestLeaves(leaves, shape[1:])
	}
	return seq, leaves
}
