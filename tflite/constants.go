package tflite

// Status represents a TfLiteStatus result code from the TensorFlow Lite C API.
type Status int

const (
	StatusOk Status = iota
	StatusError
	StatusDelegateError
	StatusApplicationError
	StatusDelegateDataNotFound
	StatusDelegateDataWriteError
	StatusDelegateDataReadError
	StatusUnresolvedOps
	StatusCancelled
)

// String returns the C API name of the status code.
func (s Status) String() string {
	switch s {
	case StatusOk:
		return "kTfLiteOk"
	case StatusError:
		return "kTfLiteError"
	case StatusDelegateError:
		return "kTfLiteDelegateError"
	case StatusApplicationError:
		return "kTfLiteApplicationError"
	case StatusDelegateDataNotFound:
		return "kTfLiteDelegateDataNotFound"
	case StatusDelegateDataWriteError:
		return "kTfLiteDelegateDataWriteError"
	case StatusDelegateDataReadError:
		return "kTfLiteDelegateDataReadError"
	case StatusUnresolvedOps:
		return "kTfLiteUnresolvedOps"
	case StatusCancelled:
		return "kTfLiteCancelled"
	default:
		return "kTfLiteUnknownStatus"
	}
}

// TensorType represents a TfLiteType element data type.
type TensorType int

const (
	TensorTypeNoType TensorType = iota
	TensorTypeFloat32
	TensorTypeInt32
	TensorTypeUInt8
	TensorTypeInt64
	TensorTypeString
	TensorTypeBool
	TensorTypeInt16
	TensorTypeComplex64
	TensorTypeInt8
	TensorTypeFloat16
	TensorTypeFloat64
	TensorTypeComplex128
	TensorTypeUInt64
	TensorTypeResource
	TensorTypeVariant
	TensorTypeUInt32
	TensorTypeUInt16
	TensorTypeInt4
	TensorTypeBFloat16
)

// String returns the C API name of the tensor type.
func (t TensorType) String() string {
	switch t {
	case TensorTypeNoType:
		return "kTfLiteNoType"
	case TensorTypeFloat32:
		return "kTfLiteFloat32"
	case TensorTypeInt32:
		return "kTfLiteInt32"
	case TensorTypeUInt8:
		return "kTfLiteUInt8"
	case TensorTypeInt64:
		return "kTfLiteInt64"
	case TensorTypeString:
		return "kTfLiteString"
	case TensorTypeBool:
		return "kTfLiteBool"
	case TensorTypeInt16:
		return "kTfLiteInt16"
	case TensorTypeComplex64:
		return "kTfLiteComplex64"
	case TensorTypeInt8:
		return "kTfLiteInt8"
	case TensorTypeFloat16:
		return "kTfLiteFloat16"
	case TensorTypeFloat64:
		return "kTfLiteFloat64"
	case TensorTypeComplex128:
		return "kTfLiteComplex128"
	case TensorTypeUInt64:
		return "kTfLiteUInt64"
	case TensorTypeResource:
		return "kTfLiteResource"
	case TensorTypeVariant:
		return "kTfLiteVariant"
	case TensorTypeUInt32:
		return "kTfLiteUInt32"
	case TensorTypeUInt16:
		return "kTfLiteUInt16"
	case TensorTypeInt4:
		return "kTfLiteInt4"
	case TensorTypeBFloat16:
		return "kTfLiteBFloat16"
	default:
		return "kTfLiteUnknownType"
	}
}

// ElementSize returns the byte width of one element of this type, or 0 for
// variable-width and unsupported types (string, resource, variant).
func (t TensorType) ElementSize() int {
	switch t {
	case TensorTypeUInt8, TensorTypeInt8, TensorTypeBool, TensorTypeInt4:
		return 1
	case TensorTypeInt16, TensorTypeUInt16, TensorTypeFloat16, TensorTypeBFloat16:
		return 2
	case TensorTypeFloat32, TensorTypeInt32, TensorTypeUInt32:
		return 4
	case TensorTypeFloat64, TensorTypeInt64, TensorTypeUInt64, TensorTypeComplex64:
		return 8
	case TensorTypeComplex128:
		return 16
	default:
		return 0
	}
}
