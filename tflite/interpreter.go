package tflite

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"
)

// ErrResetUnsupported is returned by ResetVariableTensors when the loaded
// TensorFlow Lite C library does not expose the reset entry point or the
// active configuration rejects it.
var ErrResetUnsupported = errors.New("variable tensor reset is not supported by this runtime configuration")

// InterpreterOptions configures interpreter creation.
type InterpreterOptions struct {
	handle uintptr // Pointer to TfLiteInterpreterOptions
}

// NewInterpreterOptions creates a new options object. The options may be
// destroyed immediately after the interpreter has been created from them.
func NewInterpreterOptions() (*InterpreterOptions, error) {
	mu.Lock()
	create := interpreterOptionsCreateFunc
	ready := initialized
	mu.Unlock()

	if !ready || create == nil {
		return nil, fmt.Errorf("TensorFlow Lite runtime not initialized")
	}

	handle := create()
	if handle == 0 {
		return nil, fmt.Errorf("failed to create interpreter options")
	}

	opts := &InterpreterOptions{handle: handle}
	runtime.SetFinalizer(opts, func(o *InterpreterOptions) {
		_ = o.Destroy()
	})
	return opts, nil
}

// SetNumThreads sets the number of CPU threads the interpreter may use.
func (o *InterpreterOptions) SetNumThreads(numThreads int) error {
	if o == nil || o.handle == 0 {
		return fmt.Errorf("interpreter options have been destroyed")
	}
	if numThreads <= 0 {
		return fmt.Errorf("number of threads must be > 0, got %d", numThreads)
	}

	mu.Lock()
	setNumThreads := interpreterOptionsSetNumThreadsFunc
	mu.Unlock()

	if setNumThreads == nil {
		return fmt.Errorf("TensorFlow Lite runtime not initialized")
	}
	// #nosec G115 -- numThreads validated > 0 above, fits in int32 for any sane thread count.
	setNumThreads(o.handle, int32(numThreads))
	return nil
}

// Destroy releases the options resources. Safe to call multiple times.
func (o *InterpreterOptions) Destroy() error {
	if o == nil {
		return nil
	}

	mu.Lock()
	handle := o.handle
	optionsDelete := interpreterOptionsDeleteFunc
	o.handle = 0
	runtime.SetFinalizer(o, nil)
	mu.Unlock()

	if handle != 0 && optionsDelete != nil {
		optionsDelete(handle)
	}
	return nil
}

// Interpreter represents one live TfLiteInterpreter instance: a loaded,
// allocatable model execution handle.
type Interpreter struct {
	handle uintptr // Pointer to TfLiteInterpreter
}

// NewInterpreter creates an interpreter for the given model. options may be
// nil for defaults.
func NewInterpreter(model *Model, options *InterpreterOptions) (*Interpreter, error) {
	if model == nil || model.handle == 0 {
		return nil, fmt.Errorf("model is nil or destroyed")
	}

	mu.Lock()
	create := interpreterCreateFunc
	ready := initialized
	mu.Unlock()

	if !ready || create == nil {
		return nil, fmt.Errorf("TensorFlow Lite runtime not initialized")
	}

	var optionsHandle uintptr
	if options != nil {
		optionsHandle = options.handle
	}

	handle := create(model.handle, optionsHandle)
	if handle == 0 {
		return nil, fmt.Errorf("failed to create interpreter for model %q", model.path)
	}

	interp := &Interpreter{handle: handle}
	runtime.SetFinalizer(interp, func(i *Interpreter) {
		_ = i.Destroy()
	})
	return interp, nil
}

// AllocateTensors allocates memory for all input and output tensors. Must be
// called before tensor metadata queries or Invoke.
func (i *Interpreter) AllocateTensors() error {
	fn, err := i.requireFunc(interpreterAllocateTensorsFunc)
	if err != nil {
		return err
	}
	if code := fn(i.handle); Status(code) != StatusOk {
		return fmt.Errorf("failed to allocate tensors: %s", Status(code))
	}
	return nil
}

// InputTensorCount returns the number of input tensors.
func (i *Interpreter) InputTensorCount() (int, error) {
	fn, err := i.requireFunc(interpreterGetInputTensorCountFunc)
	if err != nil {
		return 0, err
	}
	return int(fn(i.handle)), nil
}

// OutputTensorCount returns the number of output tensors.
func (i *Interpreter) OutputTensorCount() (int, error) {
	fn, err := i.requireFunc(interpreterGetOutputTensorCountFunc)
	if err != nil {
		return 0, err
	}
	return int(fn(i.handle)), nil
}

// InputTensor returns the input tensor at the given index. The tensor is
// owned by the interpreter and is valid until the next AllocateTensors or
// Destroy call.
func (i *Interpreter) InputTensor(index int) (*Tensor, error) {
	if index < 0 {
		return nil, fmt.Errorf("input tensor index must be >= 0, got %d", index)
	}

	mu.Lock()
	get := interpreterGetInputTensorFunc
	mu.Unlock()

	if i == nil || i.handle == 0 {
		return nil, fmt.Errorf("interpreter has been destroyed")
	}
	if get == nil {
		return nil, fmt.Errorf("TensorFlow Lite runtime not initialized")
	}

	// #nosec G115 -- index validated >= 0 above.
	handle := get(i.handle, int32(index))
	if handle == 0 {
		return nil, fmt.Errorf("no input tensor at index %d", index)
	}
	return &Tensor{handle: handle, index: index}, nil
}

// OutputTensor returns the output tensor at the given index. The tensor is
// owned by the interpreter and is valid until the next AllocateTensors or
// Destroy call.
func (i *Interpreter) OutputTensor(index int) (*Tensor, error) {
	if index < 0 {
		return nil, fmt.Errorf("output tensor index must be >= 0, got %d", index)
	}

	mu.Lock()
	get := interpreterGetOutputTensorFunc
	mu.Unlock()

	if i == nil || i.handle == 0 {
		return nil, fmt.Errorf("interpreter has been destroyed")
	}
	if get == nil {
		return nil, fmt.Errorf("TensorFlow Lite runtime not initialized")
	}

	// #nosec G115 -- index validated >= 0 above.
	handle := get(i.handle, int32(index))
	if handle == 0 {
		return nil, fmt.Errorf("no output tensor at index %d", index)
	}
	return &Tensor{handle: handle, index: index}, nil
}

// Invoke runs one inference pass against the currently filled input tensors.
func (i *Interpreter) Invoke() error {
	fn, err := i.requireFunc(interpreterInvokeFunc)
	if err != nil {
		return err
	}
	if code := fn(i.handle); Status(code) != StatusOk {
		return fmt.Errorf("inference invocation failed: %s", Status(code))
	}
	return nil
}

// ResetVariableTensors resets all stateful (variable) tensors to their
// initial values. Returns ErrResetUnsupported when the runtime build does
// not expose the entry point or the active configuration rejects the reset.
func (i *Interpreter) ResetVariableTensors() error {
	if i == nil || i.handle == 0 {
		return fmt.Errorf("interpreter has been destroyed")
	}

	mu.Lock()
	reset := interpreterResetVariableTensorsFunc
	ready := initialized
	mu.Unlock()

	if !ready {
		return fmt.Errorf("TensorFlow Lite runtime not initialized")
	}
	if reset == nil {
		// Optional symbol missing from this library build.
		return ErrResetUnsupported
	}

	code := Status(reset(i.handle))
	switch code {
	case StatusOk:
		return nil
	case StatusApplicationError, StatusDelegateError:
		// The active backend cannot reset in place.
		return fmt.Errorf("%w: %s", ErrResetUnsupported, code)
	default:
		return fmt.Errorf("failed to reset variable tensors: %s", code)
	}
}

// Destroy releases the interpreter resources. Safe to call multiple times.
func (i *Interpreter) Destroy() error {
	if i == nil {
		return nil
	}

	mu.Lock()
	handle := i.handle
	interpreterDelete := interpreterDeleteFunc
	i.handle = 0
	runtime.SetFinalizer(i, nil)
	mu.Unlock()

	if handle != 0 && interpreterDelete != nil {
		interpreterDelete(handle)
	}
	return nil
}

func (i *Interpreter) requireFunc(fn func(uintptr) int32) (func(uintptr) int32, error) {
	if i == nil || i.handle == 0 {
		return nil, fmt.Errorf("interpreter has been destroyed")
	}

	mu.Lock()
	ready := initialized
	mu.Unlock()

	if !ready || fn == nil {
		return nil, fmt.Errorf("TensorFlow Lite runtime not initialized")
	}
	return fn, nil
}

// Tensor represents one input or output tensor slot owned by an interpreter.
// Tensor does not own native resources; it is invalidated when the owning
// interpreter is reallocated or destroyed.
type Tensor struct {
	handle uintptr // Pointer to TfLiteTensor
	index  int
}

// Index returns the slot index this tensor was queried at.
func (t *Tensor) Index() int {
	if t == nil {
		return -1
	}
	return t.index
}

// Name returns the tensor's graph name.
func (t *Tensor) Name() (string, error) {
	mu.Lock()
	name := tensorNameFunc
	mu.Unlock()

	if t == nil || t.handle == 0 {
		return "", fmt.Errorf("tensor is nil or invalidated")
	}
	if name == nil {
		return "", fmt.Errorf("TensorFlow Lite runtime not initialized")
	}
	return CstringToGo(name(t.handle)), nil
}

// Type returns the tensor element type.
func (t *Tensor) Type() (TensorType, error) {
	mu.Lock()
	typ := tensorTypeFunc
	mu.Unlock()

	if t == nil || t.handle == 0 {
		return TensorTypeNoType, fmt.Errorf("tensor is nil or invalidated")
	}
	if typ == nil {
		return TensorTypeNoType, fmt.Errorf("TensorFlow Lite runtime not initialized")
	}
	return TensorType(typ(t.handle)), nil
}

// Shape returns the tensor's dimension extents. A scalar tensor yields an
// empty, non-nil shape.
func (t *Tensor) Shape() ([]int64, error) {
	mu.Lock()
	numDims := tensorNumDimsFunc
	dim := tensorDimFunc
	mu.Unlock()

	if t == nil || t.handle == 0 {
		return nil, fmt.Errorf("tensor is nil or invalidated")
	}
	if numDims == nil || dim == nil {
		return nil, fmt.Errorf("TensorFlow Lite runtime not initialized")
	}

	rank := int(numDims(t.handle))
	if rank < 0 {
		return nil, fmt.Errorf("tensor reports negative rank %d", rank)
	}

	shape := make([]int64, rank)
	for d := 0; d < rank; d++ {
		// #nosec G115 -- d bounded by rank which fits in int32.
		shape[d] = int64(dim(t.handle, int32(d)))
	}
	return shape, nil
}

// ByteSize returns the size of the tensor's data buffer in bytes.
func (t *Tensor) ByteSize() (int, error) {
	mu.Lock()
	byteSize := tensorByteSizeFunc
	mu.Unlock()

	if t == nil || t.handle == 0 {
		return 0, fmt.Errorf("tensor is nil or invalidated")
	}
	if byteSize == nil {
		return 0, fmt.Errorf("TensorFlow Lite runtime not initialized")
	}
	return int(byteSize(t.handle)), nil
}

// CopyFromBuffer copies raw data into the tensor. The data length must match
// the tensor's byte size exactly or the engine rejects the copy.
func (t *Tensor) CopyFromBuffer(data []byte) error {
	mu.Lock()
	copyFrom := tensorCopyFromBufferFunc
	mu.Unlock()

	if t == nil || t.handle == 0 {
		return fmt.Errorf("tensor is nil or invalidated")
	}
	if copyFrom == nil {
		return fmt.Errorf("TensorFlow Lite runtime not initialized")
	}

	var dataPtr uintptr
	if len(data) > 0 {
		// #nosec G103 -- Required for CGO-free FFI; data stays alive for the synchronous call.
		dataPtr = uintptr(unsafe.Pointer(unsafe.SliceData(data)))
	}
	code := Status(copyFrom(t.handle, dataPtr, uintptr(len(data))))
	runtime.KeepAlive(data)
	if code != StatusOk {
		return fmt.Errorf("failed to copy %d bytes into tensor %d: %s", len(data), t.index, code)
	}
	return nil
}

// CopyToBuffer copies the tensor's raw data out. The destination length must
// match the tensor's byte size exactly or the engine rejects the copy.
func (t *Tensor) CopyToBuffer(dst []byte) error {
	mu.Lock()
	copyTo := tensorCopyToBufferFunc
	mu.Unlock()

	if t == nil || t.handle == 0 {
		return fmt.Errorf("tensor is nil or invalidated")
	}
	if copyTo == nil {
		return fmt.Errorf("TensorFlow Lite runtime not initialized")
	}

	var dstPtr uintptr
	if len(dst) > 0 {
		// #nosec G103 -- Required for CGO-free FFI; dst stays alive for the synchronous call.
		dstPtr = uintptr(unsafe.Pointer(unsafe.SliceData(dst)))
	}
	code := Status(copyTo(t.handle, dstPtr, uintptr(len(dst))))
	runtime.KeepAlive(dst)
	if code != StatusOk {
		return fmt.Errorf("failed to copy %d bytes out of tensor %d: %s", len(dst), t.index, code)
	}
	return nil
}
