// Package tfliteengine adapts the TensorFlow Lite C API binding to the
// engine capability the diag package consumes.
package tfliteengine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/amikos-tech/pure-tflite/diag"
	"github.com/amikos-tech/pure-tflite/internal/diagutil"
	"github.com/amikos-tech/pure-tflite/tflite"
)

// Option customizes engine construction.
type Option func(*config) error

type config struct {
	numThreads int
}

// WithNumThreads sets the number of CPU threads each interpreter may use.
func WithNumThreads(numThreads int) Option {
	return func(cfg *config) error {
		if numThreads <= 0 {
			return fmt.Errorf("number of threads must be > 0, got %d", numThreads)
		}
		cfg.numThreads = numThreads
		return nil
	}
}

// Engine implements diag.Engine on top of the TensorFlow Lite C API. The
// caller must initialize the runtime via tflite.Initialize or
// tflite.InitializeWithBootstrap before allocating handles.
type Engine struct {
	cfg config
}

// New creates a TensorFlow Lite engine.
func New(opts ...Option) (*Engine, error) {
	var cfg config
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	return &Engine{cfg: cfg}, nil
}

// Allocate loads the model file at modelRef and creates one interpreter for
// it. The returned handle owns both the model and the interpreter.
func (e *Engine) Allocate(modelRef string) (diag.Handle, error) {
	if !tflite.IsInitialized() {
		return nil, fmt.Errorf("TensorFlow Lite runtime not initialized: call tflite.Initialize or tflite.InitializeWithBootstrap first")
	}

	model, err := tflite.NewModelFromFile(modelRef)
	if err != nil {
		return nil, err
	}

	var options *tflite.InterpreterOptions
	if e.cfg.numThreads > 0 {
		options, err = tflite.NewInterpreterOptions()
		if err != nil {
			_ = model.Destroy()
			return nil, err
		}
		if err := options.SetNumThreads(e.cfg.numThreads); err != nil {
			_ = diagutil.DestroyAll(options, model)
			return nil, err
		}
	}

	interpreter, err := tflite.NewInterpreter(model, options)
	if err != nil {
		_ = diagutil.DestroyAll(options, model)
		return nil, err
	}
	// Options can be released as soon as the interpreter exists.
	_ = options.Destroy()

	return &handle{model: model, interpreter: interpreter}, nil
}

// handle is one live interpreter generation.
type handle struct {
	model       *tflite.Model
	interpreter *tflite.Interpreter
}

func (h *handle) AllocateTensors() error {
	return h.interpreter.AllocateTensors()
}

func (h *handle) InputCount() (int, error) {
	return h.interpreter.InputTensorCount()
}

func (h *handle) OutputCount() (int, error) {
	return h.interpreter.OutputTensorCount()
}

func (h *handle) DescribeInput(index int) (diag.TensorDescriptor, error) {
	tensor, err := h.interpreter.InputTensor(index)
	if err != nil {
		return diag.TensorDescriptor{}, err
	}
	return describe(tensor, index)
}

func (h *handle) DescribeOutput(index int) (diag.TensorDescriptor, error) {
	tensor, err := h.interpreter.OutputTensor(index)
	if err != nil {
		return diag.TensorDescriptor{}, err
	}
	return describe(tensor, index)
}

func describe(tensor *tflite.Tensor, index int) (diag.TensorDescriptor, error) {
	name, err := tensor.Name()
	if err != nil {
		return diag.TensorDescriptor{}, err
	}
	rawShape, err := tensor.Shape()
	if err != nil {
		return diag.TensorDescriptor{}, err
	}
	exactType, err := tensor.Type()
	if err != nil {
		return diag.TensorDescriptor{}, err
	}
	bucket, err := bucketType(exactType)
	if err != nil {
		return diag.TensorDescriptor{}, fmt.Errorf("tensor %d %q: %w", index, name, err)
	}

	return diag.TensorDescriptor{
		Index: index,
		Name:  name,
		Shape: diag.Shape(rawShape).Clone(),
		Type:  bucket,
	}, nil
}

// Run copies each input buffer into its tensor, invokes the interpreter
// once, and decodes each requested output tensor back into its buffer slot.
func (h *handle) Run(inputs map[int]diag.Buffer, outputs map[int]diag.Buffer) error {
	for _, index := range sortedIndexes(inputs) {
		tensor, err := h.interpreter.InputTensor(index)
		if err != nil {
			return err
		}
		exactType, err := tensor.Type()
		if err != nil {
			return err
		}
		raw, err := encodeBuffer(inputs[index], exactType)
		if err != nil {
			return fmt.Errorf("input %d: %w", index, err)
		}
		byteSize, err := tensor.ByteSize()
		if err != nil {
			return err
		}
		if len(raw) != byteSize {
			return fmt.Errorf("%w: input %d encodes to %d bytes, tensor wants %d", diag.ErrShapeMismatch, index, len(raw), byteSize)
		}
		if err := tensor.CopyFromBuffer(raw); err != nil {
			return err
		}
	}

	if err := h.interpreter.Invoke(); err != nil {
		return err
	}

	for _, index := range sortedIndexes(outputs) {
		tensor, err := h.interpreter.OutputTensor(index)
		if err != nil {
			return err
		}
		exactType, err := tensor.Type()
		if err != nil {
			return err
		}
		rawShape, err := tensor.Shape()
		if err != nil {
			return err
		}
		byteSize, err := tensor.ByteSize()
		if err != nil {
			return err
		}
		raw := make([]byte, byteSize)
		if err := tensor.CopyToBuffer(raw); err != nil {
			return err
		}
		decoded, err := decodeBuffer(raw, diag.Shape(rawShape), exactType)
		if err != nil {
			return fmt.Errorf("output %d: %w", index, err)
		}
		outputs[index] = decoded
	}

	return nil
}

// ResetState resets the interpreter's variable tensors, reporting
// diag.ErrUnsupported when the runtime cannot reset in place.
func (h *handle) ResetState() error {
	err := h.interpreter.ResetVariableTensors()
	if err == nil {
		return nil
	}
	if errors.Is(err, tflite.ErrResetUnsupported) {
		return fmt.Errorf("%w: %v", diag.ErrUnsupported, err)
	}
	return err
}

// Close releases the interpreter and its model. Idempotent.
func (h *handle) Close() error {
	return diagutil.DestroyAll(h.interpreter, h.model)
}

func sortedIndexes(buffers map[int]diag.Buffer) []int {
	indexes := make([]int, 0, len(buffers))
	for index := range buffers {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)
	return indexes
}
