package diag

import (
	"errors"
	"fmt"
	"sync"

	"k8s.io/klog/v2"
)

// SampleLength is the number of leading flattened values RunOne returns as a
// human-inspectable sample alongside the hash.
const SampleLength = 8

type sessionState int

const (
	stateUninitialized sessionState = iota
	stateReady
	stateClosed
)

// Option customizes session construction.
type Option func(*sessionConfig) error

type sessionConfig struct {
	outputName string
	seedOne    uint64
	seedTwo    uint64
}

// WithOutputName pins output selection to the output tensor with the given
// graph name instead of probing for the varying output. This is the escape
// hatch for models whose real signal is a scalar output, which the probe
// selector never picks.
func WithOutputName(name string) Option {
	return func(cfg *sessionConfig) error {
		if name == "" {
			return fmt.Errorf("output name cannot be empty")
		}
		cfg.outputName = name
		return nil
	}
}

// WithProbeSeeds overrides the two fixed seeds used by output selection.
// The seeds must be distinct.
func WithProbeSeeds(seedOne, seedTwo uint64) Option {
	return func(cfg *sessionConfig) error {
		if seedOne == seedTwo {
			return fmt.Errorf("probe seeds must be distinct, got %d twice", seedOne)
		}
		cfg.seedOne = seedOne
		cfg.seedTwo = seedTwo
		return nil
	}
}

// Session owns the single live engine handle and is the only component that
// touches it. All operations are sequential request/response calls; the
// session serializes them with one mutex so that Dispose is additionally
// safe from finalizer-like paths.
type Session struct {
	mu       sync.Mutex
	engine   Engine
	modelRef string
	cfg      sessionConfig

	state   sessionState
	handle  Handle
	input   TensorDescriptor
	outputs []TensorDescriptor

	selected      int
	selectionDone bool
}

// NewSession creates a session for the given engine and model reference.
// The engine handle is not allocated until EnsureReady.
func NewSession(engine Engine, modelRef string, opts ...Option) (*Session, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if modelRef == "" {
		return nil, fmt.Errorf("model reference cannot be empty")
	}

	cfg := sessionConfig{seedOne: probeSeedOne, seedTwo: probeSeedTwo}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	return &Session{
		engine:   engine,
		modelRef: modelRef,
		cfg:      cfg,
	}, nil
}

// EnsureReady allocates the engine handle once, allocates tensors, and
// caches the input descriptor and all output descriptors. On failure the
// session stays unready and the error is reported to the caller; nothing is
// retried.
func (s *Session) EnsureReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateClosed:
		return fmt.Errorf("cannot ensure ready: %w", ErrClosed)
	case stateReady:
		return nil
	}

	handle, input, outputs, err := s.allocateLocked()
	if err != nil {
		return err
	}

	s.handle = handle
	s.input = input
	s.outputs = outputs
	s.state = stateReady

	if klog.V(2).Enabled() {
		klog.V(2).Infof("session ready for %q: input %s, %d outputs", s.modelRef, input, len(outputs))
		for _, out := range outputs {
			klog.V(2).Infof("  output %s", out)
		}
	}
	return nil
}

// allocateLocked allocates a fresh handle and queries its descriptors,
// closing the handle again on any failure.
func (s *Session) allocateLocked() (Handle, TensorDescriptor, []TensorDescriptor, error) {
	var zero TensorDescriptor

	handle, err := s.engine.Allocate(s.modelRef)
	if err != nil {
		return nil, zero, nil, fmt.Errorf("failed to allocate engine handle for %q: %w", s.modelRef, err)
	}

	if err := handle.AllocateTensors(); err != nil {
		_ = handle.Close()
		return nil, zero, nil, fmt.Errorf("failed to allocate tensors: %w", err)
	}

	inputCount, err := handle.InputCount()
	if err != nil {
		_ = handle.Close()
		return nil, zero, nil, fmt.Errorf("failed to query input count: %w", err)
	}
	if inputCount < 1 {
		_ = handle.Close()
		return nil, zero, nil, fmt.Errorf("model has no input tensors")
	}

	input, err := handle.DescribeInput(0)
	if err != nil {
		_ = handle.Close()
		return nil, zero, nil, fmt.Errorf("failed to describe input tensor: %w", err)
	}
	if input.Index != 0 {
		_ = handle.Close()
		return nil, zero, nil, fmt.Errorf("engine reported input descriptor index %d for slot 0", input.Index)
	}

	outputCount, err := handle.OutputCount()
	if err != nil {
		_ = handle.Close()
		return nil, zero, nil, fmt.Errorf("failed to query output count: %w", err)
	}
	if outputCount < 1 {
		_ = handle.Close()
		return nil, zero, nil, fmt.Errorf("model has no output tensors")
	}

	outputs := make([]TensorDescriptor, outputCount)
	for i := 0; i < outputCount; i++ {
		desc, err := handle.DescribeOutput(i)
		if err != nil {
			_ = handle.Close()
			return nil, zero, nil, fmt.Errorf("failed to describe output tensor %d: %w", i, err)
		}
		// Descriptor indexes address the outputs slice later; a handle that
		// reports a stray index must fail here, not panic downstream.
		if desc.Index != i {
			_ = handle.Close()
			return nil, zero, nil, fmt.Errorf("engine reported output descriptor index %d for slot %d", desc.Index, i)
		}
		outputs[i] = desc
	}

	return handle, input, outputs, nil
}

// InputDescriptor returns the cached input descriptor. Valid only while
// ready.
func (s *Session) InputDescriptor() (TensorDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireReadyLocked("query input descriptor"); err != nil {
		return TensorDescriptor{}, err
	}
	return s.input, nil
}

// OutputDescriptors returns a copy of the cached output descriptors. Valid
// only while ready.
func (s *Session) OutputDescriptors() ([]TensorDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireReadyLocked("query output descriptors"); err != nil {
		return nil, err
	}
	outputs := make([]TensorDescriptor, len(s.outputs))
	copy(outputs, s.outputs)
	return outputs, nil
}

// Run executes one inference batch against the live handle. The input buffer
// must be congruent with the cached input descriptor; each requested output
// index is filled in place in the outputs map.
func (s *Session) Run(input Buffer, outputs map[int]Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runLocked(input, outputs)
}

func (s *Session) runLocked(input Buffer, outputs map[int]Buffer) error {
	if err := s.requireReadyLocked("run inference"); err != nil {
		return err
	}

	if err := Congruent(input, s.input.Shape, s.input.Type); err != nil {
		return fmt.Errorf("input buffer rejected: %w", err)
	}
	for index, buffer := range outputs {
		if index < 0 || index >= len(s.outputs) {
			return fmt.Errorf("%w: no output tensor at index %d", ErrShapeMismatch, index)
		}
		desc := s.outputs[index]
		if err := Congruent(buffer, desc.Shape, desc.Type); err != nil {
			return fmt.Errorf("output buffer %d rejected: %w", index, err)
		}
	}

	if err := s.handle.Run(map[int]Buffer{s.input.Index: input}, outputs); err != nil {
		return fmt.Errorf("inference failed: %w", err)
	}
	return nil
}

// AttemptReset resets the engine's internal state. When the engine reports
// the capability as unsupported, the session closes the current handle,
// allocates a replacement, and re-queries descriptors; a stateless restart
// on a fresh handle is behaviorally equivalent to an in-place reset. The
// replacement descriptors must match the originals or the reset fails with
// ErrDescriptorMismatch.
func (s *Session) AttemptReset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attemptResetLocked()
}

func (s *Session) attemptResetLocked() error {
	if err := s.requireReadyLocked("reset state"); err != nil {
		return err
	}

	err := s.handle.ResetState()
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrUnsupported) {
		return fmt.Errorf("state reset failed: %w", err)
	}

	klog.V(2).Infof("in-place reset unsupported for %q, replacing engine handle", s.modelRef)

	// Fallback: substitute a fresh handle for the stateful one.
	_ = s.handle.Close()
	s.handle = nil
	s.state = stateUninitialized

	handle, input, outputs, err := s.allocateLocked()
	if err != nil {
		return fmt.Errorf("reset fallback failed to allocate replacement handle: %w", err)
	}

	if !input.Equal(s.input) {
		_ = handle.Close()
		return fmt.Errorf("%w: input was %s, replacement reports %s", ErrDescriptorMismatch, s.input, input)
	}
	if len(outputs) != len(s.outputs) {
		_ = handle.Close()
		return fmt.Errorf("%w: output count was %d, replacement reports %d", ErrDescriptorMismatch, len(s.outputs), len(outputs))
	}
	for i := range outputs {
		if !outputs[i].Equal(s.outputs[i]) {
			_ = handle.Close()
			return fmt.Errorf("%w: output %d was %s, replacement reports %s", ErrDescriptorMismatch, i, s.outputs[i], outputs[i])
		}
	}

	s.handle = handle
	s.state = stateReady
	return nil
}

// SelectOutputOnce picks the signal-bearing output index. The selection runs
// at most once per session; subsequent calls return the cached index. When
// the session was configured with WithOutputName, the named output is used
// and no probes run.
func (s *Session) SelectOutputOnce() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectOutputOnceLocked()
}

func (s *Session) selectOutputOnceLocked() (int, error) {
	if err := s.requireReadyLocked("select output"); err != nil {
		return 0, err
	}
	if s.selectionDone {
		return s.selected, nil
	}

	if s.cfg.outputName != "" {
		for _, desc := range s.outputs {
			if desc.Name == s.cfg.outputName {
				s.selected = desc.Index
				s.selectionDone = true
				return s.selected, nil
			}
		}
		return 0, fmt.Errorf("no output tensor named %q", s.cfg.outputName)
	}

	index, err := SelectOutput(func(seed uint64) ([]Buffer, error) {
		return s.probeLocked(seed)
	}, s.cfg.seedOne, s.cfg.seedTwo)
	if err != nil {
		return 0, err
	}

	s.selected = index
	s.selectionDone = true
	return index, nil
}

// probeLocked runs one inference pass with synthetic inputs derived from the
// seed and returns every output buffer in descriptor order.
func (s *Session) probeLocked(seed uint64) ([]Buffer, error) {
	input := Fill(Build(s.input.Shape, s.input.Type), seed)

	outputs := make(map[int]Buffer, len(s.outputs))
	for _, desc := range s.outputs {
		outputs[desc.Index] = Build(desc.Shape, desc.Type)
	}
	if err := s.runLocked(input, outputs); err != nil {
		return nil, err
	}

	ordered := make([]Buffer, len(s.outputs))
	for _, desc := range s.outputs {
		ordered[desc.Index] = outputs[desc.Index]
	}
	return ordered, nil
}

// RunOne runs one inference pass with synthetic inputs derived from the seed
// and returns the content hash of the selected output's flattened values
// plus a short leading sample of them.
func (s *Session) RunOne(seed uint64) (uint64, []float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runOneLocked(seed)
}

func (s *Session) runOneLocked(seed uint64) (uint64, []float64, error) {
	selected, err := s.selectOutputOnceLocked()
	if err != nil {
		return 0, nil, err
	}

	desc := s.outputs[selected]
	input := Fill(Build(s.input.Shape, s.input.Type), seed)
	outputs := map[int]Buffer{desc.Index: Build(desc.Shape, desc.Type)}

	if err := s.runLocked(input, outputs); err != nil {
		return 0, nil, err
	}

	flat, err := Flatten(outputs[desc.Index])
	if err != nil {
		return 0, nil, fmt.Errorf("selected output %d cannot be hashed: %w", selected, err)
	}

	sample := flat
	if len(sample) > SampleLength {
		sample = sample[:SampleLength]
	}
	return HashSequence(flat), sample, nil
}

// RunTwoWithReset runs one pass with seedOne, attempts a state reset, then
// runs a second pass with seedTwo, returning both output hashes.
func (s *Session) RunTwoWithReset(seedOne, seedTwo uint64) (uint64, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hashOne, _, err := s.runOneLocked(seedOne)
	if err != nil {
		return 0, 0, err
	}
	if err := s.attemptResetLocked(); err != nil {
		return 0, 0, err
	}
	hashTwo, _, err := s.runOneLocked(seedTwo)
	if err != nil {
		return 0, 0, err
	}
	return hashOne, hashTwo, nil
}

// Dispose releases the engine handle and moves the session to its terminal
// state. Calling Dispose again is a no-op. Dispose never panics and is safe
// to invoke even if initialization never completed.
func (s *Session) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return nil
	}

	var err error
	if s.handle != nil {
		err = s.handle.Close()
		s.handle = nil
	}
	s.outputs = nil
	s.state = stateClosed
	return err
}

func (s *Session) requireReadyLocked(op string) error {
	switch s.state {
	case stateClosed:
		return fmt.Errorf("cannot %s: %w", op, ErrClosed)
	case stateUninitialized:
		return fmt.Errorf("cannot %s: %w (call EnsureReady first)", op, ErrNotReady)
	default:
		return nil
	}
}
