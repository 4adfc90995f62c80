package diag

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

// fakeEngine implements Engine in-process. Each fake handle derives its
// outputs deterministically from the input values plus an internal state
// counter, so stateful and stateless models can both be simulated.
type fakeEngine struct {
	input   TensorDescriptor
	outputs []TensorDescriptor

	stateful    bool
	allocateErr error
	resetErr    error

	// Failure modes for the correctness checks.
	constant  bool // outputs ignore the input entirely
	noisy     bool // outputs change on every invocation
	resetNoop bool // ResetState claims success but keeps state

	// mutateHandle tweaks each allocated handle; used to simulate
	// replacement handles that disagree with the original.
	mutateHandle func(allocation int, h *fakeHandle)

	allocations int
	handles     []*fakeHandle
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		input: TensorDescriptor{Index: 0, Name: "serving_input", Shape: Shape{1, 4}, Type: TypeFloat32},
		outputs: []TensorDescriptor{
			{Index: 0, Name: "similarity", Shape: Shape{}, Type: TypeFloat32},
			{Index: 1, Name: "embedding", Shape: Shape{1, 8}, Type: TypeFloat32},
		},
	}
}

func (e *fakeEngine) Allocate(modelRef string) (Handle, error) {
	if e.allocateErr != nil {
		return nil, e.allocateErr
	}
	e.allocations++

	h := &fakeHandle{
		engine:  e,
		input:   e.input,
		outputs: append([]TensorDescriptor(nil), e.outputs...),
	}
	if e.mutateHandle != nil {
		e.mutateHandle(e.allocations, h)
	}
	e.handles = append(e.handles, h)
	return h, nil
}

type fakeHandle struct {
	engine  *fakeEngine
	input   TensorDescriptor
	outputs []TensorDescriptor

	allocateTensorsErr error
	state              uint64
	runCount           int
	closeCount         int
	runInputs          []Buffer
}

func (h *fakeHandle) AllocateTensors() error {
	return h.allocateTensorsErr
}

func (h *fakeHandle) InputCount() (int, error) {
	return 1, nil
}

func (h *fakeHandle) OutputCount() (int, error) {
	return len(h.outputs), nil
}

func (h *fakeHandle) DescribeInput(index int) (TensorDescriptor, error) {
	if index != 0 {
		return TensorDescriptor{}, fmt.Errorf("no input at index %d", index)
	}
	return h.input, nil
}

func (h *fakeHandle) DescribeOutput(index int) (TensorDescriptor, error) {
	if index < 0 || index >= len(h.outputs) {
		return TensorDescriptor{}, fmt.Errorf("no output at index %d", index)
	}
	return h.outputs[index], nil
}

func (h *fakeHandle) Run(inputs map[int]Buffer, outputs map[int]Buffer) error {
	if h.closeCount > 0 {
		return fmt.Errorf("run on closed handle")
	}
	h.runCount++

	input, ok := inputs[0]
	if !ok {
		return fmt.Errorf("missing input 0")
	}
	h.runInputs = append(h.runInputs, input)
	flat, err := Flatten(input)
	if err != nil {
		return err
	}

	seed := HashSequence(flat) + h.state
	if h.engine.constant {
		seed = 0xbeef
	}
	if h.engine.noisy {
		seed += uint64(h.runCount)
	}
	for index := range outputs {
		if index < 0 || index >= len(h.outputs) {
			return fmt.Errorf("no output at index %d", index)
		}
		desc := h.outputs[index]
		outputs[index] = Fill(Build(desc.Shape, desc.Type), seed+uint64(index))
	}

	if h.engine.stateful {
		h.state++
	}
	return nil
}

func (h *fakeHandle) ResetState() error {
	if h.engine.resetErr != nil {
		return h.engine.resetErr
	}
	if !h.engine.resetNoop {
		h.state = 0
	}
	return nil
}

func (h *fakeHandle) Close() error {
	h.closeCount++
	return nil
}

func newReadySession(t *testing.T, engine *fakeEngine, opts ...Option) *Session {
	t.Helper()
	session, err := NewSession(engine, "model.tflite", opts...)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if err := session.EnsureReady(); err != nil {
		t.Fatalf("failed to ensure ready: %v", err)
	}
	return session
}

func TestNewSessionValidation(t *testing.T) {
	if _, err := NewSession(nil, "model.tflite"); err == nil {
		t.Error("expected error for nil engine")
	}
	if _, err := NewSession(newFakeEngine(), ""); err == nil {
		t.Error("expected error for empty model reference")
	}
	if _, err := NewSession(newFakeEngine(), "model.tflite", WithProbeSeeds(5, 5)); err == nil {
		t.Error("expected error for equal probe seeds")
	}
	if _, err := NewSession(newFakeEngine(), "model.tflite", WithOutputName("")); err == nil {
		t.Error("expected error for empty output name")
	}
}

func TestEnsureReadyAllocatesOnce(t *testing.T) {
	engine := newFakeEngine()
	session := newReadySession(t, engine)
	defer func() { _ = session.Dispose() }()

	if err := session.EnsureReady(); err != nil {
		t.Fatalf("second EnsureReady failed: %v", err)
	}
	if engine.allocations != 1 {
		t.Errorf("expected exactly 1 allocation, got %d", engine.allocations)
	}

	input, err := session.InputDescriptor()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !input.Equal(engine.input) {
		t.Errorf("cached input descriptor = %s, want %s", input, engine.input)
	}

	outputs, err := session.OutputDescriptors()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outputs) != len(engine.outputs) {
		t.Fatalf("cached %d output descriptors, want %d", len(outputs), len(engine.outputs))
	}
}

func TestEnsureReadyFailureLeavesSessionUnready(t *testing.T) {
	engine := newFakeEngine()
	engine.allocateErr = errors.New("model file corrupt")

	session, err := NewSession(engine, "model.tflite")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if err := session.EnsureReady(); err == nil {
		t.Fatal("expected EnsureReady to fail")
	}

	if err := session.Run(FloatLeaf(0), nil); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady after failed EnsureReady, got %v", err)
	}

	// The failure is not sticky: a later attempt may succeed.
	engine.allocateErr = nil
	if err := session.EnsureReady(); err != nil {
		t.Fatalf("EnsureReady after transient failure: %v", err)
	}
	_ = session.Dispose()
}

func TestEnsureReadyTensorAllocationFailureClosesHandle(t *testing.T) {
	engine := newFakeEngine()
	engine.mutateHandle = func(allocation int, h *fakeHandle) {
		h.allocateTensorsErr = errors.New("arena exhausted")
	}

	session, err := NewSession(engine, "model.tflite")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if err := session.EnsureReady(); err == nil {
		t.Fatal("expected EnsureReady to fail")
	}
	if len(engine.handles) != 1 || engine.handles[0].closeCount != 1 {
		t.Error("partially initialized handle must be closed")
	}
}

func TestEnsureReadyRejectsMisnumberedDescriptors(t *testing.T) {
	engine := newFakeEngine()
	engine.mutateHandle = func(allocation int, h *fakeHandle) {
		h.outputs[1].Index = 5
	}

	session, err := NewSession(engine, "model.tflite")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	err = session.EnsureReady()
	if err == nil {
		t.Fatal("expected EnsureReady to reject a stray descriptor index")
	}
	if !strings.Contains(err.Error(), "descriptor index 5") {
		t.Errorf("error %q does not name the stray index", err)
	}
	if len(engine.handles) != 1 || engine.handles[0].closeCount != 1 {
		t.Error("handle with bad descriptors must be closed")
	}
}

func TestRunPreconditions(t *testing.T) {
	engine := newFakeEngine()

	session, err := NewSession(engine, "model.tflite")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if err := session.Run(FloatLeaf(0), nil); !errors.Is(err, ErrNotReady) {
		t.Errorf("run before ready: expected ErrNotReady, got %v", err)
	}

	if err := session.EnsureReady(); err != nil {
		t.Fatalf("failed to ensure ready: %v", err)
	}

	// Input buffer not congruent with the cached descriptor.
	err = session.Run(FloatLeaf(0), map[int]Buffer{1: Build(engine.outputs[1].Shape, TypeFloat32)})
	if !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("mismatched input: expected ErrShapeMismatch, got %v", err)
	}

	// Output buffer for a slot that does not exist.
	input := Build(engine.input.Shape, engine.input.Type)
	err = session.Run(input, map[int]Buffer{5: FloatLeaf(0)})
	if !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("unknown output slot: expected ErrShapeMismatch, got %v", err)
	}

	_ = session.Dispose()
}

func TestRunFillsOutputs(t *testing.T) {
	engine := newFakeEngine()
	session := newReadySession(t, engine)
	defer func() { _ = session.Dispose() }()

	input := Fill(Build(engine.input.Shape, engine.input.Type), 7)
	outputs := map[int]Buffer{1: Build(engine.outputs[1].Shape, TypeFloat32)}
	if err := session.Run(input, outputs); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	flat, err := Flatten(outputs[1])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(flat) != 8 {
		t.Fatalf("output flat length = %d, want 8", len(flat))
	}
	allZero := true
	for _, value := range flat {
		if value != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		t.Error("output buffer was not filled")
	}
}

func TestDisposeLifecycle(t *testing.T) {
	engine := newFakeEngine()
	session := newReadySession(t, engine)

	if err := session.Dispose(); err != nil {
		t.Fatalf("dispose failed: %v", err)
	}
	if err := session.Dispose(); err != nil {
		t.Fatalf("second dispose must be a no-op, got %v", err)
	}
	if engine.handles[0].closeCount != 1 {
		t.Errorf("handle closed %d times, want 1", engine.handles[0].closeCount)
	}

	tests := []struct {
		name string
		op   func() error
	}{
		{name: "EnsureReady", op: session.EnsureReady},
		{name: "Run", op: func() error { return session.Run(FloatLeaf(0), nil) }},
		{name: "AttemptReset", op: session.AttemptReset},
		{name: "SelectOutputOnce", op: func() error { _, err := session.SelectOutputOnce(); return err }},
		{name: "RunOne", op: func() error { _, _, err := session.RunOne(1); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.op(); !errors.Is(err, ErrClosed) {
				t.Errorf("expected ErrClosed, got %v", err)
			}
		})
	}
}

func TestDisposeBeforeEnsureReady(t *testing.T) {
	session, err := NewSession(newFakeEngine(), "model.tflite")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	// Safe from finalizer-like paths even if initialization never ran.
	if err := session.Dispose(); err != nil {
		t.Fatalf("dispose of uninitialized session failed: %v", err)
	}
}

func TestSelectOutputOnceCachesResult(t *testing.T) {
	engine := newFakeEngine()
	session := newReadySession(t, engine)
	defer func() { _ = session.Dispose() }()

	selected, err := session.SelectOutputOnce()
	if err != nil {
		t.Fatalf("selection failed: %v", err)
	}
	if selected != 1 {
		t.Errorf("selected output = %d, want 1 (scalar output 0 excluded)", selected)
	}

	runsAfterSelection := engine.handles[0].runCount
	if runsAfterSelection != 2 {
		t.Errorf("selection ran %d probes, want 2", runsAfterSelection)
	}

	again, err := session.SelectOutputOnce()
	if err != nil {
		t.Fatalf("cached selection failed: %v", err)
	}
	if again != selected {
		t.Errorf("cached selection = %d, want %d", again, selected)
	}
	if engine.handles[0].runCount != runsAfterSelection {
		t.Error("cached selection must not re-probe")
	}
}

func TestSelectOutputOnceUsesConfiguredSeeds(t *testing.T) {
	engine := newFakeEngine()
	session := newReadySession(t, engine, WithProbeSeeds(777, 888))
	defer func() { _ = session.Dispose() }()

	if _, err := session.SelectOutputOnce(); err != nil {
		t.Fatalf("selection failed: %v", err)
	}

	handle := engine.handles[0]
	if len(handle.runInputs) != 2 {
		t.Fatalf("selection ran %d probes, want 2", len(handle.runInputs))
	}
	for i, seed := range []uint64{777, 888} {
		want := Fill(Build(engine.input.Shape, engine.input.Type), seed)
		if !reflect.DeepEqual(handle.runInputs[i], want) {
			t.Errorf("probe %d input not derived from seed %d", i, seed)
		}
	}
}

func TestSelectOutputByName(t *testing.T) {
	engine := newFakeEngine()
	session := newReadySession(t, engine, WithOutputName("similarity"))
	defer func() { _ = session.Dispose() }()

	selected, err := session.SelectOutputOnce()
	if err != nil {
		t.Fatalf("selection failed: %v", err)
	}
	if selected != 0 {
		t.Errorf("selected output = %d, want 0", selected)
	}
	if engine.handles[0].runCount != 0 {
		t.Error("named selection must not probe")
	}
}

func TestSelectOutputByUnknownName(t *testing.T) {
	engine := newFakeEngine()
	session := newReadySession(t, engine, WithOutputName("no_such_tensor"))
	defer func() { _ = session.Dispose() }()

	if _, err := session.SelectOutputOnce(); err == nil {
		t.Fatal("expected error for unknown output name")
	}
}

func TestRunOneDeterministic(t *testing.T) {
	engine := newFakeEngine()
	session := newReadySession(t, engine)
	defer func() { _ = session.Dispose() }()

	hashOne, sample, err := session.RunOne(42)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(sample) == 0 || len(sample) > SampleLength {
		t.Errorf("sample length = %d, want 1..%d", len(sample), SampleLength)
	}

	hashAgain, _, err := session.RunOne(42)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if hashOne != hashAgain {
		t.Error("same seed must reproduce the same output hash")
	}

	hashOther, _, err := session.RunOne(43)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if hashOne == hashOther {
		t.Error("distinct seeds must produce distinct output hashes")
	}
}

func TestAttemptResetInPlace(t *testing.T) {
	engine := newFakeEngine()
	engine.stateful = true
	session := newReadySession(t, engine)
	defer func() { _ = session.Dispose() }()

	// Selection probes advance the fake's state, so reset before taking
	// the fresh baseline.
	if _, err := session.SelectOutputOnce(); err != nil {
		t.Fatalf("selection failed: %v", err)
	}
	if err := session.AttemptReset(); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	fresh, _, err := session.RunOne(9)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	carried, _, err := session.RunOne(9)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if fresh == carried {
		t.Fatal("stateful fake must drift without a reset")
	}

	if err := session.AttemptReset(); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if engine.allocations != 1 {
		t.Errorf("in-place reset must not reallocate, got %d allocations", engine.allocations)
	}

	again, _, err := session.RunOne(9)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if again != fresh {
		t.Error("reset must restore the fresh output distribution")
	}
}

func TestAttemptResetFallbackReplacesHandle(t *testing.T) {
	engine := newFakeEngine()
	engine.resetErr = fmt.Errorf("backend cannot reset: %w", ErrUnsupported)
	session := newReadySession(t, engine)
	defer func() { _ = session.Dispose() }()

	before, err := session.OutputDescriptors()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := session.AttemptReset(); err != nil {
		t.Fatalf("reset fallback failed: %v", err)
	}
	if engine.allocations != 2 {
		t.Fatalf("expected replacement allocation, got %d allocations", engine.allocations)
	}
	if engine.handles[0].closeCount != 1 {
		t.Error("original handle must be closed during fallback")
	}

	after, err := session.OutputDescriptors()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range before {
		if !before[i].Equal(after[i]) {
			t.Errorf("descriptor %d changed across fallback: %s vs %s", i, before[i], after[i])
		}
	}

	// The session keeps working against the replacement handle.
	if _, _, err := session.RunOne(3); err != nil {
		t.Fatalf("run after fallback failed: %v", err)
	}
	if engine.handles[1].runCount == 0 {
		t.Error("run after fallback must hit the replacement handle")
	}
}

func TestAttemptResetFallbackDescriptorMismatch(t *testing.T) {
	engine := newFakeEngine()
	engine.resetErr = fmt.Errorf("backend cannot reset: %w", ErrUnsupported)
	engine.mutateHandle = func(allocation int, h *fakeHandle) {
		if allocation > 1 {
			h.outputs[1].Shape = Shape{1, 16}
		}
	}
	session := newReadySession(t, engine)
	defer func() { _ = session.Dispose() }()

	err := session.AttemptReset()
	if !errors.Is(err, ErrDescriptorMismatch) {
		t.Fatalf("expected ErrDescriptorMismatch, got %v", err)
	}
	if engine.handles[1].closeCount != 1 {
		t.Error("mismatching replacement handle must be closed")
	}
}

func TestAttemptResetHardErrorSurfaces(t *testing.T) {
	engine := newFakeEngine()
	engine.resetErr = errors.New("delegate crashed")
	session := newReadySession(t, engine)
	defer func() { _ = session.Dispose() }()

	if err := session.AttemptReset(); err == nil {
		t.Fatal("expected hard reset error to surface")
	}
	if engine.allocations != 1 {
		t.Error("hard reset errors must not trigger handle replacement")
	}

	// The session stays ready with the original handle.
	if _, _, err := session.RunOne(1); err != nil {
		t.Errorf("run after surfaced reset error failed: %v", err)
	}
}

func TestRunTwoWithReset(t *testing.T) {
	engine := newFakeEngine()
	session := newReadySession(t, engine)
	defer func() { _ = session.Dispose() }()

	hashOne, hashTwo, err := session.RunTwoWithReset(11, 22)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if hashOne == hashTwo {
		t.Error("distinct seeds must produce distinct hashes")
	}

	same1, same2, err := session.RunTwoWithReset(11, 11)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if same1 != same2 {
		t.Error("same seed across a reset must reproduce the same hash")
	}
	if same1 != hashOne {
		t.Error("hash for a seed must be stable across calls")
	}
}

func TestRunTwoWithResetFallback(t *testing.T) {
	engine := newFakeEngine()
	engine.resetErr = fmt.Errorf("backend cannot reset: %w", ErrUnsupported)
	session := newReadySession(t, engine)
	defer func() { _ = session.Dispose() }()

	hashOne, hashTwo, err := session.RunTwoWithReset(11, 11)
	if err != nil {
		t.Fatalf("run with reset fallback failed: %v", err)
	}
	if hashOne != hashTwo {
		t.Error("fallback reset must behave like a fresh start for the same seed")
	}
}
