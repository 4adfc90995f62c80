package diag

// Engine is the capability the session needs from a native inference engine.
// Implementations allocate one live handle per call; the session owns the
// handle it receives.
type Engine interface {
	// Allocate loads the model identified by modelRef and returns a live
	// handle. The handle is not usable until AllocateTensors succeeds.
	Allocate(modelRef string) (Handle, error)
}

// Handle is one loaded, allocatable model instance inside the engine.
type Handle interface {
	// AllocateTensors allocates the engine-side tensor storage. Must be
	// called once before metadata queries or Run.
	AllocateTensors() error

	// InputCount returns the number of input tensor slots.
	InputCount() (int, error)

	// OutputCount returns the number of output tensor slots.
	OutputCount() (int, error)

	// DescribeInput returns the descriptor of the input slot at index.
	DescribeInput(index int) (TensorDescriptor, error)

	// DescribeOutput returns the descriptor of the output slot at index.
	DescribeOutput(index int) (TensorDescriptor, error)

	// Run executes one inference batch. Inputs are read from the supplied
	// buffers; each requested output index is filled in place in the outputs
	// map. A buffer whose structure does not match its slot fails with
	// ErrShapeMismatch.
	Run(inputs map[int]Buffer, outputs map[int]Buffer) error

	// ResetState resets the engine's internal (variable) state. Returns
	// ErrUnsupported when the active configuration cannot reset in place.
	ResetState() error

	// Close releases the handle. Idempotent.
	Close() error
}
