package tflite

import (
	"fmt"
	"sync"

	"github.com/ebitengine/purego"
)

var (
	mu          sync.Mutex
	initialized bool
	libHandle   uintptr
	libPath     string

	versionFunc func() uintptr

	modelCreateFromFileFunc func(uintptr) uintptr
	modelDeleteFunc         func(uintptr)

	interpreterOptionsCreateFunc        func() uintptr
	interpreterOptionsDeleteFunc        func(uintptr)
	interpreterOptionsSetNumThreadsFunc func(uintptr, int32)

	interpreterCreateFunc               func(uintptr, uintptr) uintptr
	interpreterDeleteFunc               func(uintptr)
	interpreterAllocateTensorsFunc      func(uintptr) int32
	interpreterGetInputTensorCountFunc  func(uintptr) int32
	interpreterGetOutputTensorCountFunc func(uintptr) int32
	interpreterGetInputTensorFunc       func(uintptr, int32) uintptr
	interpreterGetOutputTensorFunc      func(uintptr, int32) uintptr
	interpreterInvokeFunc               func(uintptr) int32
	interpreterResetVariableTensorsFunc func(uintptr) int32

	tensorTypeFunc           func(uintptr) int32
	tensorNumDimsFunc        func(uintptr) int32
	tensorDimFunc            func(uintptr, int32) int32
	tensorByteSizeFunc       func(uintptr) uintptr
	tensorNameFunc           func(uintptr) uintptr
	tensorCopyFromBufferFunc func(uintptr, uintptr, uintptr) int32
	tensorCopyToBufferFunc   func(uintptr, uintptr, uintptr) int32
)

// requiredSymbols are registered during Initialize. A missing required symbol
// fails initialization; optional symbols leave their func var nil.
type symbolBinding struct {
	name     string
	register func(uintptr)
	optional bool
}

func symbolTable() []symbolBinding {
	return []symbolBinding{
		{name: "TfLiteVersion", register: func(addr uintptr) { purego.RegisterFunc(&versionFunc, addr) }},
		{name: "TfLiteModelCreateFromFile", register: func(addr uintptr) { purego.RegisterFunc(&modelCreateFromFileFunc, addr) }},
		{name: "TfLiteModelDelete", register: func(addr uintptr) { purego.RegisterFunc(&modelDeleteFunc, addr) }},
		{name: "TfLiteInterpreterOptionsCreate", register: func(addr uintptr) { purego.RegisterFunc(&interpreterOptionsCreateFunc, addr) }},
		{name: "TfLiteInterpreterOptionsDelete", register: func(addr uintptr) { purego.RegisterFunc(&interpreterOptionsDeleteFunc, addr) }},
		{name: "TfLiteInterpreterOptionsSetNumThreads", register: func(addr uintptr) { purego.RegisterFunc(&interpreterOptionsSetNumThreadsFunc, addr) }},
		{name: "TfLiteInterpreterCreate", register: func(addr uintptr) { purego.RegisterFunc(&interpreterCreateFunc, addr) }},
		{name: "TfLiteInterpreterDelete", register: func(addr uintptr) { purego.RegisterFunc(&interpreterDeleteFunc, addr) }},
		{name: "TfLiteInterpreterAllocateTensors", register: func(addr uintptr) { purego.RegisterFunc(&interpreterAllocateTensorsFunc, addr) }},
		{name: "TfLiteInterpreterGetInputTensorCount", register: func(addr uintptr) { purego.RegisterFunc(&interpreterGetInputTensorCountFunc, addr) }},
		{name: "TfLiteInterpreterGetOutputTensorCount", register: func(addr uintptr) { purego.RegisterFunc(&interpreterGetOutputTensorCountFunc, addr) }},
		{name: "TfLiteInterpreterGetInputTensor", register: func(addr uintptr) { purego.RegisterFunc(&interpreterGetInputTensorFunc, addr) }},
		{name: "TfLiteInterpreterGetOutputTensor", register: func(addr uintptr) { purego.RegisterFunc(&interpreterGetOutputTensorFunc, addr) }},
		{name: "TfLiteInterpreterInvoke", register: func(addr uintptr) { purego.RegisterFunc(&interpreterInvokeFunc, addr) }},
		{name: "TfLiteInterpreterResetVariableTensors", register: func(addr uintptr) { purego.RegisterFunc(&interpreterResetVariableTensorsFunc, addr) }, optional: true},
		{name: "TfLiteTensorType", register: func(addr uintptr) { purego.RegisterFunc(&tensorTypeFunc, addr) }},
		{name: "TfLiteTensorNumDims", register: func(addr uintptr) { purego.RegisterFunc(&tensorNumDimsFunc, addr) }},
		{name: "TfLiteTensorDim", register: func(addr uintptr) { purego.RegisterFunc(&tensorDimFunc, addr) }},
		{name: "TfLiteTensorByteSize", register: func(addr uintptr) { purego.RegisterFunc(&tensorByteSizeFunc, addr) }},
		{name: "TfLiteTensorName", register: func(addr uintptr) { purego.RegisterFunc(&tensorNameFunc, addr) }},
		{name: "TfLiteTensorCopyFromBuffer", register: func(addr uintptr) { purego.RegisterFunc(&tensorCopyFromBufferFunc, addr) }},
		{name: "TfLiteTensorCopyToBuffer", register: func(addr uintptr) { purego.RegisterFunc(&tensorCopyToBufferFunc, addr) }},
	}
}

// SetSharedLibraryPath sets the path to the TensorFlow Lite C shared library.
// Must be called before Initialize.
func SetSharedLibraryPath(path string) error {
	mu.Lock()
	defer mu.Unlock()

	if initialized {
		return fmt.Errorf("cannot change library path after runtime is initialized")
	}
	if path == "" {
		return fmt.Errorf("library path cannot be empty")
	}
	libPath = path
	return nil
}

// Initialize loads the TensorFlow Lite C shared library and registers the
// C API symbols. Calling Initialize on an initialized runtime is a no-op.
func Initialize() error {
	mu.Lock()
	defer mu.Unlock()

	if initialized {
		return nil
	}
	if libPath == "" {
		return fmt.Errorf("shared library path not set: call SetSharedLibraryPath or InitializeWithBootstrap first")
	}

	handle, err := loadLibrary(libPath)
	if err != nil {
		return fmt.Errorf("failed to load TensorFlow Lite C library %q: %w", libPath, err)
	}
	if handle == 0 {
		return fmt.Errorf("failed to load TensorFlow Lite C library %q", libPath)
	}

	for _, binding := range symbolTable() {
		addr, symErr := getSymbol(handle, binding.name)
		if symErr != nil || addr == 0 {
			if binding.optional {
				continue
			}
			_ = closeLibrary(handle)
			resetSymbolsLocked()
			if symErr != nil {
				return fmt.Errorf("failed to resolve symbol %s in %q: %w", binding.name, libPath, symErr)
			}
			return fmt.Errorf("failed to resolve symbol %s in %q", binding.name, libPath)
		}
		binding.register(addr)
	}

	libHandle = handle
	initialized = true
	return nil
}

// Shutdown unloads the shared library. Any Model or Interpreter created from
// this runtime must be destroyed before calling Shutdown.
func Shutdown() error {
	mu.Lock()
	defer mu.Unlock()

	if !initialized {
		return nil
	}

	err := closeLibrary(libHandle)
	libHandle = 0
	initialized = false
	resetSymbolsLocked()
	if err != nil {
		return fmt.Errorf("failed to unload TensorFlow Lite C library: %w", err)
	}
	return nil
}

// IsInitialized returns true if the runtime has been initialized.
func IsInitialized() bool {
	mu.Lock()
	defer mu.Unlock()
	return initialized
}

// Version returns the TensorFlow Lite version string, or "" if the runtime
// is not initialized.
func Version() string {
	mu.Lock()
	fn := versionFunc
	ready := initialized
	mu.Unlock()

	if !ready || fn == nil {
		return ""
	}
	return CstringToGo(fn())
}

func resetSymbolsLocked() {
	versionFunc = nil
	modelCreateFromFileFunc = nil
	modelDeleteFunc = nil
	interpreterOptionsCreateFunc = nil
	interpreterOptionsDeleteFunc = nil
	interpreterOptionsSetNumThreadsFunc = nil
	interpreterCreateFunc = nil
	interpreterDeleteFunc = nil
	interpreterAllocateTensorsFunc = nil
	interpreterGetInputTensorCountFunc = nil
	interpreterGetOutputTensorCountFunc = nil
	interpreterGetInputTensorFunc = nil
	interpreterGetOutputTensorFunc = nil
	interpreterInvokeFunc = nil
	interpreterResetVariableTensorsFunc = nil
	tensorTypeFunc = nil
	tensorNumDimsFunc = nil
	tensorDimFunc = nil
	tensorByteSizeFunc = nil
	tensorNameFunc = nil
	tensorCopyFromBufferFunc = nil
	tensorCopyToBufferFunc = nil
}
