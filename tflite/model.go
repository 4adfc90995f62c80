package tflite

import (
	"fmt"
	"os"
	"runtime"
)

// Model represents a loaded TensorFlow Lite flatbuffer model.
// A Model may back multiple interpreters and must outlive all of them.
type Model struct {
	handle uintptr // Pointer to TfLiteModel
	path   string
}

// NewModelFromFile loads a .tflite model from disk.
func NewModelFromFile(path string) (*Model, error) {
	if path == "" {
		return nil, fmt.Errorf("model path cannot be empty")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model path %q is not usable: %w", path, err)
	}

	mu.Lock()
	createFromFile := modelCreateFromFileFunc
	ready := initialized
	mu.Unlock()

	if !ready || createFromFile == nil {
		return nil, fmt.Errorf("TensorFlow Lite runtime not initialized")
	}

	pathBytes, pathPtr := GoToCstring(path)
	handle := createFromFile(pathPtr)
	runtime.KeepAlive(pathBytes)
	if handle == 0 {
		return nil, fmt.Errorf("failed to load model from %q", path)
	}

	model := &Model{handle: handle, path: path}

	// Finalizer is a safety net to avoid leaking TfLiteModel if callers forget Destroy().
	runtime.SetFinalizer(model, func(m *Model) {
		_ = m.Destroy()
	})

	return model, nil
}

// Path returns the file path the model was loaded from.
func (m *Model) Path() string {
	if m == nil {
		return ""
	}
	return m.path
}

// Destroy releases the model resources. Safe to call multiple times.
func (m *Model) Destroy() error {
	if m == nil {
		return nil
	}

	mu.Lock()
	handle := m.handle
	modelDelete := modelDeleteFunc
	m.handle = 0
	runtime.SetFinalizer(m, nil)
	mu.Unlock()

	if handle != 0 && modelDelete != nil {
		modelDelete(handle)
	}
	return nil
}
