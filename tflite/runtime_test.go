package tflite

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetSharedLibraryPathRejectsEmpty(t *testing.T) {
	if err := SetSharedLibraryPath(""); err == nil {
		t.Fatal("expected error for empty library path")
	}
}

func TestSetSharedLibraryPathRejectedAfterInitialize(t *testing.T) {
	mu.Lock()
	savedInitialized, savedPath := initialized, libPath
	initialized = true
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		initialized, libPath = savedInitialized, savedPath
		mu.Unlock()
	})

	err := SetSharedLibraryPath("/some/other/libtensorflowlite_c.so")
	if err == nil {
		t.Fatal("expected error when changing path on an initialized runtime")
	}
	if !strings.Contains(err.Error(), "cannot change library path") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestInitializeWithoutPath(t *testing.T) {
	if IsInitialized() {
		t.Skip("runtime already initialized in this process")
	}

	mu.Lock()
	savedPath := libPath
	libPath = ""
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		libPath = savedPath
		mu.Unlock()
	})

	err := Initialize()
	if err == nil {
		t.Fatal("expected error when no library path is set")
	}
	if !strings.Contains(err.Error(), "shared library path not set") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestInitializeWithInvalidLibrary(t *testing.T) {
	if IsInitialized() {
		t.Skip("runtime already initialized in this process")
	}

	bogus := filepath.Join(t.TempDir(), "libtensorflowlite_c.so")
	if err := os.WriteFile(bogus, []byte("not a shared object"), 0o755); err != nil {
		t.Fatalf("failed to write bogus library: %v", err)
	}

	mu.Lock()
	savedPath := libPath
	libPath = bogus
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		libPath = savedPath
		mu.Unlock()
	})

	if err := Initialize(); err == nil {
		_ = Shutdown()
		t.Fatal("expected error for a file that is not a shared library")
	}
	if IsInitialized() {
		t.Error("runtime must stay uninitialized after a failed Initialize")
	}
}

func TestVersionUninitialized(t *testing.T) {
	if IsInitialized() {
		t.Skip("runtime already initialized in this process")
	}
	if got := Version(); got != "" {
		t.Errorf("expected empty version on uninitialized runtime, got %q", got)
	}
}

func TestShutdownUninitializedIsNoop(t *testing.T) {
	if IsInitialized() {
		t.Skip("runtime already initialized in this process")
	}
	if err := Shutdown(); err != nil {
		t.Fatalf("shutdown of uninitialized runtime failed: %v", err)
	}
}

func TestSymbolTableShape(t *testing.T) {
	bindings := symbolTable()
	seen := make(map[string]bool, len(bindings))
	for _, binding := range bindings {
		if binding.name == "" || binding.register == nil {
			t.Fatalf("incomplete symbol binding: %+v", binding)
		}
		if !strings.HasPrefix(binding.name, "TfLite") {
			t.Errorf("unexpected symbol name %q", binding.name)
		}
		if seen[binding.name] {
			t.Errorf("duplicate symbol binding %q", binding.name)
		}
		seen[binding.name] = true

		// The variable tensor reset entry point is absent from some
		// builds of the C library, so it must stay optional.
		if binding.name == "TfLiteInterpreterResetVariableTensors" && !binding.optional {
			t.Error("TfLiteInterpreterResetVariableTensors must be optional")
		}
		if binding.name != "TfLiteInterpreterResetVariableTensors" && binding.optional {
			t.Errorf("symbol %q must be required", binding.name)
		}
	}
	if !seen["TfLiteVersion"] || !seen["TfLiteInterpreterInvoke"] {
		t.Error("symbol table is missing core entry points")
	}
}

// TestRuntimeAgainstRealLibrary exercises the loaded C library end to end.
// It only runs when TFLITE_C_LIB_PATH points at a real shared library.
func TestRuntimeAgainstRealLibrary(t *testing.T) {
	path := os.Getenv("TFLITE_C_LIB_PATH")
	if path == "" {
		t.Skip("TFLITE_C_LIB_PATH not set")
	}

	if err := SetSharedLibraryPath(path); err != nil && !IsInitialized() {
		t.Fatalf("failed to set library path: %v", err)
	}
	if err := Initialize(); err != nil {
		t.Fatalf("failed to initialize runtime: %v", err)
	}

	if !IsInitialized() {
		t.Fatal("runtime must report initialized")
	}
	if version := Version(); version == "" {
		t.Error("expected non-empty runtime version")
	} else {
		t.Logf("TensorFlow Lite version: %s", version)
	}
}
